package prefs

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalogsync/internal/sched"
)

// FileWatcher reports writes to a database file made by other processes.
// Events for the file and its -wal/-shm siblings are coalesced over a
// debounce window before the handler runs.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	base     string
	debounce time.Duration
	slot     *sched.Slot
	onChange func(ctx context.Context)
}

// WatchFile creates a watcher on path's directory, debouncing on s (the
// wall clock when nil). Run starts it.
func WatchFile(path string, debounce time.Duration, s sched.Scheduler, onChange func(ctx context.Context)) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, eris.Wrapf(err, "prefs: resolve %s", path)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "prefs: create watcher")
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "prefs: watch %s", filepath.Dir(abs))
	}
	fw := newFileWatcher(filepath.Base(abs), debounce, s, onChange)
	fw.watcher = w
	return fw, nil
}

func newFileWatcher(base string, debounce time.Duration, s sched.Scheduler, onChange func(ctx context.Context)) *FileWatcher {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	if s == nil {
		s = sched.NewReal()
	}
	return &FileWatcher{
		base:     base,
		debounce: debounce,
		slot:     sched.NewSlot(s),
		onChange: onChange,
	}
}

func (w *FileWatcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	return strings.HasPrefix(filepath.Base(ev.Name), w.base)
}

// Run processes events until ctx is done, then closes the watcher.
func (w *FileWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close() //nolint:errcheck
	return w.loop(ctx, w.watcher.Events, w.watcher.Errors)
}

// loop debounces relevant events and runs the handler on its own goroutine.
func (w *FileWatcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	defer w.slot.Cancel()

	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.slot.Set(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			zap.L().Warn("prefs: watcher error", zap.Error(err))
		case <-fire:
			w.onChange(ctx)
		}
	}
}
