package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalogsync/internal/catalog"
	"github.com/sells-group/catalogsync/internal/prefs"
	"github.com/sells-group/catalogsync/internal/reqcache"
	"github.com/sells-group/catalogsync/internal/session"
)

// durableBackend is a preference backend that owns a connection.
type durableBackend interface {
	prefs.Backend
	Migrate(ctx context.Context) error
	Close() error
}

// memoryDurable adapts the in-memory backend for the "memory" driver.
type memoryDurable struct{ *prefs.MemoryBackend }

func (memoryDurable) Migrate(context.Context) error { return nil }
func (memoryDurable) Close() error                  { return nil }

// initDurable opens and migrates the durable preference tier named by the
// config. Callers should Close it.
func initDurable(ctx context.Context) (durableBackend, error) {
	var (
		b   durableBackend
		err error
	)
	switch cfg.Prefs.Driver {
	case "postgres":
		b, err = prefs.NewPostgres(ctx, cfg.Prefs.DatabaseURL)
	case "memory":
		b = memoryDurable{prefs.NewMemory()}
	default:
		b, err = prefs.NewSQLite(cfg.Prefs.Path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "open %s preferences", cfg.Prefs.Driver)
	}
	if err := b.Migrate(ctx); err != nil {
		_ = b.Close()
		return nil, eris.Wrap(err, "migrate preferences")
	}
	return b, nil
}

// engineEnv holds everything the serve command runs on.
type engineEnv struct {
	Durable durableBackend
	Bus     *prefs.Bus
	Cache   *reqcache.Cache
	Manager *session.Manager
}

// Close closes every session, then the bus and the durable tier.
func (e *engineEnv) Close() {
	if e.Manager != nil {
		e.Manager.CloseAll()
	}
	if e.Bus != nil {
		e.Bus.Close()
	}
	if e.Durable != nil {
		if err := e.Durable.Close(); err != nil {
			zap.L().Warn("close preferences", zap.Error(err))
		}
	}
}

// initEngine validates the config and builds the catalog client, request
// cache and session manager. Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	if err := cfg.Validate("serve"); err != nil {
		return nil, err
	}

	client, err := catalog.NewClient(catalog.Options{
		BaseURL:    cfg.Catalog.BaseURL,
		Token:      cfg.Catalog.Token,
		UserAgent:  "catalogsync/" + version,
		Timeout:    time.Duration(cfg.Catalog.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Catalog.MaxRetries,
		RatePerSec: cfg.Catalog.RatePerSec,
		Burst:      cfg.Catalog.Burst,

		BreakerThreshold: cfg.Catalog.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Catalog.BreakerCooldownSecs) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	durable, err := initDurable(ctx)
	if err != nil {
		return nil, err
	}

	cache := reqcache.New(client, reqcache.Options{
		PaginatedTTL:   time.Duration(cfg.Cache.PaginatedTTLSecs) * time.Second,
		ReferenceTTL:   time.Duration(cfg.Cache.ReferenceTTLSecs) * time.Second,
		RequestTimeout: time.Duration(cfg.Cache.RequestTimeoutSecs) * time.Second,
	})

	bus := prefs.NewBus()
	template := session.OptionsFromConfig(cfg)
	template.Cache = cache

	mgr := session.NewManager(session.ManagerOptions{
		Template:  template,
		Durable:   durable,
		Bus:       bus,
		Namespace: cfg.Prefs.Namespace,
	})

	zap.L().Info("engine ready",
		zap.String("prefs_driver", cfg.Prefs.Driver),
		zap.String("catalog", cfg.Catalog.BaseURL),
		zap.Bool("prefetch", cfg.Prefetch.Enabled),
	)
	return &engineEnv{Durable: durable, Bus: bus, Cache: cache, Manager: mgr}, nil
}
