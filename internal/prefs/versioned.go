package prefs

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Versioned wraps a value with the schema version and save time it was
// written under.
type Versioned[T any] struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`
	Value   T         `json:"value"`
}

// GetVersioned returns the value stored under key when its version equals
// version and it is younger than maxAge (zero disables the age check).
// Otherwise the record is deleted and ok is false.
func GetVersioned[T any](s *Store, key Key, version int, maxAge time.Duration) (value T, ok bool) {
	raw, present := s.GetRaw(key)
	if !present {
		return value, false
	}

	var rec Versioned[T]
	if err := json.Unmarshal(raw, &rec); err != nil {
		zap.L().Warn("prefs: discarding malformed versioned record",
			zap.String("key", key.Name),
			zap.Error(err),
		)
		s.evict(key)
		return value, false
	}
	if rec.Version != version {
		zap.L().Info("prefs: discarding record with stale version",
			zap.String("key", key.Name),
			zap.Int("stored", rec.Version),
			zap.Int("want", version),
		)
		s.evict(key)
		return value, false
	}
	if maxAge > 0 && s.nowFunc().Sub(rec.SavedAt) > maxAge {
		zap.L().Info("prefs: discarding expired record",
			zap.String("key", key.Name),
			zap.Time("saved_at", rec.SavedAt),
		)
		s.evict(key)
		return value, false
	}
	return rec.Value, true
}

// SetVersioned stores v under key stamped with version and the current time.
func SetVersioned[T any](s *Store, key Key, version int, v T) error {
	return Set(s, key, Versioned[T]{
		Version: version,
		SavedAt: s.nowFunc().UTC(),
		Value:   v,
	})
}

func (s *Store) evict(key Key) {
	if err := s.Delete(key); err != nil {
		zap.L().Warn("prefs: evict failed", zap.String("key", key.Name), zap.Error(err))
	}
}
