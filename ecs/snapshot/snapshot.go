// Package snapshot persists serialized storages in an external key/value
// store.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/plus3/chunkecs/ecs"
)

// ErrNotFound is returned when no snapshot exists under a key.
var ErrNotFound = eris.New("snapshot: not found")

// Store keeps opaque snapshot blobs under string keys.
type Store interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Info describes a saved storage.
type Info struct {
	Key     string
	Name    string
	Size    int
	SavedAt time.Time
}

// Key returns the key a storage snapshot is saved under.
func Key(s *ecs.Storage) string {
	return fmt.Sprintf("%s:%s", s.Name(), s.ID())
}

func latestKey(name string) string {
	return name + ":latest"
}

// SaveStorage serializes s into store under Key(s) and records it as the
// latest snapshot of its name.
func SaveStorage(ctx context.Context, store Store, s *ecs.Storage) (Info, error) {
	data, err := ecs.Serialize(s)
	if err != nil {
		return Info{}, eris.Wrap(err, "serialize storage")
	}
	key := Key(s)
	if err := store.Save(ctx, key, data); err != nil {
		return Info{}, eris.Wrapf(err, "save snapshot %s", key)
	}
	if err := store.Save(ctx, latestKey(s.Name()), []byte(key)); err != nil {
		return Info{}, eris.Wrapf(err, "save latest pointer for %s", s.Name())
	}
	s.Logger().Info().Str("key", key).Int("bytes", len(data)).Msg("snapshot saved")
	return Info{Key: key, Name: s.Name(), Size: len(data), SavedAt: time.Now()}, nil
}

// LoadStorage deserializes the snapshot saved under key into the empty
// storage s.
func LoadStorage(ctx context.Context, store Store, key string, s *ecs.Storage) error {
	data, err := store.Load(ctx, key)
	if err != nil {
		return err
	}
	if err := ecs.Deserialize(s, data); err != nil {
		return eris.Wrapf(err, "load snapshot %s", key)
	}
	s.Logger().Info().Str("key", key).Int("bytes", len(data)).Msg("snapshot loaded")
	return nil
}

// LoadLatest loads the most recent snapshot saved for name into s and
// returns its key.
func LoadLatest(ctx context.Context, store Store, name string, s *ecs.Storage) (string, error) {
	ref, err := store.Load(ctx, latestKey(name))
	if err != nil {
		return "", err
	}
	key := string(ref)
	return key, LoadStorage(ctx, store, key, s)
}
