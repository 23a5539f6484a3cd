package snapshot

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const defaultPrefix = "chunkecs:snapshot:"

// RedisStore keeps snapshots in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix namespaces every key written by the store.
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisStore) {
		r.prefix = prefix
	}
}

// WithTTL expires snapshots after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *RedisStore) {
		r.ttl = ttl
	}
}

// NewRedisStore creates a store backed by client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	r := &RedisStore{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

// Save writes data and its metadata in one transaction.
func (r *RedisStore) Save(ctx context.Context, key string, data []byte) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(key), data, r.ttl)
	pipe.HSet(ctx, r.key(key)+":meta", "size", len(data), "saved_at", time.Now().UnixMilli())
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key(key)+":meta", r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrap(err, "redis transaction failed")
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, eris.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "load %s", key)
	}
	return data, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return eris.Wrapf(r.client.Del(ctx, r.key(key), r.key(key)+":meta").Err(), "delete %s", key)
}

// Keys lists the keys of every stored snapshot, without the store prefix.
func (r *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := strings.TrimPrefix(iter.Val(), r.prefix)
		if strings.HasSuffix(k, ":meta") {
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "scan snapshot keys")
	}
	return keys, nil
}

// Stat returns the metadata recorded with a snapshot.
func (r *RedisStore) Stat(ctx context.Context, key string) (Info, error) {
	var meta struct {
		Size    int   `redis:"size"`
		SavedAt int64 `redis:"saved_at"`
	}
	res := r.client.HGetAll(ctx, r.key(key)+":meta")
	if err := res.Err(); err != nil {
		return Info{}, eris.Wrapf(err, "stat %s", key)
	}
	if len(res.Val()) == 0 {
		return Info{}, eris.Wrap(ErrNotFound, key)
	}
	if err := res.Scan(&meta); err != nil {
		return Info{}, eris.Wrapf(err, "decode metadata of %s", key)
	}
	return Info{Key: key, Size: meta.Size, SavedAt: time.UnixMilli(meta.SavedAt)}, nil
}
