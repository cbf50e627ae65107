package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldValue      = "value"
	fieldComputedAt = "computedAt"
)

// RedisStore delegates storage to a Redis instance. Each key maps to a hash
// holding the value and its computation time. A retention TTL bounds how
// long Redis keeps an entry; it must be at least the cache layer's maxAge,
// otherwise stale-but-servable values would vanish early.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redis.Client, prefix string, retention time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		retention: retention,
	}
}

// Read returns the stored value for a key
func (s *RedisStore) Read(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	fields, err := s.client.HMGet(ctx, s.prefix+key, fieldValue, fieldComputedAt).Result()
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("redis read %q: %w", key, err)
	}
	if fields[0] == nil || fields[1] == nil {
		return nil, time.Time{}, false, nil
	}

	value, ok := fields[0].(string)
	if !ok {
		return nil, time.Time{}, false, fmt.Errorf("redis read %q: unexpected value type %T", key, fields[0])
	}
	tsStr, ok := fields[1].(string)
	if !ok {
		return nil, time.Time{}, false, fmt.Errorf("redis read %q: unexpected timestamp type %T", key, fields[1])
	}
	nanos, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("redis read %q: bad timestamp: %w", key, err)
	}

	return []byte(value), time.Unix(0, nanos), true, nil
}

// Write stores a value for a key and refreshes the retention TTL
func (s *RedisStore) Write(ctx context.Context, key string, value []byte, computedAt time.Time) error {
	k := s.prefix + key
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k, fieldValue, value, fieldComputedAt, computedAt.UnixNano())
	if s.retention > 0 {
		pipe.Expire(ctx, k, s.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis write %q: %w", key, err)
	}
	return nil
}
