package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/book-expert/suomi-tutor/internal/core"
)

const defaultRedisPrefix = "suomi"

// RedisKV implements core.KeyValueStore on plain Redis strings.
type RedisKV struct {
	rdb    *redis.Client
	prefix string
}

// RedisOption customizes a RedisKV.
type RedisOption func(*RedisKV)

// WithRedisPrefix namespaces every key as "<prefix>:<key>".
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisKV) { r.prefix = strings.Trim(prefix, ":") }
}

// NewRedisKV wraps an existing client. The client is owned by the caller.
func NewRedisKV(rdb *redis.Client, opts ...RedisOption) *RedisKV {
	r := &RedisKV{
		rdb:    rdb,
		prefix: defaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *RedisKV) fullKey(key string) string {
	if r.prefix == "" {
		return key
	}

	return r.prefix + ":" + key
}

// Get returns the value for key.
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.rdb.Get(ctx, r.fullKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("redis key '%s': %w", key, core.ErrNotFound)
		}

		return nil, fmt.Errorf("failed to get redis key '%s': %w", key, err)
	}

	return value, nil
}

// Put stores value under key without expiry.
func (r *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	err := r.rdb.Set(ctx, r.fullKey(key), value, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to set redis key '%s': %w", key, err)
	}

	return nil
}

// Delete removes key.
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	err := r.rdb.Del(ctx, r.fullKey(key)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete redis key '%s': %w", key, err)
	}

	return nil
}

// Keys scans for keys starting with prefix and returns them without the namespace.
func (r *RedisKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	namespace := r.fullKey("")
	iter := r.rdb.Scan(ctx, 0, r.fullKey(prefix)+"*", 0).Iterator()

	keys := []string{}
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), namespace))
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan redis keys with prefix '%s': %w", prefix, err)
	}

	return keys, nil
}
