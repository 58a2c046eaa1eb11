package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisScanBatch = 256

// RedisStore is a Store on top of Redis. Batches run inside MULTI/EXEC.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. Use WithNamespace to scope keys.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// sortedUnique orders keys and drops duplicates; SCAN may return a key more
// than once while the keyspace is rehashing.
func sortedUnique(keys []string) []string {
	slices.Sort(keys)
	return slices.Compact(keys)
}

// Scan collects matching keys with SCAN, sorts them and loads values with MGET.
func (s *RedisStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", redisScanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %q: %w", prefix, err)
	}
	keys = sortedUnique(keys)

	for start := 0; start < len(keys); start += redisScanBatch {
		end := min(start+redisScanBatch, len(keys))
		values, err := s.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return fmt.Errorf("redis mget: %w", err)
		}
		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				continue // deleted between SCAN and MGET
			}
			if err := fn(keys[start+i], []byte(str)); err != nil {
				return stopped(err)
			}
		}
	}
	return nil
}

func (s *RedisStore) Apply(ctx context.Context, mutations []Mutation) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range mutations {
			switch m.Kind {
			case MutationSet:
				pipe.Set(ctx, m.Key, m.Value, 0)
			case MutationDelete:
				pipe.Del(ctx, m.Key)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis apply: %w", err)
	}
	return nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
