package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNonceStore shares consumed nonces between marketd replicas. Each key
// lives in redis until the proof it belongs to expires.
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
}

var _ NonceStore = (*RedisNonceStore)(nil)

func NewRedisNonceStore(client redis.UniversalClient, prefix string) *RedisNonceStore {
	if prefix == "" {
		prefix = "lotmarket:nonce:"
	}
	return &RedisNonceStore{client: client, prefix: prefix}
}

func (s *RedisNonceStore) Use(ctx context.Context, key string, expires time.Time) error {
	ttl := time.Until(expires)
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, s.prefix+key, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("nonce store: %w", err)
	}
	if !ok {
		return ErrReplayed
	}
	return nil
}
