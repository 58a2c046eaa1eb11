package auth

import (
	"context"
	"sync"
	"time"
)

// NonceStore records consumed proof nonces. Use fails with ErrReplayed when
// key was already consumed and has not yet expired.
type NonceStore interface {
	Use(ctx context.Context, key string, expires time.Time) error
}

// NonceCache is the in-process NonceStore. It remembers used nonces until
// they expire.
type NonceCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewNonceCache() *NonceCache {
	return &NonceCache{seen: make(map[string]time.Time), now: time.Now}
}

// Use marks key as used until expires. A key still within its lifetime fails
// with ErrReplayed.
func (c *NonceCache) Use(_ context.Context, key string, expires time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, exp := range c.seen {
		if now.After(exp) {
			delete(c.seen, k)
		}
	}
	if _, ok := c.seen[key]; ok {
		return ErrReplayed
	}
	c.seen[key] = expires
	return nil
}

// Len returns the number of remembered nonces.
func (c *NonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
