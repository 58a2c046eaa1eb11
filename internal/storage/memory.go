package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/tidwall/btree"
)

// MemoryStore is an ordered in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data *btree.Map[string, []byte]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: btree.NewMap[string, []byte](32)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(v), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Set(key, cloneBytes(value))
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Delete(key)
	return nil
}

// Scan snapshots the matching range before invoking fn, so fn may call back
// into the store.
func (s *MemoryStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	type entry struct {
		key   string
		value []byte
	}
	var entries []entry

	s.mu.RLock()
	s.data.Ascend(prefix, func(k string, v []byte) bool {
		if !strings.HasPrefix(k, prefix) {
			return false
		}
		entries = append(entries, entry{key: k, value: cloneBytes(v)})
		return true
	})
	s.mu.RUnlock()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e.key, e.value); err != nil {
			return stopped(err)
		}
	}
	return nil
}

func (s *MemoryStore) Apply(_ context.Context, mutations []Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range mutations {
		switch m.Kind {
		case MutationSet:
			s.data.Set(m.Key, cloneBytes(m.Value))
		case MutationDelete:
			s.data.Delete(m.Key)
		}
	}
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Len()
}
