package storage

import (
	"context"
	"strings"
)

type namespaced struct {
	base   Store
	prefix string
}

// WithNamespace scopes every key of base under ns, so several marketplace
// instances can share one backend.
func WithNamespace(base Store, ns string) Store {
	if ns == "" {
		return base
	}
	return &namespaced{base: base, prefix: ns + "/"}
}

func (n *namespaced) Get(ctx context.Context, key string) ([]byte, error) {
	return n.base.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key string, value []byte) error {
	return n.base.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	return n.base.Delete(ctx, n.prefix+key)
}

func (n *namespaced) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	return n.base.Scan(ctx, n.prefix+prefix, func(key string, value []byte) error {
		return fn(strings.TrimPrefix(key, n.prefix), value)
	})
}

func (n *namespaced) Apply(ctx context.Context, mutations []Mutation) error {
	scoped := make([]Mutation, len(mutations))
	for i, m := range mutations {
		m.Key = n.prefix + m.Key
		scoped[i] = m
	}
	return n.base.Apply(ctx, scoped)
}
