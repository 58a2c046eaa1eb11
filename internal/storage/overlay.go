package storage

import (
	"context"
	"strings"

	"github.com/tidwall/btree"
)

type staged struct {
	value   []byte
	deleted bool
}

// Overlay buffers writes and deletes on top of a base Store. Reads observe the
// buffer first. Nothing reaches the base until Commit; Discard drops the buffer.
type Overlay struct {
	base    Store
	pending *btree.Map[string, staged]
}

var _ Store = (*Overlay)(nil)

// NewOverlay stages mutations against base.
func NewOverlay(base Store) *Overlay {
	return &Overlay{base: base, pending: btree.NewMap[string, staged](16)}
}

func (o *Overlay) Get(ctx context.Context, key string) ([]byte, error) {
	if p, ok := o.pending.Get(key); ok {
		if p.deleted {
			return nil, ErrNotFound
		}
		return cloneBytes(p.value), nil
	}
	return o.base.Get(ctx, key)
}

func (o *Overlay) Set(_ context.Context, key string, value []byte) error {
	o.pending.Set(key, staged{value: cloneBytes(value)})
	return nil
}

func (o *Overlay) Delete(_ context.Context, key string) error {
	o.pending.Set(key, staged{deleted: true})
	return nil
}

// Scan merges the base range with the buffered mutations under prefix.
func (o *Overlay) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	merged := btree.NewMap[string, []byte](16)
	err := o.base.Scan(ctx, prefix, func(key string, value []byte) error {
		merged.Set(key, value)
		return nil
	})
	if err != nil {
		return err
	}
	o.pending.Ascend(prefix, func(k string, p staged) bool {
		if !strings.HasPrefix(k, prefix) {
			return false
		}
		if p.deleted {
			merged.Delete(k)
		} else {
			merged.Set(k, p.value)
		}
		return true
	})

	var cbErr error
	merged.Scan(func(k string, v []byte) bool {
		cbErr = fn(k, cloneBytes(v))
		return cbErr == nil
	})
	return stopped(cbErr)
}

func (o *Overlay) Apply(_ context.Context, mutations []Mutation) error {
	for _, m := range mutations {
		switch m.Kind {
		case MutationSet:
			o.pending.Set(m.Key, staged{value: cloneBytes(m.Value)})
		case MutationDelete:
			o.pending.Set(m.Key, staged{deleted: true})
		}
	}
	return nil
}

// Mutations returns the buffered changes in key order.
func (o *Overlay) Mutations() []Mutation {
	out := make([]Mutation, 0, o.pending.Len())
	o.pending.Scan(func(k string, p staged) bool {
		if p.deleted {
			out = append(out, Mutation{Kind: MutationDelete, Key: k})
		} else {
			out = append(out, Mutation{Kind: MutationSet, Key: k, Value: cloneBytes(p.value)})
		}
		return true
	})
	return out
}

// Dirty reports whether any mutation is buffered.
func (o *Overlay) Dirty() bool {
	return o.pending.Len() > 0
}

// Commit applies the buffer to the base atomically and clears it. On failure
// the buffer is left intact and the base is unchanged.
func (o *Overlay) Commit(ctx context.Context) error {
	if !o.Dirty() {
		return nil
	}
	if err := o.base.Apply(ctx, o.Mutations()); err != nil {
		return err
	}
	o.Discard()
	return nil
}

// Discard drops every buffered mutation.
func (o *Overlay) Discard() {
	o.pending = btree.NewMap[string, staged](16)
}
