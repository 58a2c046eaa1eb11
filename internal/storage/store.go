// Package storage provides the key-value collaborator the marketplace core
// persists its configuration, counter and listings through.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key has no value.
	ErrNotFound = errors.New("storage: key not found")

	// ErrStopScan may be returned by a Scan callback to end iteration early
	// without failing the scan.
	ErrStopScan = errors.New("storage: stop scan")
)

// MutationKind distinguishes writes from deletes in a batch.
type MutationKind int

const (
	MutationSet MutationKind = iota
	MutationDelete
)

// Mutation is one staged change to a key.
type Mutation struct {
	Kind  MutationKind
	Key   string
	Value []byte
}

// Store is a per-instance key-value store with per-key read-after-write
// consistency and an atomic batch primitive.
type Store interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan calls fn for every key with the given prefix in ascending key order.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	// Apply performs every mutation or none of them.
	Apply(ctx context.Context, mutations []Mutation) error
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func stopped(err error) error {
	if errors.Is(err, ErrStopScan) {
		return nil
	}
	return err
}
