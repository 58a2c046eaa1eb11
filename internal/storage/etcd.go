package storage

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStore is a Store on top of etcd v3. Batches run as a single Txn.
type EtcdStore struct {
	kv clientv3.KV
}

var _ Store = (*EtcdStore)(nil)

// NewEtcdStore wraps the KV API of an etcd client.
func NewEtcdStore(kv clientv3.KV) *EtcdStore {
	return &EtcdStore{kv: kv}
}

func (s *EtcdStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("etcd get %q: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (s *EtcdStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.kv.Put(ctx, key, string(value))
	return err
}

func (s *EtcdStore) Delete(ctx context.Context, key string) error {
	_, err := s.kv.Delete(ctx, key)
	return err
}

func (s *EtcdStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	resp, err := s.kv.Get(ctx, prefix,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return fmt.Errorf("etcd scan %q: %w", prefix, err)
	}
	for _, kv := range resp.Kvs {
		if err := fn(string(kv.Key), kv.Value); err != nil {
			return stopped(err)
		}
	}
	return nil
}

func (s *EtcdStore) Apply(ctx context.Context, mutations []Mutation) error {
	ops := make([]clientv3.Op, 0, len(mutations))
	for _, m := range mutations {
		switch m.Kind {
		case MutationSet:
			ops = append(ops, clientv3.OpPut(m.Key, string(m.Value)))
		case MutationDelete:
			ops = append(ops, clientv3.OpDelete(m.Key))
		}
	}
	if _, err := s.kv.Txn(ctx).Then(ops...).Commit(); err != nil {
		return fmt.Errorf("etcd apply: %w", err)
	}
	return nil
}
