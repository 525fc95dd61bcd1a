package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the JetStream KV bucket used when none is configured.
const DefaultBucket = "ONTOSYNC_BUFFER"

// keyValue is the subset of jetstream.KeyValue used by KVStore.
type keyValue interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// KVStore keeps transactions in a JetStream KV bucket, one key per
// transaction. Keys are ULIDs, so lexical key order is append order.
type KVStore struct {
	kv keyValue
	mu sync.Mutex
}

var _ Store = (*KVStore)(nil)

// NewKVStore opens the bucket, creating it if it does not exist.
func NewKVStore(ctx context.Context, js jetstream.JetStream, bucket string) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := getOrCreateBucket(ctx, js, bucket)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucket, err)
	}
	return &KVStore{kv: kv}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "ontosync undelivered update transactions",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
}

// Append stores tx under its ID.
func (s *KVStore) Append(ctx context.Context, tx Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	if _, err := s.kv.Put(ctx, tx.ID, data); err != nil {
		return fmt.Errorf("store transaction: %w", err)
	}
	return nil
}

// List returns all transactions ordered by key.
func (s *KVStore) List(ctx context.Context) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(ctx)
}

func (s *KVStore) list(ctx context.Context) ([]Transaction, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}

	txs := make([]Transaction, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get transaction %s: %w", key, err)
		}
		var tx Transaction
		if err := json.Unmarshal(entry.Value(), &tx); err != nil {
			return nil, fmt.Errorf("unmarshal transaction %s: %w", key, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (s *KVStore) keys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list transaction keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove deletes one transaction.
func (s *KVStore) Remove(ctx context.Context, id string) error {
	if _, err := s.kv.Get(ctx, id); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get transaction %s: %w", id, err)
	}
	if err := s.kv.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	return nil
}

// Clear deletes every transaction.
func (s *KVStore) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	for i, key := range keys {
		if err := s.kv.Delete(ctx, key); err != nil {
			return i, fmt.Errorf("delete transaction %s: %w", key, err)
		}
	}
	return len(keys), nil
}

// Len counts buffered transactions.
func (s *KVStore) Len(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close is a no-op; the NATS connection is owned by the caller.
func (s *KVStore) Close() error { return nil }
