package buffer

import (
	"context"
	"slices"
	"sync"
)

// Store persists buffered transactions. Implementations must return
// transactions from List in append order and make each call atomic.
type Store interface {
	Append(ctx context.Context, tx Transaction) error
	List(ctx context.Context) ([]Transaction, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) (int, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// MemoryStore keeps transactions in process memory. Contents are lost on
// exit.
type MemoryStore struct {
	mu  sync.Mutex
	txs []Transaction
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds tx at the tail.
func (s *MemoryStore) Append(_ context.Context, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, tx)
	return nil
}

// List returns a copy of the queue.
func (s *MemoryStore) List(_ context.Context) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.txs), nil
}

// Remove deletes the transaction with the given ID.
func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.txs, func(tx Transaction) bool { return tx.ID == id })
	if i < 0 {
		return ErrNotFound
	}
	s.txs = slices.Delete(s.txs, i, i+1)
	return nil
}

// Clear removes everything.
func (s *MemoryStore) Clear(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.txs)
	s.txs = nil
	return n, nil
}

// Len returns the queue length.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
