// Package buffer provides the durable FIFO of rendered update transactions
// that could not be delivered to the triple store.
//
// Transactions are appended when a dispatch fails and replayed in append
// order by Drain. A transaction leaves the buffer only after its replay
// succeeds or when an operator explicitly discards the buffer.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
)

var (
	// ErrNotFound is returned when a transaction is not in the store.
	ErrNotFound = errors.New("transaction not found")
	// ErrDrainInProgress is returned when another drain holds the buffer.
	ErrDrainInProgress = errors.New("drain already in progress")
)

// Transaction is one buffered update expression.
type Transaction struct {
	ID         string    `json:"id"`
	Payload    string    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DispatchFunc re-sends one transaction. A nil error removes it from the
// buffer.
type DispatchFunc func(ctx context.Context, tx Transaction) error

// DrainResult summarizes one drain.
type DrainResult struct {
	Replayed  int
	Remaining int
}

// Buffer is the FIFO retry queue. It is safe for concurrent use.
type Buffer struct {
	store   Store
	logger  *slog.Logger
	limiter *rate.Limiter
	now     func() time.Time

	drainMu sync.Mutex
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Buffer) {
		b.logger = logger
	}
}

// WithReplayRate throttles drains to perSecond replays per second. Zero or
// negative disables throttling.
func WithReplayRate(perSecond float64) Option {
	return func(b *Buffer) {
		if perSecond > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			b.limiter = nil
		}
	}
}

// WithClock overrides the enqueue timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		b.now = now
	}
}

// New creates a buffer over store.
func New(store Store, opts ...Option) *Buffer {
	b := &Buffer{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append adds a payload at the tail.
func (b *Buffer) Append(ctx context.Context, payload string) (Transaction, error) {
	tx := Transaction{
		ID:         ulid.Make().String(),
		Payload:    payload,
		EnqueuedAt: b.now().UTC(),
	}
	if err := b.store.Append(ctx, tx); err != nil {
		return Transaction{}, fmt.Errorf("append transaction: %w", err)
	}
	b.logger.Debug("Transaction buffered", "id", tx.ID, "bytes", len(payload))
	return tx, nil
}

// Drain replays buffered transactions in order until the buffer is empty or
// a dispatch fails. A failed transaction stays at the head, followed by the
// rest in their original order. Transactions appended while the drain runs
// are replayed by the same drain. Only one drain runs at a time; a
// concurrent call returns ErrDrainInProgress.
func (b *Buffer) Drain(ctx context.Context, dispatch DispatchFunc) (DrainResult, error) {
	if !b.drainMu.TryLock() {
		return DrainResult{}, ErrDrainInProgress
	}
	defer b.drainMu.Unlock()

	var result DrainResult
	for {
		pending, err := b.store.List(ctx)
		if err != nil {
			return result, fmt.Errorf("list transactions: %w", err)
		}
		if len(pending) == 0 {
			return result, nil
		}

		for i, tx := range pending {
			if b.limiter != nil {
				if err := b.limiter.Wait(ctx); err != nil {
					result.Remaining = len(pending) - i
					return result, err
				}
			}
			if err := dispatch(ctx, tx); err != nil {
				result.Remaining = b.remaining(ctx, len(pending)-i)
				return result, fmt.Errorf("replay transaction %s: %w", tx.ID, err)
			}
			if err := b.store.Remove(ctx, tx.ID); err != nil {
				result.Remaining = b.remaining(ctx, len(pending)-i)
				return result, fmt.Errorf("remove transaction %s: %w", tx.ID, err)
			}
			result.Replayed++
		}
	}
}

// remaining reports the store length, falling back to the snapshot count.
func (b *Buffer) remaining(ctx context.Context, fallback int) int {
	n, err := b.store.Len(ctx)
	if err != nil {
		return fallback
	}
	return n
}

// Pending returns the buffered transactions in replay order.
func (b *Buffer) Pending(ctx context.Context) ([]Transaction, error) {
	return b.store.List(ctx)
}

// Len returns the number of buffered transactions.
func (b *Buffer) Len(ctx context.Context) (int, error) {
	return b.store.Len(ctx)
}

// Discard drops every buffered transaction. It waits for a running drain.
func (b *Buffer) Discard(ctx context.Context) (int, error) {
	b.drainMu.Lock()
	defer b.drainMu.Unlock()

	n, err := b.store.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("discard transactions: %w", err)
	}
	b.logger.Warn("Buffered transactions discarded", "count", n)
	return n, nil
}

// Close closes the underlying store.
func (b *Buffer) Close() error {
	return b.store.Close()
}
