package buffer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories runs buffer tests against every store implementation.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "buffer.db"))
			require.NoError(t, err)
			return s
		},
		"kv": func() Store { return &KVStore{kv: newFakeKV()} },
	}
}

func appendAll(t *testing.T, b *Buffer, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		_, err := b.Append(context.Background(), p)
		require.NoError(t, err)
	}
}

func TestDrain_FIFO(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			b := New(factory())
			defer b.Close()
			ctx := context.Background()

			want := []string{"A1", "A2", "A3", "A4", "A5"}
			appendAll(t, b, want...)

			var got []string
			res, err := b.Drain(ctx, func(_ context.Context, tx Transaction) error {
				got = append(got, tx.Payload)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Equal(t, DrainResult{Replayed: 5, Remaining: 0}, res)

			n, err := b.Len(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestDrain_PartialResumption(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			b := New(factory())
			defer b.Close()
			ctx := context.Background()
			appendAll(t, b, "A1", "A2", "A3", "A4")

			boom := errors.New("connection refused")
			var first []string
			res, err := b.Drain(ctx, func(_ context.Context, tx Transaction) error {
				first = append(first, tx.Payload)
				if tx.Payload == "A3" {
					return boom
				}
				return nil
			})
			require.ErrorIs(t, err, boom)
			assert.Equal(t, []string{"A1", "A2", "A3"}, first)
			assert.Equal(t, 2, res.Replayed)
			assert.Equal(t, 2, res.Remaining)

			pending, err := b.Pending(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 2)
			assert.Equal(t, "A3", pending[0].Payload)
			assert.Equal(t, "A4", pending[1].Payload)

			var second []string
			_, err = b.Drain(ctx, func(_ context.Context, tx Transaction) error {
				second = append(second, tx.Payload)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"A3", "A4"}, second)
		})
	}
}

func TestDrain_PicksUpAppendsDuringDrain(t *testing.T) {
	b := New(NewMemoryStore())
	ctx := context.Background()
	appendAll(t, b, "A1")

	var got []string
	_, err := b.Drain(ctx, func(_ context.Context, tx Transaction) error {
		got = append(got, tx.Payload)
		if tx.Payload == "A1" {
			_, err := b.Append(ctx, "A2")
			return err
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, got)
}

func TestDrain_SingleFlight(t *testing.T) {
	b := New(NewMemoryStore())
	ctx := context.Background()
	appendAll(t, b, "A1")

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := b.Drain(ctx, func(context.Context, Transaction) error {
			close(entered)
			<-release
			return nil
		})
		done <- err
	}()

	<-entered
	_, err := b.Drain(ctx, func(context.Context, Transaction) error { return nil })
	assert.ErrorIs(t, err, ErrDrainInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestDrain_ReplayRate(t *testing.T) {
	b := New(NewMemoryStore(), WithReplayRate(1000))
	appendAll(t, b, "A1", "A2", "A3")

	n := 0
	res, err := b.Drain(context.Background(), func(context.Context, Transaction) error {
		n++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, res.Replayed)
}

func TestDrain_CancelledWhileThrottled(t *testing.T) {
	b := New(NewMemoryStore(), WithReplayRate(0.001))
	appendAll(t, b, "A1", "A2")

	ctx, cancel := context.WithCancel(context.Background())
	_, err := b.Drain(ctx, func(context.Context, Transaction) error {
		cancel()
		return nil
	})
	require.Error(t, err)

	n, err := b.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAppend_Transaction(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	b := New(NewMemoryStore(), WithClock(func() time.Time { return at }))

	tx1, err := b.Append(context.Background(), "INSERT DATA {}")
	require.NoError(t, err)
	tx2, err := b.Append(context.Background(), "INSERT DATA {}")
	require.NoError(t, err)

	assert.Equal(t, at, tx1.EnqueuedAt)
	assert.Len(t, tx1.ID, 26)
	assert.Less(t, tx1.ID, tx2.ID)
}

func TestDiscard(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			b := New(factory())
			defer b.Close()
			ctx := context.Background()
			appendAll(t, b, "A1", "A2")

			n, err := b.Discard(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			left, err := b.Len(ctx)
			require.NoError(t, err)
			assert.Zero(t, left)
		})
	}
}

func TestStore_RemoveMissing(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			assert.ErrorIs(t, s.Remove(context.Background(), "nope"), ErrNotFound)
		})
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "buffer.db")
	ctx := context.Background()

	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	b := New(s)
	appendAll(t, b, "A1", "A2")
	require.NoError(t, b.Close())

	s, err = OpenSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	txs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "A1", txs[0].Payload)
	assert.Equal(t, "A2", txs[1].Payload)
}

// fakeKV is an in-memory stand-in for a JetStream KV bucket.
type fakeKV struct {
	mu   sync.Mutex
	data map[string][]byte
	rev  uint64
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

func (f *fakeKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rev++
	f.data[key] = append([]byte(nil), value...)
	return f.rev, nil
}

func (f *fakeKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return fakeEntry{key: key, value: v}, nil
}

func (f *fakeKV) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeKV) Keys(_ context.Context, _ ...jetstream.WatchOpt) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.data) == 0 {
		return nil, jetstream.ErrNoKeysFound
	}
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	// Bucket order is not key order
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys, nil
}

type fakeEntry struct {
	jetstream.KeyValueEntry
	key   string
	value []byte
}

func (e fakeEntry) Key() string   { return e.key }
func (e fakeEntry) Value() []byte { return e.value }

func TestKVStore_JSONShape(t *testing.T) {
	kv := newFakeKV()
	s := &KVStore{kv: kv}
	tx := Transaction{ID: "01HZX", Payload: "p", EnqueuedAt: time.Unix(0, 0).UTC()}
	require.NoError(t, s.Append(context.Background(), tx))
	assert.JSONEq(t, fmt.Sprintf(`{"id":"01HZX","payload":"p","enqueued_at":%q}`, "1970-01-01T00:00:00Z"),
		string(kv.data["01HZX"]))
}
