package griddata

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
)

// fakeTxBackend is a minimal Backend used to drive Sequence.reserve directly,
// without pulling in the memory backend package (which would import this
// package back, creating a cycle from an in-package test).
type fakeTxBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeTxBackend() *fakeTxBackend {
	return &fakeTxBackend{data: make(map[string][]byte)}
}

func (b *fakeTxBackend) Mode() CacheMode { return CacheMode{Transactional: true, NearEnabled: true} }

func (b *fakeTxBackend) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[ns+":"+key]
	return v, ok, nil
}

func (b *fakeTxBackend) PutIfAbsent(ctx context.Context, ns, key string, val []byte) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := ns + ":" + key
	if v, ok := b.data[k]; ok {
		return v, false, nil
	}
	b.data[k] = val
	return val, true, nil
}

func (b *fakeTxBackend) Put(ctx context.Context, ns, key string, val []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[ns+":"+key] = val
	return nil
}

func (b *fakeTxBackend) Remove(ctx context.Context, ns, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := ns + ":" + key
	_, ok := b.data[k]
	delete(b.data, k)
	return ok, nil
}

func (b *fakeTxBackend) Transform(ctx context.Context, ns, key string, fn func([]byte, bool) ([]byte, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := ns + ":" + key
	cur, ok := b.data[k]
	next, err := fn(cur, ok)
	if err != nil {
		return err
	}
	b.data[k] = next
	return nil
}

func (b *fakeTxBackend) Subscribe(fn CommitHandler) func() { return func() {} }

func (b *fakeTxBackend) CreateContinuousQuery() ContinuousQuery { return nil }

func (b *fakeTxBackend) Close() error { return nil }

func (b *fakeTxBackend) StartTx(ctx context.Context, concurrency TxConcurrency, isolation TxIsolation) (Tx, error) {
	return &fakeTx{b: b, writes: make(map[string][]byte)}, nil
}

type fakeTx struct {
	b            *fakeTxBackend
	writes       map[string][]byte
	rollbackOnly bool
}

func (t *fakeTx) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	return t.b.Get(ctx, ns, key)
}

func (t *fakeTx) Put(ctx context.Context, ns, key string, val []byte) error {
	t.writes[ns+":"+key] = val
	return nil
}

func (t *fakeTx) Remove(ctx context.Context, ns, key string) (bool, error) { return true, nil }

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.rollbackOnly {
		return nil
	}
	for k, v := range t.writes {
		t.b.mu.Lock()
		t.b.data[k] = v
		t.b.mu.Unlock()
	}
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error { return nil }

func (t *fakeTx) SetRollbackOnly() { t.rollbackOnly = true }

func TestSequence_Next_ReservesWindowsWithoutDuplicates(t *testing.T) {
	ctx := context.Background()
	b := newFakeTxBackend()
	m := NewMarshaler()
	view := NewKindedView[InternalKey, SequenceValue](b, nsInternal, m, kindSequence)
	if _, _, err := view.PutIfAbsent(ctx, InternalKey{Name: "s"}, SequenceValue{Next: 0}); err != nil {
		t.Fatalf("PutIfAbsent() failed: %v", err)
	}

	seq := newSequence("s", b, view, 10, 0)
	seen := make(map[int64]bool)
	for i := 0; i < 35; i++ {
		v, err := seq.Next(ctx)
		if err != nil {
			t.Fatalf("Next() failed at i=%d: %v", i, err)
		}
		if seen[v] {
			t.Fatalf("duplicate value %d at i=%d", v, i)
		}
		seen[v] = true
	}
}

func TestSequence_Reserve_OverflowIsRejected_AtExactBoundary(t *testing.T) {
	ctx := context.Background()
	b := newFakeTxBackend()
	m := NewMarshaler()
	view := NewKindedView[InternalKey, SequenceValue](b, nsInternal, m, kindSequence)
	seqRaw, _ := json.Marshal(SequenceValue{Next: math.MaxInt64 - 10 + 1})
	raw, _ := json.Marshal(namedValue{Kind: kindSequence, Data: seqRaw})
	b.data[nsInternal+":s"] = raw

	seq := newSequence("s", b, view, 10, 0)
	_, err := seq.Next(ctx)
	if err == nil {
		t.Fatalf("expected an overflow error, got nil")
	}
	if !errors.Is(err, errSequenceOverflow) {
		t.Fatalf("expected the error chain to reach errSequenceOverflow, got %v", err)
	}

	cur, found, err := view.Get(ctx, InternalKey{Name: "s"})
	if err != nil || !found {
		t.Fatalf("Get() after rejected reservation = %v, %v, %v, want the pre-existing value", cur, found, err)
	}
	if cur.Next < 0 {
		t.Fatalf("SequenceValue.Next went negative after a rejected reservation: %d", cur.Next)
	}
}

func TestSequence_Reserve_OverflowIsRejected(t *testing.T) {
	ctx := context.Background()
	b := newFakeTxBackend()
	m := NewMarshaler()
	view := NewKindedView[InternalKey, SequenceValue](b, nsInternal, m, kindSequence)
	seqRaw, _ := json.Marshal(SequenceValue{Next: math.MaxInt64 - 2})
	raw, _ := json.Marshal(namedValue{Kind: kindSequence, Data: seqRaw})
	b.data[nsInternal+":s"] = raw

	seq := newSequence("s", b, view, 10, 0)
	_, err := seq.Next(ctx)
	if err == nil {
		t.Fatalf("expected an overflow error, got nil")
	}
	var ge *Error
	if !errors.As(err, &ge) || ge.Code != CacheFailure {
		t.Fatalf("expected CacheFailure wrapping sequence overflow, got %v", err)
	}
	if !errors.Is(err, errSequenceOverflow) {
		t.Fatalf("expected the error chain to reach errSequenceOverflow, got %v", err)
	}
}
