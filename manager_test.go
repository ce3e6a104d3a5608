package griddata_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hodiqual/griddata"
	"github.com/hodiqual/griddata/backend/memory"
)

func hasCode(err error, code griddata.ErrorCode) bool {
	var ge *griddata.Error
	return errors.As(err, &ge) && ge.Code == code
}

func newTestManager(t *testing.T) *griddata.Manager {
	t.Helper()
	b := memory.New(griddata.DefaultManagerConfig().Mode)
	mgr, err := griddata.New(context.Background(), b, griddata.DefaultManagerConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return mgr
}

func TestManager_AtomicLong_CreateGetSet(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	al, err := mgr.AtomicLong(ctx, "counter", 5, true)
	if err != nil {
		t.Fatalf("AtomicLong() failed: %v", err)
	}
	if v, err := al.Get(ctx); err != nil || v != 5 {
		t.Fatalf("Get() = %v, %v, want 5, nil", v, err)
	}

	// A second call for the same name returns the same proxy, not a fresh one
	// re-initialized to 5.
	if err := al.Set(ctx, 42); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	al2, err := mgr.AtomicLong(ctx, "counter", 5, true)
	if err != nil {
		t.Fatalf("AtomicLong() (again) failed: %v", err)
	}
	if v, err := al2.Get(ctx); err != nil || v != 42 {
		t.Fatalf("Get() = %v, %v, want 42, nil", v, err)
	}
}

func TestManager_AtomicLong_TypeMismatch(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	if _, err := mgr.AtomicLong(ctx, "shared-name", 0, true); err != nil {
		t.Fatalf("AtomicLong() failed: %v", err)
	}
	if _, err := mgr.Sequence(ctx, "shared-name", 0, true); !hasCode(err, griddata.TypeMismatch) {
		t.Fatalf("Sequence() with reused name = %v, want TypeMismatch", err)
	}
}

func TestManager_AtomicLong_TypeMismatch_AcrossManagers(t *testing.T) {
	ctx := context.Background()
	b := memory.New(griddata.DefaultManagerConfig().Mode)
	mgr1, err := griddata.New(ctx, b, griddata.DefaultManagerConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	mgr2, err := griddata.New(ctx, b, griddata.DefaultManagerConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if _, err := mgr1.AtomicLong(ctx, "shared-name", 0, true); err != nil {
		t.Fatalf("AtomicLong() failed: %v", err)
	}
	// mgr2 has no local registry entry for "shared-name": the collision must
	// be caught at the shared backend keyspace, not by the local fast path.
	if _, err := mgr2.Sequence(ctx, "shared-name", 0, true); !hasCode(err, griddata.TypeMismatch) {
		t.Fatalf("Sequence() with reused name from a different manager = %v, want TypeMismatch", err)
	}
}

func TestManager_Latch_LookupOnlyReturnsAbsent(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	if _, err := mgr.Latch(ctx, "L", 0, false, false); !hasCode(err, griddata.Absent) {
		t.Fatalf("Latch() lookup-only on missing name = %v, want Absent", err)
	}
	if _, err := mgr.Latch(ctx, "L", 3, false, true); err != nil {
		t.Fatalf("Latch() create failed: %v", err)
	}
	l, err := mgr.Latch(ctx, "L", 0, false, false)
	if err != nil {
		t.Fatalf("Latch() lookup-only on existing name failed: %v", err)
	}
	if l.InitialCount() != 3 {
		t.Fatalf("InitialCount() = %d, want 3", l.InitialCount())
	}
}

func TestManager_Sequence_SeedsFirstReservationWindow(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	seq, err := mgr.Sequence(ctx, "s", 100, true)
	if err != nil {
		t.Fatalf("Sequence() failed: %v", err)
	}
	for want := int64(100); want < 110; want++ {
		v, err := seq.Next(ctx)
		if err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
		if v != want {
			t.Fatalf("Next() = %d, want %d", v, want)
		}
	}
}

func TestManager_AtomicReference_Generic(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	ref, err := griddata.AtomicReference[string](ctx, mgr, "greeting", "", true)
	if err != nil {
		t.Fatalf("AtomicReference() failed: %v", err)
	}
	if err := ref.Set(ctx, "hello"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	won, err := ref.CompareAndSet(ctx, "hello", "world")
	if err != nil || !won {
		t.Fatalf("CompareAndSet() = %v, %v, want true, nil", won, err)
	}
	if v, err := ref.Get(ctx); err != nil || v != "world" {
		t.Fatalf("Get() = %q, %v, want world, nil", v, err)
	}
}

func TestManager_AtomicStamped_Generic(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	as, err := griddata.AtomicStamped[int, int](ctx, mgr, "versioned", 0, 0, true)
	if err != nil {
		t.Fatalf("AtomicStamped() failed: %v", err)
	}
	if err := as.Set(ctx, 100, 1); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	won, err := as.CompareAndSet(ctx, 100, 200, 1, 2)
	if err != nil || !won {
		t.Fatalf("CompareAndSet() = %v, %v, want true, nil", won, err)
	}
	// Stale stamp: value matches but stamp does not, so the swap must lose.
	won, err = as.CompareAndSet(ctx, 200, 300, 1, 3)
	if err != nil || won {
		t.Fatalf("CompareAndSet() with stale stamp = %v, %v, want false, nil", won, err)
	}
}

func TestManager_Sequence_MonotonicAcrossReservationWindow(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	seq, err := mgr.Sequence(ctx, "ids", 0, true)
	if err != nil {
		t.Fatalf("Sequence() failed: %v", err)
	}
	seen := make(map[int64]bool)
	for i := 0; i < 2500; i++ {
		v, err := seq.Next(ctx)
		if err != nil {
			t.Fatalf("Next() failed at i=%d: %v", i, err)
		}
		if seen[v] {
			t.Fatalf("Next() returned duplicate value %d at i=%d", v, i)
		}
		seen[v] = true
	}
}

func TestManager_Latch_CountDownAndAwait(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	l, err := mgr.Latch(ctx, "gate", 2, false, true)
	if err != nil {
		t.Fatalf("Latch() failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- l.Await(ctx)
	}()

	if err := l.CountDown(ctx); err != nil {
		t.Fatalf("CountDown() failed: %v", err)
	}
	select {
	case err := <-done:
		t.Fatalf("Await() returned early after one CountDown: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	if err := l.CountDown(ctx); err != nil {
		t.Fatalf("CountDown() failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Await() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Await() did not unblock after count reached zero")
	}
}

func TestManager_Latch_RemoveWhileBusyFails(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	if _, err := mgr.Latch(ctx, "busy-gate", 1, false, true); err != nil {
		t.Fatalf("Latch() failed: %v", err)
	}
	if err := mgr.RemoveLatch(ctx, "busy-gate"); !hasCode(err, griddata.BusyLatch) {
		t.Fatalf("RemoveLatch() = %v, want BusyLatch", err)
	}
}

func TestManager_Queue_OfferPollRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	q, err := mgr.Queue(ctx, "work", 2, true, true)
	if err != nil {
		t.Fatalf("Queue() failed: %v", err)
	}

	i0, ok, err := q.Offer(ctx)
	if err != nil || !ok || i0 != 0 {
		t.Fatalf("Offer() = %v, %v, %v, want 0, true, nil", i0, ok, err)
	}
	i1, ok, err := q.Offer(ctx)
	if err != nil || !ok || i1 != 1 {
		t.Fatalf("Offer() = %v, %v, %v, want 1, true, nil", i1, ok, err)
	}
	if _, ok, err := q.Offer(ctx); err != nil || ok {
		t.Fatalf("Offer() at capacity = %v, %v, want false, nil", ok, err)
	}

	h0, ok, err := q.Poll(ctx)
	if err != nil || !ok || h0 != 0 {
		t.Fatalf("Poll() = %v, %v, %v, want 0, true, nil", h0, ok, err)
	}
	if _, ok, err := q.Offer(ctx); err != nil || !ok {
		t.Fatalf("Offer() after Poll freed a slot = %v, %v, want true, nil", ok, err)
	}
}

func TestManager_Queue_ConflictingCapacityRejected(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	if _, err := mgr.Queue(ctx, "sized", 4, true, true); err != nil {
		t.Fatalf("Queue() failed: %v", err)
	}
	if _, err := mgr.Queue(ctx, "sized", 8, true, true); !hasCode(err, griddata.QueueConflict) {
		t.Fatalf("Queue() with mismatched capacity = %v, want QueueConflict", err)
	}
}

func TestManager_ModeMismatch_QueueOnNonQueueCache(t *testing.T) {
	ctx := context.Background()
	mode := griddata.DefaultManagerConfig().Mode
	mode.Atomic = true
	mode.AtomicWriteOrder = griddata.ClockWriteOrder
	b := memory.New(mode)
	mgr, err := griddata.New(ctx, b, griddata.ManagerConfig{Mode: mode})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if _, err := mgr.Queue(ctx, "q", 1, true, true); !hasCode(err, griddata.ModeMismatch) {
		t.Fatalf("Queue() on clock-ordered atomic cache = %v, want ModeMismatch", err)
	}
}

func TestManager_Shutdown_RejectsFurtherCalls(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}
	if _, err := mgr.AtomicLong(ctx, "too-late", 0, true); !hasCode(err, griddata.NotInitialized) {
		t.Fatalf("AtomicLong() after Shutdown = %v, want NotInitialized", err)
	}
}
