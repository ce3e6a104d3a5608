package memory

import (
	"context"
	"testing"

	"github.com/hodiqual/griddata"
)

func TestBackend_PutIfAbsent_LosesRaceReturnsExisting(t *testing.T) {
	ctx := context.Background()
	b := New(griddata.DefaultManagerConfig().Mode)

	stored, won, err := b.PutIfAbsent(ctx, "ns", "k", []byte("first"))
	if err != nil || !won || string(stored) != "first" {
		t.Fatalf("PutIfAbsent() = %q, %v, %v, want first, true, nil", stored, won, err)
	}
	stored, won, err = b.PutIfAbsent(ctx, "ns", "k", []byte("second"))
	if err != nil || won || string(stored) != "first" {
		t.Fatalf("PutIfAbsent() (race) = %q, %v, %v, want first, false, nil", stored, won, err)
	}
}

func TestBackend_Transform_AppliesUnderContention(t *testing.T) {
	ctx := context.Background()
	b := New(griddata.DefaultManagerConfig().Mode)
	if _, _, err := b.PutIfAbsent(ctx, "ns", "counter", []byte("0")); err != nil {
		t.Fatalf("PutIfAbsent() failed: %v", err)
	}

	done := make(chan error, 50)
	for i := 0; i < 50; i++ {
		go func() {
			done <- b.Transform(ctx, "ns", "counter", func(cur []byte, found bool) ([]byte, error) {
				n := 0
				for _, c := range cur {
					n = n*10 + int(c-'0')
				}
				n++
				return []byte(itoa(n)), nil
			})
		}()
	}
	for i := 0; i < 50; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Transform() failed: %v", err)
		}
	}
	v, found, err := b.Get(ctx, "ns", "counter")
	if err != nil || !found {
		t.Fatalf("Get() = %v, %v, %v", v, found, err)
	}
	if string(v) != "50" {
		t.Fatalf("Get() = %q, want 50", v)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestBackend_Subscribe_ReceivesCommits(t *testing.T) {
	ctx := context.Background()
	b := New(griddata.DefaultManagerConfig().Mode)

	var got []griddata.CommitEntry
	unsub := b.Subscribe(func(ctx context.Context, entries []griddata.CommitEntry) {
		got = append(got, entries...)
	})
	defer unsub()

	if err := b.Put(ctx, "ns", "k", []byte("v")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d commit entries, want 1", len(got))
	}
	if got[0].Namespace != "ns" || got[0].Key != "k" || string(got[0].Value) != "v" {
		t.Fatalf("unexpected commit entry: %+v", got[0])
	}
	if got[0].Op != griddata.OpCreate {
		t.Fatalf("Op = %v, want OpCreate", got[0].Op)
	}

	unsub()
	if err := b.Put(ctx, "ns", "k", []byte("v2")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d commit entries after unsubscribe, want 1", len(got))
	}
}

func TestBackend_ContinuousQuery_FiltersByNamespace(t *testing.T) {
	ctx := context.Background()
	b := New(griddata.DefaultManagerConfig().Mode)

	cq := b.CreateContinuousQuery()
	var got []griddata.ChangeEvent
	cq.Filter(func(namespace, key string) bool { return namespace == "watched" })
	cq.Callback(func(ctx context.Context, events []griddata.ChangeEvent) {
		got = append(got, events...)
	})
	if err := cq.Execute(ctx, false); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	defer cq.Close()

	if err := b.Put(ctx, "ignored", "k", []byte("v")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := b.Put(ctx, "watched", "k", []byte("v")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if len(got) != 1 || got[0].Namespace != "watched" {
		t.Fatalf("got %+v, want a single watched event", got)
	}
}

func TestBackend_Tx_PessimisticIsRepeatableRead(t *testing.T) {
	ctx := context.Background()
	b := New(griddata.DefaultManagerConfig().Mode)
	if err := b.Put(ctx, "ns", "k", []byte("v1")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	tx, err := b.StartTx(ctx, griddata.Pessimistic, griddata.RepeatableRead)
	if err != nil {
		t.Fatalf("StartTx() failed: %v", err)
	}
	v1, found, err := tx.Get(ctx, "ns", "k")
	if err != nil || !found || string(v1) != "v1" {
		t.Fatalf("Get() = %q, %v, %v, want v1, true, nil", v1, found, err)
	}

	// A write outside the transaction is invisible to its repeatable-read cache.
	if err := b.Put(ctx, "ns", "k", []byte("v2")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	v1again, _, err := tx.Get(ctx, "ns", "k")
	if err != nil || string(v1again) != "v1" {
		t.Fatalf("Get() (repeated) = %q, %v, want v1, nil", v1again, err)
	}

	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
}

func TestBackend_Tx_SetRollbackOnlyDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	b := New(griddata.DefaultManagerConfig().Mode)

	tx, err := b.StartTx(ctx, griddata.Pessimistic, griddata.RepeatableRead)
	if err != nil {
		t.Fatalf("StartTx() failed: %v", err)
	}
	if err := tx.Put(ctx, "ns", "k", []byte("v")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	tx.SetRollbackOnly()
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if _, found, _ := b.Get(ctx, "ns", "k"); found {
		t.Fatalf("expected the write to be discarded by SetRollbackOnly")
	}
}
