package griddata

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// errSequenceOverflow marks a reservation that would exceed the int64 range.
// It is never silently wrapped around: an exhausted sequence surfaces as a
// CacheFailure rather than producing a duplicate or negative value.
var errSequenceOverflow = errors.New("griddata: sequence exhausted its int64 range")

// Sequence is a distributed monotonic counter that reserves ranges of
// values under a transaction (§4.2) so that Next does not need a network
// round trip on every call: a proxy hands out values from its local
// [localCounter, upperBound] window until the window is exhausted, then
// reserves the next window.
type Sequence struct {
	base
	view        View[InternalKey, SequenceValue]
	key         InternalKey
	backend     Backend
	reserveSize int64
	txTimeout   time.Duration

	mu           sync.Mutex
	localCounter int64
	upperBound   int64
}

func newSequence(name string, backend Backend, view View[InternalKey, SequenceValue], reserveSize int64, txTimeout time.Duration) *Sequence {
	if reserveSize < 1 {
		reserveSize = 1
	}
	return &Sequence{
		base:        newBase(name, kindSequence),
		view:        view,
		key:         InternalKey{Name: name},
		backend:     backend,
		reserveSize: reserveSize,
		txTimeout:   txTimeout,
		upperBound:  -1,
	}
}

// Next returns the next value in the sequence, reserving a new window from
// the backend when the current one is exhausted.
func (s *Sequence) Next(ctx context.Context) (int64, error) {
	if err := s.checkRemoved(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localCounter > s.upperBound {
		if err := s.reserve(ctx); err != nil {
			return 0, err
		}
	}
	v := s.localCounter
	s.localCounter++
	return v, nil
}

// reserve claims the next window of s.reserveSize values under a
// pessimistic, repeatable-read transaction, retrying transient backend
// failures with Fibonacci backoff. Callers must hold s.mu. The transaction
// is bounded by s.txTimeout, when set, so a stalled reservation surfaces as
// a CacheFailure instead of hanging the caller indefinitely.
func (s *Sequence) reserve(ctx context.Context) error {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}
	err := Retry(ctx, func(ctx context.Context) error {
		t, err := s.backend.StartTx(ctx, Pessimistic, RepeatableRead)
		if err != nil {
			return err
		}
		cur, found, err := s.view.GetTx(ctx, t, s.key)
		if err != nil {
			t.Rollback(ctx)
			return err
		}
		if !found {
			t.Rollback(ctx)
			return newError(Removed, s.name, nil)
		}
		if cur.Next > math.MaxInt64-s.reserveSize {
			t.SetRollbackOnly()
			t.Commit(ctx)
			return newError(CacheFailure, s.name, errSequenceOverflow)
		}
		base := cur.Next
		upBound := base + s.reserveSize - 1
		if err := s.view.PutTx(ctx, t, s.key, SequenceValue{Next: upBound + 1}); err != nil {
			t.Rollback(ctx)
			return err
		}
		if err := t.Commit(ctx); err != nil {
			return err
		}
		s.localCounter = base
		s.upperBound = upBound
		return nil
	}, nil)
	if err != nil {
		if ge, ok := err.(*Error); ok && ge.Code == Removed {
			s.markRemoved()
		}
		return wrapCacheFailure(s.name, err)
	}
	return nil
}
