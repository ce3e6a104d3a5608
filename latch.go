package griddata

import (
	"context"
	"sync"
	"sync/atomic"
)

// latchState models the count-down latch's lifecycle. It only ever moves
// forward: Active -> Counting -> Fired -> Removed.
type latchState int32

const (
	latchActive latchState = iota
	latchCounting
	latchFired
	latchRemoved
)

// Latch is a distributed count-down latch. A Latch proxy observes count
// changes through the manager's commit-hook subscription (latch_notifier.go),
// not by polling the backend. The notifier applies only commit entries the
// backend flags as Local: on the in-memory backend that is every write, on
// the Redis backend only writes made through the same Backend instance, so
// proxies held through other Redis Backend instances do not observe them.
type Latch struct {
	base
	view View[InternalKey, LatchValue]
	key  InternalKey
	mgr  *Manager

	state atomic.Int32

	mu         sync.Mutex
	sig        chan struct{}
	count      int32
	initial    int32
	autoDelete bool
}

func newLatch(name string, view View[InternalKey, LatchValue], mgr *Manager, initial LatchValue) *Latch {
	l := &Latch{
		base:       newBase(name, kindLatch),
		view:       view,
		key:        InternalKey{Name: name},
		mgr:        mgr,
		sig:        make(chan struct{}),
		count:      initial.Count,
		initial:    initial.InitialCount,
		autoDelete: initial.AutoDelete,
	}
	l.state.Store(int32(latchActive))
	return l
}

// State reports the latch's current lifecycle state.
func (l *Latch) State() latchState { return latchState(l.state.Load()) }

// Count returns the last count observed for this latch, either from the
// local CountDown or from a commit-hook notification about another node's
// CountDown.
func (l *Latch) Count() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// InitialCount returns the count the latch was created with.
func (l *Latch) InitialCount() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initial
}

// CountDown decrements the latch's count by one, floored at zero.
func (l *Latch) CountDown(ctx context.Context) error {
	if err := l.checkRemoved(); err != nil {
		return err
	}
	l.state.CompareAndSwap(int32(latchActive), int32(latchCounting))
	err := Retry(ctx, func(ctx context.Context) error {
		return l.view.TransformAsync(ctx, l.key, func(cur LatchValue, found bool) (LatchValue, error) {
			if !found {
				return LatchValue{}, newError(Removed, l.name, nil)
			}
			if cur.Count > 0 {
				cur.Count--
			}
			return cur, nil
		})
	}, nil)
	if err != nil {
		if ge, ok := err.(*Error); ok && ge.Code == Removed {
			l.markRemoved()
		}
		return wrapCacheFailure(l.name, err)
	}
	return nil
}

// Await blocks until the latch's count reaches zero, the latch is removed,
// or ctx is done.
func (l *Latch) Await(ctx context.Context) error {
	for {
		l.mu.Lock()
		count := l.count
		sig := l.sig
		l.mu.Unlock()

		if l.state.Load() == int32(latchRemoved) {
			return newError(Removed, l.name, nil)
		}
		if count <= 0 {
			return nil
		}
		select {
		case <-sig:
			continue
		case <-ctx.Done():
			return newError(Interrupted, l.name, ctx.Err())
		}
	}
}

// broadcast wakes every Await call blocked on this latch by closing the
// current signal channel and installing a fresh one, the same swap pattern
// used by Queue.broadcast.
func (l *Latch) broadcast() {
	l.mu.Lock()
	old := l.sig
	l.sig = make(chan struct{})
	l.mu.Unlock()
	close(old)
}

// onUpdate applies a commit-hook notification carrying this latch's new
// state, transitioning to Fired and, on AutoDelete, evicting the cache
// entry through entry.MarkObsolete.
func (l *Latch) onUpdate(ctx context.Context, v LatchValue, entry CommitEntry) {
	l.mu.Lock()
	l.count = v.Count
	l.initial = v.InitialCount
	l.autoDelete = v.AutoDelete
	l.mu.Unlock()

	if v.Count == 0 {
		l.state.CompareAndSwap(int32(latchActive), int32(latchFired))
		l.state.CompareAndSwap(int32(latchCounting), int32(latchFired))
		if v.AutoDelete && entry.MarkObsolete != nil {
			_ = entry.MarkObsolete(ctx)
		}
	} else if v.Count < v.InitialCount {
		l.state.CompareAndSwap(int32(latchActive), int32(latchCounting))
	}
	l.broadcast()
}

// onRemoved applies a commit-hook DELETE notification for this latch's key.
func (l *Latch) onRemoved() {
	l.state.Store(int32(latchRemoved))
	l.markRemoved()
	l.broadcast()
}
