package griddata

import (
	"context"
	"sync"
)

// initLatch lets callers wait for the Manager's one-time initialization to
// complete, replacing the source system's busy-loop waitInitialization()
// with a channel a waiter can select on alongside ctx.Done(), so a caller
// can be interrupted instead of blocking forever.
type initLatch struct {
	once sync.Once
	done chan struct{}
}

func newInitLatch() *initLatch {
	return &initLatch{done: make(chan struct{})}
}

// fire marks initialization complete, unblocking every current and future
// waiter. Safe to call more than once; only the first call has an effect.
func (l *initLatch) fire() {
	l.once.Do(func() { close(l.done) })
}

// wait blocks until fire has been called or ctx is done, whichever happens
// first, returning ErrInterrupted in the latter case.
func (l *initLatch) wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return newError(Interrupted, "manager", ctx.Err())
	}
}
