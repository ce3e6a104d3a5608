package griddata

import "context"

// AtomicLong is a distributed, cache-backed int64 counter.
type AtomicLong struct {
	base
	view View[InternalKey, AtomicLongValue]
	key  InternalKey
}

func newAtomicLong(name string, view View[InternalKey, AtomicLongValue]) *AtomicLong {
	return &AtomicLong{base: newBase(name, kindAtomicLong), view: view, key: InternalKey{Name: name}}
}

// Get returns the current value.
func (a *AtomicLong) Get(ctx context.Context) (int64, error) {
	if err := a.checkRemoved(); err != nil {
		return 0, err
	}
	v, found, err := a.view.Get(ctx, a.key)
	if err != nil {
		return 0, wrapCacheFailure(a.name, err)
	}
	if !found {
		a.markRemoved()
		return 0, newError(Removed, a.name, nil)
	}
	return v.V, nil
}

// Set unconditionally stores val.
func (a *AtomicLong) Set(ctx context.Context, val int64) error {
	if err := a.checkRemoved(); err != nil {
		return err
	}
	if err := a.view.Put(ctx, a.key, AtomicLongValue{V: val}); err != nil {
		return wrapCacheFailure(a.name, err)
	}
	return nil
}

// IncrementAndGet adds 1 and returns the new value.
func (a *AtomicLong) IncrementAndGet(ctx context.Context) (int64, error) {
	return a.AddAndGet(ctx, 1)
}

// DecrementAndGet subtracts 1 and returns the new value.
func (a *AtomicLong) DecrementAndGet(ctx context.Context) (int64, error) {
	return a.AddAndGet(ctx, -1)
}

// AddAndGet adds delta and returns the new value.
func (a *AtomicLong) AddAndGet(ctx context.Context, delta int64) (int64, error) {
	if err := a.checkRemoved(); err != nil {
		return 0, err
	}
	var result int64
	err := Retry(ctx, func(ctx context.Context) error {
		return a.view.TransformAsync(ctx, a.key, func(cur AtomicLongValue, found bool) (AtomicLongValue, error) {
			if !found {
				return AtomicLongValue{}, newError(Removed, a.name, nil)
			}
			result = cur.V + delta
			return AtomicLongValue{V: result}, nil
		})
	}, nil)
	if err != nil {
		if ge, ok := err.(*Error); ok && ge.Code == Removed {
			a.markRemoved()
		}
		return 0, wrapCacheFailure(a.name, err)
	}
	return result, nil
}

// CompareAndSet atomically sets the value to update if the current value
// equals expect, reporting whether the swap happened.
func (a *AtomicLong) CompareAndSet(ctx context.Context, expect, update int64) (bool, error) {
	if err := a.checkRemoved(); err != nil {
		return false, err
	}
	var won bool
	err := Retry(ctx, func(ctx context.Context) error {
		return a.view.TransformAsync(ctx, a.key, func(cur AtomicLongValue, found bool) (AtomicLongValue, error) {
			if !found {
				return AtomicLongValue{}, newError(Removed, a.name, nil)
			}
			if cur.V != expect {
				won = false
				return cur, nil
			}
			won = true
			return AtomicLongValue{V: update}, nil
		})
	}, nil)
	if err != nil {
		if ge, ok := err.(*Error); ok && ge.Code == Removed {
			a.markRemoved()
		}
		return false, wrapCacheFailure(a.name, err)
	}
	return won, nil
}
