package griddata

import "context"

// AtomicReferenceHandle is a distributed, cache-backed reference to a value of
// type T. T is constrained to comparable so CompareAndSet can use Go's
// native == instead of requiring callers to supply an equality function.
type AtomicReferenceHandle[T comparable] struct {
	base
	view View[InternalKey, AtomicReferenceValue[T]]
	key  InternalKey
}

func newAtomicReference[T comparable](name string, view View[InternalKey, AtomicReferenceValue[T]]) *AtomicReferenceHandle[T] {
	return &AtomicReferenceHandle[T]{base: newBase(name, kindAtomicReference), view: view, key: InternalKey{Name: name}}
}

// Get returns the current value.
func (a *AtomicReferenceHandle[T]) Get(ctx context.Context) (T, error) {
	var zero T
	if err := a.checkRemoved(); err != nil {
		return zero, err
	}
	v, found, err := a.view.Get(ctx, a.key)
	if err != nil {
		return zero, wrapCacheFailure(a.name, err)
	}
	if !found {
		a.markRemoved()
		return zero, newError(Removed, a.name, nil)
	}
	return v.V, nil
}

// Set unconditionally stores val.
func (a *AtomicReferenceHandle[T]) Set(ctx context.Context, val T) error {
	if err := a.checkRemoved(); err != nil {
		return err
	}
	if err := a.view.Put(ctx, a.key, AtomicReferenceValue[T]{V: val}); err != nil {
		return wrapCacheFailure(a.name, err)
	}
	return nil
}

// CompareAndSet atomically sets the value to update if the current value
// equals expect, reporting whether the swap happened.
func (a *AtomicReferenceHandle[T]) CompareAndSet(ctx context.Context, expect, update T) (bool, error) {
	if err := a.checkRemoved(); err != nil {
		return false, err
	}
	var won bool
	err := Retry(ctx, func(ctx context.Context) error {
		return a.view.TransformAsync(ctx, a.key, func(cur AtomicReferenceValue[T], found bool) (AtomicReferenceValue[T], error) {
			if !found {
				return AtomicReferenceValue[T]{}, newError(Removed, a.name, nil)
			}
			if cur.V != expect {
				won = false
				return cur, nil
			}
			won = true
			return AtomicReferenceValue[T]{V: update}, nil
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
