package griddata

import "context"

// AtomicStampedHandle is a distributed, cache-backed reference of type T paired
// with an independently compared stamp of type S (e.g. a version counter),
// letting a CompareAndSet succeed on value identity while still detecting
// intervening stamp-only updates, and vice versa.
type AtomicStampedHandle[T, S comparable] struct {
	base
	view View[InternalKey, AtomicStampedValue[T, S]]
	key  InternalKey
}

func newAtomicStamped[T, S comparable](name string, view View[InternalKey, AtomicStampedValue[T, S]]) *AtomicStampedHandle[T, S] {
	return &AtomicStampedHandle[T, S]{base: newBase(name, kindAtomicStamped), view: view, key: InternalKey{Name: name}}
}

// Get returns the current value and stamp.
func (a *AtomicStampedHandle[T, S]) Get(ctx context.Context) (T, S, error) {
	var zeroV T
	var zeroS S
	if err := a.checkRemoved(); err != nil {
		return zeroV, zeroS, err
	}
	v, found, err := a.view.Get(ctx, a.key)
	if err != nil {
		return zeroV, zeroS, wrapCacheFailure(a.name, err)
	}
	if !found {
		a.markRemoved()
		return zeroV, zeroS, newError(Removed, a.name, nil)
	}
	return v.V, v.Stamp, nil
}

// Set unconditionally stores val and stamp.
func (a *AtomicStampedHandle[T, S]) Set(ctx context.Context, val T, stamp S) error {
	if err := a.checkRemoved(); err != nil {
		return err
	}
	if err := a.view.Put(ctx, a.key, AtomicStampedValue[T, S]{V: val, Stamp: stamp}); err != nil {
		return wrapCacheFailure(a.name, err)
	}
	return nil
}

// CompareAndSet atomically sets value and stamp to updateVal/updateStamp if
// the current value equals expectVal and the current stamp equals
// expectStamp, reporting whether the swap happened.
func (a *AtomicStampedHandle[T, S]) CompareAndSet(ctx context.Context, expectVal, updateVal T, expectStamp, updateStamp S) (bool, error) {
	if err := a.checkRemoved(); err != nil {
		return false, err
	}
	var won bool
	err := Retry(ctx, func(ctx context.Context) error {
		return a.view.TransformAsync(ctx, a.key, func(cur AtomicStampedValue[T, S], found bool) (AtomicStampedValue[T, S], error) {
			if !found {
				return AtomicStampedValue[T, S]{}, newError(Removed, a.name, nil)
			}
			if cur.V != expectVal || cur.Stamp != expectStamp {
				won = false
				return cur, nil
			}
			won = true
			return AtomicStampedValue[T, S]{V: updateVal, Stamp: updateStamp}, nil
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
