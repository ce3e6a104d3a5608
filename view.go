package griddata

import "context"

// stringKey is satisfied by every key type this package uses to address a
// primitive: InternalKey and QueueHeaderKey.
type stringKey interface {
	String() string
}

// View is a typed, namespaced accessor over a Backend, giving each primitive
// kind (sequence, atomic long, atomic reference, atomic stamped, latch,
// queue header) its own Go-typed get/put/remove/transform surface instead of
// dealing in raw []byte, mirroring the per-kind GridCacheProjection fields
// of the source system.
//
// A View constructed via NewKindedView additionally wraps every stored value
// in a namedValue envelope tagging it with a kind, and verifies that tag on
// every read: this is what lets the five counter/reference/stamped/sequence/
// latch kinds share the single nsInternal namespace spec.md §3 describes
// while still failing a cross-kind name reuse with TypeMismatch. A View
// constructed via NewView stores V directly with no envelope, used for the
// queue header namespace, which never multiplexes more than one kind.
type View[K stringKey, V any] struct {
	backend   Backend
	namespace string
	marshal   Marshaler
	kindTag   kind
	tagged    bool
}

// NewView returns an untagged View over namespace using m to encode/decode V.
func NewView[K stringKey, V any](backend Backend, namespace string, m Marshaler) View[K, V] {
	return View[K, V]{backend: backend, namespace: namespace, marshal: m}
}

// NewKindedView returns a View like NewView, but tags every value it stores
// with k and rejects reads of an entry tagged with a different kind as
// TypeMismatch, so namespace can be shared safely across kinds.
func NewKindedView[K stringKey, V any](backend Backend, namespace string, m Marshaler, k kind) View[K, V] {
	return View[K, V]{backend: backend, namespace: namespace, marshal: m, kindTag: k, tagged: true}
}

// encode marshals val, wrapping it in a namedValue envelope when v is tagged.
func (v View[K, V]) encode(val V) ([]byte, error) {
	raw, err := v.marshal.Marshal(val)
	if err != nil {
		return nil, err
	}
	if !v.tagged {
		return raw, nil
	}
	return v.marshal.Marshal(namedValue{Kind: v.kindTag, Data: raw})
}

// decode is encode's inverse, failing with TypeMismatch if v is tagged and
// the stored envelope's kind does not match.
func (v View[K, V]) decode(raw []byte, name string) (V, error) {
	var val V
	if !v.tagged {
		if err := v.marshal.Unmarshal(raw, &val); err != nil {
			return val, err
		}
		return val, nil
	}
	var env namedValue
	if err := v.marshal.Unmarshal(raw, &env); err != nil {
		return val, err
	}
	if env.Kind != v.kindTag {
		return val, newError(TypeMismatch, name, nil)
	}
	if err := v.marshal.Unmarshal(env.Data, &val); err != nil {
		return val, err
	}
	return val, nil
}

// Get returns the current value at key.
func (v View[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	raw, found, err := v.backend.Get(ctx, v.namespace, key.String())
	if err != nil || !found {
		return zero, found, err
	}
	val, err := v.decode(raw, key.String())
	if err != nil {
		return zero, false, err
	}
	return val, true, nil
}

// PutIfAbsent stores val at key if absent, returning the value now stored
// (val on success, the pre-existing value on a lost race) and whether this
// call won the race.
func (v View[K, V]) PutIfAbsent(ctx context.Context, key K, val V) (V, bool, error) {
	var zero V
	raw, err := v.encode(val)
	if err != nil {
		return zero, false, err
	}
	stored, won, err := v.backend.PutIfAbsent(ctx, v.namespace, key.String(), raw)
	if err != nil {
		return zero, false, err
	}
	if won {
		return val, true, nil
	}
	existing, err := v.decode(stored, key.String())
	if err != nil {
		return zero, false, err
	}
	return existing, false, nil
}

// Put unconditionally stores val at key.
func (v View[K, V]) Put(ctx context.Context, key K, val V) error {
	raw, err := v.encode(val)
	if err != nil {
		return err
	}
	return v.backend.Put(ctx, v.namespace, key.String(), raw)
}

// Remove deletes key, reporting whether it was present. On a tagged View it
// first verifies the stored entry's kind, failing with TypeMismatch rather
// than deleting an entry that belongs to a different primitive kind sharing
// the same namespace.
func (v View[K, V]) Remove(ctx context.Context, key K) (bool, error) {
	if v.tagged {
		raw, found, err := v.backend.Get(ctx, v.namespace, key.String())
		if err != nil || !found {
			return false, err
		}
		if _, err := v.decode(raw, key.String()); err != nil {
			return false, err
		}
	}
	return v.backend.Remove(ctx, v.namespace, key.String())
}

// TransformAsync atomically replaces the value at key with fn's result. fn
// may be invoked more than once under contention on some backends and must
// be side-effect-free.
func (v View[K, V]) TransformAsync(ctx context.Context, key K, fn func(cur V, found bool) (V, error)) error {
	return v.backend.Transform(ctx, v.namespace, key.String(), func(cur []byte, found bool) ([]byte, error) {
		var curVal V
		if found {
			var err error
			curVal, err = v.decode(cur, key.String())
			if err != nil {
				return nil, err
			}
		}
		next, err := fn(curVal, found)
		if err != nil {
			return nil, err
		}
		return v.encode(next)
	})
}

// GetTx returns key's value as observed through an already-open Tx.
func (v View[K, V]) GetTx(ctx context.Context, t Tx, key K) (V, bool, error) {
	var zero V
	raw, found, err := t.Get(ctx, v.namespace, key.String())
	if err != nil || !found {
		return zero, found, err
	}
	val, err := v.decode(raw, key.String())
	if err != nil {
		return zero, false, err
	}
	return val, true, nil
}

// PutTx writes val at key through an already-open Tx.
func (v View[K, V]) PutTx(ctx context.Context, t Tx, key K, val V) error {
	raw, err := v.encode(val)
	if err != nil {
		return err
	}
	return t.Put(ctx, v.namespace, key.String(), raw)
}

// RemoveTx deletes key through an already-open Tx, reporting whether it was
// present, with the same kind check as Remove on a tagged View.
func (v View[K, V]) RemoveTx(ctx context.Context, t Tx, key K) (bool, error) {
	if v.tagged {
		raw, found, err := t.Get(ctx, v.namespace, key.String())
		if err != nil || !found {
			return false, err
		}
		if _, err := v.decode(raw, key.String()); err != nil {
			return false, err
		}
	}
	return t.Remove(ctx, v.namespace, key.String())
}
