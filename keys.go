package griddata

// nsInternal is the single shared backend namespace for every counter,
// reference, stamped-reference, sequence and latch entry (spec.md §3: "The
// cache key for counter/reference/stamped/sequence/latch is a wrapper
// InternalKey{name}"). Reusing a name across kinds is meant to collide:
// entries in this namespace are wrapped in a namedValue envelope (values.go)
// tagging the kind that created them, so a name reused for a different kind
// is caught as TypeMismatch by the tagged View (view.go) rather than by
// silently addressing an unrelated cache entry.
//
// nsQueueHeader stays in its own namespace: spec.md §3 deliberately gives
// queue headers a distinct key type so they never collide with the scalar
// primitives above.
const (
	nsInternal    = "internal"
	nsQueueHeader = "queuehdr"
)

// InternalKey identifies a named counter/reference/stamped/sequence/latch
// entry within the shared nsInternal namespace.
type InternalKey struct {
	Name string
}

// String renders the key for use as a backend key or Go map key.
func (k InternalKey) String() string {
	return k.Name
}

// QueueHeaderKey identifies a queue header entry within nsQueueHeader.
type QueueHeaderKey struct {
	Name string
}

// String renders the key for use as a backend key or Go map key.
func (k QueueHeaderKey) String() string {
	return k.Name
}
