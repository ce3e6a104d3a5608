package griddata

import "sync/atomic"

// kind discriminates the concrete primitive behind a local proxy without
// resorting to reflection or type assertions on the proxy itself,
// generalizing the source system's class-per-kind identification into a
// single tagged-variant field (see the REDESIGN FLAGS note on avoiding
// reflected type checks).
type kind int32

const (
	kindAtomicLong kind = iota
	kindAtomicReference
	kindAtomicStamped
	kindSequence
	kindLatch
	kindQueue
)

func (k kind) String() string {
	switch k {
	case kindAtomicLong:
		return "AtomicLong"
	case kindAtomicReference:
		return "AtomicReference"
	case kindAtomicStamped:
		return "AtomicStamped"
	case kindSequence:
		return "Sequence"
	case kindLatch:
		return "Latch"
	case kindQueue:
		return "Queue"
	default:
		return "Unknown"
	}
}

// base is embedded by every local proxy type: AtomicLong,
// AtomicReferenceHandle, AtomicStampedHandle, Sequence, Latch, Queue. It tracks the name the primitive
// was created under, its kind (for the manager's registry TypeMismatch
// check), and whether it has been removed.
type base struct {
	name string
	k    kind

	removed atomic.Bool
}

func newBase(name string, k kind) base {
	return base{name: name, k: k}
}

// Name returns the name the primitive was created under.
func (b *base) Name() string { return b.name }

// Kind reports which primitive this proxy is.
func (b *base) Kind() kind { return b.k }

// Removed reports whether the primitive has been removed, locally or
// observed as removed by another node.
func (b *base) Removed() bool { return b.removed.Load() }

func (b *base) markRemoved() { b.removed.Store(true) }

// checkRemoved returns ErrRemoved if the primitive has already been removed.
func (b *base) checkRemoved() error {
	if b.removed.Load() {
		return newError(Removed, b.name, nil)
	}
	return nil
}
