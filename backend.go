package griddata

import "context"

// TxConcurrency mirrors the concurrency control mode of a backend transaction.
type TxConcurrency int

const (
	// Pessimistic acquires locks on read and holds them until commit/rollback.
	Pessimistic TxConcurrency = iota
	// Optimistic detects conflicts at commit time. Not used by this package
	// today, but named here because the backend contract exposes it.
	Optimistic
)

// TxIsolation mirrors the isolation level of a backend transaction.
type TxIsolation int

const (
	// ReadCommitted only ever observes committed writes.
	ReadCommitted TxIsolation = iota
	// RepeatableRead guarantees stable reads for the lifetime of the transaction.
	// Every Manager transaction in this package uses Pessimistic+RepeatableRead.
	RepeatableRead
	// Serializable additionally forbids phantom reads.
	Serializable
)

// AtomicWriteOrderMode mirrors the write-ordering guarantee of an atomic
// (non-transactional) backend cache.
type AtomicWriteOrderMode int

const (
	// PrimaryWriteOrder serializes writes to a key through its primary copy.
	PrimaryWriteOrder AtomicWriteOrderMode = iota
	// ClockWriteOrder orders writes by wall-clock timestamp assigned on each
	// node independently. Queue (§4.5) refuses this mode: without a single
	// serialization point, head/tail movement can be observed out of order.
	ClockWriteOrder
)

// CacheMode reports the configuration facts the Manager needs from the
// backing cache to enforce its mode guards (spec.md §4.1 step 2). It mirrors
// the cctx.transactional()/isReplicated()/isLocal()/atomic()/config()...
// collaborator calls of the source system.
type CacheMode struct {
	// Transactional reports whether the cache supports pessimistic transactions.
	Transactional bool
	// NearEnabled reports whether a near (client-side) cache is enabled.
	NearEnabled bool
	// Replicated reports whether every node holds a full copy of the cache.
	Replicated bool
	// Local reports whether the cache is confined to a single node.
	Local bool
	// Partitioned reports whether the cache is a partitioned (DHT) cache.
	Partitioned bool
	// Atomic reports whether the cache runs in atomic (non-transactional) mode.
	Atomic bool
	// AtomicWriteOrder is meaningful only when Atomic is true.
	AtomicWriteOrder AtomicWriteOrderMode
	// AtomicSequenceReserveSize is the configured reservation range width for
	// sequence generators (spec.md §4.2). A value <= 1 means "no batching".
	AtomicSequenceReserveSize int
}

// TransactionalWithNear reports whether counters/reference/stamped/latch
// primitives may be created on this cache (spec.md §4.1 step 2, ported from
// the original transactionalWithNear() guard).
func (m CacheMode) TransactionalWithNear() bool {
	if m.Atomic {
		return false
	}
	return m.Transactional && (m.NearEnabled || m.Replicated || m.Local)
}

// SupportsQueue reports whether a queue may be created on this cache (ported
// from the original supportsQueue() guard).
func (m CacheMode) SupportsQueue() bool {
	return !(m.Atomic && !m.Local && m.AtomicWriteOrder == ClockWriteOrder)
}

// Operation classifies a single write entry delivered by the commit hook.
type Operation int

const (
	// OpCreate is a write of a key that did not previously exist.
	OpCreate Operation = iota
	// OpUpdate is a write of a key that already existed.
	OpUpdate
	// OpDelete is a removal of a key.
	OpDelete
)

// CommitEntry is one write of a committed transaction, delivered to
// subscribers registered via Backend.Subscribe. Namespace+Key identify the
// cache entry; Value is nil for OpDelete. MarkObsolete lets a subscriber
// (the latch notifier) evict the entry. The backends in this module remove
// the key unconditionally; they do not compare the entry's version with the
// one the subscriber observed.
type CommitEntry struct {
	Namespace    string
	Key          string
	Op           Operation
	Value        []byte
	Local        bool
	MarkObsolete func(ctx context.Context) error
}

// CommitHandler is invoked with the write set of one committed transaction.
// Implementations must not block for long: the backend delivers commits
// synchronously with the committing transaction on some backends.
type CommitHandler func(ctx context.Context, entries []CommitEntry)

// ChangeEvent is one delivery of the continuous query collaborator: a key
// matching the query's filter changed, or was removed (NewValue == nil).
type ChangeEvent struct {
	Namespace string
	Key       string
	NewValue  []byte
	Removed   bool
}

// ContinuousQuery is a long-lived subscription to backend changes matching a
// filter, delivered as callbacks (spec.md §4.4, §6). It fires for both
// transactional and single-operation backend writes, since queues may run
// on either.
type ContinuousQuery interface {
	// Filter installs the predicate; only matching namespace/key pairs are delivered.
	Filter(fn func(namespace, key string) bool)
	// Callback installs the delivery function, invoked with one batch per underlying event.
	Callback(fn func(ctx context.Context, events []ChangeEvent))
	// Execute starts the query. localOnly restricts delivery to this node's writes,
	// used for local/replicated caches per spec.md §4.4's "Scope" note.
	Execute(ctx context.Context, localOnly bool) error
	// Close tears down the subscription. Safe to call more than once.
	Close() error
}

// Tx is a pessimistic, repeatable-read transaction scoped to a set of raw
// namespace/key operations (spec.md §6's txStartInternal contract). All
// reads taken through a Tx are stable until Commit or Rollback.
type Tx interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Put(ctx context.Context, namespace, key string, val []byte) error
	Remove(ctx context.Context, namespace, key string) (bool, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// SetRollbackOnly marks the transaction so that a subsequent Commit call
	// rolls back instead, matching spec.md §4.1's "If no value and create=false: return absent (rollback)".
	SetRollbackOnly()
}

// Backend is the sole contract this package uses to talk to the underlying
// cluster-wide cache. It intentionally says nothing about how the cache
// partitions, replicates, or persists data — those are the cache's concern,
// not the data-structures layer's (spec.md §1 Non-goals).
type Backend interface {
	// Mode reports the cache's configuration facts used by the mode guards.
	Mode() CacheMode

	// StartTx begins a new transaction scoped to this backend.
	StartTx(ctx context.Context, concurrency TxConcurrency, isolation TxIsolation) (Tx, error)

	// Get, PutIfAbsent, Put, Remove and Transform are single-operation,
	// non-transactional accessors used for atomic (lock-free at the caller
	// level) choreography such as atomic-long CompareAndSet and queue header
	// creation.
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	// PutIfAbsent stores val if the key is absent; it always returns the
	// value now stored at the key (val on success, the pre-existing value on
	// a lost race) and whether this call won the race.
	PutIfAbsent(ctx context.Context, namespace, key string, val []byte) (stored []byte, won bool, err error)
	Put(ctx context.Context, namespace, key string, val []byte) error
	Remove(ctx context.Context, namespace, key string) (bool, error)
	// Transform atomically replaces the value at key with fn's result. fn may
	// be invoked more than once under contention and must be side-effect-free.
	Transform(ctx context.Context, namespace, key string, fn func(cur []byte, found bool) ([]byte, error)) error

	// Subscribe registers fn to be invoked with the write set of every
	// committed transaction on this backend (spec.md §4.3, §6's commit hook),
	// and with each single-operation write (PutIfAbsent, Put, Remove,
	// Transform) as a one-entry set. The returned func unregisters fn.
	Subscribe(fn CommitHandler) (unsubscribe func())

	// CreateContinuousQuery returns a fresh, unexecuted continuous query.
	CreateContinuousQuery() ContinuousQuery

	// Close releases backend resources. Safe to call more than once.
	Close() error
}
