// Package griddata turns a shared, cluster-wide transactional cache into a set
// of named, strongly-consistent coordination primitives: atomic long, atomic
// reference, atomic stamped reference, a monotonic sequence generator with
// local reservation, a count-down latch, and a bounded FIFO queue.
//
// The underlying cache (transactions, partitioning, replication, continuous
// queries, atomic mode) is consumed only through the Backend contract defined
// in backend.go. Concrete backends live in the backend/memory and
// backend/redis subpackages.
//
// Manager is the single entry point: it lazily materializes named primitives,
// keeps a local proxy registry per node, and propagates cross-node state
// changes (latch counts reaching zero, queue head/tail movement) through the
// backend's commit-hook and continuous-query collaborators.
package griddata

// Timeout model
//
// Manager operations (notably transactional get-or-create) are bounded by
// two timers: the caller-provided context deadline/cancellation, and the
// backend transaction's own configured commit timeout. The effective bound
// is whichever elapses first; lock TTLs used by the backend follow its own
// commit timeout so locks are released even if the caller's context is
// canceled independently.
