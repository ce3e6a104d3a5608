package griddata

import (
	"context"
	log "log/slog"
	"sync"
	"time"
)

// Manager is the orchestrator for every distributed data structure in this
// package — atomic long, atomic reference, atomic stamped reference,
// sequence, count-down latch, and bounded FIFO queue — all layered over a
// single Backend. New replaces the source system's onKernalStart0/
// onKernalStop0 kernel hooks with an explicit constructor and Shutdown
// method: callers construct and own a Manager directly, there is no
// process-wide singleton (REDESIGN FLAGS).
type Manager struct {
	backend Backend
	cfg     ManagerConfig
	marshal Marshaler

	seqView        View[InternalKey, SequenceValue]
	atomicLongView View[InternalKey, AtomicLongValue]
	latchView      View[InternalKey, LatchValue]
	queueHdrView   View[QueueHeaderKey, QueueHeader]

	latches *latchNotifier
	queues  *queueWatcher

	lock *busyLock
	init *initLatch

	mu    sync.Mutex
	named map[string]namedProxy
}

// namedProxy is satisfied by every local proxy type via its embedded base.
type namedProxy interface {
	Name() string
	Kind() kind
}

// New constructs a Manager over backend, initializes its typed views, and
// flips the manager's init latch so waiters unblock. The context is used
// only for the initial mode/view setup and is not retained.
func New(ctx context.Context, backend Backend, cfg ManagerConfig) (*Manager, error) {
	m := &Manager{
		backend: backend,
		cfg:     cfg,
		marshal: NewMarshaler(),
		lock:    newBusyLock(),
		init:    newInitLatch(),
		named:   make(map[string]namedProxy),
	}
	m.seqView = NewKindedView[InternalKey, SequenceValue](backend, nsInternal, m.marshal, kindSequence)
	m.atomicLongView = NewKindedView[InternalKey, AtomicLongValue](backend, nsInternal, m.marshal, kindAtomicLong)
	m.latchView = NewKindedView[InternalKey, LatchValue](backend, nsInternal, m.marshal, kindLatch)
	m.queueHdrView = NewView[QueueHeaderKey, QueueHeader](backend, nsQueueHeader, m.marshal)

	m.latches = newLatchNotifier(backend, m.lock)
	m.queues = newQueueWatcher(backend, cfg.QueueWatcherBufferSize, m.lock)

	m.init.fire()
	log.Info("griddata manager initialized", "mode", backend.Mode())
	return m, nil
}

// Shutdown blocks new callback delivery, waits for in-flight callbacks to
// drain, and closes the manager's backend subscriptions. It does not close
// the Backend itself: the caller constructed it and owns its lifecycle.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.lock.block()
	m.latches.close()
	if err := m.queues.close(); err != nil {
		log.Warn("griddata manager shutdown: closing queue watcher", "err", err)
	}
	log.Info("griddata manager shut down")
	return nil
}

// checkTransactionalWithNear enforces the mode guard for atomic long,
// atomic reference, atomic stamped reference, sequence and latch creation.
func (m *Manager) checkTransactionalWithNear(name string) error {
	if !m.backend.Mode().TransactionalWithNear() {
		return newError(ModeMismatch, name, nil)
	}
	return nil
}

// checkSupportsQueue enforces the mode guard for queue creation.
func (m *Manager) checkSupportsQueue(name string) error {
	if !m.backend.Mode().SupportsQueue() {
		return newError(ModeMismatch, name, nil)
	}
	return nil
}

func (m *Manager) enter(ctx context.Context) error {
	if !m.lock.enterBusy() {
		return newError(NotInitialized, "manager", nil)
	}
	if err := m.init.wait(ctx); err != nil {
		m.lock.leaveBusy()
		return err
	}
	return nil
}

// getOrCreateNamed implements spec.md §4.1's get-or-create contract shared by
// atomic long, atomic reference, atomic stamped reference and latch: it
// looks name up first and only creates it, via PutIfAbsent, when create is
// true. A name that does not exist and create=false returns ErrAbsent
// (spec.md §4.1 step 4's "return absent (rollback)") rather than fabricating
// an entry. Sequence does not use this helper because its creation also has
// to seed the caller's local reservation window (see Manager.Sequence).
func getOrCreateNamed[V any](ctx context.Context, view View[InternalKey, V], name string, create bool, initial V) (V, error) {
	key := InternalKey{Name: name}
	cur, found, err := view.Get(ctx, key)
	if err != nil {
		return cur, err
	}
	if found {
		return cur, nil
	}
	if !create {
		return cur, ErrAbsent
	}
	stored, _, err := view.PutIfAbsent(ctx, key, initial)
	if err != nil {
		return stored, err
	}
	return stored, nil
}

// PrintMemoryStats logs a summary of every named primitive this manager
// currently tracks locally, mirroring the source system's diagnostic
// printMemoryStats hook.
func (m *Manager) PrintMemoryStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[kind]int)
	for _, p := range m.named {
		counts[p.Kind()]++
	}
	log.Info("griddata memory stats",
		"atomicLong", counts[kindAtomicLong],
		"atomicReference", counts[kindAtomicReference],
		"atomicStamped", counts[kindAtomicStamped],
		"sequence", counts[kindSequence],
		"latch", counts[kindLatch],
		"queue", counts[kindQueue],
	)
}

// AtomicLong returns the named atomic long. If it does not already exist,
// AtomicLong creates it seeded with initial when create is true; when
// create is false it returns ErrAbsent instead (spec.md §4.1).
func (m *Manager) AtomicLong(ctx context.Context, name string, initial int64, create bool) (*AtomicLong, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	defer m.lock.leaveBusy()
	if err := m.checkTransactionalWithNear(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.named[name]; ok {
		defer m.mu.Unlock()
		p, ok := existing.(*AtomicLong)
		if !ok {
			return nil, newError(TypeMismatch, name, nil)
		}
		return p, nil
	}
	m.mu.Unlock()

	if _, err := getOrCreateNamed(ctx, m.atomicLongView, name, create, AtomicLongValue{V: initial}); err != nil {
		return nil, wrapCacheFailure(name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.named[name]; ok {
		p, ok := existing.(*AtomicLong)
		if !ok {
			return nil, newError(TypeMismatch, name, nil)
		}
		return p, nil
	}
	p := newAtomicLong(name, m.atomicLongView)
	m.named[name] = p
	return p, nil
}

// RemoveAtomicLong deletes the named atomic long's cache entry and local proxy.
func (m *Manager) RemoveAtomicLong(ctx context.Context, name string) error {
	if err := m.enter(ctx); err != nil {
		return err
	}
	defer m.lock.leaveBusy()
	return m.removeNamed(ctx, name, kindAtomicLong, func() (bool, error) {
		return m.atomicLongView.Remove(ctx, InternalKey{Name: name})
	})
}

// Sequence returns the named sequence generator. If it does not already
// exist, Sequence creates it seeded at initVal when create is true; when
// create is false it returns ErrAbsent instead (spec.md §4.1). On creation,
// per spec.md §4.2/SPEC_FULL.md §4.4, the winning proxy's first reservation
// window is seeded directly as [initVal, initVal+reserveSize-1] rather than
// lazily reserved on the first Next call.
func (m *Manager) Sequence(ctx context.Context, name string, initVal int64, create bool) (*Sequence, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	defer m.lock.leaveBusy()
	if err := m.checkTransactionalWithNear(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.named[name]; ok {
		defer m.mu.Unlock()
		p, ok := existing.(*Sequence)
		if !ok {
			return nil, newError(TypeMismatch, name, nil)
		}
		return p, nil
	}
	m.mu.Unlock()

	key := InternalKey{Name: name}
	_, found, err := m.seqView.Get(ctx, key)
	if err != nil {
		return nil, wrapCacheFailure(name, err)
	}
	if !found && !create {
		return nil, ErrAbsent
	}

	reserveSize := int64(m.backend.Mode().AtomicSequenceReserveSize)
	txTimeout := time.Duration(m.cfg.SequenceReserveTxTimeout) * time.Millisecond
	p := newSequence(name, m.backend, m.seqView, reserveSize, txTimeout)

	if !found {
		seeded := SequenceValue{Next: initVal + reserveSize}
		_, won, err := m.seqView.PutIfAbsent(ctx, key, seeded)
		if err != nil {
			return nil, wrapCacheFailure(name, err)
		}
		if won {
			p.localCounter = initVal
			p.upperBound = initVal + reserveSize - 1
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.named[name]; ok {
		p, ok := existing.(*Sequence)
		if !ok {
			return nil, newError(TypeMismatch, name, nil)
		}
		return p, nil
	}
	m.named[name] = p
	return p, nil
}

// RemoveSequence deletes the named sequence's cache entry and local proxy.
func (m *Manager) RemoveSequence(ctx context.Context, name string) error {
	if err := m.enter(ctx); err != nil {
		return err
	}
	defer m.lock.leaveBusy()
	return m.removeNamed(ctx, name, kindSequence, func() (bool, error) {
		return m.seqView.Remove(ctx, InternalKey{Name: name})
	})
}

// Latch returns the named count-down latch. If it does not already exist,
// Latch creates it with the given initial count and auto-delete behavior
// when create is true; when create is false it returns ErrAbsent instead
// (spec.md §4.1, §8 Testable scenario 2).
func (m *Manager) Latch(ctx context.Context, name string, count int32, autoDelete bool, create bool) (*Latch, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	defer m.lock.leaveBusy()
	if err := m.checkTransactionalWithNear(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.named[name]; ok {
		defer m.mu.Unlock()
		p, ok := existing.(*Latch)
		if !ok {
			return nil, newError(TypeMismatch, name, nil)
		}
		return p, nil
	}
	m.mu.Unlock()

	initial := LatchValue{Count: count, InitialCount: count, AutoDelete: autoDelete}
	stored, err := getOrCreateNamed(ctx, m.latchView, name, create, initial)
	if err != nil {
		return nil, wrapCacheFailure(name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.named[name]; ok {
		p, ok := existing.(*Latch)
		if !ok {
			return nil, newError(TypeMismatch, name, nil)
		}
		return p, nil
	}
	p := newLatch(name, m.latchView, m, stored)
	m.named[name] = p
	m.latches.register(p)
	return p, nil
}

// RemoveLatch deletes the named latch's cache entry and local proxy. It
// refuses with BusyLatch if the latch's last observed count is non-zero.
func (m *Manager) RemoveLatch(ctx context.Context, name string) error {
	if err := m.enter(ctx); err != nil {
		return err
	}
	defer m.lock.leaveBusy()

	m.mu.Lock()
	existing, ok := m.named[name]
	m.mu.Unlock()
	if ok {
		l, ok := existing.(*Latch)
		if !ok {
			return newError(TypeMismatch, name, nil)
		}
		if l.Count() > 0 {
			return newError(BusyLatch, name, nil)
		}
	}

	return m.removeNamed(ctx, name, kindLatch, func() (bool, error) {
		found, err := m.latchView.Remove(ctx, InternalKey{Name: name})
		m.latches.unregister(name)
		return found, err
	})
}

// Queue returns the named bounded FIFO queue's header proxy. If it does not
// already exist, Queue creates it with the given capacity and collocation
// preference when create is true; when create is false it returns ErrAbsent
// instead (spec.md §4.1). Non-collocated placement is only honored on a
// genuinely partitioned cache (SPEC_FULL.md §5); every other cache mode
// forces collocated.
func (m *Manager) Queue(ctx context.Context, name string, capacity int32, collocated bool, create bool) (*Queue, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	defer m.lock.leaveBusy()
	if err := m.checkSupportsQueue(name); err != nil {
		return nil, err
	}

	effColloc := effectiveCollocated(m.backend.Mode(), collocated)

	m.mu.Lock()
	if existing, ok := m.named[name]; ok {
		defer m.mu.Unlock()
		p, ok := existing.(*Queue)
		if !ok {
			return nil, newError(TypeMismatch, name, nil)
		}
		if p.Capacity() != capacity || p.Collocated() != effColloc {
			return nil, newError(QueueConflict, name, nil)
		}
		return p, nil
	}
	m.mu.Unlock()

	var hdr QueueHeader
	var err error
	if m.backend.Mode().Atomic {
		hdr, err = createQueueHeaderAtomic(ctx, m.queueHdrView, name, capacity, effColloc, create)
	} else {
		hdr, err = createQueueHeaderTxn(ctx, m.backend, m.queueHdrView, name, capacity, effColloc, create)
	}
	if err != nil {
		return nil, err
	}

	if err := m.queues.ensureStarted(ctx); err != nil {
		return nil, wrapCacheFailure(name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.named[name]; ok {
		p, ok := existing.(*Queue)
		if !ok {
			return nil, newError(TypeMismatch, name, nil)
		}
		return p, nil
	}
	p := newQueue(name, m.queueHdrView, hdr)
	m.named[name] = p
	m.queues.register(p)
	return p, nil
}

// RemoveQueue deletes the named queue's header and, through remover,
// its element payloads over [0, tail), where tail is the last tail index
// this manager's local proxy observed; with no local proxy for name, the
// remover is asked for the empty range [0, 0). A nil remover is a no-op:
// element storage is this module's explicit Non-goal.
func (m *Manager) RemoveQueue(ctx context.Context, name string, remover ElementBatchRemover) error {
	if err := m.enter(ctx); err != nil {
		return err
	}
	defer m.lock.leaveBusy()
	if remover == nil {
		remover = noopElementRemover{}
	}

	m.mu.Lock()
	existing, ok := m.named[name]
	m.mu.Unlock()
	var tail int64
	if ok {
		q, ok := existing.(*Queue)
		if !ok {
			return newError(TypeMismatch, name, nil)
		}
		q.mu.Lock()
		tail = q.header.Tail
		q.mu.Unlock()
	}

	return m.removeNamed(ctx, name, kindQueue, func() (bool, error) {
		found, err := m.queueHdrView.Remove(ctx, QueueHeaderKey{Name: name})
		m.queues.unregister(name)
		if found {
			if rmErr := remover.RemoveElements(ctx, name, 0, tail); rmErr != nil {
				log.Warn("griddata: element removal failed", "name", name, "err", rmErr)
			}
		}
		return found, err
	})
}

// removeNamed deletes the local registry entry for name (verifying its kind
// matches k) and calls doRemove to delete the backend cache entry.
func (m *Manager) removeNamed(ctx context.Context, name string, k kind, doRemove func() (bool, error)) error {
	m.mu.Lock()
	existing, ok := m.named[name]
	if ok && existing.Kind() != k {
		m.mu.Unlock()
		return newError(TypeMismatch, name, nil)
	}
	delete(m.named, name)
	m.mu.Unlock()

	if p, ok := existing.(interface{ markRemoved() }); ok {
		p.markRemoved()
	}
	_, err := doRemove()
	if err != nil {
		return wrapCacheFailure(name, err)
	}
	return nil
}

// AtomicReference returns the named atomic reference of type T. If it does
// not already exist, AtomicReference creates it seeded with initVal when
// create is true; when create is false it returns ErrAbsent instead
// (spec.md §4.1). It is a package-level generic function rather than a
// Manager method because Go does not support type parameters on methods.
func AtomicReference[T comparable](ctx context.Context, m *Manager, name string, initVal T, create bool) (*AtomicReferenceHandle[T], error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	defer m.lock.leaveBusy()
	if err := m.checkTransactionalWithNear(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.named[name]; ok {
		defer m.mu.Unlock()
		p, ok := existing.(*AtomicReferenceHandle[T])
		if !ok {
			return nil, newError(TypeMismatch, name, nil)
		}
		return p, nil
	}
	m.mu.Unlock()

	view := NewKindedView[InternalKey, AtomicReferenceValue[T]](m.backend, nsInternal, m.marshal, kindAtomicReference)
	if _, err := getOrCreateNamed(ctx, view, name, create, AtomicReferenceValue[T]{V: initVal}); err != nil {
		return nil, wrapCacheFailure(name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.named[name]; ok {
		p, ok := existing.(*AtomicReferenceHandle[T])
		if !ok {
			return nil, newError(TypeMismatch, name, nil)
		}
		return p, nil
	}
	p := newAtomicReference[T](name, view)
	m.named[name] = p
	return p, nil
}

// RemoveAtomicReference deletes the named atomic reference's cache entry
// and local proxy.
func RemoveAtomicReference[T comparable](ctx context.Context, m *Manager, name string) error {
	if err := m.enter(ctx); err != nil {
		return err
	}
	defer m.lock.leaveBusy()
	view := NewKindedView[InternalKey, AtomicReferenceValue[T]](m.backend, nsInternal, m.marshal, kindAtomicReference)
	return m.removeNamed(ctx, name, kindAtomicReference, func() (bool, error) {
		return view.Remove(ctx, InternalKey{Name: name})
	})
}

// AtomicStamped returns the named atomic stamped reference of type (T, S).
// If it does not already exist, AtomicStamped creates it seeded with
// initVal and initStamp when create is true; when create is false it
// returns ErrAbsent instead (spec.md §4.1).
func AtomicStamped[T, S comparable](ctx context.Context, m *Manager, name string, initVal T, initStamp S, create bool) (*AtomicStampedHandle[T, S], error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	defer m.lock.leaveBusy()
	if err := m.checkTransactionalWithNear(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.named[name]; ok {
		defer m.mu.Unlock()
		p, ok := existing.(*AtomicStampedHandle[T, S])
		if !ok {
			return nil, newError(TypeMismatch, name, nil)
		}
		return p, nil
	}
	m.mu.Unlock()

	view := NewKindedView[InternalKey, AtomicStampedValue[T, S]](m.backend, nsInternal, m.marshal, kindAtomicStamped)
	if _, err := getOrCreateNamed(ctx, view, name, create, AtomicStampedValue[T, S]{V: initVal, Stamp: initStamp}); err != nil {
		return nil, wrapCacheFailure(name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.named[name]; ok {
		p, ok := existing.(*AtomicStampedHandle[T, S])
		if !ok {
			return nil, newError(TypeMismatch, name, nil)
		}
		return p, nil
	}
	p := newAtomicStamped[T, S](name, view)
	m.named[name] = p
	return p, nil
}

// RemoveAtomicStamped deletes the named atomic stamped reference's cache
// entry and local proxy.
func RemoveAtomicStamped[T, S comparable](ctx context.Context, m *Manager, name string) error {
	if err := m.enter(ctx); err != nil {
		return err
	}
	defer m.lock.leaveBusy()
	view := NewKindedView[InternalKey, AtomicStampedValue[T, S]](m.backend, nsInternal, m.marshal, kindAtomicStamped)
	return m.removeNamed(ctx, name, kindAtomicStamped, func() (bool, error) {
		return view.Remove(ctx, InternalKey{Name: name})
	})
}
