// Package memory implements griddata.Backend over a sharded in-process map.
// It is grounded on the teacher's cache/l2inmemorycache.go and
// cache/l2inmemorycache.sharded_map.go: fnv-hashed shards, each guarded by
// its own sync.RWMutex, avoid a single global lock becoming a bottleneck
// under concurrent named-primitive creation.
//
// Unlike the teacher's cache, this backend never evicts: the data structures
// layered on top of it hold a small, caller-controlled set of named
// primitives, not an open-ended working set, so capacity-based eviction
// would silently corrupt state instead of freeing memory pressure.
package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/hodiqual/griddata"
)

const shardCount = 64

func init() {
	griddata.RegisterBackend(griddata.InMemoryBackend, func() (griddata.Backend, error) {
		return New(griddata.DefaultManagerConfig().Mode), nil
	})
}

type record struct {
	value   []byte
	version uint64
}

type shard struct {
	mu    sync.RWMutex
	items map[string]*record
}

// Backend is an in-process griddata.Backend, suitable for a single node or
// for tests. It requires no external services.
type Backend struct {
	shards [shardCount]*shard
	mode   griddata.CacheMode

	mu       sync.RWMutex
	handlers map[int]griddata.CommitHandler
	nextID   int

	queryMu sync.Mutex
	queries map[*continuousQuery]struct{}

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New returns an empty in-process Backend reporting the given cache mode.
func New(mode griddata.CacheMode) *Backend {
	b := &Backend{
		mode:     mode,
		handlers: make(map[int]griddata.CommitHandler),
		queries:  make(map[*continuousQuery]struct{}),
		locks:    make(map[string]*sync.Mutex),
	}
	for i := range b.shards {
		b.shards[i] = &shard{items: make(map[string]*record)}
	}
	return b
}

func rkey(namespace, key string) string {
	return namespace + ":" + key
}

func splitKey(rk string) (namespace, key string) {
	i := strings.IndexByte(rk, ':')
	if i < 0 {
		return rk, ""
	}
	return rk[:i], rk[i+1:]
}

func (b *Backend) shardFor(rk string) *shard {
	h := fnv.New32a()
	h.Write([]byte(rk))
	return b.shards[h.Sum32()%shardCount]
}

func (b *Backend) lockFor(rk string) *sync.Mutex {
	b.lockMu.Lock()
	defer b.lockMu.Unlock()
	l, ok := b.locks[rk]
	if !ok {
		l = &sync.Mutex{}
		b.locks[rk] = l
	}
	return l
}

// Mode reports the configured cache mode.
func (b *Backend) Mode() griddata.CacheMode { return b.mode }

// Get returns the current value at namespace/key.
func (b *Backend) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	rk := rkey(namespace, key)
	s := b.shardFor(rk)
	s.mu.RLock()
	r, ok := s.items[rk]
	var out []byte
	if ok {
		out = append([]byte(nil), r.value...)
	}
	s.mu.RUnlock()
	return out, ok, nil
}

// PutIfAbsent stores val if namespace/key is absent.
func (b *Backend) PutIfAbsent(ctx context.Context, namespace, key string, val []byte) ([]byte, bool, error) {
	rk := rkey(namespace, key)
	s := b.shardFor(rk)
	s.mu.Lock()
	if r, ok := s.items[rk]; ok {
		cur := append([]byte(nil), r.value...)
		s.mu.Unlock()
		return cur, false, nil
	}
	stored := append([]byte(nil), val...)
	s.items[rk] = &record{value: stored, version: 1}
	s.mu.Unlock()
	b.publish(ctx, namespace, key, stored, false, false)
	return val, true, nil
}

// Put unconditionally stores val at namespace/key.
func (b *Backend) Put(ctx context.Context, namespace, key string, val []byte) error {
	rk := rkey(namespace, key)
	s := b.shardFor(rk)
	stored := append([]byte(nil), val...)
	s.mu.Lock()
	r, existed := s.items[rk]
	if existed {
		r.value = stored
		r.version++
	} else {
		s.items[rk] = &record{value: stored, version: 1}
	}
	s.mu.Unlock()
	b.publish(ctx, namespace, key, stored, false, existed)
	return nil
}

// Remove deletes namespace/key, reporting whether it was present.
func (b *Backend) Remove(ctx context.Context, namespace, key string) (bool, error) {
	rk := rkey(namespace, key)
	s := b.shardFor(rk)
	s.mu.Lock()
	_, existed := s.items[rk]
	delete(s.items, rk)
	s.mu.Unlock()
	if existed {
		b.publish(ctx, namespace, key, nil, true, true)
	}
	return existed, nil
}

// Transform atomically replaces the value at namespace/key with fn's result,
// holding the shard lock for the duration of the call.
func (b *Backend) Transform(ctx context.Context, namespace, key string, fn func(cur []byte, found bool) ([]byte, error)) error {
	rk := rkey(namespace, key)
	s := b.shardFor(rk)
	s.mu.Lock()
	r, ok := s.items[rk]
	var cur []byte
	if ok {
		cur = append([]byte(nil), r.value...)
	}
	next, err := fn(cur, ok)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	stored := append([]byte(nil), next...)
	if ok {
		r.value = stored
		r.version++
	} else {
		s.items[rk] = &record{value: stored, version: 1}
	}
	s.mu.Unlock()
	b.publish(ctx, namespace, key, stored, false, ok)
	return nil
}

// Subscribe registers fn against every committed write on this backend.
func (b *Backend) Subscribe(fn griddata.CommitHandler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

func (b *Backend) publish(ctx context.Context, namespace, key string, val []byte, removed, existed bool) {
	op := griddata.OpUpdate
	if removed {
		op = griddata.OpDelete
	} else if !existed {
		op = griddata.OpCreate
	}
	entry := griddata.CommitEntry{
		Namespace: namespace,
		Key:       key,
		Op:        op,
		Value:     val,
		Local:     true,
		MarkObsolete: func(ctx context.Context) error {
			_, err := b.Remove(ctx, namespace, key)
			return err
		},
	}

	b.mu.RLock()
	handlers := make([]griddata.CommitHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, []griddata.CommitEntry{entry})
	}

	ev := griddata.ChangeEvent{Namespace: namespace, Key: key, NewValue: val, Removed: removed}
	b.queryMu.Lock()
	qs := make([]*continuousQuery, 0, len(b.queries))
	for q := range b.queries {
		qs = append(qs, q)
	}
	b.queryMu.Unlock()
	for _, q := range qs {
		q.deliver(ctx, ev)
	}
}

// CreateContinuousQuery returns a fresh, unexecuted continuous query.
func (b *Backend) CreateContinuousQuery() griddata.ContinuousQuery {
	return &continuousQuery{b: b}
}

// Close releases backend resources. The in-process backend holds none.
func (b *Backend) Close() error { return nil }

// StartTx begins a pessimistic or optimistic transaction against this backend.
func (b *Backend) StartTx(ctx context.Context, concurrency griddata.TxConcurrency, isolation griddata.TxIsolation) (griddata.Tx, error) {
	return &tx{
		b:           b,
		concurrency: concurrency,
		locked:      make(map[string]*sync.Mutex),
		reads:       make(map[string]cachedRead),
		writes:      make(map[string]*txWrite),
	}, nil
}

type cachedRead struct {
	value []byte
	found bool
}

type txWrite struct {
	value   []byte
	removed bool
}

type tx struct {
	b            *Backend
	concurrency  griddata.TxConcurrency
	locked       map[string]*sync.Mutex
	reads        map[string]cachedRead
	writes       map[string]*txWrite
	rollbackOnly bool
	mu           sync.Mutex
}

// lockKey acquires the advisory per-key mutex used to emulate pessimistic
// locking, polling with a short sleep rather than blocking indefinitely so a
// deadlocked pair of transactions surfaces as a retryable error instead of
// hanging forever.
func (t *tx) lockKey(ctx context.Context, rk string) error {
	if _, ok := t.locked[rk]; ok {
		return nil
	}
	l := t.b.lockFor(rk)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if l.TryLock() {
			t.locked[rk] = l
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("griddata/memory: timed out acquiring lock on %s", rk)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (t *tx) releaseLocks() {
	for _, l := range t.locked {
		l.Unlock()
	}
	t.locked = make(map[string]*sync.Mutex)
}

// Get returns a repeatable-read view: the first read of a key within the
// transaction is cached and returned on every subsequent read.
func (t *tx) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	rk := rkey(namespace, key)
	t.mu.Lock()
	defer t.mu.Unlock()

	if w, ok := t.writes[rk]; ok {
		if w.removed {
			return nil, false, nil
		}
		return append([]byte(nil), w.value...), true, nil
	}
	if r, ok := t.reads[rk]; ok {
		return append([]byte(nil), r.value...), r.found, nil
	}
	if t.concurrency == griddata.Pessimistic {
		if err := t.lockKey(ctx, rk); err != nil {
			return nil, false, err
		}
	}
	v, found, err := t.b.Get(ctx, namespace, key)
	if err != nil {
		return nil, false, err
	}
	t.reads[rk] = cachedRead{value: v, found: found}
	return v, found, nil
}

// Put buffers val to be written at Commit.
func (t *tx) Put(ctx context.Context, namespace, key string, val []byte) error {
	rk := rkey(namespace, key)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.concurrency == griddata.Pessimistic {
		if err := t.lockKey(ctx, rk); err != nil {
			return err
		}
	}
	t.writes[rk] = &txWrite{value: append([]byte(nil), val...)}
	return nil
}

// Remove buffers a delete to be applied at Commit.
func (t *tx) Remove(ctx context.Context, namespace, key string) (bool, error) {
	rk := rkey(namespace, key)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.concurrency == griddata.Pessimistic {
		if err := t.lockKey(ctx, rk); err != nil {
			return false, err
		}
	}
	var existed bool
	if w, ok := t.writes[rk]; ok {
		existed = !w.removed
	} else if r, ok := t.reads[rk]; ok {
		existed = r.found
	} else {
		_, found, err := t.b.Get(ctx, namespace, key)
		if err != nil {
			return false, err
		}
		existed = found
	}
	t.writes[rk] = &txWrite{removed: true}
	return existed, nil
}

// Commit applies buffered writes and releases held locks. A transaction
// marked rollback-only discards its writes instead.
func (t *tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.releaseLocks()

	if t.rollbackOnly {
		t.writes = make(map[string]*txWrite)
		return nil
	}
	for rk, w := range t.writes {
		namespace, key := splitKey(rk)
		if w.removed {
			if _, err := t.b.Remove(ctx, namespace, key); err != nil {
				return err
			}
			continue
		}
		if err := t.b.Put(ctx, namespace, key, w.value); err != nil {
			return err
		}
	}
	return nil
}

// Rollback discards buffered writes and releases held locks.
func (t *tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = make(map[string]*txWrite)
	t.releaseLocks()
	return nil
}

// SetRollbackOnly marks the transaction so Commit rolls back instead.
func (t *tx) SetRollbackOnly() {
	t.mu.Lock()
	t.rollbackOnly = true
	t.mu.Unlock()
}

type continuousQuery struct {
	b        *Backend
	filter   func(namespace, key string) bool
	callback func(ctx context.Context, events []griddata.ChangeEvent)
	executed bool
	mu       sync.Mutex
}

func (q *continuousQuery) Filter(fn func(namespace, key string) bool) {
	q.mu.Lock()
	q.filter = fn
	q.mu.Unlock()
}

func (q *continuousQuery) Callback(fn func(ctx context.Context, events []griddata.ChangeEvent)) {
	q.mu.Lock()
	q.callback = fn
	q.mu.Unlock()
}

// Execute registers the query for delivery. localOnly is a no-op here: every
// write on an in-process backend is by definition local.
func (q *continuousQuery) Execute(ctx context.Context, localOnly bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.executed {
		return nil
	}
	q.executed = true
	q.b.queryMu.Lock()
	q.b.queries[q] = struct{}{}
	q.b.queryMu.Unlock()
	return nil
}

func (q *continuousQuery) deliver(ctx context.Context, ev griddata.ChangeEvent) {
	q.mu.Lock()
	filter, callback := q.filter, q.callback
	q.mu.Unlock()
	if filter != nil && !filter(ev.Namespace, ev.Key) {
		return
	}
	if callback == nil {
		return
	}
	callback(ctx, []griddata.ChangeEvent{ev})
}

func (q *continuousQuery) Close() error {
	q.b.queryMu.Lock()
	delete(q.b.queries, q)
	q.b.queryMu.Unlock()
	return nil
}
