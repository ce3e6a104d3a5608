// Package redis implements griddata.Backend over a shared Redis server or
// cluster, grounded on the teacher's redis/connection.go, redis/redis.go and
// redis/locker.go. Unlike the teacher's package-level singleton connection,
// each Backend owns its own *redis.Client instance, per the module-wide
// rule against process-wide singletons: two Managers in the same process
// can point at two different Redis deployments.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	rlib "github.com/redis/go-redis/v9"

	"github.com/hodiqual/griddata"
)

const changesChannel = "griddata:changes"

func init() {
	griddata.RegisterBackend(griddata.RedisBackend, func() (griddata.Backend, error) {
		return New(DefaultConfig())
	})
}

// Config configures the Redis-backed backend's connection and reported
// cache mode. The connection fields are the module-wide griddata.RedisConfig
// (address/password/DB/URL), the same shape the teacher's RedisCacheConfig
// exposes, so callers configure Redis connectivity once regardless of which
// package ends up dialing it.
type Config struct {
	griddata.RedisConfig
	TLSConfig *tls.Config

	// Mode is reported verbatim by Backend.Mode.
	Mode griddata.CacheMode
	// LockTTL bounds how long a pessimistic transaction may hold a key lock
	// before it expires and is eligible to be stolen, and also bounds how
	// long a caller will wait attempting to acquire one.
	LockTTL time.Duration
}

// DefaultConfig connects to a local Redis instance and reports a
// transactional, near-enabled, partitioned cache mode.
func DefaultConfig() Config {
	return Config{
		RedisConfig: griddata.RedisConfig{Address: "localhost:6379"},
		Mode: griddata.CacheMode{
			Transactional:             true,
			NearEnabled:               true,
			Partitioned:               true,
			AtomicSequenceReserveSize: 1000,
		},
		LockTTL: 5 * time.Second,
	}
}

// Backend is a griddata.Backend implementation coordinating across nodes
// through a shared Redis deployment.
type Backend struct {
	client   *rlib.Client
	cfg      Config
	originID string

	mu       sync.RWMutex
	handlers map[int]griddata.CommitHandler
	nextID   int

	subCancel context.CancelFunc
}

// New opens a connection to Redis and starts the internal commit-hook
// listener. Callers must call Close when finished. cfg.URL, when set,
// overrides Address/Password/DB per griddata.RedisConfig's documented
// precedence.
func New(cfg Config) (*Backend, error) {
	var opts *rlib.Options
	if cfg.URL != "" {
		var err error
		opts, err = rlib.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("griddata/redis: parsing URL: %w", err)
		}
		opts.TLSConfig = cfg.TLSConfig
	} else {
		opts = &rlib.Options{
			Addr:      cfg.Address,
			Password:  cfg.Password,
			DB:        cfg.DB,
			TLSConfig: cfg.TLSConfig,
		}
	}
	client := rlib.NewClient(opts)
	b := &Backend{
		client:   client,
		cfg:      cfg,
		originID: griddata.NewUUID().String(),
		handlers: make(map[int]griddata.CommitHandler),
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.subCancel = cancel
	go b.listenCommits(ctx)
	return b, nil
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

// wireEvent is the payload published over Redis Pub/Sub for both the
// commit-hook and continuous-query collaborators. Existed distinguishes a
// create from an update for commit-hook dispatch; Origin lets each node
// recognize its own writes, supporting the "Local" scope guard (SPEC_FULL.md §5).
type wireEvent struct {
	Namespace string `json:"ns"`
	Key       string `json:"key"`
	Value     []byte `json:"val,omitempty"`
	Removed   bool   `json:"removed"`
	Existed   bool   `json:"existed"`
	Origin    string `json:"origin"`
}

func (b *Backend) publish(ctx context.Context, namespace, key string, val []byte, removed, existed bool) {
	ev := wireEvent{Namespace: namespace, Key: key, Value: val, Removed: removed, Existed: existed, Origin: b.originID}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	b.client.Publish(ctx, changesChannel, data)
}

// Mode reports the configured cache mode.
func (b *Backend) Mode() griddata.CacheMode { return b.cfg.Mode }

// Get returns the current value at namespace/key.
func (b *Backend) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	v, err := b.client.Get(ctx, rkey(namespace, key)).Bytes()
	if err == rlib.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// PutIfAbsent stores val if namespace/key is absent, using SETNX.
func (b *Backend) PutIfAbsent(ctx context.Context, namespace, key string, val []byte) ([]byte, bool, error) {
	rk := rkey(namespace, key)
	ok, err := b.client.SetNX(ctx, rk, val, 0).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		b.publish(ctx, namespace, key, val, false, false)
		return val, true, nil
	}
	cur, err := b.client.Get(ctx, rk).Bytes()
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}

// Put unconditionally stores val at namespace/key.
func (b *Backend) Put(ctx context.Context, namespace, key string, val []byte) error {
	rk := rkey(namespace, key)
	existed, err := b.client.Exists(ctx, rk).Result()
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, rk, val, 0).Err(); err != nil {
		return err
	}
	b.publish(ctx, namespace, key, val, false, existed > 0)
	return nil
}

// Remove deletes namespace/key, reporting whether it was present.
func (b *Backend) Remove(ctx context.Context, namespace, key string) (bool, error) {
	n, err := b.client.Del(ctx, rkey(namespace, key)).Result()
	if err != nil {
		return false, err
	}
	if n > 0 {
		b.publish(ctx, namespace, key, nil, true, true)
	}
	return n > 0, nil
}

// Transform atomically replaces the value at namespace/key using an
// optimistic WATCH/MULTI/EXEC transaction. On a lost race Redis reports
// TxFailedErr, which griddata.ShouldRetry treats as retryable.
func (b *Backend) Transform(ctx context.Context, namespace, key string, fn func(cur []byte, found bool) ([]byte, error)) error {
	rk := rkey(namespace, key)
	var next []byte
	var existed bool
	err := b.client.Watch(ctx, func(rtx *rlib.Tx) error {
		cur, err := rtx.Get(ctx, rk).Bytes()
		existed = err != rlib.Nil
		if err != nil && err != rlib.Nil {
			return err
		}
		n, err := fn(cur, existed)
		if err != nil {
			return err
		}
		next = n
		_, err = rtx.TxPipelined(ctx, func(pipe rlib.Pipeliner) error {
			pipe.Set(ctx, rk, next, 0)
			return nil
		})
		return err
	}, rk)
	if err != nil {
		return err
	}
	b.publish(ctx, namespace, key, next, false, existed)
	return nil
}

// Subscribe registers fn against every committed write observed on the
// changesChannel, including writes made by other processes sharing this
// Redis deployment.
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

func (b *Backend) listenCommits(ctx context.Context) {
	sub := b.client.Subscribe(ctx, changesChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			b.dispatchCommit(ctx, ev)
		}
	}
}

func (b *Backend) dispatchCommit(ctx context.Context, ev wireEvent) {
	op := griddata.OpUpdate
	if ev.Removed {
		op = griddata.OpDelete
	} else if !ev.Existed {
		op = griddata.OpCreate
	}
	entry := griddata.CommitEntry{
		Namespace: ev.Namespace,
		Key:       ev.Key,
		Op:        op,
		Value:     ev.Value,
		Local:     ev.Origin == b.originID,
		MarkObsolete: func(ctx context.Context) error {
			_, err := b.Remove(ctx, ev.Namespace, ev.Key)
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
}

// CreateContinuousQuery returns a fresh, unexecuted continuous query backed
// by its own Pub/Sub subscription.
func (b *Backend) CreateContinuousQuery() griddata.ContinuousQuery {
	return &continuousQuery{b: b}
}

type continuousQuery struct {
	b        *Backend
	filter   func(namespace, key string) bool
	callback func(ctx context.Context, events []griddata.ChangeEvent)
	cancel   context.CancelFunc
	sub      *rlib.PubSub
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

// Execute starts the underlying Pub/Sub subscription. When localOnly is
// true, only events originating from this Backend instance are delivered.
func (q *continuousQuery) Execute(ctx context.Context, localOnly bool) error {
	subCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.sub = q.b.client.Subscribe(subCtx, changesChannel)
	sub := q.sub
	q.mu.Unlock()

	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev wireEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				if localOnly && ev.Origin != q.b.originID {
					continue
				}
				q.mu.Lock()
				filter, callback := q.filter, q.callback
				q.mu.Unlock()
				if filter != nil && !filter(ev.Namespace, ev.Key) {
					continue
				}
				if callback == nil {
					continue
				}
				callback(subCtx, []griddata.ChangeEvent{{
					Namespace: ev.Namespace,
					Key:       ev.Key,
					NewValue:  ev.Value,
					Removed:   ev.Removed,
				}})
			}
		}
	}()
	return nil
}

func (q *continuousQuery) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
	}
	if q.sub != nil {
		return q.sub.Close()
	}
	return nil
}

// StartTx begins a pessimistic transaction, emulated with per-key Redis
// locks (SET NX PX, grounded on the teacher's client.Lock in
// redis/locker.go) held for cfg.LockTTL.
func (b *Backend) StartTx(ctx context.Context, concurrency griddata.TxConcurrency, isolation griddata.TxIsolation) (griddata.Tx, error) {
	return &tx{
		b:           b,
		concurrency: concurrency,
		locks:       make(map[string]string),
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
	locks        map[string]string
	reads        map[string]cachedRead
	writes       map[string]*txWrite
	rollbackOnly bool
	mu           sync.Mutex
}

func (t *tx) acquireLock(ctx context.Context, rk string) error {
	if _, ok := t.locks[rk]; ok {
		return nil
	}
	lockKey := "L:" + rk
	token := griddata.NewUUID().String()
	deadline := time.Now().Add(t.b.cfg.LockTTL)
	for {
		ok, err := t.b.client.SetNX(ctx, lockKey, token, t.b.cfg.LockTTL).Result()
		if err != nil {
			return err
		}
		if ok {
			t.locks[rk] = token
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("griddata/redis: timed out acquiring lock on %s", rk)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (t *tx) releaseLocks(ctx context.Context) {
	for rk, token := range t.locks {
		lockKey := "L:" + rk
		if cur, err := t.b.client.Get(ctx, lockKey).Result(); err == nil && cur == token {
			t.b.client.Del(ctx, lockKey)
		}
	}
	t.locks = make(map[string]string)
}

// Get returns a repeatable-read view of namespace/key within the transaction.
func (t *tx) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	rk := rkey(namespace, key)
	t.mu.Lock()
	defer t.mu.Unlock()

	if w, ok := t.writes[rk]; ok {
		if w.removed {
			return nil, false, nil
		}
		return w.value, true, nil
	}
	if r, ok := t.reads[rk]; ok {
		return r.value, r.found, nil
	}
	if t.concurrency == griddata.Pessimistic {
		if err := t.acquireLock(ctx, rk); err != nil {
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
		if err := t.acquireLock(ctx, rk); err != nil {
			return err
		}
	}
	t.writes[rk] = &txWrite{value: val}
	return nil
}

// Remove buffers a delete to be applied at Commit.
func (t *tx) Remove(ctx context.Context, namespace, key string) (bool, error) {
	rk := rkey(namespace, key)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.concurrency == griddata.Pessimistic {
		if err := t.acquireLock(ctx, rk); err != nil {
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

// Commit applies buffered writes through a Redis pipeline, publishes one
// wireEvent per write, and releases held locks.
func (t *tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.releaseLocks(ctx)

	if t.rollbackOnly || len(t.writes) == 0 {
		t.writes = make(map[string]*txWrite)
		return nil
	}

	pipe := t.b.client.TxPipeline()
	for rk, w := range t.writes {
		if w.removed {
			pipe.Del(ctx, rk)
		} else {
			pipe.Set(ctx, rk, w.value, 0)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	for rk, w := range t.writes {
		namespace, key := splitKey(rk)
		existed := t.reads[rk].found
		t.b.publish(ctx, namespace, key, w.value, w.removed, existed)
	}
	return nil
}

// Rollback discards buffered writes and releases held locks.
func (t *tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = make(map[string]*txWrite)
	t.releaseLocks(ctx)
	return nil
}

// SetRollbackOnly marks the transaction so Commit rolls back instead.
func (t *tx) SetRollbackOnly() {
	t.mu.Lock()
	t.rollbackOnly = true
	t.mu.Unlock()
}

// Close releases the underlying Redis client and stops the commit-hook listener.
func (b *Backend) Close() error {
	b.subCancel()
	return b.client.Close()
}
