package griddata

import (
	"context"
	"sync"
)

// Queue is a distributed, bounded FIFO queue header: it hands out
// monotonic tail indices on Offer and monotonic head indices on Poll,
// enforcing capacity, but says nothing about where element payloads live.
// That is a deliberate Non-goal (spec.md, SPEC_FULL.md §4.8): an
// ElementBatchRemover collaborator (queue_remover.go) owns the per-element
// data path, this type owns only the header's head/tail bookkeeping.
type Queue struct {
	base
	headerView View[QueueHeaderKey, QueueHeader]
	headerKey  QueueHeaderKey
	id         UUID

	mu     sync.Mutex
	sig    chan struct{}
	header QueueHeader
}

func newQueue(name string, headerView View[QueueHeaderKey, QueueHeader], header QueueHeader) *Queue {
	return &Queue{
		base:       newBase(name, kindQueue),
		headerView: headerView,
		headerKey:  QueueHeaderKey{Name: name},
		id:         header.ID,
		sig:        make(chan struct{}),
		header:     header,
	}
}

// Capacity returns the queue's fixed maximum element count.
func (q *Queue) Capacity() int32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.header.Capacity
}

// Collocated reports whether the queue's elements are required to live on
// the same partition as its header.
func (q *Queue) Collocated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.header.Collocated
}

// Size returns the last observed element count.
func (q *Queue) Size() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.header.Size()
}

// Empty reports whether the last observed header has no elements.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.header.Empty()
}

// Offer reserves the next tail index for a new element, reporting ok=false
// without error if the queue is at capacity. Callers are responsible for
// writing the element payload at the returned index through their own
// storage collaborator.
func (q *Queue) Offer(ctx context.Context) (index int64, ok bool, err error) {
	if err := q.checkRemoved(); err != nil {
		return 0, false, err
	}
	err = Retry(ctx, func(ctx context.Context) error {
		return q.headerView.TransformAsync(ctx, q.headerKey, func(cur QueueHeader, found bool) (QueueHeader, error) {
			if !found || cur.Removed || cur.ID != q.id {
				return QueueHeader{}, newError(QueueRemoved, q.name, nil)
			}
			if cur.Tail-cur.Head >= int64(cur.Capacity) {
				ok = false
				index = -1
				return cur, nil
			}
			index = cur.Tail
			cur.Tail++
			ok = true
			return cur, nil
		})
	}, nil)
	if err != nil {
		if ge, ge2 := err.(*Error); ge2 && ge.Code == QueueRemoved {
			q.markRemoved()
		}
		return 0, false, wrapCacheFailure(q.name, err)
	}
	return index, ok, nil
}

// Poll reserves the next head index to consume, reporting ok=false without
// error if the queue is empty.
func (q *Queue) Poll(ctx context.Context) (index int64, ok bool, err error) {
	if err := q.checkRemoved(); err != nil {
		return 0, false, err
	}
	err = Retry(ctx, func(ctx context.Context) error {
		return q.headerView.TransformAsync(ctx, q.headerKey, func(cur QueueHeader, found bool) (QueueHeader, error) {
			if !found || cur.Removed || cur.ID != q.id {
				return QueueHeader{}, newError(QueueRemoved, q.name, nil)
			}
			if cur.Tail <= cur.Head {
				ok = false
				index = -1
				return cur, nil
			}
			index = cur.Head
			cur.Head++
			ok = true
			return cur, nil
		})
	}, nil)
	if err != nil {
		if ge, ge2 := err.(*Error); ge2 && ge.Code == QueueRemoved {
			q.markRemoved()
		}
		return 0, false, wrapCacheFailure(q.name, err)
	}
	return index, ok, nil
}

// onUpdate applies a queue header watcher notification. A header carrying a
// different ID means this queue name was removed and recreated; treat that
// as removal of the proxy the caller is holding.
func (q *Queue) onUpdate(h QueueHeader) {
	q.mu.Lock()
	if h.ID != q.id {
		q.mu.Unlock()
		q.onRemoved()
		return
	}
	q.header = h
	q.mu.Unlock()
	q.broadcast()
}

func (q *Queue) onRemoved() {
	q.markRemoved()
	q.broadcast()
}

func (q *Queue) broadcast() {
	q.mu.Lock()
	old := q.sig
	q.sig = make(chan struct{})
	q.mu.Unlock()
	close(old)
}

// effectiveCollocated honors non-collocated placement only on a genuinely
// partitioned cache; every other cache mode forces collocated (SPEC_FULL.md
// §5, ported from the source system's queue0 collocMode computation).
func effectiveCollocated(mode CacheMode, requested bool) bool {
	if !mode.Partitioned {
		return true
	}
	return requested
}
