package griddata

import (
	"context"
	"sync"
)

// ElementBatchRemover deletes a queue's element payloads over the index
// range [from, to) as part of RemoveQueue. The per-element data path is
// this module's explicit Non-goal (spec.md, SPEC_FULL.md §4.8): this
// interface is the seam a real deployment plugs its own element storage
// into, grounded on the source system's GridCacheQueueAdapter.removeKeys
// batch-removal call.
type ElementBatchRemover interface {
	RemoveElements(ctx context.Context, queueName string, from, to int64) error
}

// noopElementRemover discards the request. It is the default when the
// caller supplies no remover: the queue header's own head/tail bookkeeping
// already reflects removal regardless of whether element bytes are reclaimed.
type noopElementRemover struct{}

func (noopElementRemover) RemoveElements(ctx context.Context, queueName string, from, to int64) error {
	return nil
}

// memoryElementRemover is a minimal ElementBatchRemover over an in-process
// map. It exists to exercise the contract end-to-end in tests, not as a
// production element store.
type memoryElementRemover struct {
	mu   sync.Mutex
	data map[string]map[int64][]byte
}

func newMemoryElementRemover() *memoryElementRemover {
	return &memoryElementRemover{data: make(map[string]map[int64][]byte)}
}

// Put stores an element payload at index within queueName, for use by tests
// exercising Offer/Poll alongside RemoveElements.
func (r *memoryElementRemover) Put(queueName string, index int64, val []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.data[queueName]
	if !ok {
		m = make(map[int64][]byte)
		r.data[queueName] = m
	}
	m[index] = val
}

// Get returns the element payload stored at index within queueName, if any.
func (r *memoryElementRemover) Get(queueName string, index int64) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.data[queueName]
	if !ok {
		return nil, false
	}
	v, ok := m[index]
	return v, ok
}

// RemoveElements deletes every element in [from, to) for queueName.
func (r *memoryElementRemover) RemoveElements(ctx context.Context, queueName string, from, to int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.data[queueName]
	if !ok {
		return nil
	}
	for i := from; i < to; i++ {
		delete(m, i)
	}
	return nil
}
