package griddata

import "context"

// createQueueHeaderAtomic creates or validates a queue header with a single
// PutIfAbsent race, the variant used when the backend cache runs in atomic
// (non-transactional) mode and SupportsQueue() has already ruled out
// clock-ordered writes. A name with no existing header and create=false
// returns ErrAbsent (spec.md §4.1) instead of creating one.
func createQueueHeaderAtomic(ctx context.Context, headerView View[QueueHeaderKey, QueueHeader], name string, capacity int32, collocated bool, create bool) (QueueHeader, error) {
	key := QueueHeaderKey{Name: name}
	cur, found, err := headerView.Get(ctx, key)
	if err != nil {
		return QueueHeader{}, wrapCacheFailure(name, err)
	}
	if found {
		if cur.Removed {
			return QueueHeader{}, newError(QueueRemoved, name, nil)
		}
		if cur.Capacity != capacity || cur.Collocated != collocated {
			return QueueHeader{}, newError(QueueConflict, name, nil)
		}
		return cur, nil
	}
	if !create {
		return QueueHeader{}, ErrAbsent
	}
	hdr := QueueHeader{ID: NewUUID(), Capacity: capacity, Collocated: collocated}
	stored, won, err := headerView.PutIfAbsent(ctx, key, hdr)
	if err != nil {
		return QueueHeader{}, wrapCacheFailure(name, err)
	}
	if won {
		return stored, nil
	}
	if stored.Removed {
		return QueueHeader{}, newError(QueueRemoved, name, nil)
	}
	if stored.Capacity != capacity || stored.Collocated != collocated {
		return QueueHeader{}, newError(QueueConflict, name, nil)
	}
	return stored, nil
}
