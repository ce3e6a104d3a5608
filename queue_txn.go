package griddata

import "context"

// createQueueHeaderTxn creates or validates a queue header under a
// pessimistic, repeatable-read transaction, the variant used when the
// backend cache is transactional. A pre-existing header with a mismatched
// capacity or collocation is a QueueConflict, per SPEC_FULL.md §4.8. A name
// with no existing header and create=false rolls back and returns ErrAbsent
// (spec.md §4.1 step 4).
func createQueueHeaderTxn(ctx context.Context, backend Backend, headerView View[QueueHeaderKey, QueueHeader], name string, capacity int32, collocated bool, create bool) (QueueHeader, error) {
	key := QueueHeaderKey{Name: name}
	var result QueueHeader
	err := Retry(ctx, func(ctx context.Context) error {
		t, err := backend.StartTx(ctx, Pessimistic, RepeatableRead)
		if err != nil {
			return err
		}
		cur, found, err := headerView.GetTx(ctx, t, key)
		if err != nil {
			t.Rollback(ctx)
			return err
		}
		if found && !cur.Removed {
			if cur.Capacity != capacity || cur.Collocated != collocated {
				t.Rollback(ctx)
				return newError(QueueConflict, name, nil)
			}
			result = cur
			t.Rollback(ctx)
			return nil
		}
		if !create {
			t.Rollback(ctx)
			return ErrAbsent
		}
		hdr := QueueHeader{ID: NewUUID(), Capacity: capacity, Collocated: collocated}
		if err := headerView.PutTx(ctx, t, key, hdr); err != nil {
			t.Rollback(ctx)
			return err
		}
		if err := t.Commit(ctx); err != nil {
			return err
		}
		result = hdr
		return nil
	}, nil)
	if err != nil {
		return QueueHeader{}, wrapCacheFailure(name, err)
	}
	return result, nil
}
