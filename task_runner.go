package griddata

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// TaskRunner bounds the number of concurrently running tasks fanned out from
// one call site to maxThreadCount, using an errgroup.Group to join them and
// propagate the first error. The queue header watcher (§4.6) uses one
// TaskRunner per delivered continuous-query batch to fan callbacks out to
// local queue proxies without unbounded goroutine growth on a large batch.
type TaskRunner struct {
	maxThreadCount int
	eg             *errgroup.Group
	limiterChan    chan struct{}
	context        context.Context
}

// NewTaskRunner returns a TaskRunner whose tasks observe ctx's cancellation
// (via GetContext) and run at most maxThreadCount at a time.
func NewTaskRunner(ctx context.Context, maxThreadCount int) *TaskRunner {
	eg, ctx2 := errgroup.WithContext(ctx)
	return &TaskRunner{
		maxThreadCount: maxThreadCount,
		limiterChan:    make(chan struct{}, maxThreadCount),
		eg:             eg,
		context:        ctx2,
	}
}

// GetContext returns the errgroup-derived context, canceled as soon as any
// task returns a non-nil error.
func (tr *TaskRunner) GetContext() context.Context {
	return tr.context
}

// Go schedules task to run, blocking the caller if maxThreadCount tasks are
// already in flight.
func (tr *TaskRunner) Go(task func() error) {
	tr.limiterChan <- struct{}{}
	tr.eg.Go(func() error {
		defer func() { <-tr.limiterChan }()
		return task()
	})
}

// Wait blocks until every scheduled task has returned, and returns the first
// non-nil error, if any (errgroup.Group.Wait semantics).
func (tr *TaskRunner) Wait() error {
	return tr.eg.Wait()
}
