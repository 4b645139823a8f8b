package coordinator

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// InProcessDispatcher runs each job on its own goroutine inside the API
// process. Runs are detached from the request that queued them.
type InProcessDispatcher struct {
	run    func(ctx context.Context, job Job) error
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewInProcessDispatcher(run func(ctx context.Context, job Job) error, logger *zap.Logger) *InProcessDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InProcessDispatcher{run: run, logger: logger}
}

func (d *InProcessDispatcher) Dispatch(ctx context.Context, job Job) error {
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.run(bg, job); err != nil {
			d.logger.Warn("run failed", zap.String("run_id", job.RunID), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has returned.
func (d *InProcessDispatcher) Wait() {
	d.wg.Wait()
}
