package download

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/smartcache/errors"
	"github.com/teranos/smartcache/logger"
)

// Runner executes one claimed job to completion. The pool does not care
// how: the executor streams bytes, tests can substitute anything.
type Runner interface {
	Execute(ctx context.Context, jobID string)
}

// Pool runs download jobs on a fixed set of workers fed by a bounded
// queue. Submit never blocks: a full queue is an error the caller
// surfaces to the user.
type Pool struct {
	runner  Runner
	jobs    chan string
	workers int
	log     *zap.SugaredLogger

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPool creates a pool with the given worker count and queue depth
func NewPool(runner Runner, workers, queueDepth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	return &Pool{
		runner:  runner,
		jobs:    make(chan string, queueDepth),
		workers: workers,
		log:     logger.Named("pool"),
	}
}

// Start launches the workers. Subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
		p.log.Infow("worker pool started", "workers", p.workers, "queue_depth", cap(p.jobs))
	})
}

// Submit hands a job ID to the pool without blocking.
// Returns errors.ErrQueueFull when the queue is at capacity.
func (p *Pool) Submit(jobID string) error {
	select {
	case p.jobs <- jobID:
		return nil
	default:
		return errors.Wrapf(errors.ErrQueueFull, "job %s", jobID)
	}
}

// Stop cancels in-flight work and waits for the workers to exit
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		p.log.Info("worker pool stopped")
	})
}

// QueueLen reports how many jobs are waiting for a worker
func (p *Pool) QueueLen() int {
	return len(p.jobs)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-p.jobs:
			p.log.Debugw("worker picked up job", "worker", id, "job_id", jobID)
			p.runner.Execute(ctx, jobID)
		}
	}
}
