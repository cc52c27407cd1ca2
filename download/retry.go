package download

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/smartcache/logger"
)

// Retrier sweeps failed jobs back into the queue with exponential
// backoff. Jobs marked permanent and jobs past the attempt budget are
// left alone.
type Retrier struct {
	store       *Store
	pool        *Pool
	maxAttempts int
	baseBackoff time.Duration
	interval    time.Duration
	log         *zap.SugaredLogger
}

// NewRetrier creates a retrier sweeping at the given interval
func NewRetrier(store *Store, pool *Pool, maxAttempts int, baseBackoff, interval time.Duration) *Retrier {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Retrier{
		store:       store,
		pool:        pool,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		interval:    interval,
		log:         logger.Named("retrier"),
	}
}

// Run sweeps until the context is cancelled
func (r *Retrier) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.log.Errorw("retry sweep failed", "error", err)
			} else if n > 0 {
				r.log.Infow("requeued failed jobs", "count", n)
			}
		}
	}
}

// Sweep requeues every failed job whose backoff window has elapsed.
// Returns how many jobs went back into the pool.
func (r *Retrier) Sweep(ctx context.Context) (int, error) {
	jobs, err := r.store.ListRetryable(ctx, r.maxAttempts)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	requeued := 0
	for _, job := range jobs {
		if now.Before(job.UpdatedAt.Add(r.backoff(job.RetryCount))) {
			continue
		}

		ok, err := r.store.Requeue(ctx, job.ID)
		if err != nil {
			r.log.Errorw("failed to requeue job", "job_id", job.ID, "error", err)
			continue
		}
		if !ok {
			// Lost a race with something else touching the job
			continue
		}

		if err := r.pool.Submit(job.ID); err != nil {
			// Stays queued in the store, the next drain gets it
			r.log.Warnw("queue full while retrying", "job_id", job.ID)
		}
		requeued++

		r.log.Infow("retrying failed download",
			"job_id", job.ID,
			"attempt", job.RetryCount+1,
			"max_attempts", r.maxAttempts)
	}
	return requeued, nil
}

// backoff doubles per prior attempt: base, 2*base, 4*base...
func (r *Retrier) backoff(retryCount int) time.Duration {
	d := r.baseBackoff
	for i := 0; i < retryCount; i++ {
		d *= 2
	}
	return d
}
