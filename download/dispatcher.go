package download

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/smartcache/bus"
	"github.com/teranos/smartcache/catalog"
	"github.com/teranos/smartcache/errors"
	"github.com/teranos/smartcache/logger"
)

// Dispatcher turns catalog entries into queued jobs. It owns the
// eligibility guard and the idempotency check, emits the queued
// acknowledgement after the row is committed, and only then hands the
// job to the pool.
type Dispatcher struct {
	store  *Store
	pool   *Pool
	events *bus.Bus
	log    *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher over the given store and pool
func NewDispatcher(store *Store, pool *Pool, events *bus.Bus) *Dispatcher {
	return &Dispatcher{
		store:  store,
		pool:   pool,
		events: events,
		log:    logger.Named("dispatcher"),
	}
}

// Enqueue queues a download of the entry for the user.
//
// An entry with no storage pointer fails with errors.ErrNotEligible:
// only media already cached in durable storage is downloadable. When
// the user already has an active job for the entry, that job is
// returned unchanged and no new work is created.
func (d *Dispatcher) Enqueue(ctx context.Context, user *catalog.User, entry *catalog.Entry) (*Job, error) {
	if !entry.Eligible() {
		return nil, errors.Wrapf(errors.ErrNotEligible,
			"entry %d (%s) is not cached in storage", entry.ID, entry.Title)
	}

	existing, err := d.store.FindActive(ctx, user.ID, entry.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		d.log.Debugw("entry already queued for user",
			"user_id", user.ID,
			"entry_id", entry.ID,
			"job_id", existing.ID)
		return existing, nil
	}

	job := &Job{
		UserID:         user.ID,
		CatalogEntryID: entry.ID,
		Title:          entry.Title,
		SourceName:     entry.SourceName,
		SourceKind:     string(entry.SourceKind),
		OriginURL:      entry.OriginURL,
		StorageURL:     entry.StorageURL,
	}
	if err := d.store.Create(ctx, job); err != nil {
		return nil, err
	}

	// The ack goes out only once the row exists, so a client that sees
	// download_queued can always fetch the job by ID
	d.events.Publish(bus.Event{
		UserID: user.ID,
		Type:   bus.EventDownloadQueued,
		Payload: map[string]interface{}{
			"download_id": job.ID,
			"title":       job.Title,
			"source":      job.SourceName,
			"status":      string(job.Status),
		},
	})

	if err := d.pool.Submit(job.ID); err != nil {
		// The job stays queued in the store and a later drain picks it
		// up, so a full pool is not an enqueue failure
		d.log.Warnw("pool rejected job, leaving queued",
			"job_id", job.ID,
			"error", err)
	}

	d.log.Infow("queued download",
		"job_id", job.ID,
		"user_id", user.ID,
		"title", job.Title)
	return job, nil
}

// DrainQueue submits the user's queued jobs to the pool, picking up
// work left queued by a previously full pool.
func (d *Dispatcher) DrainQueue(ctx context.Context, userID int64) (int, error) {
	jobs, err := d.store.ListQueuedByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return d.submitAll(jobs), nil
}

// DrainAll submits every user's queued jobs to the pool. Called once on
// startup to recover jobs stranded by a restart.
func (d *Dispatcher) DrainAll(ctx context.Context) (int, error) {
	jobs, err := d.store.ListQueued(ctx)
	if err != nil {
		return 0, err
	}
	return d.submitAll(jobs), nil
}

func (d *Dispatcher) submitAll(jobs []*Job) int {
	submitted := 0
	for _, job := range jobs {
		if err := d.pool.Submit(job.ID); err != nil {
			d.log.Warnw("queue full during drain", "job_id", job.ID)
			break
		}
		submitted++
	}

	if submitted > 0 {
		d.log.Infow("drained queued jobs into pool", "count", submitted)
	}
	return submitted
}
