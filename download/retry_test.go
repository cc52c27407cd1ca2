package download_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/smartcache/download"
	sctesting "github.com/teranos/smartcache/internal/testing"
)

func TestSweepRequeuesFailedJobs(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store, job, _ := seedJob(t, db)
	ctx := context.Background()

	_, err := store.ClaimForDownload(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, job.ID, "transient"))

	runner := newRecordingRunner(1)
	pool := download.NewPool(runner, 1, 4)
	pool.Start(ctx)
	defer pool.Stop()

	// Zero backoff so the sweep fires immediately
	retrier := download.NewRetrier(store, pool, 3, 0, time.Minute)
	n, err := retrier.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	runner.wait(t, 1)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
}

func TestSweepHonorsBackoff(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store, job, _ := seedJob(t, db)
	ctx := context.Background()

	_, err := store.ClaimForDownload(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, job.ID, "transient"))

	pool := download.NewPool(newRecordingRunner(0), 1, 4)

	// Backoff far in the future: nothing requeues yet
	retrier := download.NewRetrier(store, pool, 3, time.Hour, time.Minute)
	n, err := retrier.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, download.StatusFailed, got.Status)
}

func TestSweepSkipsPermanentFailures(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store, job, _ := seedJob(t, db)
	ctx := context.Background()

	_, err := store.ClaimForDownload(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailedPermanent(ctx, job.ID, "over budget"))

	pool := download.NewPool(newRecordingRunner(0), 1, 4)
	retrier := download.NewRetrier(store, pool, 3, 0, time.Minute)

	n, err := retrier.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, download.StatusFailed, got.Status)
}
