package download_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/smartcache/bus"
	"github.com/teranos/smartcache/catalog"
	"github.com/teranos/smartcache/download"
	"github.com/teranos/smartcache/errors"
	sctesting "github.com/teranos/smartcache/internal/testing"
)

func cachedEntry(id int64, title string) *catalog.Entry {
	return &catalog.Entry{
		ID:         id,
		SourceName: "tech-weekly",
		SourceKind: catalog.SourceKindPodcast,
		Title:      title,
		OriginURL:  "https://example.com/" + title,
		StorageURL: "s3://cache/" + title + ".mp3",
	}
}

func TestEnqueueRejectsUncachedEntry(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := download.NewStore(db)
	pool := download.NewPool(newRecordingRunner(0), 1, 4)
	dispatcher := download.NewDispatcher(store, pool, bus.New())

	user := &catalog.User{ID: sctesting.SeedUser(t, db, "alice", "t-alice")}
	entry := cachedEntry(1, "not-yet-cached")
	entry.StorageURL = ""

	_, err := dispatcher.Enqueue(context.Background(), user, entry)
	require.Error(t, err)
	assert.True(t, errors.IsNotEligible(err))
}

func TestEnqueueIsIdempotent(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := download.NewStore(db)
	pool := download.NewPool(newRecordingRunner(0), 1, 4)
	dispatcher := download.NewDispatcher(store, pool, bus.New())
	ctx := context.Background()

	user := &catalog.User{ID: sctesting.SeedUser(t, db, "bob", "t-bob")}
	entry := cachedEntry(7, "episode-7")

	first, err := dispatcher.Enqueue(ctx, user, entry)
	require.NoError(t, err)
	second, err := dispatcher.Enqueue(ctx, user, entry)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "re-enqueue must return the existing active job")

	jobs, err := store.ListByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestEnqueueAfterTerminalCreatesNewJob(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := download.NewStore(db)
	pool := download.NewPool(newRecordingRunner(0), 1, 4)
	dispatcher := download.NewDispatcher(store, pool, bus.New())
	ctx := context.Background()

	user := &catalog.User{ID: sctesting.SeedUser(t, db, "carol", "t-carol")}
	entry := cachedEntry(9, "episode-9")

	first, err := dispatcher.Enqueue(ctx, user, entry)
	require.NoError(t, err)

	_, err = store.ClaimForDownload(ctx, first.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkReady(ctx, first.ID, "/tmp/e9.mp3", 1))

	second, err := dispatcher.Enqueue(ctx, user, entry)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestEnqueueEmitsQueuedAck(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := download.NewStore(db)
	pool := download.NewPool(newRecordingRunner(0), 1, 4)
	events := bus.New()
	dispatcher := download.NewDispatcher(store, pool, events)

	user := &catalog.User{ID: sctesting.SeedUser(t, db, "dave", "t-dave")}
	sub := events.Subscribe(user.ID)
	defer events.Unsubscribe(sub)

	job, err := dispatcher.Enqueue(context.Background(), user, cachedEntry(11, "episode-11"))
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, bus.EventDownloadQueued, ev.Type)
		assert.Equal(t, job.ID, ev.Payload["download_id"])
		assert.Equal(t, "episode-11", ev.Payload["title"])
		assert.Equal(t, "queued", ev.Payload["status"])

		// The ack only goes out once the row is fetchable
		got, err := store.Get(context.Background(), ev.Payload["download_id"].(string))
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("no queued ack received")
	}
}

func TestEnqueueSubmitsToPool(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := download.NewStore(db)
	runner := newRecordingRunner(1)
	pool := download.NewPool(runner, 1, 4)
	pool.Start(context.Background())
	defer pool.Stop()
	dispatcher := download.NewDispatcher(store, pool, bus.New())

	user := &catalog.User{ID: sctesting.SeedUser(t, db, "eve", "t-eve")}
	job, err := dispatcher.Enqueue(context.Background(), user, cachedEntry(13, "episode-13"))
	require.NoError(t, err)

	runner.wait(t, 1)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{job.ID}, runner.seen)
}

func TestEnqueueSurvivesFullPool(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := download.NewStore(db)
	// Unstarted pool with a single slot fills immediately
	pool := download.NewPool(newRecordingRunner(0), 1, 1)
	dispatcher := download.NewDispatcher(store, pool, bus.New())
	ctx := context.Background()

	user := &catalog.User{ID: sctesting.SeedUser(t, db, "frank", "t-frank")}

	first, err := dispatcher.Enqueue(ctx, user, cachedEntry(20, "fills-queue"))
	require.NoError(t, err)
	second, err := dispatcher.Enqueue(ctx, user, cachedEntry(21, "overflows"))
	require.NoError(t, err, "a full pool must not fail the enqueue")

	for _, job := range []*download.Job{first, second} {
		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, download.StatusQueued, got.Status)
	}
}

func TestDrainQueueOnlyForUser(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := download.NewStore(db)
	ctx := context.Background()

	grace := &catalog.User{ID: sctesting.SeedUser(t, db, "grace", "t-grace")}
	heidi := &catalog.User{ID: sctesting.SeedUser(t, db, "heidi", "t-heidi")}

	// Jobs created while no pool was accepting work
	stalled := download.NewPool(newRecordingRunner(0), 1, 1)
	preDispatcher := download.NewDispatcher(store, stalled, bus.New())
	for i := int64(0); i < 3; i++ {
		_, err := preDispatcher.Enqueue(ctx, grace, cachedEntry(30+i, "stranded"))
		require.NoError(t, err)
	}
	_, err := preDispatcher.Enqueue(ctx, heidi, cachedEntry(40, "someone-elses"))
	require.NoError(t, err)

	runner := newRecordingRunner(3)
	pool := download.NewPool(runner, 2, 8)
	pool.Start(ctx)
	defer pool.Stop()
	dispatcher := download.NewDispatcher(store, pool, bus.New())

	n, err := dispatcher.DrainQueue(ctx, grace.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "drain must only submit the user's own jobs")
	runner.wait(t, 3)
}

func TestDrainAllRecoversEveryUser(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := download.NewStore(db)
	ctx := context.Background()

	grace := &catalog.User{ID: sctesting.SeedUser(t, db, "grace", "t-grace")}
	heidi := &catalog.User{ID: sctesting.SeedUser(t, db, "heidi", "t-heidi")}

	stalled := download.NewPool(newRecordingRunner(0), 1, 1)
	preDispatcher := download.NewDispatcher(store, stalled, bus.New())
	_, err := preDispatcher.Enqueue(ctx, grace, cachedEntry(50, "stranded"))
	require.NoError(t, err)
	_, err = preDispatcher.Enqueue(ctx, heidi, cachedEntry(51, "stranded"))
	require.NoError(t, err)

	runner := newRecordingRunner(2)
	pool := download.NewPool(runner, 2, 8)
	pool.Start(ctx)
	defer pool.Stop()
	dispatcher := download.NewDispatcher(store, pool, bus.New())

	n, err := dispatcher.DrainAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	runner.wait(t, 2)
}
