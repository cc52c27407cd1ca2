package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/smartcache/catalog"
	"github.com/teranos/smartcache/errors"
	sctesting "github.com/teranos/smartcache/internal/testing"
)

func TestGetEntry(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := catalog.NewStore(db)
	ctx := context.Background()

	sourceID := sctesting.SeedSource(t, db, "tech-weekly", "podcast")
	entryID := sctesting.SeedEntry(t, db, sctesting.EntrySeed{
		SourceID:   sourceID,
		Title:      "episode-42",
		StorageURL: "s3://cache/episode-42.mp3",
		SizeBytes:  1024,
	})

	entry, err := store.GetEntry(ctx, entryID)
	require.NoError(t, err)
	assert.Equal(t, "episode-42", entry.Title)
	assert.Equal(t, "tech-weekly", entry.SourceName)
	assert.Equal(t, catalog.SourceKindPodcast, entry.SourceKind)
	assert.Equal(t, "s3://cache/episode-42.mp3", entry.StorageURL)
	assert.True(t, entry.Eligible())
}

func TestGetEntryNotFound(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := catalog.NewStore(db)

	_, err := store.GetEntry(context.Background(), 9999)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestListEligibleBySourcesFiltersAndOrders(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := catalog.NewStore(db)
	ctx := context.Background()

	sourceID := sctesting.SeedSource(t, db, "daily-brief", "article")
	otherID := sctesting.SeedSource(t, db, "unrelated", "podcast")

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sctesting.SeedEntry(t, db, sctesting.EntrySeed{
		SourceID: sourceID, Title: "old-cached",
		StorageURL: "s3://cache/old.pdf", PublishedAt: base,
	})
	sctesting.SeedEntry(t, db, sctesting.EntrySeed{
		SourceID: sourceID, Title: "new-cached",
		StorageURL: "s3://cache/new.pdf", PublishedAt: base.Add(48 * time.Hour),
	})
	// Not cached yet, must never be selected
	sctesting.SeedEntry(t, db, sctesting.EntrySeed{
		SourceID: sourceID, Title: "newest-uncached",
		PublishedAt: base.Add(72 * time.Hour),
	})
	// Cached but from a source outside the requested set
	sctesting.SeedEntry(t, db, sctesting.EntrySeed{
		SourceID: otherID, Title: "other-cached",
		StorageURL: "s3://cache/other.mp3", PublishedAt: base.Add(96 * time.Hour),
	})

	entries, err := store.ListEligibleBySources(ctx, []int64{sourceID}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "new-cached", entries[0].Title)
	assert.Equal(t, "old-cached", entries[1].Title)
}

func TestListEligibleBySourcesLimit(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := catalog.NewStore(db)
	ctx := context.Background()

	sourceID := sctesting.SeedSource(t, db, "firehose", "podcast")
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		sctesting.SeedEntry(t, db, sctesting.EntrySeed{
			SourceID: sourceID, Title: "ep-" + string(rune('a'+i)),
			StorageURL:  "s3://cache/ep.mp3",
			PublishedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}

	entries, err := store.ListEligibleBySources(ctx, []int64{sourceID}, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestListEligibleBySourcesEmptySet(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := catalog.NewStore(db)

	entries, err := store.ListEligibleBySources(context.Background(), nil, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubscribedSourceIDs(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := catalog.NewStore(db)
	ctx := context.Background()

	userID := sctesting.SeedUser(t, db, "alice", "token-alice")
	lowID := sctesting.SeedSource(t, db, "low-priority", "article")
	highID := sctesting.SeedSource(t, db, "high-priority", "podcast")
	skipID := sctesting.SeedSource(t, db, "not-subscribed", "podcast")
	_ = skipID

	sctesting.SeedSubscription(t, db, userID, lowID, 1)
	sctesting.SeedSubscription(t, db, userID, highID, 5)

	ids, err := store.SubscribedSourceIDs(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []int64{highID, lowID}, ids)
}

func TestUserByToken(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := catalog.NewStore(db)
	ctx := context.Background()

	sctesting.SeedUser(t, db, "bob", "token-bob")

	user, err := store.UserByToken(ctx, "token-bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username)

	_, err = store.UserByToken(ctx, "wrong")
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))

	_, err = store.UserByToken(ctx, "")
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
}
