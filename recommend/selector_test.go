package recommend_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/smartcache/catalog"
	sctesting "github.com/teranos/smartcache/internal/testing"
	"github.com/teranos/smartcache/recommend"
)

func TestRecommendOnlySubscribedAndCached(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := catalog.NewStore(db)
	selector := recommend.NewSelector(store, zap.NewNop().Sugar())
	ctx := context.Background()

	userID := sctesting.SeedUser(t, db, "alice", "token-alice")
	subbedID := sctesting.SeedSource(t, db, "subscribed-pod", "podcast")
	otherID := sctesting.SeedSource(t, db, "other-pod", "podcast")
	sctesting.SeedSubscription(t, db, userID, subbedID, 1)

	base := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	sctesting.SeedEntry(t, db, sctesting.EntrySeed{
		SourceID: subbedID, Title: "cached-old",
		StorageURL: "s3://cache/a.mp3", PublishedAt: base,
	})
	sctesting.SeedEntry(t, db, sctesting.EntrySeed{
		SourceID: subbedID, Title: "cached-new",
		StorageURL: "s3://cache/b.mp3", PublishedAt: base.Add(24 * time.Hour),
	})
	// Uncached entries stay invisible to the selector even when newer
	sctesting.SeedEntry(t, db, sctesting.EntrySeed{
		SourceID: subbedID, Title: "uncached-newest",
		PublishedAt: base.Add(48 * time.Hour),
	})
	// Cached entry from a source the user does not follow
	sctesting.SeedEntry(t, db, sctesting.EntrySeed{
		SourceID: otherID, Title: "foreign-cached",
		StorageURL: "s3://cache/c.mp3", PublishedAt: base.Add(72 * time.Hour),
	})

	entries, err := selector.Recommend(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "cached-new", entries[0].Title)
	assert.Equal(t, "cached-old", entries[1].Title)
}

func TestRecommendTruncatesToMaxItems(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := catalog.NewStore(db)
	selector := recommend.NewSelector(store, zap.NewNop().Sugar())
	ctx := context.Background()

	userID := sctesting.SeedUser(t, db, "bob", "token-bob")
	sourceID := sctesting.SeedSource(t, db, "firehose", "article")
	sctesting.SeedSubscription(t, db, userID, sourceID, 1)

	base := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		sctesting.SeedEntry(t, db, sctesting.EntrySeed{
			SourceID: sourceID, Title: "item-" + string(rune('a'+i)),
			StorageURL:  "s3://cache/item.pdf",
			PublishedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}

	entries, err := selector.Recommend(ctx, userID, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRecommendDefaultMaxItems(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := catalog.NewStore(db)
	selector := recommend.NewSelector(store, zap.NewNop().Sugar())
	ctx := context.Background()

	userID := sctesting.SeedUser(t, db, "carol", "token-carol")
	sourceID := sctesting.SeedSource(t, db, "bulk", "podcast")
	sctesting.SeedSubscription(t, db, userID, sourceID, 1)

	base := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < recommend.DefaultMaxItems+4; i++ {
		sctesting.SeedEntry(t, db, sctesting.EntrySeed{
			SourceID: sourceID, Title: "bulk-" + string(rune('a'+i)),
			StorageURL:  "s3://cache/bulk.mp3",
			PublishedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}

	entries, err := selector.Recommend(ctx, userID, 0)
	require.NoError(t, err)
	assert.Len(t, entries, recommend.DefaultMaxItems)
}

func TestRecommendNoSubscriptions(t *testing.T) {
	db := sctesting.CreateTestDB(t)
	store := catalog.NewStore(db)
	selector := recommend.NewSelector(store, zap.NewNop().Sugar())

	userID := sctesting.SeedUser(t, db, "dave", "token-dave")

	entries, err := selector.Recommend(context.Background(), userID, 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
