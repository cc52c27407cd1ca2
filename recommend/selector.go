// Package recommend picks which cached catalog entries are worth
// downloading for a user right now.
package recommend

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/smartcache/catalog"
	"github.com/teranos/smartcache/errors"
)

// DefaultMaxItems caps a recommendation batch when the caller does not
// ask for a specific size.
const DefaultMaxItems = 5

// Selector produces download recommendations from the catalog.
// Only entries already cached in durable storage are ever recommended.
type Selector struct {
	catalog *catalog.Store
	log     *zap.SugaredLogger
}

// NewSelector creates a selector backed by the given catalog store
func NewSelector(store *catalog.Store, log *zap.SugaredLogger) *Selector {
	return &Selector{catalog: store, log: log}
}

// Recommend returns up to maxItems entries for the user, drawn from their
// active subscriptions, newest first. A non-positive maxItems falls back
// to DefaultMaxItems.
func (s *Selector) Recommend(ctx context.Context, userID int64, maxItems int) ([]*catalog.Entry, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	sourceIDs, err := s.catalog.SubscribedSourceIDs(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve subscriptions for user %d", userID)
	}
	if len(sourceIDs) == 0 {
		s.log.Debugw("user has no active subscriptions", "user_id", userID)
		return nil, nil
	}

	entries, err := s.catalog.ListEligibleBySources(ctx, sourceIDs, maxItems)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to select entries for user %d", userID)
	}

	s.log.Debugw("selected recommendations",
		"user_id", userID,
		"sources", len(sourceIDs),
		"entries", len(entries))
	return entries, nil
}
