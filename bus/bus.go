// Package bus fans download and orchestration events out to per-user
// subscribers. Delivery is at-most-once: events published while a user
// has no live subscription are dropped, and a subscriber that cannot
// keep up loses events rather than blocking the publisher.
package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/smartcache/logger"
)

// Event types carried on the bus. These match the websocket wire
// message types one to one.
const (
	EventExecutionStarted  = "execution_started"
	EventAgentMessage      = "agent_message"
	EventDownloadQueued    = "download_queued"
	EventDownloadReady     = "download_ready"
	EventDownloadFailed    = "download_failed"
	EventExecutionComplete = "execution_complete"
	EventError             = "error"
)

// Event is a single notification addressed to one user
type Event struct {
	UserID  int64                  `json:"-"`
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"-"`
}

// subscriberBuffer is the channel depth per subscription. A slow
// consumer drops events past this point.
const subscriberBuffer = 64

// Subscription is one consumer's view of a user's event stream
type Subscription struct {
	userID int64
	ch     chan Event
}

// Events returns the receive channel for this subscription
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Bus routes events to the subscriptions of their target user
type Bus struct {
	mu   sync.RWMutex
	subs map[int64]map[*Subscription]struct{}
	log  *zap.SugaredLogger
}

// New creates an empty event bus
func New() *Bus {
	return &Bus{
		subs: make(map[int64]map[*Subscription]struct{}),
		log:  logger.Named("bus"),
	}
}

// Subscribe registers a new consumer for the user's events.
// The caller must Unsubscribe when done.
func (b *Bus) Subscribe(userID int64) *Subscription {
	sub := &Subscription{
		userID: userID,
		ch:     make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[*Subscription]struct{})
	}
	b.subs[userID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
// Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[sub.userID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.userID)
	}
	close(sub.ch)
}

// Publish delivers the event to every live subscription of its user.
// It never blocks: full subscriber channels drop the event, and a user
// with no subscribers receives nothing.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// Sends happen under the read lock. Unsubscribe closes the channel
	// under the write lock, so a send can never race a close.
	for sub := range b.subs[ev.UserID] {
		select {
		case sub.ch <- ev:
		default:
			b.log.Warnw("dropping event for slow subscriber",
				"user_id", ev.UserID,
				"type", ev.Type)
		}
	}
}

// SubscriberCount reports how many subscriptions the user currently has
func (b *Bus) SubscriberCount(userID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
