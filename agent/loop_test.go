package agent_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/smartcache/agent"
	"github.com/teranos/smartcache/ai"
	"github.com/teranos/smartcache/bus"
	"github.com/teranos/smartcache/catalog"
	"github.com/teranos/smartcache/download"
	"github.com/teranos/smartcache/errors"
	sctesting "github.com/teranos/smartcache/internal/testing"
	"github.com/teranos/smartcache/recommend"
)

// scriptedOracle replays canned completions in order, then repeats the
// last one
type scriptedOracle struct {
	steps []*ai.Completion
	err   error
	calls int
}

func (o *scriptedOracle) Complete(_ context.Context, _ string, _ []ai.Message, _ []ai.Tool) (*ai.Completion, error) {
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	i := o.calls - 1
	if i >= len(o.steps) {
		i = len(o.steps) - 1
	}
	return o.steps[i], nil
}

func toolCall(id, name, args string) ai.ToolCall {
	var call ai.ToolCall
	call.ID = id
	call.Type = "function"
	call.Function.Name = name
	call.Function.Arguments = args
	return call
}

type loopFixture struct {
	loop   *agent.Loop
	oracle *scriptedOracle
	store  *download.Store
	events *bus.Bus
	user   *catalog.User
	sub    *bus.Subscription
}

func newLoopFixture(t *testing.T, oracle *scriptedOracle, maxTurns int) *loopFixture {
	t.Helper()
	db := sctesting.CreateTestDB(t)

	userID := sctesting.SeedUser(t, db, "alice", "token-alice")
	sourceID := sctesting.SeedSource(t, db, "tech-weekly", "podcast")
	sctesting.SeedSubscription(t, db, userID, sourceID, 1)
	sctesting.SeedEntry(t, db, sctesting.EntrySeed{
		SourceID:    sourceID,
		Title:       "episode-1",
		StorageURL:  "s3://cache/episode-1.mp3",
		PublishedAt: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
	})

	catStore := catalog.NewStore(db)
	jobStore := download.NewStore(db)
	events := bus.New()
	pool := download.NewPool(noopRunner{}, 1, 16)
	dispatcher := download.NewDispatcher(jobStore, pool, events)
	selector := recommend.NewSelector(catStore, zap.NewNop().Sugar())

	user := &catalog.User{ID: userID, Username: "alice"}
	sub := events.Subscribe(userID)
	t.Cleanup(func() { events.Unsubscribe(sub) })

	return &loopFixture{
		loop:   agent.NewLoop(oracle, selector, dispatcher, catStore, jobStore, events, maxTurns),
		oracle: oracle,
		store:  jobStore,
		events: events,
		user:   user,
		sub:    sub,
	}
}

type noopRunner struct{}

func (noopRunner) Execute(context.Context, string) {}

func drainEvents(sub *bus.Subscription) []bus.Event {
	var out []bus.Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []bus.Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestRunQueuesDiscoveredEntry(t *testing.T) {
	oracle := &scriptedOracle{steps: []*ai.Completion{
		{
			Text:      "checking the catalog",
			ToolCalls: []ai.ToolCall{toolCall("c1", "list_recommendations", `{"max_items": 5}`)},
		},
		{
			Text:      "queueing episode-1",
			ToolCalls: []ai.ToolCall{toolCall("c2", "queue_download", `{"catalog_entry_id": 1}`)},
		},
		{Text: "batch looks good. " + agent.TerminateMarker},
	}}
	fx := newLoopFixture(t, oracle, 10)

	require.NoError(t, fx.loop.Run(context.Background(), fx.user, 5))
	assert.Equal(t, 3, oracle.calls, "marker must stop the loop")

	jobs, err := fx.store.ListByUser(context.Background(), fx.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "episode-1", jobs[0].Title)

	events := drainEvents(fx.sub)
	types := eventTypes(events)
	assert.Equal(t, bus.EventExecutionStarted, types[0])
	assert.Contains(t, types, bus.EventAgentMessage)
	assert.Contains(t, types, bus.EventDownloadQueued)
	assert.Equal(t, bus.EventExecutionComplete, types[len(types)-1])

	final := events[len(events)-1]
	summary := final.Payload["summary"].(map[string]interface{})
	assert.Equal(t, 1, summary["total_downloads"])
	assert.Equal(t, 1, summary["queued"])
}

func TestRunTerminatesAtMaxTurns(t *testing.T) {
	// Never emits the marker, the turn cap is the only brake
	oracle := &scriptedOracle{steps: []*ai.Completion{{Text: "still thinking"}}}
	fx := newLoopFixture(t, oracle, 4)

	require.NoError(t, fx.loop.Run(context.Background(), fx.user, 5))
	assert.Equal(t, 4, oracle.calls)

	types := eventTypes(drainEvents(fx.sub))
	assert.Equal(t, bus.EventExecutionComplete, types[len(types)-1])
}

func TestRunOracleFailure(t *testing.T) {
	oracle := &scriptedOracle{err: errors.New("model not loaded")}
	fx := newLoopFixture(t, oracle, 10)

	err := fx.loop.Run(context.Background(), fx.user, 5)
	require.Error(t, err)

	events := drainEvents(fx.sub)
	types := eventTypes(events)
	assert.Contains(t, types, bus.EventError)
	assert.NotContains(t, types, bus.EventExecutionComplete)
}

func TestRunToolErrorsStayInTranscript(t *testing.T) {
	oracle := &scriptedOracle{steps: []*ai.Completion{
		{
			Text:      "trying a bogus entry",
			ToolCalls: []ai.ToolCall{toolCall("c1", "list_recommendations", `{}`)},
		},
		{
			Text:      "queueing something that does not exist",
			ToolCalls: []ai.ToolCall{toolCall("c2", "queue_download", `{"catalog_entry_id": 9999}`)},
		},
		{Text: agent.TerminateMarker},
	}}
	fx := newLoopFixture(t, oracle, 10)

	// A rejected tool call must not abort the run
	require.NoError(t, fx.loop.Run(context.Background(), fx.user, 5))

	jobs, err := fx.store.ListByUser(context.Background(), fx.user.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	var sawRejection bool
	for _, ev := range drainEvents(fx.sub) {
		if ev.Type != bus.EventAgentMessage {
			continue
		}
		if msg, ok := ev.Payload["message"].(string); ok && strings.Contains(msg, "rejected") {
			sawRejection = true
		}
	}
	assert.True(t, sawRejection, "rejection should surface as an agent message")
}
