// Package agent runs the recommendation and queueing conversation: a
// bounded loop over a fixed roster of roles, each turn giving a
// tool-calling oracle one role's prompt and restricted tool set. The
// roster and turn order are plain data, there is no framework state.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/smartcache/ai"
	"github.com/teranos/smartcache/bus"
	"github.com/teranos/smartcache/catalog"
	"github.com/teranos/smartcache/download"
	"github.com/teranos/smartcache/logger"
	"github.com/teranos/smartcache/recommend"
)

// Oracle is the tool-calling completion service driving each turn
type Oracle interface {
	Complete(ctx context.Context, system string, messages []ai.Message, tools []ai.Tool) (*ai.Completion, error)
}

// DefaultMaxTurns bounds a run when configuration does not
const DefaultMaxTurns = 10

// Loop orchestrates one user's recommendation and queueing run
type Loop struct {
	oracle     Oracle
	selector   *recommend.Selector
	dispatcher *download.Dispatcher
	catalog    *catalog.Store
	jobs       *download.Store
	events     *bus.Bus
	maxTurns   int
	log        *zap.SugaredLogger
}

// NewLoop wires a loop over the pipeline components
func NewLoop(oracle Oracle, selector *recommend.Selector, dispatcher *download.Dispatcher,
	cat *catalog.Store, jobs *download.Store, events *bus.Bus, maxTurns int) *Loop {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Loop{
		oracle:     oracle,
		selector:   selector,
		dispatcher: dispatcher,
		catalog:    cat,
		jobs:       jobs,
		events:     events,
		maxTurns:   maxTurns,
		log:        logger.Named("agent"),
	}
}

// Run executes one bounded conversation for the user. Every turn's
// output is published as it happens; on success the final event carries
// the user's job counts. Jobs created along the way keep running after
// the loop ends.
func (l *Loop) Run(ctx context.Context, user *catalog.User, maxItems int) error {
	if maxItems <= 0 {
		maxItems = recommend.DefaultMaxItems
	}

	l.events.Publish(bus.Event{
		UserID: user.ID,
		Type:   bus.EventExecutionStarted,
		Payload: map[string]interface{}{
			"message": fmt.Sprintf("finding up to %d downloads", maxItems),
		},
	})

	roster := l.roster(user, maxItems)
	transcript := []ai.Message{{
		Role: "user",
		Content: fmt.Sprintf(
			"Curate up to %d downloads for %s from their subscribed sources. "+
				"Only content already cached in storage can be queued.",
			maxItems, user.Username),
	}}

	for turn := 0; turn < l.maxTurns; turn++ {
		role := roster[turn%len(roster)]

		completion, err := l.oracle.Complete(ctx, role.Prompt, transcript, role.Tools)
		if err != nil {
			l.log.Errorw("oracle call failed", "turn", turn, "role", role.Name, "error", err)
			l.events.Publish(bus.Event{
				UserID: user.ID,
				Type:   bus.EventError,
				Payload: map[string]interface{}{
					"message": fmt.Sprintf("agent run aborted: %v", err),
				},
			})
			return err
		}

		transcript = append(transcript, ai.Message{
			Role:      "assistant",
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		})

		if completion.Text != "" {
			l.events.Publish(bus.Event{
				UserID: user.ID,
				Type:   bus.EventAgentMessage,
				Payload: map[string]interface{}{
					"agent":   role.Name,
					"message": completion.Text,
				},
			})
		}

		for _, call := range completion.ToolCalls {
			result := l.invokeTool(ctx, role, call)
			transcript = append(transcript, ai.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
			l.events.Publish(bus.Event{
				UserID: user.ID,
				Type:   bus.EventAgentMessage,
				Payload: map[string]interface{}{
					"agent":   role.Name,
					"message": fmt.Sprintf("%s: %s", call.Function.Name, result),
				},
			})
		}

		if strings.Contains(completion.Text, TerminateMarker) {
			l.log.Debugw("loop terminated by completion marker", "turn", turn, "role", role.Name)
			break
		}
	}

	counts, err := l.jobs.CountsByStatus(ctx, user.ID)
	if err != nil {
		return err
	}

	l.events.Publish(bus.Event{
		UserID: user.ID,
		Type:   bus.EventExecutionComplete,
		Payload: map[string]interface{}{
			"summary": map[string]interface{}{
				"total_downloads": counts.Total(),
				"queued":          counts.Queued,
				"downloading":     counts.Downloading,
				"ready":           counts.Ready,
				"failed":          counts.Failed,
			},
		},
	})
	l.log.Infow("agent run complete",
		"user_id", user.ID,
		"queued", counts.Queued,
		"ready", counts.Ready)
	return nil
}

// invokeTool runs one tool call against the role's registry. Unknown
// tools and tool errors become transcript text rather than aborting the
// run, the oracle can react to them on its next turn.
func (l *Loop) invokeTool(ctx context.Context, role Role, call ai.ToolCall) string {
	fn, ok := role.Funcs[call.Function.Name]
	if !ok {
		return fmt.Sprintf("error: role %s has no tool %q", role.Name, call.Function.Name)
	}

	result, err := fn(ctx, json.RawMessage(call.Function.Arguments))
	if err != nil {
		l.log.Warnw("tool call failed",
			"role", role.Name,
			"tool", call.Function.Name,
			"error", err)
		return fmt.Sprintf("error: %v", err)
	}
	return result
}
