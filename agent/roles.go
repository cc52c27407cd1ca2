package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teranos/smartcache/ai"
	"github.com/teranos/smartcache/catalog"
	"github.com/teranos/smartcache/errors"
)

// TerminateMarker ends the loop early when it appears in a role's output
const TerminateMarker = "TERMINATE"

// ToolFunc executes one tool call and returns its result as text for
// the transcript
type ToolFunc func(ctx context.Context, args json.RawMessage) (string, error)

// Role is one member of the loop's fixed roster: a name, a system
// prompt, and the restricted tool set that turn may use. The roster is
// plain data so the turn order is visible at a glance.
type Role struct {
	Name   string
	Prompt string
	Tools  []ai.Tool
	Funcs  map[string]ToolFunc
}

// roster builds the fixed discovery, queueing, quality roster for one
// user's run. Discovery only reads the catalog, queueing is the only
// role that creates jobs, and quality only reads job state.
func (l *Loop) roster(user *catalog.User, maxItems int) []Role {
	return []Role{
		l.discoveryRole(user, maxItems),
		l.queueingRole(user),
		l.qualityRole(user),
	}
}

func (l *Loop) discoveryRole(user *catalog.User, maxItems int) Role {
	return Role{
		Name: "discovery",
		Prompt: "You scout fresh content for offline listening and reading. " +
			"Use list_recommendations to see what is cached and worth downloading, " +
			"then summarize the candidates by title and source for the queueing step.",
		Tools: []ai.Tool{{
			Name:        "list_recommendations",
			Description: "List cached catalog entries from the user's subscriptions, newest first",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"max_items": map[string]interface{}{
						"type":        "integer",
						"description": "maximum entries to return",
					},
				},
			},
		}},
		Funcs: map[string]ToolFunc{
			"list_recommendations": func(ctx context.Context, args json.RawMessage) (string, error) {
				var params struct {
					MaxItems int `json:"max_items"`
				}
				if len(args) > 0 {
					if err := json.Unmarshal(args, &params); err != nil {
						return "", errors.Wrap(err, "bad list_recommendations arguments")
					}
				}
				if params.MaxItems <= 0 || params.MaxItems > maxItems {
					params.MaxItems = maxItems
				}

				entries, err := l.selector.Recommend(ctx, user.ID, params.MaxItems)
				if err != nil {
					return "", err
				}
				if len(entries) == 0 {
					return "no eligible entries found", nil
				}

				var b strings.Builder
				for _, e := range entries {
					fmt.Fprintf(&b, "id=%d title=%q source=%s published=%s\n",
						e.ID, e.Title, e.SourceName, e.PublishedAt.Format(time.RFC3339))
				}
				return b.String(), nil
			},
		},
	}
}

func (l *Loop) queueingRole(user *catalog.User) Role {
	return Role{
		Name: "queueing",
		Prompt: "You queue downloads of the candidates discovery found. " +
			"Call queue_download once per catalog entry id. Already-queued entries " +
			"are fine to re-request, the queue deduplicates. Finish with drain_queue.",
		Tools: []ai.Tool{
			{
				Name:        "queue_download",
				Description: "Queue a download of a catalog entry for the user",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"catalog_entry_id": map[string]interface{}{
							"type":        "integer",
							"description": "id of the entry to download",
						},
					},
					"required": []string{"catalog_entry_id"},
				},
			},
			{
				Name:        "drain_queue",
				Description: "Push any stranded queued jobs into the worker pool",
				Parameters:  map[string]interface{}{"type": "object"},
			},
		},
		Funcs: map[string]ToolFunc{
			"queue_download": func(ctx context.Context, args json.RawMessage) (string, error) {
				var params struct {
					CatalogEntryID int64 `json:"catalog_entry_id"`
				}
				if err := json.Unmarshal(args, &params); err != nil {
					return "", errors.Wrap(err, "bad queue_download arguments")
				}

				entry, err := l.catalog.GetEntry(ctx, params.CatalogEntryID)
				if err != nil {
					if errors.IsNotFound(err) {
						return fmt.Sprintf("rejected: no catalog entry %d", params.CatalogEntryID), nil
					}
					return "", err
				}

				job, err := l.dispatcher.Enqueue(ctx, user, entry)
				if errors.IsNotEligible(err) {
					return fmt.Sprintf("rejected: %q is not cached in storage", entry.Title), nil
				}
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("queued %q as job %s (status %s)", job.Title, job.ID, job.Status), nil
			},
			"drain_queue": func(ctx context.Context, _ json.RawMessage) (string, error) {
				n, err := l.dispatcher.DrainQueue(ctx, user.ID)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("submitted %d queued jobs to the pool", n), nil
			},
		},
	}
}

func (l *Loop) qualityRole(user *catalog.User) Role {
	return Role{
		Name: "quality",
		Prompt: "You review the download queue. Use download_status to check " +
			"how many jobs are queued, downloading, ready, or failed. When the " +
			"batch is queued and nothing needs another pass, reply with " +
			TerminateMarker + ".",
		Tools: []ai.Tool{{
			Name:        "download_status",
			Description: "Count the user's download jobs by lifecycle state",
			Parameters:  map[string]interface{}{"type": "object"},
		}},
		Funcs: map[string]ToolFunc{
			"download_status": func(ctx context.Context, _ json.RawMessage) (string, error) {
				counts, err := l.jobs.CountsByStatus(ctx, user.ID)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("queued=%d downloading=%d ready=%d failed=%d",
					counts.Queued, counts.Downloading, counts.Ready, counts.Failed), nil
			},
		},
	}
}
