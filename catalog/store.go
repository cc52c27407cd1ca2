package catalog

import (
	"context"
	"database/sql"

	"github.com/teranos/smartcache/errors"
)

// Store handles read access to catalog metadata
type Store struct {
	db *sql.DB
}

// NewStore creates a new catalog store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const entrySelectColumns = `
	e.id, e.source_id, s.name, s.kind, e.title, e.description,
	e.origin_url, e.media_url, e.storage_url, e.storage_provider,
	e.file_size_bytes, e.published_at, e.guid`

// GetEntry retrieves a catalog entry by ID.
// Returns an error wrapping errors.ErrNotFound when no entry exists.
func (s *Store) GetEntry(ctx context.Context, id int64) (*Entry, error) {
	query := `SELECT ` + entrySelectColumns + `
		FROM catalog_entries e
		JOIN sources s ON s.id = e.source_id
		WHERE e.id = ?`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "catalog entry %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get catalog entry")
	}
	return entry, nil
}

// ListBySources returns entries belonging to the given sources, newest first.
func (s *Store) ListBySources(ctx context.Context, sourceIDs []int64, limit int) ([]*Entry, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + entrySelectColumns + `
		FROM catalog_entries e
		JOIN sources s ON s.id = e.source_id
		WHERE e.source_id IN (` + placeholders(len(sourceIDs)) + `)
		ORDER BY e.published_at DESC
		LIMIT ?`

	args := make([]interface{}, 0, len(sourceIDs)+1)
	for _, id := range sourceIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list entries by sources")
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ListEligibleBySources returns entries from the given sources whose media
// is cached in durable storage, newest first. This is the selector's query:
// entries without a storage pointer never appear.
func (s *Store) ListEligibleBySources(ctx context.Context, sourceIDs []int64, limit int) ([]*Entry, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + entrySelectColumns + `
		FROM catalog_entries e
		JOIN sources s ON s.id = e.source_id
		WHERE e.source_id IN (` + placeholders(len(sourceIDs)) + `)
		  AND e.storage_url IS NOT NULL
		  AND e.storage_url != ''
		ORDER BY e.published_at DESC
		LIMIT ?`

	args := make([]interface{}, 0, len(sourceIDs)+1)
	for _, id := range sourceIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list eligible entries")
	}
	defer rows.Close()

	return scanEntries(rows)
}

// SubscribedSourceIDs returns the active source IDs a user follows,
// highest priority first.
func (s *Store) SubscribedSourceIDs(ctx context.Context, userID int64) ([]int64, error) {
	query := `SELECT sub.source_id
		FROM subscriptions sub
		JOIN sources s ON s.id = sub.source_id
		WHERE sub.user_id = ?
		  AND sub.is_active = 1
		  AND s.is_active = 1
		ORDER BY sub.priority DESC, sub.source_id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list subscribed sources")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan source id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating subscriptions")
	}
	return ids, nil
}

// UserByToken resolves an API token to a user.
// Returns an error wrapping errors.ErrUnauthorized for unknown tokens.
func (s *Store) UserByToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, errors.Wrap(errors.ErrUnauthorized, "empty token")
	}

	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username FROM users WHERE api_token = ?`, token,
	).Scan(&u.ID, &u.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(errors.ErrUnauthorized, "unknown token")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up token")
	}
	return &u, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var mediaURL, storageURL sql.NullString
	var fileSize sql.NullInt64

	err := row.Scan(
		&e.ID, &e.SourceID, &e.SourceName, &e.SourceKind, &e.Title, &e.Description,
		&e.OriginURL, &mediaURL, &storageURL, &e.StorageProvider,
		&fileSize, &e.PublishedAt, &e.GUID,
	)
	if err != nil {
		return nil, err
	}

	e.MediaURL = mediaURL.String
	e.StorageURL = storageURL.String
	e.FileSizeBytes = fileSize.Int64
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan entry")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating entries")
	}
	return entries, nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	out := make([]byte, 0, 2*n-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
