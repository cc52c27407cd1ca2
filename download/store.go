package download

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/smartcache/errors"
)

// Store persists download jobs in SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a job store over the given database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `
	id, user_id, catalog_entry_id, title, source_name, source_kind,
	origin_url, storage_url, status, local_path, file_size_bytes,
	error_detail, retry_count, permanent, created_at, updated_at`

// Create inserts a new queued job and fills in its ID and timestamps
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	job.Status = StatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_jobs
			(id, user_id, catalog_entry_id, title, source_name, source_kind,
			 origin_url, storage_url, status, local_path, file_size_bytes,
			 error_detail, retry_count, permanent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', 0, '', 0, 0, ?, ?)`,
		job.ID, job.UserID, job.CatalogEntryID, job.Title, job.SourceName,
		job.SourceKind, job.OriginURL, job.StorageURL, job.Status,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create download job")
	}
	return nil
}

// Get retrieves a job by ID.
// Returns an error wrapping errors.ErrNotFound when no job exists.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM download_jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "download job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get download job")
	}
	return job, nil
}

// FindActive returns the user's queued or downloading job for a catalog
// entry, or nil when none exists. Enqueue uses this for idempotency.
func (s *Store) FindActive(ctx context.Context, userID, entryID int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM download_jobs
		WHERE user_id = ? AND catalog_entry_id = ?
		  AND status IN ('queued', 'downloading')
		ORDER BY created_at DESC
		LIMIT 1`,
		userID, entryID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find active job")
	}
	return job, nil
}

// ClaimForDownload atomically moves a queued job to downloading.
// Returns false when the job was not in the queued state, which makes
// double execution of the same job a no-op for the loser.
func (s *Store) ClaimForDownload(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE download_jobs
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusDownloading, time.Now().UTC(), id, StatusQueued)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return n == 1, nil
}

// MarkReady finalizes a downloading job with its local file
func (s *Store) MarkReady(ctx context.Context, id, localPath string, sizeBytes int64) error {
	return s.finish(ctx, id, StatusReady, localPath, sizeBytes, "", false)
}

// MarkFailed finalizes a downloading job with its failure detail
func (s *Store) MarkFailed(ctx context.Context, id, detail string) error {
	return s.finish(ctx, id, StatusFailed, "", 0, detail, false)
}

// MarkFailedPermanent finalizes a downloading job such that the retrier
// will never pick it up again
func (s *Store) MarkFailedPermanent(ctx context.Context, id, detail string) error {
	return s.finish(ctx, id, StatusFailed, "", 0, detail, true)
}

func (s *Store) finish(ctx context.Context, id string, status Status, localPath string, sizeBytes int64, detail string, permanent bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE download_jobs
		SET status = ?, local_path = ?, file_size_bytes = ?, error_detail = ?, permanent = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		status, localPath, sizeBytes, detail, permanent, time.Now().UTC(), id, StatusDownloading)
	if err != nil {
		return errors.Wrapf(err, "failed to mark job %s", status)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s not downloading", id)
	}
	return nil
}

// Requeue moves a failed job back to queued and bumps its retry count.
// Returns false when the job is no longer failed.
func (s *Store) Requeue(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE download_jobs
		SET status = ?, error_detail = '', retry_count = retry_count + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusQueued, time.Now().UTC(), id, StatusFailed)
	if err != nil {
		return false, errors.Wrap(err, "failed to requeue job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return n == 1, nil
}

// CountsByStatus tallies the user's jobs per lifecycle state
func (s *Store) CountsByStatus(ctx context.Context, userID int64) (StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM download_jobs
		WHERE user_id = ?
		GROUP BY status`,
		userID)
	if err != nil {
		return StatusCounts{}, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, errors.Wrap(err, "failed to scan job count")
		}
		switch status {
		case StatusQueued:
			counts.Queued = n
		case StatusDownloading:
			counts.Downloading = n
		case StatusReady:
			counts.Ready = n
		case StatusFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return StatusCounts{}, errors.Wrap(err, "error iterating job counts")
	}
	return counts, nil
}

// ListByUser returns the user's jobs, newest first
func (s *Store) ListByUser(ctx context.Context, userID int64, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM download_jobs
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListQueued returns every queued job, oldest first. The dispatcher
// drains these into the pool on startup so jobs stranded by a restart
// still run.
func (s *Store) ListQueued(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM download_jobs
		WHERE status = ?
		ORDER BY created_at ASC`,
		StatusQueued)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list queued jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListQueuedByUser returns the user's queued jobs, oldest first
func (s *Store) ListQueuedByUser(ctx context.Context, userID int64) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM download_jobs
		WHERE status = ? AND user_id = ?
		ORDER BY created_at ASC`,
		StatusQueued, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list queued jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListRetryable returns failed jobs under the retry budget, oldest first
func (s *Store) ListRetryable(ctx context.Context, maxRetries int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM download_jobs
		WHERE status = ? AND retry_count < ? AND permanent = 0
		ORDER BY updated_at ASC`,
		StatusFailed, maxRetries)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list retryable jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	err := row.Scan(
		&job.ID, &job.UserID, &job.CatalogEntryID, &job.Title, &job.SourceName,
		&job.SourceKind, &job.OriginURL, &job.StorageURL, &job.Status,
		&job.LocalPath, &job.FileSizeBytes, &job.ErrorDetail, &job.RetryCount,
		&job.Permanent, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}
