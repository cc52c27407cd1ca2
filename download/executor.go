package download

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/teranos/smartcache/bus"
	"github.com/teranos/smartcache/errors"
	"github.com/teranos/smartcache/logger"
	"github.com/teranos/smartcache/storage"
)

// Executor claims queued jobs and streams their media from durable
// storage to local disk. It is the only component that moves a job out
// of the queued state.
type Executor struct {
	store    *Store
	fetcher  storage.Fetcher
	events   *bus.Bus
	dir      string
	maxBytes int64
	log      *zap.SugaredLogger
}

// NewExecutor creates an executor writing under dir. maxBytes caps a
// single download; zero or negative disables the cap.
func NewExecutor(store *Store, fetcher storage.Fetcher, events *bus.Bus, dir string, maxBytes int64) *Executor {
	return &Executor{
		store:    store,
		fetcher:  fetcher,
		events:   events,
		dir:      dir,
		maxBytes: maxBytes,
		log:      logger.Named("executor"),
	}
}

// Execute runs one job to a terminal state. A job that is no longer
// queued is skipped, so submitting the same ID twice downloads once.
func (e *Executor) Execute(ctx context.Context, jobID string) {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		e.log.Errorw("failed to load job", "job_id", jobID, "error", err)
		return
	}

	claimed, err := e.store.ClaimForDownload(ctx, jobID)
	if err != nil {
		e.log.Errorw("failed to claim job", "job_id", jobID, "error", err)
		return
	}
	if !claimed {
		e.log.Debugw("job already claimed, skipping", "job_id", jobID, "status", job.Status)
		return
	}

	localPath, size, err := e.download(ctx, job)
	if err != nil {
		e.fail(ctx, job, err)
		return
	}

	if err := e.store.MarkReady(ctx, jobID, localPath, size); err != nil {
		e.log.Errorw("failed to mark job ready", "job_id", jobID, "error", err)
		return
	}

	e.log.Infow("download complete",
		"job_id", jobID,
		"title", job.Title,
		"bytes", size)
	e.events.Publish(bus.Event{
		UserID: job.UserID,
		Type:   bus.EventDownloadReady,
		Payload: map[string]interface{}{
			"download_id": job.ID,
			"title":       job.Title,
			"source_name": job.SourceName,
			"source_type": job.SourceKind,
			"file_url":    fmt.Sprintf("/api/downloads/%s/file", job.ID),
			"file_size":   size,
		},
	})
}

func (e *Executor) fail(ctx context.Context, job *Job, cause error) {
	permanent := errors.Is(cause, errors.ErrBudgetExceeded)

	var err error
	if permanent {
		err = e.store.MarkFailedPermanent(ctx, job.ID, cause.Error())
	} else {
		err = e.store.MarkFailed(ctx, job.ID, cause.Error())
	}
	if err != nil {
		e.log.Errorw("failed to mark job failed", "job_id", job.ID, "error", err)
		return
	}

	e.log.Warnw("download failed",
		"job_id", job.ID,
		"title", job.Title,
		"permanent", permanent,
		"error", cause)
	e.events.Publish(bus.Event{
		UserID: job.UserID,
		Type:   bus.EventDownloadFailed,
		Payload: map[string]interface{}{
			"download_id": job.ID,
			"title":       job.Title,
			"error":       cause.Error(),
		},
	})
}

// download streams the job's storage object to its local path.
// On any failure the partial file is removed.
func (e *Executor) download(ctx context.Context, job *Job) (string, int64, error) {
	body, _, err := e.fetcher.Open(ctx, job.StorageURL)
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to open storage object")
	}
	defer body.Close()

	userDir := filepath.Join(e.dir, fmt.Sprintf("user_%d", job.UserID))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return "", 0, errors.Wrap(err, "failed to create download dir")
	}

	name := fmt.Sprintf("%s_%d%s",
		sanitizeTitle(job.Title),
		time.Now().Unix(),
		fileExt(job.StorageURL))
	localPath := filepath.Join(userDir, name)

	out, err := os.Create(localPath)
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to create local file")
	}

	written, err := e.copyBounded(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		return "", 0, err
	}
	return localPath, written, nil
}

// copyBounded copies src to dst, failing with errors.ErrBudgetExceeded
// once the byte budget is crossed
func (e *Executor) copyBounded(dst io.Writer, src io.Reader) (int64, error) {
	if e.maxBytes <= 0 {
		return io.Copy(dst, src)
	}

	written, err := io.Copy(dst, io.LimitReader(src, e.maxBytes))
	if err != nil {
		return written, errors.Wrap(err, "copy failed")
	}
	if written == e.maxBytes {
		// Anything left in src means the object is over budget
		var probe [1]byte
		if n, _ := src.Read(probe[:]); n > 0 {
			return written, errors.Wrapf(errors.ErrBudgetExceeded,
				"download exceeds %d byte limit", e.maxBytes)
		}
	}
	return written, nil
}

// sanitizeTitle reduces a title to a safe filename stem
func sanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte('_')
		}
	}
	stem := b.String()
	if stem == "" {
		stem = "download"
	}
	if len(stem) > 80 {
		// Truncate on a rune boundary so multi-byte titles stay valid
		cut := 80
		for cut > 0 && !utf8.RuneStart(stem[cut]) {
			cut--
		}
		stem = stem[:cut]
	}
	return stem
}

// fileExt extracts the extension from a storage pointer's path
func fileExt(pointer string) string {
	u, err := url.Parse(pointer)
	if err != nil {
		return ".bin"
	}
	ext := filepath.Ext(u.Path)
	if ext == "" || len(ext) > 8 {
		return ".bin"
	}
	return ext
}
