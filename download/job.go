// Package download owns the download job lifecycle: queueing, execution
// by the worker pool, retries, and the job store backing all of it.
package download

import (
	"time"
)

// Status is a download job's lifecycle state
type Status string

const (
	// StatusQueued means the job is waiting for a worker
	StatusQueued Status = "queued"
	// StatusDownloading means a worker claimed the job and is streaming bytes
	StatusDownloading Status = "downloading"
	// StatusReady means the file landed on local disk
	StatusReady Status = "ready"
	// StatusFailed means the job gave up with an error
	StatusFailed Status = "failed"
)

// Active reports whether the job still occupies the pipeline.
// Ready and failed are terminal.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusDownloading
}

// Terminal reports whether the job reached a final state
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Valid reports whether s is a known status value
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Job is one download of a catalog entry for one user. Title and source
// fields are denormalized from the catalog at enqueue time so listings
// and notifications never need a join.
type Job struct {
	ID             string
	UserID         int64
	CatalogEntryID int64
	Title          string
	SourceName     string
	SourceKind     string
	OriginURL      string
	StorageURL     string
	Status         Status
	LocalPath      string
	FileSizeBytes  int64
	ErrorDetail    string
	RetryCount     int
	// Permanent marks a failure that must never be retried, such as a
	// download that blew through the byte budget
	Permanent bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusCounts summarizes a user's jobs by state
type StatusCounts struct {
	Queued      int `json:"queued"`
	Downloading int `json:"downloading"`
	Ready       int `json:"ready"`
	Failed      int `json:"failed"`
}

// Total is the number of jobs across all states
func (c StatusCounts) Total() int {
	return c.Queued + c.Downloading + c.Ready + c.Failed
}
