// Package catalog provides a read-only view over ingested content metadata.
//
// Entries are created by the external ingestion pipeline; the download
// orchestration core only reads them.
package catalog

import "time"

// SourceKind classifies a content source
type SourceKind string

const (
	SourceKindPodcast SourceKind = "podcast"
	SourceKindArticle SourceKind = "article"
)

// StorageProvider identifies where an entry's media bytes are cached
type StorageProvider string

const (
	StorageProviderS3       StorageProvider = "aws_s3"
	StorageProviderSupabase StorageProvider = "supabase"
	StorageProviderNone     StorageProvider = "none"
)

// Source is a feed the ingestion pipeline crawls
type Source struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Kind     SourceKind `json:"kind"`
	FeedURL  string     `json:"feed_url"`
	IsActive bool       `json:"is_active"`
}

// Entry is one piece of content discovered from a source.
// Immutable once cached; this is what gets recommended and downloaded.
type Entry struct {
	ID              int64           `json:"id"`
	SourceID        int64           `json:"source_id"`
	SourceName      string          `json:"source_name"`
	SourceKind      SourceKind      `json:"source_kind"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	OriginURL       string          `json:"origin_url"`
	MediaURL        string          `json:"media_url,omitempty"`
	StorageURL      string          `json:"storage_url,omitempty"`
	StorageProvider StorageProvider `json:"storage_provider"`
	FileSizeBytes   int64           `json:"file_size_bytes,omitempty"`
	PublishedAt     time.Time       `json:"published_at"`
	GUID            string          `json:"guid"`
}

// Eligible reports whether the entry may be queued for download.
// Only entries whose media the ingestion pipeline cached in durable
// storage qualify; re-fetching from the origin is unreliable (403s,
// dead links) and is never attempted by the executor.
func (e *Entry) Eligible() bool {
	return e.StorageURL != ""
}

// User is the minimal account surface the gateway needs: identity plus
// the bearer token a session authenticates with.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}
