package testing

import (
	"database/sql"
	"testing"
	"time"
)

// SeedUser inserts a user and returns its ID
func SeedUser(t *testing.T, db *sql.DB, username, token string) int64 {
	t.Helper()
	res, err := db.Exec(
		`INSERT INTO users (username, api_token) VALUES (?, ?)`,
		username, token,
	)
	if err != nil {
		t.Fatalf("failed to seed user %s: %v", username, err)
	}
	id, _ := res.LastInsertId()
	return id
}

// SeedSource inserts a source and returns its ID
func SeedSource(t *testing.T, db *sql.DB, name, kind string) int64 {
	t.Helper()
	res, err := db.Exec(
		`INSERT INTO sources (name, kind, feed_url, is_active) VALUES (?, ?, ?, 1)`,
		name, kind, "https://example.com/"+name+"/feed",
	)
	if err != nil {
		t.Fatalf("failed to seed source %s: %v", name, err)
	}
	id, _ := res.LastInsertId()
	return id
}

// SeedSubscription links a user to a source
func SeedSubscription(t *testing.T, db *sql.DB, userID, sourceID int64, priority int) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO subscriptions (user_id, source_id, priority, is_active) VALUES (?, ?, ?, 1)`,
		userID, sourceID, priority,
	)
	if err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}
}

// EntrySeed describes a catalog entry to insert
type EntrySeed struct {
	SourceID    int64
	Title       string
	StorageURL  string
	PublishedAt time.Time
	SizeBytes   int64
}

// SeedEntry inserts a catalog entry and returns its ID
func SeedEntry(t *testing.T, db *sql.DB, seed EntrySeed) int64 {
	t.Helper()
	provider := "none"
	if seed.StorageURL != "" {
		provider = "aws_s3"
	}
	published := seed.PublishedAt
	if published.IsZero() {
		published = time.Now().UTC()
	}
	res, err := db.Exec(
		`INSERT INTO catalog_entries
			(source_id, title, description, origin_url, media_url, storage_url,
			 storage_provider, file_size_bytes, published_at, guid)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seed.SourceID, seed.Title, "about "+seed.Title,
		"https://example.com/"+seed.Title, "https://cdn.example.com/"+seed.Title+".mp3",
		nullable(seed.StorageURL), provider, seed.SizeBytes,
		published.Format(time.RFC3339), seed.Title+"-guid",
	)
	if err != nil {
		t.Fatalf("failed to seed entry %s: %v", seed.Title, err)
	}
	id, _ := res.LastInsertId()
	return id
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
