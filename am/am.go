// Package am holds the smartcache core configuration ("I am").
package am

import "time"

// Config represents the core smartcache configuration
type Config struct {
	Database Database `mapstructure:"database"`
	Server   Server   `mapstructure:"server"`
	Pool     Pool     `mapstructure:"pool"`
	Storage  Storage  `mapstructure:"storage"`
	Oracle   Oracle   `mapstructure:"oracle"`
}

// Database configures the SQLite database
type Database struct {
	Path string `mapstructure:"path"`
}

// Server configures the session gateway HTTP server
type Server struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Pool configures the download executor pool
type Pool struct {
	// Workers is the number of concurrent download workers
	Workers int `mapstructure:"workers"`
	// QueueDepth is the buffered capacity of the work channel
	QueueDepth int `mapstructure:"queue_depth"`
	// MaxDownloadBytes caps a single download; exceeding it fails the job
	MaxDownloadBytes int64 `mapstructure:"max_download_bytes"`
	// RetryAttempts bounds dispatcher-driven retries of transient failures
	RetryAttempts int `mapstructure:"retry_attempts"`
	// RetryBackoffSeconds is the initial backoff, doubled per attempt
	RetryBackoffSeconds int `mapstructure:"retry_backoff_seconds"`
}

// RetryBackoff returns the initial retry backoff as a duration.
func (p Pool) RetryBackoff() time.Duration {
	return time.Duration(p.RetryBackoffSeconds) * time.Second
}

// Storage configures durable object storage access and the local download root
type Storage struct {
	// DownloadDir is the root under which per-user download namespaces live
	DownloadDir string `mapstructure:"download_dir"`

	// S3 settings for s3:// durable-storage pointers
	S3Endpoint  string `mapstructure:"s3_endpoint"` // custom endpoint, empty = AWS
	S3Region    string `mapstructure:"s3_region"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
}

// Oracle configures the tool-calling completion service used by the
// orchestration loop (Ollama, LocalAI, or any OpenAI-compatible endpoint)
type Oracle struct {
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	// MaxTurns bounds the orchestration loop; the loop also stops on an
	// explicit completion marker from a role
	MaxTurns int `mapstructure:"max_turns"`
}

// Timeout returns the oracle request timeout as a duration.
func (o Oracle) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}
