package am

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "smartcache.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{})

	// Pool defaults
	v.SetDefault("pool.workers", 4)
	v.SetDefault("pool.queue_depth", 256)
	v.SetDefault("pool.max_download_bytes", int64(500)*1024*1024) // 500 MiB
	v.SetDefault("pool.retry_attempts", 3)
	v.SetDefault("pool.retry_backoff_seconds", 2)

	// Storage defaults
	v.SetDefault("storage.download_dir", "downloads")
	v.SetDefault("storage.s3_region", "us-east-1")

	// Oracle (Ollama) defaults
	v.SetDefault("oracle.base_url", "http://localhost:11434")
	v.SetDefault("oracle.model", "llama3.2:3b")
	v.SetDefault("oracle.timeout_seconds", 300)
	v.SetDefault("oracle.max_turns", 10)
}

// DefaultServerPort is the session gateway's default listen port
const DefaultServerPort = 8766
