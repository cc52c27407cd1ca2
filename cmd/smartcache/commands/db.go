package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/smartcache/am"
	"github.com/teranos/smartcache/db"
	"github.com/teranos/smartcache/errors"
	"github.com/teranos/smartcache/logger"
)

// DbCmd groups database operations
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the smartcache database",
	Long: `Manage smartcache database operations.

Examples:
  smartcache db migrate    # Apply pending schema migrations
  smartcache db stats      # Show catalog and download job counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog and download job counts",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func openConfigured() (*sql.DB, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	return db.OpenWithMigrations(cfg.Database.Path, logger.Named("db"))
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	database, err := openConfigured()
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Println("migrations applied")
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	database, err := openConfigured()
	if err != nil {
		return err
	}
	defer database.Close()

	stats := []struct {
		label string
		query string
	}{
		{"sources", "SELECT COUNT(*) FROM sources"},
		{"catalog entries", "SELECT COUNT(*) FROM catalog_entries"},
		{"cached entries", "SELECT COUNT(*) FROM catalog_entries WHERE storage_url IS NOT NULL AND storage_url != ''"},
		{"users", "SELECT COUNT(*) FROM users"},
		{"download jobs", "SELECT COUNT(*) FROM download_jobs"},
		{"  queued", "SELECT COUNT(*) FROM download_jobs WHERE status = 'queued'"},
		{"  downloading", "SELECT COUNT(*) FROM download_jobs WHERE status = 'downloading'"},
		{"  ready", "SELECT COUNT(*) FROM download_jobs WHERE status = 'ready'"},
		{"  failed", "SELECT COUNT(*) FROM download_jobs WHERE status = 'failed'"},
	}

	for _, stat := range stats {
		var n int
		if err := database.QueryRow(stat.query).Scan(&n); err != nil {
			return errors.Wrapf(err, "failed to count %s", stat.label)
		}
		fmt.Printf("%-18s %d\n", stat.label, n)
	}
	return nil
}
