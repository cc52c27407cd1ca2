package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/smartcache/agent"
	"github.com/teranos/smartcache/ai"
	"github.com/teranos/smartcache/am"
	"github.com/teranos/smartcache/bus"
	"github.com/teranos/smartcache/catalog"
	"github.com/teranos/smartcache/db"
	"github.com/teranos/smartcache/download"
	"github.com/teranos/smartcache/errors"
	"github.com/teranos/smartcache/logger"
	"github.com/teranos/smartcache/recommend"
	"github.com/teranos/smartcache/server"
	"github.com/teranos/smartcache/storage"
)

// ServeCmd starts the gateway and the download pipeline
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway and download worker pool",
	Long: `Start the smartcache gateway.

Brings up the full pipeline: the SQLite job store, the download worker
pool, the retry sweeper, the notification bus, and the websocket
gateway with its file retrieval endpoint.`,
	RunE: runServe,
}

var portFlag int

func init() {
	ServeCmd.Flags().IntVar(&portFlag, "port", 0, "Override the configured listen port")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.Named("serve")

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}

	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Named("db"))
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage backends
	s3Fetcher, err := storage.NewS3Fetcher(cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "failed to initialize s3 backend")
	}
	fetcher := storage.NewResolver(s3Fetcher, storage.NewHTTPFetcher())

	// Pipeline
	events := bus.New()
	catStore := catalog.NewStore(database)
	jobStore := download.NewStore(database)
	executor := download.NewExecutor(jobStore, fetcher, events,
		cfg.Storage.DownloadDir, cfg.Pool.MaxDownloadBytes)
	pool := download.NewPool(executor, cfg.Pool.Workers, cfg.Pool.QueueDepth)
	pool.Start(ctx)
	defer pool.Stop()

	dispatcher := download.NewDispatcher(jobStore, pool, events)
	if n, err := dispatcher.DrainAll(ctx); err != nil {
		log.Warnw("failed to drain stranded jobs", "error", err)
	} else if n > 0 {
		log.Infow("recovered stranded jobs", "count", n)
	}

	retrier := download.NewRetrier(jobStore, pool,
		cfg.Pool.RetryAttempts, cfg.Pool.RetryBackoff(), 0)
	go retrier.Run(ctx)

	// Agent loop over the local oracle
	oracle := ai.NewClient(cfg.Oracle)
	selector := recommend.NewSelector(catStore, logger.Named("selector"))
	loop := agent.NewLoop(oracle, selector, dispatcher, catStore, jobStore,
		events, cfg.Oracle.MaxTurns)

	gateway := server.New(database, cfg, catStore, jobStore, loop, events)
	log.Infow("starting gateway",
		"port", cfg.Server.Port,
		"workers", cfg.Pool.Workers,
		"model", cfg.Oracle.Model)
	return gateway.Run(ctx)
}
