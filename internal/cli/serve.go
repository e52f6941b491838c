package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ictashik/OpenDataTagger/internal/config"
	"github.com/ictashik/OpenDataTagger/internal/db"
	"github.com/ictashik/OpenDataTagger/internal/kv"
	"github.com/ictashik/OpenDataTagger/internal/llm"
	"github.com/ictashik/OpenDataTagger/internal/metrics"
	"github.com/ictashik/OpenDataTagger/internal/server"
	"github.com/ictashik/OpenDataTagger/internal/service"
)

// purgeInterval is how often expired keys are swept from SurrealDB.
const purgeInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tagging server",
	Long: `Run the HTTP server that stores uploads, runs tagging jobs and reports
their progress.

Examples:
  tagger serve
  TAGGER_STORE=surrealdb tagger serve
  tagger serve --config tagger.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	logger.Info("tagger starting",
		"version", Version,
		"addr", cfg.Addr,
		"store", cfg.Store,
		"provider", cfg.LLMProvider,
		"model", cfg.LLMModel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, shutdownMetrics, err := metrics.InitMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	recorder, err := metrics.NewRecorder()
	if err != nil {
		return fmt.Errorf("init recorder: %w", err)
	}
	collector := metrics.NewCollector()

	store, closeStore, err := openStore(ctx, logger, collector)
	if err != nil {
		return err
	}
	defer closeStore()

	model, err := llm.NewModel(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init model: %w", err)
	}
	inference := llm.NewClient(model, store,
		llm.WithCollector(collector),
		llm.WithRecorder(recorder),
		llm.WithTimeout(cfg.LLMTimeout),
		llm.WithLogger(logger),
	)

	files := service.NewFileRegistry(store, cfg.FilesTTL)
	tagger := service.NewTagger(inference, files,
		service.WithCheckpointEvery(cfg.CheckpointEvery),
		service.WithModelSelector(service.ClientSelector(inference)),
		service.WithMetrics(collector, recorder),
		service.WithTaggerLogger(logger),
	)
	jobs := service.NewJobManager(tagger, files, logger)
	if err := metrics.RegisterJobGauge(jobs.Counts); err != nil {
		return fmt.Errorf("register job gauge: %w", err)
	}

	srv := server.New(server.Deps{
		Jobs:    jobs,
		LLM:     inference,
		Store:   store,
		DataDir: cfg.DataDir,
		ListModels: func(ctx context.Context) ([]string, error) {
			return llm.ListModels(ctx, cfg, nil)
		},
		Metrics:   metricsHandler,
		Collector: collector,
		PollRate:  cfg.PollRate,
		PollBurst: cfg.PollBurst,
		Logger:    logger,
	})

	if err := srv.ListenAndServe(ctx, cfg.Addr); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// openStore connects the configured key-value store. The returned func
// releases it.
func openStore(ctx context.Context, logger *slog.Logger, collector *metrics.Collector) (kv.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store; file registry and sessions are lost on restart")
		return kv.NewMemory(), func() {}, nil
	}

	dbCfg := db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}
	dbClient, err := db.NewClient(ctx, dbCfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := dbClient.InitSchema(ctx); err != nil {
		_ = dbClient.Close(context.Background())
		return nil, nil, fmt.Errorf("initialize schema: %w", err)
	}
	dbClient.SetCollector(collector)

	go purgeExpired(ctx, dbClient, logger)

	return dbClient, func() {
		logger.Info("closing database connection")
		if err := dbClient.Close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}, nil
}

func purgeExpired(ctx context.Context, c *db.Client, logger *slog.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.PurgeExpired(ctx); err != nil {
				logger.Warn("purge expired keys failed", "error", err)
			}
		}
	}
}
