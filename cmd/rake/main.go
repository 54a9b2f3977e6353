// Package main is the entry point for the rake ingestion service
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Boswecw/rake/internal/api"
	"github.com/Boswecw/rake/internal/config"
	"github.com/Boswecw/rake/internal/embedding"
	"github.com/Boswecw/rake/internal/executor"
	"github.com/Boswecw/rake/internal/jobstore"
	"github.com/Boswecw/rake/internal/metrics"
	"github.com/Boswecw/rake/internal/observability"
	"github.com/Boswecw/rake/internal/pipeline"
	"github.com/Boswecw/rake/internal/retry"
	"github.com/Boswecw/rake/internal/scheduler"
	"github.com/Boswecw/rake/internal/service"
	"github.com/Boswecw/rake/internal/source"
	"github.com/Boswecw/rake/internal/telemetry"
	"github.com/Boswecw/rake/internal/vectorstore"
)

var (
	// Version information (set via ldflags during build)
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rake\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n",
			version, buildTime, gitCommit)
		os.Exit(0)
	}

	logger := observability.NewStandardLogger("rake")
	logger.Info("Starting rake ingestion service", map[string]interface{}{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sink, err := telemetry.NewSink(cfg.Telemetry.DBPath, cfg.Telemetry.Enabled, logger)
	if err != nil {
		log.Fatalf("Failed to open telemetry sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error("Failed to close telemetry sink", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	jobs, db, err := openJobStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}
	if db != nil {
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("Failed to close database connection", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()
	}

	registry := buildRegistry(cfg, logger)
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Error("Failed to close source adapters", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	embedder, err := embedding.NewOpenAIEmbedder(embedding.Config{
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.EmbeddingModel,
		BaseURL: cfg.OpenAI.BaseURL,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}

	vector, err := vectorstore.NewClient(vectorstore.Config{
		BaseURL: cfg.Vector.StoreURL,
		APIKey:  cfg.Vector.APIKey,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create vector store client: %v", err)
	}

	chunker, err := pipeline.NewChunkerForStrategy(
		cfg.Pipeline.ChunkingStrategy,
		pipeline.TokenBudgetChunkerConfig{
			ChunkSize:         cfg.Pipeline.ChunkSize,
			ChunkOverlap:      cfg.Pipeline.ChunkOverlap,
			MinChunkSize:      cfg.Pipeline.MinChunkSize,
			RespectParagraphs: true,
			SplitSentences:    true,
		},
		cfg.Pipeline.SimilarityThreshold,
		nil, nil,
	)
	if err != nil {
		log.Fatalf("Failed to create chunker: %v", err)
	}

	harness := retry.NewHarness(retry.Config{
		MaxAttempts: cfg.Retry.Attempts,
		BaseDelay:   time.Duration(cfg.Retry.Delay * float64(time.Second)),
		Multiplier:  cfg.Retry.Backoff,
	}, sink, logger)

	orch := pipeline.NewOrchestrator(
		pipeline.NewFetchStage(registry, cfg.Retry.Attempts, cfg.Retry.Backoff, sink, logger),
		pipeline.NewCleanStage(pipeline.DefaultCleanConfig(), sink, logger),
		pipeline.NewChunkStage(chunker, sink, logger),
		pipeline.NewEmbedStage(embedder, cfg.OpenAI.BatchSize, harness, sink, logger),
		pipeline.NewStoreStage(vector, cfg.OpenAI.BatchSize, sink, logger),
		jobs, sink, logger,
	)

	m := metrics.NewMetrics()

	exec := executor.New(executor.Config{
		Workers:   cfg.Pipeline.MaxWorkers,
		QueueSize: cfg.Pipeline.QueueSize,
	}, orch, jobs, m, logger)

	if recovered, err := exec.Recover(ctx); err != nil {
		logger.Error("Failed to recover interrupted jobs", map[string]interface{}{
			"error": err.Error(),
		})
	} else if recovered > 0 {
		logger.Warn("Marked interrupted jobs as failed", map[string]interface{}{
			"count": recovered,
		})
	}
	exec.Start(ctx)

	svc := service.NewIngestService(jobs, exec, registry, m, logger)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(svc, logger)
		sched.Start()
	}

	server := startAPIServer(cfg, svc, sched, vector, m, logger, api.HealthCheck{
		Name:  "telemetry",
		Probe: sink.Health,
	})

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", map[string]interface{}{
			"signal": sig.String(),
		})
	case <-ctx.Done():
	}

	logger.Info("Starting graceful shutdown", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown API server", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if sched != nil {
		sched.Stop()
	}
	if err := exec.Stop(shutdownCtx); err != nil {
		logger.Error("Failed to stop executor", map[string]interface{}{
			"error": err.Error(),
		})
	}

	cancel()
	logger.Info("Shutdown complete", nil)
}

// openJobStore returns the durable store when a database is configured and
// an in-memory store otherwise. The *sqlx.DB is nil for the memory store.
func openJobStore(ctx context.Context, cfg *config.Config, logger observability.Logger) (jobstore.Store, *sqlx.DB, error) {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set, job state will not survive restarts", nil)
		return jobstore.NewMemoryStore(), nil, nil
	}

	db, err := connectDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}

	store := jobstore.NewPostgresStore(db, logger)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to migrate job store: %w", err)
	}
	return store, db, nil
}

// connectDatabase establishes a database connection with retry logic
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger) (*sqlx.DB, error) {
	maxRetries := 10
	baseDelay := 1 * time.Second

	logger.Info("Connecting to database", nil)

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.URL)
		if err == nil {
			db.SetMaxOpenConns(cfg.MaxConns)
			db.SetMaxIdleConns(cfg.MaxIdleConns)
			logger.Info("Database connection established", nil)
			return db, nil
		}
		lastErr = err

		if i < maxRetries-1 {
			delay := baseDelay * (1 << uint(i))
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
			logger.Warn("Database connection failed, retrying...", map[string]interface{}{
				"attempt":      i + 1,
				"max_attempts": maxRetries,
				"delay":        delay.String(),
				"error":        err.Error(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, lastErr)
}

// buildRegistry registers every source adapter the configuration enables
func buildRegistry(cfg *config.Config, logger observability.Logger) *source.Registry {
	registry := source.NewRegistry(logger)

	registry.Register(source.NewFileAdapter(nil, logger))

	if cfg.Sources.SECEdgarUserAgent != "" {
		edgar, err := source.NewSECEdgarAdapter(source.SECEdgarConfig{
			UserAgent:   cfg.Sources.SECEdgarUserAgent,
			MinInterval: delayToInterval(cfg.Sources.SECEdgarRateLimit),
		}, logger)
		if err != nil {
			logger.Error("SEC EDGAR adapter disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			registry.Register(edgar)
		}
	} else {
		logger.Warn("SEC_EDGAR_USER_AGENT not set, sec_edgar source disabled", nil)
	}

	registry.Register(source.NewURLScrapeAdapter(source.URLScrapeConfig{
		RespectRobots: cfg.Sources.URLScrapeRespectRobots,
		MinInterval:   delayToInterval(cfg.Sources.URLScrapeRateLimit),
	}, logger))
	registry.Register(source.NewAPIFetchAdapter(logger))
	registry.Register(source.NewDBQueryAdapter(source.DBQueryConfig{
		ReadOnly: cfg.Sources.DBQueryReadOnly,
	}, logger))

	return registry
}

// delayToInterval converts a configured inter-request delay in seconds
// into the minimum spacing between requests. SEC_EDGAR_RATE_LIMIT=0.1
// means 100ms between requests, not ten seconds.
func delayToInterval(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// startAPIServer wires the gin router and serves it in the background
func startAPIServer(cfg *config.Config, svc *service.IngestService, sched *scheduler.Scheduler, vector pipeline.VectorStore, m *metrics.Metrics, logger observability.Logger, checks ...api.HealthCheck) *http.Server {
	if cfg.Service.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.CorrelationID())
	router.Use(api.RequestLogger(logger))
	router.Use(api.RequestMetrics(m))

	api.NewHandler(svc, sched, vector, cfg.IsProduction(), logger, checks...).RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting API server", map[string]interface{}{
			"port": cfg.Service.Port,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return server
}
