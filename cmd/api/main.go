package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"github.com/saturnino-fabrica-de-software/derma/internal/api"
	"github.com/saturnino-fabrica-de-software/derma/internal/audit"
	"github.com/saturnino-fabrica-de-software/derma/internal/cache"
	"github.com/saturnino-fabrica-de-software/derma/internal/config"
	"github.com/saturnino-fabrica-de-software/derma/internal/corpus"
	"github.com/saturnino-fabrica-de-software/derma/internal/database"
	"github.com/saturnino-fabrica-de-software/derma/internal/embedding"
	"github.com/saturnino-fabrica-de-software/derma/internal/face"
	"github.com/saturnino-fabrica-de-software/derma/internal/index"
	"github.com/saturnino-fabrica-de-software/derma/internal/metrics"
	"github.com/saturnino-fabrica-de-software/derma/internal/recommend"
	"github.com/saturnino-fabrica-de-software/derma/internal/repository"
	"github.com/saturnino-fabrica-de-software/derma/internal/scoring"
	"github.com/saturnino-fabrica-de-software/derma/internal/service"
	"github.com/saturnino-fabrica-de-software/derma/internal/snapshot"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := config.NewLogger(cfg.Environment)
	slog.SetDefault(logger)

	logger.Info("starting Derma API",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Port),
		slog.String("detector", cfg.DetectorType),
		slog.String("embedding_backend", cfg.EmbeddingBackend),
		slog.String("index", cfg.Index.Kind),
	)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Providers
	providers, err := face.NewProviders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create providers: %w", err)
	}
	locator := face.NewLocator(providers.Detector, face.LocatorConfig(cfg))
	generator := embedding.NewGenerator(providers.Embedder)

	// Database (optional)
	var pool *pgxpool.Pool
	if cfg.HasDatabase() {
		pool, err = database.NewPgxPool(ctx, database.DefaultPoolConfig(cfg.DatabaseURL))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()
		if err := checkSchema(pool); err != nil {
			return fmt.Errorf("database schema: %w", err)
		}
		logger.Info("connected to database", slog.Uint64("schema_version", uint64(database.SchemaVersion)))
	}

	// Snapshot publication
	holder := snapshot.NewHolder()
	reloader := snapshot.NewReloader(snapshotSource(cfg, pool), holder, snapshot.Options{
		ModelVersion: generator.ModelVersion(),
		Dimension:    generator.Dimension(),
		MinSamples:   cfg.Baseline.MinSamples,
		Index:        indexBuilder(cfg, pool),
	}, logger)
	reloader.OnPublish(func(b *snapshot.Bundle) {
		metrics.RecordSnapshot(b.Version(), b.Snapshot.ModelVersion, b.Index.Kind(), b.Snapshot.Len(), b.LoadedAt)
	})

	// A failed first load is not fatal: /ready stays unavailable until a
	// reload succeeds
	if _, err := reloader.Reload(ctx); err != nil {
		logger.Warn("initial snapshot load failed", slog.Any("error", err))
	}

	// Background workers stop with the shutdown signal
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	workers, workerCtx := errgroup.WithContext(workerCtx)

	if cfg.SnapshotWatch && cfg.SnapshotSource == "file" {
		watcher := snapshot.NewWatcher(cfg.SnapshotPath, reloader, logger, 0)
		workers.Go(func() error {
			if err := watcher.Run(workerCtx); err != nil {
				logger.Error("snapshot watcher failed", slog.Any("error", err))
			}
			return nil
		})
	}

	// Product catalog
	catalog, catalogCache, err := productCatalog(cfg, pool)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if catalogCache != nil {
		workers.Go(func() error {
			ticker := time.NewTicker(cfg.Recommend.CatalogCacheTTL)
			defer ticker.Stop()
			for {
				select {
				case <-workerCtx.Done():
					return nil
				case <-ticker.C:
					if n := catalogCache.CleanupExpired(); n > 0 {
						logger.Debug("catalog cache cleanup", slog.Int("removed", n))
					}
				}
			}
		})
	}

	// Scoring and recommendation
	scorer, err := scoring.NewScorer(scoringConfig(cfg))
	if err != nil {
		return fmt.Errorf("invalid scoring config: %w", err)
	}
	ranker := recommend.NewRanker(recommend.Config{
		MinScore:   cfg.Recommend.MinScore,
		MaxResults: cfg.Recommend.MaxResults,
	})

	analysis := service.NewAnalysisService(holder, locator, generator, scorer, ranker, catalog, logger).
		WithTopK(cfg.Scoring.TopK)

	// Audit sinks
	if cfg.AuditEnabled {
		sinks := audit.Fanout{audit.NewSlogSink(logger)}
		if pool != nil {
			sinks = append(sinks, repository.NewAnalysisAuditRepository(pool))
		}
		analysis = analysis.WithAuditRepository(sinks)
	}

	// Audit outcome export and retention
	if pool != nil && cfg.AuditEnabled {
		aggregator := metrics.NewAggregator(metrics.NewRepository(pool), logger, time.Minute)
		workers.Go(func() error {
			aggregator.Start(workerCtx)
			return nil
		})
	}

	deps := &api.Dependencies{
		Analysis:      analysis,
		Bundles:       holder,
		Reloader:      reloader,
		RateLimit:     cfg.RateLimit,
		MaxImageBytes: cfg.Image.MaxBytes,
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  60 * time.Second,
	}
	if pool != nil {
		deps.DB = pool
	}

	// Setup router
	router := api.NewRouter(logger, deps)
	router.Setup()

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("server listening", slog.String("addr", addr))
		if err := router.Listen(addr); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server...")
	if err := router.Shutdown(); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}

	cancelWorkers()
	_ = workers.Wait()

	logger.Info("server stopped")

	return nil
}

// checkSchema refuses to serve against a database that was not migrated
func checkSchema(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	migrator, err := database.NewMigrator(db, pool.Config().ConnConfig.Database)
	if err != nil {
		return err
	}
	defer func() { _ = migrator.Close() }()

	return migrator.Check()
}

func snapshotSource(cfg *config.Config, pool *pgxpool.Pool) snapshot.Source {
	if cfg.SnapshotSource == "postgres" {
		return repository.NewCorpusSource(repository.NewCorpusRepository(pool))
	}
	return snapshot.FileSource{Path: cfg.SnapshotPath}
}

func indexBuilder(cfg *config.Config, pool *pgxpool.Pool) snapshot.IndexBuilder {
	switch cfg.Index.Kind {
	case index.KindIVF:
		ivf := index.DefaultIVFConfig()
		ivf.Lists = cfg.Index.IVFLists
		ivf.Probes = cfg.Index.IVFProbe
		return snapshot.IVFIndex(ivf)
	case index.KindPgvector:
		return func(ctx context.Context, s *corpus.Snapshot) (index.Index, error) {
			return repository.NewReferenceIndex(ctx, pool, s)
		}
	default:
		return snapshot.FlatIndex()
	}
}

func productCatalog(cfg *config.Config, pool *pgxpool.Pool) (recommend.Catalog, *cache.CatalogCache, error) {
	if cfg.CatalogSource != "postgres" {
		catalog, err := recommend.LoadFileCatalog(cfg.CatalogPath)
		return catalog, nil, err
	}

	products := repository.NewProductRepository(pool)
	if cfg.Recommend.CatalogCacheTTL <= 0 {
		return products, nil, nil
	}
	cached := cache.NewCatalogCache(products, cfg.Recommend.CatalogCacheTTL)
	return cached, cached, nil
}

func scoringConfig(cfg *config.Config) scoring.Config {
	s := cfg.Scoring
	return scoring.Config{
		TopK:              s.TopK,
		TopM:              s.TopM,
		HealthyThreshold:  s.HealthyThreshold,
		DampingFactor:     s.DampingFactor,
		SevereThreshold:   s.SevereThreshold,
		ModerateThreshold: s.ModerateThreshold,
		MildThreshold:     s.MildThreshold,
		MinConfidence:     s.MinConfidence,
		BaselineWeight:    s.BaselineWeight,
	}
}
