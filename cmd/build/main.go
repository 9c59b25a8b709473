package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-json"

	"github.com/saturnino-fabrica-de-software/derma/internal/config"
	"github.com/saturnino-fabrica-de-software/derma/internal/corpus"
	"github.com/saturnino-fabrica-de-software/derma/internal/database"
	"github.com/saturnino-fabrica-de-software/derma/internal/embedding"
	"github.com/saturnino-fabrica-de-software/derma/internal/face"
	"github.com/saturnino-fabrica-de-software/derma/internal/metrics"
	"github.com/saturnino-fabrica-de-software/derma/internal/repository"
	"github.com/saturnino-fabrica-de-software/derma/internal/snapshot"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	manifestPath := flag.String("manifest", "", "CSV or JSON manifest of labeled images (required)")
	images := flag.String("images", ".", "Image root: a directory or s3://bucket/prefix")
	s3Endpoint := flag.String("s3-endpoint", "", "Custom S3 endpoint (MinIO, LocalStack); defaults to AWS_ENDPOINT")
	out := flag.String("out", "", "Write the snapshot to this file")
	persist := flag.Bool("persist", false, "Store the snapshot in Postgres (DATABASE_URL)")
	flag.Parse()

	if *manifestPath == "" {
		return fmt.Errorf("manifest flag is required")
	}
	if *out == "" && !*persist {
		return fmt.Errorf("nothing to do: set -out and/or -persist")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *persist && !cfg.HasDatabase() {
		return fmt.Errorf("persist flag requires DATABASE_URL")
	}

	logger := config.NewLoggerTo(os.Stderr, cfg.Environment)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entries, err := corpus.LoadManifest(*manifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	if *s3Endpoint == "" {
		*s3Endpoint = cfg.AWSEndpoint
	}
	source, err := imageSource(ctx, cfg, *images, *s3Endpoint)
	if err != nil {
		return err
	}

	providers, err := face.NewProviders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create providers: %w", err)
	}
	locator := face.NewLocator(providers.Detector, face.LocatorConfig(cfg))
	generator := embedding.NewGenerator(providers.Embedder)

	logger.Info("building corpus",
		slog.String("manifest", *manifestPath),
		slog.Int("entries", len(entries)),
		slog.String("model_version", generator.ModelVersion()),
		slog.Int("workers", cfg.BuildWorkers),
	)

	builder := corpus.NewBuilder(locator, generator, source, cfg.BuildWorkers, logger)
	snap, report, err := builder.Build(ctx, entries)
	if report != nil {
		excluded := make(map[string]int)
		for _, e := range report.Exclusions {
			excluded[e.Code]++
		}
		metrics.RecordBuild(report.Included, excluded)
	}
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	// The snapshot must serve before it is written anywhere
	bundle, err := snapshot.Assemble(ctx, snap, snapshot.Options{
		ModelVersion: generator.ModelVersion(),
		Dimension:    generator.Dimension(),
		MinSamples:   cfg.Baseline.MinSamples,
	})
	if err != nil {
		return fmt.Errorf("snapshot does not assemble: %w", err)
	}
	if err := bundle.Validate(ctx); err != nil {
		return fmt.Errorf("snapshot does not validate: %w", err)
	}
	for _, s := range bundle.Baselines.Summaries() {
		if !s.Usable {
			logger.Warn("baseline below minimum samples",
				slog.String("key", s.Key),
				slog.Int("samples", s.SampleCount),
				slog.Int("min_samples", cfg.Baseline.MinSamples),
			)
		}
	}

	if *out != "" {
		if err := corpus.WriteSnapshotFile(*out, snap); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		logger.Info("snapshot written", slog.String("path", *out), slog.String("version", snap.Version))
	}

	if *persist {
		pool, err := database.NewPgxPool(ctx, database.DefaultPoolConfig(cfg.DatabaseURL))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		if err := repository.NewCorpusRepository(pool).SaveSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("failed to persist snapshot: %w", err)
		}
		logger.Info("snapshot persisted", slog.String("version", snap.Version))
	}

	summary := struct {
		*corpus.BuildReport
		Baselines any `json:"baselines"`
	}{report, bundle.Baselines.Summaries()}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func imageSource(ctx context.Context, cfg *config.Config, root, endpoint string) (corpus.ImageSource, error) {
	maxBytes := int64(cfg.Image.MaxBytes)

	rest, ok := strings.CutPrefix(root, "s3://")
	if !ok {
		return corpus.NewDirSource(root, maxBytes), nil
	}

	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("invalid images location %q", root)
	}
	api, err := corpus.NewS3API(ctx, cfg.AWSRegion, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return corpus.NewS3Source(api, bucket, prefix, maxBytes), nil
}
