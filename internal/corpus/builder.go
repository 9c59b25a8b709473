// Package corpus builds, versions and stores the labeled reference corpus.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/face"
)

var (
	ErrEmptyCorpus     = errors.New("corpus has no included records")
	ErrVersionMismatch = errors.New("snapshot content does not match its version")
)

// Exclusion codes that are not domain error codes
const (
	CodeInvalidRow      = "INVALID_ROW"
	CodeDuplicateID     = "DUPLICATE_ID"
	CodeImageUnreadable = "IMAGE_UNREADABLE"
	defaultBuildWorkers = 4
)

// FaceLocator is the locator contract the builder needs
type FaceLocator interface {
	Locate(ctx context.Context, data []byte) (*face.LocatedFace, error)
}

// EmbeddingGenerator is the generator contract the builder needs
type EmbeddingGenerator interface {
	Generate(ctx context.Context, crop image.Image) (domain.Embedding, error)
	ModelVersion() string
	Dimension() int
}

// Exclusion records why a manifest entry did not become a record
type Exclusion struct {
	EntryID string `json:"entry_id"`
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
}

// BuildReport summarizes one corpus build
type BuildReport struct {
	Version     string                        `json:"version"`
	Total       int                           `json:"total"`
	Included    int                           `json:"included"`
	Excluded    int                           `json:"excluded"`
	Exclusions  []Exclusion                   `json:"exclusions"`
	ByCondition map[domain.ConditionLabel]int `json:"by_condition"`
	Duration    time.Duration                 `json:"duration_ns"`
}

// Builder turns manifest entries into a snapshot
type Builder struct {
	locator   FaceLocator
	generator EmbeddingGenerator
	source    ImageSource
	workers   int
	logger    *slog.Logger
	now       func() time.Time
}

func NewBuilder(locator FaceLocator, generator EmbeddingGenerator, source ImageSource, workers int, logger *slog.Logger) *Builder {
	if workers <= 0 {
		workers = defaultBuildWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		locator:   locator,
		generator: generator,
		source:    source,
		workers:   workers,
		logger:    logger,
		now:       time.Now,
	}
}

// entryResult is the outcome of processing one entry
type entryResult struct {
	record    *domain.ConditionRecord
	exclusion *Exclusion
}

// Build validates every entry, embeds the images on a bounded worker pool and
// assembles the snapshot. Per-entry failures become exclusions; the build
// itself fails on cancellation, an unavailable backend, or an empty result.
func (b *Builder) Build(ctx context.Context, entries []ManifestEntry) (*Snapshot, *BuildReport, error) {
	start := b.now()

	results := make([]entryResult, len(entries))
	pending := make([]int, 0, len(entries))
	labeled := make([]labeledEntry, len(entries))
	seen := make(map[string]int, len(entries))

	// Validation and duplicate detection run first, in manifest order
	for i, e := range entries {
		le, err := e.label()
		if err != nil {
			results[i].exclusion = &Exclusion{EntryID: e.ID, Path: e.Path, Line: e.Line, Code: CodeInvalidRow, Reason: err.Error()}
			continue
		}
		if first, dup := seen[le.ID]; dup {
			results[i].exclusion = &Exclusion{
				EntryID: le.ID, Path: le.Path, Line: le.Line, Code: CodeDuplicateID,
				Reason: fmt.Sprintf("id already used on line %d", entries[first].Line),
			}
			continue
		}
		seen[le.ID] = i
		labeled[i] = le
		pending = append(pending, i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for _, i := range pending {
		g.Go(func() error {
			res, err := b.process(gctx, labeled[i])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("build corpus: %w", err)
	}

	report := &BuildReport{
		Total:       len(entries),
		Exclusions:  []Exclusion{},
		ByCondition: make(map[domain.ConditionLabel]int),
	}
	records := make([]domain.ConditionRecord, 0, len(pending))
	for _, r := range results {
		if r.exclusion != nil {
			report.Exclusions = append(report.Exclusions, *r.exclusion)
			continue
		}
		if r.record != nil {
			records = append(records, *r.record)
			report.ByCondition[r.record.Condition]++
		}
	}
	report.Included = len(records)
	report.Excluded = len(report.Exclusions)
	report.Duration = b.now().Sub(start)

	if len(records) == 0 {
		return nil, report, ErrEmptyCorpus
	}

	snapshot, err := NewSnapshot(b.generator.ModelVersion(), b.generator.Dimension(), records, start)
	if err != nil {
		return nil, report, fmt.Errorf("assemble snapshot: %w", err)
	}
	report.Version = snapshot.Version

	b.logger.Info("corpus built",
		"version", snapshot.Version,
		"model_version", snapshot.ModelVersion,
		"included", report.Included,
		"excluded", report.Excluded,
		"duration", report.Duration,
	)

	return snapshot, report, nil
}

// process runs one entry through locate and embed. Only errors that make the
// whole build meaningless are returned; the rest become exclusions.
func (b *Builder) process(ctx context.Context, e labeledEntry) (entryResult, error) {
	exclude := func(code string, err error) (entryResult, error) {
		b.logger.Debug("corpus entry excluded", "id", e.ID, "path", e.Path, "code", code, "error", err)
		return entryResult{exclusion: &Exclusion{EntryID: e.ID, Path: e.Path, Line: e.Line, Code: code, Reason: err.Error()}}, nil
	}

	data, err := b.source.Open(ctx, e.Path)
	if err != nil {
		if ctx.Err() != nil {
			return entryResult{}, ctx.Err()
		}
		return exclude(CodeImageUnreadable, err)
	}

	located, err := b.locator.Locate(ctx, data)
	if err != nil {
		return b.classify(ctx, err, exclude)
	}

	emb, err := b.generator.Generate(ctx, located.Crop)
	if err != nil {
		return b.classify(ctx, err, exclude)
	}

	return entryResult{record: &domain.ConditionRecord{
		ID:           e.ID,
		Embedding:    emb.Vector,
		Condition:    e.Condition,
		Severity:     e.Severity,
		Demographics: e.Demographics,
		Source:       e.Source,
	}}, nil
}

func (b *Builder) classify(ctx context.Context, err error, exclude func(string, error) (entryResult, error)) (entryResult, error) {
	if ctx.Err() != nil {
		return entryResult{}, ctx.Err()
	}

	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		if appErr.Category == domain.CategoryRetryWithClearerPhoto {
			return exclude(appErr.Code, err)
		}
	}
	return entryResult{}, err
}
