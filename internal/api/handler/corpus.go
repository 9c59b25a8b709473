package handler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/derma/internal/baseline"
	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/snapshot"
)

// BundleSource returns the live corpus bundle
type BundleSource interface {
	Current() (*snapshot.Bundle, error)
}

// Reloader publishes the latest snapshot from the configured source
type Reloader interface {
	Reload(ctx context.Context) (*snapshot.Bundle, error)
}

type CorpusHandler struct {
	bundles  BundleSource
	reloader Reloader
	logger   *slog.Logger
}

func NewCorpusHandler(bundles BundleSource, reloader Reloader, logger *slog.Logger) *CorpusHandler {
	return &CorpusHandler{
		bundles:  bundles,
		reloader: reloader,
		logger:   logger,
	}
}

type ConditionCount struct {
	Condition domain.ConditionLabel `json:"condition"`
	Records   int                   `json:"records"`
}

type CorpusResponse struct {
	Version      string             `json:"version"`
	ModelVersion string             `json:"model_version"`
	Dimension    int                `json:"dimension"`
	Records      int                `json:"records"`
	IndexKind    string             `json:"index_kind"`
	CreatedAt    time.Time          `json:"created_at"`
	LoadedAt     time.Time          `json:"loaded_at"`
	Conditions   []ConditionCount   `json:"conditions"`
	MinSamples   int                `json:"min_samples"`
	Baselines    []baseline.Summary `json:"baselines"`
}

type ReloadResponse struct {
	Changed         bool           `json:"changed"`
	PreviousVersion string         `json:"previous_version,omitempty"`
	Corpus          CorpusResponse `json:"corpus"`
}

// Info GET /v1/corpus - describes the live snapshot
func (h *CorpusHandler) Info(c *fiber.Ctx) error {
	b, err := h.bundles.Current()
	if err != nil {
		return err
	}
	return c.JSON(describe(b))
}

// Reload POST /v1/corpus/reload - loads and publishes the source snapshot
func (h *CorpusHandler) Reload(c *fiber.Ctx) error {
	var previous string
	if live, err := h.bundles.Current(); err == nil {
		previous = live.Version()
	}

	b, err := h.reloader.Reload(c.UserContext())
	if err != nil {
		h.logger.Warn("corpus reload failed",
			slog.String("live_version", previous),
			slog.Any("error", err),
		)
		var appErr *domain.AppError
		if errors.As(err, &appErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return domain.ErrCorpusUnavailable.WithError(err)
	}

	resp := ReloadResponse{
		Changed: b.Version() != previous,
		Corpus:  describe(b),
	}
	if resp.Changed {
		resp.PreviousVersion = previous
	}
	return c.JSON(resp)
}

func describe(b *snapshot.Bundle) CorpusResponse {
	s := b.Snapshot

	counts := s.ConditionCounts()
	conditions := make([]ConditionCount, 0, len(counts))
	for label, n := range counts {
		conditions = append(conditions, ConditionCount{Condition: label, Records: n})
	}
	sort.Slice(conditions, func(i, j int) bool { return conditions[i].Condition < conditions[j].Condition })

	return CorpusResponse{
		Version:      s.Version,
		ModelVersion: s.ModelVersion,
		Dimension:    s.Dimension,
		Records:      s.Len(),
		IndexKind:    b.Index.Kind(),
		CreatedAt:    s.CreatedAt,
		LoadedAt:     b.LoadedAt,
		Conditions:   conditions,
		MinSamples:   b.Baselines.MinSamples(),
		Baselines:    b.Baselines.Summaries(),
	}
}
