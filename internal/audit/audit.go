// Package audit records one summary per analysis. Audits never carry image
// data or embeddings.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

// Sink accepts analysis audits. repository.AnalysisAuditRepository is the
// persistent implementation.
type Sink interface {
	Create(ctx context.Context, audit *domain.AnalysisAudit) error
}

// SlogSink writes audits to the structured log
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{
		logger: logger.With("component", "audit"),
	}
}

func (s *SlogSink) Create(ctx context.Context, audit *domain.AnalysisAudit) error {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}

	eventJSON, err := json.Marshal(audit)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to marshal analysis audit",
			slog.String("error", err.Error()),
			slog.String("analysis_id", audit.ID.String()),
		)
		return err
	}

	outcome := "ok"
	if audit.ErrorCode != nil {
		outcome = *audit.ErrorCode
	}

	s.logger.InfoContext(ctx, "analysis_audit",
		slog.String("analysis_id", audit.ID.String()),
		slog.String("outcome", outcome),
		slog.String("corpus_version", audit.CorpusVersion),
		slog.Int64("latency_ms", audit.LatencyMs),
		slog.Time("recorded_at", time.Now().UTC()),
		slog.String("event_data", string(eventJSON)),
	)

	return nil
}

// Fanout delivers every audit to all sinks and joins their errors
type Fanout []Sink

func (f Fanout) Create(ctx context.Context, audit *domain.AnalysisAudit) error {
	var errs []error
	for _, s := range f {
		if err := s.Create(ctx, audit); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoOpSink drops audits (tests, or AUDIT_ENABLED=false)
type NoOpSink struct{}

func (NoOpSink) Create(_ context.Context, _ *domain.AnalysisAudit) error {
	return nil
}
