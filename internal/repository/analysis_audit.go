package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

type AnalysisAuditRepository struct {
	pool PgxPool
}

func NewAnalysisAuditRepository(pool PgxPool) *AnalysisAuditRepository {
	return &AnalysisAuditRepository{pool: pool}
}

// Create inserts a new analysis audit record
func (r *AnalysisAuditRepository) Create(ctx context.Context, audit *domain.AnalysisAudit) error {
	query := `
		INSERT INTO analysis_audits (
			id, corpus_version, model_version, fallback_level, health_score,
			conditions, recommendations_count, error_code, latency_ms, client_ip, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, query,
		audit.ID,
		audit.CorpusVersion,
		audit.ModelVersion,
		string(audit.FallbackLevel),
		audit.HealthScore,
		toStrings(audit.Conditions),
		audit.RecommendationsCnt,
		audit.ErrorCode,
		audit.LatencyMs,
		audit.ClientIP,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create analysis audit: id %s already recorded", audit.ID)
		}
		return fmt.Errorf("create analysis audit: %w", err)
	}

	return nil
}
