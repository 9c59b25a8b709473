package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository uses
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository reads aggregates from the analysis audit log
type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// OutcomesSince counts audited analyses per outcome created after since.
// Successful analyses have no error code and are reported as OutcomeOK.
func (r *Repository) OutcomesSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	query := `
		SELECT COALESCE(error_code, $2) AS outcome, COUNT(*)
		FROM analysis_audits
		WHERE created_at >= $1
		GROUP BY outcome
	`

	rows, err := r.db.Query(ctx, query, since, OutcomeOK)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		counts[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return counts, nil
}

// DeleteAuditsBefore removes audits older than cutoff
func (r *Repository) DeleteAuditsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM analysis_audits WHERE created_at < $1`

	result, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old audits: %w", err)
	}
	return result.RowsAffected(), nil
}
