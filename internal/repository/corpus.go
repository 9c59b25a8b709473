package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/saturnino-fabrica-de-software/derma/internal/corpus"
	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

// CorpusRepository stores whole snapshots. A version is written once in a
// single transaction and never partially updated.
type CorpusRepository struct {
	pool PgxPool
}

func NewCorpusRepository(pool PgxPool) *CorpusRepository {
	return &CorpusRepository{pool: pool}
}

// SaveSnapshot persists s and marks it as the latest published version.
// Saving a version that already exists only refreshes its publish time.
func (r *CorpusRepository) SaveSnapshot(ctx context.Context, s *corpus.Snapshot) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := `
		INSERT INTO corpus_versions (version, model_version, dimension, record_count, created_at, published_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (version) DO UPDATE SET published_at = NOW()
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	if err = tx.QueryRow(ctx, query,
		s.Version,
		s.ModelVersion,
		s.Dimension,
		s.Len(),
		s.CreatedAt,
	).Scan(&inserted); err != nil {
		return fmt.Errorf("save corpus version: %w", err)
	}

	if inserted {
		insert := `
			INSERT INTO reference_records (
				corpus_version, id, condition, severity, age_bucket,
				ethnicity_bucket, skin_type, source, embedding
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		for _, rec := range s.Records {
			if _, err = tx.Exec(ctx, insert,
				s.Version,
				rec.ID,
				string(rec.Condition),
				string(rec.Severity),
				string(rec.Demographics.Age),
				string(rec.Demographics.Ethnicity),
				string(rec.Demographics.SkinType),
				rec.Source,
				toVector(rec.Embedding),
			); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("save record %s: duplicate id in version %s: %w", rec.ID, s.Version, err)
				}
				return fmt.Errorf("save record %s: %w", rec.ID, err)
			}
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// LatestVersion returns the most recently published version
func (r *CorpusRepository) LatestVersion(ctx context.Context) (string, error) {
	query := `
		SELECT version
		FROM corpus_versions
		ORDER BY published_at DESC, version DESC
		LIMIT 1
	`

	var version string
	err := r.pool.QueryRow(ctx, query).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrCorpusUnavailable
	}
	if err != nil {
		return "", fmt.Errorf("get latest corpus version: %w", err)
	}
	return version, nil
}

// GetSnapshot loads one version with all of its records
func (r *CorpusRepository) GetSnapshot(ctx context.Context, version string) (*corpus.Snapshot, error) {
	query := `
		SELECT model_version, dimension, record_count, created_at
		FROM corpus_versions
		WHERE version = $1
	`

	var (
		modelVersion string
		dimension    int
		recordCount  int
		createdAt    time.Time
	)
	err := r.pool.QueryRow(ctx, query, version).Scan(&modelVersion, &dimension, &recordCount, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCorpusUnavailable.WithError(fmt.Errorf("version %s not found", version))
	}
	if err != nil {
		return nil, fmt.Errorf("get corpus version: %w", err)
	}

	records, err := r.records(ctx, version)
	if err != nil {
		return nil, err
	}
	if len(records) != recordCount {
		return nil, fmt.Errorf("%w: version %s expects %d records, found %d",
			corpus.ErrVersionMismatch, version, recordCount, len(records))
	}

	s, err := corpus.RestoreSnapshot(version, modelVersion, dimension, records, createdAt)
	if err != nil {
		return nil, fmt.Errorf("restore snapshot %s: %w", version, err)
	}
	return s, nil
}

// LatestSnapshot loads the most recently published version
func (r *CorpusRepository) LatestSnapshot(ctx context.Context) (*corpus.Snapshot, error) {
	version, err := r.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}
	return r.GetSnapshot(ctx, version)
}

func (r *CorpusRepository) records(ctx context.Context, version string) ([]domain.ConditionRecord, error) {
	query := `
		SELECT id, condition, severity, age_bucket, ethnicity_bucket, skin_type, source, embedding
		FROM reference_records
		WHERE corpus_version = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, version)
	if err != nil {
		return nil, fmt.Errorf("query reference records: %w", err)
	}
	defer rows.Close()

	var records []domain.ConditionRecord
	for rows.Next() {
		var (
			rec                               domain.ConditionRecord
			condition, severity, age, eth, st string
			embedding                         *pgvector.Vector
		)
		if err := rows.Scan(&rec.ID, &condition, &severity, &age, &eth, &st, &rec.Source, &embedding); err != nil {
			return nil, fmt.Errorf("scan reference record: %w", err)
		}
		rec.Condition = domain.ConditionLabel(condition)
		rec.Severity = domain.Severity(severity)
		rec.Demographics = domain.Demographics{
			Age:       domain.AgeBucket(age),
			Ethnicity: domain.EthnicityBucket(eth),
			SkinType:  domain.SkinType(st),
		}
		if embedding == nil {
			return nil, fmt.Errorf("reference record %s has no embedding", rec.ID)
		}
		rec.Embedding = fromVector(*embedding)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reference records: %w", err)
	}
	return records, nil
}

// CorpusSource serves the latest published snapshot to a snapshot.Reloader
type CorpusSource struct {
	repo *CorpusRepository
}

func NewCorpusSource(repo *CorpusRepository) *CorpusSource {
	return &CorpusSource{repo: repo}
}

func (s *CorpusSource) Load(ctx context.Context) (*corpus.Snapshot, error) {
	return s.repo.LatestSnapshot(ctx)
}

func (s *CorpusSource) String() string {
	return "postgres"
}
