package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/derma/internal/corpus"
	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

var createdAt = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func testSnapshot(t *testing.T) *corpus.Snapshot {
	t.Helper()
	records := []domain.ConditionRecord{
		{
			ID:           "rec-a",
			Embedding:    []float64{1, 0, 0, 0},
			Condition:    domain.ConditionAcne,
			Severity:     domain.SeverityMild,
			Demographics: domain.Demographics{Age: domain.Age25To34},
			Source:       "dataset-a",
		},
		{
			ID:           "rec-b",
			Embedding:    []float64{0, 1, 0, 0},
			Condition:    domain.ConditionHealthy,
			Severity:     domain.SeverityNone,
			Demographics: domain.Demographics{Ethnicity: domain.EthnicityHispanic, SkinType: domain.SkinOily},
		},
	}
	s, err := corpus.NewSnapshot("local/skin-texture-v1", 4, records, createdAt)
	require.NoError(t, err)
	return s
}

// CorpusRepository Tests

func TestCorpusRepository_SaveSnapshot(t *testing.T) {
	s := testSnapshot(t)

	expectVersion := func(mock pgxmock.PgxPoolIface, inserted bool) {
		mock.ExpectQuery(`INSERT INTO corpus_versions`).
			WithArgs(s.Version, s.ModelVersion, 4, 2, createdAt).
			WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(inserted))
	}
	expectRecord := func(mock pgxmock.PgxPoolIface, rec domain.ConditionRecord) *pgxmock.ExpectedExec {
		return mock.ExpectExec(`INSERT INTO reference_records`).
			WithArgs(
				s.Version,
				rec.ID,
				string(rec.Condition),
				string(rec.Severity),
				string(rec.Demographics.Age),
				string(rec.Demographics.Ethnicity),
				string(rec.Demographics.SkinType),
				rec.Source,
				pgxmock.AnyArg(),
			)
	}

	tests := []struct {
		name      string
		mockSetup func(mock pgxmock.PgxPoolIface)
		wantErr   string
	}{
		{
			name: "new version writes every record",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				expectVersion(mock, true)
				for _, rec := range s.Records {
					expectRecord(mock, rec).WillReturnResult(pgxmock.NewResult("INSERT", 1))
				}
				mock.ExpectCommit()
			},
		},
		{
			name: "existing version only refreshes publish time",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				expectVersion(mock, false)
				mock.ExpectCommit()
			},
		},
		{
			name: "record insert failure rolls back",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				expectVersion(mock, true)
				expectRecord(mock, s.Records[0]).WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			wantErr: "save record rec-a: disk full",
		},
		{
			name: "duplicate record id",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				expectVersion(mock, true)
				expectRecord(mock, s.Records[0]).
					WillReturnError(errors.New("duplicate key value violates unique constraint (23505)"))
				mock.ExpectRollback()
			},
			wantErr: "duplicate id",
		},
		{
			name: "begin failure",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
			},
			wantErr: "begin snapshot tx",
		},
		{
			name: "commit failure",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				expectVersion(mock, false)
				mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
			},
			wantErr: "commit snapshot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			tt.mockSetup(mock)

			err = NewCorpusRepository(mock).SaveSnapshot(context.Background(), s)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCorpusRepository_LatestVersion(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(mock pgxmock.PgxPoolIface)
		want      string
		wantErr   error
	}{
		{
			name: "latest published",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT version FROM corpus_versions ORDER BY published_at DESC, version DESC LIMIT 1`).
					WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow("v-0123456789abcdef"))
			},
			want: "v-0123456789abcdef",
		},
		{
			name: "nothing published",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT version FROM corpus_versions`).
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: domain.ErrCorpusUnavailable,
		},
		{
			name: "database error",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT version FROM corpus_versions`).
					WillReturnError(errors.New("connection lost"))
			},
			wantErr: errors.New("get latest corpus version: connection lost"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			tt.mockSetup(mock)

			got, err := NewCorpusRepository(mock).LatestVersion(context.Background())
			if tt.wantErr != nil {
				require.Error(t, err)
				if errors.Is(tt.wantErr, domain.ErrCorpusUnavailable) {
					assert.ErrorIs(t, err, domain.ErrCorpusUnavailable)
				} else {
					assert.Equal(t, tt.wantErr.Error(), err.Error())
				}
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func recordRows(s *corpus.Snapshot, n int) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{
		"id", "condition", "severity", "age_bucket", "ethnicity_bucket", "skin_type", "source", "embedding",
	})
	for _, rec := range s.Records[:n] {
		vec := toVector(rec.Embedding)
		rows.AddRow(
			rec.ID,
			string(rec.Condition),
			string(rec.Severity),
			string(rec.Demographics.Age),
			string(rec.Demographics.Ethnicity),
			string(rec.Demographics.SkinType),
			rec.Source,
			&vec,
		)
	}
	return rows
}

func TestCorpusRepository_GetSnapshot(t *testing.T) {
	s := testSnapshot(t)

	expectMeta := func(mock pgxmock.PgxPoolIface, count int) {
		mock.ExpectQuery(`SELECT model_version, dimension, record_count, created_at FROM corpus_versions WHERE version = \$1`).
			WithArgs(s.Version).
			WillReturnRows(pgxmock.NewRows([]string{"model_version", "dimension", "record_count", "created_at"}).
				AddRow(s.ModelVersion, 4, count, createdAt))
	}

	t.Run("restores records", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		expectMeta(mock, 2)
		mock.ExpectQuery(`SELECT id, condition, severity, age_bucket, ethnicity_bucket, skin_type, source, embedding FROM reference_records WHERE corpus_version = \$1 ORDER BY id`).
			WithArgs(s.Version).
			WillReturnRows(recordRows(s, 2))

		got, err := NewCorpusRepository(mock).GetSnapshot(context.Background(), s.Version)
		require.NoError(t, err)

		assert.Equal(t, s.Version, got.Version)
		assert.Equal(t, s.ModelVersion, got.ModelVersion)
		assert.Equal(t, createdAt, got.CreatedAt)
		require.Equal(t, 2, got.Len())
		assert.Equal(t, s.Records, got.Records)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing rows", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		expectMeta(mock, 2)
		mock.ExpectQuery(`SELECT id, condition`).
			WithArgs(s.Version).
			WillReturnRows(recordRows(s, 1))

		_, err = NewCorpusRepository(mock).GetSnapshot(context.Background(), s.Version)
		assert.ErrorIs(t, err, corpus.ErrVersionMismatch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown version", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT model_version`).
			WithArgs("v-missing").
			WillReturnError(pgx.ErrNoRows)

		_, err = NewCorpusRepository(mock).GetSnapshot(context.Background(), "v-missing")
		assert.ErrorIs(t, err, domain.ErrCorpusUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCorpusSource_Load(t *testing.T) {
	s := testSnapshot(t)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT version FROM corpus_versions`).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(s.Version))
	mock.ExpectQuery(`SELECT model_version`).
		WithArgs(s.Version).
		WillReturnRows(pgxmock.NewRows([]string{"model_version", "dimension", "record_count", "created_at"}).
			AddRow(s.ModelVersion, 4, 2, createdAt))
	mock.ExpectQuery(`SELECT id, condition`).
		WithArgs(s.Version).
		WillReturnRows(recordRows(s, 2))

	src := NewCorpusSource(NewCorpusRepository(mock))
	got, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.Version, got.Version)
	assert.Equal(t, "postgres", src.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ReferenceIndex Tests

func TestReferenceIndex(t *testing.T) {
	s := testSnapshot(t)

	t.Run("query orders by distance then id", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM reference_records WHERE corpus_version = \$1`).
			WithArgs(s.Version).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery(`SELECT id, 1 - \(embedding <=> \$2\) AS similarity FROM reference_records WHERE corpus_version = \$1 ORDER BY embedding <=> \$2, id LIMIT \$3`).
			WithArgs(s.Version, pgxmock.AnyArg(), 5).
			WillReturnRows(pgxmock.NewRows([]string{"id", "similarity"}).
				AddRow("rec-a", 1.0).
				AddRow("rec-b", 0.0))

		idx, err := NewReferenceIndex(context.Background(), mock, s)
		require.NoError(t, err)
		assert.Equal(t, 2, idx.Len())
		assert.Equal(t, 4, idx.Dimension())
		assert.Equal(t, "pgvector", idx.Kind())

		got, err := idx.Query(context.Background(), []float64{1, 0, 0, 0}, 5)
		require.NoError(t, err)
		assert.Equal(t, []domain.Neighbor{
			{RecordID: "rec-a", Similarity: 1},
			{RecordID: "rec-b", Similarity: 0},
		}, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("row count mismatch", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT COUNT`).
			WithArgs(s.Version).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

		_, err = NewReferenceIndex(context.Background(), mock, s)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid queries never reach the database", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		idx := &ReferenceIndex{pool: mock, version: s.Version, dimension: 4, size: 2}

		_, err = idx.Query(context.Background(), []float64{1, 0, 0, 0}, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidTopK)

		_, err = idx.Query(context.Background(), []float64{1, 0}, 3)
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// ProductRepository Tests

func TestProductRepository_ProductsForConditions(t *testing.T) {
	tests := []struct {
		name      string
		labels    []domain.ConditionLabel
		mockSetup func(mock pgxmock.PgxPoolIface)
		want      []domain.Product
		wantErr   bool
	}{
		{
			name:   "matches by tag or category",
			labels: []domain.ConditionLabel{domain.ConditionAcne},
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows([]string{"id", "name", "category", "ingredients", "target_conditions"}).
					AddRow("p-1", "Clear Wash", "cleanser", []string{"salicylic acid"}, []string{"acne"}).
					AddRow("p-2", "Spot Gel", "spot_treatment", []string{}, []string{})

				mock.ExpectQuery(`SELECT id, name, category, ingredients, target_conditions FROM products WHERE active AND \(target_conditions && \$1 OR lower\(category\) = ANY\(\$2\)\) ORDER BY id`).
					WithArgs([]string{"acne"}, []string{"cleanser", "spot_treatment"}).
					WillReturnRows(rows)
			},
			want: []domain.Product{
				{ID: "p-1", Name: "Clear Wash", Category: "cleanser", Ingredients: []string{"salicylic acid"}, TargetConditions: []domain.ConditionLabel{domain.ConditionAcne}},
				{ID: "p-2", Name: "Spot Gel", Category: "spot_treatment", Ingredients: []string{}, TargetConditions: []domain.ConditionLabel{}},
			},
		},
		{
			name:   "category match ignores stored case",
			labels: []domain.ConditionLabel{domain.ConditionDarkCircles},
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows([]string{"id", "name", "category", "ingredients", "target_conditions"}).
					AddRow("p-4", "Eye Balm", "Eye_Care", []string{"caffeine"}, []string{})

				mock.ExpectQuery(`lower\(category\) = ANY\(\$2\)`).
					WithArgs([]string{"dark_circles"}, []string{"eye_care"}).
					WillReturnRows(rows)
			},
			want: []domain.Product{
				{ID: "p-4", Name: "Eye Balm", Category: "Eye_Care", Ingredients: []string{"caffeine"}, TargetConditions: []domain.ConditionLabel{}},
			},
		},
		{
			name:      "no labels skips the query",
			labels:    nil,
			mockSetup: func(mock pgxmock.PgxPoolIface) {},
			want:      []domain.Product{},
		},
		{
			name:   "database error",
			labels: []domain.ConditionLabel{domain.ConditionDarkCircles},
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, name, category`).
					WithArgs([]string{"dark_circles"}, []string{"eye_care"}).
					WillReturnError(errors.New("connection lost"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			tt.mockSetup(mock)

			got, err := NewProductRepository(mock).ProductsForConditions(context.Background(), tt.labels)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrCatalogUnavailable)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// AnalysisAuditRepository Tests

func TestAnalysisAuditRepository_Create(t *testing.T) {
	auditID := uuid.New()
	code := "NO_FACE_DETECTED"

	tests := []struct {
		name      string
		audit     *domain.AnalysisAudit
		mockSetup func(mock pgxmock.PgxPoolIface)
		wantErr   string
	}{
		{
			name: "successful analysis",
			audit: &domain.AnalysisAudit{
				ID:                 auditID,
				CorpusVersion:      "v-1",
				ModelVersion:       "local/skin-texture-v1",
				FallbackLevel:      domain.FallbackGlobal,
				HealthScore:        81.5,
				Conditions:         []domain.ConditionLabel{domain.ConditionAcne},
				RecommendationsCnt: 2,
				LatencyMs:          42,
				ClientIP:           "10.0.0.1",
			},
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO analysis_audits`).
					WithArgs(auditID, "v-1", "local/skin-texture-v1", "global", 81.5,
						[]string{"acne"}, 2, (*string)(nil), int64(42), "10.0.0.1").
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "failed analysis without id gets one",
			audit: &domain.AnalysisAudit{
				ErrorCode: &code,
				LatencyMs: 3,
			},
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO analysis_audits`).
					WithArgs(pgxmock.AnyArg(), "", "", "", 0.0, []string{}, 0, &code, int64(3), "").
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name:  "duplicate id",
			audit: &domain.AnalysisAudit{ID: auditID},
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO analysis_audits`).
					WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnError(errors.New("duplicate key value violates unique constraint (23505)"))
			},
			wantErr: "already recorded",
		},
		{
			name:  "database error",
			audit: &domain.AnalysisAudit{ID: auditID},
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO analysis_audits`).
					WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnError(errors.New("disk full"))
			},
			wantErr: "create analysis audit: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			tt.mockSetup(mock)

			err = NewAnalysisAuditRepository(mock).Create(context.Background(), tt.audit)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.NotEqual(t, uuid.Nil, tt.audit.ID)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestVectorConversion(t *testing.T) {
	v := toVector([]float64{0.5, -0.25, 1})
	assert.Equal(t, []float32{0.5, -0.25, 1}, v.Slice())
	assert.Equal(t, []float64{0.5, -0.25, 1}, fromVector(pgvector.NewVector([]float32{0.5, -0.25, 1})))
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "postgres error code 23505",
			err:  fmt.Errorf("pq: duplicate key value violates unique constraint (23505)"),
			want: true,
		},
		{
			name: "error contains unique",
			err:  fmt.Errorf("ERROR: unique constraint violated"),
			want: true,
		},
		{
			name: "error contains duplicate key",
			err:  fmt.Errorf("duplicate key value"),
			want: true,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "different error",
			err:  fmt.Errorf("connection timeout"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isUniqueViolation(tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}
