package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/derma/internal/corpus"
	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/embedding"
	"github.com/saturnino-fabrica-de-software/derma/internal/face"
	"github.com/saturnino-fabrica-de-software/derma/internal/provider"
	"github.com/saturnino-fabrica-de-software/derma/internal/recommend"
	"github.com/saturnino-fabrica-de-software/derma/internal/scoring"
	"github.com/saturnino-fabrica-de-software/derma/internal/snapshot"
	"github.com/saturnino-fabrica-de-software/derma/internal/testutil"
)

const (
	testModel = "test/skin-v1"
	testDim   = 512
)

func basis(i int) []float64 {
	v := make([]float64, testDim)
	v[i] = 1
	return v
}

var (
	healthyCenter = basis(0)
	acneCenter    = basis(1)
	rednessCenter = basis(2)
)

// stubLocator accepts every image with a fixed valid region
type stubLocator struct {
	calls int
	err   error
	last  string
}

func (l *stubLocator) Locate(_ context.Context, data []byte) (*face.LocatedFace, error) {
	l.calls++
	l.last = string(data)
	if l.err != nil {
		return nil, l.err
	}
	return &face.LocatedFace{
		Region: domain.FaceRegion{
			Source:      "stub",
			Box:         domain.BoundingBox{X: 10, Y: 10, Width: 80, Height: 90},
			Confidence:  0.95,
			ImageWidth:  100,
			ImageHeight: 100,
		},
		Crop: image.NewNRGBA(image.Rect(0, 0, 80, 90)),
	}, nil
}

// stubGenerator answers with the vector registered for the last located image
type stubGenerator struct {
	version string
	vectors map[string][]float64
	locator *stubLocator
}

func (g *stubGenerator) Generate(_ context.Context, _ image.Image) (domain.Embedding, error) {
	v, ok := g.vectors[g.locator.last]
	if !ok {
		return domain.Embedding{}, domain.ErrEmbeddingFailed
	}
	return domain.Embedding{Vector: v, ModelVersion: g.version}, nil
}

func (g *stubGenerator) CheckCompatible(modelVersion string, dimension int) error {
	return embedding.CheckCompatible(g.version, testDim, modelVersion, dimension)
}

func (g *stubGenerator) ModelVersion() string {
	return g.version
}

type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Create(ctx context.Context, audit *domain.AnalysisAudit) error {
	args := m.Called(ctx, audit)
	return args.Error(0)
}

type failingCatalog struct{}

func (failingCatalog) ProductsForConditions(_ context.Context, _ []domain.ConditionLabel) ([]domain.Product, error) {
	return nil, errors.New("connection refused")
}

func testCorpus(t *testing.T) *corpus.Snapshot {
	t.Helper()

	var records []domain.ConditionRecord
	seed := int64(100)
	add := func(prefix string, n int, center []float64, label domain.ConditionLabel, severity domain.Severity, demo func(i int) (domain.AgeBucket, domain.EthnicityBucket)) {
		for i := 0; i < n; i++ {
			seed++
			age, eth := demo(i)
			records = append(records, testutil.Record(
				fmt.Sprintf("%s-%02d", prefix, i),
				label,
				severity,
				age,
				eth,
				testutil.Blend(center, testutil.UnitVector(testDim, seed), 0.9, 0.3),
			))
		}
	}

	add("healthy", 30, healthyCenter, domain.ConditionHealthy, domain.SeverityNone, func(i int) (domain.AgeBucket, domain.EthnicityBucket) {
		if i < 15 {
			return domain.Age25To34, domain.EthnicityEastAsian
		}
		return domain.Age45To54, domain.EthnicityAfrican
	})
	add("acne", 10, acneCenter, domain.ConditionAcne, domain.SeverityModerate, func(int) (domain.AgeBucket, domain.EthnicityBucket) {
		return domain.Age25To34, ""
	})
	add("redness", 10, rednessCenter, domain.ConditionRedness, domain.SeverityMild, func(int) (domain.AgeBucket, domain.EthnicityBucket) {
		return "", domain.EthnicityAfrican
	})

	s, err := corpus.NewSnapshot(testModel, testDim, records, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return s
}

func testCatalog(t *testing.T) *recommend.FileCatalog {
	t.Helper()
	c, err := recommend.NewFileCatalog([]domain.Product{
		{ID: "p-acne", Name: "Clear Wash", Category: "cleanser", TargetConditions: []domain.ConditionLabel{domain.ConditionAcne}},
		{ID: "p-redness", Name: "Calm Serum", Category: "soothing", TargetConditions: []domain.ConditionLabel{domain.ConditionRedness}},
		{ID: "p-eyes", Name: "Eye Balm", Category: "eye_care"},
	})
	require.NoError(t, err)
	return c
}

type fixture struct {
	service   *AnalysisService
	holder    *snapshot.Holder
	snapshot  *corpus.Snapshot
	locator   *stubLocator
	generator *stubGenerator
}

func newFixture(t *testing.T, mutate func(*scoring.Config)) *fixture {
	t.Helper()

	s := testCorpus(t)
	bundle, err := snapshot.Assemble(context.Background(), s, snapshot.Options{
		ModelVersion: testModel,
		Dimension:    testDim,
		MinSamples:   5,
	})
	require.NoError(t, err)

	holder := snapshot.NewHolder()
	holder.Publish(bundle)

	cfg := scoring.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	scorer, err := scoring.NewScorer(cfg)
	require.NoError(t, err)

	locator := &stubLocator{}
	generator := &stubGenerator{version: testModel, vectors: map[string][]float64{}, locator: locator}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewAnalysisService(holder, locator, generator, scorer,
		recommend.NewRanker(recommend.DefaultConfig()), testCatalog(t), logger).
		WithTopK(cfg.TopK)

	return &fixture{service: svc, holder: holder, snapshot: s, locator: locator, generator: generator}
}

// image registers vector under a fresh image key
func (f *fixture) image(key string, vector []float64) []byte {
	f.generator.vectors[key] = vector
	return []byte(key)
}

func callFor(calls []domain.ConditionCall, label domain.ConditionLabel) (domain.ConditionCall, bool) {
	for _, c := range calls {
		if c.Condition == label {
			return c, true
		}
	}
	return domain.ConditionCall{}, false
}

func (f *fixture) healthyRecord(t *testing.T) domain.ConditionRecord {
	t.Helper()
	for _, rec := range f.snapshot.Records {
		if rec.Condition == domain.ConditionHealthy {
			return rec
		}
	}
	t.Fatal("corpus has no healthy record")
	return domain.ConditionRecord{}
}

func TestAnalysisService_SelfQuery(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.healthyRecord(t)

	result, err := f.service.Analyze(context.Background(), f.image("self", rec.Embedding), nil)
	require.NoError(t, err)

	require.NotEmpty(t, result.Neighbors)
	assert.Equal(t, rec.ID, result.Neighbors[0].RecordID)
	assert.InDelta(t, 1.0, result.Neighbors[0].Similarity, 1e-9)
	assert.Equal(t, domain.ConditionHealthy, result.Neighbors[0].Condition)

	assert.Empty(t, result.ConditionCalls, "healthy is never emitted as a call")
	assert.Greater(t, result.BaselineSimilarity, 0.8)
	assert.Greater(t, result.OverallHealthScore, 90.0)
	assert.Empty(t, result.Recommendations)
	assert.NotNil(t, result.Recommendations)
	assert.Equal(t, f.snapshot.Version, result.CorpusVersion)
	assert.Equal(t, testModel, result.ModelVersion)
	assert.True(t, result.Face.Valid())
}

func TestAnalysisService_TinyFaceRejected(t *testing.T) {
	f := newFixture(t, nil)

	detector := &fixedDetector{faces: []provider.DetectedFace{{
		BoundingBox: domain.BoundingBox{X: 95, Y: 95, Width: 10, Height: 10},
		Confidence:  0.99,
	}}}
	locator := face.NewLocator(detector, face.DefaultConfig())
	f.service.locator = locator

	_, err := f.service.Analyze(context.Background(), testutil.SingleFace().PNG(t), nil)
	assert.ErrorIs(t, err, domain.ErrNoFaceDetected)
}

type fixedDetector struct {
	faces []provider.DetectedFace
}

func (d *fixedDetector) Name() string { return "fixed" }

func (d *fixedDetector) DetectFaces(_ context.Context, _ provider.DetectRequest) ([]provider.DetectedFace, error) {
	return d.faces, nil
}

func TestAnalysisService_SimilarPeopleAgree(t *testing.T) {
	f := newFixture(t, nil)

	first, err := f.service.Analyze(context.Background(),
		f.image("person-1", testutil.Blend(acneCenter, testutil.UnitVector(testDim, 9001), 0.9, 0.3)), nil)
	require.NoError(t, err)
	second, err := f.service.Analyze(context.Background(),
		f.image("person-2", testutil.Blend(acneCenter, testutil.UnitVector(testDim, 9002), 0.9, 0.3)), nil)
	require.NoError(t, err)

	a, ok := callFor(first.ConditionCalls, domain.ConditionAcne)
	require.True(t, ok, "first image should be called acne")
	b, ok := callFor(second.ConditionCalls, domain.ConditionAcne)
	require.True(t, ok, "second image should be called acne")

	assert.InDelta(t, a.Confidence, b.Confidence, 0.15)
	assert.Equal(t, domain.SeverityModerate, a.ReferenceSeverity)
	assert.False(t, a.Damped)

	require.NotEmpty(t, first.Recommendations)
	assert.Equal(t, "p-acne", first.Recommendations[0].ProductID)
	assert.NotEmpty(t, first.Recommendations[0].Rationale)
}

func TestAnalysisService_BaselineFallback(t *testing.T) {
	f := newFixture(t, nil)
	query := testutil.Blend(healthyCenter, testutil.UnitVector(testDim, 77), 0.9, 0.3)

	tests := []struct {
		name      string
		hint      *domain.DemographicHint
		wantLevel domain.FallbackLevel
		wantKey   string
	}{
		{"no hint", nil, domain.FallbackGlobal, "*|*"},
		{"exact bucket", &domain.DemographicHint{Age: domain.Age25To34, Ethnicity: domain.EthnicityEastAsian}, domain.FallbackExact, "25-34|east_asian"},
		{"age only", &domain.DemographicHint{Age: domain.Age45To54}, domain.FallbackPartial, "45-54|*"},
		{"sparse bucket falls to age", &domain.DemographicHint{Age: domain.Age25To34, Ethnicity: domain.EthnicityAfrican}, domain.FallbackPartial, "25-34|*"},
		{"unknown bucket falls to global", &domain.DemographicHint{Age: domain.Age65Plus, Ethnicity: domain.EthnicityMixed}, domain.FallbackGlobal, "*|*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.service.Analyze(context.Background(), f.image("fallback", query), tt.hint)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, result.BaselineFallbackLevel)
			assert.Equal(t, tt.wantKey, result.BaselineKey)
			assert.False(t, result.BaselineInsufficient)
		})
	}
}

func TestAnalysisService_DampingNearBaseline(t *testing.T) {
	f := newFixture(t, func(c *scoring.Config) { c.MinConfidence = 0.2 })
	// The 30 healthy records would otherwise fill every default neighbor slot
	f.service.WithTopK(50)

	query := testutil.Blend(healthyCenter, acneCenter, 0.83, 0.55)
	result, err := f.service.Analyze(context.Background(), f.image("near-healthy", query), nil)
	require.NoError(t, err)

	require.Greater(t, result.BaselineSimilarity, 0.8)
	call, ok := callFor(result.ConditionCalls, domain.ConditionAcne)
	require.True(t, ok)
	assert.True(t, call.Damped)
	assert.InDelta(t, call.RawConfidence*0.7, call.Confidence, 1e-9)
	for _, c := range result.ConditionCalls {
		assert.LessOrEqual(t, c.Confidence, c.RawConfidence)
	}
}

func TestAnalysisService_Errors(t *testing.T) {
	t.Run("no snapshot published", func(t *testing.T) {
		f := newFixture(t, nil)
		f.service.holder = snapshot.NewHolder()

		_, err := f.service.Analyze(context.Background(), f.image("x", acneCenter), nil)
		assert.ErrorIs(t, err, domain.ErrCorpusUnavailable)
		assert.Zero(t, f.locator.calls)
	})

	t.Run("model version mismatch", func(t *testing.T) {
		f := newFixture(t, nil)
		f.generator.version = "other/skin-v2"

		_, err := f.service.Analyze(context.Background(), f.image("x", acneCenter), nil)
		assert.ErrorIs(t, err, domain.ErrEmbeddingVersionMismatch)
		assert.Zero(t, f.locator.calls, "no work is done against an incompatible corpus")
	})

	t.Run("invalid hint", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.service.Analyze(context.Background(), f.image("x", acneCenter),
			&domain.DemographicHint{Age: "30-40"})
		assert.ErrorIs(t, err, domain.ErrInvalidDemographic)
	})

	t.Run("locator failure passes through", func(t *testing.T) {
		f := newFixture(t, nil)
		f.locator.err = domain.ErrMultipleFaces

		_, err := f.service.Analyze(context.Background(), f.image("x", acneCenter), nil)
		assert.ErrorIs(t, err, domain.ErrMultipleFaces)
	})

	t.Run("embedding failure", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.service.Analyze(context.Background(), []byte("unregistered"), nil)
		assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	})

	t.Run("canceled between stages", func(t *testing.T) {
		f := newFixture(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := f.service.Analyze(ctx, f.image("x", acneCenter), nil)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("catalog unavailable", func(t *testing.T) {
		f := newFixture(t, nil)
		f.service.catalog = failingCatalog{}

		_, err := f.service.Analyze(context.Background(),
			f.image("acne", testutil.Blend(acneCenter, testutil.UnitVector(testDim, 5), 0.9, 0.3)), nil)
		assert.ErrorIs(t, err, domain.ErrCatalogUnavailable)
	})

	t.Run("invalid top k", func(t *testing.T) {
		f := newFixture(t, nil)
		f.service.WithTopK(0)

		_, err := f.service.Analyze(context.Background(), f.image("x", acneCenter), nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTopK)
	})
}

func TestAnalysisService_Audit(t *testing.T) {
	t.Run("successful analysis is recorded", func(t *testing.T) {
		f := newFixture(t, nil)
		repo := new(MockAuditRepository)
		f.service.WithAuditRepository(repo)

		repo.On("Create", mock.Anything, mock.MatchedBy(func(a *domain.AnalysisAudit) bool {
			return a.ErrorCode == nil &&
				a.CorpusVersion == f.snapshot.Version &&
				a.ClientIP == "203.0.113.7" &&
				len(a.Conditions) == 1 && a.Conditions[0] == domain.ConditionAcne
		})).Return(nil)

		ctx := WithClientIP(context.Background(), "203.0.113.7")
		result, err := f.service.Analyze(ctx,
			f.image("acne", testutil.Blend(acneCenter, testutil.UnitVector(testDim, 6), 0.9, 0.3)), nil)
		require.NoError(t, err)

		repo.AssertExpectations(t)
		audit := repo.Calls[0].Arguments.Get(1).(*domain.AnalysisAudit)
		assert.Equal(t, result.AnalysisID, audit.ID)
		assert.Equal(t, len(result.Recommendations), audit.RecommendationsCnt)
	})

	t.Run("failed analysis records the error code", func(t *testing.T) {
		f := newFixture(t, nil)
		f.locator.err = domain.ErrNoFaceDetected
		repo := new(MockAuditRepository)
		f.service.WithAuditRepository(repo)

		repo.On("Create", mock.Anything, mock.MatchedBy(func(a *domain.AnalysisAudit) bool {
			return a.ErrorCode != nil && *a.ErrorCode == "NO_FACE_DETECTED"
		})).Return(nil)

		_, err := f.service.Analyze(context.Background(), f.image("x", acneCenter), nil)
		assert.ErrorIs(t, err, domain.ErrNoFaceDetected)
		repo.AssertExpectations(t)
	})

	t.Run("audit failure does not fail the analysis", func(t *testing.T) {
		f := newFixture(t, nil)
		repo := new(MockAuditRepository)
		f.service.WithAuditRepository(repo)
		repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		result, err := f.service.Analyze(context.Background(), f.image("self", f.healthyRecord(t).Embedding), nil)
		require.NoError(t, err)
		assert.NotNil(t, result)
		repo.AssertExpectations(t)
	})
}

func TestAnalysisService_LiveSwapKeepsRequestsConsistent(t *testing.T) {
	f := newFixture(t, nil)
	query := f.snapshot.Records[0].Embedding

	before, err := f.service.Analyze(context.Background(), f.image("q", query), nil)
	require.NoError(t, err)

	// Republish a corpus without the queried record
	records := append([]domain.ConditionRecord(nil), f.snapshot.Records[1:]...)
	next, err := corpus.NewSnapshot(testModel, testDim, records, time.Now().UTC())
	require.NoError(t, err)
	bundle, err := snapshot.Assemble(context.Background(), next, snapshot.Options{MinSamples: 5})
	require.NoError(t, err)
	f.holder.Publish(bundle)

	after, err := f.service.Analyze(context.Background(), f.image("q", query), nil)
	require.NoError(t, err)

	assert.NotEqual(t, before.CorpusVersion, after.CorpusVersion)
	assert.Equal(t, next.Version, after.CorpusVersion)
	assert.NotEqual(t, f.snapshot.Records[0].ID, after.Neighbors[0].RecordID)
	assert.Less(t, after.Neighbors[0].Similarity, 0.999)
}
