package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/face"
	"github.com/saturnino-fabrica-de-software/derma/internal/metrics"
	"github.com/saturnino-fabrica-de-software/derma/internal/recommend"
	"github.com/saturnino-fabrica-de-software/derma/internal/scoring"
	"github.com/saturnino-fabrica-de-software/derma/internal/snapshot"
	"github.com/saturnino-fabrica-de-software/derma/internal/vecmath"
)

type FaceLocator interface {
	Locate(ctx context.Context, data []byte) (*face.LocatedFace, error)
}

type EmbeddingGenerator interface {
	Generate(ctx context.Context, crop image.Image) (domain.Embedding, error)
	CheckCompatible(modelVersion string, dimension int) error
	ModelVersion() string
}

type SnapshotHolder interface {
	Current() (*snapshot.Bundle, error)
}

type AnalysisAuditRepositoryInterface interface {
	Create(ctx context.Context, audit *domain.AnalysisAudit) error
}

const defaultTopK = 20

type clientIPKey struct{}

// WithClientIP attaches the caller address recorded in the analysis audit
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address set by WithClientIP, or ""
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// AnalysisService runs the online pipeline: locate, embed, query, baseline,
// score, recommend. It holds no per-request state.
type AnalysisService struct {
	holder    SnapshotHolder
	locator   FaceLocator
	generator EmbeddingGenerator
	scorer    *scoring.Scorer
	ranker    *recommend.Ranker
	catalog   recommend.Catalog
	auditRepo AnalysisAuditRepositoryInterface
	logger    *slog.Logger
	topK      int
}

func NewAnalysisService(
	holder SnapshotHolder,
	locator FaceLocator,
	generator EmbeddingGenerator,
	scorer *scoring.Scorer,
	ranker *recommend.Ranker,
	catalog recommend.Catalog,
	logger *slog.Logger,
) *AnalysisService {
	return &AnalysisService{
		holder:    holder,
		locator:   locator,
		generator: generator,
		scorer:    scorer,
		ranker:    ranker,
		catalog:   catalog,
		logger:    logger,
		topK:      defaultTopK,
	}
}

func (s *AnalysisService) WithTopK(k int) *AnalysisService {
	s.topK = k
	return s
}

// WithAuditRepository enables the best-effort audit write after each analysis
func (s *AnalysisService) WithAuditRepository(repo AnalysisAuditRepositoryInterface) *AnalysisService {
	s.auditRepo = repo
	return s
}

// Analyze runs the whole pipeline against the bundle that is live when the
// call starts. A nil hint resolves to the global baseline.
func (s *AnalysisService) Analyze(ctx context.Context, imageBytes []byte, hint *domain.DemographicHint) (*domain.AnalysisResult, error) {
	start := time.Now()

	result, bundle, err := s.analyze(ctx, imageBytes, hint)
	latency := time.Since(start).Milliseconds()
	if result != nil {
		result.LatencyMs = latency
	}

	metrics.RecordAnalysis(result, err)
	s.audit(ctx, bundle, result, err, latency)

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *AnalysisService) analyze(ctx context.Context, imageBytes []byte, hint *domain.DemographicHint) (*domain.AnalysisResult, *snapshot.Bundle, error) {
	if hint != nil && (!hint.Age.Valid() || !hint.Ethnicity.Valid()) {
		return nil, nil, domain.ErrInvalidDemographic.WithError(
			fmt.Errorf("age %q, ethnicity %q", hint.Age, hint.Ethnicity))
	}
	if s.topK <= 0 {
		return nil, nil, domain.ErrInvalidTopK.WithError(fmt.Errorf("top k %d", s.topK))
	}

	bundle, err := s.holder.Current()
	if err != nil {
		return nil, nil, err
	}
	corpus := bundle.Snapshot
	if err := s.generator.CheckCompatible(corpus.ModelVersion, corpus.Dimension); err != nil {
		return nil, bundle, err
	}

	t := time.Now()
	located, err := s.locator.Locate(ctx, imageBytes)
	metrics.ObserveStage(metrics.StageLocate, t)
	if err != nil {
		return nil, bundle, err
	}
	if err := ctx.Err(); err != nil {
		return nil, bundle, err
	}

	t = time.Now()
	emb, err := s.generator.Generate(ctx, located.Crop)
	metrics.ObserveStage(metrics.StageEmbed, t)
	if err != nil {
		return nil, bundle, err
	}
	if err := ctx.Err(); err != nil {
		return nil, bundle, err
	}

	t = time.Now()
	neighbors, err := bundle.Index.Query(ctx, emb.Vector, s.topK)
	metrics.ObserveStage(metrics.StageQuery, t)
	if err != nil {
		return nil, bundle, classifyQueryError(ctx, err)
	}

	t = time.Now()
	resolution := bundle.Baselines.LookupHint(hint)
	baselineSim := vecmath.CosineSimilarity(emb.Vector, resolution.Baseline.Centroid)
	metrics.ObserveStage(metrics.StageBaseline, t)

	t = time.Now()
	scored := s.scorer.Score(domain.QueryResult{
		Query:              emb,
		Neighbors:          neighbors,
		Baseline:           resolution,
		BaselineSimilarity: baselineSim,
	}, corpus)
	metrics.ObserveStage(metrics.StageScore, t)
	if err := ctx.Err(); err != nil {
		return nil, bundle, err
	}

	t = time.Now()
	recommendations, err := s.recommend(ctx, scored.Calls)
	metrics.ObserveStage(metrics.StageRecommend, t)
	if err != nil {
		return nil, bundle, err
	}

	details := make([]domain.NeighborDetail, 0, len(neighbors))
	for _, n := range neighbors {
		d := domain.NeighborDetail{RecordID: n.RecordID, Similarity: n.Similarity}
		if rec, ok := corpus.Record(n.RecordID); ok {
			d.Condition = rec.Condition
			d.Severity = rec.Severity
		}
		details = append(details, d)
	}

	return &domain.AnalysisResult{
		AnalysisID:            uuid.New(),
		CorpusVersion:         corpus.Version,
		ModelVersion:          emb.ModelVersion,
		Face:                  located.Region,
		OverallHealthScore:    scored.HealthScore,
		ConditionCalls:        scored.Calls,
		Recommendations:       recommendations,
		BaselineFallbackLevel: resolution.Level,
		BaselineKey:           resolution.Baseline.Key.String(),
		BaselineSimilarity:    baselineSim,
		BaselineInsufficient:  resolution.Insufficient,
		Neighbors:             details,
	}, bundle, nil
}

func (s *AnalysisService) recommend(ctx context.Context, calls []domain.ConditionCall) ([]domain.ProductRecommendation, error) {
	if len(calls) == 0 {
		return []domain.ProductRecommendation{}, nil
	}

	labels := make([]domain.ConditionLabel, len(calls))
	for i, c := range calls {
		labels[i] = c.Condition
	}

	products, err := s.catalog.ProductsForConditions(ctx, labels)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, domain.ErrCatalogUnavailable.WithError(err)
	}

	return s.ranker.Rank(calls, products), nil
}

func classifyQueryError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return domain.ErrCorpusUnavailable.WithError(fmt.Errorf("similarity query: %w", err))
}

// audit failures never change the analysis outcome
func (s *AnalysisService) audit(ctx context.Context, bundle *snapshot.Bundle, result *domain.AnalysisResult, err error, latency int64) {
	if s.auditRepo == nil {
		return
	}

	entry := &domain.AnalysisAudit{
		ModelVersion: s.generator.ModelVersion(),
		LatencyMs:    latency,
		ClientIP:     ClientIP(ctx),
		Conditions:   []domain.ConditionLabel{},
	}
	if bundle != nil {
		entry.CorpusVersion = bundle.Version()
	}
	if err != nil {
		code := metrics.Outcome(err)
		entry.ErrorCode = &code
	}
	if result != nil {
		entry.ID = result.AnalysisID
		entry.FallbackLevel = result.BaselineFallbackLevel
		entry.HealthScore = result.OverallHealthScore
		entry.RecommendationsCnt = len(result.Recommendations)
		for _, c := range result.ConditionCalls {
			entry.Conditions = append(entry.Conditions, c.Condition)
		}
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if auditErr := s.auditRepo.Create(writeCtx, entry); auditErr != nil {
		s.logger.Warn("analysis audit not recorded",
			slog.String("error", auditErr.Error()),
			slog.String("corpus_version", entry.CorpusVersion),
		)
	}
}
