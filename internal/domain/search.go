package domain

import (
	"github.com/google/uuid"
)

// ConditionRecord is one immutable entry of the reference corpus.
type ConditionRecord struct {
	ID           string         `json:"id"`
	Embedding    []float64      `json:"embedding"`
	Condition    ConditionLabel `json:"condition"`
	Severity     Severity       `json:"severity"`
	Demographics Demographics   `json:"demographics"`
	Source       string         `json:"source,omitempty"`
}

// FallbackLevel is the demographic granularity a baseline lookup resolved to.
type FallbackLevel string

const (
	FallbackExact   FallbackLevel = "exact"
	FallbackPartial FallbackLevel = "partial"
	FallbackGlobal  FallbackLevel = "global"
)

// BaselineKey identifies a demographic bucket. An empty component is a
// wildcard; the zero value is the global bucket.
type BaselineKey struct {
	Age       AgeBucket       `json:"age_bucket,omitempty"`
	Ethnicity EthnicityBucket `json:"ethnicity_bucket,omitempty"`
}

var GlobalKey = BaselineKey{}

func (k BaselineKey) String() string {
	age, eth := string(k.Age), string(k.Ethnicity)
	if age == "" {
		age = "*"
	}
	if eth == "" {
		eth = "*"
	}
	return age + "|" + eth
}

// DemographicBaseline is the normalized centroid of healthy records in a bucket.
type DemographicBaseline struct {
	Key         BaselineKey `json:"key"`
	Centroid    []float64   `json:"centroid"`
	SampleCount int         `json:"sample_count"`
}

// BaselineResolution is the result of a baseline lookup.
type BaselineResolution struct {
	Baseline DemographicBaseline `json:"baseline"`
	Level    FallbackLevel       `json:"level"`
	// Insufficient is set when even the resolved baseline has fewer samples
	// than the configured minimum.
	Insufficient bool `json:"insufficient"`
}

// Neighbor is one similarity-index hit.
type Neighbor struct {
	RecordID   string  `json:"record_id"`
	Similarity float64 `json:"similarity"`
}

// QueryResult gathers everything the condition scorer needs for one image.
type QueryResult struct {
	Query              Embedding          `json:"query"`
	Neighbors          []Neighbor         `json:"neighbors"`
	Baseline           BaselineResolution `json:"baseline"`
	BaselineSimilarity float64            `json:"baseline_similarity"`
}

// ConditionCall is a scored condition detection.
type ConditionCall struct {
	Condition           ConditionLabel `json:"condition"`
	Confidence          float64        `json:"confidence"`
	RawConfidence       float64        `json:"raw_confidence"`
	Severity            Severity       `json:"severity"`
	ReferenceSeverity   Severity       `json:"reference_severity"`
	SupportingNeighbors int            `json:"supporting_neighbors"`
	LooksHealthy        bool           `json:"looks_healthy"`
	Damped              bool           `json:"damped"`
}

// Product is a catalog entry.
type Product struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Category         string           `json:"category"`
	Ingredients      []string         `json:"ingredients,omitempty"`
	TargetConditions []ConditionLabel `json:"target_conditions"`
}

// ProductRecommendation is a ranked product carrying the calls it addresses.
type ProductRecommendation struct {
	ProductID  string          `json:"product_id"`
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	MatchScore float64         `json:"match_score"`
	Addresses  []ConditionCall `json:"addresses"`
	Rationale  string          `json:"rationale"`
}

// NeighborDetail is a neighbor enriched with its record label for responses.
type NeighborDetail struct {
	RecordID   string         `json:"record_id"`
	Similarity float64        `json:"similarity"`
	Condition  ConditionLabel `json:"condition"`
	Severity   Severity       `json:"severity"`
}

// AnalysisResult is the outcome of analyzing one image.
type AnalysisResult struct {
	AnalysisID            uuid.UUID               `json:"analysis_id"`
	CorpusVersion         string                  `json:"corpus_version"`
	ModelVersion          string                  `json:"model_version"`
	Face                  FaceRegion              `json:"face"`
	OverallHealthScore    float64                 `json:"overall_health_score"`
	ConditionCalls        []ConditionCall         `json:"condition_calls"`
	Recommendations       []ProductRecommendation `json:"recommendations"`
	BaselineFallbackLevel FallbackLevel           `json:"baseline_fallback_level"`
	BaselineKey           string                  `json:"baseline_key"`
	BaselineSimilarity    float64                 `json:"baseline_similarity"`
	BaselineInsufficient  bool                    `json:"baseline_insufficient"`
	Neighbors             []NeighborDetail        `json:"neighbors"`
	LatencyMs             int64                   `json:"latency_ms"`
}

// AnalysisAudit is the persisted summary of one analysis.
type AnalysisAudit struct {
	ID                 uuid.UUID        `json:"id"`
	CorpusVersion      string           `json:"corpus_version"`
	ModelVersion       string           `json:"model_version"`
	FallbackLevel      FallbackLevel    `json:"fallback_level"`
	HealthScore        float64          `json:"health_score"`
	Conditions         []ConditionLabel `json:"conditions"`
	RecommendationsCnt int              `json:"recommendations_count"`
	ErrorCode          *string          `json:"error_code,omitempty"`
	LatencyMs          int64            `json:"latency_ms"`
	ClientIP           string           `json:"client_ip"`
}
