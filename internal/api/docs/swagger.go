package docs

import (
	"github.com/go-swagno/swagno"
	"github.com/go-swagno/swagno/components/endpoint"
	"github.com/go-swagno/swagno/components/http/response"
	"github.com/go-swagno/swagno/components/mime"
)

// FaceRegionData represents the located face
type FaceRegionData struct {
	Source      string          `json:"source" example:"local"`
	BoundingBox BoundingBoxData `json:"bounding_box"`
	Confidence  float64         `json:"confidence" example:"0.97"`
	ImageWidth  int             `json:"image_width" example:"1024"`
	ImageHeight int             `json:"image_height" example:"1024"`
}

// BoundingBoxData represents a face box in pixels
type BoundingBoxData struct {
	X      int `json:"x" example:"312"`
	Y      int `json:"y" example:"240"`
	Width  int `json:"width" example:"420"`
	Height int `json:"height" example:"510"`
}

// ConditionCallData represents one detected condition
type ConditionCallData struct {
	Condition           string  `json:"condition" example:"acne"`
	Confidence          float64 `json:"confidence" example:"0.62"`
	RawConfidence       float64 `json:"raw_confidence" example:"0.62"`
	Severity            string  `json:"severity" example:"mild"`
	ReferenceSeverity   string  `json:"reference_severity" example:"moderate"`
	SupportingNeighbors int     `json:"supporting_neighbors" example:"7"`
	LooksHealthy        bool    `json:"looks_healthy" example:"false"`
	Damped              bool    `json:"damped" example:"false"`
}

// RecommendationData represents a ranked catalog product
type RecommendationData struct {
	ProductID  string              `json:"product_id" example:"p-salicylic-cleanser"`
	Name       string              `json:"name" example:"Salicylic Acid Cleanser"`
	Category   string              `json:"category" example:"cleanser"`
	MatchScore float64             `json:"match_score" example:"0.81"`
	Addresses  []ConditionCallData `json:"addresses"`
	Rationale  string              `json:"rationale" example:"Targets acne (mild, 62% confidence)"`
}

// NeighborData represents one reference record close to the query
type NeighborData struct {
	RecordID   string  `json:"record_id" example:"acne-00042"`
	Similarity float64 `json:"similarity" example:"0.91"`
	Condition  string  `json:"condition" example:"acne"`
	Severity   string  `json:"severity" example:"moderate"`
}

// AnalysisResponse represents the result of POST /v1/analyze
type AnalysisResponse struct {
	AnalysisID            string               `json:"analysis_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	CorpusVersion         string               `json:"corpus_version" example:"3f6c1a9e2b7d4c80"`
	ModelVersion          string               `json:"model_version" example:"deepface/Facenet512"`
	Face                  FaceRegionData       `json:"face"`
	OverallHealthScore    float64              `json:"overall_health_score" example:"71.4"`
	ConditionCalls        []ConditionCallData  `json:"condition_calls"`
	Recommendations       []RecommendationData `json:"recommendations"`
	BaselineFallbackLevel string               `json:"baseline_fallback_level" example:"exact"`
	BaselineKey           string               `json:"baseline_key" example:"25-34|east_asian"`
	BaselineSimilarity    float64              `json:"baseline_similarity" example:"0.78"`
	BaselineInsufficient  bool                 `json:"baseline_insufficient" example:"false"`
	Neighbors             []NeighborData       `json:"neighbors"`
	LatencyMs             int64                `json:"latency_ms" example:"184"`
}

// ConditionCountData is the number of records per condition label
type ConditionCountData struct {
	Condition string `json:"condition" example:"healthy"`
	Records   int    `json:"records" example:"1200"`
}

// BaselineSummaryData is the sample count behind one demographic baseline
type BaselineSummaryData struct {
	Key         string `json:"key" example:"25-34|*"`
	SampleCount int    `json:"sample_count" example:"310"`
	Usable      bool   `json:"usable" example:"true"`
}

// CorpusResponse represents the live snapshot
type CorpusResponse struct {
	Version      string                `json:"version" example:"3f6c1a9e2b7d4c80"`
	ModelVersion string                `json:"model_version" example:"deepface/Facenet512"`
	Dimension    int                   `json:"dimension" example:"512"`
	Records      int                   `json:"records" example:"4800"`
	IndexKind    string                `json:"index_kind" example:"flat"`
	CreatedAt    string                `json:"created_at" example:"2026-01-01T00:00:00Z"`
	LoadedAt     string                `json:"loaded_at" example:"2026-01-01T00:05:00Z"`
	Conditions   []ConditionCountData  `json:"conditions"`
	MinSamples   int                   `json:"min_samples" example:"20"`
	Baselines    []BaselineSummaryData `json:"baselines"`
}

// ReloadResponse represents the result of a corpus reload
type ReloadResponse struct {
	Changed         bool           `json:"changed" example:"true"`
	PreviousVersion string         `json:"previous_version" example:"a81d3c07e55f9012"`
	Corpus          CorpusResponse `json:"corpus"`
}

// HealthResponse represents /health and /ready
type HealthResponse struct {
	Status  string `json:"status" example:"ok"`
	Version string `json:"version" example:"0.1.0"`
}

// ErrorBody is the payload under "error"
type ErrorBody struct {
	Code     string `json:"code" example:"NO_FACE_DETECTED"`
	Message  string `json:"message" example:"No face detected in the image"`
	Category string `json:"category" example:"retry_with_clearer_photo"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func errorResponse(code, message, category, status, description string) response.Response {
	return response.New(ErrorResponse{Error: ErrorBody{Code: code, Message: message, Category: category}}, status, description)
}

// NewSwagger creates and configures the Swagger documentation
func NewSwagger() *swagno.Swagger {
	sw := swagno.New(swagno.Config{
		Title:       "Derma Skin Analysis API",
		Version:     "v1.0.0",
		Description: "Skin condition analysis by similarity search over a labeled reference corpus, normalized against demographic healthy-skin baselines",
		Host:        "localhost:3000",
		Path:        "/",
	})

	endpoints := []*endpoint.EndPoint{
		// POST /v1/analyze - Analyze a face photo
		endpoint.New(
			endpoint.POST,
			"/v1/analyze",
			endpoint.WithTags("Analysis"),
			endpoint.WithSummary("Analyze skin conditions in a face photo"),
			endpoint.WithDescription("Multipart form with an image field (jpeg, png, webp or gif) and optional age_bucket (18-24, 25-34, 35-44, 45-54, 55-64, 65+) and ethnicity_bucket fields. Returns condition calls with severities, an overall health score and ranked product recommendations."),
			endpoint.WithConsume([]mime.MIME{mime.MIME("multipart/form-data")}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(AnalysisResponse{}, "200", "Analysis completed successfully"),
			}),
			endpoint.WithErrors([]response.Response{
				errorResponse("VALIDATION_FAILED", "image file is required", "invalid_request", "422", "Unprocessable Entity"),
				errorResponse("INVALID_DEMOGRAPHIC", "Unknown demographic bucket", "invalid_request", "422", "Unprocessable Entity"),
				errorResponse("INVALID_IMAGE", "Image could not be decoded", "retry_with_clearer_photo", "422", "Unprocessable Entity"),
				errorResponse("NO_FACE_DETECTED", "No face detected in the image", "retry_with_clearer_photo", "422", "Unprocessable Entity"),
				errorResponse("MULTIPLE_FACES", "More than one face detected in the image", "retry_with_clearer_photo", "422", "Unprocessable Entity"),
				errorResponse("RATE_LIMIT_EXCEEDED", "Rate limit exceeded", "invalid_request", "429", "Too Many Requests"),
				errorResponse("CORPUS_UNAVAILABLE", "Reference corpus is not available", "service_unavailable", "503", "Service Unavailable"),
				errorResponse("EMBEDDING_VERSION_MISMATCH", "Embedding model does not match the corpus", "service_unavailable", "503", "Service Unavailable"),
				errorResponse("CATALOG_UNAVAILABLE", "Product catalog is not available", "service_unavailable", "503", "Service Unavailable"),
				errorResponse("INTERNAL_ERROR", "An unexpected error occurred", "internal", "500", "Internal Server Error"),
			}),
		),

		// GET /v1/corpus - Describe the live snapshot
		endpoint.New(
			endpoint.GET,
			"/v1/corpus",
			endpoint.WithTags("Corpus"),
			endpoint.WithSummary("Describe the live reference corpus"),
			endpoint.WithDescription("Returns the published snapshot version, embedding model, index kind, per-condition record counts and baseline sample counts"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(CorpusResponse{}, "200", "Live corpus"),
			}),
			endpoint.WithErrors([]response.Response{
				errorResponse("CORPUS_UNAVAILABLE", "Reference corpus is not available", "service_unavailable", "503", "Service Unavailable"),
			}),
		),

		// POST /v1/corpus/reload - Publish the source snapshot
		endpoint.New(
			endpoint.POST,
			"/v1/corpus/reload",
			endpoint.WithTags("Corpus"),
			endpoint.WithSummary("Reload the reference corpus"),
			endpoint.WithDescription("Loads the snapshot from the configured source, rebuilds the index and baselines and swaps them in atomically. In-flight analyses finish on the previous snapshot."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(ReloadResponse{}, "200", "Reload completed"),
			}),
			endpoint.WithErrors([]response.Response{
				errorResponse("RATE_LIMIT_EXCEEDED", "Rate limit exceeded", "invalid_request", "429", "Too Many Requests"),
				errorResponse("CORPUS_UNAVAILABLE", "Reference corpus is not available", "service_unavailable", "503", "Service Unavailable"),
				errorResponse("EMBEDDING_VERSION_MISMATCH", "Embedding model does not match the corpus", "service_unavailable", "503", "Service Unavailable"),
			}),
		),

		// GET /health - Liveness
		endpoint.New(
			endpoint.GET,
			"/health",
			endpoint.WithTags("Health"),
			endpoint.WithSummary("Liveness probe"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(HealthResponse{}, "200", "Process is up"),
			}),
		),

		// GET /ready - Readiness
		endpoint.New(
			endpoint.GET,
			"/ready",
			endpoint.WithTags("Health"),
			endpoint.WithSummary("Readiness probe"),
			endpoint.WithDescription("Ready once a corpus snapshot is published and, when configured, the database answers"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(HealthResponse{Status: "ready"}, "200", "Ready to serve analyses"),
			}),
			endpoint.WithErrors([]response.Response{
				errorResponse("CORPUS_UNAVAILABLE", "Reference corpus is not available", "service_unavailable", "503", "Service Unavailable"),
				errorResponse("CATALOG_UNAVAILABLE", "Product catalog is not available", "service_unavailable", "503", "Service Unavailable"),
			}),
		),
	}

	sw.AddEndpoints(endpoints)

	return sw
}
