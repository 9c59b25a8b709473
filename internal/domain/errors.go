package domain

import (
	"fmt"
)

// ErrorCategory tells API clients what they can do about an error.
type ErrorCategory string

const (
	CategoryRetryWithClearerPhoto ErrorCategory = "retry_with_clearer_photo"
	CategoryServiceUnavailable    ErrorCategory = "service_unavailable"
	CategoryInvalidRequest        ErrorCategory = "invalid_request"
	CategoryInternal              ErrorCategory = "internal"
)

type AppError struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Category   ErrorCategory `json:"category"`
	StatusCode int           `json:"-"`
	Err        error         `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on Code so wrapped copies produced by WithError still compare
// equal to their sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		Category:   e.Category,
		StatusCode: e.StatusCode,
		Err:        err,
	}
}

// Pre-defined errors
var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		Category:   CategoryInternal,
		StatusCode: 500,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		Category:   CategoryInvalidRequest,
		StatusCode: 400,
	}

	ErrValidationFailed = &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "Request validation failed",
		Category:   CategoryInvalidRequest,
		StatusCode: 422,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Rate limit exceeded, please try again later",
		Category:   CategoryInvalidRequest,
		StatusCode: 429,
	}

	// Image and face errors: the caller should retry with a clearer photo

	ErrInvalidImage = &AppError{
		Code:       "INVALID_IMAGE",
		Message:    "Invalid image format or corrupted file",
		Category:   CategoryRetryWithClearerPhoto,
		StatusCode: 422,
	}

	ErrNoFaceDetected = &AppError{
		Code:       "NO_FACE_DETECTED",
		Message:    "No face detected in the image",
		Category:   CategoryRetryWithClearerPhoto,
		StatusCode: 422,
	}

	ErrMultipleFaces = &AppError{
		Code:       "MULTIPLE_FACES",
		Message:    "Multiple faces detected, please provide image with single face",
		Category:   CategoryRetryWithClearerPhoto,
		StatusCode: 422,
	}

	ErrEmbeddingFailed = &AppError{
		Code:       "EMBEDDING_FAILED",
		Message:    "Could not extract features from the face, please try a clearer photo",
		Category:   CategoryRetryWithClearerPhoto,
		StatusCode: 422,
	}

	// Corpus and model errors: configuration problems, not recoverable per request

	ErrEmbeddingVersionMismatch = &AppError{
		Code:       "EMBEDDING_VERSION_MISMATCH",
		Message:    "Embedding model version does not match the reference corpus",
		Category:   CategoryServiceUnavailable,
		StatusCode: 503,
	}

	ErrDimensionMismatch = &AppError{
		Code:       "DIMENSION_MISMATCH",
		Message:    "Embedding dimension does not match the similarity index",
		Category:   CategoryServiceUnavailable,
		StatusCode: 503,
	}

	ErrCorpusUnavailable = &AppError{
		Code:       "CORPUS_UNAVAILABLE",
		Message:    "Reference corpus is not loaded",
		Category:   CategoryServiceUnavailable,
		StatusCode: 503,
	}

	ErrInsufficientBaselineData = &AppError{
		Code:       "INSUFFICIENT_BASELINE_DATA",
		Message:    "Not enough healthy reference samples to build a baseline",
		Category:   CategoryServiceUnavailable,
		StatusCode: 503,
	}

	ErrEmbeddingBackendUnavailable = &AppError{
		Code:       "EMBEDDING_BACKEND_UNAVAILABLE",
		Message:    "Face analysis backend is unavailable",
		Category:   CategoryServiceUnavailable,
		StatusCode: 503,
	}

	ErrCatalogUnavailable = &AppError{
		Code:       "CATALOG_UNAVAILABLE",
		Message:    "Product catalog is unavailable",
		Category:   CategoryServiceUnavailable,
		StatusCode: 503,
	}

	// Query parameter errors

	ErrInvalidDemographic = &AppError{
		Code:       "INVALID_DEMOGRAPHIC",
		Message:    "Unknown age or ethnicity bucket",
		Category:   CategoryInvalidRequest,
		StatusCode: 422,
	}

	ErrInvalidTopK = &AppError{
		Code:       "INVALID_TOP_K",
		Message:    "Number of neighbors must be positive",
		Category:   CategoryInvalidRequest,
		StatusCode: 422,
	}
)
