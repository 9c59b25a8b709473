package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/service"
)

const defaultMaxImageSize = 10 * 1024 * 1024 // 10MB

var validImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// AnalysisService interface for the service
type AnalysisService interface {
	Analyze(ctx context.Context, imageBytes []byte, hint *domain.DemographicHint) (*domain.AnalysisResult, error)
}

type AnalysisHandler struct {
	service      AnalysisService
	maxImageSize int64
	logger       *slog.Logger
}

func NewAnalysisHandler(service AnalysisService, maxImageSize int64, logger *slog.Logger) *AnalysisHandler {
	if maxImageSize <= 0 {
		maxImageSize = defaultMaxImageSize
	}
	return &AnalysisHandler{
		service:      service,
		maxImageSize: maxImageSize,
		logger:       logger,
	}
}

// Analyze POST /v1/analyze - multipart "image" plus optional age_bucket and
// ethnicity_bucket form fields
func (h *AnalysisHandler) Analyze(c *fiber.Ctx) error {
	// 1. Parse the optional demographic hint first; it is cheap to reject
	hint, err := domain.ParseDemographicHint(c.FormValue("age_bucket"), c.FormValue("ethnicity_bucket"))
	if err != nil {
		return err
	}

	// 2. Extract and validate image
	imageBytes, err := h.extractAndValidateImage(c)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	// 3. Run the pipeline
	ctx := service.WithClientIP(c.UserContext(), c.IP())
	result, err := h.service.Analyze(ctx, imageBytes, hint)
	if err != nil {
		return err
	}

	h.logger.Debug("analysis completed",
		slog.String("analysis_id", result.AnalysisID.String()),
		slog.String("corpus_version", result.CorpusVersion),
		slog.Int("calls", len(result.ConditionCalls)),
		slog.Int64("latency_ms", result.LatencyMs),
	)

	return c.JSON(result)
}

func (h *AnalysisHandler) extractAndValidateImage(c *fiber.Ctx) ([]byte, error) {
	// 1. Extract file
	file, err := c.FormFile("image")
	if err != nil {
		return nil, domain.ErrValidationFailed.WithError(errors.New("image file is required"))
	}

	// 2. Validate size
	if file.Size == 0 || file.Size > h.maxImageSize {
		return nil, domain.ErrInvalidImage.WithError(fmt.Errorf("image size %d bytes, limit %d", file.Size, h.maxImageSize))
	}

	// 3. Validate Content-Type when the client sent one
	contentType := file.Header.Get("Content-Type")
	if contentType != "" && contentType != "application/octet-stream" && !validImageTypes[contentType] {
		return nil, domain.ErrInvalidImage.WithError(fmt.Errorf("unsupported content type %q", contentType))
	}

	// 4. Read image bytes
	f, err := file.Open()
	if err != nil {
		return nil, domain.ErrInvalidImage.WithError(err)
	}
	defer func() {
		_ = f.Close()
	}()

	imageBytes, err := io.ReadAll(f)
	if err != nil {
		return nil, domain.ErrInvalidImage.WithError(err)
	}

	return imageBytes, nil
}
