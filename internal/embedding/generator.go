// Package embedding turns located face crops into normalized, versioned
// query vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/provider"
	"github.com/saturnino-fabrica-de-software/derma/internal/vecmath"
)

// Generator validates and normalizes backend output. It never substitutes
// zeros for a failed extraction.
type Generator struct {
	backend provider.EmbeddingBackend
}

func NewGenerator(backend provider.EmbeddingBackend) *Generator {
	return &Generator{backend: backend}
}

func (g *Generator) ModelVersion() string {
	return g.backend.ModelVersion()
}

func (g *Generator) Dimension() int {
	return g.backend.Dimension()
}

// BackendName identifies the backend kind for logs
func (g *Generator) BackendName() string {
	return g.backend.Name()
}

// Generate embeds crop and returns an L2-normalized vector tagged with the
// backend's model version.
func (g *Generator) Generate(ctx context.Context, crop image.Image) (domain.Embedding, error) {
	if crop == nil || crop.Bounds().Empty() {
		return domain.Embedding{}, domain.ErrEmbeddingFailed.WithError(errors.New("empty face crop"))
	}

	raw, err := g.backend.Embed(ctx, crop)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Embedding{}, ctxErr
		}
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return domain.Embedding{}, err
		}
		return domain.Embedding{}, domain.ErrEmbeddingBackendUnavailable.WithError(err)
	}

	if len(raw) != g.Dimension() {
		return domain.Embedding{}, domain.ErrDimensionMismatch.WithError(
			fmt.Errorf("%s returned %d dimensions, want %d", g.backend.Name(), len(raw), g.Dimension()))
	}

	vector, ok := vecmath.Normalize(raw)
	if !ok {
		return domain.Embedding{}, domain.ErrEmbeddingFailed.WithError(
			fmt.Errorf("%s returned a zero-norm or non-finite vector", g.backend.Name()))
	}

	return domain.Embedding{
		Vector:       vector,
		ModelVersion: g.ModelVersion(),
	}, nil
}

// CheckCompatible fails when a corpus built with modelVersion/dimension cannot
// be queried with this generator's vectors.
func (g *Generator) CheckCompatible(modelVersion string, dimension int) error {
	return CheckCompatible(g.ModelVersion(), g.Dimension(), modelVersion, dimension)
}

// CheckCompatible compares a query space against a corpus space
func CheckCompatible(queryVersion string, queryDim int, corpusVersion string, corpusDim int) error {
	if queryVersion != corpusVersion {
		return domain.ErrEmbeddingVersionMismatch.WithError(
			fmt.Errorf("query model %q, corpus model %q", queryVersion, corpusVersion))
	}
	if queryDim != corpusDim {
		return domain.ErrDimensionMismatch.WithError(
			fmt.Errorf("query dimension %d, corpus dimension %d", queryDim, corpusDim))
	}
	return nil
}

// ValidateStored checks a vector read back from storage: right dimension,
// finite, unit length.
func ValidateStored(vector []float64, dimension int) error {
	if len(vector) != dimension {
		return domain.ErrDimensionMismatch.WithError(
			fmt.Errorf("stored vector has %d dimensions, want %d", len(vector), dimension))
	}
	for _, x := range vector {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return domain.ErrEmbeddingFailed.WithError(errors.New("stored vector is not finite"))
		}
	}
	if !vecmath.IsNormalized(vector, 1e-3) {
		return domain.ErrEmbeddingFailed.WithError(errors.New("stored vector is not normalized"))
	}
	return nil
}
