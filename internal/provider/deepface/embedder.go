package deepface

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/imaging"
	"github.com/saturnino-fabrica-de-software/derma/internal/provider"
)

// Embedder implements provider.EmbeddingBackend. The face crop is sent with
// detection disabled so DeepFace embeds exactly the located region.
type Embedder struct {
	client *Client
}

// NewEmbedder creates a DeepFace-backed embedding backend
func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Name() string {
	return "deepface"
}

func (e *Embedder) ModelVersion() string {
	return "deepface/" + e.client.config.Model
}

func (e *Embedder) Dimension() int {
	return e.client.config.Dimension
}

// Embed extracts the embedding of a cropped face
func (e *Embedder) Embed(ctx context.Context, face image.Image) ([]float64, error) {
	encoded, err := imaging.EncodePNG(face)
	if err != nil {
		return nil, fmt.Errorf("encode face: %w", err)
	}

	resp, err := e.client.Represent(ctx, base64.StdEncoding.EncodeToString(encoded), detectorSkip)
	if err != nil {
		if errors.Is(err, ErrDeepFaceUnavailable) {
			return nil, domain.ErrEmbeddingBackendUnavailable.WithError(err)
		}
		return nil, domain.ErrEmbeddingFailed.WithError(err)
	}

	if len(resp.Results) != 1 {
		return nil, domain.ErrEmbeddingFailed.WithError(
			fmt.Errorf("%w: got %d results", ErrNoFaceInResponse, len(resp.Results)))
	}

	vector := resp.Results[0].Embedding
	if len(vector) != e.Dimension() {
		return nil, domain.ErrDimensionMismatch.WithError(
			fmt.Errorf("%w: got %d, want %d", ErrUnexpectedDimension, len(vector), e.Dimension()))
	}

	return vector, nil
}

var _ provider.EmbeddingBackend = (*Embedder)(nil)
