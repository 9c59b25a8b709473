package provider

import (
	"context"
	"image"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

// EmbeddingDimension is the corpus-wide embedding dimension. Every backend
// must produce vectors of this length.
const EmbeddingDimension = 512

// FaceDetector finds candidate face boxes in an image. Detectors report
// everything they see; the single-face policy is applied by face.Locator.
type FaceDetector interface {
	// Name identifies the detector in logs and metrics
	Name() string

	// DetectFaces returns raw detections in pixel coordinates of req.Image
	DetectFaces(ctx context.Context, req DetectRequest) ([]DetectedFace, error)
}

// DetectRequest carries the decoded image and the original bytes, so remote
// detectors do not have to re-encode.
type DetectRequest struct {
	Image image.Image
	Bytes []byte
}

// DetectedFace represents a detected face in the image
type DetectedFace struct {
	BoundingBox domain.BoundingBox `json:"bounding_box"`
	Confidence  float64            `json:"confidence"`
}

// EmbeddingBackend turns a cropped face into a feature vector. Implementations
// are deterministic for a given ModelVersion.
type EmbeddingBackend interface {
	// Name identifies the backend kind ("deepface", "local")
	Name() string

	// ModelVersion identifies the vector space; corpora built with one
	// version are never compared against vectors of another
	ModelVersion() string

	// Dimension is the length of every vector returned by Embed
	Dimension() int

	// Embed extracts a raw (not necessarily normalized) vector from face
	Embed(ctx context.Context, face image.Image) ([]float64, error)
}
