package rekognition

import (
	"context"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/provider"
)

const (
	// maxImageSize is the maximum image size supported by AWS Rekognition (5MB)
	maxImageSize = 5 * 1024 * 1024
	// minImageSize is the minimum image size for valid processing
	minImageSize = 100
)

// Detector implements provider.FaceDetector using AWS Rekognition DetectFaces
type Detector struct {
	api DetectFacesAPI
}

// NewDetector creates a detector on top of an existing API client
func NewDetector(api DetectFacesAPI) *Detector {
	return &Detector{api: api}
}

func (d *Detector) Name() string {
	return "rekognition"
}

// validateImage checks if image data is valid for Rekognition processing
func validateImage(image []byte) error {
	if len(image) < minImageSize {
		return domain.ErrInvalidImage.WithError(
			fmt.Errorf("image too small (%d bytes, minimum %d)", len(image), minImageSize))
	}
	if len(image) > maxImageSize {
		return domain.ErrInvalidImage.WithError(
			fmt.Errorf("image too large (%d bytes, maximum %d)", len(image), maxImageSize))
	}
	return nil
}

// DetectFaces detects faces in an image using AWS Rekognition DetectFaces API.
// Rekognition boxes are ratios of the frame and are scaled to pixels here.
func (d *Detector) DetectFaces(ctx context.Context, req provider.DetectRequest) ([]provider.DetectedFace, error) {
	if err := validateImage(req.Bytes); err != nil {
		return nil, err
	}
	if req.Image == nil {
		return nil, fmt.Errorf("detect faces: decoded image is required")
	}

	output, err := d.api.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      &types.Image{Bytes: req.Bytes},
		Attributes: []types.Attribute{types.AttributeDefault},
	})
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", classifyError(err))
	}

	bounds := req.Image.Bounds()
	width, height := float64(bounds.Dx()), float64(bounds.Dy())

	faces := make([]provider.DetectedFace, 0, len(output.FaceDetails))
	for _, detail := range output.FaceDetails {
		if detail.BoundingBox == nil {
			continue
		}
		faces = append(faces, provider.DetectedFace{
			BoundingBox: scaleBox(detail.BoundingBox, width, height),
			Confidence:  float64(deref(detail.Confidence)) / 100,
		})
	}

	return faces, nil
}

// scaleBox converts a ratio box to pixels. Rekognition may report boxes that
// start outside the frame; clamping is left to the locator.
func scaleBox(box *types.BoundingBox, width, height float64) domain.BoundingBox {
	return domain.BoundingBox{
		X:      int(math.Round(float64(deref(box.Left)) * width)),
		Y:      int(math.Round(float64(deref(box.Top)) * height)),
		Width:  int(math.Round(float64(deref(box.Width)) * width)),
		Height: int(math.Round(float64(deref(box.Height)) * height)),
	}
}

func deref(v *float32) float32 {
	if v == nil {
		return 0
	}
	return *v
}

var _ provider.FaceDetector = (*Detector)(nil)
