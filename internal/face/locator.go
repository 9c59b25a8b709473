// Package face locates the single face in a request image and crops it.
package face

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/imaging"
	"github.com/saturnino-fabrica-de-software/derma/internal/provider"
)

// Config is the single-face acceptance policy
type Config struct {
	MinConfidence    float64
	MinFaceAreaRatio float64
	Limits           imaging.Limits
}

func DefaultConfig() Config {
	return Config{
		MinConfidence:    0.5,
		MinFaceAreaRatio: 0.01,
		Limits:           imaging.DefaultLimits(),
	}
}

// LocatedFace is the accepted region and the crop taken from the decoded image
type LocatedFace struct {
	Region domain.FaceRegion
	Crop   *image.NRGBA
}

// Locator applies the acceptance policy to raw detector output
type Locator struct {
	detector provider.FaceDetector
	config   Config
}

func NewLocator(detector provider.FaceDetector, config Config) *Locator {
	return &Locator{
		detector: detector,
		config:   config,
	}
}

// DetectorName identifies the detector behind this locator
func (l *Locator) DetectorName() string {
	return l.detector.Name()
}

// Locate decodes data once, runs the detector and returns exactly one face.
// Errors are domain.ErrInvalidImage, domain.ErrNoFaceDetected,
// domain.ErrMultipleFaces or domain.ErrEmbeddingBackendUnavailable.
func (l *Locator) Locate(ctx context.Context, data []byte) (*LocatedFace, error) {
	img, _, err := imaging.Decode(data, l.config.Limits)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	detections, err := l.detector.DetectFaces(ctx, provider.DetectRequest{Image: img, Bytes: data})
	if err != nil {
		return nil, classifyDetectorError(ctx, err)
	}

	width, height := imaging.Dimensions(img)
	accepted := l.accept(detections, width, height)

	switch len(accepted) {
	case 0:
		return nil, domain.ErrNoFaceDetected.WithError(
			fmt.Errorf("%d raw detections, none accepted", len(detections)))
	case 1:
	default:
		return nil, domain.ErrMultipleFaces.WithError(fmt.Errorf("%d faces accepted", len(accepted)))
	}

	region := domain.FaceRegion{
		Source:      l.detector.Name(),
		Box:         accepted[0].BoundingBox,
		Confidence:  accepted[0].Confidence,
		ImageWidth:  width,
		ImageHeight: height,
	}
	if !region.Valid() {
		return nil, domain.ErrNoFaceDetected.WithError(fmt.Errorf("invalid region %+v", region.Box))
	}

	crop, err := imaging.Crop(img, region.Box)
	if err != nil {
		return nil, err
	}

	return &LocatedFace{Region: region, Crop: crop}, nil
}

// accept filters detections in policy order: garbage boxes, frame clamping
// and confidence, then minimum relative area.
func (l *Locator) accept(detections []provider.DetectedFace, width, height int) []provider.DetectedFace {
	frame := image.Rect(0, 0, width, height)
	minArea := l.config.MinFaceAreaRatio * float64(width*height)

	accepted := make([]provider.DetectedFace, 0, len(detections))
	for _, d := range detections {
		b := d.BoundingBox
		if b.Width <= 0 || b.Height <= 0 || d.Confidence <= 0 {
			continue
		}

		clamped := image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height).Intersect(frame)
		if clamped.Empty() || d.Confidence < l.config.MinConfidence {
			continue
		}

		if float64(clamped.Dx()*clamped.Dy()) < minArea {
			continue
		}

		accepted = append(accepted, provider.DetectedFace{
			BoundingBox: domain.BoundingBox{
				X:      clamped.Min.X,
				Y:      clamped.Min.Y,
				Width:  clamped.Dx(),
				Height: clamped.Dy(),
			},
			Confidence: min(d.Confidence, 1),
		})
	}
	return accepted
}

// classifyDetectorError keeps domain errors and cancellation as they are and
// treats everything else as an unavailable backend.
func classifyDetectorError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return domain.ErrEmbeddingBackendUnavailable.WithError(err)
}
