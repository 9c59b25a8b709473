package deepface

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/provider"
)

const (
	// minFaceArea is the minimum face area (in pixels²) for reliable detection
	minFaceArea = 2500 // 50x50 pixels
	// maxFaceArea is used for confidence scaling
	maxFaceArea = 250000 // 500x500 pixels
)

// Detector implements provider.FaceDetector on DeepFace /represent
type Detector struct {
	client *Client
}

// NewDetector creates a DeepFace-backed face detector
func NewDetector(client *Client) *Detector {
	return &Detector{client: client}
}

func (d *Detector) Name() string {
	return "deepface"
}

// DetectFaces detects faces in the original request bytes
func (d *Detector) DetectFaces(ctx context.Context, req provider.DetectRequest) ([]provider.DetectedFace, error) {
	imageBase64 := base64.StdEncoding.EncodeToString(req.Bytes)

	resp, err := d.client.Represent(ctx, imageBase64, "")
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	faces := make([]provider.DetectedFace, 0, len(resp.Results))
	for _, result := range resp.Results {
		area := result.FacialArea
		faces = append(faces, provider.DetectedFace{
			BoundingBox: domain.BoundingBox{
				X:      area.X,
				Y:      area.Y,
				Width:  area.W,
				Height: area.H,
			},
			Confidence: faceConfidence(result),
		})
	}

	return faces, nil
}

// faceConfidence prefers the detector's own score. Older DeepFace builds omit
// it, in which case confidence is estimated from the face size.
func faceConfidence(result RepresentResult) float64 {
	faceArea := float64(result.FacialArea.W * result.FacialArea.H)
	if faceArea <= 0 {
		return 0
	}
	if result.FaceConfidence > 0 {
		return math.Min(1, result.FaceConfidence)
	}
	return calculateConfidence(faceArea)
}

// calculateConfidence estimates confidence based on face area
// Larger faces are more likely to be accurately detected
func calculateConfidence(faceArea float64) float64 {
	if faceArea < minFaceArea {
		return 0.5 // Low confidence for very small faces
	}
	// Scale from 0.7 to 0.99 based on face area
	normalized := math.Min(1.0, (faceArea-minFaceArea)/(maxFaceArea-minFaceArea))
	return 0.7 + (normalized * 0.29)
}

var _ provider.FaceDetector = (*Detector)(nil)
