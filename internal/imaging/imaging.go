// Package imaging decodes request images under size limits and crops face
// regions out of them.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

const (
	DefaultMaxBytes     = 10 * 1024 * 1024 // 10MB
	DefaultMaxDimension = 4096
)

// Limits bounds the work a single decode can cause.
type Limits struct {
	MaxBytes     int
	MaxDimension int
}

func DefaultLimits() Limits {
	return Limits{
		MaxBytes:     DefaultMaxBytes,
		MaxDimension: DefaultMaxDimension,
	}
}

var supportedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"webp": true,
}

// Decode validates size and format from the header before decoding pixels.
// Every failure wraps domain.ErrInvalidImage.
func Decode(data []byte, limits Limits) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", domain.ErrInvalidImage.WithError(errors.New("empty image"))
	}
	if limits.MaxBytes > 0 && len(data) > limits.MaxBytes {
		return nil, "", domain.ErrInvalidImage.WithError(
			fmt.Errorf("image is %d bytes, limit is %d", len(data), limits.MaxBytes))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", domain.ErrInvalidImage.WithError(fmt.Errorf("decode config: %w", err))
	}
	if !supportedFormats[format] {
		return nil, "", domain.ErrInvalidImage.WithError(fmt.Errorf("unsupported format %q", format))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", domain.ErrInvalidImage.WithError(errors.New("image has no pixels"))
	}
	if limits.MaxDimension > 0 && (cfg.Width > limits.MaxDimension || cfg.Height > limits.MaxDimension) {
		return nil, "", domain.ErrInvalidImage.WithError(
			fmt.Errorf("image is %dx%d, limit is %d", cfg.Width, cfg.Height, limits.MaxDimension))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", domain.ErrInvalidImage.WithError(fmt.Errorf("decode: %w", err))
	}

	return img, format, nil
}

// Crop copies box out of img into a new image anchored at the origin.
// The box is clamped to the image bounds.
func Crop(img image.Image, box domain.BoundingBox) (*image.NRGBA, error) {
	b := img.Bounds()
	r := image.Rect(
		b.Min.X+box.X,
		b.Min.Y+box.Y,
		b.Min.X+box.X+box.Width,
		b.Min.Y+box.Y+box.Height,
	).Intersect(b)

	if r.Empty() {
		return nil, domain.ErrNoFaceDetected.WithError(fmt.Errorf("crop box %v outside image %v", box, b))
	}

	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, img, r, draw.Src, nil)
	return dst, nil
}

// Resize scales img to exactly w x h with bilinear interpolation.
// The output is deterministic for a given input.
func Resize(img image.Image, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// EncodePNG encodes img losslessly for backends that take image bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Dimensions returns width and height of img.
func Dimensions(img image.Image) (int, int) {
	b := img.Bounds()
	return b.Dx(), b.Dy()
}
