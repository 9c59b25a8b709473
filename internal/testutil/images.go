// Package testutil builds synthetic portrait images for tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

var (
	// SkinTone falls inside the YCbCr skin window used by the local detector
	SkinTone = color.NRGBA{R: 224, G: 172, B: 105, A: 255}
	// DeepSkinTone is a darker tone that is still classified as skin
	DeepSkinTone = color.NRGBA{R: 141, G: 85, B: 36, A: 255}
	// Backdrop is a blue studio background that is never classified as skin
	Backdrop = color.NRGBA{R: 30, G: 60, B: 200, A: 255}
	// Blemish is a red spot drawn onto faces to simulate redness or acne
	Blemish = color.NRGBA{R: 200, G: 40, B: 40, A: 255}
)

// Portrait describes a synthetic image with one or more rectangular faces.
type Portrait struct {
	Width, Height int
	Faces         []image.Rectangle
	Skin          color.NRGBA
	Background    color.NRGBA
	// Spots are drawn in Blemish color on top of the faces
	Spots []image.Rectangle
}

// Render draws the portrait.
func (p Portrait) Render() *image.NRGBA {
	skin := p.Skin
	if skin.A == 0 {
		skin = SkinTone
	}
	bg := p.Background
	if bg.A == 0 {
		bg = Backdrop
	}

	img := image.NewNRGBA(image.Rect(0, 0, p.Width, p.Height))
	fill(img, img.Bounds(), bg)
	for _, f := range p.Faces {
		fill(img, f, skin)
	}
	for _, s := range p.Spots {
		fill(img, s, Blemish)
	}
	return img
}

// PNG renders and encodes the portrait.
func (p Portrait) PNG(t testing.TB) []byte {
	t.Helper()
	return EncodePNG(t, p.Render())
}

// SingleFace is a 200x200 image with a centered 100x120 face.
func SingleFace() Portrait {
	return Portrait{
		Width:  200,
		Height: 200,
		Faces:  []image.Rectangle{image.Rect(50, 40, 150, 160)},
	}
}

// EncodePNG encodes img or fails the test.
func EncodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func fill(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}
