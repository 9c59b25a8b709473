package local

import (
	"context"
	"image"
	"math"

	"github.com/saturnino-fabrica-de-software/derma/internal/imaging"
	"github.com/saturnino-fabrica-de-software/derma/internal/provider"
)

const (
	// ModelVersion identifies the skin texture descriptor vector space
	ModelVersion = "local/skin-texture-v1"

	sampleSide      = 64
	gridSide        = 8
	cellSide        = sampleSide / gridSide
	featuresPerCell = 8
)

// Embedder implements provider.EmbeddingBackend with a hand-built color and
// texture descriptor. The face is resized to 64x64 and split into an 8x8 grid;
// each cell contributes eight features, giving 512 dimensions.
type Embedder struct{}

// NewEmbedder creates the local texture embedding backend
func NewEmbedder() *Embedder {
	return &Embedder{}
}

func (e *Embedder) Name() string {
	return "local"
}

func (e *Embedder) ModelVersion() string {
	return ModelVersion
}

func (e *Embedder) Dimension() int {
	return provider.EmbeddingDimension
}

// Embed computes the descriptor. Vectors are centered but not normalized;
// the embedding generator normalizes.
func (e *Embedder) Embed(ctx context.Context, face image.Image) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := imaging.Resize(face, sampleSide, sampleSide)

	var lum [sampleSide][sampleSide]float64
	var rgb [sampleSide][sampleSide][3]float64
	for y := 0; y < sampleSide; y++ {
		for x := 0; x < sampleSide; x++ {
			c := img.NRGBAAt(x, y)
			r, g, b := float64(c.R)/255, float64(c.G)/255, float64(c.B)/255
			rgb[y][x] = [3]float64{r, g, b}
			lum[y][x] = 0.299*r + 0.587*g + 0.114*b
		}
	}

	vec := make([]float64, 0, provider.EmbeddingDimension)
	for gy := 0; gy < gridSide; gy++ {
		for gx := 0; gx < gridSide; gx++ {
			vec = append(vec, cellFeatures(&rgb, &lum, gx*cellSide, gy*cellSide)...)
		}
	}

	return vec, nil
}

// cellFeatures returns, in order: mean R, G, B (centered at 0.5), redness,
// luminance deviation, gradient energy, saturation, and dark-spot ratio.
func cellFeatures(rgb *[sampleSide][sampleSide][3]float64, lum *[sampleSide][sampleSide]float64, x0, y0 int) []float64 {
	const n = cellSide * cellSide

	var sumR, sumG, sumB, sumRed, sumLum, sumSat float64
	for y := y0; y < y0+cellSide; y++ {
		for x := x0; x < x0+cellSide; x++ {
			p := rgb[y][x]
			sumR += p[0]
			sumG += p[1]
			sumB += p[2]
			sumRed += p[0] - (p[1]+p[2])/2
			sumLum += lum[y][x]
			sumSat += math.Max(p[0], math.Max(p[1], p[2])) - math.Min(p[0], math.Min(p[1], p[2]))
		}
	}
	meanLum := sumLum / n

	var variance, gradient, dark float64
	for y := y0; y < y0+cellSide; y++ {
		for x := x0; x < x0+cellSide; x++ {
			d := lum[y][x] - meanLum
			variance += d * d
			if x+1 < x0+cellSide {
				gradient += math.Abs(lum[y][x+1] - lum[y][x])
			}
			if y+1 < y0+cellSide {
				gradient += math.Abs(lum[y+1][x] - lum[y][x])
			}
			if d < -0.1 {
				dark++
			}
		}
	}

	return []float64{
		sumR/n - 0.5,
		sumG/n - 0.5,
		sumB/n - 0.5,
		sumRed / n,
		math.Sqrt(variance / n),
		gradient / (2 * cellSide * (cellSide - 1)),
		sumSat / n,
		dark / n,
	}
}

var _ provider.EmbeddingBackend = (*Embedder)(nil)
