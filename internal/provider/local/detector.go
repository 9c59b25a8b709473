package local

import (
	"context"
	"image/color"
	"sort"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/provider"
)

const (
	// maxGridSide bounds the segmentation grid so detection cost does not
	// grow with image resolution
	maxGridSide = 160

	// defaultMinComponentRatio drops speckle components below 0.2% of the grid
	defaultMinComponentRatio = 0.002
)

// Skin chroma window in YCbCr space.
const (
	minCb   = 77
	maxCb   = 127
	minCr   = 133
	maxCr   = 173
	minLuma = 40
)

// Detector implements provider.FaceDetector by segmenting skin-colored pixels
// and reporting each connected skin region as a candidate face.
type Detector struct {
	minComponentRatio float64
}

// NewDetector creates a skin-segmentation detector
func NewDetector() *Detector {
	return &Detector{minComponentRatio: defaultMinComponentRatio}
}

func (d *Detector) Name() string {
	return "local"
}

// DetectFaces segments req.Image on a coarse grid and returns one detection
// per connected skin component, largest first.
func (d *Detector) DetectFaces(ctx context.Context, req provider.DetectRequest) ([]provider.DetectedFace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := req.Image
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, nil
	}

	step := 1
	for (w+step-1)/step > maxGridSide || (h+step-1)/step > maxGridSide {
		step++
	}
	gw, gh := (w+step-1)/step, (h+step-1)/step

	mask := make([]bool, gw*gh)
	for gy := 0; gy < gh; gy++ {
		for gx := 0; gx < gw; gx++ {
			px := b.Min.X + min(gx*step+step/2, w-1)
			py := b.Min.Y + min(gy*step+step/2, h-1)
			mask[gy*gw+gx] = isSkin(img.At(px, py))
		}
	}

	minCells := int(d.minComponentRatio * float64(gw*gh))
	if minCells < 1 {
		minCells = 1
	}

	var faces []provider.DetectedFace
	visited := make([]bool, len(mask))
	stack := make([]int, 0, 64)

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}

		// 4-connected flood fill
		x0, y0, x1, y1 := gw, gh, -1, -1
		cells := 0
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cells++

			cx, cy := idx%gw, idx/gw
			x0, y0 = min(x0, cx), min(y0, cy)
			x1, y1 = max(x1, cx), max(y1, cy)

			for _, n := range [4][2]int{{cx - 1, cy}, {cx + 1, cy}, {cx, cy - 1}, {cx, cy + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= gw || ny >= gh {
					continue
				}
				ni := ny*gw + nx
				if mask[ni] && !visited[ni] {
					visited[ni] = true
					stack = append(stack, ni)
				}
			}
		}

		if cells < minCells {
			continue
		}

		boxCells := (x1 - x0 + 1) * (y1 - y0 + 1)
		fill := float64(cells) / float64(boxCells)

		box := domain.BoundingBox{
			X:      x0 * step,
			Y:      y0 * step,
			Width:  min((x1+1)*step, w) - x0*step,
			Height: min((y1+1)*step, h) - y0*step,
		}

		faces = append(faces, provider.DetectedFace{
			BoundingBox: box,
			Confidence:  0.5 + 0.5*fill,
		})
	}

	sort.SliceStable(faces, func(i, j int) bool {
		ai, aj := faces[i].BoundingBox.Area(), faces[j].BoundingBox.Area()
		if ai != aj {
			return ai > aj
		}
		if faces[i].BoundingBox.Y != faces[j].BoundingBox.Y {
			return faces[i].BoundingBox.Y < faces[j].BoundingBox.Y
		}
		return faces[i].BoundingBox.X < faces[j].BoundingBox.X
	})

	return faces, nil
}

func isSkin(c color.Color) bool {
	r, g, b, a := c.RGBA()
	if a == 0 {
		return false
	}
	y, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(b>>8))
	return y >= minLuma && cb >= minCb && cb <= maxCb && cr >= minCr && cr <= maxCr
}

var _ provider.FaceDetector = (*Detector)(nil)
