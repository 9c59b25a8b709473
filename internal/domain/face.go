package domain

// BoundingBox is a face area in pixel coordinates of the source image.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (b BoundingBox) Area() int {
	return b.Width * b.Height
}

// FaceRegion is the single face located in a request image
type FaceRegion struct {
	Source      string      `json:"source,omitempty"`
	Box         BoundingBox `json:"bounding_box"`
	Confidence  float64     `json:"confidence"`
	ImageWidth  int         `json:"image_width"`
	ImageHeight int         `json:"image_height"`
}

// Valid reports whether the region has a positive area inside the frame and a
// positive detector confidence. An all-zero region is never valid.
func (r FaceRegion) Valid() bool {
	b := r.Box
	if b.Width <= 0 || b.Height <= 0 || r.Confidence <= 0 {
		return false
	}
	if b.X < 0 || b.Y < 0 {
		return false
	}
	return b.X+b.Width <= r.ImageWidth && b.Y+b.Height <= r.ImageHeight
}

// AreaRatio is the share of the frame covered by the face box.
func (r FaceRegion) AreaRatio() float64 {
	frame := r.ImageWidth * r.ImageHeight
	if frame <= 0 {
		return 0
	}
	return float64(r.Box.Area()) / float64(frame)
}

// Embedding is an L2-normalized feature vector tagged with the model version
// that produced it.
type Embedding struct {
	Vector       []float64 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}

func (e Embedding) Dimension() int {
	return len(e.Vector)
}
