package deepface

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/provider"
)

func newTestServer(t *testing.T, status int, resp interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(baseURL string) *Client {
	config := DefaultConfig()
	config.BaseURL = baseURL
	config.RetryCount = 0
	return NewClient(config)
}

func TestDetector_DetectFaces(t *testing.T) {
	server := newTestServer(t, http.StatusOK, RepresentResponse{
		Results: []RepresentResult{
			{FacialArea: FacialArea{X: 10, Y: 20, W: 100, H: 120}, FaceConfidence: 0.97},
			{FacialArea: FacialArea{X: 300, Y: 40, W: 300, H: 300}},
			{FacialArea: FacialArea{X: 0, Y: 0, W: 0, H: 0}, FaceConfidence: 0.9},
		},
	})

	detector := NewDetector(newTestClient(server.URL))
	faces, err := detector.DetectFaces(context.Background(), provider.DetectRequest{Bytes: []byte("img")})
	require.NoError(t, err)
	require.Len(t, faces, 3)

	assert.Equal(t, domain.BoundingBox{X: 10, Y: 20, Width: 100, Height: 120}, faces[0].BoundingBox)
	assert.InDelta(t, 0.97, faces[0].Confidence, 1e-9)

	// Estimated from area when the detector score is missing
	assert.Greater(t, faces[1].Confidence, 0.7)
	assert.Less(t, faces[1].Confidence, 1.0)

	assert.Zero(t, faces[2].Confidence)
}

func TestDetector_Unavailable(t *testing.T) {
	server := newTestServer(t, http.StatusBadGateway, map[string]string{"error": "down"})

	detector := NewDetector(newTestClient(server.URL))
	_, err := detector.DetectFaces(context.Background(), provider.DetectRequest{Bytes: []byte("img")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeepFaceUnavailable)
}

func TestCalculateConfidence(t *testing.T) {
	tests := []struct {
		name string
		area float64
		min  float64
		max  float64
	}{
		{"tiny face", 100, 0.5, 0.5},
		{"minimum reliable face", minFaceArea, 0.7, 0.7},
		{"large face", maxFaceArea * 2, 0.99, 0.99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateConfidence(tt.area)
			assert.GreaterOrEqual(t, got, tt.min-1e-9)
			assert.LessOrEqual(t, got, tt.max+1e-9)
		})
	}
}

func TestEmbedder_Embed(t *testing.T) {
	vector := make([]float64, 512)
	vector[0] = 3
	vector[1] = 4

	var gotDetector string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RepresentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotDetector = req.Detector
		assert.NotEmpty(t, req.Img)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(RepresentResponse{
			Results: []RepresentResult{{Embedding: vector, FacialArea: FacialArea{W: 8, H: 8}}},
		})
	}))
	defer server.Close()

	embedder := NewEmbedder(newTestClient(server.URL))
	assert.Equal(t, "deepface/Facenet512", embedder.ModelVersion())
	assert.Equal(t, 512, embedder.Dimension())

	got, err := embedder.Embed(context.Background(), image.NewNRGBA(image.Rect(0, 0, 8, 8)))
	require.NoError(t, err)
	assert.Equal(t, vector, got)
	assert.Equal(t, detectorSkip, gotDetector)
}

func TestEmbedder_Errors(t *testing.T) {
	face := image.NewNRGBA(image.Rect(0, 0, 8, 8))

	tests := []struct {
		name    string
		status  int
		resp    interface{}
		wantErr *domain.AppError
	}{
		{
			name:    "no result",
			status:  http.StatusOK,
			resp:    RepresentResponse{},
			wantErr: domain.ErrEmbeddingFailed,
		},
		{
			name:   "two results",
			status: http.StatusOK,
			resp: RepresentResponse{Results: []RepresentResult{
				{Embedding: make([]float64, 512)},
				{Embedding: make([]float64, 512)},
			}},
			wantErr: domain.ErrEmbeddingFailed,
		},
		{
			name:    "wrong dimension",
			status:  http.StatusOK,
			resp:    RepresentResponse{Results: []RepresentResult{{Embedding: make([]float64, 128)}}},
			wantErr: domain.ErrDimensionMismatch,
		},
		{
			name:    "service down",
			status:  http.StatusServiceUnavailable,
			resp:    map[string]string{"error": "down"},
			wantErr: domain.ErrEmbeddingBackendUnavailable,
		},
		{
			name:    "rejected input",
			status:  http.StatusBadRequest,
			resp:    map[string]string{"error": "bad image"},
			wantErr: domain.ErrEmbeddingFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, tt.status, tt.resp)
			embedder := NewEmbedder(newTestClient(server.URL))

			_, err := embedder.Embed(context.Background(), face)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
