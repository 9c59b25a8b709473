package vecmath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"dimension mismatch", []float64{1, 0}, []float64{1, 0, 0}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-12)
		})
	}
}

func TestNormalize(t *testing.T) {
	v, ok := Normalize([]float64{3, 4})
	require.True(t, ok)
	assert.InDelta(t, 0.6, v[0], 1e-12)
	assert.InDelta(t, 0.8, v[1], 1e-12)
	assert.True(t, IsNormalized(v, 1e-9))

	_, ok = Normalize([]float64{0, 0, 0})
	assert.False(t, ok)

	_, ok = Normalize([]float64{1, math.NaN()})
	assert.False(t, ok)

	_, ok = Normalize(nil)
	assert.False(t, ok)
}

func TestMean(t *testing.T) {
	got := Mean([][]float64{{1, 0}, {0, 1}, {2, 2}})
	assert.InDeltaSlice(t, []float64{1, 1}, got, 1e-12)
	assert.Nil(t, Mean(nil))
}

func TestFloat32RoundTrip(t *testing.T) {
	in := []float64{0.25, -0.5, 1}
	assert.Equal(t, in, FromFloat32(ToFloat32(in)))
}
