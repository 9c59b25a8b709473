package testutil

import (
	"math"
	"math/rand"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

// UnitVector returns a deterministic pseudo-random unit vector for seed.
func UnitVector(dim int, seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	v := make([]float64, dim)
	var norm float64
	for i := range v {
		v[i] = r.NormFloat64()
		norm += v[i] * v[i]
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}

// Blend returns the normalized combination wa*a + wb*b.
func Blend(a, b []float64, wa, wb float64) []float64 {
	v := make([]float64, len(a))
	var norm float64
	for i := range a {
		v[i] = wa*a[i] + wb*b[i]
		norm += v[i] * v[i]
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}

// Record builds a reference record.
func Record(id string, condition domain.ConditionLabel, severity domain.Severity, age domain.AgeBucket, eth domain.EthnicityBucket, vector []float64) domain.ConditionRecord {
	return domain.ConditionRecord{
		ID:        id,
		Embedding: vector,
		Condition: condition,
		Severity:  severity,
		Demographics: domain.Demographics{
			Age:       age,
			Ethnicity: eth,
		},
	}
}
