// Package baseline computes demographic-matched healthy centroids and resolves
// the closest available one for a query.
package baseline

import (
	"fmt"
	"sort"

	"github.com/saturnino-fabrica-de-software/derma/internal/corpus"
	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/vecmath"
)

const DefaultMinSamples = 20

// Store holds every baseline that could be computed from a snapshot. It is
// immutable after Build.
type Store struct {
	minSamples int
	baselines  map[domain.BaselineKey]domain.DemographicBaseline
}

// Build averages the healthy records of snapshot per exact bucket, per
// age-only and ethnicity-only bucket, and globally. It fails only when the
// snapshot has no healthy record at all.
func Build(snapshot *corpus.Snapshot, minSamples int) (*Store, error) {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}

	groups := make(map[domain.BaselineKey][][]float64)
	for _, r := range snapshot.Records {
		if r.Condition != domain.ConditionHealthy {
			continue
		}
		for _, key := range keysFor(r.Demographics) {
			groups[key] = append(groups[key], r.Embedding)
		}
	}

	if len(groups[domain.GlobalKey]) == 0 {
		return nil, domain.ErrInsufficientBaselineData.WithError(
			fmt.Errorf("snapshot %s has no healthy records", snapshot.Version))
	}

	s := &Store{
		minSamples: minSamples,
		baselines:  make(map[domain.BaselineKey]domain.DemographicBaseline, len(groups)),
	}
	for key, vectors := range groups {
		centroid, ok := vecmath.Normalize(vecmath.Mean(vectors))
		if !ok {
			continue
		}
		s.baselines[key] = domain.DemographicBaseline{
			Key:         key,
			Centroid:    centroid,
			SampleCount: len(vectors),
		}
	}

	if _, ok := s.baselines[domain.GlobalKey]; !ok {
		return nil, domain.ErrInsufficientBaselineData.WithError(
			fmt.Errorf("snapshot %s: healthy records cancel out to a zero centroid", snapshot.Version))
	}

	return s, nil
}

// keysFor lists every bucket a record with d contributes to. Unknown
// components only contribute to the buckets that wildcard them.
func keysFor(d domain.Demographics) []domain.BaselineKey {
	keys := []domain.BaselineKey{domain.GlobalKey}
	if d.Age != "" {
		keys = append(keys, domain.BaselineKey{Age: d.Age})
	}
	if d.Ethnicity != "" {
		keys = append(keys, domain.BaselineKey{Ethnicity: d.Ethnicity})
	}
	if d.Age != "" && d.Ethnicity != "" {
		keys = append(keys, domain.BaselineKey{Age: d.Age, Ethnicity: d.Ethnicity})
	}
	return keys
}

// MinSamples is the sample count a bucket needs to be used
func (s *Store) MinSamples() int {
	return s.minSamples
}

// Global returns the global baseline
func (s *Store) Global() domain.DemographicBaseline {
	return s.baselines[domain.GlobalKey]
}

// Lookup never fails: exact bucket, then age-only, then ethnicity-only, then
// global. Unknown components skip the levels that need them.
func (s *Store) Lookup(age domain.AgeBucket, ethnicity domain.EthnicityBucket) domain.BaselineResolution {
	if age != "" && ethnicity != "" {
		if b, ok := s.usable(domain.BaselineKey{Age: age, Ethnicity: ethnicity}); ok {
			return domain.BaselineResolution{Baseline: b, Level: domain.FallbackExact}
		}
	}
	if age != "" {
		if b, ok := s.usable(domain.BaselineKey{Age: age}); ok {
			return domain.BaselineResolution{Baseline: b, Level: domain.FallbackPartial}
		}
	}
	if ethnicity != "" {
		if b, ok := s.usable(domain.BaselineKey{Ethnicity: ethnicity}); ok {
			return domain.BaselineResolution{Baseline: b, Level: domain.FallbackPartial}
		}
	}

	global := s.Global()
	return domain.BaselineResolution{
		Baseline:     global,
		Level:        domain.FallbackGlobal,
		Insufficient: global.SampleCount < s.minSamples,
	}
}

// LookupHint resolves an optional caller hint
func (s *Store) LookupHint(hint *domain.DemographicHint) domain.BaselineResolution {
	if hint == nil {
		return s.Lookup("", "")
	}
	return s.Lookup(hint.Age, hint.Ethnicity)
}

func (s *Store) usable(key domain.BaselineKey) (domain.DemographicBaseline, bool) {
	b, ok := s.baselines[key]
	if !ok || b.SampleCount < s.minSamples {
		return domain.DemographicBaseline{}, false
	}
	return b, true
}

// Baselines returns every computed baseline ordered by key
func (s *Store) Baselines() []domain.DemographicBaseline {
	out := make([]domain.DemographicBaseline, 0, len(s.baselines))
	for _, b := range s.baselines {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Summary is the per-bucket sample count used by build reports
type Summary struct {
	Key         string `json:"key"`
	SampleCount int    `json:"sample_count"`
	Usable      bool   `json:"usable"`
}

func (s *Store) Summaries() []Summary {
	baselines := s.Baselines()
	out := make([]Summary, len(baselines))
	for i, b := range baselines {
		out[i] = Summary{
			Key:         b.Key.String(),
			SampleCount: b.SampleCount,
			Usable:      b.SampleCount >= s.minSamples,
		}
	}
	return out
}
