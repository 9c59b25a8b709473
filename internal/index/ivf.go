package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/saturnino-fabrica-de-software/derma/internal/corpus"
	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/vecmath"
)

// IVFConfig sizes the coarse quantizer
type IVFConfig struct {
	Lists      int
	Probes     int
	Iterations int
}

func DefaultIVFConfig() IVFConfig {
	return IVFConfig{Lists: 16, Probes: 4, Iterations: 10}
}

// IVF is an inverted-file index: records are bucketed by nearest centroid
// and a query re-scores the records of its closest lists exactly.
type IVF struct {
	dimension int
	probes    int
	size      int
	centroids [][]float64
	lists     [][]entry
}

// NewIVF clusters snapshot with spherical k-means. Initialization picks
// evenly spaced records in ID order, so the same snapshot always yields the
// same lists.
func NewIVF(snapshot *corpus.Snapshot, cfg IVFConfig) (*IVF, error) {
	if cfg.Lists <= 0 || cfg.Probes <= 0 {
		return nil, fmt.Errorf("ivf: lists and probes must be positive, got %d/%d", cfg.Lists, cfg.Probes)
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultIVFConfig().Iterations
	}

	entries := entriesOf(snapshot.Records)
	lists := min(cfg.Lists, len(entries))

	centroids := make([][]float64, lists)
	for i := range centroids {
		seed := entries[i*len(entries)/lists].vector
		centroids[i] = append([]float64(nil), seed...)
	}

	assign := make([]int, len(entries))
	for iter := 0; iter < cfg.Iterations; iter++ {
		changed := false
		for i, e := range entries {
			c := nearest(centroids, e.vector)
			if iter == 0 || c != assign[i] {
				changed = true
			}
			assign[i] = c
		}
		if !changed {
			break
		}
		centroids = recompute(centroids, entries, assign)
	}

	ivf := &IVF{
		dimension: snapshot.Dimension,
		probes:    min(cfg.Probes, lists),
		size:      len(entries),
		centroids: centroids,
		lists:     make([][]entry, lists),
	}
	for _, e := range entries {
		c := nearest(centroids, e.vector)
		ivf.lists[c] = append(ivf.lists[c], e)
	}
	return ivf, nil
}

// nearest returns the closest centroid, lowest index on ties
func nearest(centroids [][]float64, v []float64) int {
	best, bestSim := 0, vecmath.Dot(centroids[0], v)
	for i := 1; i < len(centroids); i++ {
		if sim := vecmath.Dot(centroids[i], v); sim > bestSim {
			best, bestSim = i, sim
		}
	}
	return best
}

// recompute averages each list and renormalizes. Empty lists keep their
// previous centroid.
func recompute(prev [][]float64, entries []entry, assign []int) [][]float64 {
	members := make([][][]float64, len(prev))
	for i, e := range entries {
		members[assign[i]] = append(members[assign[i]], e.vector)
	}

	next := make([][]float64, len(prev))
	for c := range prev {
		if centroid, ok := vecmath.Normalize(vecmath.Mean(members[c])); ok {
			next[c] = centroid
		} else {
			next[c] = prev[c]
		}
	}
	return next
}

func (x *IVF) Query(ctx context.Context, vector []float64, k int) ([]domain.Neighbor, error) {
	if err := ValidateQuery(vector, k, x.dimension); err != nil {
		return nil, err
	}

	type scored struct {
		list int
		sim  float64
	}
	order := make([]scored, len(x.centroids))
	for i, c := range x.centroids {
		order[i] = scored{list: i, sim: vecmath.Dot(vector, c)}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].sim != order[j].sim {
			return order[i].sim > order[j].sim
		}
		return order[i].list < order[j].list
	})

	// Probe more lists than configured when they hold fewer than k records,
	// so a query never returns less than min(k, Len()).
	want := min(k, x.size)
	var candidates []entry
	for i, o := range order {
		if i >= x.probes && len(candidates) >= want {
			break
		}
		candidates = append(candidates, x.lists[o.list]...)
	}

	return scan(ctx, vector, k, candidates)
}

func (x *IVF) Dimension() int { return x.dimension }
func (x *IVF) Len() int       { return x.size }
func (x *IVF) Kind() string   { return KindIVF }

// Lists returns the number of records per list, for diagnostics
func (x *IVF) Lists() []int {
	sizes := make([]int, len(x.lists))
	for i, l := range x.lists {
		sizes[i] = len(l)
	}
	return sizes
}

var _ Index = (*IVF)(nil)
