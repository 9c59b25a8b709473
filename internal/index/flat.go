package index

import (
	"context"

	"github.com/saturnino-fabrica-de-software/derma/internal/corpus"
	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/vecmath"
)

// entry is one indexed vector. Vectors are shared with the snapshot and never
// mutated.
type entry struct {
	id     string
	vector []float64
}

// Flat is an exact scan over every record
type Flat struct {
	dimension int
	entries   []entry
}

// NewFlat indexes every record of snapshot
func NewFlat(snapshot *corpus.Snapshot) *Flat {
	return &Flat{
		dimension: snapshot.Dimension,
		entries:   entriesOf(snapshot.Records),
	}
}

func entriesOf(records []domain.ConditionRecord) []entry {
	entries := make([]entry, len(records))
	for i, r := range records {
		entries[i] = entry{id: r.ID, vector: r.Embedding}
	}
	return entries
}

func (f *Flat) Query(ctx context.Context, vector []float64, k int) ([]domain.Neighbor, error) {
	if err := ValidateQuery(vector, k, f.dimension); err != nil {
		return nil, err
	}
	return scan(ctx, vector, k, f.entries)
}

func scan(ctx context.Context, vector []float64, k int, entries []entry) ([]domain.Neighbor, error) {
	best := newTopK(k)
	for i, e := range entries {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		best.offer(domain.Neighbor{RecordID: e.id, Similarity: vecmath.Dot(vector, e.vector)})
	}
	return best.sorted(), nil
}

func (f *Flat) Dimension() int { return f.dimension }
func (f *Flat) Len() int       { return len(f.entries) }
func (f *Flat) Kind() string   { return KindFlat }

var _ Index = (*Flat)(nil)
