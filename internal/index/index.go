// Package index answers cosine top-k queries over the reference corpus.
package index

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

// Index is a read-only similarity index over one snapshot. Results are
// ordered by similarity descending, ties broken by ascending record ID.
type Index interface {
	Query(ctx context.Context, vector []float64, k int) ([]domain.Neighbor, error)
	Dimension() int
	Len() int
	Kind() string
}

const (
	KindFlat     = "flat"
	KindIVF      = "ivf"
	KindPgvector = "pgvector"
)

// ctxCheckInterval is how many vectors are scored between cancellation checks
const ctxCheckInterval = 1024

// ValidateQuery checks k and the vector dimension. k larger than the index is
// allowed and yields every record.
func ValidateQuery(vector []float64, k, dimension int) error {
	if k <= 0 {
		return domain.ErrInvalidTopK.WithError(fmt.Errorf("k=%d", k))
	}
	if len(vector) != dimension {
		return domain.ErrDimensionMismatch.WithError(
			fmt.Errorf("query has %d dimensions, index has %d", len(vector), dimension))
	}
	return nil
}

// ranksBefore is the result order: higher similarity first, then lower ID
func ranksBefore(a, b domain.Neighbor) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	return a.RecordID < b.RecordID
}

// topK keeps the k best neighbors seen so far. The heap root is the worst
// kept neighbor.
type topK struct {
	k     int
	items []domain.Neighbor
}

func newTopK(k int) *topK {
	return &topK{k: k, items: make([]domain.Neighbor, 0, min(k, 1024))}
}

func (t *topK) Len() int           { return len(t.items) }
func (t *topK) Less(i, j int) bool { return ranksBefore(t.items[j], t.items[i]) }
func (t *topK) Swap(i, j int)      { t.items[i], t.items[j] = t.items[j], t.items[i] }
func (t *topK) Push(x any)         { t.items = append(t.items, x.(domain.Neighbor)) }

func (t *topK) Pop() any {
	n := len(t.items)
	item := t.items[n-1]
	t.items = t.items[:n-1]
	return item
}

func (t *topK) offer(n domain.Neighbor) {
	if len(t.items) < t.k {
		heap.Push(t, n)
		return
	}
	if ranksBefore(n, t.items[0]) {
		t.items[0] = n
		heap.Fix(t, 0)
	}
}

// sorted drains the heap into result order
func (t *topK) sorted() []domain.Neighbor {
	out := make([]domain.Neighbor, len(t.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(t).(domain.Neighbor)
	}
	return out
}
