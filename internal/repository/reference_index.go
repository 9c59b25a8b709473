package repository

import (
	"context"
	"fmt"

	"github.com/saturnino-fabrica-de-software/derma/internal/corpus"
	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/index"
)

// ReferenceIndex answers top-k queries with pgvector over the records of one
// corpus version. Vectors are stored as float32, so similarities agree with
// the in-memory indexes to about 1e-6.
type ReferenceIndex struct {
	pool      PgxPool
	version   string
	dimension int
	size      int
}

// NewReferenceIndex binds to the rows of snapshot's version, which must
// already be persisted with SaveSnapshot
func NewReferenceIndex(ctx context.Context, pool PgxPool, snapshot *corpus.Snapshot) (*ReferenceIndex, error) {
	query := `SELECT COUNT(*) FROM reference_records WHERE corpus_version = $1`

	var count int
	if err := pool.QueryRow(ctx, query, snapshot.Version).Scan(&count); err != nil {
		return nil, fmt.Errorf("count reference records: %w", err)
	}
	if count != snapshot.Len() {
		return nil, fmt.Errorf("pgvector index for %s: %d rows stored, snapshot has %d",
			snapshot.Version, count, snapshot.Len())
	}

	return &ReferenceIndex{
		pool:      pool,
		version:   snapshot.Version,
		dimension: snapshot.Dimension,
		size:      count,
	}, nil
}

func (x *ReferenceIndex) Query(ctx context.Context, vector []float64, k int) ([]domain.Neighbor, error) {
	if err := index.ValidateQuery(vector, k, x.dimension); err != nil {
		return nil, err
	}

	query := `
		SELECT id, 1 - (embedding <=> $2) AS similarity
		FROM reference_records
		WHERE corpus_version = $1
		ORDER BY embedding <=> $2, id
		LIMIT $3
	`

	rows, err := x.pool.Query(ctx, query, x.version, toVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query reference index: %w", err)
	}
	defer rows.Close()

	neighbors := make([]domain.Neighbor, 0, min(k, x.size))
	for rows.Next() {
		var n domain.Neighbor
		if err := rows.Scan(&n.RecordID, &n.Similarity); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return neighbors, nil
}

func (x *ReferenceIndex) Dimension() int { return x.dimension }
func (x *ReferenceIndex) Len() int       { return x.size }
func (x *ReferenceIndex) Kind() string   { return index.KindPgvector }

var _ index.Index = (*ReferenceIndex)(nil)
