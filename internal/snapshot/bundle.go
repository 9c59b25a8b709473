// Package snapshot publishes an immutable corpus, index and baseline bundle
// to concurrent readers and swaps it atomically on reload.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/saturnino-fabrica-de-software/derma/internal/baseline"
	"github.com/saturnino-fabrica-de-software/derma/internal/corpus"
	"github.com/saturnino-fabrica-de-software/derma/internal/embedding"
	"github.com/saturnino-fabrica-de-software/derma/internal/index"
)

// selfQueryTolerance allows for float32 storage in the pgvector index
const selfQueryTolerance = 1e-4

// maxValidationProbes is the number of records re-queried by Validate
const maxValidationProbes = 8

var ErrIndexMismatch = errors.New("index does not match snapshot")

// IndexBuilder builds the similarity index for a snapshot
type IndexBuilder func(ctx context.Context, s *corpus.Snapshot) (index.Index, error)

// FlatIndex builds an exact in-memory index
func FlatIndex() IndexBuilder {
	return func(_ context.Context, s *corpus.Snapshot) (index.Index, error) {
		return index.NewFlat(s), nil
	}
}

// IVFIndex builds an inverted-file index with cfg
func IVFIndex(cfg index.IVFConfig) IndexBuilder {
	return func(_ context.Context, s *corpus.Snapshot) (index.Index, error) {
		return index.NewIVF(s, cfg)
	}
}

type Options struct {
	// ModelVersion and Dimension describe the query embedding space. An
	// empty ModelVersion skips the compatibility check (offline tooling).
	ModelVersion string
	Dimension    int
	MinSamples   int
	Index        IndexBuilder
}

// Bundle is everything a query reads. It is never mutated after Assemble.
type Bundle struct {
	Snapshot  *corpus.Snapshot
	Index     index.Index
	Baselines *baseline.Store
	LoadedAt  time.Time
}

// Assemble builds the baselines and index for s and checks they agree with it
func Assemble(ctx context.Context, s *corpus.Snapshot, opts Options) (*Bundle, error) {
	if opts.ModelVersion != "" {
		if err := embedding.CheckCompatible(opts.ModelVersion, opts.Dimension, s.ModelVersion, s.Dimension); err != nil {
			return nil, err
		}
	}
	if opts.Index == nil {
		opts.Index = FlatIndex()
	}

	baselines, err := baseline.Build(s, opts.MinSamples)
	if err != nil {
		return nil, fmt.Errorf("build baselines: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx, err := opts.Index(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	if idx.Dimension() != s.Dimension || idx.Len() != s.Len() {
		return nil, fmt.Errorf("%w: index %s has %d records of dimension %d, snapshot %s has %d of dimension %d",
			ErrIndexMismatch, idx.Kind(), idx.Len(), idx.Dimension(), s.Version, s.Len(), s.Dimension)
	}

	return &Bundle{
		Snapshot:  s,
		Index:     idx,
		Baselines: baselines,
		LoadedAt:  time.Now().UTC(),
	}, nil
}

// Version is the corpus version served by the bundle
func (b *Bundle) Version() string {
	return b.Snapshot.Version
}

// Validate re-queries a sample of records and expects each to find an
// identical vector at rank one.
func (b *Bundle) Validate(ctx context.Context) error {
	records := b.Snapshot.Records
	n := min(maxValidationProbes, len(records))
	for i := 0; i < n; i++ {
		rec := records[i*len(records)/n]
		hits, err := b.Index.Query(ctx, rec.Embedding, 1)
		if err != nil {
			return fmt.Errorf("validate index: %w", err)
		}
		if len(hits) == 0 || math.Abs(1-hits[0].Similarity) > selfQueryTolerance {
			return fmt.Errorf("%w: record %s not found by self query", ErrIndexMismatch, rec.ID)
		}
	}
	return nil
}
