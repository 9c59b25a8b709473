package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/saturnino-fabrica-de-software/derma/internal/corpus"
)

// Source loads the snapshot to publish
type Source interface {
	Load(ctx context.Context) (*corpus.Snapshot, error)
	String() string
}

// FileSource reads a snapshot file written by WriteSnapshotFile
type FileSource struct {
	Path string
}

func (s FileSource) Load(_ context.Context) (*corpus.Snapshot, error) {
	return corpus.ReadSnapshotFile(s.Path)
}

func (s FileSource) String() string {
	return "file:" + s.Path
}

// Reloader loads, assembles and publishes bundles. Reloads are serialized;
// queries keep reading the previous bundle until Publish.
type Reloader struct {
	mu        sync.Mutex
	source    Source
	holder    *Holder
	opts      Options
	logger    *slog.Logger
	onPublish func(*Bundle)
}

func NewReloader(source Source, holder *Holder, opts Options, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{source: source, holder: holder, opts: opts, logger: logger}
}

// OnPublish registers a hook called after every successful publish
func (r *Reloader) OnPublish(fn func(*Bundle)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPublish = fn
}

// Reload publishes the source's snapshot. When the source still holds the
// live version nothing is rebuilt and the live bundle is returned.
func (r *Reloader) Reload(ctx context.Context) (*Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot from %s: %w", r.source, err)
	}

	if live, err := r.holder.Current(); err == nil && live.Version() == s.Version {
		r.logger.Debug("snapshot unchanged", "version", s.Version)
		return live, nil
	}

	b, err := Assemble(ctx, s, r.opts)
	if err != nil {
		return nil, fmt.Errorf("assemble snapshot %s: %w", s.Version, err)
	}
	if err := b.Validate(ctx); err != nil {
		return nil, err
	}

	prev := r.holder.Publish(b)

	attrs := []any{
		"version", b.Version(),
		"records", b.Snapshot.Len(),
		"index", b.Index.Kind(),
		"model_version", s.ModelVersion,
	}
	if prev != nil {
		attrs = append(attrs, "previous_version", prev.Version())
	}
	r.logger.Info("snapshot published", attrs...)

	if r.onPublish != nil {
		r.onPublish(b)
	}
	return b, nil
}
