package metrics

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultAggregateInterval = time.Minute
	defaultWindow            = 24 * time.Hour
	defaultRetention         = 90 * 24 * time.Hour
)

// Aggregator periodically exports audit outcome counts and prunes old audits
type Aggregator struct {
	repo      *Repository
	logger    *slog.Logger
	interval  time.Duration
	window    time.Duration
	retention time.Duration
	now       func() time.Time
	done      chan struct{}
}

func NewAggregator(repo *Repository, logger *slog.Logger, interval time.Duration) *Aggregator {
	if interval == 0 {
		interval = defaultAggregateInterval
	}

	return &Aggregator{
		repo:      repo,
		logger:    logger,
		interval:  interval,
		window:    defaultWindow,
		retention: defaultRetention,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start runs until ctx is done or Stop is called
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("metrics aggregator started", "interval", a.interval)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("metrics aggregator stopped")
			return
		case <-a.done:
			a.logger.Info("metrics aggregator stopped")
			return
		case <-ticker.C:
			a.aggregate(ctx)
		}
	}
}

func (a *Aggregator) Stop() {
	close(a.done)
}

func (a *Aggregator) aggregate(ctx context.Context) {
	now := a.now()

	deleted, err := a.repo.DeleteAuditsBefore(ctx, now.Add(-a.retention))
	if err != nil {
		a.logger.Error("failed to delete old audits", "error", err)
	} else if deleted > 0 {
		a.logger.Info("deleted old audits", "count", deleted)
	}

	counts, err := a.repo.OutcomesSince(ctx, now.Add(-a.window))
	if err != nil {
		a.logger.Error("failed to aggregate audit outcomes", "error", err)
		return
	}

	AuditOutcomes.Reset()
	for outcome, n := range counts {
		AuditOutcomes.WithLabelValues(outcome).Set(float64(n))
	}
	a.logger.Debug("audit outcomes aggregated", "outcomes", len(counts))
}
