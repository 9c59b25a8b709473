// Package metrics exposes Prometheus metrics for the analysis pipeline and
// the snapshot lifecycle.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

const namespace = "derma"

// Pipeline stages
const (
	StageLocate    = "locate"
	StageEmbed     = "embed"
	StageQuery     = "query"
	StageBaseline  = "baseline"
	StageScore     = "score"
	StageRecommend = "recommend"
)

const (
	OutcomeOK       = "ok"
	OutcomeCanceled = "canceled"
	OutcomeInternal = "INTERNAL_ERROR"
)

var (
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_stage_duration_seconds",
			Help:      "Duration of each analysis pipeline stage",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)

	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Analyses by outcome code",
		},
		[]string{"outcome"},
	)

	ConditionCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "condition_calls_total",
			Help:      "Condition calls emitted, by condition and severity band",
		},
		[]string{"condition", "severity"},
	)

	BaselineFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "baseline_fallback_total",
			Help:      "Baseline lookups by resolved fallback level",
		},
		[]string{"level"},
	)

	SnapshotInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_info",
			Help:      "Live corpus snapshot; the value is always 1",
		},
		[]string{"version", "model_version", "index"},
	)

	SnapshotRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_records",
		Help:      "Records in the live corpus snapshot",
	})

	SnapshotPublishedTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_published_timestamp_seconds",
		Help:      "Unix time the live snapshot was published",
	})

	BuildEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corpus_build_entries_total",
			Help:      "Manifest entries processed by corpus builds, by result",
		},
		[]string{"result"},
	)

	AuditOutcomes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_outcomes_window",
			Help:      "Audited analyses per outcome over the aggregation window",
		},
		[]string{"outcome"},
	)
)

// ObserveStage records the time elapsed since start for stage
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Outcome maps an analysis error to a low-cardinality label
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeCanceled
	}
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return OutcomeInternal
}

// RecordAnalysis counts one finished analysis
func RecordAnalysis(result *domain.AnalysisResult, err error) {
	AnalysesTotal.WithLabelValues(Outcome(err)).Inc()
	if err != nil || result == nil {
		return
	}
	BaselineFallbackTotal.WithLabelValues(string(result.BaselineFallbackLevel)).Inc()
	for _, c := range result.ConditionCalls {
		ConditionCallsTotal.WithLabelValues(string(c.Condition), string(c.Severity)).Inc()
	}
}

// RecordSnapshot replaces the live snapshot series
func RecordSnapshot(version, modelVersion, indexKind string, records int, publishedAt time.Time) {
	SnapshotInfo.Reset()
	SnapshotInfo.WithLabelValues(version, modelVersion, indexKind).Set(1)
	SnapshotRecords.Set(float64(records))
	SnapshotPublishedTimestamp.Set(float64(publishedAt.Unix()))
}

// RecordBuild counts included records and exclusions by code
func RecordBuild(included int, excludedByCode map[string]int) {
	BuildEntriesTotal.WithLabelValues("included").Add(float64(included))
	for code, n := range excludedByCode {
		BuildEntriesTotal.WithLabelValues(code).Add(float64(n))
	}
}
