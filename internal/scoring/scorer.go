// Package scoring turns similarity neighbors into condition calls and an
// overall health score.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/vecmath"
)

// RecordLookup resolves neighbor IDs to their labeled records
type RecordLookup interface {
	Record(id string) (domain.ConditionRecord, bool)
}

// Scored is the scorer output for one query
type Scored struct {
	Calls       []domain.ConditionCall
	HealthScore float64
	// Labels counts the neighbors per label, including healthy
	Labels map[domain.ConditionLabel]int
}

// Scorer is stateless; one instance serves every request
type Scorer struct {
	config Config
}

func NewScorer(config Config) (*Scorer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("scoring config: %w", err)
	}
	return &Scorer{config: config}, nil
}

func (s *Scorer) Config() Config {
	return s.config
}

type labelGroup struct {
	similarities []float64
	severities   []domain.Severity
}

// Score never fails. Neighbors missing from records are ignored.
func (s *Scorer) Score(q domain.QueryResult, records RecordLookup) Scored {
	groups := make(map[domain.ConditionLabel]*labelGroup)
	labels := make(map[domain.ConditionLabel]int)

	for _, n := range q.Neighbors {
		rec, ok := records.Record(n.RecordID)
		if !ok {
			continue
		}
		labels[rec.Condition]++
		g := groups[rec.Condition]
		if g == nil {
			g = &labelGroup{}
			groups[rec.Condition] = g
		}
		// Neighbors arrive best first, so the first TopM are the top-m
		if len(g.similarities) < s.config.TopM {
			g.similarities = append(g.similarities, n.Similarity)
			g.severities = append(g.severities, rec.Severity)
		}
	}

	looksHealthy := q.BaselineSimilarity > s.config.HealthyThreshold

	calls := make([]domain.ConditionCall, 0, len(groups))
	for label, g := range groups {
		if label == domain.ConditionHealthy {
			continue
		}

		raw := vecmath.Clamp01(mean(g.similarities))
		confidence := raw
		if looksHealthy {
			confidence = raw * s.config.DampingFactor
		}
		if confidence < s.config.MinConfidence {
			continue
		}

		calls = append(calls, domain.ConditionCall{
			Condition:           label,
			Confidence:          confidence,
			RawConfidence:       raw,
			Severity:            s.Band(confidence),
			ReferenceSeverity:   majoritySeverity(g.severities),
			SupportingNeighbors: len(g.similarities),
			LooksHealthy:        looksHealthy,
			Damped:              looksHealthy,
		})
	}

	sort.Slice(calls, func(i, j int) bool {
		if calls[i].Confidence != calls[j].Confidence {
			return calls[i].Confidence > calls[j].Confidence
		}
		return calls[i].Condition < calls[j].Condition
	})

	return Scored{
		Calls:       calls,
		HealthScore: s.HealthScore(q.BaselineSimilarity, calls),
		Labels:      labels,
	}
}

// Band maps a confidence to its severity band
func (s *Scorer) Band(confidence float64) domain.Severity {
	switch {
	case confidence > s.config.SevereThreshold:
		return domain.SeveritySevere
	case confidence > s.config.ModerateThreshold:
		return domain.SeverityModerate
	case confidence > s.config.MildThreshold:
		return domain.SeverityMild
	default:
		return domain.SeverityVeryMild
	}
}

// HealthScore combines baseline similarity and condition burden into 0..100,
// rounded to two decimals.
func (s *Scorer) HealthScore(baselineSimilarity float64, calls []domain.ConditionCall) float64 {
	healthy := 1.0
	for _, c := range calls {
		healthy *= 1 - vecmath.Clamp01(c.Confidence*c.Severity.Weight())
	}
	burden := 1 - healthy

	w := s.config.BaselineWeight
	score := 100 * (w*vecmath.Clamp01(baselineSimilarity) + (1-w)*(1-burden))
	return math.Round(score*100) / 100
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// majoritySeverity returns the most common annotated severity. Unspecified
// annotations do not vote; ties go to the heavier band.
func majoritySeverity(severities []domain.Severity) domain.Severity {
	votes := make(map[domain.Severity]int)
	for _, sev := range severities {
		if sev == domain.SeverityUnspecified || sev == "" {
			continue
		}
		votes[sev]++
	}

	best, bestVotes := domain.SeverityUnspecified, 0
	for _, sev := range []domain.Severity{domain.SeveritySevere, domain.SeverityModerate, domain.SeverityMild, domain.SeverityNone} {
		if votes[sev] > bestVotes {
			best, bestVotes = sev, votes[sev]
		}
	}
	return best
}
