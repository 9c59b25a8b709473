// Package recommend maps scored condition calls onto a product catalog.
package recommend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

const (
	baseScore          = 0.5
	tagMatchBonus      = 0.3
	highConfidenceBump = 0.2
	categoryBonus      = 0.1
	highConfidence     = 0.8
)

// conditionCategories lists the product categories that treat each condition
var conditionCategories = map[domain.ConditionLabel][]string{
	domain.ConditionAcne:              {"cleanser", "spot_treatment"},
	domain.ConditionRedness:           {"soothing", "barrier_repair"},
	domain.ConditionHyperpigmentation: {"brightening", "sunscreen"},
	domain.ConditionWrinkles:          {"anti_aging", "retinoid"},
	domain.ConditionDryness:           {"moisturizer", "barrier_repair"},
	domain.ConditionOiliness:          {"mattifying", "cleanser"},
	domain.ConditionDarkCircles:       {"eye_care"},
	domain.ConditionEnlargedPores:     {"exfoliant", "toner"},
}

// CategoriesFor returns the categories mapped to a condition
func CategoriesFor(label domain.ConditionLabel) []string {
	return conditionCategories[label]
}

type Config struct {
	MinScore   float64
	MaxResults int
}

func DefaultConfig() Config {
	return Config{MinScore: 0.7, MaxResults: 10}
}

// Ranker is stateless and safe for concurrent use
type Ranker struct {
	config Config
}

func NewRanker(config Config) *Ranker {
	if config.MaxResults <= 0 {
		config.MaxResults = DefaultConfig().MaxResults
	}
	return &Ranker{config: config}
}

// Rank scores every product against every call. It never fails; no calls or
// no relevant products yield an empty list.
func (r *Ranker) Rank(calls []domain.ConditionCall, products []domain.Product) []domain.ProductRecommendation {
	recs := make([]domain.ProductRecommendation, 0)
	if len(calls) == 0 {
		return recs
	}

	for _, p := range products {
		score, addressed := r.scoreProduct(p, calls)
		if len(addressed) == 0 || score < r.config.MinScore {
			continue
		}
		recs = append(recs, domain.ProductRecommendation{
			ProductID:  p.ID,
			Name:       p.Name,
			Category:   p.Category,
			MatchScore: score,
			Addresses:  addressed,
			Rationale:  rationale(addressed),
		})
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].MatchScore != recs[j].MatchScore {
			return recs[i].MatchScore > recs[j].MatchScore
		}
		return recs[i].ProductID < recs[j].ProductID
	})

	if len(recs) > r.config.MaxResults {
		recs = recs[:r.config.MaxResults]
	}
	return recs
}

func (r *Ranker) scoreProduct(p domain.Product, calls []domain.ConditionCall) (float64, []domain.ConditionCall) {
	best := 0.0
	var addressed []domain.ConditionCall
	for _, c := range calls {
		score, relevant := callScore(p, c)
		if !relevant {
			continue
		}
		addressed = append(addressed, c)
		best = max(best, score)
	}
	return best, addressed
}

func callScore(p domain.Product, c domain.ConditionCall) (float64, bool) {
	tag := hasTag(p, c.Condition)
	category := categoryMatches(p.Category, c.Condition)
	if !tag && !category {
		return 0, false
	}

	score := baseScore
	if tag {
		score += tagMatchBonus
	}
	if c.Confidence > highConfidence {
		score += highConfidenceBump
	}
	if category {
		score += categoryBonus
	}
	return min(score, 1.0), true
}

func hasTag(p domain.Product, label domain.ConditionLabel) bool {
	for _, t := range p.TargetConditions {
		if t == label {
			return true
		}
	}
	return false
}

func categoryMatches(category string, label domain.ConditionLabel) bool {
	category = strings.ToLower(category)
	for _, c := range conditionCategories[label] {
		if c == category {
			return true
		}
	}
	return false
}

func rationale(addressed []domain.ConditionCall) string {
	parts := make([]string, len(addressed))
	for i, c := range addressed {
		parts[i] = fmt.Sprintf("%s (confidence %.2f, %s)", c.Condition, c.Confidence, c.Severity)
	}
	return "Addresses " + strings.Join(parts, ", ")
}
