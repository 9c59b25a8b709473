package domain

import (
	"fmt"
	"strings"
)

// ConditionLabel is one of the fixed skin-condition classes of the reference corpus.
type ConditionLabel string

const (
	ConditionHealthy           ConditionLabel = "healthy"
	ConditionAcne              ConditionLabel = "acne"
	ConditionRedness           ConditionLabel = "redness"
	ConditionHyperpigmentation ConditionLabel = "hyperpigmentation"
	ConditionWrinkles          ConditionLabel = "wrinkles"
	ConditionDryness           ConditionLabel = "dryness"
	ConditionOiliness          ConditionLabel = "oiliness"
	ConditionDarkCircles       ConditionLabel = "dark_circles"
	ConditionEnlargedPores     ConditionLabel = "enlarged_pores"
)

// ConditionLabels lists every valid label in a stable order.
var ConditionLabels = []ConditionLabel{
	ConditionHealthy,
	ConditionAcne,
	ConditionRedness,
	ConditionHyperpigmentation,
	ConditionWrinkles,
	ConditionDryness,
	ConditionOiliness,
	ConditionDarkCircles,
	ConditionEnlargedPores,
}

func (c ConditionLabel) Valid() bool {
	for _, l := range ConditionLabels {
		if l == c {
			return true
		}
	}
	return false
}

func (c ConditionLabel) String() string {
	return string(c)
}

// Readable returns the label with underscores replaced, for rationale strings.
func (c ConditionLabel) Readable() string {
	return strings.ReplaceAll(string(c), "_", " ")
}

// ParseConditionLabel normalizes case and whitespace before matching.
func ParseConditionLabel(s string) (ConditionLabel, error) {
	c := ConditionLabel(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown condition label %q", s)
	}
	return c, nil
}

// Severity is both the categorical annotation carried by reference records
// and the band assigned to a scored condition call.
type Severity string

const (
	SeverityUnspecified Severity = "unspecified"
	SeverityNone        Severity = "none"
	SeverityVeryMild    Severity = "very_mild"
	SeverityMild        Severity = "mild"
	SeverityModerate    Severity = "moderate"
	SeveritySevere      Severity = "severe"
)

// ParseAnnotatedSeverity parses a source-label severity. An empty value means
// the dataset carried no severity and yields SeverityUnspecified.
func ParseAnnotatedSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case "":
		return SeverityUnspecified, nil
	case SeverityUnspecified, SeverityNone, SeverityMild, SeverityModerate, SeveritySevere:
		return sev, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// Weight is the contribution of a severity band to the condition burden
// used by the overall health score.
func (s Severity) Weight() float64 {
	switch s {
	case SeveritySevere:
		return 1.0
	case SeverityModerate:
		return 0.75
	case SeverityMild:
		return 0.5
	case SeverityVeryMild:
		return 0.25
	default:
		return 0
	}
}

// AgeBucket is an explicit age range. The empty value means unknown.
type AgeBucket string

const (
	Age18To24 AgeBucket = "18-24"
	Age25To34 AgeBucket = "25-34"
	Age35To44 AgeBucket = "35-44"
	Age45To54 AgeBucket = "45-54"
	Age55To64 AgeBucket = "55-64"
	Age65Plus AgeBucket = "65+"
)

var AgeBuckets = []AgeBucket{Age18To24, Age25To34, Age35To44, Age45To54, Age55To64, Age65Plus}

func (a AgeBucket) Valid() bool {
	if a == "" {
		return true
	}
	for _, b := range AgeBuckets {
		if b == a {
			return true
		}
	}
	return false
}

// EthnicityBucket is a coarse ethnicity category. The empty value means unknown.
type EthnicityBucket string

const (
	EthnicityAfrican        EthnicityBucket = "african"
	EthnicityEastAsian      EthnicityBucket = "east_asian"
	EthnicitySouthAsian     EthnicityBucket = "south_asian"
	EthnicitySoutheastAsian EthnicityBucket = "southeast_asian"
	EthnicityMiddleEastern  EthnicityBucket = "middle_eastern"
	EthnicityHispanic       EthnicityBucket = "hispanic"
	EthnicityCaucasian      EthnicityBucket = "caucasian"
	EthnicityMixed          EthnicityBucket = "mixed"
)

var EthnicityBuckets = []EthnicityBucket{
	EthnicityAfrican,
	EthnicityEastAsian,
	EthnicitySouthAsian,
	EthnicitySoutheastAsian,
	EthnicityMiddleEastern,
	EthnicityHispanic,
	EthnicityCaucasian,
	EthnicityMixed,
}

func (e EthnicityBucket) Valid() bool {
	if e == "" {
		return true
	}
	for _, b := range EthnicityBuckets {
		if b == e {
			return true
		}
	}
	return false
}

// SkinType is informational metadata; it does not take part in baseline keys.
type SkinType string

const (
	SkinNormal      SkinType = "normal"
	SkinOily        SkinType = "oily"
	SkinDry         SkinType = "dry"
	SkinCombination SkinType = "combination"
	SkinSensitive   SkinType = "sensitive"
)

var SkinTypes = []SkinType{SkinNormal, SkinOily, SkinDry, SkinCombination, SkinSensitive}

func (s SkinType) Valid() bool {
	if s == "" {
		return true
	}
	for _, t := range SkinTypes {
		if t == s {
			return true
		}
	}
	return false
}

// Demographics are the demographic tags attached to a reference record.
type Demographics struct {
	Age       AgeBucket       `json:"age_bucket,omitempty"`
	Ethnicity EthnicityBucket `json:"ethnicity_bucket,omitempty"`
	SkinType  SkinType        `json:"skin_type,omitempty"`
}

// DemographicHint is the optional caller-provided demographic input of a query.
type DemographicHint struct {
	Age       AgeBucket       `json:"age_bucket,omitempty"`
	Ethnicity EthnicityBucket `json:"ethnicity_bucket,omitempty"`
}

// ParseDemographicHint returns nil when both values are empty.
func ParseDemographicHint(age, ethnicity string) (*DemographicHint, error) {
	a := AgeBucket(strings.TrimSpace(age))
	e := EthnicityBucket(strings.ToLower(strings.TrimSpace(ethnicity)))

	if !a.Valid() {
		return nil, ErrInvalidDemographic.WithError(fmt.Errorf("age_bucket %q", age))
	}
	if !e.Valid() {
		return nil, ErrInvalidDemographic.WithError(fmt.Errorf("ethnicity_bucket %q", ethnicity))
	}
	if a == "" && e == "" {
		return nil, nil
	}
	return &DemographicHint{Age: a, Ethnicity: e}, nil
}
