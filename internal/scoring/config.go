package scoring

import (
	"errors"
	"fmt"
)

// Config holds every threshold the scorer uses
type Config struct {
	TopK              int
	TopM              int
	HealthyThreshold  float64
	DampingFactor     float64
	SevereThreshold   float64
	ModerateThreshold float64
	MildThreshold     float64
	MinConfidence     float64
	BaselineWeight    float64
}

func DefaultConfig() Config {
	return Config{
		TopK:              20,
		TopM:              5,
		HealthyThreshold:  0.8,
		DampingFactor:     0.7,
		SevereThreshold:   0.85,
		ModerateThreshold: 0.7,
		MildThreshold:     0.5,
		MinConfidence:     0.5,
		BaselineWeight:    0.4,
	}
}

// Validate rejects configurations that would make scoring meaningless
func (c Config) Validate() error {
	if c.TopK <= 0 || c.TopM <= 0 {
		return fmt.Errorf("top_k and top_m must be positive, got %d/%d", c.TopK, c.TopM)
	}
	if c.TopM > c.TopK {
		return fmt.Errorf("top_m (%d) cannot exceed top_k (%d)", c.TopM, c.TopK)
	}
	for name, v := range map[string]float64{
		"healthy_threshold":  c.HealthyThreshold,
		"damping_factor":     c.DampingFactor,
		"severe_threshold":   c.SevereThreshold,
		"moderate_threshold": c.ModerateThreshold,
		"mild_threshold":     c.MildThreshold,
		"min_confidence":     c.MinConfidence,
		"baseline_weight":    c.BaselineWeight,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if !(c.SevereThreshold > c.ModerateThreshold && c.ModerateThreshold > c.MildThreshold) {
		return errors.New("severity thresholds must be strictly decreasing")
	}
	return nil
}
