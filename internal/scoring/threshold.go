// Package scoring computes the deterministic coverage/confidence score for
// an evidence bundle, gated by a sufficiency check.
package scoring

import (
	"fmt"
	"math"
)

// Threshold holds the sufficiency gate and recency scaling knobs.
type Threshold struct {
	MinTotalSources    int     `json:"min_total_sources" mapstructure:"min_total_sources"`
	MinEvidenceTypes   int     `json:"min_evidence_types" mapstructure:"min_evidence_types"`
	MinFirstPartyRatio float64 `json:"min_first_party_ratio" mapstructure:"min_first_party_ratio"`
	MaxMedianAgeDays   int     `json:"max_median_age_days" mapstructure:"max_median_age_days"`
}

// Weights are the sub-score multipliers. They must sum to 1.0.
type Weights struct {
	Coverage   float64 `json:"coverage" mapstructure:"coverage"`
	Recency    float64 `json:"recency" mapstructure:"recency"`
	FirstParty float64 `json:"first_party" mapstructure:"first_party"`
}

// Buckets map a 0-10 score onto a label. Boundaries are configuration, not
// embedded constants.
type Buckets struct {
	High   float64 `json:"high" mapstructure:"high"`
	Medium float64 `json:"medium" mapstructure:"medium"`
}

// DefaultThreshold returns the stock sufficiency gate.
func DefaultThreshold() Threshold {
	return Threshold{
		MinTotalSources:    3,
		MinEvidenceTypes:   2,
		MinFirstPartyRatio: 0.2,
		MaxMedianAgeDays:   180,
	}
}

// DefaultWeights returns the stock sub-score weights.
func DefaultWeights() Weights {
	return Weights{Coverage: 0.45, Recency: 0.35, FirstParty: 0.20}
}

// DefaultBuckets returns the stock label boundaries.
func DefaultBuckets() Buckets {
	return Buckets{High: 7.5, Medium: 5.0}
}

const weightSumTolerance = 1e-9

// Validate rejects malformed thresholds at configuration-load time.
func (t Threshold) Validate() error {
	if t.MinTotalSources <= 0 {
		return fmt.Errorf("min_total_sources must be > 0")
	}
	if t.MinEvidenceTypes <= 0 {
		return fmt.Errorf("min_evidence_types must be > 0")
	}
	if t.MinFirstPartyRatio < 0 || t.MinFirstPartyRatio > 1 {
		return fmt.Errorf("min_first_party_ratio must be in [0,1]")
	}
	if t.MaxMedianAgeDays <= 0 {
		return fmt.Errorf("max_median_age_days must be > 0")
	}
	return nil
}

// Validate rejects weights that are negative or do not sum to 1.0.
func (w Weights) Validate() error {
	if w.Coverage < 0 || w.Recency < 0 || w.FirstParty < 0 {
		return fmt.Errorf("weights must be >= 0")
	}
	sum := w.Coverage + w.Recency + w.FirstParty
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// Validate rejects unordered bucket boundaries.
func (b Buckets) Validate() error {
	if b.High <= b.Medium || b.Medium <= 0 {
		return fmt.Errorf("buckets must satisfy high > medium > 0")
	}
	return nil
}

// Label maps a 0-10 score onto the configured bucket name.
func (b Buckets) Label(score10 float64) string {
	switch {
	case score10 >= b.High:
		return "High"
	case score10 >= b.Medium:
		return "Medium"
	default:
		return "Low"
	}
}
