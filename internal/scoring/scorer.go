package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/evidentlabs/rivalscan/internal/evidence"
)

// Options tune one Score call. Zero values fall back to the defaults, so an
// empty Options is always usable.
type Options struct {
	// Threshold overrides the sufficiency gate when non-nil.
	Threshold *Threshold
	// Weights override the sub-score multipliers when non-nil.
	Weights *Weights
	// Buckets override the label boundaries when non-nil.
	Buckets *Buckets
	// FirstPartyDomains supplements the bundle's primary domain for the
	// first-party test.
	FirstPartyDomains []string
	// AsOf anchors age computation. It falls back to the bundle's CreatedAt
	// so identical inputs always produce bit-identical outputs; Score never
	// reads the wall clock.
	AsOf time.Time
}

// Reasons carries the sub-scores and inputs behind a Result.
type Reasons struct {
	TotalSources    int      `json:"total_sources"`
	DistinctTypes   int      `json:"distinct_types"`
	TypesConsidered int      `json:"types_considered"`
	CoverageScore   float64  `json:"coverage_score"`
	RecencyScore    float64  `json:"recency_score"`
	MedianAgeDays   *float64 `json:"median_age_days,omitempty"`
	FirstPartyCount int      `json:"first_party_count"`
	ThirdPartyCount int      `json:"third_party_count"`
	FirstPartyScore float64  `json:"first_party_score"`
}

// Result is the outcome of one Score call. Score10 is present only when the
// sufficiency gate passed, and always lies in [0,10]. Insufficient evidence
// is a normal outcome, never an error.
type Result struct {
	IsSufficient bool     `json:"is_sufficient"`
	Score10      *float64 `json:"score10,omitempty"`
	ScoreLabel   string   `json:"score_label"`
	FailedChecks []string `json:"failed_checks,omitempty"`
	Reasons      Reasons  `json:"reasons"`
}

// neutralRecency is used when no item carries a usable date: unknown age is
// not penalized.
const neutralRecency = 0.5

// Score computes the sufficiency gate and, if passed, the weighted 0-10
// confidence score for the bundle. It is a pure function of its arguments.
func Score(bundle evidence.Bundle, opts Options) Result {
	threshold := DefaultThreshold()
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	weights := DefaultWeights()
	if opts.Weights != nil {
		weights = *opts.Weights
	}
	buckets := DefaultBuckets()
	if opts.Buckets != nil {
		buckets = *opts.Buckets
	}
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = bundle.CreatedAt
	}

	normalized := bundle.Normalize()
	items := normalized.Items

	reasons := Reasons{
		TotalSources:    len(items),
		DistinctTypes:   countDistinctTypes(items),
		TypesConsidered: len(evidence.AllSourceTypes()),
	}

	// Both gate conditions are checked independently: high volume alone can
	// never satisfy the diversity requirement.
	var failed []string
	if reasons.TotalSources < threshold.MinTotalSources {
		failed = append(failed, fmt.Sprintf(
			"total sources %d below minimum %d", reasons.TotalSources, threshold.MinTotalSources))
	}
	if reasons.DistinctTypes < threshold.MinEvidenceTypes {
		failed = append(failed, fmt.Sprintf(
			"distinct evidence types %d below minimum %d", reasons.DistinctTypes, threshold.MinEvidenceTypes))
	}
	if len(failed) > 0 {
		return Result{
			IsSufficient: false,
			ScoreLabel:   "Insufficient",
			FailedChecks: failed,
			Reasons:      reasons,
		}
	}

	reasons.CoverageScore = math.Min(
		float64(reasons.DistinctTypes)/float64(reasons.TypesConsidered), 1)
	reasons.RecencyScore, reasons.MedianAgeDays = recencyScore(items, asOf, threshold.MaxMedianAgeDays)
	reasons.FirstPartyCount, reasons.ThirdPartyCount = countFirstParty(
		items, normalized.PrimaryURL, opts.FirstPartyDomains)
	if total := reasons.FirstPartyCount + reasons.ThirdPartyCount; total > 0 {
		reasons.FirstPartyScore = float64(reasons.FirstPartyCount) / float64(total)
	}

	score := weights.Coverage*reasons.CoverageScore +
		weights.Recency*reasons.RecencyScore +
		weights.FirstParty*reasons.FirstPartyScore
	score10 := math.Round(score*100) / 10
	score10 = math.Min(math.Max(score10, 0), 10)

	return Result{
		IsSufficient: true,
		Score10:      &score10,
		ScoreLabel:   buckets.Label(score10),
		Reasons:      reasons,
	}
}

func countDistinctTypes(items []evidence.EvidenceItem) int {
	seen := make(map[evidence.SourceType]struct{}, len(items))
	for _, item := range items {
		seen[item.Type] = struct{}{}
	}
	return len(seen)
}

// recencyScore scales the median item age so zero age maps to 1 and
// maxMedianAgeDays or older maps to 0. Items without a publish or retrieval
// date are excluded; when none remain the neutral default applies.
func recencyScore(items []evidence.EvidenceItem, asOf time.Time, maxMedianAgeDays int) (float64, *float64) {
	var ages []float64
	for _, item := range items {
		ts := item.PublishedAt
		if ts == nil {
			ts = item.RetrievedAt
		}
		if ts == nil || ts.IsZero() {
			continue
		}
		age := asOf.Sub(*ts).Hours() / 24
		if age < 0 {
			age = 0
		}
		ages = append(ages, age)
	}
	if len(ages) == 0 {
		return neutralRecency, nil
	}
	sort.Float64s(ages)
	median := ages[len(ages)/2]
	if len(ages)%2 == 0 {
		median = (ages[len(ages)/2-1] + ages[len(ages)/2]) / 2
	}
	score := 1 - math.Min(median/float64(maxMedianAgeDays), 1)
	return score, &median
}

func countFirstParty(items []evidence.EvidenceItem, primaryURL string, firstPartyDomains []string) (int, int) {
	var first, third int
	for _, item := range items {
		domain := item.Domain
		if domain == "" {
			domain = item.URL
		}
		if evidence.IsFirstParty(domain, primaryURL, firstPartyDomains) {
			first++
		} else {
			third++
		}
	}
	return first, third
}
