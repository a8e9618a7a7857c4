// Package shortlist picks a diversity-maximizing, deterministic subset of
// classified sources under a size quota.
package shortlist

import (
	"sort"

	"github.com/evidentlabs/rivalscan/internal/evidence"
)

// Select allocates quota slots round-robin across distinct source types: no
// type receives a second slot before every available type has one. Within a
// type the best candidate wins. The output is deterministic for identical
// input; size never exceeds the quota.
//
// Tie-break, applied uniformly: higher confidence, then more recent
// retrieval, then longer normalized text, then lexicographically smaller URL.
func Select(candidates []evidence.ExtractedSource, quota int) []evidence.ExtractedSource {
	if quota <= 0 || len(candidates) == 0 {
		return nil
	}

	// Canonical-URL dedup first; the better candidate survives.
	byKey := make(map[string]evidence.ExtractedSource, len(candidates))
	var keys []string
	for _, c := range candidates {
		key := evidence.CanonicalKey(c.URL)
		existing, ok := byKey[key]
		if !ok {
			byKey[key] = c
			keys = append(keys, key)
			continue
		}
		if less(c, existing) {
			byKey[key] = c
		}
	}

	// Bucket by type, each bucket best-first.
	buckets := make(map[evidence.SourceType][]evidence.ExtractedSource)
	for _, key := range keys {
		c := byKey[key]
		buckets[c.Type] = append(buckets[c.Type], c)
	}
	var types []evidence.SourceType
	for t := range buckets {
		types = append(types, t)
		sort.SliceStable(buckets[t], func(i, j int) bool {
			return less(buckets[t][i], buckets[t][j])
		})
	}
	// Taxonomy declaration order keeps round-robin iteration stable across
	// runs regardless of map ordering.
	sort.Slice(types, func(i, j int) bool {
		return taxonomyRank(types[i]) < taxonomyRank(types[j])
	})

	out := make([]evidence.ExtractedSource, 0, quota)
	for round := 0; len(out) < quota; round++ {
		progressed := false
		for _, t := range types {
			if len(out) >= quota {
				break
			}
			bucket := buckets[t]
			if round >= len(bucket) {
				continue
			}
			out = append(out, bucket[round])
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}

// less orders a before b under the uniform tie-break rule.
func less(a, b evidence.ExtractedSource) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.RetrievedAt.Equal(b.RetrievedAt) {
		return a.RetrievedAt.After(b.RetrievedAt)
	}
	if len(a.Text) != len(b.Text) {
		return len(a.Text) > len(b.Text)
	}
	return a.URL < b.URL
}

func taxonomyRank(t evidence.SourceType) int {
	for i, member := range evidence.AllSourceTypes() {
		if member == t {
			return i
		}
	}
	return len(evidence.AllSourceTypes())
}
