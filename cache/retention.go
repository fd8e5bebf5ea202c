package cache

import (
	"sort"

	"jobtrail/models"
)

// DefaultMaxSummaries caps how many thread summaries the cache retains.
const DefaultMaxSummaries = 300

// newerFirst orders summaries by descending UpdatedAt. Equal timestamps fall
// back to ascending ID so eviction stays deterministic.
func newerFirst(a, b models.ThreadSummary) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

// Retention bounds the number of cached thread summaries.
type Retention struct {
	Max int
}

// Apply reports whether the summaries exceed the cap. When they do, it
// returns the newest Max summaries together with an index rebuilt from that
// same kept set, so index and summaries cannot diverge.
func (r Retention) Apply(summaries map[string]models.ThreadSummary) (map[string]models.ThreadSummary, map[string]models.ThreadIndexEntry, bool) {
	if r.Max <= 0 || len(summaries) <= r.Max {
		return nil, nil, false
	}

	sorted := make([]models.ThreadSummary, 0, len(summaries))
	for _, s := range summaries {
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return newerFirst(sorted[i], sorted[j])
	})

	kept := make(map[string]models.ThreadSummary, r.Max)
	index := make(map[string]models.ThreadIndexEntry, r.Max)
	for _, s := range sorted[:r.Max] {
		kept[s.ID] = s
		index[s.ID] = models.ThreadIndexEntry{ID: s.ID, UpdatedAt: s.UpdatedAt}
	}

	return kept, index, true
}
