package cache

import (
	"fmt"
	"testing"
	"time"

	"jobtrail/models"
)

func summariesByID(list []models.ThreadSummary) map[string]models.ThreadSummary {
	m := make(map[string]models.ThreadSummary, len(list))
	for _, s := range list {
		m[s.ID] = s
	}
	return m
}

func TestRetentionUnderCapIsNoop(t *testing.T) {
	r := Retention{Max: 3}
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	current := summariesByID([]models.ThreadSummary{
		mkSummary("a", base),
		mkSummary("b", base.Add(time.Hour)),
	})

	kept, index, evicted := r.Apply(current)
	if evicted {
		t.Fatal("eviction reported below the cap")
	}
	if kept != nil || index != nil {
		t.Fatal("no replacement maps expected below the cap")
	}
}

func TestRetentionKeepsNewest(t *testing.T) {
	r := Retention{Max: 3}
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	current := make(map[string]models.ThreadSummary)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("t%d", i)
		current[id] = mkSummary(id, base.Add(time.Duration(i)*time.Hour))
	}

	kept, index, evicted := r.Apply(current)
	if !evicted {
		t.Fatal("expected eviction above the cap")
	}
	if len(kept) != 3 || len(index) != 3 {
		t.Fatalf("kept %d summaries and %d index entries, want 3 and 3", len(kept), len(index))
	}

	for _, id := range []string{"t2", "t3", "t4"} {
		if _, ok := kept[id]; !ok {
			t.Fatalf("newest entry %s was evicted", id)
		}
		entry, ok := index[id]
		if !ok {
			t.Fatalf("index entry for %s missing", id)
		}
		if !entry.UpdatedAt.Equal(kept[id].UpdatedAt) {
			t.Fatalf("index timestamp for %s diverges from summary", id)
		}
	}
	for _, id := range []string{"t0", "t1"} {
		if _, ok := kept[id]; ok {
			t.Fatalf("oldest entry %s survived eviction", id)
		}
	}
}

func TestRetentionTieBreaksByID(t *testing.T) {
	r := Retention{Max: 2}
	when := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	current := summariesByID([]models.ThreadSummary{
		mkSummary("c", when),
		mkSummary("a", when),
		mkSummary("b", when),
	})

	// Equal timestamps: the lexicographically smallest IDs are retained, so
	// repeated runs evict the same entry.
	for run := 0; run < 10; run++ {
		kept, _, evicted := r.Apply(current)
		if !evicted {
			t.Fatal("expected eviction above the cap")
		}
		if _, ok := kept["a"]; !ok {
			t.Fatalf("run %d: entry a evicted", run)
		}
		if _, ok := kept["b"]; !ok {
			t.Fatalf("run %d: entry b evicted", run)
		}
		if _, ok := kept["c"]; ok {
			t.Fatalf("run %d: entry c retained", run)
		}
	}
}

func TestRetentionZeroCapDisablesEviction(t *testing.T) {
	r := Retention{Max: 0}
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	current := summariesByID([]models.ThreadSummary{
		mkSummary("a", base),
		mkSummary("b", base.Add(time.Hour)),
	})

	if _, _, evicted := r.Apply(current); evicted {
		t.Fatal("cap of zero must not evict")
	}
}
