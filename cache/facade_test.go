package cache

import (
	"testing"
	"time"

	"jobtrail/models"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	return New(NewStore(newTestBackend(t), 0, testLogger()), nil, testLogger())
}

func TestFacadeReadsNeverFailWhenEmpty(t *testing.T) {
	facade := newTestFacade(t)

	if got := facade.GetSummaries(); len(got) != 0 {
		t.Fatalf("expected no summaries, got %d", len(got))
	}
	if got := facade.GetThread("nope"); got != nil {
		t.Fatalf("expected nil for unknown thread, got %+v", got)
	}
	if facade.IsThreadCached("nope") {
		t.Fatal("unknown thread reported as cached")
	}
	if facade.HasAttachments("nope") {
		t.Fatal("unknown thread reported attachments")
	}
	if got := facade.GetThreadLastUpdated("nope"); !got.IsZero() {
		t.Fatalf("expected zero time for unknown thread, got %v", got)
	}
	if got := facade.GetCachedThreadIDs(); len(got) != 0 {
		t.Fatalf("expected no cached ids, got %v", got)
	}

	// No fetcher configured: queueing must be a harmless no-op.
	facade.QueuePrefetch("nope")
}

func TestFacadeDerivedQueries(t *testing.T) {
	facade := newTestFacade(t)
	when := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	facade.SetThread(&models.Thread{
		ID:        "with-attachment",
		Subject:   "Resume follow-up",
		UpdatedAt: when,
		Messages: []models.Message{
			{From: "me@example.com", Date: when},
			{
				From: "hr@corp.example",
				Date: when.Add(time.Hour),
				Attachments: []models.Attachment{
					{Filename: "offer.pdf", ContentType: "application/pdf", Size: 2048},
				},
			},
		},
	})
	facade.SetThread(&models.Thread{ID: "plain", UpdatedAt: when})

	if !facade.IsThreadCached("with-attachment") || !facade.IsThreadCached("plain") {
		t.Fatal("cached threads not reported as cached")
	}
	if !facade.HasAttachments("with-attachment") {
		t.Fatal("attachment not detected")
	}
	if facade.HasAttachments("plain") {
		t.Fatal("attachment reported for a thread without any")
	}

	ids := facade.GetCachedThreadIDs()
	if len(ids) != 2 || ids[0] != "plain" || ids[1] != "with-attachment" {
		t.Fatalf("unexpected cached ids: %v", ids)
	}

	facade.SetSummaries([]models.ThreadSummary{
		{ID: "with-attachment", Subject: "Resume follow-up", UpdatedAt: when.Add(time.Hour)},
	})
	if got := facade.GetThreadLastUpdated("with-attachment"); !got.Equal(when.Add(time.Hour)) {
		t.Fatalf("indexed freshness wrong: %v", got)
	}

	index := facade.GetThreadIndex()
	if len(index) != 1 {
		t.Fatalf("expected 1 index entry, got %d", len(index))
	}
}

func TestFacadeHooksFire(t *testing.T) {
	facade := newTestFacade(t)
	when := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)

	var cachedIDs []string
	var refreshedCounts []int
	cleared := 0

	facade.OnThreadCached = func(id string) { cachedIDs = append(cachedIDs, id) }
	facade.OnSummariesRefreshed = func(count int) { refreshedCounts = append(refreshedCounts, count) }
	facade.OnCacheCleared = func() { cleared++ }

	facade.SetThread(&models.Thread{ID: "t1", UpdatedAt: when})
	facade.SetSummaries([]models.ThreadSummary{mkSummary("t1", when), mkSummary("t2", when)})
	facade.ClearCache()

	if len(cachedIDs) != 1 || cachedIDs[0] != "t1" {
		t.Fatalf("thread hook calls: %v", cachedIDs)
	}
	if len(refreshedCounts) != 1 || refreshedCounts[0] != 2 {
		t.Fatalf("summary hook calls: %v", refreshedCounts)
	}
	if cleared != 1 {
		t.Fatalf("clear hook fired %d times", cleared)
	}

	// Nil threads never reach the store or the hook.
	facade.SetThread(nil)
	if len(cachedIDs) != 1 {
		t.Fatal("nil thread fired the cache hook")
	}
}

func TestFacadeUpdateMetaRoundTrip(t *testing.T) {
	facade := newTestFacade(t)

	refresh := time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC)
	cursor := "hist-100"
	facade.UpdateMeta(MetadataPatch{LastRefresh: &refresh, SyncCursor: &cursor})

	meta := facade.GetMeta()
	if !meta.LastRefresh.Equal(refresh) || meta.SyncCursor != cursor {
		t.Fatalf("metadata not applied: %+v", meta)
	}
}

func TestFacadeStatus(t *testing.T) {
	facade := newTestFacade(t)
	when := time.Date(2025, 6, 13, 8, 0, 0, 0, time.UTC)

	facade.SetSummaries([]models.ThreadSummary{mkSummary("a", when)})
	facade.SetThread(&models.Thread{ID: "a", UpdatedAt: when})

	status := facade.Status()
	if status.Backend != "bolt" {
		t.Fatalf("unexpected backend name: %q", status.Backend)
	}
	if status.Summaries != 1 || status.Threads != 1 {
		t.Fatalf("unexpected counts: %+v", status)
	}
	if status.SchemaVersion != SchemaVersion {
		t.Fatalf("unexpected schema version: %q", status.SchemaVersion)
	}
	if status.Prefetching || status.PrefetchPending != 0 {
		t.Fatalf("prefetch state reported without a fetcher: %+v", status)
	}
}
