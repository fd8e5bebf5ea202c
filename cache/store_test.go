package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"jobtrail/models"
	"jobtrail/storage"
	"jobtrail/utils"
)

func testLogger() *utils.Logger {
	return utils.NewLogger(utils.ERROR)
}

func newTestBackend(t *testing.T) storage.Backend {
	t.Helper()

	backend, err := storage.NewBoltBackend(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open test backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func mkSummary(id string, updatedAt time.Time) models.ThreadSummary {
	return models.ThreadSummary{
		ID:        id,
		Subject:   "Subject " + id,
		UpdatedAt: updatedAt,
	}
}

func TestStoreColdStart(t *testing.T) {
	store := NewStore(newTestBackend(t), 0, testLogger())

	if got := store.GetSummaries(); len(got) != 0 {
		t.Fatalf("expected no summaries on cold start, got %d", len(got))
	}
	if got := store.GetThread("missing"); got != nil {
		t.Fatalf("expected nil thread on cold start, got %+v", got)
	}
	if got := store.GetIndex(); len(got) != 0 {
		t.Fatalf("expected empty index on cold start, got %d entries", len(got))
	}
	if meta := store.GetMetadata(); meta.Version != SchemaVersion {
		t.Fatalf("expected schema version %q stamped on cold start, got %q", SchemaVersion, meta.Version)
	}
}

func TestStoreCapInvariant(t *testing.T) {
	store := NewStore(newTestBackend(t), 5, testLogger())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Several overlapping batches, each pushing past the cap.
	for batch := 0; batch < 4; batch++ {
		var list []models.ThreadSummary
		for i := 0; i < 4; i++ {
			id := fmt.Sprintf("t%d", batch*2+i)
			list = append(list, mkSummary(id, base.Add(time.Duration(batch*2+i)*time.Minute)))
		}
		store.SetSummaries(list)

		summaries := store.GetSummaries()
		index := store.GetIndex()
		if len(summaries) > 5 {
			t.Fatalf("batch %d: %d summaries retained, cap is 5", batch, len(summaries))
		}
		if len(index) != len(summaries) {
			t.Fatalf("batch %d: index has %d entries, summaries %d", batch, len(index), len(summaries))
		}
		for _, s := range summaries {
			if _, ok := index[s.ID]; !ok {
				t.Fatalf("batch %d: summary %s missing from index", batch, s.ID)
			}
		}
	}
}

func TestStoreEvictionDropsOldest(t *testing.T) {
	store := NewStore(newTestBackend(t), 300, testLogger())
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	list := make([]models.ThreadSummary, 0, 301)
	for i := 0; i < 301; i++ {
		list = append(list, mkSummary(fmt.Sprintf("t%03d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	store.SetSummaries(list)

	summaries := store.GetSummaries()
	if len(summaries) != 300 {
		t.Fatalf("expected 300 summaries after eviction, got %d", len(summaries))
	}

	index := store.GetIndex()
	if len(index) != 300 {
		t.Fatalf("expected 300 index entries after eviction, got %d", len(index))
	}

	// t000 has the oldest timestamp and must be the single evicted entry.
	if _, ok := index["t000"]; ok {
		t.Fatal("oldest entry t000 still present in index")
	}
	for _, s := range summaries {
		if s.ID == "t000" {
			t.Fatal("oldest entry t000 still present in summaries")
		}
	}
	for i := 1; i < 301; i++ {
		id := fmt.Sprintf("t%03d", i)
		if _, ok := index[id]; !ok {
			t.Fatalf("entry %s unexpectedly evicted", id)
		}
	}
}

func TestStoreThreadRoundTripAcrossRestart(t *testing.T) {
	backend := newTestBackend(t)
	store := NewStore(backend, 0, testLogger())

	thread := &models.Thread{
		ID:         "msg-1@example.com",
		Subject:    "Senior Go Engineer",
		Recipients: []string{"me@example.com", "recruiter@corp.example"},
		LeadIDs:    []string{"lead-7"},
		UpdatedAt:  time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC),
		Messages: []models.Message{
			{
				From:    "recruiter@corp.example",
				To:      []string{"me@example.com"},
				Date:    time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC),
				Subject: "Senior Go Engineer",
				Text:    "We'd like to schedule a call.",
				Attachments: []models.Attachment{
					{Filename: "jd.pdf", ContentType: "application/pdf", Size: 1024},
				},
			},
		},
	}
	store.SetThread(thread)

	got := store.GetThread(thread.ID)
	if got == nil {
		t.Fatal("thread not readable after SetThread")
	}
	if !reflect.DeepEqual(got, thread) {
		t.Fatalf("thread mismatch after SetThread:\ngot  %+v\nwant %+v", got, thread)
	}

	// Simulated restart: a fresh store over the same backend.
	restarted := NewStore(backend, 0, testLogger())
	got = restarted.GetThread(thread.ID)
	if got == nil {
		t.Fatal("thread not readable after restart")
	}
	if !reflect.DeepEqual(got, thread) {
		t.Fatalf("thread mismatch after restart:\ngot  %+v\nwant %+v", got, thread)
	}
}

func TestStoreSummariesSurviveRestart(t *testing.T) {
	backend := newTestBackend(t)
	store := NewStore(backend, 0, testLogger())
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	store.SetSummaries([]models.ThreadSummary{
		mkSummary("a", base.Add(time.Minute)),
		mkSummary("b", base),
	})

	restarted := NewStore(backend, 0, testLogger())
	summaries := restarted.GetSummaries()
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries after restart, got %d", len(summaries))
	}
	// Newest first.
	if summaries[0].ID != "a" || summaries[1].ID != "b" {
		t.Fatalf("unexpected order after restart: %s, %s", summaries[0].ID, summaries[1].ID)
	}
	if entry, ok := restarted.IndexEntry("a"); !ok || !entry.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("index entry for a wrong after restart: %+v ok=%v", entry, ok)
	}
}

func TestStoreVersionMismatchClears(t *testing.T) {
	backend := newTestBackend(t)

	// Persist a snapshot written under an older schema.
	oldSummaries, _ := json.Marshal(map[string]models.ThreadSummary{
		"stale": mkSummary("stale", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	oldMeta, _ := json.Marshal(models.CacheMetadata{Version: "0", SyncCursor: "cursor-9"})
	err := backend.SaveAll(storage.Records{
		storage.RecordSummaries: oldSummaries,
		storage.RecordMeta:      oldMeta,
	})
	if err != nil {
		t.Fatalf("failed to seed backend: %v", err)
	}

	store := NewStore(backend, 0, testLogger())
	if got := store.GetSummaries(); len(got) != 0 {
		t.Fatalf("stale summaries survived a schema change: %d entries", len(got))
	}
	meta := store.GetMetadata()
	if meta.Version != SchemaVersion {
		t.Fatalf("schema version not restamped: %q", meta.Version)
	}
	if meta.SyncCursor != "" {
		t.Fatalf("stale sync cursor survived a schema change: %q", meta.SyncCursor)
	}

	// The cleared state must be durable, not just in memory.
	restarted := NewStore(backend, 0, testLogger())
	if got := restarted.GetSummaries(); len(got) != 0 {
		t.Fatalf("stale summaries reappeared after restart: %d entries", len(got))
	}
}

func TestStoreCorruptSnapshotStartsEmpty(t *testing.T) {
	backend := newTestBackend(t)
	err := backend.SaveAll(storage.Records{
		storage.RecordSummaries: json.RawMessage(`{"broken":`),
	})
	if err != nil {
		t.Fatalf("failed to seed backend: %v", err)
	}

	store := NewStore(backend, 0, testLogger())
	if got := store.GetSummaries(); len(got) != 0 {
		t.Fatalf("expected empty cache after corrupt snapshot, got %d summaries", len(got))
	}
	if got := store.GetThread("broken"); got != nil {
		t.Fatalf("expected nil thread after corrupt snapshot, got %+v", got)
	}
}

func TestStoreUpdateMetadataMergesFields(t *testing.T) {
	store := NewStore(newTestBackend(t), 0, testLogger())

	refresh := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	store.UpdateMetadata(MetadataPatch{LastRefresh: &refresh})

	cursor := "history-42"
	store.UpdateMetadata(MetadataPatch{SyncCursor: &cursor})

	meta := store.GetMetadata()
	if !meta.LastRefresh.Equal(refresh) {
		t.Fatalf("LastRefresh lost by later patch: %v", meta.LastRefresh)
	}
	if meta.SyncCursor != cursor {
		t.Fatalf("SyncCursor not applied: %q", meta.SyncCursor)
	}
}

func TestStoreClearEmptiesEverything(t *testing.T) {
	backend := newTestBackend(t)
	store := NewStore(backend, 0, testLogger())
	now := time.Date(2025, 6, 4, 11, 0, 0, 0, time.UTC)

	store.SetSummaries([]models.ThreadSummary{mkSummary("a", now)})
	store.SetThread(&models.Thread{ID: "a", UpdatedAt: now})
	store.UpdateMetadata(MetadataPatch{LastRefresh: &now})

	store.Clear()

	if stats := store.Stats(); stats.Summaries != 0 || stats.Threads != 0 {
		t.Fatalf("cache not empty after clear: %+v", stats)
	}
	if meta := store.GetMetadata(); !meta.LastRefresh.IsZero() || meta.Version != SchemaVersion {
		t.Fatalf("metadata not reset after clear: %+v", meta)
	}

	restarted := NewStore(backend, 0, testLogger())
	if stats := restarted.Stats(); stats.Summaries != 0 || stats.Threads != 0 {
		t.Fatalf("clear not persisted: %+v", stats)
	}
}

// failingBackend loads fine but refuses every save.
type failingBackend struct {
	saves int
}

func (b *failingBackend) Load() (storage.Records, error) { return make(storage.Records), nil }
func (b *failingBackend) SaveAll(storage.Records) error {
	b.saves++
	return errors.New("disk full")
}
func (b *failingBackend) Name() string { return "failing" }
func (b *failingBackend) Close() error { return nil }

func TestStoreWriteFailureKeepsMemoryAuthoritative(t *testing.T) {
	backend := &failingBackend{}
	store := NewStore(backend, 0, testLogger())
	now := time.Date(2025, 6, 5, 12, 0, 0, 0, time.UTC)

	store.SetThread(&models.Thread{ID: "t1", Subject: "Offer", UpdatedAt: now})
	store.SetSummaries([]models.ThreadSummary{mkSummary("t1", now)})

	if got := store.GetThread("t1"); got == nil || got.Subject != "Offer" {
		t.Fatalf("in-memory thread lost after failed save: %+v", got)
	}
	if got := store.GetSummaries(); len(got) != 1 {
		t.Fatalf("in-memory summaries lost after failed save: %d", len(got))
	}
	if backend.saves == 0 {
		t.Fatal("expected save attempts against the backend")
	}
}

func TestStoreReadsReturnCopies(t *testing.T) {
	store := NewStore(newTestBackend(t), 0, testLogger())
	now := time.Date(2025, 6, 6, 13, 0, 0, 0, time.UTC)

	store.SetThread(&models.Thread{ID: "t1", Subject: "Original", UpdatedAt: now})

	first := store.GetThread("t1")
	first.Subject = "Mutated"

	second := store.GetThread("t1")
	if second.Subject != "Original" {
		t.Fatalf("caller mutation leaked into the cache: %q", second.Subject)
	}

	index := store.GetIndex()
	index["injected"] = models.ThreadIndexEntry{ID: "injected"}
	if _, ok := store.GetIndex()["injected"]; ok {
		t.Fatal("caller mutation of index copy leaked into the cache")
	}
}
