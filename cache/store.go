package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"jobtrail/models"
	"jobtrail/storage"
	"jobtrail/utils"
)

// SchemaVersion is stamped into cache metadata. Loading a snapshot written
// under a different version clears the cache instead of surfacing records
// with a stale shape.
const SchemaVersion = "1"

// Store holds the in-memory cache state and orchestrates load/save against a
// storage backend. The four maps are owned exclusively by the store and only
// mutated through its methods; reads hand out copies.
type Store struct {
	mu        sync.Mutex
	backend   storage.Backend
	retention Retention
	log       *utils.Logger

	loaded    bool
	index     map[string]models.ThreadIndexEntry
	summaries map[string]models.ThreadSummary
	threads   map[string]models.Thread
	meta      models.CacheMetadata
}

// MetadataPatch carries partial metadata updates. Nil fields are left
// untouched.
type MetadataPatch struct {
	LastRefresh *time.Time
	SyncCursor  *string
}

// Stats summarizes how much the cache currently holds.
type Stats struct {
	Summaries int
	Threads   int
}

// NewStore creates a store over the given backend. maxSummaries bounds the
// retained summary count; values <= 0 fall back to DefaultMaxSummaries. The
// persisted snapshot is loaded lazily on first access.
func NewStore(backend storage.Backend, maxSummaries int, log *utils.Logger) *Store {
	if maxSummaries <= 0 {
		maxSummaries = DefaultMaxSummaries
	}
	return &Store{
		backend:   backend,
		retention: Retention{Max: maxSummaries},
		log:       log,
	}
}

// BackendName reports which storage backend the store ended up with.
func (s *Store) BackendName() string {
	return s.backend.Name()
}

// GetSummaries returns all cached summaries, newest first.
func (s *Store) GetSummaries() []models.ThreadSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	out := make([]models.ThreadSummary, 0, len(s.summaries))
	for _, sum := range s.summaries {
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i], out[j])
	})
	return out
}

// GetThread returns the cached full thread, or nil if it is not cached.
func (s *Store) GetThread(id string) *models.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	t, ok := s.threads[id]
	if !ok {
		return nil
	}
	return &t
}

// HasThread reports whether the full thread detail is cached.
func (s *Store) HasThread(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	_, ok := s.threads[id]
	return ok
}

// ThreadIDs returns the IDs of all fully cached threads, sorted.
func (s *Store) ThreadIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	ids := make([]string, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetIndex returns a copy of the thread index.
func (s *Store) GetIndex() map[string]models.ThreadIndexEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	out := make(map[string]models.ThreadIndexEntry, len(s.index))
	for id, e := range s.index {
		out[id] = e
	}
	return out
}

// IndexEntry looks up a single index entry without loading the summary.
func (s *Store) IndexEntry(id string) (models.ThreadIndexEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	e, ok := s.index[id]
	return e, ok
}

// GetMetadata returns the current cache metadata.
func (s *Store) GetMetadata() models.CacheMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	return s.meta
}

// Stats reports current entry counts.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	return Stats{Summaries: len(s.summaries), Threads: len(s.threads)}
}

// SetSummaries upserts the given summaries and their index entries, applies
// retention, and persists the full snapshot.
func (s *Store) SetSummaries(list []models.ThreadSummary) {
	s.mu.Lock()
	s.ensureLoadedLocked()

	for _, sum := range list {
		if sum.ID == "" {
			continue
		}
		s.summaries[sum.ID] = sum
		s.index[sum.ID] = models.ThreadIndexEntry{ID: sum.ID, UpdatedAt: sum.UpdatedAt}
	}
	if kept, index, evicted := s.retention.Apply(s.summaries); evicted {
		s.summaries = kept
		s.index = index
	}

	records := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(records)
}

// SetThread upserts a single full thread and persists.
func (s *Store) SetThread(thread *models.Thread) {
	if thread == nil || thread.ID == "" {
		return
	}

	s.mu.Lock()
	s.ensureLoadedLocked()
	s.threads[thread.ID] = *thread
	records := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(records)
}

// UpdateMetadata merges the patch into the metadata record and persists.
func (s *Store) UpdateMetadata(patch MetadataPatch) {
	s.mu.Lock()
	s.ensureLoadedLocked()

	if patch.LastRefresh != nil {
		s.meta.LastRefresh = *patch.LastRefresh
	}
	if patch.SyncCursor != nil {
		s.meta.SyncCursor = *patch.SyncCursor
	}

	records := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(records)
}

// Clear empties the cache and persists the empty state.
func (s *Store) Clear() {
	s.mu.Lock()
	s.ensureLoadedLocked()

	s.resetLocked()
	s.meta.Version = SchemaVersion

	records := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(records)
}

// ensureLoadedLocked deserializes the persisted snapshot into the maps the
// first time any accessor runs. A load failure means a cold start, never an
// error for the caller. Callers must hold s.mu.
func (s *Store) ensureLoadedLocked() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.resetLocked()

	records, err := s.backend.Load()
	if err != nil {
		s.log.Warn("Failed to load mail cache, starting empty: %v", err)
		s.meta.Version = SchemaVersion
		return
	}

	if err := s.decodeAllLocked(records); err != nil {
		s.log.Warn("Discarding unreadable mail cache: %v", err)
		s.resetLocked()
	}

	if s.meta.Version != SchemaVersion {
		if s.meta.Version != "" {
			s.log.Info("Mail cache schema %q is outdated, clearing cached threads", s.meta.Version)
		}
		s.resetLocked()
		s.meta.Version = SchemaVersion
		// One-time write at startup so the stale snapshot cannot outlive
		// this session.
		s.persist(s.snapshotLocked())
	}
}

func (s *Store) resetLocked() {
	s.index = make(map[string]models.ThreadIndexEntry)
	s.summaries = make(map[string]models.ThreadSummary)
	s.threads = make(map[string]models.Thread)
	s.meta = models.CacheMetadata{}
}

func (s *Store) decodeAllLocked(records storage.Records) error {
	if err := decodeRecord(records, storage.RecordThreadIndex, &s.index); err != nil {
		return fmt.Errorf("thread index: %w", err)
	}
	if err := decodeRecord(records, storage.RecordSummaries, &s.summaries); err != nil {
		return fmt.Errorf("summaries: %w", err)
	}
	if err := decodeRecord(records, storage.RecordThreads, &s.threads); err != nil {
		return fmt.Errorf("threads: %w", err)
	}
	if err := decodeRecord(records, storage.RecordMeta, &s.meta); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}

	// JSON null decodes a map to nil; keep the maps writable.
	if s.index == nil {
		s.index = make(map[string]models.ThreadIndexEntry)
	}
	if s.summaries == nil {
		s.summaries = make(map[string]models.ThreadSummary)
	}
	if s.threads == nil {
		s.threads = make(map[string]models.Thread)
	}

	return nil
}

func decodeRecord(records storage.Records, name string, v interface{}) error {
	data, ok := records[name]
	if !ok || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// snapshotLocked serializes the whole cache into the four named records.
// Callers must hold s.mu.
func (s *Store) snapshotLocked() storage.Records {
	records := make(storage.Records, 4)
	s.encodeRecord(records, storage.RecordThreadIndex, s.index)
	s.encodeRecord(records, storage.RecordSummaries, s.summaries)
	s.encodeRecord(records, storage.RecordThreads, s.threads)
	s.encodeRecord(records, storage.RecordMeta, s.meta)
	return records
}

func (s *Store) encodeRecord(records storage.Records, name string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("Failed to encode cache record %q: %v", name, err)
		return
	}
	records[name] = data
}

// persist writes the snapshot through the backend. Failures are logged and
// swallowed; the in-memory cache stays authoritative for the session.
func (s *Store) persist(records storage.Records) {
	if err := s.backend.SaveAll(records); err != nil {
		s.log.Error("Failed to persist mail cache: %v", err)
	}
}
