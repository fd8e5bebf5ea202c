package cache

import (
	"time"

	"jobtrail/models"
	"jobtrail/utils"
)

// Facade is the single cache surface the rest of the application talks to.
// Reads are cache-first and never fail for "not found"; writes update the
// in-memory state and persist best-effort. Construct one per process and
// inject it wherever mail data is read or written.
type Facade struct {
	store    *Store
	prefetch *Prefetcher
	log      *utils.Logger

	// OnThreadCached, OnSummariesRefreshed, and OnCacheCleared are optional
	// hooks invoked after the corresponding write commits. Set them before
	// the facade is shared between goroutines.
	OnThreadCached       func(id string)
	OnSummariesRefreshed func(count int)
	OnCacheCleared       func()
}

// Status describes the cache for monitoring endpoints.
type Status struct {
	Backend         string    `json:"backend"`
	SchemaVersion   string    `json:"schema_version"`
	Summaries       int       `json:"summaries"`
	Threads         int       `json:"threads"`
	PrefetchPending int       `json:"prefetch_pending"`
	Prefetching     bool      `json:"prefetching"`
	LastRefresh     time.Time `json:"last_refresh"`
}

// New creates the cache facade. fetcher may be nil, in which case prefetching
// is disabled and QueuePrefetch becomes a no-op.
func New(store *Store, fetcher Fetcher, log *utils.Logger) *Facade {
	f := &Facade{store: store, log: log}
	if fetcher != nil {
		f.prefetch = NewPrefetcher(f, fetcher, log)
	}
	return f
}

// GetSummaries returns all cached thread summaries, newest first.
func (f *Facade) GetSummaries() []models.ThreadSummary {
	return f.store.GetSummaries()
}

// GetThread returns the cached full thread, or nil when it is not cached.
func (f *Facade) GetThread(id string) *models.Thread {
	return f.store.GetThread(id)
}

// GetThreadIndex returns a copy of the (id, updatedAt) index.
func (f *Facade) GetThreadIndex() map[string]models.ThreadIndexEntry {
	return f.store.GetIndex()
}

// GetMeta returns the cache metadata record.
func (f *Facade) GetMeta() models.CacheMetadata {
	return f.store.GetMetadata()
}

// SetSummaries replaces or inserts the given summaries. This is the only
// write path that can trigger eviction.
func (f *Facade) SetSummaries(list []models.ThreadSummary) {
	f.store.SetSummaries(list)
	if f.OnSummariesRefreshed != nil {
		f.OnSummariesRefreshed(len(list))
	}
}

// SetThread caches a full thread.
func (f *Facade) SetThread(thread *models.Thread) {
	if thread == nil || thread.ID == "" {
		return
	}
	f.store.SetThread(thread)
	if f.OnThreadCached != nil {
		f.OnThreadCached(thread.ID)
	}
}

// UpdateMeta merges the patch into the metadata record.
func (f *Facade) UpdateMeta(patch MetadataPatch) {
	f.store.UpdateMetadata(patch)
}

// IsThreadCached reports whether the full thread detail is cached. A summary
// alone does not count; prefetching exists to close exactly that gap.
func (f *Facade) IsThreadCached(id string) bool {
	return f.store.HasThread(id)
}

// GetCachedThreadIDs returns the IDs of all fully cached threads, sorted.
func (f *Facade) GetCachedThreadIDs() []string {
	return f.store.ThreadIDs()
}

// GetThreadLastUpdated returns the indexed freshness timestamp for a thread,
// or the zero time when the thread is not indexed.
func (f *Facade) GetThreadLastUpdated(id string) time.Time {
	e, ok := f.store.IndexEntry(id)
	if !ok {
		return time.Time{}
	}
	return e.UpdatedAt
}

// HasAttachments reports whether any cached message of the thread carries an
// attachment. It returns false, not an error, when the thread is not cached.
func (f *Facade) HasAttachments(id string) bool {
	t := f.store.GetThread(id)
	if t == nil {
		return false
	}
	return t.HasAttachments()
}

// QueuePrefetch schedules background hydration for the given thread IDs.
// Already-cached and already-queued IDs are skipped.
func (f *Facade) QueuePrefetch(ids ...string) {
	if f.prefetch == nil {
		return
	}
	f.prefetch.Enqueue(ids...)
}

// ClearCache drops all cached state and persists the empty cache.
func (f *Facade) ClearCache() {
	f.store.Clear()
	f.log.Info("Mail cache cleared")
	if f.OnCacheCleared != nil {
		f.OnCacheCleared()
	}
}

// Status reports backend selection, entry counts, and prefetch activity.
func (f *Facade) Status() Status {
	stats := f.store.Stats()
	meta := f.store.GetMetadata()

	st := Status{
		Backend:       f.store.BackendName(),
		SchemaVersion: meta.Version,
		Summaries:     stats.Summaries,
		Threads:       stats.Threads,
		LastRefresh:   meta.LastRefresh,
	}
	if f.prefetch != nil {
		st.PrefetchPending = f.prefetch.Pending()
		st.Prefetching = f.prefetch.Draining()
	}
	return st
}
