package models

import "time"

// ThreadIndexEntry is a minimal pointer answering "is this thread cached and
// how fresh" without loading the summary or the full thread.
type ThreadIndexEntry struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheMetadata is the singleton bookkeeping record for the mail cache.
type CacheMetadata struct {
	LastRefresh time.Time `json:"last_refresh,omitempty"`
	SyncCursor  string    `json:"sync_cursor,omitempty"`
	Version     string    `json:"version,omitempty"`
}
