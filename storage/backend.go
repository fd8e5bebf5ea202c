package storage

import (
	"encoding/json"

	"jobtrail/utils"
)

// Record names used by the cache snapshot. Every backend persists the same
// four records; their values are opaque JSON produced by the cache layer.
const (
	RecordThreadIndex = "threadIndex"
	RecordSummaries   = "summaries"
	RecordThreads     = "threads"
	RecordMeta        = "meta"
)

// Records maps record names to their serialized contents.
type Records map[string]json.RawMessage

// Backend persists cache snapshots. Implementations hold no policy: they move
// bytes in and out and report failures to the caller, which decides what to
// swallow.
type Backend interface {
	// Load returns all previously persisted records. A backend with no prior
	// state returns an empty set, not an error.
	Load() (Records, error)

	// SaveAll durably replaces the persisted snapshot with records.
	SaveAll(records Records) error

	// Name identifies the backend in logs and status reports.
	Name() string

	Close() error
}

// Open selects the storage backend for the process lifetime: the transactional
// bbolt store when it can be initialized, otherwise the flat JSON snapshot
// file. The fallback is permanent; the bolt path is not retried per call.
func Open(dir string, log *utils.Logger) Backend {
	b, err := NewBoltBackend(dir)
	if err != nil {
		log.Warn("Transactional cache store unavailable, using flat file: %v", err)
		return NewFileBackend(dir)
	}
	return b
}
