package domain

import "context"

// SnapshotEntry captures one cache entry: the last server-confirmed state,
// the current locally edited state, the insertion sequence that anchors
// default result ordering, and whether a delete is staged.
type SnapshotEntry struct {
	Persisted *Resource `json:"persisted,omitempty"`
	Current   *Resource `json:"current,omitempty"`
	Seq       uint64    `json:"seq"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// Snapshot is a point-in-time clone of the full cache state, keyed by
// "type/id". Durable drivers persist it after every mutation and restore it
// on startup; archive exports serialize it unchanged.
type Snapshot struct {
	Entries map[string]SnapshotEntry `json:"entries"`
	Pending []PendingChange          `json:"pending,omitempty"`
	NextSeq uint64                   `json:"next_seq"`
}

// SnapshotStore is a minimal abstraction over durable snapshot backends.
// Load reports ok=false when no snapshot has ever been saved.
type SnapshotStore interface {
	Load(ctx context.Context) (snapshot Snapshot, ok bool, err error)
	Save(ctx context.Context, snapshot Snapshot) error
	Close() error
}
