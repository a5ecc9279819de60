// Package memory provides an in-process snapshot store for tests and
// ephemeral deployments.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"resourcecache/pkg/domain"
)

var _ domain.SnapshotStore = (*Store)(nil)

// Store retains the most recent snapshot in memory. Snapshots round-trip
// through JSON so drivers agree on what survives persistence.
type Store struct {
	mu      sync.Mutex
	payload []byte
}

// NewStore constructs an empty in-memory snapshot store.
func NewStore() *Store {
	return &Store{}
}

// Load returns the last saved snapshot, reporting false when none was saved.
func (s *Store) Load(context.Context) (domain.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payload == nil {
		return domain.Snapshot{}, false, nil
	}
	var snapshot domain.Snapshot
	if err := json.Unmarshal(s.payload, &snapshot); err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, true, nil
}

// Save replaces the retained snapshot.
func (s *Store) Save(_ context.Context, snapshot domain.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	s.mu.Lock()
	s.payload = data
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
