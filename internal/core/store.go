// Package core implements the normalized resource cache: entry storage with
// persisted and current states, staged local edits, live query resolution,
// and batched commit reconciliation.
package core

import (
	"sync"
	"time"

	"resourcecache/pkg/domain"
)

type entry struct {
	persisted *domain.Resource
	current   *domain.Resource
	// seq is assigned on first insert and anchors the stable default result
	// ordering for getMany queries.
	seq     uint64
	deleted bool
}

func (e *entry) clone() *entry {
	cp := &entry{seq: e.seq, deleted: e.deleted}
	if e.persisted != nil {
		res := e.persisted.Clone()
		cp.persisted = &res
	}
	if e.current != nil {
		res := e.current.Clone()
		cp.current = &res
	}
	return cp
}

// Store is the normalized resource cache. All mutations are serialized
// through one mutex, so readers always observe a consistent snapshot and
// live queries are recomputed before the mutation path releases ownership.
type Store struct {
	mu      sync.RWMutex
	entries map[domain.ResourceIdentifier]*entry
	pending *pendingTracker
	queries map[string]*LiveQuery
	nextSeq uint64
	nowFn   func() time.Time
}

// NewStore constructs an empty cache.
func NewStore() *Store {
	return &Store{
		entries: make(map[domain.ResourceIdentifier]*entry),
		pending: newPendingTracker(),
		queries: make(map[string]*LiveQuery),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// UpsertPersisted inserts or replaces the last server-confirmed state for the
// resource's identifier. When no local edit is staged the current state
// follows; a staged patch is re-applied on top of the fresh persisted state so
// current stays persisted-plus-edits; a staged create keeps its draft.
func (s *Store) UpsertPersisted(resource domain.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertPersistedLocked(resource)
	s.recomputeLocked(resource.Identifier.Type, resource.Identifier)
}

// UpsertPersistedBatch lands several fetched resources in one mutation,
// recomputing affected queries once per resource type.
func (s *Store) UpsertPersistedBatch(resources []domain.Resource) {
	if len(resources) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byType := make(map[string][]domain.ResourceIdentifier)
	for _, r := range resources {
		s.upsertPersistedLocked(r)
		byType[r.Identifier.Type] = append(byType[r.Identifier.Type], r.Identifier)
	}
	for t, touched := range byType {
		s.recomputeLocked(t, touched...)
	}
}

func (s *Store) upsertPersistedLocked(resource domain.Resource) {
	id := resource.Identifier
	persisted := resource.Clone()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{seq: s.nextSeq}
		s.nextSeq++
		s.entries[id] = e
	}
	e.persisted = &persisted
	switch rec := s.pending.get(id); {
	case rec == nil:
		current := persisted.Clone()
		e.current = &current
	case rec.Action == domain.ActionPatch:
		current := persisted.Merge(rec.Attributes, rec.Relationships)
		e.current = &current
	case rec.Action == domain.ActionCreate:
		// The draft wins until committed.
	case rec.Action == domain.ActionDelete:
		// Entry stays hidden; persisted refresh is still recorded.
	}
}

// Get returns the current state for the identifier, or absent when the
// identifier is unknown or a delete is staged.
func (s *Store) Get(id domain.ResourceIdentifier) (domain.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok || e.deleted || e.current == nil {
		return domain.Resource{}, false
	}
	return e.current.Clone(), true
}

// GetPersisted returns the last server-confirmed state for the identifier,
// or absent when the resource was never fetched or committed.
func (s *Store) GetPersisted(id domain.ResourceIdentifier) (domain.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok || e.persisted == nil {
		return domain.Resource{}, false
	}
	return e.persisted.Clone(), true
}

// StageCreate stages a locally created resource. The draft becomes the
// current state; no persisted state exists until a commit succeeds.
func (s *Store) StageCreate(resource domain.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := resource.Identifier
	draft := resource.Clone()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{seq: s.nextSeq}
		s.nextSeq++
		s.entries[id] = e
	}
	e.current = &draft
	e.deleted = false
	s.pending.stageCreate(draft, s.nowFn())
	s.recomputeLocked(id.Type, id)
}

// StagePatch stages a partial local edit. The partial merges into the current
// state and into any staged create or patch for the same identifier. A patch
// after a staged delete supersedes the delete and the resource becomes
// visible again; the merge base is the persisted state, since the delete
// already discarded earlier local edits.
func (s *Store) StagePatch(id domain.ResourceIdentifier, attributes map[string]any, relationships map[string]domain.Relationship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{seq: s.nextSeq}
		s.nextSeq++
		s.entries[id] = e
	}
	base := e.current
	if rec := s.pending.get(id); rec != nil && rec.Action == domain.ActionDelete {
		base = e.persisted
		e.deleted = false
	}
	if base != nil {
		current := base.Merge(attributes, relationships)
		e.current = &current
	} else {
		res := domain.NewResource(id.Type, id.ID).Merge(attributes, relationships)
		e.current = &res
	}
	s.pending.stagePatch(id, attributes, relationships, s.nowFn())
	s.recomputeLocked(id.Type, id)
}

// StageDelete stages a local delete. Deleting a not-yet-persisted create
// removes the resource entirely; the server never learns it existed.
func (s *Store) StageDelete(id domain.ResourceIdentifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	if s.pending.stageDelete(id, e.persisted == nil, s.nowFn()) {
		delete(s.entries, id)
	} else {
		e.deleted = true
	}
	s.recomputeLocked(id.Type, id)
}

// PendingChanges returns a snapshot of all staged edits ordered by original
// staging time.
func (s *Store) PendingChanges() []domain.PendingChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending.all()
}

// HasPending reports whether any local edit is staged.
func (s *Store) HasPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending.len() > 0
}

// promoteOutcome reconciles one successful remote operation. The pending
// record is cleared only when its revision still matches the one the commit
// snapshotted; a record re-staged while the commit was in flight stays
// pending and keeps the current state it produced.
func (s *Store) promoteOutcome(outcome domain.OperationOutcome, stagedRev uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := outcome.Identifier
	e, ok := s.entries[id]
	if !ok {
		return
	}
	rec := s.pending.get(id)
	settled := rec == nil || rec.Rev == stagedRev

	if outcome.Action == domain.ActionDelete {
		if settled {
			s.pending.clear(id)
			delete(s.entries, id)
		}
		s.recomputeLocked(id.Type, id)
		return
	}

	server := outcome.Resource
	if server == nil {
		// Remote acknowledged without a body; the staged state is final.
		if e.current != nil {
			res := e.current.Clone()
			server = &res
		}
	}
	if server != nil {
		persisted := server.Clone()
		e.persisted = &persisted
	}
	if settled {
		s.pending.clear(id)
		if e.persisted != nil {
			current := e.persisted.Clone()
			e.current = &current
		}
		e.deleted = false
	} else if rec != nil && rec.Action == domain.ActionPatch && e.persisted != nil {
		current := e.persisted.Merge(rec.Attributes, rec.Relationships)
		e.current = &current
	}
	s.recomputeLocked(id.Type, id)
}

// ExportState clones the full cache state for durable drivers and archives.
func (s *Store) ExportState() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := domain.Snapshot{
		Entries: make(map[string]domain.SnapshotEntry, len(s.entries)),
		Pending: s.pending.all(),
		NextSeq: s.nextSeq,
	}
	for id, e := range s.entries {
		se := domain.SnapshotEntry{Seq: e.seq, Deleted: e.deleted}
		if e.persisted != nil {
			res := e.persisted.Clone()
			se.Persisted = &res
		}
		if e.current != nil {
			res := e.current.Clone()
			se.Current = &res
		}
		snap.Entries[id.String()] = se
	}
	return snap
}

// ImportState replaces the cache state with the provided snapshot and
// recomputes every live query.
func (s *Store) ImportState(snapshot domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[domain.ResourceIdentifier]*entry, len(snapshot.Entries))
	maxSeq := uint64(0)
	for _, se := range snapshot.Entries {
		e := &entry{seq: se.Seq, deleted: se.Deleted}
		var id domain.ResourceIdentifier
		if se.Current != nil {
			res := se.Current.Clone()
			e.current = &res
			id = res.Identifier
		}
		if se.Persisted != nil {
			res := se.Persisted.Clone()
			e.persisted = &res
			id = res.Identifier
		}
		if id.IsZero() {
			continue
		}
		if se.Seq >= maxSeq {
			maxSeq = se.Seq + 1
		}
		s.entries[id] = e
	}
	s.nextSeq = maxSeq
	if snapshot.NextSeq > s.nextSeq {
		s.nextSeq = snapshot.NextSeq
	}
	s.pending = trackerFromSnapshot(snapshot.Pending)
	for _, q := range s.queries {
		s.recomputeQueryLocked(q, nil, true)
	}
}
