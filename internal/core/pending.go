package core

import (
	"sort"
	"time"

	"resourcecache/pkg/domain"
)

// pendingTracker maintains the identifier → staged-change mapping. Callers
// hold the store mutex; the tracker itself is not safe for concurrent use.
type pendingTracker struct {
	records map[domain.ResourceIdentifier]*domain.PendingChange
	nextSeq uint64
}

func newPendingTracker() *pendingTracker {
	return &pendingTracker{records: make(map[domain.ResourceIdentifier]*domain.PendingChange)}
}

func trackerFromSnapshot(pending []domain.PendingChange) *pendingTracker {
	t := newPendingTracker()
	for _, rec := range pending {
		cp := rec.Clone()
		t.records[rec.Identifier] = &cp
		if rec.Seq >= t.nextSeq {
			t.nextSeq = rec.Seq + 1
		}
		if rec.Rev >= t.nextSeq {
			t.nextSeq = rec.Rev + 1
		}
	}
	return t
}

func (t *pendingTracker) get(id domain.ResourceIdentifier) *domain.PendingChange {
	return t.records[id]
}

func (t *pendingTracker) len() int { return len(t.records) }

// all returns staged changes ordered by original staging sequence.
func (t *pendingTracker) all() []domain.PendingChange {
	out := make([]domain.PendingChange, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (t *pendingTracker) stageCreate(resource domain.Resource, now time.Time) {
	res := resource.Clone()
	rec := &domain.PendingChange{
		Action:     domain.ActionCreate,
		Identifier: resource.Identifier,
		Resource:   &res,
		Seq:        t.nextSeq,
		Rev:        t.nextSeq,
		StagedAt:   now,
	}
	t.nextSeq++
	t.records[resource.Identifier] = rec
}

// stagePatch merges the partial into an existing create or patch rather than
// recording a second change; the merged record keeps its original sequence so
// batch ordering preserves causal intent.
func (t *pendingTracker) stagePatch(id domain.ResourceIdentifier, attributes map[string]any, relationships map[string]domain.Relationship, now time.Time) {
	existing, ok := t.records[id]
	if !ok || existing.Action == domain.ActionDelete {
		rec := (domain.PendingChange{
			Action:        domain.ActionPatch,
			Identifier:    id,
			Attributes:    attributes,
			Relationships: relationships,
			Seq:           t.nextSeq,
			Rev:           t.nextSeq,
			StagedAt:      now,
		}).Clone()
		t.nextSeq++
		t.records[id] = &rec
		return
	}
	switch existing.Action {
	case domain.ActionCreate:
		merged := existing.Resource.Merge(attributes, relationships)
		existing.Resource = &merged
		existing.Rev = t.nextSeq
		t.nextSeq++
	case domain.ActionPatch:
		merged := existing.Clone()
		if merged.Attributes == nil && len(attributes) > 0 {
			merged.Attributes = make(map[string]any, len(attributes))
		}
		for k, v := range attributes {
			merged.Attributes[k] = v
		}
		if merged.Relationships == nil && len(relationships) > 0 {
			merged.Relationships = make(map[string]domain.Relationship, len(relationships))
		}
		for k, v := range relationships {
			merged.Relationships[k] = v
		}
		merged.Rev = t.nextSeq
		t.nextSeq++
		*existing = merged.Clone()
	}
}

// stageDelete supersedes any staged create or patch. It reports true when
// the identifier belonged to a not-yet-persisted create, in which case the
// record vanishes and no delete request is ever sent.
func (t *pendingTracker) stageDelete(id domain.ResourceIdentifier, neverPersisted bool, now time.Time) (removedEntirely bool) {
	existing, ok := t.records[id]
	if ok && existing.Action == domain.ActionCreate && neverPersisted {
		delete(t.records, id)
		return true
	}
	rec := &domain.PendingChange{
		Action:     domain.ActionDelete,
		Identifier: id,
		Seq:        t.nextSeq,
		Rev:        t.nextSeq,
		StagedAt:   now,
	}
	t.nextSeq++
	t.records[id] = rec
	return false
}

// clear removes the record for id. Only the commit path calls this.
func (t *pendingTracker) clear(id domain.ResourceIdentifier) {
	delete(t.records, id)
}
