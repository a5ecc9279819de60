package core

import (
	"fmt"

	exprvm "github.com/expr-lang/expr/vm"
	"github.com/oklog/ulid/v2"

	"resourcecache/pkg/domain"
)

// QueryResult is one delivery to a live query subscriber. Resource is set for
// getOne (nil means the explicit "no result" value), Resources for getMany.
// Err carries an AmbiguousResultError when a later mutation makes a getOne
// query ambiguous; the query stays registered so a correcting mutation can
// recover it.
type QueryResult struct {
	Resource  *domain.Resource
	Resources []domain.Resource
	Included  []domain.Resource
	Err       error
}

// LiveQuery is a registered query whose result set tracks cache mutations.
// Updates delivers the latest result with intermediate results coalesced
// away; Close unsubscribes and is safe to call repeatedly.
type LiveQuery struct {
	id      string
	query   domain.Query
	program *exprvm.Program
	store   *Store
	updates chan QueryResult
	closed  bool

	lastIDs      []domain.ResourceIdentifier
	lastIncluded map[domain.ResourceIdentifier]struct{}
	lastErr      string
	primed       bool
}

// ID returns the query's registry identifier.
func (q *LiveQuery) ID() string { return q.id }

// Updates returns the subscription channel. The channel is closed when the
// query is removed; no deliveries follow removal.
func (q *LiveQuery) Updates() <-chan QueryResult { return q.updates }

// Close deregisters the query. Idempotent.
func (q *LiveQuery) Close() { q.store.RemoveQuery(q.id) }

// FindOne registers a getOne query and computes its initial result. Exactly
// one match delivers the resource, zero matches delivers the absent value,
// and more than one match fails with an AmbiguousResultError without
// registering the query.
func (s *Store) FindOne(query domain.Query) (*LiveQuery, QueryResult, error) {
	if query.Type != domain.QueryGetOne {
		return nil, QueryResult{}, fmt.Errorf("findOne requires a %s query, got %s", domain.QueryGetOne, query.Type)
	}
	return s.register(query)
}

// FindMany registers a getMany query and computes its initial ordered result
// set, which may be empty.
func (s *Store) FindMany(query domain.Query) (*LiveQuery, QueryResult, error) {
	if query.Type != domain.QueryGetMany {
		return nil, QueryResult{}, fmt.Errorf("findMany requires a %s query, got %s", domain.QueryGetMany, query.Type)
	}
	return s.register(query)
}

func (s *Store) register(query domain.Query) (*LiveQuery, QueryResult, error) {
	program, err := compileFilter(query.Filter)
	if err != nil {
		return nil, QueryResult{}, err
	}
	q := &LiveQuery{
		id:      ulid.Make().String(),
		query:   query.Clone(),
		program: program,
		store:   s,
		updates: make(chan QueryResult, 1),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.matchLocked(q)
	if err != nil {
		return nil, QueryResult{}, err
	}
	if query.Type == domain.QueryGetOne && len(ids) > 1 {
		return nil, QueryResult{}, domain.AmbiguousResultError{
			QueryID:      q.id,
			ResourceType: query.ResourceType,
			Matches:      ids,
		}
	}
	s.queries[q.id] = q
	q.lastIDs = ids
	q.primed = true
	result := s.materializeLocked(q, ids, nil)
	q.publish(result)
	return q, result, nil
}

// RemoveQuery deregisters a query by identifier. Subsequent mutations do no
// work for it and pending notifications are discarded. Calling it again for
// the same identifier is a no-op.
func (s *Store) RemoveQuery(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[id]
	if !ok {
		return
	}
	delete(s.queries, id)
	if !q.closed {
		q.closed = true
		// Drain a buffered notification so subscribers never see a stale
		// delivery after Close.
		select {
		case <-q.updates:
		default:
		}
		close(q.updates)
	}
}

// ActiveQueries reports the number of registered live queries.
func (s *Store) ActiveQueries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queries)
}

// recomputeLocked re-evaluates every query scoped to resourceType and
// notifies subscribers whose delivered results could have changed: the
// identifier list differs, or a touched identifier sits inside the current
// result set (attribute-only edits). Queries of other types are re-evaluated
// too when a touched identifier sits on their include frontier, so a
// mutation to an included resource refreshes the delivered Included set.
func (s *Store) recomputeLocked(resourceType string, touched ...domain.ResourceIdentifier) {
	for _, q := range s.queries {
		if q.query.ResourceType != resourceType && !q.includesTouched(touched) {
			continue
		}
		s.recomputeQueryLocked(q, touched, false)
	}
}

func (s *Store) recomputeQueryLocked(q *LiveQuery, touched []domain.ResourceIdentifier, force bool) {
	ids, err := s.matchLocked(q)
	if err == nil && q.query.Type == domain.QueryGetOne && len(ids) > 1 {
		err = domain.AmbiguousResultError{QueryID: q.id, ResourceType: q.query.ResourceType, Matches: ids}
	}
	if err != nil {
		if !force && q.primed && q.lastErr == err.Error() {
			return
		}
		q.lastIDs = nil
		q.lastErr = err.Error()
		q.primed = true
		q.publish(QueryResult{Err: err})
		return
	}
	unchanged := q.primed && q.lastErr == "" && identifiersEqual(q.lastIDs, ids)
	if unchanged && !force && !touches(ids, touched) && !q.includesTouched(touched) {
		return
	}
	q.lastIDs = ids
	q.lastErr = ""
	q.primed = true
	q.publish(s.materializeLocked(q, ids, nil))
}

func touches(ids, touched []domain.ResourceIdentifier) bool {
	for _, t := range touched {
		for _, id := range ids {
			if id == t {
				return true
			}
		}
	}
	return false
}

// includesTouched reports whether a touched identifier was referenced by the
// last include resolution for this query.
func (q *LiveQuery) includesTouched(touched []domain.ResourceIdentifier) bool {
	if len(q.lastIncluded) == 0 {
		return false
	}
	for _, t := range touched {
		if _, ok := q.lastIncluded[t]; ok {
			return true
		}
	}
	return false
}

// materializeLocked resolves identifiers into cloned resource bodies at
// delivery time so subscribers always see the latest cache state.
func (s *Store) materializeLocked(q *LiveQuery, ids []domain.ResourceIdentifier, err error) QueryResult {
	if err != nil {
		return QueryResult{Err: err}
	}
	included, refs := s.resolveIncludedLocked(ids, q.query.Include)
	q.lastIncluded = refs
	if q.query.Type == domain.QueryGetOne {
		if len(ids) == 0 {
			return QueryResult{Included: included}
		}
		e := s.entries[ids[0]]
		res := e.current.Clone()
		return QueryResult{Resource: &res, Included: included}
	}
	resources := make([]domain.Resource, 0, len(ids))
	for _, id := range ids {
		resources = append(resources, s.entries[id].current.Clone())
	}
	return QueryResult{Resources: resources, Included: included}
}

// publish coalesces deliveries: an undelivered stale result is replaced by
// the newest one. Callers hold the store mutex, which also orders publishes
// against RemoveQuery.
func (q *LiveQuery) publish(result QueryResult) {
	if q.closed {
		return
	}
	select {
	case q.updates <- result:
	default:
		select {
		case <-q.updates:
		default:
		}
		select {
		case q.updates <- result:
		default:
		}
	}
}

func identifiersEqual(a, b []domain.ResourceIdentifier) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
