package core

import (
	"errors"
	"testing"

	"resourcecache/pkg/domain"
)

func drainUpdate(t *testing.T, q *LiveQuery) (QueryResult, bool) {
	t.Helper()
	select {
	case result, ok := <-q.Updates():
		return result, ok
	default:
		return QueryResult{}, false
	}
}

func TestFindOneInitialResult(t *testing.T) {
	s := NewStore()
	s.UpsertPersisted(article("a1", map[string]any{"title": "first"}))

	q, result, err := s.FindOne(domain.Query{Type: domain.QueryGetOne, ResourceType: "articles", ID: "a1"})
	if err != nil {
		t.Fatalf("findOne: %v", err)
	}
	defer q.Close()
	if result.Resource == nil || result.Resource.Attributes["title"] != "first" {
		t.Fatalf("unexpected initial result: %+v", result)
	}
}

func TestFindOneZeroMatchesIsAbsent(t *testing.T) {
	s := NewStore()
	q, result, err := s.FindOne(domain.Query{Type: domain.QueryGetOne, ResourceType: "articles", ID: "missing"})
	if err != nil {
		t.Fatalf("findOne: %v", err)
	}
	defer q.Close()
	if result.Err != nil || result.Resource != nil {
		t.Fatalf("zero matches should be a distinguishable absent value: %+v", result)
	}
}

func TestFindOneAmbiguousAtRegistration(t *testing.T) {
	s := NewStore()
	s.UpsertPersisted(article("a1", map[string]any{"slug": "dup"}))
	s.UpsertPersisted(article("a2", map[string]any{"slug": "dup"}))

	_, _, err := s.FindOne(domain.Query{
		Type:         domain.QueryGetOne,
		ResourceType: "articles",
		Filter:       `attributes.slug == "dup"`,
	})
	var ambiguous domain.AmbiguousResultError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected AmbiguousResultError, got %v", err)
	}
	if len(ambiguous.Matches) != 2 {
		t.Fatalf("error should name the matches: %+v", ambiguous)
	}
	if s.ActiveQueries() != 0 {
		t.Fatalf("failed registration must not leave a query behind")
	}
}

func TestFindOneBecomesAmbiguousThenRecovers(t *testing.T) {
	s := NewStore()
	s.UpsertPersisted(article("a1", map[string]any{"slug": "dup"}))

	q, _, err := s.FindOne(domain.Query{
		Type:         domain.QueryGetOne,
		ResourceType: "articles",
		Filter:       `attributes.slug == "dup"`,
	})
	if err != nil {
		t.Fatalf("findOne: %v", err)
	}
	defer q.Close()
	drainUpdate(t, q)

	// A second match arrives.
	s.UpsertPersisted(article("a2", map[string]any{"slug": "dup"}))
	result, ok := drainUpdate(t, q)
	if !ok {
		t.Fatalf("expected an update after ambiguity")
	}
	var ambiguous domain.AmbiguousResultError
	if !errors.As(result.Err, &ambiguous) {
		t.Fatalf("expected AmbiguousResultError delivery, got %+v", result)
	}

	// The query stays registered; removing one match recovers it.
	s.StageDelete(domain.ResourceIdentifier{Type: "articles", ID: "a2"})
	result, ok = drainUpdate(t, q)
	if !ok || result.Err != nil || result.Resource == nil {
		t.Fatalf("query should recover after the correcting mutation: %+v ok=%v", result, ok)
	}
}

func TestFindManyLiveUpdates(t *testing.T) {
	s := NewStore()
	s.UpsertPersisted(article("a1", map[string]any{"published": true}))
	s.UpsertPersisted(article("a2", map[string]any{"published": false}))

	q, result, err := s.FindMany(domain.Query{
		Type:         domain.QueryGetMany,
		ResourceType: "articles",
		Filter:       "attributes.published == true",
	})
	if err != nil {
		t.Fatalf("findMany: %v", err)
	}
	defer q.Close()
	if len(result.Resources) != 1 || result.Resources[0].Identifier.ID != "a1" {
		t.Fatalf("unexpected initial set: %+v", result.Resources)
	}
	drainUpdate(t, q)

	// a2 starts matching after a staged edit.
	s.StagePatch(domain.ResourceIdentifier{Type: "articles", ID: "a2"}, map[string]any{"published": true}, nil)
	update, ok := drainUpdate(t, q)
	if !ok || len(update.Resources) != 2 {
		t.Fatalf("expected both articles after patch: %+v ok=%v", update.Resources, ok)
	}
}

func TestUnrelatedMutationDoesNotNotify(t *testing.T) {
	s := NewStore()
	s.UpsertPersisted(article("a1", map[string]any{"published": true}))

	q, _, err := s.FindMany(domain.Query{
		Type:         domain.QueryGetMany,
		ResourceType: "articles",
		Filter:       "attributes.published == true",
	})
	if err != nil {
		t.Fatalf("findMany: %v", err)
	}
	defer q.Close()
	drainUpdate(t, q)

	// Different type entirely.
	people := domain.NewResource("people", "p1")
	s.UpsertPersisted(people)
	// Same type, but the result set does not change and a2 is not a member.
	s.UpsertPersisted(article("a2", map[string]any{"published": false}))

	if _, ok := drainUpdate(t, q); ok {
		t.Fatalf("no notification expected for non-member mutations")
	}
}

func TestMemberAttributeEditNotifies(t *testing.T) {
	s := NewStore()
	s.UpsertPersisted(article("a1", map[string]any{"published": true, "title": "v1"}))

	q, _, err := s.FindMany(domain.Query{
		Type:         domain.QueryGetMany,
		ResourceType: "articles",
		Filter:       "attributes.published == true",
	})
	if err != nil {
		t.Fatalf("findMany: %v", err)
	}
	defer q.Close()
	drainUpdate(t, q)

	// Identifier list is unchanged but a member's body changed.
	s.StagePatch(domain.ResourceIdentifier{Type: "articles", ID: "a1"}, map[string]any{"title": "v2"}, nil)
	update, ok := drainUpdate(t, q)
	if !ok {
		t.Fatalf("member edit should notify")
	}
	if update.Resources[0].Attributes["title"] != "v2" {
		t.Fatalf("delivered body should be current: %v", update.Resources[0].Attributes)
	}
}

func TestUpdatesCoalesce(t *testing.T) {
	s := NewStore()
	q, _, err := s.FindMany(domain.Query{Type: domain.QueryGetMany, ResourceType: "articles"})
	if err != nil {
		t.Fatalf("findMany: %v", err)
	}
	defer q.Close()
	drainUpdate(t, q)

	for i := 0; i < 5; i++ {
		s.UpsertPersisted(article(string(rune('a'+i))+"1", nil))
	}

	update, ok := drainUpdate(t, q)
	if !ok {
		t.Fatalf("expected a coalesced update")
	}
	if len(update.Resources) != 5 {
		t.Fatalf("coalesced delivery should carry the latest set, got %d", len(update.Resources))
	}
	if _, ok := drainUpdate(t, q); ok {
		t.Fatalf("intermediate results should have been coalesced away")
	}
}

func TestCloseStopsDeliveriesAndIsIdempotent(t *testing.T) {
	s := NewStore()
	q, _, err := s.FindMany(domain.Query{Type: domain.QueryGetMany, ResourceType: "articles"})
	if err != nil {
		t.Fatalf("findMany: %v", err)
	}
	drainUpdate(t, q)

	q.Close()
	q.Close()

	if s.ActiveQueries() != 0 {
		t.Fatalf("query should be deregistered")
	}
	s.UpsertPersisted(article("a1", nil))
	if _, ok := <-q.Updates(); ok {
		t.Fatalf("closed query must not deliver")
	}
}

func TestIncludeResolvesRelatedResources(t *testing.T) {
	s := NewStore()
	author := domain.NewResource("people", "p1")
	author.Attributes["name"] = "Ada"
	s.UpsertPersisted(author)
	art := article("a1", map[string]any{"title": "first"})
	art.Relationships["author"] = domain.ToOne(author.Identifier)
	s.UpsertPersisted(art)

	q, result, err := s.FindOne(domain.Query{
		Type:         domain.QueryGetOne,
		ResourceType: "articles",
		ID:           "a1",
		Include:      []string{"author"},
	})
	if err != nil {
		t.Fatalf("findOne: %v", err)
	}
	defer q.Close()
	if len(result.Included) != 1 || result.Included[0].Identifier.ID != "p1" {
		t.Fatalf("expected the author included: %+v", result.Included)
	}
}

func TestIncludedResourceMutationNotifies(t *testing.T) {
	s := NewStore()
	author := domain.NewResource("people", "p1")
	author.Attributes["name"] = "Ada"
	s.UpsertPersisted(author)
	art := article("a1", map[string]any{"title": "first"})
	art.Relationships["author"] = domain.ToOne(author.Identifier)
	s.UpsertPersisted(art)

	q, _, err := s.FindOne(domain.Query{
		Type:         domain.QueryGetOne,
		ResourceType: "articles",
		ID:           "a1",
		Include:      []string{"author"},
	})
	if err != nil {
		t.Fatalf("findOne: %v", err)
	}
	defer q.Close()
	drainUpdate(t, q)

	// The author is a different resource type, but it sits on the query's
	// include frontier; editing it must refresh the delivered Included set.
	s.StagePatch(author.Identifier, map[string]any{"name": "Grace"}, nil)
	update, ok := drainUpdate(t, q)
	if !ok {
		t.Fatalf("included resource edit should notify")
	}
	if len(update.Included) != 1 || update.Included[0].Attributes["name"] != "Grace" {
		t.Fatalf("stale included set delivered: %+v", update.Included)
	}
}

func TestIncludeCyclicRelationshipsTerminate(t *testing.T) {
	s := NewStore()
	a := article("a1", nil)
	b := article("b1", nil)
	a.Relationships["next"] = domain.ToOne(b.Identifier)
	b.Relationships["next"] = domain.ToOne(a.Identifier)
	s.UpsertPersisted(a)
	s.UpsertPersisted(b)

	q, result, err := s.FindOne(domain.Query{
		Type:         domain.QueryGetOne,
		ResourceType: "articles",
		ID:           "a1",
		Include:      []string{"next.next.next"},
	})
	if err != nil {
		t.Fatalf("findOne: %v", err)
	}
	defer q.Close()
	// Only b1 is new; a1 is the primary resource and never re-included.
	if len(result.Included) != 1 || result.Included[0].Identifier.ID != "b1" {
		t.Fatalf("cycle should terminate at the visited set: %+v", result.Included)
	}
}
