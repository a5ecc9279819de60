package core

import (
	"fmt"
	"sort"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"resourcecache/pkg/domain"
)

// compileFilter builds the filter program for a query. Filters evaluate
// against an environment exposing the candidate's id, type, and attributes;
// undefined variables resolve to nil so sparse documents don't fail.
func compileFilter(expression string) (*exprvm.Program, error) {
	if expression == "" {
		return nil, nil
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expression, err)
	}
	return program, nil
}

func filterEnv(res *domain.Resource) map[string]any {
	return map[string]any{
		"id":         res.Identifier.ID,
		"type":       res.Identifier.Type,
		"attributes": res.Attributes,
	}
}

// matchLocked computes the ordered identifiers matching q against current
// state. Entries with a staged delete never match. Re-running with no
// intervening mutation yields identical ordered results.
func (s *Store) matchLocked(q *LiveQuery) ([]domain.ResourceIdentifier, error) {
	type candidate struct {
		id  domain.ResourceIdentifier
		res *domain.Resource
		seq uint64
	}
	var matched []candidate
	for id, e := range s.entries {
		if id.Type != q.query.ResourceType || e.deleted || e.current == nil {
			continue
		}
		if q.query.ID != "" && id.ID != q.query.ID {
			continue
		}
		if q.program != nil {
			out, err := exprlang.Run(q.program, filterEnv(e.current))
			if err != nil {
				return nil, fmt.Errorf("evaluate filter for %s: %w", id, err)
			}
			if keep, ok := out.(bool); !ok || !keep {
				continue
			}
		}
		matched = append(matched, candidate{id: id, res: e.current, seq: e.seq})
	}

	fields := q.query.Sort
	sort.Slice(matched, func(i, j int) bool {
		for _, f := range fields {
			c := compareField(matched[i].res, matched[j].res, f.Field)
			if c == 0 {
				continue
			}
			if f.Descending {
				return c > 0
			}
			return c < 0
		}
		// Stable fallback: store insertion order.
		return matched[i].seq < matched[j].seq
	})

	ids := make([]domain.ResourceIdentifier, len(matched))
	for i, c := range matched {
		ids[i] = c.id
	}
	return ids, nil
}

func compareField(a, b *domain.Resource, field string) int {
	if field == "" || field == "id" {
		return compareValues(a.Identifier.ID, b.Identifier.ID)
	}
	return compareValues(a.Attributes[field], b.Attributes[field])
}

// compareValues orders attribute values: nils first, then numbers, booleans,
// and strings by natural order, anything else by formatted representation.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if na, aok := asFloat(a); aok {
		if nb, bok := asFloat(b); bok {
			switch {
			case na < nb:
				return -1
			case na > nb:
				return 1
			default:
				return 0
			}
		}
	}
	if ba, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			default:
				return 1
			}
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// resolveIncludedLocked walks include paths through relationship references,
// collecting each reachable resource once. References are resolved by lookup,
// never by embedding, so relationship cycles terminate at the visited set.
// The visited set is also returned: it is the query's include frontier, used
// to re-notify the query when a referenced resource of another type mutates.
func (s *Store) resolveIncludedLocked(ids []domain.ResourceIdentifier, paths []string) ([]domain.Resource, map[domain.ResourceIdentifier]struct{}) {
	if len(paths) == 0 {
		return nil, nil
	}
	visited := make(map[domain.ResourceIdentifier]struct{}, len(ids))
	for _, id := range ids {
		visited[id] = struct{}{}
	}
	var included []domain.Resource
	for _, path := range paths {
		frontier := ids
		for _, segment := range strings.Split(path, ".") {
			var next []domain.ResourceIdentifier
			for _, id := range frontier {
				e, ok := s.entries[id]
				if !ok || e.current == nil {
					continue
				}
				rel, ok := e.current.Relationships[segment]
				if !ok {
					continue
				}
				for _, ref := range rel.Identifiers() {
					next = append(next, ref)
					if _, seen := visited[ref]; seen {
						continue
					}
					visited[ref] = struct{}{}
					re, ok := s.entries[ref]
					if !ok || re.deleted || re.current == nil {
						continue
					}
					included = append(included, re.current.Clone())
				}
			}
			frontier = next
		}
	}
	return included, visited
}
