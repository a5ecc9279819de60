package domain

// QueryType distinguishes single-result from multi-result queries.
type QueryType string

const (
	QueryGetOne  QueryType = "getOne"
	QueryGetMany QueryType = "getMany"
)

// SortField orders query results by one attribute. An empty or "id" field
// sorts by resource id.
type SortField struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending,omitempty"`
}

// Query describes a live request against the cache. ResourceType scopes the
// query; ID (optional) restricts it to a single identifier; Filter is an
// expression evaluated against each candidate resource; Sort orders getMany
// results, falling back to stable store insertion order when empty; Include
// lists relationship paths to resolve alongside the results.
type Query struct {
	Type         QueryType   `json:"type"`
	ResourceType string      `json:"resource_type"`
	ID           string      `json:"id,omitempty"`
	Filter       string      `json:"filter,omitempty"`
	Sort         []SortField `json:"sort,omitempty"`
	Include      []string    `json:"include,omitempty"`
}

// Clone returns a copy of the query with duplicated slices.
func (q Query) Clone() Query {
	cp := q
	cp.Sort = append([]SortField(nil), q.Sort...)
	cp.Include = append([]string(nil), q.Include...)
	return cp
}
