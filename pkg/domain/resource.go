package domain

// Resource is one domain object held by the cache: an identifier, a flat
// attribute document, and relationship references. The cache owns all
// resource bodies; callers always receive clones.
type Resource struct {
	Identifier    ResourceIdentifier      `json:"identifier"`
	Attributes    map[string]any          `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
}

// NewResource constructs a resource with initialized attribute and
// relationship maps.
func NewResource(resourceType, id string) Resource {
	return Resource{
		Identifier:    ResourceIdentifier{Type: resourceType, ID: id},
		Attributes:    map[string]any{},
		Relationships: map[string]Relationship{},
	}
}

// Clone returns a deep copy of the resource. Attribute values are copied one
// level deep; nested maps and slices are duplicated so cached state cannot be
// mutated through a returned resource.
func (r Resource) Clone() Resource {
	cp := r
	if r.Attributes != nil {
		cp.Attributes = make(map[string]any, len(r.Attributes))
		for k, v := range r.Attributes {
			cp.Attributes[k] = cloneAttributeValue(v)
		}
	}
	if r.Relationships != nil {
		cp.Relationships = make(map[string]Relationship, len(r.Relationships))
		for k, v := range r.Relationships {
			cp.Relationships[k] = cloneRelationship(v)
		}
	}
	return cp
}

// Merge applies partial attributes and relationships on top of the resource
// and returns the merged copy. Nil maps leave the corresponding section
// untouched.
func (r Resource) Merge(attributes map[string]any, relationships map[string]Relationship) Resource {
	merged := r.Clone()
	if len(attributes) > 0 && merged.Attributes == nil {
		merged.Attributes = make(map[string]any, len(attributes))
	}
	for k, v := range attributes {
		merged.Attributes[k] = cloneAttributeValue(v)
	}
	if len(relationships) > 0 && merged.Relationships == nil {
		merged.Relationships = make(map[string]Relationship, len(relationships))
	}
	for k, v := range relationships {
		merged.Relationships[k] = cloneRelationship(v)
	}
	return merged
}

func cloneAttributeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, nested := range t {
			out[k] = cloneAttributeValue(nested)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, nested := range t {
			out[i] = cloneAttributeValue(nested)
		}
		return out
	default:
		return v
	}
}
