// Package domain defines the value types, collaborator contracts, and error
// taxonomy shared by the resource cache engine and its infrastructure drivers.
package domain

import "fmt"

// ResourceIdentifier uniquely identifies a resource by type and id. Equality
// is exact, case-sensitive comparison of both fields; the zero value is not a
// valid identifier.
type ResourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// IsZero reports whether the identifier carries no type and no id.
func (r ResourceIdentifier) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// String renders the identifier as "type/id", the form used for snapshot keys
// and log output.
func (r ResourceIdentifier) String() string {
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// Relationship references one or more resources by identifier. Exactly one of
// One or Many is populated; references never embed resource bodies, so cyclic
// relationship graphs stay representable.
type Relationship struct {
	One  *ResourceIdentifier  `json:"one,omitempty"`
	Many []ResourceIdentifier `json:"many,omitempty"`
}

// ToOne builds a single-resource relationship reference.
func ToOne(id ResourceIdentifier) Relationship {
	ref := id
	return Relationship{One: &ref}
}

// ToMany builds an ordered multi-resource relationship reference.
func ToMany(ids ...ResourceIdentifier) Relationship {
	return Relationship{Many: append([]ResourceIdentifier(nil), ids...)}
}

// Identifiers returns every identifier referenced by the relationship in
// order.
func (r Relationship) Identifiers() []ResourceIdentifier {
	if r.One != nil {
		return []ResourceIdentifier{*r.One}
	}
	return append([]ResourceIdentifier(nil), r.Many...)
}

func cloneRelationship(r Relationship) Relationship {
	cp := Relationship{}
	if r.One != nil {
		ref := *r.One
		cp.One = &ref
	}
	if r.Many != nil {
		cp.Many = append([]ResourceIdentifier(nil), r.Many...)
	}
	return cp
}
