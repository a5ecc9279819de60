package domain

import "time"

// ChangeAction enumerates the kinds of staged local edits.
type ChangeAction string

const (
	ActionCreate ChangeAction = "create"
	ActionPatch  ChangeAction = "patch"
	ActionDelete ChangeAction = "delete"
)

// PendingChange is one staged local edit awaiting commit. At most one record
// exists per identifier: a later patch merges into an existing create or
// patch, and a delete supersedes both. Seq preserves original staging order
// across the whole batch; Rev advances on every staging event touching the
// record, so a commit can tell whether the record it sent is still the one
// that is pending.
type PendingChange struct {
	Action     ChangeAction       `json:"action"`
	Identifier ResourceIdentifier `json:"identifier"`
	// Resource holds the full draft for creates.
	Resource *Resource `json:"resource,omitempty"`
	// Attributes and Relationships hold the partial document for patches.
	Attributes    map[string]any          `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Seq           uint64                  `json:"seq"`
	Rev           uint64                  `json:"rev"`
	StagedAt      time.Time               `json:"staged_at"`
}

// Clone returns a deep copy of the pending change.
func (c PendingChange) Clone() PendingChange {
	cp := c
	if c.Resource != nil {
		res := c.Resource.Clone()
		cp.Resource = &res
	}
	if c.Attributes != nil {
		cp.Attributes = make(map[string]any, len(c.Attributes))
		for k, v := range c.Attributes {
			cp.Attributes[k] = cloneAttributeValue(v)
		}
	}
	if c.Relationships != nil {
		cp.Relationships = make(map[string]Relationship, len(c.Relationships))
		for k, v := range c.Relationships {
			cp.Relationships[k] = cloneRelationship(v)
		}
	}
	return cp
}
