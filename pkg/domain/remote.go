package domain

import "context"

// OperationOutcome is the remote collaborator's verdict on one batched
// change. On success Resource carries the server-assigned final state (nil
// for deletes); on failure Err describes the rejection and the staged change
// remains pending.
type OperationOutcome struct {
	Identifier ResourceIdentifier
	Action     ChangeAction
	Resource   *Resource
	Err        *RemoteOperationError
}

// OK reports whether the operation succeeded.
func (o OperationOutcome) OK() bool { return o.Err == nil }

// BatchResult aggregates per-operation outcomes for one commit.
type BatchResult struct {
	Outcomes []OperationOutcome
}

// Succeeded returns the identifiers whose operations the remote accepted.
func (r BatchResult) Succeeded() []ResourceIdentifier {
	var ids []ResourceIdentifier
	for _, o := range r.Outcomes {
		if o.OK() {
			ids = append(ids, o.Identifier)
		}
	}
	return ids
}

// Failed returns the per-identifier errors reported by the remote.
func (r BatchResult) Failed() []RemoteOperationError {
	var errs []RemoteOperationError
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, *o.Err)
		}
	}
	return errs
}

// RemoteClient is the remote-API collaborator. Fetch answers a read request
// with the matching resources plus any related resources requested through
// include paths. CommitBatch applies staged changes as one unit of work and
// reports a per-operation outcome; it returns an error only when the batch as
// a whole could not be delivered (a TransportError), in which case nothing
// may be promoted.
type RemoteClient interface {
	Fetch(ctx context.Context, query Query) ([]Resource, error)
	CommitBatch(ctx context.Context, changes []PendingChange) (BatchResult, error)
}
