package domain

import (
	"fmt"
	"strings"
)

// AmbiguousResultError reports a getOne query that matched more than one
// resource. This is a query-definition error and is never retried.
type AmbiguousResultError struct {
	QueryID      string
	ResourceType string
	Matches      []ResourceIdentifier
}

func (e AmbiguousResultError) Error() string {
	keys := make([]string, len(e.Matches))
	for i, id := range e.Matches {
		keys[i] = id.String()
	}
	return fmt.Sprintf("getOne query %s over %s matched %d resources: %s",
		e.QueryID, e.ResourceType, len(e.Matches), strings.Join(keys, ", "))
}

// CommitInProgressError is returned by TryCommit when another commit holds
// the batch boundary. The blocking Commit queues instead.
type CommitInProgressError struct{}

func (CommitInProgressError) Error() string {
	return "commit already in progress"
}

// RemoteOperationError is a per-identifier failure reported by the remote
// collaborator during commit. The staged change stays pending and a later
// commit may retry it.
type RemoteOperationError struct {
	Identifier ResourceIdentifier
	Action     ChangeAction
	Status     int
	Detail     string
}

func (e RemoteOperationError) Error() string {
	msg := fmt.Sprintf("remote %s of %s failed", e.Action, e.Identifier)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

// TransportError wraps a failure to reach the remote collaborator at all. No
// pending state is promoted or lost when it occurs.
type TransportError struct {
	Op  string
	Err error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e TransportError) Unwrap() error { return e.Err }
