package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"resourcecache/pkg/domain"
)

// Coordinator sends staged changes to the remote collaborator and reconciles
// the cache with its verdict. At most one commit is in flight at a time;
// Commit queues behind an in-flight commit, TryCommit refuses instead.
type Coordinator struct {
	store    *Store
	remote   domain.RemoteClient
	commitMu sync.Mutex
}

// NewCoordinator constructs a commit coordinator over the store and remote.
func NewCoordinator(store *Store, remote domain.RemoteClient) *Coordinator {
	return &Coordinator{store: store, remote: remote}
}

// CommitReport summarizes one commit attempt.
type CommitReport struct {
	Attempted int
	Promoted  []domain.ResourceIdentifier
	Failed    []domain.RemoteOperationError
}

// Commit snapshots the staged changes, delivers them as one batch, and
// promotes each accepted operation. Rejected operations stay pending with the
// cache state they produced; the caller can inspect them through the report,
// amend, and commit again. A delivery failure leaves everything pending.
//
// A second Commit arriving while one is in flight waits for its turn and then
// operates on whatever is still pending.
func (c *Coordinator) Commit(ctx context.Context) (CommitReport, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	return c.commitLocked(ctx)
}

// TryCommit behaves like Commit but fails fast with a CommitInProgressError
// when another commit holds the slot.
func (c *Coordinator) TryCommit(ctx context.Context) (CommitReport, error) {
	if !c.commitMu.TryLock() {
		return CommitReport{}, domain.CommitInProgressError{}
	}
	defer c.commitMu.Unlock()
	return c.commitLocked(ctx)
}

func (c *Coordinator) commitLocked(ctx context.Context) (CommitReport, error) {
	changes := c.store.PendingChanges()
	if len(changes) == 0 {
		return CommitReport{}, nil
	}
	// Record revisions travel with the batch so a change re-staged while the
	// batch is in flight is recognized during reconciliation and kept pending.
	revs := make(map[domain.ResourceIdentifier]uint64, len(changes))
	for _, ch := range changes {
		revs[ch.Identifier] = ch.Rev
	}

	result, err := c.remote.CommitBatch(ctx, changes)
	if err != nil {
		return CommitReport{Attempted: len(changes)}, domain.TransportError{Op: "commit batch", Err: err}
	}

	report := CommitReport{Attempted: len(changes)}
	var opErrs []error
	for _, outcome := range result.Outcomes {
		if !outcome.OK() {
			report.Failed = append(report.Failed, *outcome.Err)
			opErrs = append(opErrs, *outcome.Err)
			continue
		}
		c.store.promoteOutcome(outcome, revs[outcome.Identifier])
		report.Promoted = append(report.Promoted, outcome.Identifier)
	}
	if len(opErrs) > 0 {
		return report, fmt.Errorf("commit: %d of %d operations rejected: %w", len(opErrs), len(changes), errors.Join(opErrs...))
	}
	return report, nil
}
