package core

import (
	"context"
	"fmt"
	"time"

	"resourcecache/pkg/domain"
)

// Service is the application-facing facade over the cache. It owns the store,
// the commit coordinator, and the optional durable snapshot layer, and it
// instruments every operation through the configured logger, metrics recorder,
// and tracer.
type Service struct {
	store       *Store
	coordinator *Coordinator
	remote      domain.RemoteClient
	snapshots   domain.SnapshotStore
	logger      Logger
	metrics     MetricsRecorder
	tracer      Tracer
}

// ServiceOption customizes service construction.
type ServiceOption func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder attaches a metrics recorder.
func WithMetricsRecorder(metrics MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithTracer attaches a tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithSnapshotStore attaches a durable snapshot layer. The cache hydrates from
// it on construction and writes back after every local mutation and commit.
func WithSnapshotStore(snapshots domain.SnapshotStore) ServiceOption {
	return func(s *Service) {
		s.snapshots = snapshots
	}
}

// NewService constructs a service over the remote collaborator, hydrating from
// the snapshot store when one is configured and holds a saved state.
func NewService(remote domain.RemoteClient, opts ...ServiceOption) (*Service, error) {
	if remote == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	store := NewStore()
	s := &Service{
		store:       store,
		coordinator: NewCoordinator(store, remote),
		remote:      remote,
		logger:      noopLogger{},
		metrics:     noopMetrics{},
		tracer:      noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.snapshots != nil {
		snapshot, ok, err := s.snapshots.Load(context.Background())
		if err != nil {
			return nil, fmt.Errorf("hydrate snapshot: %w", err)
		}
		if ok {
			s.store.ImportState(snapshot)
		}
	}
	return s, nil
}

// Store exposes the underlying cache for direct reads and query registration.
func (s *Service) Store() *Store { return s.store }

// Close releases the durable snapshot layer, if any.
func (s *Service) Close() error {
	if s.snapshots == nil {
		return nil
	}
	return s.snapshots.Close()
}

// run wraps one operation with tracing, metrics, and error logging.
func (s *Service) run(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, operation)
	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, duration)
	if err != nil {
		s.logger.Error(ctx, operation+" failed", map[string]any{"error": err.Error()})
	} else {
		s.logger.Debug(ctx, operation+" completed", map[string]any{"duration_ms": float64(duration) / float64(time.Millisecond)})
	}
	return err
}

// Read fetches resources from the remote and lands them as persisted state.
// Live queries over the affected types recompute before Read returns.
func (s *Service) Read(ctx context.Context, query domain.Query) ([]domain.Resource, error) {
	var fetched []domain.Resource
	err := s.run(ctx, "read", func(ctx context.Context) error {
		resources, err := s.remote.Fetch(ctx, query)
		if err != nil {
			return domain.TransportError{Op: "fetch", Err: err}
		}
		s.store.UpsertPersistedBatch(resources)
		fetched = resources
		return s.persistState(ctx)
	})
	if err != nil {
		return nil, err
	}
	return fetched, nil
}

// PostResource stages a local create without contacting the remote.
func (s *Service) PostResource(ctx context.Context, resource domain.Resource) error {
	return s.run(ctx, "post_resource", func(ctx context.Context) error {
		s.store.StageCreate(resource)
		return s.persistState(ctx)
	})
}

// PatchResource stages a partial local edit without contacting the remote.
func (s *Service) PatchResource(ctx context.Context, id domain.ResourceIdentifier, attributes map[string]any, relationships map[string]domain.Relationship) error {
	return s.run(ctx, "patch_resource", func(ctx context.Context) error {
		s.store.StagePatch(id, attributes, relationships)
		return s.persistState(ctx)
	})
}

// DeleteResource stages a local delete without contacting the remote.
func (s *Service) DeleteResource(ctx context.Context, id domain.ResourceIdentifier) error {
	return s.run(ctx, "delete_resource", func(ctx context.Context) error {
		s.store.StageDelete(id)
		return s.persistState(ctx)
	})
}

// Create stages a create and commits the full pending batch immediately.
func (s *Service) Create(ctx context.Context, resource domain.Resource) (CommitReport, error) {
	var report CommitReport
	err := s.run(ctx, "create", func(ctx context.Context) error {
		s.store.StageCreate(resource)
		var err error
		report, err = s.commit(ctx)
		return err
	})
	return report, err
}

// Update stages a patch and commits the full pending batch immediately.
func (s *Service) Update(ctx context.Context, id domain.ResourceIdentifier, attributes map[string]any, relationships map[string]domain.Relationship) (CommitReport, error) {
	var report CommitReport
	err := s.run(ctx, "update", func(ctx context.Context) error {
		s.store.StagePatch(id, attributes, relationships)
		var err error
		report, err = s.commit(ctx)
		return err
	})
	return report, err
}

// Delete stages a delete and commits the full pending batch immediately.
func (s *Service) Delete(ctx context.Context, id domain.ResourceIdentifier) (CommitReport, error) {
	var report CommitReport
	err := s.run(ctx, "delete", func(ctx context.Context) error {
		s.store.StageDelete(id)
		var err error
		report, err = s.commit(ctx)
		return err
	})
	return report, err
}

// Commit sends every staged change to the remote as one batch, waiting for
// any in-flight commit to finish first.
func (s *Service) Commit(ctx context.Context) (CommitReport, error) {
	var report CommitReport
	err := s.run(ctx, "commit", func(ctx context.Context) error {
		var err error
		report, err = s.commit(ctx)
		return err
	})
	return report, err
}

// TryCommit is Commit without queuing: when another commit is in flight it
// fails fast with a CommitInProgressError.
func (s *Service) TryCommit(ctx context.Context) (CommitReport, error) {
	var report CommitReport
	err := s.run(ctx, "try_commit", func(ctx context.Context) error {
		var err error
		report, err = s.coordinator.TryCommit(ctx)
		if err != nil {
			return err
		}
		return s.persistState(ctx)
	})
	return report, err
}

func (s *Service) commit(ctx context.Context) (CommitReport, error) {
	report, err := s.coordinator.Commit(ctx)
	if err != nil {
		return report, err
	}
	return report, s.persistState(ctx)
}

// FindOne registers a live getOne query.
func (s *Service) FindOne(ctx context.Context, query domain.Query) (*LiveQuery, QueryResult, error) {
	var (
		q      *LiveQuery
		result QueryResult
	)
	err := s.run(ctx, "find_one", func(context.Context) error {
		var err error
		q, result, err = s.store.FindOne(query)
		return err
	})
	return q, result, err
}

// FindMany registers a live getMany query.
func (s *Service) FindMany(ctx context.Context, query domain.Query) (*LiveQuery, QueryResult, error) {
	var (
		q      *LiveQuery
		result QueryResult
	)
	err := s.run(ctx, "find_many", func(context.Context) error {
		var err error
		q, result, err = s.store.FindMany(query)
		return err
	})
	return q, result, err
}

// GetResource returns the current state for the identifier.
func (s *Service) GetResource(id domain.ResourceIdentifier) (domain.Resource, bool) {
	return s.store.Get(id)
}

// GetPersistedResource returns the last server-confirmed state.
func (s *Service) GetPersistedResource(id domain.ResourceIdentifier) (domain.Resource, bool) {
	return s.store.GetPersisted(id)
}

// PendingChanges returns the staged changes in staging order.
func (s *Service) PendingChanges() []domain.PendingChange {
	return s.store.PendingChanges()
}

// HasPending reports whether any local edit awaits commit.
func (s *Service) HasPending() bool {
	return s.store.HasPending()
}

// ExportState clones the full cache state.
func (s *Service) ExportState() domain.Snapshot {
	return s.store.ExportState()
}

// ImportState replaces the cache state and persists the result.
func (s *Service) ImportState(ctx context.Context, snapshot domain.Snapshot) error {
	return s.run(ctx, "import_state", func(ctx context.Context) error {
		s.store.ImportState(snapshot)
		return s.persistState(ctx)
	})
}

func (s *Service) persistState(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	if err := s.snapshots.Save(ctx, s.store.ExportState()); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}
