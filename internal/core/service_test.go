package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"resourcecache/internal/infra/persistence/memory"
	"resourcecache/pkg/domain"
)

type captureLogger struct {
	mu     sync.Mutex
	errors []string
	debugs []string
}

func (l *captureLogger) Debug(_ context.Context, msg string, _ map[string]any) {
	l.mu.Lock()
	l.debugs = append(l.debugs, msg)
	l.mu.Unlock()
}
func (l *captureLogger) Info(context.Context, string, map[string]any) {}
func (l *captureLogger) Error(_ context.Context, msg string, _ map[string]any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

type captureMetricsRecorder struct {
	mu      sync.Mutex
	entries []struct {
		op      string
		success bool
	}
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	c.entries = append(c.entries, struct {
		op      string
		success bool
	}{op, success})
	c.mu.Unlock()
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.op == op && e.success == success {
			return true
		}
	}
	return false
}

func TestServiceReadLandsPersistedState(t *testing.T) {
	remote := newFakeRemote()
	remote.fetchData = []domain.Resource{article("a1", map[string]any{"title": "server"})}
	svc, err := NewService(remote)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	fetched, err := svc.Read(context.Background(), domain.Query{Type: domain.QueryGetMany, ResourceType: "articles"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(fetched) != 1 {
		t.Fatalf("unexpected fetch result: %+v", fetched)
	}
	persisted, ok := svc.GetPersistedResource(domain.ResourceIdentifier{Type: "articles", ID: "a1"})
	if !ok || persisted.Attributes["title"] != "server" {
		t.Fatalf("fetched resource should be persisted: %v ok=%v", persisted.Attributes, ok)
	}
}

func TestServiceCreateCommitsImmediately(t *testing.T) {
	remote := newFakeRemote()
	svc, err := NewService(remote)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	report, err := svc.Create(context.Background(), article("a1", map[string]any{"title": "draft"}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(report.Promoted) != 1 {
		t.Fatalf("create should commit its batch: %+v", report)
	}
	if svc.HasPending() {
		t.Fatalf("nothing should remain pending")
	}
}

func TestServiceStageThenCommitBatches(t *testing.T) {
	remote := newFakeRemote()
	svc, err := NewService(remote)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	if err := svc.PostResource(ctx, article("a1", nil)); err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := svc.PatchResource(ctx, domain.ResourceIdentifier{Type: "articles", ID: "a1"}, map[string]any{"title": "v2"}, nil); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if err := svc.PostResource(ctx, article("a2", nil)); err != nil {
		t.Fatalf("post: %v", err)
	}
	if remote.batchCount() != 0 {
		t.Fatalf("staging must not contact the remote")
	}

	report, err := svc.Commit(ctx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if report.Attempted != 2 {
		t.Fatalf("patch should merge into the staged create: %+v", report)
	}
	if remote.batchCount() != 1 {
		t.Fatalf("one batch expected, got %d", remote.batchCount())
	}
}

func TestServicePersistsAndHydratesSnapshots(t *testing.T) {
	remote := newFakeRemote()
	snapshots := memory.NewStore()
	svc, err := NewService(remote, WithSnapshotStore(snapshots))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	if err := svc.PostResource(ctx, article("a1", map[string]any{"title": "draft"})); err != nil {
		t.Fatalf("post: %v", err)
	}

	restored, err := NewService(remote, WithSnapshotStore(snapshots))
	if err != nil {
		t.Fatalf("hydrate service: %v", err)
	}
	current, ok := restored.GetResource(domain.ResourceIdentifier{Type: "articles", ID: "a1"})
	if !ok || current.Attributes["title"] != "draft" {
		t.Fatalf("staged state should survive restart: %v ok=%v", current.Attributes, ok)
	}
	changes := restored.PendingChanges()
	if len(changes) != 1 || changes[0].Action != domain.ActionCreate {
		t.Fatalf("pending changes should survive restart: %+v", changes)
	}

	// The restored instance can commit the restored batch.
	if _, err := restored.Commit(ctx); err != nil {
		t.Fatalf("commit after restart: %v", err)
	}
	if restored.HasPending() {
		t.Fatalf("restored batch should settle")
	}
}

func TestServiceObservability(t *testing.T) {
	remote := newFakeRemote()
	logger := &captureLogger{}
	metrics := &captureMetricsRecorder{}
	tracer := NewJSONTracer(nil)
	svc, err := NewService(remote,
		WithLogger(logger),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.Create(ctx, article("a1", nil)); err != nil {
		t.Fatalf("create: %v", err)
	}
	remote.failAll = context.DeadlineExceeded
	if _, err := svc.Read(ctx, domain.Query{Type: domain.QueryGetMany, ResourceType: "articles"}); err == nil {
		t.Fatalf("read should fail")
	}

	if !metrics.has("create", true) {
		t.Fatalf("create success not observed: %+v", metrics.entries)
	}
	if !metrics.has("read", false) {
		t.Fatalf("read failure not observed: %+v", metrics.entries)
	}
	entries := tracer.Entries()
	if len(entries) < 2 {
		t.Fatalf("expected spans for both operations, got %d", len(entries))
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errors) == 0 {
		t.Fatalf("failed read should be logged")
	}
	if len(logger.debugs) == 0 {
		t.Fatalf("successful create should be logged at debug")
	}
}

func TestServiceFindOneAndLiveUpdate(t *testing.T) {
	remote := newFakeRemote()
	svc, err := NewService(remote)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	q, result, err := svc.FindOne(ctx, domain.Query{Type: domain.QueryGetOne, ResourceType: "articles", ID: "a1"})
	if err != nil {
		t.Fatalf("find one: %v", err)
	}
	defer q.Close()
	if result.Resource != nil {
		t.Fatalf("expected absent before fetch")
	}
	drainUpdate(t, q)

	remote.fetchData = []domain.Resource{article("a1", map[string]any{"title": "server"})}
	if _, err := svc.Read(ctx, domain.Query{Type: domain.QueryGetMany, ResourceType: "articles"}); err != nil {
		t.Fatalf("read: %v", err)
	}
	update, ok := drainUpdate(t, q)
	if !ok || update.Resource == nil || update.Resource.Attributes["title"] != "server" {
		t.Fatalf("live query should see the fetched resource: %+v ok=%v", update, ok)
	}
}

func TestServiceRequiresRemote(t *testing.T) {
	if _, err := NewService(nil); err == nil {
		t.Fatalf("nil remote must be rejected")
	}
}
