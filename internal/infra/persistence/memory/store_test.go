package memory

import (
	"context"
	"testing"

	"resourcecache/pkg/domain"
)

func TestMemorySnapshotRoundTrip(t *testing.T) {
	store := NewStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	if _, ok, err := store.Load(ctx); err != nil || ok {
		t.Fatalf("fresh store should be empty: ok=%v err=%v", ok, err)
	}

	res := domain.NewResource("articles", "a1")
	res.Attributes["title"] = "first"
	snapshot := domain.Snapshot{
		Entries: map[string]domain.SnapshotEntry{"articles/a1": {Current: &res, Seq: 1}},
		NextSeq: 2,
	}
	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, ok, err := store.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if loaded.NextSeq != 2 || loaded.Entries["articles/a1"].Current.Attributes["title"] != "first" {
		t.Fatalf("round trip lost data: %+v", loaded)
	}

	// Saved snapshots are decoupled from caller-held state.
	res.Attributes["title"] = "mutated"
	again, _, _ := store.Load(ctx)
	if again.Entries["articles/a1"].Current.Attributes["title"] != "first" {
		t.Fatalf("snapshot shares state with the caller")
	}
}
