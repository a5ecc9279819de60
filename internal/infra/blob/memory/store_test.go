package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"resourcecache/internal/blob/core"
)

func TestMemoryPutGetHeadDelete(t *testing.T) {
	store := New()
	ctx := context.Background()

	info, err := store.Put(ctx, "snapshots/a", strings.NewReader("payload"), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"entries": "3"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len("payload")) || info.ContentType != "application/json" {
		t.Fatalf("unexpected info: %+v", info)
	}
	wantETag := sha256.Sum256([]byte("payload"))
	if info.ETag != hex.EncodeToString(wantETag[:]) {
		t.Fatalf("etag should be the content digest: %q", info.ETag)
	}

	if _, err := store.Put(ctx, "snapshots/a", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatalf("put must fail for existing key")
	}

	got, rc, err := store.Get(ctx, "snapshots/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "payload" || got.Metadata["entries"] != "3" {
		t.Fatalf("unexpected content %q meta %v", data, got.Metadata)
	}

	if _, err := store.Head(ctx, "snapshots/a"); err != nil {
		t.Fatalf("head: %v", err)
	}

	existed, err := store.Delete(ctx, "snapshots/a")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, "snapshots/a")
	if err != nil || existed {
		t.Fatalf("second delete should report absent: existed=%v err=%v", existed, err)
	}
}

func TestMemoryDefaultsContentType(t *testing.T) {
	store := New()
	info, err := store.Put(context.Background(), "k", strings.NewReader("x"), core.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.ContentType != "application/octet-stream" {
		t.Fatalf("unset content type should default: %q", info.ContentType)
	}
}

func TestMemoryListOrdersByKey(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, key := range []string{"snapshots/c", "snapshots/a", "other/x", "snapshots/b"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := store.List(ctx, "snapshots/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 3 || infos[0].Key != "snapshots/a" || infos[2].Key != "snapshots/c" {
		t.Fatalf("unexpected listing: %+v", infos)
	}
}

func TestMemoryPresignUnsupported(t *testing.T) {
	store := New()
	if _, err := store.PresignURL(context.Background(), "k", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
