package blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"resourcecache/pkg/domain"
)

const archiveContentType = "application/gzip"

// Archiver writes cache snapshots to a blob store as gzipped JSON objects,
// one immutable object per archive.
type Archiver struct {
	store  Store
	prefix string
	nowFn  func() time.Time
}

// NewArchiver constructs an archiver writing under the given key prefix.
// An empty prefix defaults to "snapshots".
func NewArchiver(store Store, prefix string) *Archiver {
	if prefix == "" {
		prefix = "snapshots"
	}
	return &Archiver{
		store:  store,
		prefix: prefix,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// Archive writes the snapshot and returns the stored object's info. Keys
// embed the write timestamp so repeated archives never collide.
func (a *Archiver) Archive(ctx context.Context, snapshot domain.Snapshot) (Info, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(snapshot); err != nil {
		return Info{}, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return Info{}, fmt.Errorf("compress snapshot: %w", err)
	}
	key := fmt.Sprintf("%s/%s.json.gz", a.prefix, a.nowFn().Format("20060102T150405.000000000Z"))
	info, err := a.store.Put(ctx, key, &buf, PutOptions{
		ContentType: archiveContentType,
		Metadata: map[string]string{
			"entries": strconv.Itoa(len(snapshot.Entries)),
			"pending": strconv.Itoa(len(snapshot.Pending)),
		},
	})
	if err != nil {
		return Info{}, fmt.Errorf("store archive: %w", err)
	}
	return info, nil
}

// Restore reads an archived snapshot back by key.
func (a *Archiver) Restore(ctx context.Context, key string) (domain.Snapshot, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load archive: %w", err)
	}
	defer func() { _ = rc.Close() }()
	gz, err := gzip.NewReader(rc)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("decompress archive: %w", err)
	}
	var snapshot domain.Snapshot
	if err := json.NewDecoder(gz).Decode(&snapshot); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("finish decompress: %w", err)
	}
	return snapshot, nil
}

// ListArchives returns the stored archives ordered by key, which sorts by
// write time given the key layout.
func (a *Archiver) ListArchives(ctx context.Context) ([]Info, error) {
	return a.store.List(ctx, a.prefix+"/")
}

// Latest returns the most recent archive key, or empty when none exist.
func (a *Archiver) Latest(ctx context.Context) (string, error) {
	infos, err := a.ListArchives(ctx)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", nil
	}
	return infos[len(infos)-1].Key, nil
}
