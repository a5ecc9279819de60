// Package blob selects and wraps blob storage backends for snapshot archives.
package blob

import (
	"context"
	"fmt"
	"os"

	"resourcecache/internal/blob/core"
	"resourcecache/internal/infra/blob/fs"
	"resourcecache/internal/infra/blob/memory"
	"resourcecache/internal/infra/blob/s3"
)

// Re-exported abstractions so callers depend on one package.
type (
	Driver           = core.Driver
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
	Info             = core.Info
	Store            = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// ErrUnsupported is returned when an optional capability is not available.
var ErrUnsupported = core.ErrUnsupported

// Open selects a blob Store implementation using environment variables.
//
//	RESOURCECACHE_BLOB_DRIVER: fs|s3|memory (default fs)
//	RESOURCECACHE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in the s3 package)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("RESOURCECACHE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return fs.New(os.Getenv("RESOURCECACHE_BLOB_FS_ROOT"))
	case DriverS3:
		return s3.OpenFromEnv(ctx)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
