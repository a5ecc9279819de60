package core

import (
	"fmt"
	"os"

	"resourcecache/internal/infra/persistence/memory"
	"resourcecache/internal/infra/persistence/postgres"
	"resourcecache/internal/infra/persistence/sqlite"
	"resourcecache/pkg/domain"
)

// StorageDriver identifies a concrete snapshot persistence implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenSnapshotStore selects a snapshot backend using environment variables.
// Defaults to sqlite when unset.
//
//	RESOURCECACHE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	RESOURCECACHE_SQLITE_PATH: path to sqlite file (default ./resourcecache.db)
//	RESOURCECACHE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenSnapshotStore() (domain.SnapshotStore, error) {
	driver := os.Getenv("RESOURCECACHE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("RESOURCECACHE_SQLITE_PATH"))
	case StoragePostgres:
		return postgres.NewStore(os.Getenv("RESOURCECACHE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
