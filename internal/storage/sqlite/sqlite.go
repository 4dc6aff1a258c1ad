// Package sqlite persists the sync store in a single sqlite database,
// spilling oversized payloads to the filesystem next to it.
package sqlite

import (
	"fmt"
	"os"
	"sync/atomic"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"csync/internal/storage"
)

// DB bundles the shared database handle for the blob store and the
// history index, plus the store-wide revision counter.
type DB struct {
	db     *gorm.DB
	fsPath string
	cfg    storage.Config

	rev atomic.Uint64
}

// Open opens (creating if necessary) the database and migrates the schema.
func Open(cfg storage.Config) (*DB, error) {
	gdb, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := gdb.AutoMigrate(&storage.BlobModel{}, &storage.EntryModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	if err := os.MkdirAll(cfg.FSPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = storage.DefaultMaxEntries
	}
	if cfg.Eviction == "" {
		cfg.Eviction = storage.PolicyFIFO
	}

	return &DB{db: gdb, fsPath: cfg.FSPath, cfg: cfg}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.Close()
}

// Revision returns the current store revision. It grows on every
// mutation, so readers can poll it instead of re-listing.
func (d *DB) Revision() uint64 {
	return d.rev.Load()
}

func (d *DB) growRev() {
	d.rev.Add(1)
}
