// Package tinydb is an embedded storage engine: a paged, checksummed
// store with a shared buffer pool, disk-resident B-tree indexes, and
// slotted table heaps.
//
// The package re-exports the storage core for embedding. SQL parsing,
// planning, and value encoding are deliberately out of scope: rows and
// index keys are opaque bytes, and callers bring their own codec. Index
// keys compare by unsigned byte order, so fixed-width big-endian
// encodings sort numerically.
//
//	eng, err := tinydb.Open(ctx, tinydb.DefaultConfig())
//	tbl, err := eng.CreateTable(ctx, "events")
//	idx, err := tbl.CreateIndex(ctx, "pk", true, keyFunc)
//	rid, err := tbl.InsertRow(ctx, rowBytes)
package tinydb

import (
	"context"

	"github.com/SimonWaldherr/tinyDB/internal/storage"
	"github.com/SimonWaldherr/tinyDB/internal/storage/btree"
	"github.com/SimonWaldherr/tinyDB/internal/storage/dberr"
	"github.com/SimonWaldherr/tinyDB/internal/storage/heap"
)

// Core types, re-exported for embedders.
type (
	Engine      = storage.Engine
	Table       = storage.Table
	Index       = storage.Index
	Config      = storage.EngineConfig
	KeyFunc     = storage.KeyFunc
	TableStats  = storage.TableStats
	EngineStats = storage.EngineStats
	Maintenance = storage.Maintenance
	RowID       = heap.RowID
	Scanner     = heap.Scanner
	Predicate   = heap.Predicate
	IndexEntry  = btree.Entry
)

// Error kinds, testable with errors.Is.
var (
	ErrIO                  = dberr.ErrIO
	ErrCorruption          = dberr.ErrCorruption
	ErrOutOfSpace          = dberr.ErrOutOfSpace
	ErrNoEvictionCandidate = dberr.ErrNoEvictionCandidate
	ErrDuplicateKey        = dberr.ErrDuplicateKey
	ErrNotFound            = dberr.ErrNotFound
	ErrCancelled           = dberr.ErrCancelled
)

// Open opens or creates the database described by cfg.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	return storage.Open(ctx, cfg)
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return storage.DefaultConfig()
}

// LoadConfig reads an engine configuration from a YAML file.
func LoadConfig(path string) (Config, error) {
	return storage.LoadConfig(path)
}

// NewMaintenance schedules background checkpoints for an engine on a
// cron expression.
func NewMaintenance(eng *Engine, spec string) *Maintenance {
	return storage.NewMaintenance(eng, spec)
}
