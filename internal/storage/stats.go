package storage

import (
	"github.com/google/uuid"

	"github.com/SimonWaldherr/tinyDB/internal/storage/buffer"
)

// TableStats is the statistics snapshot exposed to the planner.
type TableStats struct {
	RowCount   uint64
	PageCount  uint64
	AvgRowSize uint64
	FreeSpace  uint64
	BufferPool buffer.Stats
}

// EngineStats summarizes the whole database file.
type EngineStats struct {
	DatabaseID uuid.UUID
	PageCount  uint64
	FreePages  int
	Tables     int
	BufferPool buffer.Stats
}
