// Package dberr defines the error kinds surfaced by the storage core.
//
// Callers classify failures with errors.Is against these sentinels; the
// storage packages wrap them with context via fmt.Errorf("...: %w", ...).
package dberr

import "errors"

var (
	// ErrIO indicates an underlying file read or write failed.
	ErrIO = errors.New("i/o error")

	// ErrCorruption indicates a checksum mismatch, an invalid page type,
	// an out-of-range slot on a page believed valid, or a tree invariant
	// violation detected at read time.
	ErrCorruption = errors.New("corrupted data")

	// ErrOutOfSpace indicates a page cannot hold a record that must fit.
	ErrOutOfSpace = errors.New("insufficient space in page")

	// ErrNoEvictionCandidate indicates the buffer pool is full and every
	// entry is pinned. Recoverable: retry after releasing pins.
	ErrNoEvictionCandidate = errors.New("no page available for eviction")

	// ErrDuplicateKey indicates a unique index rejected an insert.
	ErrDuplicateKey = errors.New("duplicate key in unique index")

	// ErrNotFound indicates a search miss where a hit was required.
	ErrNotFound = errors.New("not found")

	// ErrCancelled indicates cooperative cancellation was observed.
	ErrCancelled = errors.New("operation cancelled")

	// ErrClosed indicates use after Close.
	ErrClosed = errors.New("storage engine closed")

	// ErrInvalidSlot indicates a slot id at or beyond the slot count.
	ErrInvalidSlot = errors.New("invalid slot id")

	// ErrTombstone indicates a read of a deleted record.
	ErrTombstone = errors.New("record deleted")

	// ErrKeyTooLarge indicates a key exceeding the configured maximum.
	ErrKeyTooLarge = errors.New("key exceeds max key size")

	// ErrPoisoned indicates a tree handle disabled by earlier corruption.
	ErrPoisoned = errors.New("tree poisoned by earlier corruption")
)
