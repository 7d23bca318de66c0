// Package heap implements the append-oriented row store: slotted Data
// pages threaded into a chain by their next-page pointers, addressed by
// 64-bit row ids packing (file, page, slot).
package heap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/SimonWaldherr/tinyDB/internal/storage/buffer"
	"github.com/SimonWaldherr/tinyDB/internal/storage/dberr"
	"github.com/SimonWaldherr/tinyDB/internal/storage/page"
	"github.com/SimonWaldherr/tinyDB/internal/storage/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Row ids
// ───────────────────────────────────────────────────────────────────────────
//
// A row id packs (file_id << 48) | (page_num << 16) | slot_id.

// RowID identifies one row for the lifetime of the database.
type RowID uint64

// MakeRowID packs a page address and slot into a row id, asserting the
// component bounds (file < 2^16, page < 2^32, slot < 2^16).
func MakeRowID(id page.ID, slot uint16) (RowID, error) {
	if id.FileID >= 1<<16 {
		return 0, fmt.Errorf("file id %d exceeds 16 bits: %w", id.FileID, dberr.ErrCorruption)
	}
	if id.PageNum >= 1<<32 {
		return 0, fmt.Errorf("page %d exceeds 32 bits: %w", id.PageNum, dberr.ErrCorruption)
	}
	return RowID(id.FileID<<48 | id.PageNum<<16 | uint64(slot)), nil
}

// Split unpacks a row id into its page address and slot.
func (r RowID) Split() (page.ID, uint16) {
	return page.ID{
		FileID:  uint64(r) >> 48,
		PageNum: uint64(r) >> 16 & 0xFFFFFFFF,
	}, uint16(r & 0xFFFF)
}

// ───────────────────────────────────────────────────────────────────────────
// Heap
// ───────────────────────────────────────────────────────────────────────────

// Stats summarizes a heap for the statistics snapshot.
type Stats struct {
	RowCount   uint64
	PageCount  uint64
	AvgRowSize uint64
	FreeSpace  uint64
}

// Heap is one table's row store. Writers are serialized; readers and the
// scanner run concurrently under page latches.
type Heap struct {
	pool   *buffer.Pool
	pager  *pager.Pager
	fileID uint64
	first  uint64 // first page of the chain

	mu sync.Mutex // serializes inserts so chain growth is single-writer
}

// Create allocates the first page of a fresh heap.
func Create(ctx context.Context, pool *buffer.Pool, pg *pager.Pager) (*Heap, error) {
	id, err := pg.Allocate(ctx)
	if err != nil {
		return nil, err
	}
	h, err := pool.NewPage(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := h.Release(); err != nil {
		return nil, err
	}
	return &Heap{pool: pool, pager: pg, fileID: pg.FileID(), first: id.PageNum}, nil
}

// Open binds to an existing heap chain starting at first.
func Open(first uint64, pool *buffer.Pool, pg *pager.Pager) *Heap {
	return &Heap{pool: pool, pager: pg, fileID: pg.FileID(), first: first}
}

// FirstPage returns the head of the page chain; the table directory
// persists it.
func (hp *Heap) FirstPage() uint64 { return hp.first }

func (hp *Heap) pageID(num uint64) page.ID {
	return page.ID{FileID: hp.fileID, PageNum: num}
}

// InsertRow stores a row and returns its id. The chain is searched
// first-fit; a new page is linked to the tail when no page can hold the
// row.
func (hp *Heap) InsertRow(ctx context.Context, row []byte) (RowID, error) {
	if len(row)+page.SlotSize > page.MaxRecordSize {
		return 0, fmt.Errorf("row of %d bytes: %w", len(row), dberr.ErrOutOfSpace)
	}
	hp.mu.Lock()
	defer hp.mu.Unlock()

	num := hp.first
	var tail uint64
	for num != 0 {
		h, err := hp.pool.GetPage(ctx, hp.pageID(num))
		if err != nil {
			return 0, err
		}
		h.Lock()
		pg := h.Page()
		if len(row)+page.SlotSize <= pg.FreeSpace() && pg.SlotCount() < 1<<16-1 {
			slot, err := pg.InsertRecord(row)
			h.Unlock()
			if rerr := h.Release(); rerr != nil && err == nil {
				err = rerr
			}
			if err != nil {
				return 0, err
			}
			return MakeRowID(hp.pageID(num), slot)
		}
		next := pg.NextPage()
		h.Unlock()
		if err := h.Release(); err != nil {
			return 0, err
		}
		tail = num
		num = next
	}

	// Every page is full: grow the chain.
	newID, err := hp.pager.Allocate(ctx)
	if err != nil {
		return 0, err
	}
	nh, err := hp.pool.NewPage(ctx, newID)
	if err != nil {
		return 0, err
	}
	nh.Lock()
	nh.Page().SetPrevPage(tail)
	slot, ierr := nh.Page().InsertRecord(row)
	nh.Unlock()
	if rerr := nh.Release(); rerr != nil && ierr == nil {
		ierr = rerr
	}
	if ierr != nil {
		return 0, ierr
	}

	th, err := hp.pool.GetPage(ctx, hp.pageID(tail))
	if err != nil {
		return 0, err
	}
	th.Lock()
	th.Page().SetNextPage(newID.PageNum)
	th.Unlock()
	if err := th.Release(); err != nil {
		return 0, err
	}
	return MakeRowID(newID, slot)
}

// ReadRow returns a copy of the row's bytes. Deleted rows surface as
// dberr.ErrNotFound.
func (hp *Heap) ReadRow(ctx context.Context, rid RowID) ([]byte, error) {
	id, slot := rid.Split()
	h, err := hp.pool.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}
	h.RLock()
	raw, err := h.Page().ReadRecord(slot)
	var row []byte
	if err == nil {
		row = append([]byte(nil), raw...)
	}
	h.RUnlock()
	if rerr := h.Release(); rerr != nil && err == nil {
		err = rerr
	}
	if errors.Is(err, dberr.ErrTombstone) {
		return nil, fmt.Errorf("row %d: %w", rid, dberr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// UpdateRow replaces a row in place when it fits, otherwise relocates it
// (possibly to another page). The returned id is where the row now lives.
func (hp *Heap) UpdateRow(ctx context.Context, rid RowID, row []byte) (RowID, error) {
	id, slot := rid.Split()
	h, err := hp.pool.GetPage(ctx, id)
	if err != nil {
		return 0, err
	}
	h.Lock()
	newSlot, uerr := h.Page().UpdateRecord(slot, row)
	h.Unlock()
	if rerr := h.Release(); rerr != nil && uerr == nil {
		uerr = rerr
	}
	switch {
	case uerr == nil:
		return MakeRowID(id, newSlot)
	case errors.Is(uerr, dberr.ErrTombstone):
		return 0, fmt.Errorf("row %d: %w", rid, dberr.ErrNotFound)
	case errors.Is(uerr, dberr.ErrOutOfSpace):
		// No room on the original page: move the row.
		if err := hp.DeleteRow(ctx, rid); err != nil {
			return 0, err
		}
		return hp.InsertRow(ctx, row)
	default:
		return 0, uerr
	}
}

// DeleteRow tombstones a row. The slot id stays reserved so later row ids
// on the page remain valid.
func (hp *Heap) DeleteRow(ctx context.Context, rid RowID) error {
	id, slot := rid.Split()
	h, err := hp.pool.GetPage(ctx, id)
	if err != nil {
		return err
	}
	h.Lock()
	derr := h.Page().DeleteRecord(slot)
	h.Unlock()
	if rerr := h.Release(); rerr != nil && derr == nil {
		derr = rerr
	}
	return derr
}

// Stats walks the chain and aggregates row and space accounting.
func (hp *Heap) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var liveBytes uint64

	num := hp.first
	for num != 0 {
		h, err := hp.pool.GetPage(ctx, hp.pageID(num))
		if err != nil {
			return Stats{}, err
		}
		h.RLock()
		pg := h.Page()
		st.PageCount++
		st.FreeSpace += uint64(pg.FreeSpace())
		for i := 0; i < pg.SlotCount(); i++ {
			if s := pg.GetSlot(i); s.Length > 0 {
				st.RowCount++
				liveBytes += uint64(s.Length)
			}
		}
		next := pg.NextPage()
		h.RUnlock()
		if err := h.Release(); err != nil {
			return Stats{}, err
		}
		num = next
	}
	if st.RowCount > 0 {
		st.AvgRowSize = liveBytes / st.RowCount
	}
	return st, nil
}
