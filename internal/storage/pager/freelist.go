package pager

import (
	"encoding/binary"

	"github.com/SimonWaldherr/tinyDB/internal/storage/page"
)

// ───────────────────────────────────────────────────────────────────────────
// Free-list pages
// ───────────────────────────────────────────────────────────────────────────
//
// Freed pages are tracked in an in-memory set and persisted at checkpoint
// as a singly-linked chain of Free-type pages. Within a free-list page the
// data region after the common header holds:
//
//	[64:72]  NextFreeList (uint64, 0 = end of chain)
//	[72:76]  EntryCount   (uint32)
//	[76:...] PageNum entries (uint64 each)

const (
	flNextOff  = page.HeaderSize
	flCountOff = flNextOff + 8
	flDataOff  = flCountOff + 4
	flEntryLen = 8
)

// freeListCapacity is how many page numbers fit in one free-list page.
func freeListCapacity() int {
	return (page.Size - flDataOff) / flEntryLen
}

func freeListNext(p *page.Page) uint64 {
	return binary.LittleEndian.Uint64(p.Bytes()[flNextOff:])
}

func freeListEntries(p *page.Page) []uint64 {
	buf := p.Bytes()
	count := int(binary.LittleEndian.Uint32(buf[flCountOff:]))
	if count > freeListCapacity() {
		count = freeListCapacity()
	}
	out := make([]uint64, count)
	for i := 0; i < count; i++ {
		out[i] = binary.LittleEndian.Uint64(buf[flDataOff+i*flEntryLen:])
	}
	return out
}

// writeFreeListPage fills a fresh Free page with entries and the next
// pointer, stamping the checksum.
func writeFreeListPage(p *page.Page, next uint64, entries []uint64) {
	buf := p.Bytes()
	binary.LittleEndian.PutUint64(buf[flNextOff:], next)
	binary.LittleEndian.PutUint32(buf[flCountOff:], uint32(len(entries)))
	for i, e := range entries {
		binary.LittleEndian.PutUint64(buf[flDataOff+i*flEntryLen:], e)
	}
	p.SetType(page.TypeFree)
}

// ───────────────────────────────────────────────────────────────────────────
// FreeManager
// ───────────────────────────────────────────────────────────────────────────

// FreeManager tracks free page numbers in memory; the pager consults it on
// allocation so freed pages are reused before the file grows.
type FreeManager struct {
	free map[uint64]struct{}
}

// NewFreeManager creates an empty FreeManager.
func NewFreeManager() *FreeManager {
	return &FreeManager{free: map[uint64]struct{}{}}
}

// Load walks the on-disk chain starting at head and populates the set.
// readPage reads a raw page by number.
func (fm *FreeManager) Load(head uint64, readPage func(uint64) (*page.Page, error)) error {
	num := head
	for num != 0 {
		p, err := readPage(num)
		if err != nil {
			return err
		}
		for _, e := range freeListEntries(p) {
			fm.free[e] = struct{}{}
		}
		num = freeListNext(p)
	}
	return nil
}

// Alloc pops a free page number, or 0 when the set is empty.
func (fm *FreeManager) Alloc() uint64 {
	for num := range fm.free {
		delete(fm.free, num)
		return num
	}
	return 0
}

// Free marks a page number as reusable.
func (fm *FreeManager) Free(num uint64) {
	fm.free[num] = struct{}{}
}

// Count returns the number of free pages.
func (fm *FreeManager) Count() int { return len(fm.free) }

// All returns every free page number (unsorted).
func (fm *FreeManager) All() []uint64 {
	out := make([]uint64, 0, len(fm.free))
	for num := range fm.free {
		out = append(out, num)
	}
	return out
}
