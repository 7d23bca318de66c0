// Package page implements the fixed-size slotted page, the smallest unit
// of I/O and caching in tinyDB.
//
// Every page is exactly 4 KiB. The layout is:
//
//	[0..64]          Header
//	[64..64+4*N]     Slot directory (4 bytes per slot, grows upward)
//	... free space ...
//	[dataStart..4096] Record data (grows downward from the page end)
//
// Header (64 bytes, all integers little-endian):
//
//	[0:8]    PageNum        (uint64)
//	[8:16]   PrevPage       (uint64, 0 = none)
//	[16:24]  NextPage       (uint64, 0 = none)
//	[24:26]  FreeSpaceOffset (uint16) — first byte beyond the slot directory
//	[26:28]  SlotCount      (uint16)
//	[28:32]  Checksum       (uint32) — XOR of all u32 words, field zeroed
//	[32]     Flags          (uint8)
//	[33]     PageType       (uint8)
//	[34:36]  DataStart      (uint16) — lowest record byte, 4096 when empty
//	[36:64]  Reserved
//
// Each slot entry is 4 bytes: record offset (uint16) + length (uint16).
// A slot with length 0 is a tombstone; its index is never reused so that
// row ids referencing this page stay stable.
package page

import (
	"encoding/binary"
	"fmt"

	"github.com/SimonWaldherr/tinyDB/internal/storage/dberr"
)

// ───────────────────────────────────────────────────────────────────────────
// Constants
// ───────────────────────────────────────────────────────────────────────────

const (
	// Size is the fixed page size in bytes.
	Size = 4096

	// HeaderSize is the size of the page header in bytes.
	HeaderSize = 64

	// SlotSize is the size of one slot directory entry in bytes.
	SlotSize = 4

	// MaxRecordSize is the largest record a single empty page can hold.
	MaxRecordSize = Size - HeaderSize - SlotSize
)

const (
	offPageNum    = 0
	offPrevPage   = 8
	offNextPage   = 16
	offFreeSpace  = 24
	offSlotCount  = 26
	offChecksum   = 28
	offFlags      = 32
	offPageType   = 33
	offDataStart  = 34
	checksumField = offChecksum
)

// ───────────────────────────────────────────────────────────────────────────
// Page types
// ───────────────────────────────────────────────────────────────────────────

// Type identifies the kind of data stored in a page.
type Type uint8

const (
	TypeData     Type = 0
	TypeIndex    Type = 1
	TypeOverflow Type = 2
	TypeFree     Type = 3
)

// String returns a human-readable label for the page type.
func (t Type) String() string {
	switch t {
	case TypeData:
		return "Data"
	case TypeIndex:
		return "Index"
	case TypeOverflow:
		return "Overflow"
	case TypeFree:
		return "Free"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(t))
	}
}

func (t Type) valid() bool { return t <= TypeFree }

// ───────────────────────────────────────────────────────────────────────────
// Core types
// ───────────────────────────────────────────────────────────────────────────

// ID is the logical page address: a file identifier plus the page number
// within that file. IDs are stable for the lifetime of the database file.
type ID struct {
	FileID  uint64
	PageNum uint64
}

// String formats an ID as file:page.
func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.FileID, id.PageNum)
}

// Slot describes one slot directory entry.
type Slot struct {
	Offset uint16
	Length uint16
}

// Page wraps a raw 4 KiB buffer and provides record-level operations.
type Page struct {
	id  ID
	buf []byte
}

// New produces a zeroed page with an empty slot directory and a fresh
// checksum.
func New(id ID) *Page {
	p := &Page{id: id, buf: make([]byte, Size)}
	binary.LittleEndian.PutUint64(p.buf[offPageNum:], id.PageNum)
	p.setFreeSpaceOffset(HeaderSize)
	p.setDataStart(Size)
	p.UpdateChecksum()
	return p
}

// Load wraps bytes read from disk, validating length, checksum and page
// type. Corrupt input surfaces as dberr.ErrCorruption; untrusted bytes
// never panic.
func Load(id ID, buf []byte) (*Page, error) {
	if len(buf) != Size {
		return nil, fmt.Errorf("page %s: %d bytes: %w", id, len(buf), dberr.ErrCorruption)
	}
	p := &Page{id: id, buf: buf}
	if !p.VerifyChecksum() {
		return nil, fmt.Errorf("page %s: checksum mismatch: %w", id, dberr.ErrCorruption)
	}
	if !p.Type().valid() {
		return nil, fmt.Errorf("page %s: page type 0x%02x: %w", id, uint8(p.Type()), dberr.ErrCorruption)
	}
	if int(p.FreeSpaceOffset()) != HeaderSize+p.SlotCount()*SlotSize || int(p.dataStart()) > Size {
		return nil, fmt.Errorf("page %s: inconsistent header: %w", id, dberr.ErrCorruption)
	}
	if got := binary.LittleEndian.Uint64(buf[offPageNum:]); got != id.PageNum {
		return nil, fmt.Errorf("page %s: header claims page %d: %w", id, got, dberr.ErrCorruption)
	}
	return p, nil
}

// ID returns the page's logical address.
func (p *Page) ID() ID { return p.id }

// Bytes returns the underlying 4 KiB buffer.
func (p *Page) Bytes() []byte { return p.buf }

// ── Header accessors ──────────────────────────────────────────────────────

// Type returns the page type byte.
func (p *Page) Type() Type { return Type(p.buf[offPageType]) }

// SetType sets the page type and refreshes the checksum.
func (p *Page) SetType(t Type) {
	p.buf[offPageType] = byte(t)
	p.UpdateChecksum()
}

// Flags returns the header flags byte.
func (p *Page) Flags() uint8 { return p.buf[offFlags] }

// SetFlags sets the header flags byte.
func (p *Page) SetFlags(f uint8) {
	p.buf[offFlags] = f
	p.UpdateChecksum()
}

// PrevPage returns the previous page number in a chain, 0 for none.
func (p *Page) PrevPage() uint64 {
	return binary.LittleEndian.Uint64(p.buf[offPrevPage:])
}

// SetPrevPage links the page to its chain predecessor.
func (p *Page) SetPrevPage(n uint64) {
	binary.LittleEndian.PutUint64(p.buf[offPrevPage:], n)
	p.UpdateChecksum()
}

// NextPage returns the next page number in a chain, 0 for none.
func (p *Page) NextPage() uint64 {
	return binary.LittleEndian.Uint64(p.buf[offNextPage:])
}

// SetNextPage links the page to its chain successor.
func (p *Page) SetNextPage(n uint64) {
	binary.LittleEndian.PutUint64(p.buf[offNextPage:], n)
	p.UpdateChecksum()
}

// FreeSpaceOffset is the first byte beyond the slot directory.
func (p *Page) FreeSpaceOffset() uint16 {
	return binary.LittleEndian.Uint16(p.buf[offFreeSpace:])
}

func (p *Page) setFreeSpaceOffset(off int) {
	binary.LittleEndian.PutUint16(p.buf[offFreeSpace:], uint16(off))
}

// SlotCount returns the number of slots, tombstones included.
func (p *Page) SlotCount() int {
	return int(binary.LittleEndian.Uint16(p.buf[offSlotCount:]))
}

func (p *Page) setSlotCount(n int) {
	binary.LittleEndian.PutUint16(p.buf[offSlotCount:], uint16(n))
}

func (p *Page) dataStart() uint16 {
	return binary.LittleEndian.Uint16(p.buf[offDataStart:])
}

func (p *Page) setDataStart(off int) {
	binary.LittleEndian.PutUint16(p.buf[offDataStart:], uint16(off))
}

// ── Slot directory ────────────────────────────────────────────────────────

// GetSlot returns the slot entry at index i. The caller must hold i in
// range.
func (p *Page) GetSlot(i int) Slot {
	off := HeaderSize + i*SlotSize
	return Slot{
		Offset: binary.LittleEndian.Uint16(p.buf[off:]),
		Length: binary.LittleEndian.Uint16(p.buf[off+2:]),
	}
}

func (p *Page) setSlot(i int, s Slot) {
	off := HeaderSize + i*SlotSize
	binary.LittleEndian.PutUint16(p.buf[off:], s.Offset)
	binary.LittleEndian.PutUint16(p.buf[off+2:], s.Length)
}

// IsTombstone reports whether slot i marks a deleted record.
func (p *Page) IsTombstone(i int) bool {
	return p.GetSlot(i).Length == 0
}

// LiveRecords returns the count of non-deleted records.
func (p *Page) LiveRecords() int {
	n := 0
	for i := 0; i < p.SlotCount(); i++ {
		if !p.IsTombstone(i) {
			n++
		}
	}
	return n
}

// ── Free space accounting ─────────────────────────────────────────────────

// FreeSpace returns the number of reclaimable bytes: everything not used
// by the header, the slot directory, or live record data. Space stranded
// by tombstones and in-place shrinks counts as free; InsertRecord compacts
// on demand to make it contiguous.
func (p *Page) FreeSpace() int {
	free := Size - HeaderSize - p.SlotCount()*SlotSize
	for i := 0; i < p.SlotCount(); i++ {
		free -= int(p.GetSlot(i).Length)
	}
	return free
}

// contiguousGap is the byte count between the slot directory (plus one
// pending slot) and the record data region.
func (p *Page) contiguousGap() int {
	return int(p.dataStart()) - int(p.FreeSpaceOffset()) - SlotSize
}

// ── Record operations ─────────────────────────────────────────────────────

// InsertRecord appends a record and returns its slot id. A new slot is
// always allocated at index SlotCount; tombstoned slots keep their ids.
// Returns dberr.ErrOutOfSpace when the record plus its slot cannot fit.
func (p *Page) InsertRecord(data []byte) (uint16, error) {
	needed := len(data) + SlotSize
	if needed > p.FreeSpace() {
		return 0, fmt.Errorf("page %s: need %d bytes, have %d: %w",
			p.id, needed, p.FreeSpace(), dberr.ErrOutOfSpace)
	}
	if len(data) > p.contiguousGap() {
		p.Compact()
	}

	sc := p.SlotCount()
	newStart := int(p.dataStart()) - len(data)
	copy(p.buf[newStart:], data)
	p.setDataStart(newStart)
	p.setSlot(sc, Slot{Offset: uint16(newStart), Length: uint16(len(data))})
	p.setSlotCount(sc + 1)
	p.setFreeSpaceOffset(HeaderSize + (sc+1)*SlotSize)
	p.UpdateChecksum()
	return uint16(sc), nil
}

// ReadRecord returns the record bytes at the given slot. The returned
// slice aliases the page buffer; callers that outlive the pin must copy.
func (p *Page) ReadRecord(slotID uint16) ([]byte, error) {
	if int(slotID) >= p.SlotCount() {
		return nil, fmt.Errorf("page %s: slot %d of %d: %w",
			p.id, slotID, p.SlotCount(), dberr.ErrInvalidSlot)
	}
	s := p.GetSlot(int(slotID))
	if s.Length == 0 {
		return nil, fmt.Errorf("page %s: slot %d: %w", p.id, slotID, dberr.ErrTombstone)
	}
	if int(s.Offset)+int(s.Length) > Size || int(s.Offset) < HeaderSize {
		return nil, fmt.Errorf("page %s: slot %d out of bounds: %w", p.id, slotID, dberr.ErrCorruption)
	}
	return p.buf[s.Offset : int(s.Offset)+int(s.Length)], nil
}

// UpdateRecord replaces the record at slotID. Shorter-or-equal data is
// written in place (the remainder stays reserved until Compact). Longer
// data tombstones the old slot and appends a new record; the returned
// slot id is where the record now lives.
func (p *Page) UpdateRecord(slotID uint16, data []byte) (uint16, error) {
	if int(slotID) >= p.SlotCount() {
		return 0, fmt.Errorf("page %s: slot %d of %d: %w",
			p.id, slotID, p.SlotCount(), dberr.ErrInvalidSlot)
	}
	old := p.GetSlot(int(slotID))
	if old.Length == 0 {
		return 0, fmt.Errorf("page %s: slot %d: %w", p.id, slotID, dberr.ErrTombstone)
	}

	if len(data) <= int(old.Length) {
		copy(p.buf[old.Offset:], data)
		for i := int(old.Offset) + len(data); i < int(old.Offset)+int(old.Length); i++ {
			p.buf[i] = 0
		}
		p.setSlot(int(slotID), Slot{Offset: old.Offset, Length: uint16(len(data))})
		p.UpdateChecksum()
		return slotID, nil
	}

	// Does not fit in place: tombstone, then append.
	p.setSlot(int(slotID), Slot{})
	p.UpdateChecksum()
	newSlot, err := p.InsertRecord(data)
	if err != nil {
		// Restore the old slot so the failed update is a no-op.
		p.setSlot(int(slotID), old)
		p.UpdateChecksum()
		return 0, err
	}
	return newSlot, nil
}

// DeleteRecord tombstones the slot, keeping its index for stable external
// references.
func (p *Page) DeleteRecord(slotID uint16) error {
	if int(slotID) >= p.SlotCount() {
		return fmt.Errorf("page %s: slot %d of %d: %w",
			p.id, slotID, p.SlotCount(), dberr.ErrInvalidSlot)
	}
	p.setSlot(int(slotID), Slot{})
	p.UpdateChecksum()
	return nil
}

// Compact rebuilds the record region, squeezing out space left by deletes
// and shrinking updates. Live records keep their slot ids; tombstones keep
// their indexes at length 0.
func (p *Page) Compact() {
	type rec struct {
		slot int
		data []byte
	}
	var live []rec
	for i := 0; i < p.SlotCount(); i++ {
		s := p.GetSlot(i)
		if s.Length == 0 {
			continue
		}
		cp := make([]byte, s.Length)
		copy(cp, p.buf[s.Offset:int(s.Offset)+int(s.Length)])
		live = append(live, rec{slot: i, data: cp})
	}

	for i := int(p.dataStart()); i < Size; i++ {
		p.buf[i] = 0
	}
	end := Size
	for _, r := range live {
		end -= len(r.data)
		copy(p.buf[end:], r.data)
		p.setSlot(r.slot, Slot{Offset: uint16(end), Length: uint16(len(r.data))})
	}
	p.setDataStart(end)
	p.UpdateChecksum()
}

// ── Raw access ────────────────────────────────────────────────────────────

// ReadAt returns n bytes at off, bounds-checked against the page.
func (p *Page) ReadAt(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > Size {
		return nil, fmt.Errorf("page %s: read [%d:%d]: %w", p.id, off, off+n, dberr.ErrCorruption)
	}
	return p.buf[off : off+n], nil
}

// WriteAt copies data into the page at off, bounds-checked. The caller is
// responsible for calling UpdateChecksum once its writes are complete.
func (p *Page) WriteAt(off int, data []byte) error {
	if off < 0 || off+len(data) > Size {
		return fmt.Errorf("page %s: write [%d:%d]: %w", p.id, off, off+len(data), dberr.ErrCorruption)
	}
	copy(p.buf[off:], data)
	return nil
}

// ── Checksum ──────────────────────────────────────────────────────────────

// Checksum computes the XOR of all little-endian u32 words of buf with the
// 4-byte field at fieldOff treated as zero.
func Checksum(buf []byte, fieldOff int) uint32 {
	var sum uint32
	for off := 0; off+4 <= len(buf); off += 4 {
		if off == fieldOff {
			continue
		}
		sum ^= binary.LittleEndian.Uint32(buf[off:])
	}
	return sum
}

// UpdateChecksum recomputes and stores the page checksum.
func (p *Page) UpdateChecksum() {
	binary.LittleEndian.PutUint32(p.buf[offChecksum:], Checksum(p.buf, checksumField))
}

// VerifyChecksum recomputes the checksum and compares it with the stored
// value.
func (p *Page) VerifyChecksum() bool {
	stored := binary.LittleEndian.Uint32(p.buf[offChecksum:])
	return stored == Checksum(p.buf, checksumField)
}
