package pager

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/SimonWaldherr/tinyDB/internal/storage/dberr"
	"github.com/SimonWaldherr/tinyDB/internal/storage/page"
)

// ───────────────────────────────────────────────────────────────────────────
// Superblock
// ───────────────────────────────────────────────────────────────────────────
//
// Page 0 of every database file is the superblock. Layout (little-endian):
//
//	[0:8]    Magic             (uint64)
//	[8:12]   FormatVersion     (uint32)
//	[12:16]  Flags             (uint32)
//	[16:24]  RootDirectoryPage (uint64)
//	[24:32]  FreeListHead      (uint64)
//	[32:40]  PageCount         (uint64)
//	[40:44]  Checksum          (uint32) — XOR of u32 words, field zeroed
//	[44:48]  Reserved
//	[48:64]  DatabaseID        (16-byte UUID)
//	[64:72]  FileID            (uint64)
//
// Data pages are addressed by page_num starting at 1.

const (
	// Magic identifies a tinyDB database file.
	Magic uint64 = 0x5255535444420001

	// FormatVersion is the current on-disk format version.
	FormatVersion uint32 = 1
)

const (
	sbMagicOff    = 0
	sbVersionOff  = 8
	sbFlagsOff    = 12
	sbRootDirOff  = 16
	sbFreeListOff = 24
	sbPageCntOff  = 32
	sbChecksumOff = 40
	sbUUIDOff     = 48
	sbFileIDOff   = 64
)

// Superblock carries the file-level metadata stored in page 0.
type Superblock struct {
	Magic             uint64
	Version           uint32
	Flags             uint32
	RootDirectoryPage uint64
	FreeListHead      uint64
	PageCount         uint64
	DatabaseID        uuid.UUID
	FileID            uint64
}

// NewSuperblock builds the superblock for a freshly created file: one page
// (the superblock itself), no directory, no free list, a new database id.
func NewSuperblock(fileID uint64) *Superblock {
	return &Superblock{
		Magic:      Magic,
		Version:    FormatVersion,
		PageCount:  1,
		DatabaseID: uuid.New(),
		FileID:     fileID,
	}
}

// MarshalSuperblock writes the superblock into a full page-sized buffer
// and stamps its checksum.
func MarshalSuperblock(sb *Superblock) []byte {
	buf := make([]byte, page.Size)
	binary.LittleEndian.PutUint64(buf[sbMagicOff:], sb.Magic)
	binary.LittleEndian.PutUint32(buf[sbVersionOff:], sb.Version)
	binary.LittleEndian.PutUint32(buf[sbFlagsOff:], sb.Flags)
	binary.LittleEndian.PutUint64(buf[sbRootDirOff:], sb.RootDirectoryPage)
	binary.LittleEndian.PutUint64(buf[sbFreeListOff:], sb.FreeListHead)
	binary.LittleEndian.PutUint64(buf[sbPageCntOff:], sb.PageCount)
	copy(buf[sbUUIDOff:sbUUIDOff+16], sb.DatabaseID[:])
	binary.LittleEndian.PutUint64(buf[sbFileIDOff:], sb.FileID)
	binary.LittleEndian.PutUint32(buf[sbChecksumOff:], page.Checksum(buf, sbChecksumOff))
	return buf
}

// UnmarshalSuperblock parses and validates page 0.
func UnmarshalSuperblock(buf []byte) (*Superblock, error) {
	if len(buf) != page.Size {
		return nil, fmt.Errorf("superblock: %d bytes: %w", len(buf), dberr.ErrCorruption)
	}
	stored := binary.LittleEndian.Uint32(buf[sbChecksumOff:])
	if stored != page.Checksum(buf, sbChecksumOff) {
		return nil, fmt.Errorf("superblock: checksum mismatch: %w", dberr.ErrCorruption)
	}
	sb := &Superblock{
		Magic:             binary.LittleEndian.Uint64(buf[sbMagicOff:]),
		Version:           binary.LittleEndian.Uint32(buf[sbVersionOff:]),
		Flags:             binary.LittleEndian.Uint32(buf[sbFlagsOff:]),
		RootDirectoryPage: binary.LittleEndian.Uint64(buf[sbRootDirOff:]),
		FreeListHead:      binary.LittleEndian.Uint64(buf[sbFreeListOff:]),
		PageCount:         binary.LittleEndian.Uint64(buf[sbPageCntOff:]),
		FileID:            binary.LittleEndian.Uint64(buf[sbFileIDOff:]),
	}
	copy(sb.DatabaseID[:], buf[sbUUIDOff:sbUUIDOff+16])
	if sb.Magic != Magic {
		return nil, fmt.Errorf("superblock: bad magic 0x%016x: %w", sb.Magic, dberr.ErrCorruption)
	}
	if sb.Version != FormatVersion {
		return nil, fmt.Errorf("superblock: unsupported format version %d: %w", sb.Version, dberr.ErrCorruption)
	}
	return sb, nil
}
