package pager

import (
	"os"

	"github.com/dsnet/golib/memfile"
	"github.com/ncw/directio"
)

// BlockFile is the backing store for a page file. All pager I/O happens in
// whole page-sized blocks against this interface.
type BlockFile interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
	Close() error
}

// osFile is the regular buffered-file backend.
type osFile struct {
	*os.File
}

// directFile wraps an O_DIRECT file descriptor. Direct I/O requires
// sector-aligned buffers, so transfers go through an aligned scratch
// block.
type directFile struct {
	f *os.File
}

func (d *directFile) ReadAt(p []byte, off int64) (int, error) {
	block := directio.AlignedBlock(len(p))
	n, err := d.f.ReadAt(block, off)
	copy(p, block[:n])
	return n, err
}

func (d *directFile) WriteAt(p []byte, off int64) (int, error) {
	block := directio.AlignedBlock(len(p))
	copy(block, p)
	return d.f.WriteAt(block, off)
}

func (d *directFile) Sync() error  { return d.f.Sync() }
func (d *directFile) Close() error { return d.f.Close() }

// openBlockFile opens (or creates) the database file at path, with
// O_DIRECT when direct is set.
func openBlockFile(path string, direct bool) (BlockFile, error) {
	if direct {
		f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, err
		}
		return &directFile{f: f}, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &osFile{File: f}, nil
}

// MemoryFile adapts an in-memory file; Sync and Close are no-ops. Used by
// in-memory databases and tests. Bytes exposes the backing buffer so a
// database can be reopened from the same image.
type MemoryFile struct {
	*memfile.File
}

func (m *MemoryFile) Sync() error  { return nil }
func (m *MemoryFile) Close() error { return nil }

// NewMemoryFile returns a BlockFile backed entirely by memory, seeded with
// buf (nil for an empty file).
func NewMemoryFile(buf []byte) *MemoryFile {
	return &MemoryFile{File: memfile.New(buf)}
}
