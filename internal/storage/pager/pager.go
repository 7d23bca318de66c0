// Package pager maps logical page addresses to byte offsets in a database
// file. It allocates and frees pages, reads and writes them at page
// boundaries, and owns the superblock and the persisted free list.
//
// The pager never caches: every read goes to the backing file. Caching is
// the buffer pool's job.
package pager

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/SimonWaldherr/tinyDB/internal/storage/dberr"
	"github.com/SimonWaldherr/tinyDB/internal/storage/page"
)

// Config configures a Pager.
type Config struct {
	// Path is the database file location. Ignored when File is set.
	Path string

	// File overrides the backing store; used for in-memory databases.
	File BlockFile

	// DirectIO opens the file with O_DIRECT and aligned buffers.
	DirectIO bool

	// FileID is this file's component of every page address. Must be
	// below 1<<16 so row ids can pack it.
	FileID uint64
}

// Pager manages page-level I/O, the superblock, and the free list for one
// database file.
type Pager struct {
	mu     sync.Mutex
	file   BlockFile
	sb     *Superblock
	free   *FreeManager
	fileID uint64
	closed bool
}

// Open opens or creates a database file.
func Open(cfg Config) (*Pager, error) {
	if cfg.FileID >= 1<<16 {
		return nil, fmt.Errorf("file id %d out of range", cfg.FileID)
	}

	f := cfg.File
	if f == nil {
		var err error
		f, err = openBlockFile(cfg.Path, cfg.DirectIO)
		if err != nil {
			return nil, fmt.Errorf("open database file: %w", err)
		}
	}

	p := &Pager{file: f, free: NewFreeManager(), fileID: cfg.FileID}

	buf := make([]byte, page.Size)
	n, err := f.ReadAt(buf, 0)
	switch {
	case err == io.EOF && n == 0:
		// Fresh file: write the superblock.
		p.sb = NewSuperblock(cfg.FileID)
		if err := p.writeRaw(0, MarshalSuperblock(p.sb)); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("sync superblock: %w", err)
		}
	case err != nil && (err != io.EOF || n != page.Size):
		f.Close()
		return nil, fmt.Errorf("read superblock: %w: %v", dberr.ErrIO, err)
	default:
		sb, err := UnmarshalSuperblock(buf)
		if err != nil {
			f.Close()
			return nil, err
		}
		p.sb = sb
		p.fileID = sb.FileID
		if sb.FreeListHead != 0 {
			if err := p.free.Load(sb.FreeListHead, p.readRawPage); err != nil {
				f.Close()
				return nil, fmt.Errorf("load free list: %w", err)
			}
		}
	}
	return p, nil
}

// FileID returns the file component of this pager's page addresses.
func (p *Pager) FileID() uint64 { return p.fileID }

// ── Raw block I/O ─────────────────────────────────────────────────────────

// readRaw fills buf from the block at the given page number, retrying
// short reads.
func (p *Pager) readRaw(num uint64, buf []byte) error {
	off := int64(num) * page.Size
	read := 0
	for read < len(buf) {
		n, err := p.file.ReadAt(buf[read:], off+int64(read))
		read += n
		if read == len(buf) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read page %d: %w: %v", num, dberr.ErrIO, err)
		}
		if n == 0 {
			return fmt.Errorf("read page %d: no progress: %w", num, dberr.ErrIO)
		}
	}
	return nil
}

// writeRaw writes a full block at the given page number, retrying short
// writes.
func (p *Pager) writeRaw(num uint64, buf []byte) error {
	off := int64(num) * page.Size
	written := 0
	for written < len(buf) {
		n, err := p.file.WriteAt(buf[written:], off+int64(written))
		written += n
		if written == len(buf) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("write page %d: %w: %v", num, dberr.ErrIO, err)
		}
		if n == 0 {
			return fmt.Errorf("write page %d: no progress: %w", num, dberr.ErrIO)
		}
	}
	return nil
}

func (p *Pager) readRawPage(num uint64) (*page.Page, error) {
	buf := make([]byte, page.Size)
	if err := p.readRaw(num, buf); err != nil {
		return nil, err
	}
	return page.Load(page.ID{FileID: p.fileID, PageNum: num}, buf)
}

// ── Public page I/O ───────────────────────────────────────────────────────

// ReadPage reads and validates one page. Checksum failures surface as
// dberr.ErrCorruption.
func (p *Pager) ReadPage(ctx context.Context, id page.ID) (*page.Page, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id.PageNum == 0 || id.PageNum >= p.sb.PageCount {
		return nil, fmt.Errorf("page %s beyond file (%d pages): %w", id, p.sb.PageCount, dberr.ErrCorruption)
	}
	return p.readRawPage(id.PageNum)
}

// WritePage writes one page at its offset. Durability requires a later
// Sync or Checkpoint.
func (p *Pager) WritePage(ctx context.Context, pg *page.Page) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeRaw(pg.ID().PageNum, pg.Bytes())
}

// Sync flushes the backing file.
func (p *Pager) Sync(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("sync: %w: %v", dberr.ErrIO, err)
	}
	return nil
}

// ── Allocation ────────────────────────────────────────────────────────────

// Allocate returns the address of an unused page, reusing freed pages
// before growing the file. The block on disk is zero-filled.
func (p *Pager) Allocate(ctx context.Context) (page.ID, error) {
	if err := p.check(ctx); err != nil {
		return page.ID{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocateLocked()
}

func (p *Pager) allocateLocked() (page.ID, error) {
	num := p.free.Alloc()
	if num == 0 {
		num = p.sb.PageCount
		p.sb.PageCount++
	}
	if err := p.writeRaw(num, make([]byte, page.Size)); err != nil {
		return page.ID{}, err
	}
	return page.ID{FileID: p.fileID, PageNum: num}, nil
}

// Free returns a page to the free list. The list is persisted at the next
// checkpoint; until then the page is reusable in memory only.
func (p *Pager) Free(ctx context.Context, id page.ID) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id.PageNum == 0 || id.PageNum >= p.sb.PageCount {
		return fmt.Errorf("free page %s beyond file: %w", id, dberr.ErrCorruption)
	}
	p.free.Free(id.PageNum)
	return nil
}

// FreeCount returns the number of pages awaiting reuse.
func (p *Pager) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Count()
}

// PageCount returns the file size in pages, superblock included.
func (p *Pager) PageCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sb.PageCount
}

// ── Superblock access ─────────────────────────────────────────────────────

// Superblock returns a copy of the current superblock.
func (p *Pager) Superblock() Superblock {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.sb
}

// UpdateSuperblock mutates the in-memory superblock. Nothing reaches disk
// until Checkpoint.
func (p *Pager) UpdateSuperblock(fn func(sb *Superblock)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.sb)
}

// ── Checkpoint ────────────────────────────────────────────────────────────

// Checkpoint persists the free list as a fresh page chain, rewrites the
// superblock, and fsyncs the file. The caller must have flushed its dirty
// pages first (the buffer pool's FlushAll does this).
func (p *Pager) Checkpoint(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	// Reclaim the previous chain before building the new one.
	num := p.sb.FreeListHead
	for num != 0 {
		pg, err := p.readRawPage(num)
		if err != nil {
			break
		}
		next := freeListNext(pg)
		p.free.Free(num)
		num = next
	}

	head, err := p.flushFreeList()
	if err != nil {
		return err
	}
	p.sb.FreeListHead = head

	if err := p.writeRaw(0, MarshalSuperblock(p.sb)); err != nil {
		return err
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("checkpoint sync: %w: %v", dberr.ErrIO, err)
	}
	return nil
}

// flushFreeList writes the in-memory free set into a chain of Free pages
// and returns the chain head (0 when the set is empty). Chain pages are
// fresh allocations at the end of the file; the next checkpoint reclaims
// them.
func (p *Pager) flushFreeList() (uint64, error) {
	ids := p.free.All()
	if len(ids) == 0 {
		return 0, nil
	}

	capacity := freeListCapacity()
	chainLen := (len(ids) + capacity - 1) / capacity

	chain := make([]uint64, 0, chainLen)
	for i := 0; i < chainLen; i++ {
		chain = append(chain, p.sb.PageCount)
		p.sb.PageCount++
	}

	for i, num := range chain {
		lo := i * capacity
		hi := lo + capacity
		if lo > len(ids) {
			lo = len(ids)
		}
		if hi > len(ids) {
			hi = len(ids)
		}
		next := uint64(0)
		if i+1 < len(chain) {
			next = chain[i+1]
		}
		pg := page.New(page.ID{FileID: p.fileID, PageNum: num})
		writeFreeListPage(pg, next, ids[lo:hi])
		if err := p.writeRaw(num, pg.Bytes()); err != nil {
			return 0, err
		}
	}
	return chain[0], nil
}

// ── Lifecycle ─────────────────────────────────────────────────────────────

func (p *Pager) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", dberr.ErrCancelled, err)
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return dberr.ErrClosed
	}
	return nil
}

// Close checkpoints and closes the backing file.
func (p *Pager) Close(ctx context.Context) error {
	if err := p.Checkpoint(ctx); err != nil {
		p.file.Close()
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.file.Close()
}
