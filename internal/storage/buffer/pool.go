// Package buffer implements the bounded page cache shared by every tree
// and heap in a database: pinned frames, dirty tracking, and LRU eviction.
//
// The map and the LRU list are guarded by one coarse mutex; contention is
// low compared with per-page work. Page contents are protected by a
// reader-writer latch exposed on the pinned Handle.
package buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SimonWaldherr/tinyDB/internal/storage/dberr"
	"github.com/SimonWaldherr/tinyDB/internal/storage/page"
	"github.com/SimonWaldherr/tinyDB/internal/storage/pager"
)

// DefaultCapacity is the pool size used when the configured capacity is
// not positive.
const DefaultCapacity = 1024

// frame is one cached page plus its bookkeeping.
type frame struct {
	id           page.ID
	page         *page.Page
	pin          int
	dirty        bool
	lastAccessed time.Time
	latch        sync.RWMutex

	// LRU doubly-linked list: head = most recent, tail = least recent.
	prev, next *frame
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	HitCount      uint64
	MissCount     uint64
	EvictionCount uint64
	Entries       int
	Pinned        int
}

// Pool is the bounded LRU page cache.
type Pool struct {
	mu       sync.Mutex
	capacity int
	frames   map[page.ID]*frame
	head     *frame
	tail     *frame
	pager    *pager.Pager

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewPool creates a pool holding at most capacity pages, backed by the
// given pager.
func NewPool(capacity int, pg *pager.Pager) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		capacity: capacity,
		frames:   make(map[page.ID]*frame, capacity),
		pager:    pg,
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Handles
// ───────────────────────────────────────────────────────────────────────────

// Handle is a pinned reference to a cached page. Two handles to the same
// page share the underlying buffer; mutation is serialized by the
// per-page writer latch.
type Handle struct {
	pool *Pool
	f    *frame
}

// Page returns the cached page.
func (h *Handle) Page() *page.Page { return h.f.page }

// ID returns the page address.
func (h *Handle) ID() page.ID { return h.f.id }

// RLock takes the page's read latch.
func (h *Handle) RLock() { h.f.latch.RLock() }

// RUnlock releases the read latch.
func (h *Handle) RUnlock() { h.f.latch.RUnlock() }

// Lock takes the page's write latch.
func (h *Handle) Lock() { h.f.latch.Lock() }

// Unlock releases the write latch. The frame is marked dirty first: a page
// held write-latched is assumed mutated.
func (h *Handle) Unlock() {
	h.pool.MarkDirty(h.f.id)
	h.f.latch.Unlock()
}

// Release unpins the page, making it eligible for eviction once the pin
// count reaches zero.
func (h *Handle) Release() error {
	return h.pool.Unpin(h.f.id)
}

// ───────────────────────────────────────────────────────────────────────────
// Pool operations
// ───────────────────────────────────────────────────────────────────────────

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", dberr.ErrCancelled, err)
	}
	return nil
}

// GetPage returns a pinned handle for the page, reading it through the
// pager on a miss. On a full pool the least recently used unpinned entry
// is evicted (flushed first when dirty); when every entry is pinned,
// dberr.ErrNoEvictionCandidate is returned and the caller may retry after
// pins drop.
func (p *Pool) GetPage(ctx context.Context, id page.ID) (*Handle, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.frames[id]; ok {
		f.pin++
		f.lastAccessed = time.Now()
		p.moveToFront(f)
		p.hits++
		return &Handle{pool: p, f: f}, nil
	}

	p.misses++
	if err := p.makeRoomLocked(ctx); err != nil {
		return nil, err
	}

	pg, err := p.pager.ReadPage(ctx, id)
	if err != nil {
		return nil, err
	}
	f := &frame{id: id, page: pg, pin: 1, lastAccessed: time.Now()}
	p.frames[id] = f
	p.pushFront(f)
	return &Handle{pool: p, f: f}, nil
}

// NewPage installs a freshly initialized page (already allocated by the
// pager) into the pool, pinned and dirty, without touching disk.
func (p *Pool) NewPage(ctx context.Context, id page.ID) (*Handle, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.frames[id]; ok {
		return nil, fmt.Errorf("page %s already cached: %w", id, dberr.ErrCorruption)
	}
	if err := p.makeRoomLocked(ctx); err != nil {
		return nil, err
	}
	f := &frame{id: id, page: page.New(id), pin: 1, dirty: true, lastAccessed: time.Now()}
	p.frames[id] = f
	p.pushFront(f)
	return &Handle{pool: p, f: f}, nil
}

// makeRoomLocked evicts until a slot is available. Called with p.mu held.
func (p *Pool) makeRoomLocked(ctx context.Context) error {
	for len(p.frames) >= p.capacity {
		if err := p.evictOneLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

// evictOneLocked removes the least recently used unpinned frame, flushing
// it first when dirty. An evicted page is never dirty after it leaves the
// pool.
func (p *Pool) evictOneLocked(ctx context.Context) error {
	for f := p.tail; f != nil; f = f.prev {
		if f.pin > 0 {
			continue
		}
		if f.dirty {
			if err := p.pager.WritePage(ctx, f.page); err != nil {
				return err
			}
			f.dirty = false
		}
		p.unlink(f)
		delete(p.frames, f.id)
		p.evictions++
		return nil
	}
	return fmt.Errorf("%d pages, all pinned: %w", len(p.frames), dberr.ErrNoEvictionCandidate)
}

// Pin increments the pin count of a cached page.
func (p *Pool) Pin(id page.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.frames[id]
	if !ok {
		return fmt.Errorf("page %s: %w", id, dberr.ErrNotFound)
	}
	f.pin++
	f.lastAccessed = time.Now()
	return nil
}

// Unpin decrements the pin count. Unpinning below zero is rejected.
func (p *Pool) Unpin(id page.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.frames[id]
	if !ok {
		return fmt.Errorf("page %s: %w", id, dberr.ErrNotFound)
	}
	if f.pin == 0 {
		return fmt.Errorf("page %s not pinned: %w", id, dberr.ErrNotFound)
	}
	f.pin--
	return nil
}

// MarkDirty flags a cached page as modified.
func (p *Pool) MarkDirty(id page.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.frames[id]; ok {
		f.dirty = true
	}
}

// FlushPage writes a page through the pager and syncs, clearing its dirty
// bit. A clean page is a no-op.
func (p *Pool) FlushPage(ctx context.Context, id page.ID) error {
	if err := cancelled(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.frames[id]
	if !ok || !f.dirty {
		return nil
	}
	if err := p.pager.WritePage(ctx, f.page); err != nil {
		return err
	}
	f.dirty = false
	return p.pager.Sync(ctx)
}

// FlushAll writes every dirty page and syncs once. Used at checkpoint and
// commit.
func (p *Pool) FlushAll(ctx context.Context) error {
	if err := cancelled(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	flushed := false
	for _, f := range p.frames {
		if !f.dirty {
			continue
		}
		if err := p.pager.WritePage(ctx, f.page); err != nil {
			return err
		}
		f.dirty = false
		flushed = true
	}
	if !flushed {
		return nil
	}
	return p.pager.Sync(ctx)
}

// Discard drops a page from the pool without flushing; used when the page
// has been freed and its contents no longer matter.
func (p *Pool) Discard(id page.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.frames[id]; ok {
		p.unlink(f)
		delete(p.frames, id)
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	pinned := 0
	for _, f := range p.frames {
		if f.pin > 0 {
			pinned++
		}
	}
	return Stats{
		HitCount:      p.hits,
		MissCount:     p.misses,
		EvictionCount: p.evictions,
		Entries:       len(p.frames),
		Pinned:        pinned,
	}
}

// Len returns the number of cached pages.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// ── LRU list ──────────────────────────────────────────────────────────────

func (p *Pool) pushFront(f *frame) {
	f.prev = nil
	f.next = p.head
	if p.head != nil {
		p.head.prev = f
	}
	p.head = f
	if p.tail == nil {
		p.tail = f
	}
}

func (p *Pool) unlink(f *frame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		p.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else {
		p.tail = f.prev
	}
	f.prev = nil
	f.next = nil
}

func (p *Pool) moveToFront(f *frame) {
	p.unlink(f)
	p.pushFront(f)
}
