package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/SimonWaldherr/tinyDB/internal/storage/btree"
	"github.com/SimonWaldherr/tinyDB/internal/storage/buffer"
	"github.com/SimonWaldherr/tinyDB/internal/storage/dberr"
	"github.com/SimonWaldherr/tinyDB/internal/storage/heap"
	"github.com/SimonWaldherr/tinyDB/internal/storage/page"
	"github.com/SimonWaldherr/tinyDB/internal/storage/pager"
)

// Engine owns one database file: its pager, the shared buffer pool, and
// the tables recorded in the directory page. The buffer pool is the only
// structure shared across tables; everything else is per-table.
type Engine struct {
	cfg   EngineConfig
	pager *pager.Pager
	pool  *buffer.Pool

	mu     sync.Mutex
	tables map[string]*Table
	closed bool
}

// Open opens or creates the database described by cfg.
func Open(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	if cfg.InMemory {
		return OpenFile(ctx, cfg, pager.NewMemoryFile(nil))
	}
	return OpenFile(ctx, cfg, nil)
}

// OpenFile opens the database over an explicit backing file; a nil file
// opens cfg.Path. Reopening a MemoryFile's bytes restores an in-memory
// database image.
func OpenFile(ctx context.Context, cfg EngineConfig, f pager.BlockFile) (*Engine, error) {
	if cfg.FileID == 0 {
		cfg.FileID = 1
	}
	pg, err := pager.Open(pager.Config{
		Path:     cfg.Path,
		File:     f,
		DirectIO: cfg.DirectIO,
		FileID:   cfg.FileID,
	})
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		pager:  pg,
		pool:   buffer.NewPool(cfg.PoolPages, pg),
		tables: make(map[string]*Table),
	}
	if err := e.loadDirectory(ctx); err != nil {
		pg.Close(ctx)
		return nil, err
	}
	return e, nil
}

// Pool exposes the shared buffer pool.
func (e *Engine) Pool() *buffer.Pool { return e.pool }

// Pager exposes the file pager.
func (e *Engine) Pager() *pager.Pager { return e.pager }

// ───────────────────────────────────────────────────────────────────────────
// Directory page
// ───────────────────────────────────────────────────────────────────────────
//
// The superblock's root directory page holds one record per table:
//
//	name_len (uint16), name,
//	heap_first (uint64),
//	index_count (uint16),
//	index_count × { name_len (uint16), name, root_page (uint64), unique (uint8) }

func encodeTableRecord(t *Table) []byte {
	names := make([]string, 0, len(t.indexes))
	for n := range t.indexes {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf []byte
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(t.name)))
	buf = append(buf, t.name...)
	buf = binary.LittleEndian.AppendUint64(buf, t.heap.FirstPage())
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(names)))
	for _, n := range names {
		ix := t.indexes[n]
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(n)))
		buf = append(buf, n...)
		buf = binary.LittleEndian.AppendUint64(buf, ix.tree.Root().PageNum)
		if ix.unique {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

type indexMeta struct {
	name   string
	root   uint64
	unique bool
}

func decodeTableRecord(buf []byte) (name string, heapFirst uint64, idx []indexMeta, err error) {
	bad := func() (string, uint64, []indexMeta, error) {
		return "", 0, nil, fmt.Errorf("directory record: %w", dberr.ErrCorruption)
	}
	pos := 0
	need := func(n int) bool { return pos+n <= len(buf) }

	if !need(2) {
		return bad()
	}
	nameLen := int(binary.LittleEndian.Uint16(buf[pos:]))
	pos += 2
	if !need(nameLen + 10) {
		return bad()
	}
	name = string(buf[pos : pos+nameLen])
	pos += nameLen
	heapFirst = binary.LittleEndian.Uint64(buf[pos:])
	pos += 8
	count := int(binary.LittleEndian.Uint16(buf[pos:]))
	pos += 2
	for i := 0; i < count; i++ {
		if !need(2) {
			return bad()
		}
		l := int(binary.LittleEndian.Uint16(buf[pos:]))
		pos += 2
		if !need(l + 9) {
			return bad()
		}
		m := indexMeta{name: string(buf[pos : pos+l])}
		pos += l
		m.root = binary.LittleEndian.Uint64(buf[pos:])
		pos += 8
		m.unique = buf[pos] == 1
		pos++
		idx = append(idx, m)
	}
	return name, heapFirst, idx, nil
}

func (e *Engine) directoryID() page.ID {
	return page.ID{FileID: e.pager.FileID(), PageNum: e.pager.Superblock().RootDirectoryPage}
}

// loadDirectory reads the table directory, creating it on a fresh file.
func (e *Engine) loadDirectory(ctx context.Context) error {
	sb := e.pager.Superblock()
	if sb.RootDirectoryPage == 0 {
		id, err := e.pager.Allocate(ctx)
		if err != nil {
			return err
		}
		h, err := e.pool.NewPage(ctx, id)
		if err != nil {
			return err
		}
		if err := h.Release(); err != nil {
			return err
		}
		e.pager.UpdateSuperblock(func(sb *pager.Superblock) {
			sb.RootDirectoryPage = id.PageNum
		})
		return nil
	}

	h, err := e.pool.GetPage(ctx, e.directoryID())
	if err != nil {
		return err
	}
	defer h.Release()
	h.RLock()
	defer h.RUnlock()

	pg := h.Page()
	for i := 0; i < pg.SlotCount(); i++ {
		if pg.IsTombstone(i) {
			continue
		}
		rec, err := pg.ReadRecord(uint16(i))
		if err != nil {
			return err
		}
		name, first, metas, err := decodeTableRecord(rec)
		if err != nil {
			return err
		}
		t := &Table{
			name:    name,
			eng:     e,
			heap:    heap.Open(first, e.pool, e.pager),
			indexes: make(map[string]*Index),
			dirSlot: i,
		}
		for _, m := range metas {
			root := page.ID{FileID: e.pager.FileID(), PageNum: m.root}
			t.indexes[m.name] = &Index{
				name:   m.name,
				unique: m.unique,
				tree: btree.Open(btree.Config{
					Name:       m.name,
					Unique:     m.unique,
					MaxKeySize: e.cfg.MaxKeySize,
				}, root, e.pool, e.pager),
			}
		}
		e.tables[name] = t
	}
	return nil
}

// saveDirectory rewrites every table's directory record; index roots move
// as trees split and merge, so records are refreshed before each flush.
func (e *Engine) saveDirectory(ctx context.Context) error {
	h, err := e.pool.GetPage(ctx, e.directoryID())
	if err != nil {
		return err
	}
	defer h.Release()
	h.Lock()
	defer h.Unlock()

	pg := h.Page()
	for _, t := range e.tables {
		rec := encodeTableRecord(t)
		if t.dirSlot >= 0 {
			slot, err := pg.UpdateRecord(uint16(t.dirSlot), rec)
			if err != nil {
				return fmt.Errorf("table %q directory entry: %w", t.name, err)
			}
			t.dirSlot = int(slot)
		} else {
			slot, err := pg.InsertRecord(rec)
			if err != nil {
				return fmt.Errorf("table %q directory entry: %w", t.name, err)
			}
			t.dirSlot = int(slot)
		}
	}
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Tables
// ───────────────────────────────────────────────────────────────────────────

// CreateTable allocates a fresh heap and registers the table.
func (e *Engine) CreateTable(ctx context.Context, name string) (*Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, dberr.ErrClosed
	}
	if _, ok := e.tables[name]; ok {
		return nil, fmt.Errorf("table %q: %w", name, dberr.ErrDuplicateKey)
	}
	hp, err := heap.Create(ctx, e.pool, e.pager)
	if err != nil {
		return nil, err
	}
	t := &Table{
		name:    name,
		eng:     e,
		heap:    hp,
		indexes: make(map[string]*Index),
		dirSlot: -1,
	}
	e.tables[name] = t
	return t, nil
}

// Table returns a table handle by name.
func (e *Engine) Table(name string) (*Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("table %q: %w", name, dberr.ErrNotFound)
	}
	return t, nil
}

// Tables lists the registered table names.
func (e *Engine) Tables() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.tables))
	for n := range e.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ───────────────────────────────────────────────────────────────────────────
// Durability
// ───────────────────────────────────────────────────────────────────────────

// FlushAll persists the directory, flushes every dirty page, and
// checkpoints the file. This is the commit point of the crash-stop model:
// everything written before a successful FlushAll survives a crash.
func (e *Engine) FlushAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return dberr.ErrClosed
	}
	if err := e.saveDirectory(ctx); err != nil {
		return err
	}
	if err := e.pool.FlushAll(ctx); err != nil {
		return err
	}
	return e.pager.Checkpoint(ctx)
}

// Stats summarizes the database file.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	tables := len(e.tables)
	e.mu.Unlock()
	sb := e.pager.Superblock()
	return EngineStats{
		DatabaseID: sb.DatabaseID,
		PageCount:  e.pager.PageCount(),
		FreePages:  e.pager.FreeCount(),
		Tables:     tables,
		BufferPool: e.pool.Stats(),
	}
}

// Close flushes and closes the database.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if err := e.FlushAll(ctx); err != nil {
		e.pager.Close(ctx)
		return err
	}

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.pager.Close(ctx)
}
