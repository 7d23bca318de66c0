package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/SimonWaldherr/tinyDB/internal/storage/btree"
	"github.com/SimonWaldherr/tinyDB/internal/storage/dberr"
	"github.com/SimonWaldherr/tinyDB/internal/storage/heap"
)

// KeyFunc extracts an index key from a serialized row. Key encoding is the
// caller's codec: keys compare by unsigned byte order, so fixed-width
// big-endian encodings sort numerically.
type KeyFunc func(row []byte) ([]byte, error)

// Index pairs a B-tree with the extractor that derives its keys from rows.
type Index struct {
	name    string
	unique  bool
	tree    *btree.BTree
	extract KeyFunc
}

// Name returns the index name.
func (ix *Index) Name() string { return ix.name }

// Unique reports whether the index rejects duplicate keys.
func (ix *Index) Unique() bool { return ix.unique }

// Table owns one heap and its secondary indexes. Rows are opaque bytes;
// schema validation and value encoding live above this layer.
type Table struct {
	name string
	eng  *Engine
	heap *heap.Heap

	mu      sync.RWMutex
	indexes map[string]*Index
	dirSlot int // slot of this table's record in the directory page, -1 when unsaved
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Heap exposes the underlying row store.
func (t *Table) Heap() *heap.Heap { return t.heap }

// ───────────────────────────────────────────────────────────────────────────
// Row operations
// ───────────────────────────────────────────────────────────────────────────

// InsertRow stores a row and inserts (key, row_id) into every bound index.
// A rejected index insert (duplicate key) rolls the row back.
func (t *Table) InsertRow(ctx context.Context, row []byte) (heap.RowID, error) {
	rid, err := t.heap.InsertRow(ctx, row)
	if err != nil {
		return 0, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	var inserted []*Index
	for _, ix := range t.indexes {
		if ix.extract == nil {
			continue
		}
		key, kerr := ix.extract(row)
		if kerr == nil {
			kerr = ix.tree.Insert(ctx, key, uint64(rid))
		}
		if kerr != nil {
			t.undoInsert(ctx, rid, row, inserted)
			return 0, fmt.Errorf("index %q: %w", ix.name, kerr)
		}
		inserted = append(inserted, ix)
	}
	return rid, nil
}

// undoInsert removes a half-inserted row after an index rejection.
func (t *Table) undoInsert(ctx context.Context, rid heap.RowID, row []byte, inserted []*Index) {
	for _, ix := range inserted {
		if key, err := ix.extract(row); err == nil {
			_ = ix.tree.Delete(ctx, key)
		}
	}
	_ = t.heap.DeleteRow(ctx, rid)
}

// ReadRow returns the row bytes for a row id.
func (t *Table) ReadRow(ctx context.Context, rid heap.RowID) ([]byte, error) {
	return t.heap.ReadRow(ctx, rid)
}

// UpdateRow replaces a row, keeping every bound index in step. The
// returned id is where the row now lives (relocation can move it).
func (t *Table) UpdateRow(ctx context.Context, rid heap.RowID, row []byte) (heap.RowID, error) {
	old, err := t.heap.ReadRow(ctx, rid)
	if err != nil {
		return 0, err
	}
	newRid, err := t.heap.UpdateRow(ctx, rid, row)
	if err != nil {
		return 0, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ix := range t.indexes {
		if ix.extract == nil {
			continue
		}
		oldKey, kerr := ix.extract(old)
		if kerr != nil {
			return 0, fmt.Errorf("index %q: %w", ix.name, kerr)
		}
		newKey, kerr := ix.extract(row)
		if kerr != nil {
			return 0, fmt.Errorf("index %q: %w", ix.name, kerr)
		}
		if bytes.Equal(oldKey, newKey) && newRid == rid {
			continue
		}
		if err := ix.tree.Delete(ctx, oldKey); err != nil {
			return 0, err
		}
		if err := ix.tree.Insert(ctx, newKey, uint64(newRid)); err != nil {
			return 0, fmt.Errorf("index %q: %w", ix.name, err)
		}
	}
	return newRid, nil
}

// DeleteRow removes a row and its index entries.
func (t *Table) DeleteRow(ctx context.Context, rid heap.RowID) error {
	row, err := t.heap.ReadRow(ctx, rid)
	if err != nil {
		return err
	}

	t.mu.RLock()
	for _, ix := range t.indexes {
		if ix.extract == nil {
			continue
		}
		key, kerr := ix.extract(row)
		if kerr == nil {
			kerr = ix.tree.Delete(ctx, key)
		}
		if kerr != nil {
			t.mu.RUnlock()
			return fmt.Errorf("index %q: %w", ix.name, kerr)
		}
	}
	t.mu.RUnlock()
	return t.heap.DeleteRow(ctx, rid)
}

// Scan returns a cursor over the table's rows, filtered by pred (nil for
// all rows).
func (t *Table) Scan(pred heap.Predicate) *heap.Scanner {
	return t.heap.NewScanner(pred)
}

// ───────────────────────────────────────────────────────────────────────────
// Index operations
// ───────────────────────────────────────────────────────────────────────────

// IndexSeek looks a key up in the named index.
func (t *Table) IndexSeek(ctx context.Context, index string, key []byte) (heap.RowID, bool, error) {
	ix, err := t.index(index)
	if err != nil {
		return 0, false, err
	}
	v, found, err := ix.tree.Search(ctx, key)
	return heap.RowID(v), found, err
}

// IndexRange scans the named index for lo <= key < hi in key order.
func (t *Table) IndexRange(ctx context.Context, index string, lo, hi []byte) ([]btree.Entry, error) {
	ix, err := t.index(index)
	if err != nil {
		return nil, err
	}
	return ix.tree.RangeScan(ctx, lo, hi)
}

// CreateIndex builds a new index over the table, backfilling it from a
// full scan.
func (t *Table) CreateIndex(ctx context.Context, name string, unique bool, extract KeyFunc) (*Index, error) {
	if extract == nil {
		return nil, fmt.Errorf("index %q: nil key extractor", name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.indexes[name]; ok {
		return nil, fmt.Errorf("index %q: %w", name, dberr.ErrDuplicateKey)
	}

	tree, err := btree.Create(ctx, btree.Config{
		Name:       name,
		Unique:     unique,
		MaxKeySize: t.eng.cfg.MaxKeySize,
	}, t.eng.pool, t.eng.pager)
	if err != nil {
		return nil, err
	}

	sc := t.heap.NewScanner(nil)
	for {
		rid, row, ok, err := sc.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		key, err := extract(row)
		if err != nil {
			return nil, fmt.Errorf("index %q backfill: %w", name, err)
		}
		if err := tree.Insert(ctx, key, uint64(rid)); err != nil {
			return nil, fmt.Errorf("index %q backfill: %w", name, err)
		}
	}

	ix := &Index{name: name, unique: unique, tree: tree, extract: extract}
	t.indexes[name] = ix
	return ix, nil
}

// DropIndex frees the index's pages and unregisters it.
func (t *Table) DropIndex(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ix, ok := t.indexes[name]
	if !ok {
		return fmt.Errorf("index %q: %w", name, dberr.ErrNotFound)
	}
	if err := ix.tree.FreeAll(ctx); err != nil {
		return err
	}
	delete(t.indexes, name)
	return nil
}

// BindIndex attaches a key extractor to an index loaded from disk, so
// writes maintain it again. Seeks and range scans work without one.
func (t *Table) BindIndex(name string, extract KeyFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ix, ok := t.indexes[name]
	if !ok {
		return fmt.Errorf("index %q: %w", name, dberr.ErrNotFound)
	}
	ix.extract = extract
	return nil
}

func (t *Table) index(name string) (*Index, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ix, ok := t.indexes[name]
	if !ok {
		return nil, fmt.Errorf("index %q: %w", name, dberr.ErrNotFound)
	}
	return ix, nil
}

// Indexes lists the table's index names.
func (t *Table) Indexes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.indexes))
	for n := range t.indexes {
		names = append(names, n)
	}
	return names
}

// Stats returns the planner-facing statistics snapshot.
func (t *Table) Stats(ctx context.Context) (TableStats, error) {
	hs, err := t.heap.Stats(ctx)
	if err != nil {
		return TableStats{}, err
	}
	return TableStats{
		RowCount:   hs.RowCount,
		PageCount:  hs.PageCount,
		AvgRowSize: hs.AvgRowSize,
		FreeSpace:  hs.FreeSpace,
		BufferPool: t.eng.pool.Stats(),
	}, nil
}
