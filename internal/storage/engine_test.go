package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/SimonWaldherr/tinyDB/internal/storage/dberr"
	"github.com/SimonWaldherr/tinyDB/internal/storage/heap"
	"github.com/SimonWaldherr/tinyDB/internal/storage/pager"
)

func memConfig() EngineConfig {
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.PoolPages = 64
	return cfg
}

// keyFirst8 treats the first eight bytes of a row as its key.
func keyFirst8(row []byte) ([]byte, error) {
	if len(row) < 8 {
		return nil, fmt.Errorf("row too short for key")
	}
	return row[:8], nil
}

func row8(i int, payload string) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i))
	return append(b[:], payload...)
}

func TestEngine_CreateTableAndInsert(t *testing.T) {
	ctx := context.Background()
	e, err := Open(ctx, memConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close(ctx)

	tbl, err := e.CreateTable(ctx, "users")
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	rid, err := tbl.InsertRow(ctx, row8(1, "alice"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := tbl.ReadRow(ctx, rid)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, row8(1, "alice")) {
		t.Fatalf("got %q", got)
	}
}

func TestEngine_IndexSeekAndRange(t *testing.T) {
	ctx := context.Background()
	e, err := Open(ctx, memConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close(ctx)

	tbl, _ := e.CreateTable(ctx, "events")
	if _, err := tbl.CreateIndex(ctx, "pk", true, keyFirst8); err != nil {
		t.Fatalf("create index: %v", err)
	}

	rids := make(map[int]heap.RowID)
	for i := 0; i < 200; i++ {
		rid, err := tbl.InsertRow(ctx, row8(i, fmt.Sprintf("event-%d", i)))
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		rids[i] = rid
	}

	for i := 0; i < 200; i += 23 {
		rid, found, err := tbl.IndexSeek(ctx, "pk", row8(i, "")[:8])
		if err != nil || !found {
			t.Fatalf("seek %d: found=%v err=%v", i, found, err)
		}
		if rid != rids[i] {
			t.Fatalf("seek %d: rid %d want %d", i, rid, rids[i])
		}
	}

	lo, hi := row8(50, "")[:8], row8(60, "")[:8]
	entries, err := tbl.IndexRange(ctx, "pk", lo, hi)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("range: %d entries want 10", len(entries))
	}
	for i, en := range entries {
		if binary.BigEndian.Uint64(en.Key) != uint64(50+i) {
			t.Fatalf("range entry %d out of order", i)
		}
	}
}

func TestEngine_UniqueIndexRollsBackRow(t *testing.T) {
	ctx := context.Background()
	e, _ := Open(ctx, memConfig())
	defer e.Close(ctx)

	tbl, _ := e.CreateTable(ctx, "t")
	tbl.CreateIndex(ctx, "pk", true, keyFirst8)

	if _, err := tbl.InsertRow(ctx, row8(7, "first")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := tbl.InsertRow(ctx, row8(7, "dup")); !errors.Is(err, dberr.ErrDuplicateKey) {
		t.Fatalf("got %v want ErrDuplicateKey", err)
	}

	// The rejected row must not be visible to a scan.
	sc := tbl.Scan(nil)
	count := 0
	for {
		_, row, ok, err := sc.Next(ctx)
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		if !ok {
			break
		}
		if !bytes.Equal(row, row8(7, "first")) {
			t.Fatalf("unexpected row %q", row)
		}
		count++
	}
	if count != 1 {
		t.Fatalf("scan saw %d rows want 1", count)
	}
}

func TestEngine_UpdateKeepsIndexInStep(t *testing.T) {
	ctx := context.Background()
	e, _ := Open(ctx, memConfig())
	defer e.Close(ctx)

	tbl, _ := e.CreateTable(ctx, "t")
	tbl.CreateIndex(ctx, "pk", true, keyFirst8)

	rid, _ := tbl.InsertRow(ctx, row8(1, "original"))
	newRid, err := tbl.UpdateRow(ctx, rid, row8(2, "rekeyed"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, found, _ := tbl.IndexSeek(ctx, "pk", row8(1, "")[:8]); found {
		t.Fatal("old key still present after update")
	}
	got, found, err := tbl.IndexSeek(ctx, "pk", row8(2, "")[:8])
	if err != nil || !found {
		t.Fatalf("new key missing: found=%v err=%v", found, err)
	}
	if got != newRid {
		t.Fatalf("index points at %d want %d", got, newRid)
	}
}

func TestEngine_DeleteRemovesIndexEntries(t *testing.T) {
	ctx := context.Background()
	e, _ := Open(ctx, memConfig())
	defer e.Close(ctx)

	tbl, _ := e.CreateTable(ctx, "t")
	tbl.CreateIndex(ctx, "pk", true, keyFirst8)

	rid, _ := tbl.InsertRow(ctx, row8(5, "x"))
	if err := tbl.DeleteRow(ctx, rid); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := tbl.IndexSeek(ctx, "pk", row8(5, "")[:8]); found {
		t.Fatal("index entry survived row delete")
	}
	if _, err := tbl.ReadRow(ctx, rid); !errors.Is(err, dberr.ErrNotFound) {
		t.Fatalf("got %v want ErrNotFound", err)
	}
}

func TestEngine_CreateIndexBackfills(t *testing.T) {
	ctx := context.Background()
	e, _ := Open(ctx, memConfig())
	defer e.Close(ctx)

	tbl, _ := e.CreateTable(ctx, "t")
	for i := 0; i < 100; i++ {
		if _, err := tbl.InsertRow(ctx, row8(i, "preexisting")); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := tbl.CreateIndex(ctx, "late", true, keyFirst8); err != nil {
		t.Fatalf("create index: %v", err)
	}
	for i := 0; i < 100; i += 7 {
		if _, found, err := tbl.IndexSeek(ctx, "late", row8(i, "")[:8]); err != nil || !found {
			t.Fatalf("backfilled key %d missing: found=%v err=%v", i, found, err)
		}
	}
}

func TestEngine_DropIndexFreesPages(t *testing.T) {
	ctx := context.Background()
	e, _ := Open(ctx, memConfig())
	defer e.Close(ctx)

	tbl, _ := e.CreateTable(ctx, "t")
	tbl.CreateIndex(ctx, "pk", true, keyFirst8)
	for i := 0; i < 300; i++ {
		tbl.InsertRow(ctx, row8(i, "payload"))
	}

	if err := tbl.DropIndex(ctx, "pk"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if e.Pager().FreeCount() == 0 {
		t.Fatal("dropping the index freed no pages")
	}
	if _, _, err := tbl.IndexSeek(ctx, "pk", row8(1, "")[:8]); !errors.Is(err, dberr.ErrNotFound) {
		t.Fatalf("got %v want ErrNotFound", err)
	}
}

func TestEngine_Stats(t *testing.T) {
	ctx := context.Background()
	e, _ := Open(ctx, memConfig())
	defer e.Close(ctx)

	tbl, _ := e.CreateTable(ctx, "t")
	for i := 0; i < 20; i++ {
		tbl.InsertRow(ctx, row8(i, "some payload bytes"))
	}
	st, err := tbl.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.RowCount != 20 {
		t.Fatalf("row count: got %d want 20", st.RowCount)
	}
	if st.PageCount == 0 || st.AvgRowSize == 0 {
		t.Fatalf("degenerate stats: %+v", st)
	}
	if st.BufferPool.HitCount+st.BufferPool.MissCount == 0 {
		t.Fatal("buffer pool counters untouched")
	}

	es := e.Stats()
	if es.Tables != 1 || es.PageCount == 0 {
		t.Fatalf("engine stats: %+v", es)
	}
	var zero [16]byte
	if bytes.Equal(es.DatabaseID[:], zero[:]) {
		t.Fatal("database id not stamped")
	}
}

// Crash-stop durability: everything flushed before termination survives a
// reopen from the same file image; nothing after the flush is required to.
func TestEngine_CrashStopDurability(t *testing.T) {
	ctx := context.Background()
	mf := pager.NewMemoryFile(nil)
	cfg := memConfig()
	cfg.InMemory = false

	e, err := OpenFile(ctx, cfg, mf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tbl, _ := e.CreateTable(ctx, "t")
	if _, err := tbl.CreateIndex(ctx, "pk", true, keyFirst8); err != nil {
		t.Fatalf("create index: %v", err)
	}
	for i := 0; i < 50; i++ {
		if _, err := tbl.InsertRow(ctx, row8(i, fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := e.FlushAll(ctx); err != nil {
		t.Fatalf("flush all: %v", err)
	}
	// Writes after the flush may or may not survive; they must not be
	// required to. Then the process "crashes": no Close.
	tbl.InsertRow(ctx, row8(999, "unflushed"))

	e2, err := OpenFile(ctx, cfg, pager.NewMemoryFile(mf.Bytes()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	tbl2, err := e2.Table("t")
	if err != nil {
		t.Fatalf("table after reopen: %v", err)
	}
	for i := 0; i < 50; i++ {
		rid, found, err := tbl2.IndexSeek(ctx, "pk", row8(i, "")[:8])
		if err != nil || !found {
			t.Fatalf("key %d lost: found=%v err=%v", i, found, err)
		}
		row, err := tbl2.ReadRow(ctx, rid)
		if err != nil {
			t.Fatalf("row %d unreadable: %v", i, err)
		}
		if !bytes.HasPrefix(row, row8(i, "")[:8]) {
			t.Fatalf("row %d content mismatch", i)
		}
	}
}

func TestEngine_ReopenOnDisk(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "engine.db")
	cfg.PoolPages = 64

	e, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tbl, _ := e.CreateTable(ctx, "t")
	tbl.CreateIndex(ctx, "pk", true, keyFirst8)
	for i := 0; i < 30; i++ {
		tbl.InsertRow(ctx, row8(i, "persisted"))
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	e2, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close(ctx)
	tbl2, err := e2.Table("t")
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	// Seeks work without rebinding the extractor; writes need BindIndex.
	if _, found, err := tbl2.IndexSeek(ctx, "pk", row8(3, "")[:8]); err != nil || !found {
		t.Fatalf("seek after reopen: found=%v err=%v", found, err)
	}
	if err := tbl2.BindIndex("pk", keyFirst8); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := tbl2.InsertRow(ctx, row8(100, "new")); err != nil {
		t.Fatalf("insert after reopen: %v", err)
	}
	if _, found, _ := tbl2.IndexSeek(ctx, "pk", row8(100, "")[:8]); !found {
		t.Fatal("index not maintained after rebinding")
	}
}

func TestEngine_DuplicateTableRejected(t *testing.T) {
	ctx := context.Background()
	e, _ := Open(ctx, memConfig())
	defer e.Close(ctx)
	if _, err := e.CreateTable(ctx, "t"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.CreateTable(ctx, "t"); err == nil {
		t.Fatal("duplicate table accepted")
	}
}
