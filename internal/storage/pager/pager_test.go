package pager

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/SimonWaldherr/tinyDB/internal/storage/dberr"
	"github.com/SimonWaldherr/tinyDB/internal/storage/page"
)

func newMemPager(t *testing.T) (*Pager, *MemoryFile) {
	t.Helper()
	mf := NewMemoryFile(nil)
	p, err := Open(Config{File: mf, FileID: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return p, mf
}

func TestSuperblock_RoundTrip(t *testing.T) {
	sb := NewSuperblock(1)
	sb.RootDirectoryPage = 5
	sb.FreeListHead = 10
	sb.PageCount = 50
	buf := MarshalSuperblock(sb)
	sb2, err := UnmarshalSuperblock(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sb2.Magic != Magic || sb2.Version != FormatVersion {
		t.Fatal("magic/version mismatch")
	}
	if sb2.RootDirectoryPage != 5 || sb2.FreeListHead != 10 || sb2.PageCount != 50 {
		t.Fatalf("field mismatch: %+v", sb2)
	}
	if sb2.DatabaseID != sb.DatabaseID {
		t.Fatal("database id mismatch")
	}
}

func TestSuperblock_BadMagic(t *testing.T) {
	buf := MarshalSuperblock(NewSuperblock(1))
	buf[0] = 'X'
	if _, err := UnmarshalSuperblock(buf); !errors.Is(err, dberr.ErrCorruption) {
		t.Fatalf("got %v want ErrCorruption", err)
	}
}

func TestSuperblock_ChecksumCoversPayload(t *testing.T) {
	buf := MarshalSuperblock(NewSuperblock(1))
	buf[sbPageCntOff] ^= 0x01
	if _, err := UnmarshalSuperblock(buf); !errors.Is(err, dberr.ErrCorruption) {
		t.Fatalf("got %v want ErrCorruption", err)
	}
}

func TestPager_AllocateStartsAtPageOne(t *testing.T) {
	p, _ := newMemPager(t)
	ctx := context.Background()
	id, err := p.Allocate(ctx)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if id.PageNum != 1 {
		t.Fatalf("first page: got %d want 1", id.PageNum)
	}
	if p.PageCount() != 2 {
		t.Fatalf("page count: got %d want 2", p.PageCount())
	}
}

func TestPager_WriteReadRoundTrip(t *testing.T) {
	p, _ := newMemPager(t)
	ctx := context.Background()
	id, _ := p.Allocate(ctx)

	pg := page.New(id)
	slot, err := pg.InsertRecord([]byte("persisted"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := p.WritePage(ctx, pg); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := p.ReadPage(ctx, id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	rec, err := got.ReadRecord(slot)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if string(rec) != "persisted" {
		t.Fatalf("got %q", rec)
	}
}

func TestPager_ReadDetectsCorruption(t *testing.T) {
	p, mf := newMemPager(t)
	ctx := context.Background()
	id, _ := p.Allocate(ctx)
	pg := page.New(id)
	pg.InsertRecord([]byte("data"))
	if err := p.WritePage(ctx, pg); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Flip one byte inside the page on "disk".
	mf.Bytes()[int(id.PageNum)*page.Size+200] ^= 0xFF
	if _, err := p.ReadPage(ctx, id); !errors.Is(err, dberr.ErrCorruption) {
		t.Fatalf("got %v want ErrCorruption", err)
	}
}

func TestPager_ReadBeyondFile(t *testing.T) {
	p, _ := newMemPager(t)
	ctx := context.Background()
	if _, err := p.ReadPage(ctx, page.ID{FileID: 1, PageNum: 99}); !errors.Is(err, dberr.ErrCorruption) {
		t.Fatalf("got %v want ErrCorruption", err)
	}
}

func TestPager_FreeAndReuse(t *testing.T) {
	p, _ := newMemPager(t)
	ctx := context.Background()
	a, _ := p.Allocate(ctx)
	b, _ := p.Allocate(ctx)
	if err := p.Free(ctx, a); err != nil {
		t.Fatalf("free: %v", err)
	}
	if p.FreeCount() != 1 {
		t.Fatalf("free count: got %d want 1", p.FreeCount())
	}
	c, _ := p.Allocate(ctx)
	if c.PageNum != a.PageNum {
		t.Fatalf("expected reuse of page %d, got %d", a.PageNum, c.PageNum)
	}
	_ = b
}

func TestPager_FreeListSurvivesCheckpoint(t *testing.T) {
	mf := NewMemoryFile(nil)
	p, err := Open(Config{File: mf, FileID: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	var ids []page.ID
	for i := 0; i < 10; i++ {
		id, _ := p.Allocate(ctx)
		pg := page.New(id)
		if err := p.WritePage(ctx, pg); err != nil {
			t.Fatalf("write: %v", err)
		}
		ids = append(ids, id)
	}
	// Free only after all allocations: Allocate reuses freed pages first.
	var freed []uint64
	for i := 0; i < len(ids); i += 2 {
		p.Free(ctx, ids[i])
		freed = append(freed, ids[i].PageNum)
	}
	if err := p.Checkpoint(ctx); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	// Reopen from the same bytes: the free set must be restored.
	p2, err := Open(Config{File: NewMemoryFile(mf.Bytes()), FileID: 1})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if p2.FreeCount() != len(freed) {
		t.Fatalf("free count after reopen: got %d want %d", p2.FreeCount(), len(freed))
	}
	got := make(map[uint64]bool)
	for i := 0; i < len(freed); i++ {
		id, err := p2.Allocate(ctx)
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		got[id.PageNum] = true
	}
	for _, num := range freed {
		if !got[num] {
			t.Fatalf("freed page %d not reused after reopen", num)
		}
	}
}

func TestPager_SuperblockPersistsAcrossCheckpoint(t *testing.T) {
	mf := NewMemoryFile(nil)
	p, _ := Open(Config{File: mf, FileID: 1})
	ctx := context.Background()

	p.UpdateSuperblock(func(sb *Superblock) { sb.RootDirectoryPage = 42 })
	if err := p.Checkpoint(ctx); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	origID := p.Superblock().DatabaseID

	p2, err := Open(Config{File: NewMemoryFile(mf.Bytes()), FileID: 1})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	sb := p2.Superblock()
	if sb.RootDirectoryPage != 42 {
		t.Fatalf("root directory: got %d want 42", sb.RootDirectoryPage)
	}
	if sb.DatabaseID != origID {
		t.Fatal("database id changed across reopen")
	}
}

func TestPager_OnDiskFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := Open(Config{Path: path, FileID: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	id, _ := p.Allocate(ctx)
	pg := page.New(id)
	slot, _ := pg.InsertRecord([]byte("on disk"))
	if err := p.WritePage(ctx, pg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	p2, err := Open(Config{Path: path, FileID: 1})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := p2.ReadPage(ctx, id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	rec, _ := got.ReadRecord(slot)
	if !bytes.Equal(rec, []byte("on disk")) {
		t.Fatalf("got %q", rec)
	}
	if err := p2.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPager_ClosedRejectsOperations(t *testing.T) {
	p, _ := newMemPager(t)
	ctx := context.Background()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Allocate(ctx); !errors.Is(err, dberr.ErrClosed) {
		t.Fatalf("got %v want ErrClosed", err)
	}
}

func TestPager_CancelledContext(t *testing.T) {
	p, _ := newMemPager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Allocate(ctx); !errors.Is(err, dberr.ErrCancelled) {
		t.Fatalf("got %v want ErrCancelled", err)
	}
}

func TestPager_Inspect(t *testing.T) {
	p, _ := newMemPager(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id, _ := p.Allocate(ctx)
		pg := page.New(id)
		if i == 0 {
			pg.SetType(page.TypeIndex)
		}
		if err := p.WritePage(ctx, pg); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	report, err := p.Inspect(ctx)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if report.TypeCounts[page.TypeIndex] != 1 || report.TypeCounts[page.TypeData] != 2 {
		t.Fatalf("type counts: %v", report.TypeCounts)
	}
}
