package page

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/SimonWaldherr/tinyDB/internal/storage/dberr"
)

func testID() ID { return ID{FileID: 1, PageNum: 7} }

// freeSpaceInvariant recomputes the accounting formula independently.
func freeSpaceInvariant(p *Page) int {
	free := Size - HeaderSize - p.SlotCount()*SlotSize
	for i := 0; i < p.SlotCount(); i++ {
		free -= int(p.GetSlot(i).Length)
	}
	return free
}

func TestPage_NewIsEmptyAndVerified(t *testing.T) {
	p := New(testID())
	if p.SlotCount() != 0 {
		t.Fatalf("slot count: got %d want 0", p.SlotCount())
	}
	if got := p.FreeSpace(); got != Size-HeaderSize {
		t.Fatalf("free space: got %d want %d", got, Size-HeaderSize)
	}
	if !p.VerifyChecksum() {
		t.Fatal("fresh page failed checksum")
	}
	if p.Type() != TypeData {
		t.Fatalf("page type: got %s want Data", p.Type())
	}
}

func TestPage_InsertAndReadRoundTrip(t *testing.T) {
	p := New(testID())
	data := []byte("hello world")
	slot, err := p.InsertRecord(data)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := p.ReadRecord(slot)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q want %q", got, data)
	}
}

func TestPage_SlotsAreNeverReused(t *testing.T) {
	p := New(testID())
	s0, _ := p.InsertRecord([]byte("aaa"))
	s1, _ := p.InsertRecord([]byte("bbb"))
	if err := p.DeleteRecord(s0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	s2, _ := p.InsertRecord([]byte("ccc"))
	if s2 == s0 {
		t.Fatalf("tombstoned slot %d was reused", s0)
	}
	if s2 != s1+1 {
		t.Fatalf("new slot: got %d want %d", s2, s1+1)
	}
	if _, err := p.ReadRecord(s0); !errors.Is(err, dberr.ErrTombstone) {
		t.Fatalf("read of tombstone: got %v", err)
	}
}

func TestPage_InvalidSlot(t *testing.T) {
	p := New(testID())
	if _, err := p.ReadRecord(0); !errors.Is(err, dberr.ErrInvalidSlot) {
		t.Fatalf("got %v want ErrInvalidSlot", err)
	}
	if err := p.DeleteRecord(5); !errors.Is(err, dberr.ErrInvalidSlot) {
		t.Fatalf("got %v want ErrInvalidSlot", err)
	}
}

func TestPage_UpdateInPlace(t *testing.T) {
	p := New(testID())
	slot, _ := p.InsertRecord([]byte("a longer record here"))
	newSlot, err := p.UpdateRecord(slot, []byte("short"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if newSlot != slot {
		t.Fatalf("in-place update moved slot %d to %d", slot, newSlot)
	}
	got, _ := p.ReadRecord(slot)
	if string(got) != "short" {
		t.Fatalf("got %q want %q", got, "short")
	}
}

func TestPage_UpdateRelocates(t *testing.T) {
	p := New(testID())
	slot, _ := p.InsertRecord([]byte("tiny"))
	other, _ := p.InsertRecord([]byte("other"))
	grown := bytes.Repeat([]byte("x"), 100)
	newSlot, err := p.UpdateRecord(slot, grown)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if newSlot == slot {
		t.Fatal("growing update should relocate to a new slot")
	}
	if _, err := p.ReadRecord(slot); !errors.Is(err, dberr.ErrTombstone) {
		t.Fatalf("old slot should be tombstoned: %v", err)
	}
	got, _ := p.ReadRecord(newSlot)
	if !bytes.Equal(got, grown) {
		t.Fatal("relocated record mismatch")
	}
	if got, _ := p.ReadRecord(other); string(got) != "other" {
		t.Fatal("unrelated record disturbed by update")
	}
}

func TestPage_FreeSpaceAccounting(t *testing.T) {
	p := New(testID())
	var slots []uint16
	for i := 0; i < 20; i++ {
		s, err := p.InsertRecord(bytes.Repeat([]byte{byte(i)}, 50+i))
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		slots = append(slots, s)
		if p.FreeSpace() != freeSpaceInvariant(p) {
			t.Fatalf("after insert %d: FreeSpace=%d invariant=%d", i, p.FreeSpace(), freeSpaceInvariant(p))
		}
	}
	for i := 0; i < len(slots); i += 2 {
		if err := p.DeleteRecord(slots[i]); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
		if p.FreeSpace() != freeSpaceInvariant(p) {
			t.Fatalf("after delete %d: FreeSpace=%d invariant=%d", i, p.FreeSpace(), freeSpaceInvariant(p))
		}
	}
	p.Compact()
	if p.FreeSpace() != freeSpaceInvariant(p) {
		t.Fatalf("after compact: FreeSpace=%d invariant=%d", p.FreeSpace(), freeSpaceInvariant(p))
	}
	// Survivors keep their slot ids and contents.
	for i := 1; i < len(slots); i += 2 {
		got, err := p.ReadRecord(slots[i])
		if err != nil {
			t.Fatalf("read survivor %d: %v", i, err)
		}
		want := bytes.Repeat([]byte{byte(i)}, 50+i)
		if !bytes.Equal(got, want) {
			t.Fatalf("survivor %d corrupted after compact", i)
		}
	}
}

func TestPage_InsertCompactsFragmentedSpace(t *testing.T) {
	p := New(testID())
	// Fill the page with two large records, delete the first, then insert
	// a record that only fits once the freed space is compacted.
	big := (Size - HeaderSize - 3*SlotSize) / 2
	s0, err := p.InsertRecord(bytes.Repeat([]byte("a"), big))
	if err != nil {
		t.Fatalf("insert first: %v", err)
	}
	if _, err := p.InsertRecord(bytes.Repeat([]byte("b"), big)); err != nil {
		t.Fatalf("insert second: %v", err)
	}
	if err := p.DeleteRecord(s0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	s2, err := p.InsertRecord(bytes.Repeat([]byte("c"), big-SlotSize))
	if err != nil {
		t.Fatalf("insert into fragmented page: %v", err)
	}
	got, _ := p.ReadRecord(s2)
	if len(got) != big-SlotSize {
		t.Fatalf("reinserted record length %d", len(got))
	}
}

func TestPage_OutOfSpace(t *testing.T) {
	p := New(testID())
	if _, err := p.InsertRecord(make([]byte, Size)); !errors.Is(err, dberr.ErrOutOfSpace) {
		t.Fatalf("got %v want ErrOutOfSpace", err)
	}
	// Fill, then one byte too many.
	if _, err := p.InsertRecord(make([]byte, MaxRecordSize-SlotSize)); err != nil {
		t.Fatalf("max insert: %v", err)
	}
	if _, err := p.InsertRecord([]byte("x")); !errors.Is(err, dberr.ErrOutOfSpace) {
		t.Fatalf("got %v want ErrOutOfSpace", err)
	}
}

func TestPage_ChecksumDetectsSingleByteFlip(t *testing.T) {
	p := New(testID())
	for i := 0; i < 5; i++ {
		p.InsertRecord([]byte(fmt.Sprintf("record-%d", i)))
	}
	if !p.VerifyChecksum() {
		t.Fatal("valid page failed checksum")
	}
	for _, off := range []int{0, 100, 2048, Size - 1} {
		if off >= offChecksum && off < offChecksum+4 {
			continue
		}
		p.buf[off] ^= 0xFF
		if p.VerifyChecksum() {
			t.Fatalf("flip at %d not detected", off)
		}
		p.buf[off] ^= 0xFF
	}
	if !p.VerifyChecksum() {
		t.Fatal("page invalid after restoring flips")
	}
}

func TestPage_LoadRejectsCorruption(t *testing.T) {
	p := New(testID())
	p.InsertRecord([]byte("payload"))
	buf := append([]byte(nil), p.Bytes()...)

	if _, err := Load(testID(), buf); err != nil {
		t.Fatalf("load of valid page: %v", err)
	}
	buf[500] ^= 0x01
	if _, err := Load(testID(), buf); !errors.Is(err, dberr.ErrCorruption) {
		t.Fatalf("got %v want ErrCorruption", err)
	}
	if _, err := Load(testID(), buf[:100]); !errors.Is(err, dberr.ErrCorruption) {
		t.Fatalf("short buffer: got %v want ErrCorruption", err)
	}
}

func TestPage_ChainPointers(t *testing.T) {
	p := New(testID())
	p.SetPrevPage(3)
	p.SetNextPage(9)
	if p.PrevPage() != 3 || p.NextPage() != 9 {
		t.Fatalf("chain pointers: prev=%d next=%d", p.PrevPage(), p.NextPage())
	}
	if !p.VerifyChecksum() {
		t.Fatal("checksum stale after header writes")
	}
}

func TestPage_TypeRoundTrip(t *testing.T) {
	p := New(testID())
	p.SetType(TypeIndex)
	loaded, err := Load(testID(), append([]byte(nil), p.Bytes()...))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Type() != TypeIndex {
		t.Fatalf("type: got %s want Index", loaded.Type())
	}
}
