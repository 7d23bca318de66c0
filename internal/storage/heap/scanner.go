package heap

import (
	"context"
)

// Predicate filters rows during a scan. A nil predicate matches all rows.
type Predicate func(rid RowID, row []byte) bool

// Scanner is a stateful cursor over a heap's page chain. It skips
// tombstones and follows next-page pointers through the buffer pool.
type Scanner struct {
	heap *Heap
	pred Predicate

	cur  uint64 // current page number, 0 = exhausted
	slot int
	seen uint64
}

// NewScanner positions a cursor at the start of the heap.
func (hp *Heap) NewScanner(pred Predicate) *Scanner {
	return &Scanner{heap: hp, pred: pred, cur: hp.first}
}

// Next returns the next matching row, copied out of the page. ok is false
// once the chain is exhausted.
func (s *Scanner) Next(ctx context.Context) (rid RowID, row []byte, ok bool, err error) {
	for s.cur != 0 {
		h, err := s.heap.pool.GetPage(ctx, s.heap.pageID(s.cur))
		if err != nil {
			return 0, nil, false, err
		}
		h.RLock()
		pg := h.Page()

		for s.slot < pg.SlotCount() {
			i := s.slot
			s.slot++
			sl := pg.GetSlot(i)
			if sl.Length == 0 {
				continue
			}
			raw, rerr := pg.ReadRecord(uint16(i))
			if rerr != nil {
				h.RUnlock()
				h.Release()
				return 0, nil, false, rerr
			}
			row := append([]byte(nil), raw...)
			rid, rerr := MakeRowID(s.heap.pageID(s.cur), uint16(i))
			if rerr != nil {
				h.RUnlock()
				h.Release()
				return 0, nil, false, rerr
			}
			if s.pred != nil && !s.pred(rid, row) {
				continue
			}
			h.RUnlock()
			if err := h.Release(); err != nil {
				return 0, nil, false, err
			}
			s.seen++
			return rid, row, true, nil
		}

		next := pg.NextPage()
		h.RUnlock()
		if err := h.Release(); err != nil {
			return 0, nil, false, err
		}
		s.cur = next
		s.slot = 0
	}
	return 0, nil, false, nil
}

// Skip advances past n matching rows (or to the end).
func (s *Scanner) Skip(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		_, _, ok, err := s.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	return nil
}

// Reset repositions the cursor at the start of the heap.
func (s *Scanner) Reset() {
	s.cur = s.heap.first
	s.slot = 0
	s.seen = 0
}

// EstimateRemaining returns an estimate of the matching rows left, based
// on the heap's current row count and the rows already returned.
func (s *Scanner) EstimateRemaining(ctx context.Context) (uint64, error) {
	st, err := s.heap.Stats(ctx)
	if err != nil {
		return 0, err
	}
	if s.seen >= st.RowCount {
		return 0, nil
	}
	return st.RowCount - s.seen, nil
}
