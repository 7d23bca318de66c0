package pager

import (
	"context"
	"fmt"

	"github.com/SimonWaldherr/tinyDB/internal/storage/page"
)

// FileReport summarizes a database file for diagnostics.
type FileReport struct {
	PageCount    uint64
	FreeListLen  int
	TypeCounts   map[page.Type]uint64
	CorruptPages []uint64
}

// Inspect walks every page after the superblock (page 0) and tallies page
// types. Pages that fail validation are listed rather than aborting the
// walk, so a damaged file can still be summarized.
func (p *Pager) Inspect(ctx context.Context) (*FileReport, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	report := &FileReport{
		FreeListLen: p.free.Count(),
		TypeCounts:  make(map[page.Type]uint64),
		PageCount:   p.sb.PageCount,
	}
	for num := uint64(1); num < p.sb.PageCount; num++ {
		pg, err := p.readRawPage(num)
		if err != nil {
			report.CorruptPages = append(report.CorruptPages, num)
			continue
		}
		report.TypeCounts[pg.Type()]++
	}
	return report, nil
}

// String renders the report for debugging output.
func (r *FileReport) String() string {
	s := fmt.Sprintf("%d pages, %d free", r.PageCount, r.FreeListLen)
	for t, n := range r.TypeCounts {
		s += fmt.Sprintf(", %s=%d", t, n)
	}
	if len(r.CorruptPages) > 0 {
		s += fmt.Sprintf(", corrupt=%v", r.CorruptPages)
	}
	return s
}
