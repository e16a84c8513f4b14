package exec

import (
	"github.com/edgesql/coredb/internal/buffer"
	"github.com/edgesql/coredb/internal/catalog"
	"github.com/edgesql/coredb/internal/row"
)

// scanInstructionCost is charged once per page the scan advances into,
// per §4.6 ("advancing to a new page bumps instructions by a fixed scan
// cost").
const scanInstructionCost = 4

// TableScan walks a table's pages in ascending (page_id, slot) order,
// decoding each non-tombstoned slot into a row via the catalog schema.
type TableScan struct {
	table *catalog.Table
	pool  *buffer.Pool

	pageID     uint32
	pageCount  uint32
	slot       int
	curPage    *buffer.PinnedPage
	slotCount  int
}

// NewTableScan constructs a scan over table's pages via pool.
func NewTableScan(table *catalog.Table, pool *buffer.Pool, pageCount uint32) *TableScan {
	return &TableScan{table: table, pool: pool, pageCount: pageCount}
}

func (s *TableScan) Kind() OperatorKind { return KindTableScan }

func (s *TableScan) ColumnNames() []string {
	names := make([]string, len(s.table.Columns))
	for i, c := range s.table.Columns {
		names[i] = c.Name
	}
	return names
}

func (s *TableScan) Open(ctx *Context) error {
	s.pageID = 0
	s.slot = 0
	return s.loadPage(ctx)
}

// loadPage advances to pageID, releasing any currently pinned page,
// until it finds a page within range or exhausts pageCount.
func (s *TableScan) loadPage(ctx *Context) error {
	s.releaseCurrent()
	for s.pageID < s.pageCount {
		pp, err := s.pool.GetPage(s.table.ID, s.pageID)
		if err != nil {
			return err
		}
		s.curPage = pp
		s.slotCount = pp.Page.SlotCount()
		s.slot = 0
		ctx.BumpInstructions(scanInstructionCost)
		return nil
	}
	return nil
}

func (s *TableScan) releaseCurrent() {
	if s.curPage != nil {
		s.curPage.Release()
		s.curPage = nil
	}
}

func (s *TableScan) Next(ctx *Context) (row.Row, bool, error) {
	for {
		if ctx.ShouldStop() {
			if err := ctx.CheckBudget(); err != nil {
				return row.Row{}, false, err
			}
			return row.Row{}, false, nil
		}
		if s.curPage == nil {
			return row.Row{}, false, nil
		}
		if s.slot >= s.slotCount {
			s.pageID++
			if err := s.loadPage(ctx); err != nil {
				return row.Row{}, false, err
			}
			continue
		}
		slot := s.slot
		s.slot++
		if s.curPage.Page.IsTombstoned(slot) {
			continue
		}
		data, err := s.curPage.Page.GetRecord(slot)
		if err != nil {
			continue // empty slot; keep scanning
		}
		r, deleted, err := row.Decode(data, s.table.Columns)
		if err != nil {
			return row.Row{}, false, err
		}
		if deleted {
			continue
		}
		ctx.Counters.RowsScanned++
		return r, true, nil
	}
}

func (s *TableScan) Close() error {
	s.releaseCurrent()
	return nil
}
