package exec

import (
	"github.com/edgesql/coredb/internal/buffer"
	"github.com/edgesql/coredb/internal/catalog"
	"github.com/edgesql/coredb/internal/page"
	"github.com/edgesql/coredb/internal/row"
	"github.com/edgesql/coredb/internal/wal"
)

// Insert appends Values (already ordered per the table's schema) as a
// new record, writing an INSERT WAL record before mutating the page so
// a crash between the two never leaves an un-logged mutation.
//
// It tries only the table's last page (per the catalog's page counter)
// for room, allocating a fresh one via that counter when the last page
// is full or cannot be loaded; earlier pages are not searched. This
// mirrors the "get or allocate the page" language recovery's own INSERT
// replay uses.
type Insert struct {
	Table  *catalog.Table
	Pool   *buffer.Pool
	Cat    *catalog.Catalog
	WAL    *wal.WAL
	Values []row.Value

	done bool
}

func (ins *Insert) Kind() OperatorKind    { return KindInsert }
func (ins *Insert) ColumnNames() []string { return nil }
func (ins *Insert) Open(ctx *Context) error {
	ins.done = false
	return nil
}
func (ins *Insert) Close() error { return nil }

func (ins *Insert) Next(ctx *Context) (row.Row, bool, error) {
	if ins.done {
		return row.Row{}, false, nil
	}
	ins.done = true

	payload := row.Encode(ins.Values, 0)

	pageID, pp, _, err := ins.findRoom(len(payload))
	if err != nil {
		return row.Row{}, false, err
	}
	defer pp.Release()

	rec, err := ins.WAL.Append(wal.Record{
		Type:    wal.RecordInsert,
		TableID: ins.Table.ID,
		PageID:  pageID,
		SlotID:  uint16(pp.Page.SlotCount()),
		Payload: payload,
	})
	if err != nil {
		return row.Row{}, false, err
	}

	slot, err := pp.Page.InsertRecord(payload)
	if err != nil {
		return row.Row{}, false, err
	}
	pp.Page.SetLSN(rec)
	pp.MarkDirty()
	ctx.BumpInstructions(1)
	_ = slot
	return row.Row{}, false, nil
}

// findRoom returns a pinned, writable page with room for size more
// bytes, allocating a fresh page if the current last page is full.
func (ins *Insert) findRoom(size int) (uint32, *buffer.PinnedPage, bool, error) {
	pageCount := ins.Cat.PageCount(ins.Table.ID)
	if pageCount > 0 {
		lastID := pageCount - 1
		pp, err := ins.Pool.GetPage(ins.Table.ID, lastID)
		if err == nil {
			if pp.Page.FreeSpace() >= size+page.SlotSize {
				return lastID, pp, false, nil
			}
			pp.Release()
		}
	}
	newID := ins.Cat.AllocatePageID(ins.Table.ID)
	pp, err := ins.Pool.AllocatePage(ins.Table.ID, newID, page.FlagLeaf)
	if err != nil {
		return 0, nil, false, err
	}
	return newID, pp, true, nil
}
