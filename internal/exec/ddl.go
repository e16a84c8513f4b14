package exec

import (
	"github.com/edgesql/coredb/internal/catalog"
	"github.com/edgesql/coredb/internal/row"
	"github.com/edgesql/coredb/internal/wal"
	"github.com/edgesql/coredb/pkg/dberr"
)

// CreateTable registers a new table in the catalog and logs a
// CREATE_TABLE record. Per §4.5, that WAL record is durability-only —
// the catalog itself is the authoritative source replay never touches.
type CreateTable struct {
	Cat     *catalog.Catalog
	WAL     *wal.WAL
	Name    string
	Columns []catalog.Column

	done bool
}

func (c *CreateTable) Kind() OperatorKind    { return KindCreateTable }
func (c *CreateTable) ColumnNames() []string { return nil }
func (c *CreateTable) Open(ctx *Context) error {
	c.done = false
	return nil
}
func (c *CreateTable) Close() error { return nil }

func (c *CreateTable) Next(ctx *Context) (row.Row, bool, error) {
	if c.done {
		return row.Row{}, false, nil
	}
	c.done = true
	tbl, err := c.Cat.CreateTable(c.Name, c.Columns)
	if err != nil {
		return row.Row{}, false, err
	}
	if _, err := c.WAL.Append(wal.Record{Type: wal.RecordCreateTable, TableID: tbl.ID}); err != nil {
		return row.Row{}, false, err
	}
	return row.Row{}, false, nil
}

// DropTable removes a table from the catalog and logs a DROP_TABLE
// record, likewise durability-only.
type DropTable struct {
	Cat  *catalog.Catalog
	WAL  *wal.WAL
	Name string

	done bool
}

func (d *DropTable) Kind() OperatorKind    { return KindDropTable }
func (d *DropTable) ColumnNames() []string { return nil }
func (d *DropTable) Open(ctx *Context) error {
	d.done = false
	return nil
}
func (d *DropTable) Close() error { return nil }

func (d *DropTable) Next(ctx *Context) (row.Row, bool, error) {
	if d.done {
		return row.Row{}, false, nil
	}
	d.done = true
	tbl, ok := d.Cat.TableByName(d.Name)
	if !ok {
		return row.Row{}, false, dberr.New(dberr.KindSchema, "table %q does not exist", d.Name)
	}
	if err := d.Cat.DropTable(d.Name); err != nil {
		return row.Row{}, false, err
	}
	if _, err := d.WAL.Append(wal.Record{Type: wal.RecordDropTable, TableID: tbl.ID}); err != nil {
		return row.Row{}, false, err
	}
	return row.Row{}, false, nil
}
