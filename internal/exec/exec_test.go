package exec

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/edgesql/coredb/internal/buffer"
	"github.com/edgesql/coredb/internal/catalog"
	"github.com/edgesql/coredb/internal/memtrack"
	"github.com/edgesql/coredb/internal/row"
	"github.com/edgesql/coredb/internal/storage/tablefile"
	"github.com/edgesql/coredb/internal/wal"
)

type harness struct {
	pool *buffer.Pool
	wal  *wal.WAL
	cat  *catalog.Catalog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := tablefile.Open(fs, "/data")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	pool, err := buffer.New(store, 16, nil)
	require.NoError(t, err)
	w, err := wal.Open(fs, "/data/wal.log", nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return &harness{pool: pool, wal: w, cat: catalog.New()}
}

func newCtx() *Context {
	return NewContext(context.Background(), Budget{}, memtrack.New(0))
}

func insertRow(t *testing.T, h *harness, tbl *catalog.Table, values []row.Value) {
	t.Helper()
	ins := &Insert{Table: tbl, Pool: h.pool, Cat: h.cat, WAL: h.wal, Values: values}
	_, err := Run(ins, newCtx())
	require.NoError(t, err)
}

func widgetsTable(t *testing.T, h *harness) *catalog.Table {
	t.Helper()
	tbl, err := h.cat.CreateTable("widgets", []catalog.Column{
		{Name: "id", Type: catalog.IntegerType, Index: 0},
		{Name: "name", Type: catalog.TextType, Index: 1},
	})
	require.NoError(t, err)
	return tbl
}

func TestTableScanReturnsInsertedRows(t *testing.T) {
	h := newHarness(t)
	tbl := widgetsTable(t, h)
	insertRow(t, h, tbl, []row.Value{row.Int(1), row.Text("a")})
	insertRow(t, h, tbl, []row.Value{row.Int(2), row.Text("b")})

	scan := NewTableScan(tbl, h.pool, h.cat.PageCount(tbl.ID))
	rows, err := Run(scan, newCtx())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(1), rows[0].Values[0].I64)
	require.Equal(t, int64(2), rows[1].Values[0].I64)
}

func TestFilterKeepsOnlyMatchingRows(t *testing.T) {
	h := newHarness(t)
	tbl := widgetsTable(t, h)
	insertRow(t, h, tbl, []row.Value{row.Int(1), row.Text("a")})
	insertRow(t, h, tbl, []row.Value{row.Int(2), row.Text("b")})

	scan := NewTableScan(tbl, h.pool, h.cat.PageCount(tbl.ID))
	pred := &Expr{Kind: ExprBinaryOp, Op: OpEq,
		Left:  &Expr{Kind: ExprColumnRef, Column: "id"},
		Right: &Expr{Kind: ExprLiteral, Literal: row.Int(2)}}
	filter := &Filter{Child: scan, Predicate: pred}

	rows, err := Run(filter, newCtx())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []byte("b"), rows[0].Values[1].Str)
}

func TestProjectRenamesOutputColumns(t *testing.T) {
	h := newHarness(t)
	tbl := widgetsTable(t, h)
	insertRow(t, h, tbl, []row.Value{row.Int(5), row.Text("x")})

	scan := NewTableScan(tbl, h.pool, h.cat.PageCount(tbl.ID))
	proj := &Project{Child: scan, Exprs: []ProjectExpr{
		{Name: "identifier", Expr: &Expr{Kind: ExprColumnRef, Column: "id"}},
	}}
	rows, err := Run(proj, newCtx())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "identifier", rows[0].Columns[0])
	require.Equal(t, int64(5), rows[0].Values[0].I64)
}

func TestSortOrdersAscendingAndDescending(t *testing.T) {
	h := newHarness(t)
	tbl := widgetsTable(t, h)
	insertRow(t, h, tbl, []row.Value{row.Int(3), row.Text("c")})
	insertRow(t, h, tbl, []row.Value{row.Int(1), row.Text("a")})
	insertRow(t, h, tbl, []row.Value{row.Int(2), row.Text("b")})

	scan := NewTableScan(tbl, h.pool, h.cat.PageCount(tbl.ID))
	sortOp := &Sort{Child: scan, Keys: []SortKey{{Column: "id"}}}
	rows, err := Run(sortOp, newCtx())
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, []int64{rows[0].Values[0].I64, rows[1].Values[0].I64, rows[2].Values[0].I64})

	scan = NewTableScan(tbl, h.pool, h.cat.PageCount(tbl.ID))
	sortOp = &Sort{Child: scan, Keys: []SortKey{{Column: "id", Descending: true}}}
	rows, err = Run(sortOp, newCtx())
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2, 1}, []int64{rows[0].Values[0].I64, rows[1].Values[0].I64, rows[2].Values[0].I64})
}

func TestLimitSkipsAndBounds(t *testing.T) {
	h := newHarness(t)
	tbl := widgetsTable(t, h)
	for i := int64(0); i < 5; i++ {
		insertRow(t, h, tbl, []row.Value{row.Int(i), row.Text("x")})
	}
	scan := NewTableScan(tbl, h.pool, h.cat.PageCount(tbl.ID))
	limit := &Limit{Child: scan, Offset: 1, Count: 2}
	rows, err := Run(limit, newCtx())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(1), rows[0].Values[0].I64)
	require.Equal(t, int64(2), rows[1].Values[0].I64)
}

func TestAggregateCountAndSum(t *testing.T) {
	h := newHarness(t)
	tbl := widgetsTable(t, h)
	for i := int64(1); i <= 4; i++ {
		insertRow(t, h, tbl, []row.Value{row.Int(i), row.Text("x")})
	}
	scan := NewTableScan(tbl, h.pool, h.cat.PageCount(tbl.ID))
	agg := &Aggregate{Child: scan, Aggs: []AggExpr{
		{Func: AggCount, OutputName: "n"},
		{Func: AggSum, Column: "id", OutputName: "total"},
	}}
	rows, err := Run(agg, newCtx())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(4), rows[0].Values[0].I64)
	require.Equal(t, int64(10), rows[0].Values[1].I64)
}

func TestCreateAndDropTableOperators(t *testing.T) {
	h := newHarness(t)
	ct := &CreateTable{Cat: h.cat, WAL: h.wal, Name: "gadgets", Columns: []catalog.Column{{Name: "id", Type: catalog.IntegerType}}}
	_, err := Run(ct, newCtx())
	require.NoError(t, err)
	_, ok := h.cat.TableByName("gadgets")
	require.True(t, ok)

	dt := &DropTable{Cat: h.cat, WAL: h.wal, Name: "gadgets"}
	_, err = Run(dt, newCtx())
	require.NoError(t, err)
	_, ok = h.cat.TableByName("gadgets")
	require.False(t, ok)
}

func TestBudgetInstructionsExceededStopsScan(t *testing.T) {
	h := newHarness(t)
	tbl := widgetsTable(t, h)
	for i := int64(0); i < 20; i++ {
		insertRow(t, h, tbl, []row.Value{row.Int(i), row.Text("x")})
	}
	scan := NewTableScan(tbl, h.pool, h.cat.PageCount(tbl.ID))
	ctx := NewContext(context.Background(), Budget{MaxInstructions: 1}, memtrack.New(0))
	_, err := Run(scan, ctx)
	require.Error(t, err)
	require.Equal(t, ViolationInstructionsExceeded, ctx.Violation())
}

func TestBudgetMaxResultRowsExceededWithoutExplicitLimit(t *testing.T) {
	h := newHarness(t)
	tbl := widgetsTable(t, h)
	for i := int64(0); i < 5; i++ {
		insertRow(t, h, tbl, []row.Value{row.Int(i), row.Text("x")})
	}

	// no Limit node in the tree at all — TableScan -> Filter -> Project.
	scan := NewTableScan(tbl, h.pool, h.cat.PageCount(tbl.ID))
	pred := &Expr{Kind: ExprBinaryOp, Op: OpGte,
		Left:  &Expr{Kind: ExprColumnRef, Column: "id"},
		Right: &Expr{Kind: ExprLiteral, Literal: row.Int(0)}}
	filter := &Filter{Child: scan, Predicate: pred}
	proj := &Project{Child: filter, Exprs: []ProjectExpr{
		{Name: "id", Expr: &Expr{Kind: ExprColumnRef, Column: "id"}},
	}}

	ctx := NewContext(context.Background(), Budget{MaxResultRows: 3}, memtrack.New(0))
	rows, err := Run(proj, ctx)
	require.Error(t, err)
	require.Equal(t, ViolationRowsExceeded, ctx.Violation())
	require.Len(t, rows, 3, "5 rows scanned but MaxResultRows=3 must yield exactly min(5,3) rows")
}

func TestBudgetMaxResultRowsExactMatchSucceedsCleanly(t *testing.T) {
	h := newHarness(t)
	tbl := widgetsTable(t, h)
	for i := int64(0); i < 3; i++ {
		insertRow(t, h, tbl, []row.Value{row.Int(i), row.Text("x")})
	}

	scan := NewTableScan(tbl, h.pool, h.cat.PageCount(tbl.ID))
	ctx := NewContext(context.Background(), Budget{MaxResultRows: 3}, memtrack.New(0))
	rows, err := Run(scan, ctx)
	require.NoError(t, err, "N==MaxResultRows must succeed without a violation")
	require.Equal(t, ViolationNone, ctx.Violation())
	require.Len(t, rows, 3)
}

func TestBudgetTimeoutViolationIsSticky(t *testing.T) {
	ctx := NewContext(context.Background(), Budget{MaxTime: time.Nanosecond}, memtrack.New(0))
	ctx.Start()
	time.Sleep(time.Millisecond)
	err1 := ctx.CheckBudget()
	require.Error(t, err1)
	err2 := ctx.CheckBudget()
	require.Equal(t, err1, err2, "the sticky violation must re-raise the identical error")
}
