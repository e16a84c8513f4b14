package queryplan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgesql/coredb/internal/catalog"
	"github.com/edgesql/coredb/internal/exec"
)

func TestParseCreateTable(t *testing.T) {
	stmt, err := Parse(`CREATE TABLE widgets (id INT PRIMARY KEY, name TEXT NOT NULL, price FLOAT)`)
	require.NoError(t, err)
	ct, ok := stmt.(*CreateTableStmt)
	require.True(t, ok)
	require.Equal(t, "widgets", ct.Name)
	require.Len(t, ct.Columns, 3)
	require.Equal(t, catalog.Column{Name: "id", Type: catalog.IntegerType, PrimaryKey: true, NotNull: true, Index: 0}, ct.Columns[0])
	require.Equal(t, catalog.Column{Name: "name", Type: catalog.TextType, NotNull: true, Index: 1}, ct.Columns[1])
	require.Equal(t, catalog.Column{Name: "price", Type: catalog.FloatType, Index: 2}, ct.Columns[2])
}

func TestParseInsertWithExplicitColumns(t *testing.T) {
	stmt, err := Parse(`insert into widgets (id, name) values (1, 'sprocket')`)
	require.NoError(t, err)
	ins, ok := stmt.(*InsertStmt)
	require.True(t, ok)
	require.Equal(t, "widgets", ins.Table)
	require.Equal(t, []string{"id", "name"}, ins.Columns)
	require.Len(t, ins.Values, 2)
}

func TestParseSelectWithWhereOrderLimit(t *testing.T) {
	stmt, err := Parse(`SELECT id, name FROM widgets WHERE price > 10 AND name <> 'x' ORDER BY price DESC LIMIT 5 OFFSET 2`)
	require.NoError(t, err)
	sel, ok := stmt.(*SelectStmt)
	require.True(t, ok)
	require.Equal(t, "widgets", sel.Table)
	require.Len(t, sel.Items, 2)
	require.Equal(t, "id", sel.Items[0].Alias)
	require.NotNil(t, sel.Where)
	require.Equal(t, exec.ExprBinaryOp, sel.Where.Kind)
	require.Equal(t, exec.OpAnd, sel.Where.Op)
	require.Len(t, sel.OrderBy, 1)
	require.True(t, sel.OrderBy[0].Descending)
	require.True(t, sel.HasLimit)
	require.Equal(t, int64(5), sel.Limit)
	require.Equal(t, int64(2), sel.Offset)
}

func TestParseSelectStar(t *testing.T) {
	stmt, err := Parse(`select * from widgets`)
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	require.True(t, sel.Items[0].Star)
	require.False(t, sel.HasLimit)
}

func TestParseDropTable(t *testing.T) {
	stmt, err := Parse(`DROP TABLE widgets`)
	require.NoError(t, err)
	require.Equal(t, &DropTableStmt{Name: "widgets"}, stmt)
}

func TestParseUnrecognizedStatementFails(t *testing.T) {
	_, err := Parse(`vacuum widgets`)
	require.Error(t, err)
}

func TestParseTrailingGarbageFails(t *testing.T) {
	_, err := Parse(`select * from widgets garbage`)
	require.Error(t, err)
}

func TestParseKeywordDoesNotMatchIdentifierPrefix(t *testing.T) {
	// "selection" must not be mistaken for the "select" keyword.
	_, err := Parse(`selection * from widgets`)
	require.Error(t, err)
}

func TestParseAggregateCallsAndGroupBy(t *testing.T) {
	stmt, err := Parse(`select dept, count(*), sum(salary), avg(salary) from emp group by dept`)
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	require.Equal(t, []string{"dept"}, sel.GroupBy)
	require.Len(t, sel.Items, 4)

	require.Nil(t, sel.Items[0].Agg)
	require.Equal(t, "dept", sel.Items[0].Alias)

	require.NotNil(t, sel.Items[1].Agg)
	require.Equal(t, exec.AggCount, sel.Items[1].Agg.Func)
	require.Equal(t, "", sel.Items[1].Agg.Column)
	require.Equal(t, "count(*)", sel.Items[1].Alias)

	require.NotNil(t, sel.Items[2].Agg)
	require.Equal(t, exec.AggSum, sel.Items[2].Agg.Func)
	require.Equal(t, "salary", sel.Items[2].Agg.Column)
	require.Equal(t, "sum(salary)", sel.Items[2].Alias)

	require.Equal(t, exec.AggAvg, sel.Items[3].Agg.Func)
}

func TestParseAggregateCallWithDistinctAndAlias(t *testing.T) {
	stmt, err := Parse(`select count(distinct sku) as skus from sales`)
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	require.Len(t, sel.Items, 1)
	require.NotNil(t, sel.Items[0].Agg)
	require.True(t, sel.Items[0].Agg.Distinct)
	require.Equal(t, "sku", sel.Items[0].Agg.Column)
	require.Equal(t, "skus", sel.Items[0].Alias)
}

func TestParseColumnNamedCountIsNotMistakenForAggregate(t *testing.T) {
	stmt, err := Parse(`select count from widgets`)
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	require.Nil(t, sel.Items[0].Agg)
	require.Equal(t, "count", sel.Items[0].Alias)
}

func TestParseExpressionPrecedence(t *testing.T) {
	stmt, err := Parse(`select * from t where a + 1 * 2 = 3 and not b`)
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	require.Equal(t, exec.OpAnd, sel.Where.Op)
	eq := sel.Where.Left
	require.Equal(t, exec.OpEq, eq.Op)
	require.Equal(t, exec.ExprBinaryOp, eq.Left.Kind)
	require.Equal(t, exec.OpAdd, eq.Left.Op)
	require.Equal(t, exec.OpMul, eq.Left.Right.Op)
}
