package queryplan

import (
	"github.com/edgesql/coredb/internal/buffer"
	"github.com/edgesql/coredb/internal/catalog"
	"github.com/edgesql/coredb/internal/exec"
	"github.com/edgesql/coredb/internal/row"
	"github.com/edgesql/coredb/internal/wal"
	"github.com/edgesql/coredb/pkg/dberr"
)

// Env is the set of engine handles a plan needs to resolve table names
// and construct storage-backed operators. It mirrors the fields
// internal/engine.Engine exposes, kept as a separate small interface so
// this package does not import internal/engine (which itself will use
// queryplan, once a query surface calls it).
type Env struct {
	Catalog *catalog.Catalog
	Pool    *buffer.Pool
	WAL     *wal.WAL
}

// Build translates a parsed Statement directly into an exec.Operator
// tree with no cost-based choices: one shape per statement kind, per
// SPEC_FULL's "trivial structural translator" scope for this package.
func Build(stmt Statement, env Env) (exec.Operator, error) {
	switch s := stmt.(type) {
	case *CreateTableStmt:
		return &exec.CreateTable{Cat: env.Catalog, WAL: env.WAL, Name: s.Name, Columns: s.Columns}, nil
	case *DropTableStmt:
		return &exec.DropTable{Cat: env.Catalog, WAL: env.WAL, Name: s.Name}, nil
	case *InsertStmt:
		return buildInsert(s, env)
	case *SelectStmt:
		return buildSelect(s, env)
	default:
		return nil, dberr.New(dberr.KindParse, "unsupported statement type %T", stmt)
	}
}

func buildInsert(s *InsertStmt, env Env) (exec.Operator, error) {
	tbl, ok := env.Catalog.TableByName(s.Table)
	if !ok {
		return nil, dberr.New(dberr.KindSchema, "table %q does not exist", s.Table)
	}

	values := make([]row.Value, len(tbl.Columns))
	for i := range values {
		values[i] = row.NullValue(tbl.Columns[i].Type)
	}

	order := s.Columns
	if len(order) == 0 {
		for _, c := range tbl.Columns {
			order = append(order, c.Name)
		}
	}
	if len(order) != len(s.Values) {
		return nil, dberr.New(dberr.KindSchema, "insert has %d columns but %d values", len(order), len(s.Values))
	}
	for i, colName := range order {
		col, ok := tbl.ColumnByName(colName)
		if !ok {
			return nil, dberr.New(dberr.KindSchema, "unknown column %q on table %q", colName, s.Table)
		}
		v, err := exec.Eval(s.Values[i], row.Row{})
		if err != nil {
			return nil, dberr.Wrap(dberr.KindSchema, err, "evaluating insert value")
		}
		values[col.Index] = v
	}

	return &exec.Insert{Table: tbl, Pool: env.Pool, Cat: env.Catalog, WAL: env.WAL, Values: values}, nil
}

func buildSelect(s *SelectStmt, env Env) (exec.Operator, error) {
	tbl, ok := env.Catalog.TableByName(s.Table)
	if !ok {
		return nil, dberr.New(dberr.KindSchema, "table %q does not exist", s.Table)
	}

	var op exec.Operator = exec.NewTableScan(tbl, env.Pool, env.Catalog.PageCount(tbl.ID))

	if s.Where != nil {
		op = &exec.Filter{Child: op, Predicate: s.Where}
	}

	switch {
	case hasAggregate(s.Items):
		aggOp, err := buildAggregate(s, op)
		if err != nil {
			return nil, err
		}
		op = aggOp
	case len(s.GroupBy) > 0:
		return nil, dberr.New(dberr.KindParse, "GROUP BY requires at least one aggregate function in the select list")
	case !isStarOnly(s.Items):
		exprs := make([]exec.ProjectExpr, len(s.Items))
		for i, item := range s.Items {
			exprs[i] = exec.ProjectExpr{Name: item.Alias, Expr: item.Expr}
		}
		op = &exec.Project{Child: op, Exprs: exprs}
	}

	if len(s.OrderBy) > 0 {
		op = &exec.Sort{Child: op, Keys: s.OrderBy}
	}

	if s.HasLimit {
		op = &exec.Limit{Child: op, Offset: s.Offset, Count: s.Limit}
	}

	return op, nil
}

func isStarOnly(items []SelectItem) bool {
	return len(items) == 1 && items[0].Star
}

func hasAggregate(items []SelectItem) bool {
	for _, item := range items {
		if item.Agg != nil {
			return true
		}
	}
	return false
}

// buildAggregate translates the select list into an exec.Aggregate.
// The planner has no output-reordering step, so exec.Aggregate's own
// fixed output order (group columns, then aggregate columns) is the
// contract: every non-aggregate item must be a bare column reference,
// and the non-aggregate items must name exactly the GROUP BY columns,
// in the same order.
func buildAggregate(s *SelectStmt, child exec.Operator) (exec.Operator, error) {
	var groupCols []string
	var aggs []exec.AggExpr
	for _, item := range s.Items {
		if item.Star {
			return nil, dberr.New(dberr.KindParse, "SELECT * cannot be combined with an aggregate function")
		}
		if item.Agg != nil {
			aggs = append(aggs, exec.AggExpr{
				Func:       item.Agg.Func,
				Column:     item.Agg.Column,
				Distinct:   item.Agg.Distinct,
				OutputName: item.Alias,
			})
			continue
		}
		if item.Expr == nil || item.Expr.Kind != exec.ExprColumnRef {
			return nil, dberr.New(dberr.KindParse, "non-aggregate select items must be plain column references")
		}
		if len(aggs) > 0 {
			return nil, dberr.New(dberr.KindParse, "group column %q must precede every aggregate function in the select list", item.Expr.Column)
		}
		groupCols = append(groupCols, item.Expr.Column)
	}
	if len(groupCols) != len(s.GroupBy) {
		return nil, dberr.New(dberr.KindParse, "every non-aggregate column in the select list must appear in GROUP BY, in the same order")
	}
	for i, col := range groupCols {
		if col != s.GroupBy[i] {
			return nil, dberr.New(dberr.KindParse,
				"select list column %q does not match GROUP BY column %q at the same position", col, s.GroupBy[i])
		}
	}
	return &exec.Aggregate{Child: child, GroupBy: s.GroupBy, Aggs: aggs}, nil
}
