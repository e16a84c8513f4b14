package queryplan

import (
	"strconv"

	"github.com/edgesql/coredb/internal/catalog"
	"github.com/edgesql/coredb/internal/exec"
	"github.com/edgesql/coredb/pkg/dberr"
)

// Parse turns one SQL statement into a Statement, dispatching on its
// leading keyword the way the teacher's pStmt does.
func Parse(sql string) (Statement, error) {
	p := newParser(sql)
	var stmt Statement
	switch {
	case p.keywords("create", "table"):
		stmt = p.pCreateTable()
	case p.keywords("insert", "into"):
		stmt = p.pInsert()
	case p.keyword("select"):
		stmt = p.pSelect()
	case p.keywords("drop", "table"):
		stmt = p.pDropTable()
	default:
		return nil, dberr.New(dberr.KindParse, "unrecognized statement")
	}
	if p.err != nil {
		return nil, p.err
	}
	if !p.symbol(";") && !p.atEnd() {
		return nil, dberr.New(dberr.KindParse, "unexpected trailing input at position %d", p.idx)
	}
	return stmt, nil
}

func (p *Parser) pCreateTable() *CreateTableStmt {
	name := p.mustIdent()
	if !p.symbol("(") {
		p.fail("expected '(' after table name")
		return nil
	}
	var cols []catalog.Column
	for i := 0; ; i++ {
		colName := p.mustIdent()
		typ := p.pColumnType()
		col := catalog.Column{Name: colName, Type: typ, Index: i}
	modifiers:
		for {
			switch {
			case p.keywords("not", "null"):
				col.NotNull = true
			case p.keywords("primary", "key"):
				col.PrimaryKey = true
				col.NotNull = true
			default:
				break modifiers
			}
		}
		cols = append(cols, col)
		if p.symbol(",") {
			continue
		}
		break
	}
	if !p.symbol(")") {
		p.fail("expected ')' to close column list")
	}
	return &CreateTableStmt{Name: name, Columns: cols}
}

func (p *Parser) pColumnType() catalog.ColumnType {
	switch {
	case p.keyword("integer"), p.keyword("int"):
		return catalog.IntegerType
	case p.keyword("float"), p.keyword("real"), p.keyword("double"):
		return catalog.FloatType
	case p.keyword("text"), p.keyword("varchar"), p.keyword("string"):
		return catalog.TextType
	case p.keyword("blob"):
		return catalog.BlobType
	case p.keyword("boolean"), p.keyword("bool"):
		return catalog.BooleanType
	default:
		p.fail("expected a column type")
		return catalog.NullType
	}
}

func (p *Parser) pInsert() *InsertStmt {
	table := p.mustIdent()
	var cols []string
	if p.symbol("(") {
		for {
			cols = append(cols, p.mustIdent())
			if p.symbol(",") {
				continue
			}
			break
		}
		if !p.symbol(")") {
			p.fail("expected ')' to close column list")
		}
	}
	if !p.keyword("values") {
		p.fail("expected VALUES")
		return nil
	}
	if !p.symbol("(") {
		p.fail("expected '(' to open value list")
		return nil
	}
	var values []*exec.Expr
	for {
		values = append(values, p.parseExpr())
		if p.symbol(",") {
			continue
		}
		break
	}
	if !p.symbol(")") {
		p.fail("expected ')' to close value list")
	}
	return &InsertStmt{Table: table, Columns: cols, Values: values}
}

func (p *Parser) pSelect() *SelectStmt {
	stmt := &SelectStmt{}
	for {
		item := SelectItem{}
		if agg, ok := p.pAggCall(); ok {
			item.Agg = agg
			if p.keyword("as") {
				item.Alias = p.mustIdent()
			} else {
				item.Alias = defaultAggAlias(agg)
			}
		} else if p.symbol("*") {
			item.Star = true
		} else {
			item.Expr = p.parseExpr()
			if p.keyword("as") {
				item.Alias = p.mustIdent()
			} else if item.Expr.Kind == exec.ExprColumnRef {
				item.Alias = item.Expr.Column
			}
		}
		stmt.Items = append(stmt.Items, item)
		if p.symbol(",") {
			continue
		}
		break
	}
	if !p.keyword("from") {
		p.fail("expected FROM")
		return stmt
	}
	stmt.Table = p.mustIdent()
	if p.keyword("where") {
		stmt.Where = p.parseExpr()
	}
	if p.keywords("group", "by") {
		for {
			stmt.GroupBy = append(stmt.GroupBy, p.mustIdent())
			if p.symbol(",") {
				continue
			}
			break
		}
	}
	if p.keywords("order", "by") {
		for {
			col := p.mustIdent()
			desc := false
			if p.keyword("desc") {
				desc = true
			} else {
				p.keyword("asc")
			}
			stmt.OrderBy = append(stmt.OrderBy, exec.SortKey{Column: col, Descending: desc})
			if p.symbol(",") {
				continue
			}
			break
		}
	}
	if p.keyword("limit") {
		stmt.HasLimit = true
		stmt.Limit = p.mustInt()
		if p.keyword("offset") {
			stmt.Offset = p.mustInt()
		}
	}
	return stmt
}

var aggFuncKeywords = []struct {
	kw string
	fn exec.AggFunc
}{
	{"count", exec.AggCount},
	{"sum", exec.AggSum},
	{"min", exec.AggMin},
	{"max", exec.AggMax},
	{"avg", exec.AggAvg},
}

// pAggCall recognizes an aggregate function call at the head of a
// SELECT item: COUNT(*), COUNT([DISTINCT] col), SUM(col), MIN(col),
// MAX(col), AVG(col). It restores the cursor and reports false if the
// keyword isn't immediately followed by '(', so a bare column named
// e.g. "count" still parses as a plain column reference.
func (p *Parser) pAggCall() (*AggCall, bool) {
	save := p.idx
	for _, af := range aggFuncKeywords {
		if !p.keyword(af.kw) {
			continue
		}
		if !p.symbol("(") {
			p.idx = save
			return nil, false
		}
		call := &AggCall{Func: af.fn}
		if af.fn == exec.AggCount && p.symbol("*") {
			// COUNT(*): Column stays empty.
		} else {
			if p.keyword("distinct") {
				call.Distinct = true
			}
			call.Column = p.mustIdent()
		}
		if !p.symbol(")") {
			p.fail("expected ')' to close aggregate call")
		}
		return call, true
	}
	return nil, false
}

func aggFuncName(fn exec.AggFunc) string {
	for _, af := range aggFuncKeywords {
		if af.fn == fn {
			return af.kw
		}
	}
	return "agg"
}

func defaultAggAlias(a *AggCall) string {
	name := aggFuncName(a.Func)
	if a.Column == "" {
		return name + "(*)"
	}
	if a.Distinct {
		return name + "(distinct " + a.Column + ")"
	}
	return name + "(" + a.Column + ")"
}

func (p *Parser) mustInt() int64 {
	p.skipSpace()
	start := p.idx
	for p.idx < len(p.input) && p.input[p.idx] >= '0' && p.input[p.idx] <= '9' {
		p.idx++
	}
	if p.idx == start {
		p.fail("expected an integer")
		return 0
	}
	n, err := strconv.ParseInt(string(p.input[start:p.idx]), 10, 64)
	if err != nil {
		p.fail("invalid integer")
		return 0
	}
	return n
}

func (p *Parser) pDropTable() *DropTableStmt {
	return &DropTableStmt{Name: p.mustIdent()}
}
