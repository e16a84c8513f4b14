package exec

import "github.com/edgesql/coredb/internal/row"

// ProjectExpr is one output column of a Project: a name and the
// expression producing it.
type ProjectExpr struct {
	Name string
	Expr *Expr
}

// Project evaluates Exprs against each row pulled from Child, producing
// output rows with the declared column names.
type Project struct {
	Child Operator
	Exprs []ProjectExpr
}

func (p *Project) Kind() OperatorKind { return KindProject }

func (p *Project) ColumnNames() []string {
	names := make([]string, len(p.Exprs))
	for i, e := range p.Exprs {
		names[i] = e.Name
	}
	return names
}

func (p *Project) Open(ctx *Context) error { return p.Child.Open(ctx) }
func (p *Project) Close() error            { return p.Child.Close() }

func (p *Project) Next(ctx *Context) (row.Row, bool, error) {
	r, ok, err := Next(p.Child, ctx)
	if err != nil || !ok {
		return row.Row{}, ok, err
	}
	out := row.Row{Columns: make([]string, len(p.Exprs)), Values: make([]row.Value, len(p.Exprs))}
	for i, pe := range p.Exprs {
		v, err := Eval(pe.Expr, r)
		if err != nil {
			return row.Row{}, false, err
		}
		out.Columns[i] = pe.Name
		out.Values[i] = v
	}
	ctx.BumpInstructions(int64(len(p.Exprs)))
	return out, true, nil
}
