package exec

import "github.com/edgesql/coredb/internal/row"

// Filter pulls from Child and emits only rows where Predicate evaluates
// truthy.
type Filter struct {
	Child     Operator
	Predicate *Expr
}

func (f *Filter) Kind() OperatorKind      { return KindFilter }
func (f *Filter) ColumnNames() []string   { return f.Child.ColumnNames() }
func (f *Filter) Open(ctx *Context) error { return f.Child.Open(ctx) }
func (f *Filter) Close() error            { return f.Child.Close() }

func (f *Filter) Next(ctx *Context) (row.Row, bool, error) {
	for {
		r, ok, err := Next(f.Child, ctx)
		if err != nil || !ok {
			return row.Row{}, ok, err
		}
		v, err := Eval(f.Predicate, r)
		if err != nil {
			return row.Row{}, false, err
		}
		ctx.BumpInstructions(1)
		if truthy(v) {
			return r, true, nil
		}
	}
}
