package exec

import (
	"github.com/edgesql/coredb/internal/row"
)

// OperatorKind tags each node in the plan tree, as reported by
// Operator.Kind. Execution dispatches through the Operator interface
// methods; no code in this package switches on the tag.
type OperatorKind int

const (
	KindTableScan OperatorKind = iota
	KindFilter
	KindProject
	KindSort
	KindLimit
	KindAggregate
	KindInsert
	KindCreateTable
	KindDropTable
)

// Operator is the pull-based execution capability set from §4.6.
type Operator interface {
	Kind() OperatorKind
	Open(ctx *Context) error
	Next(ctx *Context) (row.Row, bool, error)
	Close() error
	ColumnNames() []string
}

// Next is the free-function central-dispatch entry point plan drivers
// call: it wraps op.Next with the bookkeeping every operator needs
// (should_stop short-circuiting), so individual operators don't have to
// repeat it in every implementation.
func Next(op Operator, ctx *Context) (row.Row, bool, error) {
	if ctx.ShouldStop() {
		if err := ctx.CheckBudget(); err != nil {
			return row.Row{}, false, err
		}
		return row.Row{}, false, nil
	}
	return op.Next(ctx)
}

// Run drains op to completion via ctx.Start()/ctx.Finalize(), collecting
// every emitted row. Intended for tests and simple non-streaming
// callers; the eventual network-facing executor may stream instead.
//
// MaxResultRows is enforced here rather than in any one operator: a
// plan without an explicit Limit node (a plain scan/filter/project)
// never passes through Limit.Next, so counting there would leave those
// plans unbounded. Run is the one place every row surfacing from the
// root operator passes through on its way to the caller, so it is
// where RowsReturned is incremented and checked.
//
// The check runs before a row already pulled from op is appended, not
// after: on the row that would make RowsReturned exceed the limit, the
// budget check fires and that row is discarded rather than returned,
// so a result of exactly N==MaxResultRows rows succeeds cleanly with
// all N rows delivered, and only N>MaxResultRows reports
// ROWS_EXCEEDED.
func Run(op Operator, ctx *Context) ([]row.Row, error) {
	ctx.Start()
	defer ctx.Finalize()

	if err := op.Open(ctx); err != nil {
		return nil, err
	}
	defer op.Close()

	var out []row.Row
	for {
		r, ok, err := Next(op, ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		if ctx.Budget.MaxResultRows > 0 && ctx.Counters.RowsReturned >= ctx.Budget.MaxResultRows {
			if err := ctx.CheckBudget(); err != nil {
				return out, err
			}
		}
		ctx.Counters.RowsReturned++
		out = append(out, r)
	}
}
