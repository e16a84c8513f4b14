package exec

import "github.com/edgesql/coredb/internal/row"

// Limit skips Offset rows then emits at most Count rows. Count < 0
// means unbounded.
type Limit struct {
	Child  Operator
	Offset int64
	Count  int64

	skipped int64
	emitted int64
}

func (l *Limit) Kind() OperatorKind      { return KindLimit }
func (l *Limit) ColumnNames() []string   { return l.Child.ColumnNames() }
func (l *Limit) Open(ctx *Context) error { l.skipped, l.emitted = 0, 0; return l.Child.Open(ctx) }
func (l *Limit) Close() error            { return l.Child.Close() }

func (l *Limit) Next(ctx *Context) (row.Row, bool, error) {
	if l.Count >= 0 && l.emitted >= l.Count {
		return row.Row{}, false, nil
	}
	for l.skipped < l.Offset {
		_, ok, err := Next(l.Child, ctx)
		if err != nil || !ok {
			return row.Row{}, false, err
		}
		l.skipped++
	}
	r, ok, err := Next(l.Child, ctx)
	if err != nil || !ok {
		return row.Row{}, false, err
	}
	l.emitted++
	return r, true, nil
}
