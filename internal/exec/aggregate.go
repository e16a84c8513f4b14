package exec

import (
	"fmt"

	"github.com/edgesql/coredb/internal/row"
	"github.com/edgesql/coredb/pkg/dberr"
)

// AggFunc identifies which aggregate a column-level computation runs.
type AggFunc int

const (
	AggCount AggFunc = iota
	AggSum
	AggMin
	AggMax
	AggAvg
)

// AggExpr is one aggregate output column.
type AggExpr struct {
	Func       AggFunc
	Column     string // ignored for COUNT(*): leave empty
	Distinct   bool
	OutputName string
}

// Aggregate is a blocking operator that groups Child's rows by GroupBy
// (or a single implicit group if empty) and computes Aggs over each
// group. Central dispatch (a type-switch in accumulate/finalize, rather
// than a method per AggFunc) is used for the accumulation step since
// the per-function logic is a handful of numeric one-liners, not
// distinct enough behavior to warrant separate types.
type Aggregate struct {
	Child   Operator
	GroupBy []string
	Aggs    []AggExpr

	out []row.Row
	pos int
}

type aggState struct {
	fn      AggFunc
	count   int64
	sum     float64
	isFloat bool
	extreme row.Value
	have    bool
	seen    map[string]bool // for DISTINCT
}

func (a *Aggregate) Kind() OperatorKind { return KindAggregate }
func (a *Aggregate) Close() error       { return a.Child.Close() }

func (a *Aggregate) ColumnNames() []string {
	names := make([]string, 0, len(a.GroupBy)+len(a.Aggs))
	names = append(names, a.GroupBy...)
	for _, ag := range a.Aggs {
		names = append(names, ag.OutputName)
	}
	return names
}

func (a *Aggregate) Open(ctx *Context) error {
	if err := a.Child.Open(ctx); err != nil {
		return err
	}

	var groupOrder []string
	groupValues := map[string][]row.Value{}
	groupStates := map[string][]*aggState{}

	for {
		r, ok, err := Next(a.Child, ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		key, keyVals := groupKeyOf(r, a.GroupBy)
		states, exists := groupStates[key]
		if !exists {
			states = make([]*aggState, len(a.Aggs))
			for i, ag := range a.Aggs {
				states[i] = &aggState{fn: ag.Func, seen: map[string]bool{}}
			}
			groupStates[key] = states
			groupValues[key] = keyVals
			groupOrder = append(groupOrder, key)
		}
		for i, ag := range a.Aggs {
			if err := accumulate(states[i], ag, r); err != nil {
				return err
			}
		}
		if err := ctx.CheckBudget(); err != nil {
			return err
		}
	}

	a.out = make([]row.Row, 0, len(groupOrder))
	for _, key := range groupOrder {
		cols := append([]string{}, a.GroupBy...)
		vals := append([]row.Value{}, groupValues[key]...)
		for i, ag := range a.Aggs {
			cols = append(cols, ag.OutputName)
			vals = append(vals, finalize(groupStates[key][i]))
		}
		a.out = append(a.out, row.Row{Columns: cols, Values: vals})
	}
	a.pos = 0
	return nil
}

func groupKeyOf(r row.Row, groupBy []string) (string, []row.Value) {
	if len(groupBy) == 0 {
		return "", nil
	}
	key := ""
	vals := make([]row.Value, len(groupBy))
	for i, col := range groupBy {
		v, _ := r.Get(col)
		vals[i] = v
		key += fmt.Sprintf("|%v:%v:%s", v.Type, v.I64, v.Str)
	}
	return key, vals
}

// accumulate folds one row into an aggregate's running state. Central
// dispatch by AggFunc.
func accumulate(st *aggState, ag AggExpr, r row.Row) error {
	if ag.Func == AggCount && ag.Column == "" {
		st.count++
		return nil
	}
	v, ok := r.Get(ag.Column)
	if !ok {
		return dberr.New(dberr.KindSchema, "unknown column in aggregate: %s", ag.Column)
	}
	if v.Null {
		return nil // NULLs are excluded from every aggregate but COUNT(*)
	}
	if ag.Distinct {
		key := fmt.Sprintf("%v:%v:%s", v.I64, v.F64, v.Str)
		if st.seen[key] {
			return nil
		}
		st.seen[key] = true
	}

	switch ag.Func {
	case AggCount:
		st.count++
	case AggSum, AggAvg:
		st.count++
		if v.IsFloat() {
			st.isFloat = true
			st.sum += v.F64
		} else {
			st.sum += float64(v.I64)
		}
	case AggMin:
		if !st.have || compareValues(v, st.extreme, false) < 0 {
			st.extreme = v
			st.have = true
		}
	case AggMax:
		if !st.have || compareValues(v, st.extreme, false) > 0 {
			st.extreme = v
			st.have = true
		}
	default:
		return dberr.New(dberr.KindSchema, "unsupported aggregate function: %d", ag.Func)
	}
	return nil
}

func finalize(st *aggState) row.Value {
	switch st.fn {
	case AggCount:
		return row.Int(st.count)
	case AggMin, AggMax:
		if !st.have {
			return row.NullValue(row.ColumnType(0))
		}
		return st.extreme
	case AggSum:
		if st.isFloat {
			return row.Float(st.sum)
		}
		return row.Int(int64(st.sum))
	case AggAvg:
		if st.count == 0 {
			return row.NullValue(row.ColumnType(0))
		}
		return row.Float(st.sum / float64(st.count))
	default:
		return row.NullValue(row.ColumnType(0))
	}
}

func (a *Aggregate) Next(ctx *Context) (row.Row, bool, error) {
	if a.pos >= len(a.out) {
		return row.Row{}, false, nil
	}
	r := a.out[a.pos]
	a.pos++
	return r, true, nil
}
