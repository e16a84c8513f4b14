package exec

import (
	gosort "sort"

	"github.com/edgesql/coredb/internal/row"
)

// SortKey orders by one column, ascending or descending. NULLs sort
// first in ascending order and last in descending order — the resolved
// choice for the spec's "implementation-defined but consistent" NULL
// ordering requirement.
type SortKey struct {
	Column     string
	Descending bool
}

// Sort is a blocking, in-memory materialize-then-sort operator. It
// checks the budget on every materialized row so a runaway sort fails
// fast rather than exhausting memory silently.
type Sort struct {
	Child Operator
	Keys  []SortKey

	rows []row.Row
	pos  int
	done bool
}

func (s *Sort) Kind() OperatorKind    { return KindSort }
func (s *Sort) ColumnNames() []string { return s.Child.ColumnNames() }
func (s *Sort) Close() error          { return s.Child.Close() }

func (s *Sort) Open(ctx *Context) error {
	if err := s.Child.Open(ctx); err != nil {
		return err
	}
	s.rows = nil
	s.pos = 0
	s.done = false
	for {
		r, ok, err := Next(s.Child, ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if _, err := ctx.Allocator.Allocate(estimateRowSize(r), 1); err != nil {
			return ctx.fail(ViolationMemoryExceeded, err)
		}
		s.rows = append(s.rows, r)
		if err := ctx.CheckBudget(); err != nil {
			return err
		}
	}
	gosort.SliceStable(s.rows, func(i, j int) bool { return s.less(s.rows[i], s.rows[j]) })
	return nil
}

func (s *Sort) less(a, b row.Row) bool {
	for _, k := range s.Keys {
		va, _ := a.Get(k.Column)
		vb, _ := b.Get(k.Column)
		cmp := compareValues(va, vb, k.Descending)
		if cmp != 0 {
			if k.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
	}
	return false
}

// compareValues returns -1/0/1 for a vs b in ascending sense, treating
// NULL as lower than every non-NULL value. less inverts the result for a
// descending key, so NULLs come first ascending and last descending; desc
// does not change the result here.
func compareValues(a, b row.Value, desc bool) int {
	if a.Null && b.Null {
		return 0
	}
	if a.Null {
		return -1
	}
	if b.Null {
		return 1
	}
	switch {
	case a.IsInt() && b.IsInt():
		switch {
		case a.I64 < b.I64:
			return -1
		case a.I64 > b.I64:
			return 1
		default:
			return 0
		}
	case a.IsFloat() || b.IsFloat():
		af, bf := numeric(a), numeric(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	default:
		switch {
		case string(a.Str) < string(b.Str):
			return -1
		case string(a.Str) > string(b.Str):
			return 1
		default:
			return 0
		}
	}
}

// estimateRowSize approximates the memory a materialized row holds
// against the query's budget: a fixed per-value overhead plus the
// variable-length payload for text/blob columns.
func estimateRowSize(r row.Row) int {
	const perValueOverhead = 24
	size := 0
	for _, v := range r.Values {
		size += perValueOverhead + len(v.Str)
	}
	return size
}

func (s *Sort) Next(ctx *Context) (row.Row, bool, error) {
	if s.pos >= len(s.rows) {
		return row.Row{}, false, nil
	}
	r := s.rows[s.pos]
	s.pos++
	return r, true, nil
}
