// Expression evaluation, grounded on the teacher's
// refactor_code/internal/query/executor/select.go qlEval: a recursive
// node-type switch over a small tagged AST, with a sticky evaluation
// error the caller checks once at the end rather than threading a
// return value through every recursive call.
package exec

import (
	"bytes"

	"github.com/edgesql/coredb/internal/row"
	"github.com/edgesql/coredb/pkg/dberr"
)

// ExprKind tags an expression node.
type ExprKind int

const (
	ExprColumnRef ExprKind = iota
	ExprLiteral
	ExprUnaryNeg
	ExprNot
	ExprBinaryOp
)

// BinaryOp identifies a binary operator.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
)

// Expr is one node in an expression tree.
type Expr struct {
	Kind    ExprKind
	Column  string     // ExprColumnRef
	Literal row.Value  // ExprLiteral
	Op      BinaryOp   // ExprBinaryOp
	Left    *Expr      // ExprUnaryNeg, ExprNot, ExprBinaryOp
	Right   *Expr      // ExprBinaryOp
}

type evalState struct {
	env row.Row
	err error
}

// Eval evaluates e against r, returning the sticky first error
// encountered anywhere in the subtree.
func Eval(e *Expr, r row.Row) (row.Value, error) {
	st := &evalState{env: r}
	v := eval(st, e)
	return v, st.err
}

func eval(st *evalState, e *Expr) row.Value {
	if st.err != nil {
		return row.Value{}
	}
	switch e.Kind {
	case ExprColumnRef:
		v, ok := st.env.Get(e.Column)
		if !ok {
			st.err = dberr.New(dberr.KindSchema, "unknown column: %s", e.Column)
			return row.Value{}
		}
		return v
	case ExprLiteral:
		return e.Literal
	case ExprUnaryNeg:
		v := eval(st, e.Left)
		if st.err != nil {
			return row.Value{}
		}
		return negate(st, v)
	case ExprNot:
		v := eval(st, e.Left)
		if st.err != nil {
			return row.Value{}
		}
		return row.Bool(!truthy(v))
	case ExprBinaryOp:
		l := eval(st, e.Left)
		if st.err != nil {
			return row.Value{}
		}
		r := eval(st, e.Right)
		if st.err != nil {
			return row.Value{}
		}
		return applyBinary(st, e.Op, l, r)
	default:
		st.err = dberr.New(dberr.KindSchema, "unsupported expression kind: %d", e.Kind)
		return row.Value{}
	}
}

func negate(st *evalState, v row.Value) row.Value {
	switch {
	case v.IsInt():
		return row.Int(-v.I64)
	case v.IsFloat():
		return row.Float(-v.F64)
	default:
		st.err = dberr.New(dberr.KindSchema, "negation requires a numeric type")
		return row.Value{}
	}
}

func truthy(v row.Value) bool {
	if v.Null {
		return false
	}
	if v.IsInt() {
		return v.I64 != 0
	}
	return v.Bool
}

func applyBinary(st *evalState, op BinaryOp, l, r row.Value) row.Value {
	switch op {
	case OpAnd:
		return row.Bool(truthy(l) && truthy(r))
	case OpOr:
		return row.Bool(truthy(l) || truthy(r))
	case OpEq:
		return row.Bool(valuesEqual(l, r))
	case OpNeq:
		return row.Bool(!valuesEqual(l, r))
	case OpLt, OpLte, OpGt, OpGte:
		return compareOrdered(st, op, l, r)
	case OpAdd, OpSub, OpMul, OpDiv:
		return arithmetic(st, op, l, r)
	default:
		st.err = dberr.New(dberr.KindSchema, "unsupported binary operator: %d", op)
		return row.Value{}
	}
}

func valuesEqual(l, r row.Value) bool {
	if l.Null || r.Null {
		return l.Null && r.Null
	}
	switch {
	case l.IsInt() && r.IsInt():
		return l.I64 == r.I64
	case l.IsFloat() || r.IsFloat():
		return numeric(l) == numeric(r)
	case l.IsBool() && r.IsBool():
		return l.Bool == r.Bool
	default:
		return bytes.Equal(l.Str, r.Str)
	}
}

func numeric(v row.Value) float64 {
	if v.IsInt() {
		return float64(v.I64)
	}
	return v.F64
}

func compareOrdered(st *evalState, op BinaryOp, l, r row.Value) row.Value {
	var cmp int
	switch {
	case (l.IsInt() || l.IsFloat()) && (r.IsInt() || r.IsFloat()):
		a, b := numeric(l), numeric(r)
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	case l.Str != nil || r.Str != nil:
		cmp = bytes.Compare(l.Str, r.Str)
	default:
		st.err = dberr.New(dberr.KindSchema, "incomparable operand types")
		return row.Value{}
	}
	switch op {
	case OpLt:
		return row.Bool(cmp < 0)
	case OpLte:
		return row.Bool(cmp <= 0)
	case OpGt:
		return row.Bool(cmp > 0)
	default: // OpGte
		return row.Bool(cmp >= 0)
	}
}

func arithmetic(st *evalState, op BinaryOp, l, r row.Value) row.Value {
	if !(l.IsInt() || l.IsFloat()) || !(r.IsInt() || r.IsFloat()) {
		st.err = dberr.New(dberr.KindSchema, "arithmetic requires numeric operands")
		return row.Value{}
	}
	if l.IsInt() && r.IsInt() {
		switch op {
		case OpAdd:
			return row.Int(l.I64 + r.I64)
		case OpSub:
			return row.Int(l.I64 - r.I64)
		case OpMul:
			return row.Int(l.I64 * r.I64)
		case OpDiv:
			if r.I64 == 0 {
				st.err = dberr.New(dberr.KindSchema, "division by zero")
				return row.Value{}
			}
			return row.Int(l.I64 / r.I64)
		}
	}
	a, b := numeric(l), numeric(r)
	switch op {
	case OpAdd:
		return row.Float(a + b)
	case OpSub:
		return row.Float(a - b)
	case OpMul:
		return row.Float(a * b)
	default: // OpDiv
		if b == 0 {
			st.err = dberr.New(dberr.KindSchema, "division by zero")
			return row.Value{}
		}
		return row.Float(a / b)
	}
}
