package queryplan

import (
	"strconv"
	"strings"

	"github.com/edgesql/coredb/internal/exec"
	"github.com/edgesql/coredb/internal/row"
)

// parseExpr is the entry point into the precedence-climbing chain,
// grounded on the teacher's query-parser pExprOr chain: each level
// binds looser than the next, bottoming out at pAtom.
func (p *Parser) parseExpr() *exec.Expr {
	return p.pOr()
}

// pOr, pAnd, ... follow query-parser's pExprOr -> pExprAnd -> pExprNot ->
// pExprCmp -> pExprAdd -> pExprMul -> pExprUnop -> pExprAtom chain,
// adapted to build *exec.Expr nodes instead of the teacher's QL AST.
func (p *Parser) pOr() *exec.Expr {
	left := p.pAnd()
	for p.keyword("or") {
		right := p.pAnd()
		left = &exec.Expr{Kind: exec.ExprBinaryOp, Op: exec.OpOr, Left: left, Right: right}
	}
	return left
}

func (p *Parser) pAnd() *exec.Expr {
	left := p.pNot()
	for p.keyword("and") {
		right := p.pNot()
		left = &exec.Expr{Kind: exec.ExprBinaryOp, Op: exec.OpAnd, Left: left, Right: right}
	}
	return left
}

func (p *Parser) pNot() *exec.Expr {
	if p.keyword("not") {
		return &exec.Expr{Kind: exec.ExprNot, Left: p.pNot()}
	}
	return p.pCmp()
}

var cmpOps = []struct {
	tok string
	op  exec.BinaryOp
}{
	{"<=", exec.OpLte},
	{">=", exec.OpGte},
	{"<>", exec.OpNeq},
	{"!=", exec.OpNeq},
	{"=", exec.OpEq},
	{"<", exec.OpLt},
	{">", exec.OpGt},
}

func (p *Parser) pCmp() *exec.Expr {
	left := p.pAdd()
	for {
		matched := false
		for _, c := range cmpOps {
			if p.symbol(c.tok) {
				right := p.pAdd()
				left = &exec.Expr{Kind: exec.ExprBinaryOp, Op: c.op, Left: left, Right: right}
				matched = true
				break
			}
		}
		if !matched {
			return left
		}
	}
}

func (p *Parser) pAdd() *exec.Expr {
	left := p.pMul()
	for {
		switch {
		case p.symbol("+"):
			left = &exec.Expr{Kind: exec.ExprBinaryOp, Op: exec.OpAdd, Left: left, Right: p.pMul()}
		case p.symbol("-"):
			left = &exec.Expr{Kind: exec.ExprBinaryOp, Op: exec.OpSub, Left: left, Right: p.pMul()}
		default:
			return left
		}
	}
}

func (p *Parser) pMul() *exec.Expr {
	left := p.pUnary()
	for {
		switch {
		case p.symbol("*"):
			left = &exec.Expr{Kind: exec.ExprBinaryOp, Op: exec.OpMul, Left: left, Right: p.pUnary()}
		case p.symbol("/"):
			left = &exec.Expr{Kind: exec.ExprBinaryOp, Op: exec.OpDiv, Left: left, Right: p.pUnary()}
		default:
			return left
		}
	}
}

func (p *Parser) pUnary() *exec.Expr {
	if p.symbol("-") {
		return &exec.Expr{Kind: exec.ExprUnaryNeg, Left: p.pUnary()}
	}
	return p.pAtom()
}

func (p *Parser) pAtom() *exec.Expr {
	p.skipSpace()
	if p.symbol("(") {
		e := p.parseExpr()
		if !p.symbol(")") {
			p.fail("expected closing ')'")
		}
		return e
	}
	if v, ok := p.pString(); ok {
		return &exec.Expr{Kind: exec.ExprLiteral, Literal: row.Text(v)}
	}
	if v, ok := p.pNumber(); ok {
		return v
	}
	if p.keyword("true") {
		return &exec.Expr{Kind: exec.ExprLiteral, Literal: row.Bool(true)}
	}
	if p.keyword("false") {
		return &exec.Expr{Kind: exec.ExprLiteral, Literal: row.Bool(false)}
	}
	if p.keyword("null") {
		return &exec.Expr{Kind: exec.ExprLiteral, Literal: row.NullValue(row.ColumnType(0))}
	}
	if id, ok := p.ident(); ok {
		return &exec.Expr{Kind: exec.ExprColumnRef, Column: id}
	}
	p.fail("expected an expression")
	return &exec.Expr{Kind: exec.ExprLiteral, Literal: row.NullValue(row.ColumnType(0))}
}

// symbol matches a punctuation token (not a whole-word keyword), so it
// does not require a trailing non-symbol boundary the way keyword does.
func (p *Parser) symbol(sym string) bool {
	save := p.idx
	p.skipSpace()
	end := p.idx + len(sym)
	if end > len(p.input) || string(p.input[p.idx:end]) != sym {
		p.idx = save
		return false
	}
	p.idx = end
	return true
}

func (p *Parser) pString() (string, bool) {
	p.skipSpace()
	if p.idx >= len(p.input) || p.input[p.idx] != '\'' {
		return "", false
	}
	start := p.idx + 1
	i := start
	var b strings.Builder
	for i < len(p.input) {
		if p.input[i] == '\'' {
			if i+1 < len(p.input) && p.input[i+1] == '\'' { // '' escapes a literal quote
				b.WriteByte('\'')
				i += 2
				continue
			}
			p.idx = i + 1
			return b.String(), true
		}
		b.WriteByte(p.input[i])
		i++
	}
	p.fail("unterminated string literal")
	return "", true
}

func (p *Parser) pNumber() (*exec.Expr, bool) {
	p.skipSpace()
	start := p.idx
	i := start
	isFloat := false
	for i < len(p.input) && (p.input[i] >= '0' && p.input[i] <= '9') {
		i++
	}
	if i == start {
		return nil, false
	}
	if i < len(p.input) && p.input[i] == '.' {
		isFloat = true
		i++
		for i < len(p.input) && (p.input[i] >= '0' && p.input[i] <= '9') {
			i++
		}
	}
	p.idx = i
	text := string(p.input[start:i])
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.fail("invalid float literal %q", text)
			return nil, true
		}
		return &exec.Expr{Kind: exec.ExprLiteral, Literal: row.Float(f)}, true
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		p.fail("invalid integer literal %q", text)
		return nil, true
	}
	return &exec.Expr{Kind: exec.ExprLiteral, Literal: row.Int(n)}, true
}
