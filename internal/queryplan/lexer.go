// Package queryplan implements the "trivial structural translator"
// from SPEC_FULL §1/§2: a minimal SQL parser, grounded on the teacher's
// query-parser package (a byte-cursor Parser with case-insensitive
// pKeyword token matching and precedence-climbing expression parsing),
// feeding a planner that maps statements directly onto internal/exec
// operator trees with no cost model.
package queryplan

import (
	"strings"
	"unicode"

	"github.com/edgesql/coredb/pkg/dberr"
)

// Parser walks a SQL statement's byte cursor, matching the teacher's
// query-parser.Parser shape.
type Parser struct {
	input []byte
	idx   int
	err   error
}

func newParser(sql string) *Parser {
	return &Parser{input: []byte(sql)}
}

func (p *Parser) skipSpace() {
	for p.idx < len(p.input) && unicode.IsSpace(rune(p.input[p.idx])) {
		p.idx++
	}
}

func isSymStart(ch byte) bool { return unicode.IsLetter(rune(ch)) || ch == '_' }
func isSym(ch byte) bool      { return unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch)) || ch == '_' }

// keyword matches kw case-insensitively at the current cursor, only if
// it is a whole token (not a prefix of a longer identifier), restoring
// the cursor on failure.
func (p *Parser) keyword(kw string) bool {
	save := p.idx
	p.skipSpace()
	end := p.idx + len(kw)
	if end > len(p.input) {
		p.idx = save
		return false
	}
	if !strings.EqualFold(string(p.input[p.idx:end]), kw) {
		p.idx = save
		return false
	}
	if isSym(kw[len(kw)-1]) && end < len(p.input) && isSym(p.input[end]) {
		p.idx = save
		return false
	}
	p.idx += len(kw)
	return true
}

// keywords matches a sequence of keywords, e.g. "insert","into".
func (p *Parser) keywords(kws ...string) bool {
	save := p.idx
	for _, kw := range kws {
		if !p.keyword(kw) {
			p.idx = save
			return false
		}
	}
	return true
}

func (p *Parser) ident() (string, bool) {
	p.skipSpace()
	if p.idx >= len(p.input) || !isSymStart(p.input[p.idx]) {
		return "", false
	}
	start := p.idx
	p.idx++
	for p.idx < len(p.input) && isSym(p.input[p.idx]) {
		p.idx++
	}
	return string(p.input[start:p.idx]), true
}

func (p *Parser) mustIdent() string {
	id, ok := p.ident()
	if !ok {
		p.fail("expected an identifier")
		return ""
	}
	return id
}

func (p *Parser) fail(format string, args ...interface{}) {
	if p.err == nil {
		p.err = dberr.New(dberr.KindParse, format, args...)
	}
}

func (p *Parser) atEnd() bool {
	p.skipSpace()
	return p.idx >= len(p.input)
}
