// Package parse turns expression text such as "P(TTM($$net_profit, 3, 2))" into an
// expression tree.
//
// Grammar:
//
//	expr  := field | call
//	field := "$$" ident | "$" ident
//	call  := "P(" expr ")" | "TTM(" expr "," int ["," int] ")" | "LYR(" expr "," int ")"
//
// P wraps an expression as point-in-time; every node here already is, so the
// wrapper is unwrapped.
//
// A TTM without a mode takes the catalog default of its leaf: flow fields are
// telescoped (mode 2), everything else is averaged (mode 1). Without a catalog,
// or for fields the catalog does not declare, the default is mode 1 as in qlib.
// Expressions ported from qlib that omit the mode therefore change meaning for
// flow fields once a catalog is loaded; spell the mode out to keep the qlib result.
//
// The offset N of TTM and LYR is limited to MaxOffset in either direction.
package parse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/aristath/pitmetrics/internal/catalog"
	"github.com/aristath/pitmetrics/internal/expr"
	"github.com/aristath/pitmetrics/internal/rolling"
)

// MaxOffset bounds |N| of TTM and LYR: a century of quarters
const MaxOffset = 400

var (
	// ErrSyntax is returned for malformed expression text
	ErrSyntax = errors.New("syntax error")
	// ErrUnknownField is returned when the catalog does not declare a referenced field
	ErrUnknownField = errors.New("unknown field")
)

// Parse builds the expression tree for text, binding leaves to src
func Parse(text string, src expr.Source, cat *catalog.Catalog) (expr.Expression, error) {
	p := &parser{input: text, src: src, cat: cat}
	e, err := p.expression()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return nil, p.errorf("unexpected %q", p.input[p.pos:])
	}
	return e, nil
}

// Fields lists the line items an expression reads, in tree order
func Fields(e expr.Expression) []string {
	var names []string
	expr.Walk(e, func(node expr.Expression) bool {
		if f, ok := node.(*expr.Field); ok {
			names = append(names, f.Name())
		}
		return true
	})
	return names
}

type parser struct {
	input string
	pos   int
	src   expr.Source
	cat   *catalog.Catalog
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w at offset %d: %s", ErrSyntax, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *parser) expect(b byte) error {
	p.skipSpace()
	if p.pos >= len(p.input) || p.input[p.pos] != b {
		return p.errorf("expected %q", b)
	}
	p.pos++
	return nil
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func isIdent(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func (p *parser) ident() string {
	start := p.pos
	for p.pos < len(p.input) && isIdent(p.input[p.pos]) {
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *parser) integer() (int, error) {
	p.skipSpace()
	start := p.pos
	if p.pos < len(p.input) && (p.input[p.pos] == '-' || p.input[p.pos] == '+') {
		p.pos++
	}
	for p.pos < len(p.input) && p.input[p.pos] >= '0' && p.input[p.pos] <= '9' {
		p.pos++
	}
	n, err := strconv.Atoi(p.input[start:p.pos])
	if err != nil {
		p.pos = start
		return 0, p.errorf("expected integer")
	}
	return n, nil
}

func (p *parser) expression() (expr.Expression, error) {
	if p.peek() == '$' {
		return p.field()
	}

	name := p.ident()
	if name == "" {
		return nil, p.errorf("expected field or operator")
	}
	if err := p.expect('('); err != nil {
		return nil, err
	}

	var (
		e   expr.Expression
		err error
	)
	switch strings.ToUpper(name) {
	case "P":
		e, err = p.expression()
	case "TTM":
		e, err = p.ttm()
	case "LYR":
		e, err = p.lyr()
	default:
		return nil, p.errorf("unknown operator %s", name)
	}
	if err != nil {
		return nil, err
	}

	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *parser) field() (expr.Expression, error) {
	p.pos++
	if p.pos < len(p.input) && p.input[p.pos] == '$' {
		p.pos++
	}
	name := p.ident()
	if name == "" {
		return nil, p.errorf("expected field name")
	}
	if !p.cat.Known(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	return expr.NewField(name, p.src), nil
}

func (p *parser) ttm() (expr.Expression, error) {
	child, n, err := p.operands()
	if err != nil {
		return nil, err
	}

	var mode rolling.Mode
	if p.peek() == ',' {
		p.pos++
		m, err := p.integer()
		if err != nil {
			return nil, err
		}
		mode = rolling.Mode(m)
	} else {
		mode = p.defaultMode(child)
	}
	return rolling.NewTTM(child, n, mode), nil
}

func (p *parser) lyr() (expr.Expression, error) {
	child, n, err := p.operands()
	if err != nil {
		return nil, err
	}
	return rolling.NewLYR(child, n), nil
}

// operands parses "expr, int"
func (p *parser) operands() (expr.Expression, int, error) {
	child, err := p.expression()
	if err != nil {
		return nil, 0, err
	}
	if err := p.expect(','); err != nil {
		return nil, 0, err
	}
	at := p.pos
	n, err := p.integer()
	if err != nil {
		return nil, 0, err
	}
	if n > MaxOffset || n < -MaxOffset {
		p.pos = at
		return nil, 0, p.errorf("offset %d out of range [-%d, %d]", n, MaxOffset, MaxOffset)
	}
	return child, n, nil
}

func (p *parser) defaultMode(child expr.Expression) rolling.Mode {
	fields := Fields(child)
	if len(fields) == 0 {
		return rolling.BalanceSheetAverage
	}
	return p.cat.DefaultMode(fields[0])
}
