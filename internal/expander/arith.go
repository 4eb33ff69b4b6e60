package expander

import (
	"strconv"
	"strings"

	"github.com/lucasnoah/sweepbench/internal/vars"
)

// tryFold evaluates s as an arithmetic expression over numeric literals
// (+ - * /, parentheses, unary minus). It only folds when the entire string
// parses and contains at least one operator, so plain literals and ordinary
// text pass through untouched.
func tryFold(s string) (string, bool) {
	p := &arithParser{input: strings.TrimSpace(s)}
	if p.input == "" {
		return "", false
	}
	v, ok := p.parseExpr()
	if !ok || !p.atEnd() || !p.sawOp {
		return "", false
	}
	return vars.FormatNumber(v), true
}

// arithParser is a tiny recursive-descent parser:
//
//	expr   = term   (('+'|'-') term)*
//	term   = factor (('*'|'/') factor)*
//	factor = number | '-' factor | '(' expr ')'
type arithParser struct {
	input string
	pos   int
	sawOp bool
}

func (p *arithParser) atEnd() bool {
	p.skipSpace()
	return p.pos >= len(p.input)
}

func (p *arithParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *arithParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *arithParser) parseExpr() (float64, bool) {
	left, ok := p.parseTerm()
	if !ok {
		return 0, false
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			p.sawOp = true
			right, ok := p.parseTerm()
			if !ok {
				return 0, false
			}
			left += right
		case '-':
			p.pos++
			p.sawOp = true
			right, ok := p.parseTerm()
			if !ok {
				return 0, false
			}
			left -= right
		default:
			return left, true
		}
	}
}

func (p *arithParser) parseTerm() (float64, bool) {
	left, ok := p.parseFactor()
	if !ok {
		return 0, false
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			p.sawOp = true
			right, ok := p.parseFactor()
			if !ok {
				return 0, false
			}
			left *= right
		case '/':
			p.pos++
			p.sawOp = true
			right, ok := p.parseFactor()
			if !ok || right == 0 {
				return 0, false
			}
			left /= right
		default:
			return left, true
		}
	}
}

func (p *arithParser) parseFactor() (float64, bool) {
	switch p.peek() {
	case '-':
		p.pos++
		p.sawOp = true
		v, ok := p.parseFactor()
		return -v, ok
	case '(':
		p.pos++
		v, ok := p.parseExpr()
		if !ok || p.peek() != ')' {
			return 0, false
		}
		p.pos++
		return v, ok
	default:
		return p.parseNumber()
	}
}

func (p *arithParser) parseNumber() (float64, bool) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= '0' && c <= '9') || c == '.' {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return 0, false
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
