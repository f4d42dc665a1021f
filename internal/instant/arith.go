package instant

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Limits on accepted expressions. Anything beyond these falls through to the
// generation layer rather than risking pathological parse times.
const (
	maxExprLength = 128
	maxParenDepth = 12
)

var (
	errNotArithmetic = errors.New("instant: not an arithmetic expression")
	errDivideByZero  = errors.New("instant: division by zero")
)

// evalArithmetic parses and evaluates a bounded arithmetic expression
// supporting + - * / %, parentheses, and integer/decimal literals. It
// rejects identifiers, call syntax, and overlong input with
// errNotArithmetic so the caller can fall through.
func evalArithmetic(expr string) (float64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || len(expr) > maxExprLength {
		return 0, errNotArithmetic
	}
	p := &exprParser{input: expr}
	v, err := p.parseExpr(0)
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, errNotArithmetic
	}
	return v, nil
}

// formatResult renders integral results without a decimal point.
func formatResult(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// exprParser is a recursive-descent parser over the raw string.
//
// Grammar:
//
//	expr   → term (('+' | '-') term)*
//	term   → unary (('*' | '/' | '%') unary)*
//	unary  → '-' unary | primary
//	primary→ number | '(' expr ')'
type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseExpr(depth int) (float64, error) {
	left, err := p.parseTerm(depth)
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm(depth)
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseTerm(depth int) (float64, error) {
	left, err := p.parseUnary(depth)
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '*' && op != '/' && op != '%' {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary(depth)
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			left *= right
		case '/':
			if right == 0 {
				return 0, errDivideByZero
			}
			left /= right
		case '%':
			if right == 0 {
				return 0, errDivideByZero
			}
			left = math.Mod(left, right)
		}
	}
}

func (p *exprParser) parseUnary(depth int) (float64, error) {
	p.skipSpace()
	if p.peek() == '-' {
		p.pos++
		v, err := p.parseUnary(depth)
		return -v, err
	}
	return p.parsePrimary(depth)
}

func (p *exprParser) parsePrimary(depth int) (float64, error) {
	p.skipSpace()
	c := p.peek()
	switch {
	case c == '(':
		if depth+1 > maxParenDepth {
			return 0, errNotArithmetic
		}
		p.pos++
		v, err := p.parseExpr(depth + 1)
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return 0, errNotArithmetic
		}
		p.pos++
		return v, nil
	case c >= '0' && c <= '9', c == '.':
		return p.parseNumber()
	default:
		return 0, errNotArithmetic
	}
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	seenDot := false
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '.' {
			if seenDot {
				return 0, errNotArithmetic
			}
			seenDot = true
			p.pos++
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		p.pos++
	}
	lit := p.input[start:p.pos]
	if lit == "" || lit == "." {
		return 0, errNotArithmetic
	}
	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return 0, fmt.Errorf("instant: parse number %q: %w", lit, err)
	}
	return v, nil
}

// looksArithmetic is a cheap pre-filter: the text must contain at least one
// operator and consist only of digits, operators, parens, dots, and spaces.
func looksArithmetic(text string) bool {
	hasOp := false
	hasDigit := false
	for _, r := range text {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case r == '+' || r == '-' || r == '*' || r == '/' || r == '%':
			hasOp = true
		case r == '(' || r == ')' || r == '.' || r == ' ':
		default:
			return false
		}
	}
	return hasOp && hasDigit
}
