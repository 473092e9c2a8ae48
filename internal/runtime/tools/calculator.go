package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Calculator evaluates arithmetic expressions. Evaluation failures are
// returned as tool output rather than errors so the model can correct the
// expression.
type Calculator struct{}

// NewCalculator creates a new Calculator tool.
func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Name() string { return "calculator" }
func (c *Calculator) Description() string {
	return "Evaluate a math expression. Supports + - * / % ** and parentheses. Use it whenever the user needs arithmetic."
}
func (c *Calculator) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"expression": {"type": "string", "description": "Arithmetic expression, e.g. (2+3)*4"}
		},
		"required": ["expression"]
	}`)
}

func (c *Calculator) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	result, err := Evaluate(params.Expression)
	if err != nil {
		return fmt.Sprintf("calculation error: %v", err), nil
	}
	return fmt.Sprintf("%s = %s", params.Expression, FormatNumber(result)), nil
}

var errDivisionByZero = errors.New("division by zero")

// Evaluate computes the value of an arithmetic expression.
//
// Precedence from loosest to tightest: + and -, then * / %, then unary sign,
// then ** (right associative, so -2**2 is -4 and 2**3**2 is 512).
func Evaluate(expr string) (float64, error) {
	p := &exprParser{src: expr}
	p.next()
	v, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	if p.tok.kind != tokEOF {
		return 0, fmt.Errorf("unexpected %q at position %d", p.tok.text, p.tok.pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, errors.New("result is not a finite number")
	}
	return v, nil
}

// FormatNumber renders integral values without a fractional part.
func FormatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokOp
	tokLParen
	tokRParen
	tokBad
)

type token struct {
	kind tokKind
	text string
	num  float64
	pos  int
}

type exprParser struct {
	src string
	pos int
	tok token
}

func (p *exprParser) next() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF, text: "end of expression", pos: start}
		return
	}

	ch := p.src[p.pos]
	switch {
	case ch >= '0' && ch <= '9' || ch == '.':
		for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
			p.pos++
		}
		// exponent: 1e3, 2.5E-4
		if p.pos < len(p.src) && (p.src[p.pos] == 'e' || p.src[p.pos] == 'E') {
			j := p.pos + 1
			if j < len(p.src) && (p.src[j] == '+' || p.src[j] == '-') {
				j++
			}
			if j < len(p.src) && p.src[j] >= '0' && p.src[j] <= '9' {
				for j < len(p.src) && p.src[j] >= '0' && p.src[j] <= '9' {
					j++
				}
				p.pos = j
			}
		}
		text := p.src[start:p.pos]
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.tok = token{kind: tokBad, text: text, pos: start}
			return
		}
		p.tok = token{kind: tokNum, text: text, num: n, pos: start}
	case ch == '*' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '*':
		p.pos += 2
		p.tok = token{kind: tokOp, text: "**", pos: start}
	case strings.IndexByte("+-*/%", ch) >= 0:
		p.pos++
		p.tok = token{kind: tokOp, text: string(ch), pos: start}
	case ch == '(':
		p.pos++
		p.tok = token{kind: tokLParen, text: "(", pos: start}
	case ch == ')':
		p.pos++
		p.tok = token{kind: tokRParen, text: ")", pos: start}
	default:
		p.pos++
		p.tok = token{kind: tokBad, text: string(ch), pos: start}
	}
}

func (p *exprParser) isOp(ops ...string) bool {
	if p.tok.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if p.tok.text == op {
			return true
		}
	}
	return false
}

func (p *exprParser) parseSum() (float64, error) {
	left, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for p.isOp("+", "-") {
		op := p.tok.text
		p.next()
		right, err := p.parseProduct()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
	return left, nil
}

func (p *exprParser) parseProduct() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for p.isOp("*", "/", "%") {
		op := p.tok.text
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			left *= right
		case "/":
			if right == 0 {
				return 0, errDivisionByZero
			}
			left /= right
		case "%":
			if right == 0 {
				return 0, errDivisionByZero
			}
			// sign follows the divisor: -7 % 3 == 2
			left = left - right*math.Floor(left/right)
		}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.isOp("-", "+") {
		neg := p.tok.text == "-"
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if neg {
			return -v, nil
		}
		return v, nil
	}
	return p.parsePower()
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	if p.isOp("**") {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if base == 0 && exp < 0 {
			return 0, errDivisionByZero
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parsePrimary() (float64, error) {
	switch p.tok.kind {
	case tokNum:
		v := p.tok.num
		p.next()
		return v, nil
	case tokLParen:
		p.next()
		v, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		if p.tok.kind != tokRParen {
			return 0, fmt.Errorf("expected ) at position %d", p.tok.pos)
		}
		p.next()
		return v, nil
	case tokEOF:
		return 0, errors.New("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected %q at position %d", p.tok.text, p.tok.pos)
	}
}
