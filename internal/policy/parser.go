package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/dhawalhost/wardgate/internal/attr"
)

// ErrInvalidExpression is returned for conditions that do not compile.
var ErrInvalidExpression = errors.New("policy: invalid expression")

const (
	maxExpressionLength = 4096
	maxDepth            = 64
)

// Expression is a compiled rule condition.
type Expression struct {
	src  string
	root node
}

// Compile parses src into an Expression.
//
// Grammar:
//
//	expr    = or
//	or      = and { ("||" | "or") and }
//	and     = unary { ("&&" | "and") unary }
//	unary   = ("!" | "not") unary | compare
//	compare = operand [ cmpop operand ]
//	cmpop   = "==" | "!=" | "<" | "<=" | ">" | ">=" | "in" | "not" "in" | "contains"
//	operand = literal | list | call | path | "(" expr ")" | "-" operand
func Compile(src string) (*Expression, error) {
	if len(src) > maxExpressionLength {
		return nil, fmt.Errorf("%w: longer than %d bytes", ErrInvalidExpression, maxExpressionLength)
	}
	toks, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	if len(toks) == 1 {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %s at %d", ErrInvalidExpression, t, t.pos)
	}
	return &Expression{src: src, root: root}, nil
}

// MustCompile is Compile for expressions known to be valid.
func MustCompile(src string) *Expression {
	x, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return x
}

// Source returns the expression text as written.
func (x *Expression) Source() string { return x.src }

// String returns the fully parenthesised form.
func (x *Expression) String() string { return x.root.String() }

// Eval evaluates the expression as a condition. The result must be a boolean;
// null is treated as false.
func (x *Expression) Eval(vars attr.Bag, now time.Time) (bool, error) {
	v, err := x.root.eval(&env{vars: vars, now: now})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	b, err := truth(v, "condition")
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	return b, nil
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && t.text == word
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s, got %s at %d", kind, t, t.pos)
	}
	return t, nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return fmt.Errorf("nesting deeper than %d", maxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseOr() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr || p.keyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicNode{and: false, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd || p.keyword("and") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = logicNode{and: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokNot || p.keyword("not") {
		p.next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{x: x}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	op, ok := p.compareOp()
	if !ok {
		return left, nil
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return cmpNode{op: op, left: left, right: right}, nil
}

// compareOp consumes a comparison operator if one is next.
func (p *parser) compareOp() (cmpOp, bool) {
	t := p.peek()
	var op cmpOp
	switch {
	case t.kind == tokEq:
		op = opEq
	case t.kind == tokNeq:
		op = opNeq
	case t.kind == tokLt:
		op = opLt
	case t.kind == tokLte:
		op = opLte
	case t.kind == tokGt:
		op = opGt
	case t.kind == tokGte:
		op = opGte
	case p.keyword("in"):
		op = opIn
	case p.keyword("contains"):
		op = opContains
	case p.keyword("not") && p.toks[p.pos+1].kind == tokIdent && p.toks[p.pos+1].text == "in":
		p.next()
		op = opNotIn
	default:
		return 0, false
	}
	p.next()
	return op, true
}

func (p *parser) parseOperand() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return literal{v: attr.Number(t.num)}, nil
	case tokString:
		return literal{v: attr.String(t.text)}, nil
	case tokMinus:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if lit, ok := x.(literal); ok {
			if f, ok := lit.v.Num(); ok {
				return literal{v: attr.Number(-f)}, nil
			}
		}
		return negNode{x: x}, nil
	case tokLParen:
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return x, nil
	case tokLBracket:
		return p.parseList()
	case tokIdent:
		return p.parseIdent(t)
	}
	return nil, fmt.Errorf("unexpected %s at %d", t, t.pos)
}

func (p *parser) parseList() (node, error) {
	var items []node
	if p.peek().kind == tokRBracket {
		p.next()
		return listNode{}, nil
	}
	for {
		item, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		t := p.next()
		if t.kind == tokRBracket {
			return listNode{items: items}, nil
		}
		if t.kind != tokComma {
			return nil, fmt.Errorf("expected , or ] in list, got %s at %d", t, t.pos)
		}
	}
}

func (p *parser) parseIdent(t token) (node, error) {
	switch t.text {
	case "true":
		return literal{v: attr.Bool(true)}, nil
	case "false":
		return literal{v: attr.Bool(false)}, nil
	case "null":
		return literal{v: attr.Null()}, nil
	case "and", "or", "not", "in", "contains":
		return nil, fmt.Errorf("unexpected keyword %s at %d", t.text, t.pos)
	}

	if p.peek().kind == tokLParen {
		return p.parseCall(t)
	}

	path := t.text
	for p.peek().kind == tokDot {
		p.next()
		seg, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		path += "." + seg.text
	}
	return pathNode{path: path}, nil
}

func (p *parser) parseCall(name token) (node, error) {
	fn, ok := builtins[name.text]
	if !ok {
		return nil, fmt.Errorf("unknown function %s at %d", name.text, name.pos)
	}
	p.next() // (

	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}

	if len(args) != fn.arity {
		return nil, fmt.Errorf("%s takes %d argument(s), got %d", name.text, fn.arity, len(args))
	}
	if fn.pathArg {
		if _, ok := args[0].(pathNode); !ok {
			return nil, fmt.Errorf("%s needs an attribute path", name.text)
		}
	}
	return callNode{name: name.text, args: args, fn: fn}, nil
}
