package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dhawalhost/wardgate/internal/attr"
)

// ErrEvaluation is returned when a compiled condition cannot be evaluated
// against the supplied attributes.
var ErrEvaluation = errors.New("policy: evaluation failed")

// env is the evaluation input: the attribute bag and the engine's clock reading.
type env struct {
	vars attr.Bag
	now  time.Time
}

// node is a compiled expression.
type node interface {
	eval(e *env) (attr.Value, error)
	String() string
}

type literal struct{ v attr.Value }

func (n literal) eval(*env) (attr.Value, error) { return n.v, nil }
func (n literal) String() string                 { return n.v.String() }

type listNode struct{ items []node }

func (n listNode) eval(e *env) (attr.Value, error) {
	vs := make([]attr.Value, 0, len(n.items))
	for _, item := range n.items {
		v, err := item.eval(e)
		if err != nil {
			return attr.Null(), err
		}
		vs = append(vs, v)
	}
	return attr.List(vs...), nil
}

func (n listNode) String() string {
	parts := make([]string, len(n.items))
	for i, item := range n.items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// pathNode resolves a dotted path. Missing paths evaluate to null.
type pathNode struct{ path string }

func (n pathNode) eval(e *env) (attr.Value, error) {
	v, _ := e.vars.Lookup(n.path)
	return v, nil
}

func (n pathNode) String() string { return n.path }

type notNode struct{ x node }

func (n notNode) eval(e *env) (attr.Value, error) {
	v, err := n.x.eval(e)
	if err != nil {
		return attr.Null(), err
	}
	b, err := truth(v, "!")
	if err != nil {
		return attr.Null(), err
	}
	return attr.Bool(!b), nil
}

func (n notNode) String() string { return "!" + n.x.String() }

type negNode struct{ x node }

func (n negNode) eval(e *env) (attr.Value, error) {
	v, err := n.x.eval(e)
	if err != nil {
		return attr.Null(), err
	}
	f, ok := v.Num()
	if !ok {
		return attr.Null(), fmt.Errorf("unary - needs a number, got %s", v.Kind())
	}
	return attr.Number(-f), nil
}

func (n negNode) String() string { return "-" + n.x.String() }

// logicNode short-circuits && and ||.
type logicNode struct {
	and         bool
	left, right node
}

func (n logicNode) eval(e *env) (attr.Value, error) {
	op := "||"
	if n.and {
		op = "&&"
	}
	lv, err := n.left.eval(e)
	if err != nil {
		return attr.Null(), err
	}
	l, err := truth(lv, op)
	if err != nil {
		return attr.Null(), err
	}
	if n.and != l {
		return attr.Bool(l), nil
	}
	rv, err := n.right.eval(e)
	if err != nil {
		return attr.Null(), err
	}
	r, err := truth(rv, op)
	if err != nil {
		return attr.Null(), err
	}
	return attr.Bool(r), nil
}

func (n logicNode) String() string {
	op := " || "
	if n.and {
		op = " && "
	}
	return "(" + n.left.String() + op + n.right.String() + ")"
}

type cmpOp int

const (
	opEq cmpOp = iota
	opNeq
	opLt
	opLte
	opGt
	opGte
	opIn
	opNotIn
	opContains
)

var cmpNames = [...]string{"==", "!=", "<", "<=", ">", ">=", "in", "not in", "contains"}

type cmpNode struct {
	op          cmpOp
	left, right node
}

func (n cmpNode) eval(e *env) (attr.Value, error) {
	l, err := n.left.eval(e)
	if err != nil {
		return attr.Null(), err
	}
	r, err := n.right.eval(e)
	if err != nil {
		return attr.Null(), err
	}

	switch n.op {
	case opEq:
		return attr.Bool(l.Equal(r)), nil
	case opNeq:
		return attr.Bool(!l.Equal(r)), nil
	case opIn, opNotIn:
		if r.IsNull() {
			return attr.Bool(n.op == opNotIn), nil
		}
		if r.Kind() != attr.KindList {
			return attr.Null(), fmt.Errorf("%s needs a list on the right, got %s", cmpNames[n.op], r.Kind())
		}
		return attr.Bool(l.In(r) == (n.op == opIn)), nil
	case opContains:
		if l.IsNull() {
			return attr.Bool(false), nil
		}
		if l.Kind() != attr.KindList && l.Kind() != attr.KindString {
			return attr.Null(), fmt.Errorf("contains needs a list or string on the left, got %s", l.Kind())
		}
		return attr.Bool(l.Contains(r)), nil
	}

	// Ordering. Absent values never satisfy an ordering.
	if l.IsNull() || r.IsNull() {
		return attr.Bool(false), nil
	}
	c, ok := l.Compare(r)
	if !ok {
		return attr.Null(), fmt.Errorf("cannot compare %s %s %s", l.Kind(), cmpNames[n.op], r.Kind())
	}
	switch n.op {
	case opLt:
		return attr.Bool(c < 0), nil
	case opLte:
		return attr.Bool(c <= 0), nil
	case opGt:
		return attr.Bool(c > 0), nil
	default:
		return attr.Bool(c >= 0), nil
	}
}

func (n cmpNode) String() string {
	return "(" + n.left.String() + " " + cmpNames[n.op] + " " + n.right.String() + ")"
}

type callNode struct {
	name string
	args []node
	fn   builtin
}

func (n callNode) eval(e *env) (attr.Value, error) {
	return n.fn.call(e, n.args)
}

func (n callNode) String() string {
	parts := make([]string, len(n.args))
	for i, a := range n.args {
		parts[i] = a.String()
	}
	return n.name + "(" + strings.Join(parts, ", ") + ")"
}

// truth reads a boolean operand. Null counts as false so conditions over
// absent attributes simply do not match.
func truth(v attr.Value, op string) (bool, error) {
	if v.IsNull() {
		return false, nil
	}
	b, ok := v.Truth()
	if !ok {
		return false, fmt.Errorf("%s needs a boolean, got %s", op, v.Kind())
	}
	return b, nil
}
