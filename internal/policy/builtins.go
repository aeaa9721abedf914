package policy

import (
	"fmt"
	"strings"

	"github.com/dhawalhost/wardgate/internal/attr"
)

type builtin struct {
	arity int
	// pathArg requires the single argument to be a bare path.
	pathArg bool
	call    func(e *env, args []node) (attr.Value, error)
}

var builtins = map[string]builtin{
	"now": {call: func(e *env, _ []node) (attr.Value, error) {
		return attr.Number(float64(e.now.Unix())), nil
	}},
	"hour": {call: func(e *env, _ []node) (attr.Value, error) {
		return attr.Number(float64(e.now.Hour())), nil
	}},
	"weekday": {call: func(e *env, _ []node) (attr.Value, error) {
		return attr.Number(float64(e.now.Weekday())), nil
	}},
	"has": {arity: 1, pathArg: true, call: func(e *env, args []node) (attr.Value, error) {
		return attr.Bool(e.vars.Has(args[0].(pathNode).path)), nil
	}},
	"lower": {arity: 1, call: func(e *env, args []node) (attr.Value, error) {
		v, err := args[0].eval(e)
		if err != nil || v.IsNull() {
			return v, err
		}
		s, ok := v.Str()
		if !ok {
			return attr.Null(), fmt.Errorf("lower needs a string, got %s", v.Kind())
		}
		return attr.String(strings.ToLower(s)), nil
	}},
	"len": {arity: 1, call: func(e *env, args []node) (attr.Value, error) {
		v, err := args[0].eval(e)
		if err != nil {
			return attr.Null(), err
		}
		if v.IsNull() {
			return attr.Number(0), nil
		}
		n, ok := v.Len()
		if !ok {
			return attr.Null(), fmt.Errorf("len needs a string or list, got %s", v.Kind())
		}
		return attr.Number(float64(n)), nil
	}},
}
