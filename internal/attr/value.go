// Package attr provides the tagged values and attribute bags that permission
// conditions and policy expressions are evaluated against.
package attr

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the type held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "null"
	}
}

// Value is an immutable tagged value. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	list []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List returns a list value holding a copy of items.
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), items...)}
}

// Strings builds a list of string values.
func Strings(items ...string) Value {
	vs := make([]Value, 0, len(items))
	for _, s := range items {
		vs = append(vs, String(s))
	}
	return Value{kind: KindList, list: vs}
}

// Of converts a decoded JSON-like value into a Value. It reports false for
// types that have no tagged representation (maps, structs, funcs).
func Of(v any) (Value, bool) {
	switch t := v.(type) {
	case nil:
		return Null(), true
	case Value:
		return t, true
	case string:
		return String(t), true
	case bool:
		return Bool(t), true
	case int:
		return Number(float64(t)), true
	case int8:
		return Number(float64(t)), true
	case int16:
		return Number(float64(t)), true
	case int32:
		return Number(float64(t)), true
	case int64:
		return Number(float64(t)), true
	case uint:
		return Number(float64(t)), true
	case uint8:
		return Number(float64(t)), true
	case uint16:
		return Number(float64(t)), true
	case uint32:
		return Number(float64(t)), true
	case uint64:
		return Number(float64(t)), true
	case float32:
		return Number(float64(t)), true
	case float64:
		return Number(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String()), true
		}
		return Number(f), true
	case []string:
		return Strings(t...), true
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			iv, ok := Of(item)
			if !ok {
				return Null(), false
			}
			items = append(items, iv)
		}
		return Value{kind: KindList, list: items}, true
	case []Value:
		return List(t...), true
	case []int:
		items := make([]Value, 0, len(t))
		for _, n := range t {
			items = append(items, Number(float64(n)))
		}
		return Value{kind: KindList, list: items}, true
	case []float64:
		items := make([]Value, 0, len(t))
		for _, n := range t {
			items = append(items, Number(n))
		}
		return Value{kind: KindList, list: items}, true
	default:
		return Null(), false
	}
}

// MustOf is Of for values known to be representable; unsupported types yield null.
func MustOf(v any) Value {
	out, _ := Of(v)
	return out
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string payload.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Num returns the numeric payload.
func (v Value) Num() (float64, bool) { return v.n, v.kind == KindNumber }

// Truth returns the boolean payload.
func (v Value) Truth() (bool, bool) { return v.b, v.kind == KindBool }

// Items returns a copy of the list payload.
func (v Value) Items() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return append([]Value(nil), v.list...), true
}

// Len returns the length of a string or list, and false for other kinds.
func (v Value) Len() (int, bool) {
	switch v.kind {
	case KindString:
		return len(v.s), true
	case KindList:
		return len(v.list), true
	}
	return 0, false
}

// Equal reports strict equality: kinds must match, there is no coercion.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two numbers or two strings. ok is false for any other pairing.
func (v Value) Compare(o Value) (int, bool) {
	switch {
	case v.kind == KindNumber && o.kind == KindNumber:
		switch {
		case v.n < o.n:
			return -1, true
		case v.n > o.n:
			return 1, true
		}
		return 0, true
	case v.kind == KindString && o.kind == KindString:
		return strings.Compare(v.s, o.s), true
	}
	return 0, false
}

// Contains reports list membership for lists and substring containment for strings.
func (v Value) Contains(o Value) bool {
	switch v.kind {
	case KindList:
		for _, item := range v.list {
			if item.Equal(o) {
				return true
			}
		}
	case KindString:
		if s, ok := o.Str(); ok {
			return strings.Contains(v.s, s)
		}
	}
	return false
}

// In reports whether v is a member of the list o.
func (v Value) In(o Value) bool {
	return o.kind == KindList && o.Contains(v)
}

// Any converts the value back to a plain Go value.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, 0, len(v.list))
		for _, item := range v.list {
			out = append(out, item.Any())
		}
		return out
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.s)
	case KindNumber:
		if v.n == math.Trunc(v.n) && math.Abs(v.n) < 1e15 {
			return strconv.FormatInt(int64(v.n), 10)
		}
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		parts := make([]string, 0, len(v.list))
		for _, item := range v.list {
			parts = append(parts, item.String())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "null"
}

// MarshalJSON encodes the value as its plain JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes any JSON scalar or array.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out, ok := Of(raw)
	if !ok {
		return fmt.Errorf("attr: unsupported value %s", string(data))
	}
	*v = out
	return nil
}
