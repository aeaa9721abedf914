package attr

import "strings"

// Bag is a tree of named attributes, as decoded from JSON request bodies.
type Bag map[string]any

// Lookup resolves a dotted path such as "resourceData.ownerId". found is true
// when the path exists, even if its value has no tagged representation, in
// which case the returned value is null.
func (b Bag) Lookup(path string) (Value, bool) {
	raw, ok := b.raw(path)
	if !ok {
		return Null(), false
	}
	v, _ := Of(raw)
	return v, true
}

// Has reports whether the path exists.
func (b Bag) Has(path string) bool {
	_, ok := b.raw(path)
	return ok
}

func (b Bag) raw(path string) (any, bool) {
	if b == nil || path == "" {
		return nil, false
	}
	var cur any = map[string]any(b)
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case Bag:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case map[string]string:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	return cur, true
}

// Text returns the string at path, or "" when absent or not a string.
func (b Bag) Text(path string) string {
	v, _ := b.Lookup(path)
	s, _ := v.Str()
	return s
}
