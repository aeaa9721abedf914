package catalog

import (
	"fmt"

	"github.com/dhawalhost/wardgate/internal/attr"
)

// Operator is a condition comparator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
)

// Condition is a single field predicate attached to a permission.
type Condition struct {
	Field    string     `json:"field"`
	Operator Operator   `json:"operator"`
	Value    attr.Value `json:"value"`
}

// Validate checks the operator is known and list operators carry a list.
func (c Condition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("condition field is required")
	}
	switch c.Operator {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains:
		return nil
	case OpIn, OpNotIn:
		if c.Value.Kind() != attr.KindList {
			return fmt.Errorf("operator %s needs a list value", c.Operator)
		}
		return nil
	}
	return fmt.Errorf("unknown operator %q", c.Operator)
}

// Evaluate resolves the field from resourceData, then context. A missing
// field fails the condition regardless of operator.
func (c Condition) Evaluate(resourceData, context attr.Bag) bool {
	field, ok := resourceData.Lookup(c.Field)
	if !ok {
		field, ok = context.Lookup(c.Field)
	}
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEquals:
		return field.Equal(c.Value)
	case OpNotEquals:
		return !field.Equal(c.Value)
	case OpIn:
		return field.In(c.Value)
	case OpNotIn:
		return c.Value.Kind() == attr.KindList && !field.In(c.Value)
	case OpGreaterThan:
		cmp, ok := field.Compare(c.Value)
		return ok && cmp > 0
	case OpLessThan:
		cmp, ok := field.Compare(c.Value)
		return ok && cmp < 0
	case OpContains:
		return field.Contains(c.Value)
	}
	return false
}

// Equal compares two conditions.
func (c Condition) Equal(o Condition) bool {
	return c.Field == o.Field && c.Operator == o.Operator && c.Value.Equal(o.Value)
}
