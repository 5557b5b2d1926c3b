// Package conditions evaluates flat field predicates against an execution
// context. Evaluation is pure: it never mutates the context and never errors.
// A malformed operator is a configuration problem, caught by Parse at
// workflow-activation time rather than mid-run.
package conditions

import (
	"fmt"
	"strconv"
	"strings"
)

// Operator is one of the closed set of comparison operators.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorNotContains Operator = "not_contains"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorStartsWith  Operator = "starts_with"
	OperatorEndsWith    Operator = "ends_with"
)

var knownOperators = map[Operator]bool{
	OperatorEquals:      true,
	OperatorNotEquals:   true,
	OperatorContains:    true,
	OperatorNotContains: true,
	OperatorGreaterThan: true,
	OperatorLessThan:    true,
	OperatorStartsWith:  true,
	OperatorEndsWith:    true,
}

// Condition compares a named context field against a literal value.
type Condition struct {
	Field    string
	Operator Operator
	Value    string
}

// Parse validates a field/operator/value triple and returns the condition.
// An unknown operator is rejected here so it can never surface mid-run.
func Parse(field, operator, value string) (*Condition, error) {
	if field == "" {
		return nil, fmt.Errorf("condition field is required")
	}

	op := Operator(operator)
	if !knownOperators[op] {
		return nil, fmt.Errorf("unknown condition operator %q", operator)
	}

	return &Condition{Field: field, Operator: op, Value: value}, nil
}

// Evaluate applies the condition to the context. A missing field is a failed
// match, not an error.
func (c *Condition) Evaluate(context map[string]any) bool {
	raw, exists := context[c.Field]
	if !exists || raw == nil {
		return false
	}

	actual := stringify(raw)

	switch c.Operator {
	case OperatorEquals:
		return actual == c.Value
	case OperatorNotEquals:
		return actual != c.Value
	case OperatorContains:
		return strings.Contains(actual, c.Value)
	case OperatorNotContains:
		return !strings.Contains(actual, c.Value)
	case OperatorGreaterThan:
		return compareNumeric(actual, c.Value, func(a, b float64) bool { return a > b })
	case OperatorLessThan:
		return compareNumeric(actual, c.Value, func(a, b float64) bool { return a < b })
	case OperatorStartsWith:
		return strings.HasPrefix(actual, c.Value)
	case OperatorEndsWith:
		return strings.HasSuffix(actual, c.Value)
	default:
		// Unreachable when the condition came from Parse.
		return false
	}
}

// compareNumeric compares two values numerically when both parse as numbers,
// falling back to lexicographic comparison otherwise.
func compareNumeric(actual, expected string, cmp func(a, b float64) bool) bool {
	a, errA := strconv.ParseFloat(actual, 64)
	b, errB := strconv.ParseFloat(expected, 64)

	if errA == nil && errB == nil {
		return cmp(a, b)
	}

	if actual > expected {
		return cmp(1, 0)
	}

	if actual < expected {
		return cmp(0, 1)
	}

	return false
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
