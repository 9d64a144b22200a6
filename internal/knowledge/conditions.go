package knowledge

// Operator is a comparison operator in a condition map
type Operator string

const (
	OpEq    Operator = "eq"
	OpNeq   Operator = "neq"
	OpLt    Operator = "lt"
	OpLte   Operator = "lte"
	OpGt    Operator = "gt"
	OpGte   Operator = "gte"
	OpIn    Operator = "in"
	OpNotIn Operator = "not_in"
)

// Condition is the parsed form of one entry in a condition map. A raw value
// in the map (no operator object) parses to an OpEq condition.
type Condition struct {
	Op    Operator
	Value interface{}
}

// ParseCondition converts a raw condition-map value into a Condition.
// Two shapes are accepted: a direct value (equality), or an operator object
// {"op": ..., "value": ...}.
func ParseCondition(raw interface{}) Condition {
	if m, ok := raw.(map[string]interface{}); ok {
		opRaw, hasOp := m["op"]
		value, hasValue := m["value"]
		if hasOp && hasValue {
			if opStr, ok := opRaw.(string); ok {
				return Condition{Op: Operator(opStr), Value: value}
			}
		}
	}
	return Condition{Op: OpEq, Value: raw}
}

// Matches evaluates the condition against an observed value. Unknown
// operators never match.
func (c Condition) Matches(actual interface{}) bool {
	switch c.Op {
	case OpEq:
		return valuesEqual(c.Value, actual)
	case OpNeq:
		return !valuesEqual(c.Value, actual)
	case OpLt:
		a, b, ok := bothNumeric(actual, c.Value)
		return ok && a < b
	case OpLte:
		a, b, ok := bothNumeric(actual, c.Value)
		return ok && a <= b
	case OpGt:
		a, b, ok := bothNumeric(actual, c.Value)
		return ok && a > b
	case OpGte:
		a, b, ok := bothNumeric(actual, c.Value)
		return ok && a >= b
	case OpIn:
		return valueInList(actual, c.Value)
	case OpNotIn:
		list, ok := c.Value.([]interface{})
		if !ok {
			return false
		}
		for _, item := range list {
			if valuesEqual(item, actual) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// EvalConditions checks every condition in a map independently against the
// market state and returns how many matched out of the total. A key missing
// from the state counts as a non-match.
func EvalConditions(conditions map[string]interface{}, state map[string]interface{}) (matched, total int) {
	for key, raw := range conditions {
		total++
		actual, present := state[key]
		if !present {
			continue
		}
		if ParseCondition(raw).Matches(actual) {
			matched++
		}
	}
	return matched, total
}

func valueInList(actual, listRaw interface{}) bool {
	list, ok := listRaw.([]interface{})
	if !ok {
		return false
	}
	for _, item := range list {
		if valuesEqual(item, actual) {
			return true
		}
	}
	return false
}

// valuesEqual compares with numeric coercion so that a condition written as
// an int matches a state value decoded from JSON as float64.
func valuesEqual(expected, actual interface{}) bool {
	if ea, ok1 := toFloat(expected); ok1 {
		if aa, ok2 := toFloat(actual); ok2 {
			return ea == aa
		}
		return false
	}
	return expected == actual
}

func bothNumeric(actual, expected interface{}) (a, b float64, ok bool) {
	a, ok1 := toFloat(actual)
	b, ok2 := toFloat(expected)
	return a, b, ok1 && ok2
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
