package knowledge

import "testing"

func TestParseConditionBareValue(t *testing.T) {
	c := ParseCondition("up")
	if c.Op != OpEq || c.Value != "up" {
		t.Errorf("bare value should parse as eq, got %+v", c)
	}
}

func TestParseConditionOperatorObject(t *testing.T) {
	c := ParseCondition(map[string]interface{}{"op": "lt", "value": 2.0})
	if c.Op != OpLt || c.Value != 2.0 {
		t.Errorf("got %+v", c)
	}

	// Operator objects decoded from JSON carry string op keys
	c = ParseCondition(map[string]interface{}{"op": OpGte, "value": 5})
	if c.Op != OpGte {
		t.Errorf("got %+v", c)
	}
}

func TestConditionMatches(t *testing.T) {
	cases := []struct {
		name   string
		cond   Condition
		actual interface{}
		want   bool
	}{
		{"eq string", Condition{OpEq, "up"}, "up", true},
		{"eq string miss", Condition{OpEq, "up"}, "down", false},
		{"eq numeric coercion", Condition{OpEq, 9}, 9.0, true},
		{"neq", Condition{OpNeq, "down"}, "up", true},
		{"lt", Condition{OpLt, 2.0}, 1.5, true},
		{"lt boundary", Condition{OpLt, 2.0}, 2.0, false},
		{"lte boundary", Condition{OpLte, 2.0}, 2.0, true},
		{"gt", Condition{OpGt, 10}, 11.0, true},
		{"gte boundary", Condition{OpGte, 10}, 10.0, true},
		{"lt non-numeric", Condition{OpLt, 2.0}, "fast", false},
		{"in", Condition{OpIn, []interface{}{8, 9, 10}}, 9, true},
		{"in miss", Condition{OpIn, []interface{}{8, 9, 10}}, 14, false},
		{"not_in", Condition{OpNotIn, []interface{}{5, 6}}, 2, true},
		{"not_in miss", Condition{OpNotIn, []interface{}{5, 6}}, 6, false},
		{"unknown op", Condition{Operator("between"), 5}, 5, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cond.Matches(tc.actual); got != tc.want {
				t.Errorf("Matches(%v) = %v, want %v", tc.actual, got, tc.want)
			}
		})
	}
}

func TestEvalConditions(t *testing.T) {
	conditions := map[string]interface{}{
		"btc_trend":  "up",
		"volatility": map[string]interface{}{"op": "lt", "value": 2.0},
		"hour":       map[string]interface{}{"op": "in", "value": []interface{}{8, 9}},
	}

	matched, total := EvalConditions(conditions, map[string]interface{}{
		"btc_trend":  "up",
		"volatility": 1.2,
		"hour":       9,
	})
	if matched != 3 || total != 3 {
		t.Errorf("got %d/%d, want 3/3", matched, total)
	}

	// Missing state key counts against the match, not as an error
	matched, total = EvalConditions(conditions, map[string]interface{}{
		"btc_trend": "up",
	})
	if matched != 1 || total != 3 {
		t.Errorf("got %d/%d, want 1/3", matched, total)
	}

	matched, total = EvalConditions(nil, map[string]interface{}{"x": 1})
	if matched != 0 || total != 0 {
		t.Errorf("empty conditions: got %d/%d, want 0/0", matched, total)
	}
}
