package knowledge

import (
	"math"
	"testing"
)

func newTestLibrary(t *testing.T) (*Library, *Store) {
	t.Helper()
	store, _ := newTestStore(t)
	return NewLibrary(store, testLogger()), store
}

func TestConfidenceNeutralUnderMinimumUses(t *testing.T) {
	lib, store := newTestLibrary(t)
	store.AddPattern(&TradingPattern{ID: "p1", Active: true, Confidence: 0.5})

	update := lib.RecordOutcome("p1", 10)
	if update.Confidence != 0.5 {
		t.Errorf("confidence should stay neutral at 1 use, got %v", update.Confidence)
	}
	update = lib.RecordOutcome("p1", 10)
	if update.Confidence != 0.5 {
		t.Errorf("confidence should stay neutral at 2 uses, got %v", update.Confidence)
	}
}

func TestConfidenceFormula(t *testing.T) {
	// 8 wins over 10 uses: base = 0.5 + (0.8-0.5)*0.5 = 0.65,
	// usage = 0.7 + 0.3*(10/20) = 0.85, confidence = 0.5525
	got := computeConfidence(10, 8)
	if math.Abs(got-0.5525) > 0.001 {
		t.Errorf("computeConfidence(10, 8) = %v, want 0.5525", got)
	}

	// Saturated usage with a perfect record hits the ceiling
	if got := computeConfidence(40, 40); got != 0.9 {
		t.Errorf("confidence should clamp at 0.9, got %v", got)
	}

	// 0 wins over 40 uses: base 0.25 at full usage weight
	if got := computeConfidence(40, 0); math.Abs(got-0.25) > 0.001 {
		t.Errorf("computeConfidence(40, 0) = %v, want 0.25", got)
	}
}

func TestPatternAutoDeactivation(t *testing.T) {
	lib, store := newTestLibrary(t)
	store.AddPattern(&TradingPattern{ID: "bad", Active: true, Confidence: 0.5})

	var update *PatternUpdate
	for i := 0; i < 4; i++ {
		update = lib.RecordOutcome("bad", -5)
	}

	// 0 wins over 4 uses: base 0.25, usage 0.76, confidence 0.19 < 0.3
	if !update.Deactivated {
		t.Fatalf("pattern should auto-deactivate, got %+v", update)
	}
	if p := store.GetPattern("bad"); p.Active {
		t.Error("store should reflect deactivation")
	}

	// Further outcomes do not re-report deactivation
	update = lib.RecordOutcome("bad", -5)
	if update.Deactivated {
		t.Error("already-inactive pattern should not report deactivation again")
	}
}

func TestRecordOutcomeUnknownPattern(t *testing.T) {
	lib, _ := newTestLibrary(t)
	if update := lib.RecordOutcome("ghost", 5); update != nil {
		t.Errorf("unknown pattern should return nil, got %+v", update)
	}
}

func TestMatchConditionsScoringAndOrder(t *testing.T) {
	lib, store := newTestLibrary(t)

	store.AddPattern(&TradingPattern{
		ID: "full", Active: true, Confidence: 0.75,
		EntryConditions: map[string]interface{}{
			"btc_trend":  "up",
			"volatility": map[string]interface{}{"op": OpLt, "value": 2.0},
		},
	})
	store.AddPattern(&TradingPattern{
		ID: "half", Active: true, Confidence: 0.6,
		EntryConditions: map[string]interface{}{
			"btc_trend":   "up",
			"day_of_week": 0,
		},
	})
	store.AddPattern(&TradingPattern{
		ID: "none", Active: true, Confidence: 0.6,
		EntryConditions: map[string]interface{}{
			"btc_trend": "down",
		},
	})
	store.AddPattern(&TradingPattern{
		ID: "empty", Active: true, Confidence: 0.6,
		EntryConditions: map[string]interface{}{},
	})
	store.AddPattern(&TradingPattern{
		ID: "inactive", Active: false, Confidence: 0.6,
		EntryConditions: map[string]interface{}{
			"btc_trend": "up",
		},
	})

	state := map[string]interface{}{
		"btc_trend":   "up",
		"volatility":  1.5,
		"day_of_week": 3,
	}
	matches := lib.MatchConditions(state)

	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(matches), matches)
	}
	if matches[0].PatternID != "full" || matches[0].MatchScore != 1.0 {
		t.Errorf("best match should be full at 1.0, got %+v", matches[0])
	}
	if matches[1].PatternID != "half" || matches[1].MatchScore != 0.5 {
		t.Errorf("second match should be half at 0.5, got %+v", matches[1])
	}
	if matches[0].Modifier != 1.25 {
		t.Errorf("modifier for 0.75-confidence pattern should be 1.25, got %v", matches[0].Modifier)
	}
	if matches[1].Modifier != 1.0 {
		t.Errorf("modifier for 0.6-confidence pattern should be 1.0, got %v", matches[1].Modifier)
	}
}

func TestConfidenceModifierBands(t *testing.T) {
	cases := []struct {
		confidence float64
		want       float64
	}{
		{0.9, 1.25},
		{0.7, 1.25},
		{0.5, 1.0},
		{0.3, 0.75},
		{0.25, 0.0},
	}
	for _, tc := range cases {
		if got := confidenceModifier(tc.confidence); got != tc.want {
			t.Errorf("confidenceModifier(%v) = %v, want %v", tc.confidence, got, tc.want)
		}
	}
}

func TestModifierKeyedOnConfidenceNotMatchScore(t *testing.T) {
	lib, store := newTestLibrary(t)

	// Every condition matches, so the match score is 1.0. The size
	// modifier must still come from the pattern's low confidence.
	store.AddPattern(&TradingPattern{
		ID: "shaky", Active: true, Confidence: 0.325,
		EntryConditions: map[string]interface{}{"btc_trend": "up"},
	})

	matches := lib.MatchConditions(map[string]interface{}{"btc_trend": "up"})
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].MatchScore != 1.0 {
		t.Errorf("expected full match score, got %v", matches[0].MatchScore)
	}
	if matches[0].Modifier != 0.75 {
		t.Errorf("0.325-confidence pattern should size at 0.75, got %v", matches[0].Modifier)
	}
}

func TestPositionModifier(t *testing.T) {
	lib, store := newTestLibrary(t)
	store.AddPattern(&TradingPattern{ID: "good", Active: true, Confidence: 0.72})
	store.AddPattern(&TradingPattern{ID: "off", Active: false, Confidence: 0.72})

	if got := lib.PositionModifier("good"); got != 1.25 {
		t.Errorf("expected 1.25 for 0.72-confidence pattern, got %v", got)
	}
	if got := lib.PositionModifier("off"); got != 0.0 {
		t.Errorf("inactive pattern should size to zero, got %v", got)
	}
	if got := lib.PositionModifier("ghost"); got != 0.0 {
		t.Errorf("unknown pattern should size to zero, got %v", got)
	}
}

func TestExtractFromTrade(t *testing.T) {
	lib, store := newTestLibrary(t)

	conditions := map[string]interface{}{"hour_of_day": 9, "btc_trend": "up"}
	p := lib.ExtractFromTrade("BTCUSDT", 42.5, conditions)
	if p == nil {
		t.Fatal("winning trade should seed a pattern")
	}
	if p.Wins != 1 || p.TimesUsed != 1 || !p.Active {
		t.Errorf("extracted pattern should start with one winning use, got %+v", p)
	}
	if store.GetPattern(p.ID) == nil {
		t.Error("extracted pattern should be persisted to the store")
	}

	if p := lib.ExtractFromTrade("BTCUSDT", -5, conditions); p != nil {
		t.Error("losing trades must not seed patterns")
	}
	if p := lib.ExtractFromTrade("BTCUSDT", 5, nil); p != nil {
		t.Error("trades without conditions must not seed patterns")
	}
}

func TestSeedDefaultsOnlyOnce(t *testing.T) {
	lib, store := newTestLibrary(t)

	n := lib.SeedDefaults()
	if n == 0 {
		t.Fatal("first seed should install patterns")
	}
	if got := len(store.ListPatterns(true)); got != n {
		t.Errorf("expected %d active seeds, got %d", n, got)
	}

	if again := lib.SeedDefaults(); again != 0 {
		t.Errorf("second seed should be a no-op, got %d", again)
	}
}
