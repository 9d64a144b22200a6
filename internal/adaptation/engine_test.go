package adaptation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"adaptive-trading-bot/internal/ai/llm"
	"adaptive-trading-bot/internal/database"
	"adaptive-trading-bot/internal/events"
	"adaptive-trading-bot/internal/knowledge"
	"adaptive-trading-bot/internal/logging"
)

type nopRepo struct{}

func (nopRepo) LoadInstrumentScores(ctx context.Context) ([]*knowledge.InstrumentScore, error) {
	return nil, nil
}
func (nopRepo) LoadPatterns(ctx context.Context) ([]*knowledge.TradingPattern, error) {
	return nil, nil
}
func (nopRepo) LoadRules(ctx context.Context) ([]*knowledge.RegimeRule, error) { return nil, nil }
func (nopRepo) SaveInstrumentScore(ctx context.Context, s *knowledge.InstrumentScore) error {
	return nil
}
func (nopRepo) SavePattern(ctx context.Context, p *knowledge.TradingPattern) error { return nil }
func (nopRepo) SaveRule(ctx context.Context, r *knowledge.RegimeRule) error        { return nil }

type mockStore struct {
	inserted []*database.AdaptationRecord
	recent   []*database.AdaptationRecord
	trades   []*database.ClosedTrade
	activity []string
}

func (m *mockStore) InsertAdaptation(ctx context.Context, a *database.AdaptationRecord) error {
	m.inserted = append(m.inserted, a)
	return nil
}

func (m *mockStore) GetAdaptationsSince(ctx context.Context, since time.Time) ([]*database.AdaptationRecord, error) {
	return m.recent, nil
}

func (m *mockStore) GetRecentClosedTrades(ctx context.Context, hours int) ([]*database.ClosedTrade, error) {
	return m.trades, nil
}

func (m *mockStore) LogActivity(ctx context.Context, category, message string, details map[string]interface{}) error {
	m.activity = append(m.activity, category+": "+message)
	return nil
}

type mockBlacklister struct {
	symbols []string
	err     error
}

func (m *mockBlacklister) ForceBlacklist(symbol, reason string) (*knowledge.StatusChange, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.symbols = append(m.symbols, symbol)
	return &knowledge.StatusChange{Symbol: symbol, NewStatus: knowledge.StatusBlacklisted}, nil
}

func enoughTrades(n int) []*database.ClosedTrade {
	out := make([]*database.ClosedTrade, n)
	for i := range out {
		out[i] = &database.ClosedTrade{Symbol: "BTCUSDT", PnL: float64(i%2*10 - 4)}
	}
	return out
}

func newTestEngine(store *mockStore, scorer Blacklister) (*Engine, *knowledge.Store) {
	logger := logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
	ks := knowledge.NewStore(nopRepo{}, logger)
	return NewEngine(store, ks, scorer, events.NewEventBus(), logger), ks
}

func blacklistInsight() llm.Insight {
	return llm.Insight{
		InsightType: llm.InsightInstrument,
		Category:    llm.CategoryProblem,
		Title:       "SOLUSDT bleeding money",
		Description: "SOLUSDT lost on 7 of 8 trades in the window.",
		Evidence: map[string]interface{}{
			"trades": 8, "win_rate": 0.12, "total_pnl": -21.4,
		},
		SuggestedAction: ActionBlacklistInstrument,
		Confidence:      0.9,
	}
}

func TestProcessInsightsAppliesBlacklist(t *testing.T) {
	store := &mockStore{trades: enoughTrades(10)}
	scorer := &mockBlacklister{}
	e, _ := newTestEngine(store, scorer)

	applied := e.ProcessInsights(context.Background(), []llm.Insight{blacklistInsight()})
	if len(applied) != 1 {
		t.Fatalf("expected 1 applied adaptation, got %d", len(applied))
	}
	record := applied[0]
	if record.Target != "SOLUSDT" {
		t.Errorf("expected target SOLUSDT, got %q", record.Target)
	}
	if record.Action != ActionBlacklistInstrument {
		t.Errorf("unexpected action %q", record.Action)
	}
	if len(scorer.symbols) != 1 || scorer.symbols[0] != "SOLUSDT" {
		t.Errorf("blacklist not applied: %v", scorer.symbols)
	}
	if len(store.inserted) != 1 {
		t.Errorf("expected persisted record, got %d", len(store.inserted))
	}
	if record.PreMetrics == nil {
		t.Fatal("expected pre-change metrics snapshot")
	}
	if record.PreMetrics["trades"] != 10 {
		t.Errorf("snapshot trades = %v", record.PreMetrics["trades"])
	}
}

func TestGateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*llm.Insight)
	}{
		{"no action", func(i *llm.Insight) { i.SuggestedAction = "" }},
		{"low confidence", func(i *llm.Insight) { i.Confidence = 0.55 }},
		{"no evidence", func(i *llm.Insight) { i.Evidence = nil }},
		{"no trade count in evidence", func(i *llm.Insight) {
			i.Evidence = map[string]interface{}{"win_rate": 0.12, "total_pnl": -21.4}
		}},
		{"thin sample", func(i *llm.Insight) { i.Evidence["trades"] = 4 }},
		{"observation category has no handler", func(i *llm.Insight) {
			i.Category = llm.CategoryObservation
		}},
		{"no symbol in text", func(i *llm.Insight) {
			i.Title = "Something is off"
			i.Description = "hard to say what"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{trades: enoughTrades(10)}
			scorer := &mockBlacklister{}
			e, _ := newTestEngine(store, scorer)

			insight := blacklistInsight()
			tt.mutate(&insight)

			applied := e.ProcessInsights(context.Background(), []llm.Insight{insight})
			if len(applied) != 0 {
				t.Fatalf("expected rejection, got %d applied", len(applied))
			}
			if len(scorer.symbols) != 0 {
				t.Error("no mutation expected for rejected insight")
			}
			if len(store.inserted) != 0 {
				t.Error("no record expected for rejected insight")
			}
		})
	}
}

func TestBlacklistThresholdsRejectHealthyInstrument(t *testing.T) {
	// A profitable instrument with a middling confidence score must never
	// be blacklisted, even when the model suggests it.
	store := &mockStore{trades: enoughTrades(10)}
	scorer := &mockBlacklister{}
	e, _ := newTestEngine(store, scorer)

	insight := blacklistInsight()
	insight.Title = "DOGEUSDT looks shaky"
	insight.Description = "DOGEUSDT had a few losers recently."
	insight.Confidence = 0.65
	insight.Evidence = map[string]interface{}{
		"trades": 9, "win_rate": 0.55, "total_pnl": 45.0,
	}

	applied := e.ProcessInsights(context.Background(), []llm.Insight{insight})
	if len(applied) != 0 {
		t.Fatalf("expected rejection, got %d applied", len(applied))
	}
	if len(scorer.symbols) != 0 {
		t.Errorf("DOGEUSDT must not be blacklisted: %v", scorer.symbols)
	}

	// Raising confidence alone is not enough while the numbers stay healthy
	insight.Confidence = 0.9
	if applied := e.ProcessInsights(context.Background(), []llm.Insight{insight}); len(applied) != 0 {
		t.Fatal("healthy win rate and positive P&L must not be blacklisted")
	}
}

func TestFavorInstrumentThresholds(t *testing.T) {
	store := &mockStore{trades: enoughTrades(10)}
	e, ks := newTestEngine(store, &mockBlacklister{})

	insight := llm.Insight{
		InsightType: llm.InsightInstrument,
		Category:    llm.CategoryOpportunity,
		Title:       "ETHUSDT on a run",
		Description: "ETHUSDT won 7 of 10 with solid profits.",
		Evidence: map[string]interface{}{
			"trades": 10, "win_rate": 0.7, "total_pnl": 62.0,
		},
		SuggestedAction: ActionFavorInstrument,
		Confidence:      0.82,
	}

	applied := e.ProcessInsights(context.Background(), []llm.Insight{insight})
	if len(applied) != 1 {
		t.Fatalf("expected 1 applied, got %d", len(applied))
	}
	score := ks.GetInstrument("ETHUSDT")
	if score == nil || score.Trend != knowledge.TrendImproving {
		t.Errorf("favored instrument should be marked improving, got %+v", score)
	}

	// A weaker win rate fails the favor handler
	weak := insight
	weak.Title = "LTCUSDT on a run"
	weak.Description = "LTCUSDT did okay."
	weak.Evidence = map[string]interface{}{
		"trades": 10, "win_rate": 0.5, "total_pnl": 12.0,
	}
	if applied := e.ProcessInsights(context.Background(), []llm.Insight{weak}); len(applied) != 0 {
		t.Fatal("50% win rate must not be favored")
	}
}

func TestWinRatePercentEvidenceNormalized(t *testing.T) {
	// Models sometimes report win_rate as a percentage
	store := &mockStore{trades: enoughTrades(10)}
	scorer := &mockBlacklister{}
	e, _ := newTestEngine(store, scorer)

	insight := blacklistInsight()
	insight.Evidence = map[string]interface{}{
		"trades": 8, "win_rate": 12.0, "total_pnl": -21.4,
	}

	applied := e.ProcessInsights(context.Background(), []llm.Insight{insight})
	if len(applied) != 1 {
		t.Fatalf("12%% win rate expressed as 12.0 should still blacklist, got %d applied", len(applied))
	}
}

func TestCooldownBlocksRepeat(t *testing.T) {
	store := &mockStore{
		trades: enoughTrades(10),
		recent: []*database.AdaptationRecord{{
			Action: ActionBlacklistInstrument,
			Target: "SOLUSDT",
		}},
	}
	scorer := &mockBlacklister{}
	e, _ := newTestEngine(store, scorer)

	applied := e.ProcessInsights(context.Background(), []llm.Insight{blacklistInsight()})
	if len(applied) != 0 {
		t.Fatalf("target on cooldown should be skipped, got %d applied", len(applied))
	}
}

func TestCooldownBlocksAnyActionOnTarget(t *testing.T) {
	// One change per target per day, regardless of which action touched it
	store := &mockStore{
		trades: enoughTrades(10),
		recent: []*database.AdaptationRecord{{
			Action: ActionFavorInstrument,
			Target: "SOLUSDT",
		}},
	}
	scorer := &mockBlacklister{}
	e, _ := newTestEngine(store, scorer)

	applied := e.ProcessInsights(context.Background(), []llm.Insight{blacklistInsight()})
	if len(applied) != 0 {
		t.Fatalf("target touched by another action should still cool down, got %d applied", len(applied))
	}
	if len(scorer.symbols) != 0 {
		t.Errorf("no mutation expected during cooldown: %v", scorer.symbols)
	}
}

func TestCooldownAllowsDifferentTarget(t *testing.T) {
	store := &mockStore{
		trades: enoughTrades(10),
		recent: []*database.AdaptationRecord{{
			Action: ActionBlacklistInstrument,
			Target: "ADAUSDT",
		}},
	}
	scorer := &mockBlacklister{}
	e, _ := newTestEngine(store, scorer)

	applied := e.ProcessInsights(context.Background(), []llm.Insight{blacklistInsight()})
	if len(applied) != 1 {
		t.Fatalf("different target should pass the cooldown, got %d applied", len(applied))
	}
}

func TestApplyFailureSkipsRecord(t *testing.T) {
	store := &mockStore{trades: enoughTrades(10)}
	scorer := &mockBlacklister{err: errors.New("store unavailable")}
	e, _ := newTestEngine(store, scorer)

	applied := e.ProcessInsights(context.Background(), []llm.Insight{blacklistInsight()})
	if len(applied) != 0 {
		t.Fatal("failed apply must not produce a record")
	}
	if len(store.inserted) != 0 {
		t.Error("no record should be persisted when the mutation fails")
	}
}

func TestDeactivatePatternResolvesKnownID(t *testing.T) {
	store := &mockStore{trades: enoughTrades(10)}
	e, ks := newTestEngine(store, &mockBlacklister{})
	ks.AddPattern(&knowledge.TradingPattern{
		ID: "pat-morning", Description: "morning entries", Active: true, Confidence: 0.5,
	})

	insight := llm.Insight{
		InsightType: llm.InsightPattern,
		Category:    llm.CategoryProblem,
		Title:       "Morning pattern degraded",
		Description: "Pattern pat-morning has stopped working.",
		Evidence: map[string]interface{}{
			"trades": 6, "win_rate": 0.17,
		},
		SuggestedAction: ActionDeactivatePattern,
		Confidence:      0.88,
	}

	applied := e.ProcessInsights(context.Background(), []llm.Insight{insight})
	if len(applied) != 1 {
		t.Fatalf("expected 1 applied, got %d", len(applied))
	}
	if applied[0].Target != "pat-morning" {
		t.Errorf("expected target pat-morning, got %q", applied[0].Target)
	}
	p := ks.GetPattern("pat-morning")
	if p == nil || p.Active {
		t.Error("pattern should be deactivated")
	}
}

func TestDeactivatePatternResolvesFromEvidence(t *testing.T) {
	store := &mockStore{trades: enoughTrades(10)}
	e, ks := newTestEngine(store, &mockBlacklister{})
	ks.AddPattern(&knowledge.TradingPattern{
		ID: "pat-range", Description: "range entries", Active: true, Confidence: 0.5,
	})

	insight := llm.Insight{
		InsightType: llm.InsightPattern,
		Category:    llm.CategoryProblem,
		Title:       "Range pattern degraded",
		Description: "The range entry pattern keeps losing.",
		Evidence: map[string]interface{}{
			"pattern_id": "pat-range", "trades": 7, "win_rate": 0.14,
		},
		SuggestedAction: ActionDeactivatePattern,
		Confidence:      0.9,
	}

	applied := e.ProcessInsights(context.Background(), []llm.Insight{insight})
	if len(applied) != 1 {
		t.Fatalf("expected 1 applied, got %d", len(applied))
	}
	if applied[0].Target != "pat-range" {
		t.Errorf("expected target pat-range, got %q", applied[0].Target)
	}
}

func TestDeactivatePatternWinRateTooHigh(t *testing.T) {
	store := &mockStore{trades: enoughTrades(10)}
	e, ks := newTestEngine(store, &mockBlacklister{})
	ks.AddPattern(&knowledge.TradingPattern{
		ID: "pat-ok", Description: "fine pattern", Active: true, Confidence: 0.5,
	})

	insight := llm.Insight{
		InsightType: llm.InsightPattern,
		Category:    llm.CategoryProblem,
		Title:       "Pattern pat-ok wobbling",
		Description: "Pattern pat-ok dipped a little.",
		Evidence: map[string]interface{}{
			"trades": 8, "win_rate": 0.45,
		},
		SuggestedAction: ActionDeactivatePattern,
		Confidence:      0.9,
	}

	if applied := e.ProcessInsights(context.Background(), []llm.Insight{insight}); len(applied) != 0 {
		t.Fatal("45% win rate is above the deactivation bar")
	}
	if p := ks.GetPattern("pat-ok"); p == nil || !p.Active {
		t.Error("pattern should stay active")
	}
}

func TestCreateRuleFromRegimeInsight(t *testing.T) {
	store := &mockStore{trades: enoughTrades(10)}
	e, ks := newTestEngine(store, &mockBlacklister{})

	insight := llm.Insight{
		InsightType: llm.InsightRegime,
		Category:    llm.CategoryProblem,
		Title:       "Losses during BTC down moves",
		Description: "Nearly every loser happened while BTC trend was down.",
		Evidence: map[string]interface{}{
			"trades": 12, "win_rate": 0.17, "total_pnl": -18.0,
		},
		SuggestedAction: ActionCreateRule,
		Confidence:      0.78,
	}

	applied := e.ProcessInsights(context.Background(), []llm.Insight{insight})
	if len(applied) != 1 {
		t.Fatalf("expected 1 applied, got %d", len(applied))
	}
	if !strings.HasPrefix(applied[0].Target, "rule:regime:") {
		t.Errorf("unexpected rule dedup target %q", applied[0].Target)
	}
	if !strings.HasPrefix(applied[0].Description, "Created rule ") {
		t.Errorf("description must carry the rule id: %q", applied[0].Description)
	}

	rules := ks.ListRules(true)
	if len(rules) != 1 {
		t.Fatalf("expected 1 active rule, got %d", len(rules))
	}
	if rules[0].Action != knowledge.ActionReduceSize {
		t.Errorf("regime rules reduce size, got %q", rules[0].Action)
	}
	if rules[0].Condition["btc_trend"] != "down" {
		t.Errorf("unexpected condition %v", rules[0].Condition)
	}
}

func TestCreateRuleFromWeekendInsight(t *testing.T) {
	store := &mockStore{trades: enoughTrades(10)}
	e, ks := newTestEngine(store, &mockBlacklister{})

	insight := llm.Insight{
		InsightType: llm.InsightRegime,
		Category:    llm.CategoryProblem,
		Title:       "Weekend sessions keep losing",
		Description: "Weekend trades lag weekday trades badly.",
		Evidence: map[string]interface{}{
			"trades": 14, "win_rate": 0.21, "total_pnl": -33.0,
		},
		SuggestedAction: ActionCreateRule,
		Confidence:      0.8,
	}

	applied := e.ProcessInsights(context.Background(), []llm.Insight{insight})
	if len(applied) != 1 {
		t.Fatalf("expected 1 applied, got %d", len(applied))
	}

	rules := ks.ListRules(true)
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if rules[0].Action != knowledge.ActionReduceSize {
		t.Errorf("expected REDUCE_SIZE rule, got %q", rules[0].Action)
	}
	if _, ok := rules[0].Condition["day_of_week"]; !ok {
		t.Errorf("weekend rule should key on day_of_week, got %v", rules[0].Condition)
	}
}

func TestCreateRuleFromTimeInsight(t *testing.T) {
	store := &mockStore{trades: enoughTrades(10)}
	e, ks := newTestEngine(store, &mockBlacklister{})

	insight := llm.Insight{
		InsightType: llm.InsightTime,
		Category:    llm.CategoryProblem,
		Title:       "Weak results around 14:00",
		Description: "The 14:00 hour lost money on both days.",
		Evidence: map[string]interface{}{
			"trades": 11, "total_pnl": -9.0,
		},
		SuggestedAction: ActionCreateRule,
		Confidence:      0.76,
	}

	applied := e.ProcessInsights(context.Background(), []llm.Insight{insight})
	if len(applied) != 1 {
		t.Fatalf("expected 1 applied, got %d", len(applied))
	}

	rules := ks.ListRules(true)
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if rules[0].Action != knowledge.ActionReduceSize {
		t.Errorf("expected REDUCE_SIZE rule, got %q", rules[0].Action)
	}
	if rules[0].Condition["hour_of_day"] != 14 {
		t.Errorf("unexpected condition %v", rules[0].Condition)
	}
}

func TestCreateRuleNeedsLargerSample(t *testing.T) {
	store := &mockStore{trades: enoughTrades(10)}
	e, ks := newTestEngine(store, &mockBlacklister{})

	insight := llm.Insight{
		InsightType: llm.InsightTime,
		Category:    llm.CategoryProblem,
		Title:       "Weak results around 14:00",
		Description: "The 14:00 hour lost money.",
		Evidence: map[string]interface{}{
			"trades": 8, "total_pnl": -9.0,
		},
		SuggestedAction: ActionCreateRule,
		Confidence:      0.9,
	}

	if applied := e.ProcessInsights(context.Background(), []llm.Insight{insight}); len(applied) != 0 {
		t.Fatal("8 trades is below the rule-creation sample bar")
	}
	if len(ks.ListRules(false)) != 0 {
		t.Error("no rule should exist")
	}
}

func TestCreateRuleUnderivableIsSkipped(t *testing.T) {
	store := &mockStore{trades: enoughTrades(10)}
	e, ks := newTestEngine(store, &mockBlacklister{})

	insight := llm.Insight{
		InsightType: llm.InsightExit,
		Category:    llm.CategoryProblem,
		Title:       "Exits feel rushed",
		Description: "Trailing stops triggered early repeatedly.",
		Evidence: map[string]interface{}{
			"trades": 12, "early_exits": 3,
		},
		SuggestedAction: ActionCreateRule,
		Confidence:      0.9,
	}

	applied := e.ProcessInsights(context.Background(), []llm.Insight{insight})
	if len(applied) != 0 {
		t.Fatalf("exit insight cannot become a rule, got %d applied", len(applied))
	}
	if len(ks.ListRules(false)) != 0 {
		t.Error("no rule should exist")
	}
}

func TestSymbolExtraction(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"SOLUSDT keeps losing", "SOLUSDT"},
		{"consider favoring 1000PEPEUSDT here", "1000PEPEUSDT"},
		{"BTCUSDC spread widened", "BTCUSDC"},
		{"nothing tradable here", ""},
		{"lowercase solusdt is ignored", ""},
	}
	for _, tt := range tests {
		if got := symbolPattern.FindString(tt.text); got != tt.want {
			t.Errorf("symbolPattern(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
