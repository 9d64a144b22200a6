package reflection

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"adaptive-trading-bot/internal/ai/llm"
	"adaptive-trading-bot/internal/database"
	"adaptive-trading-bot/internal/events"
	"adaptive-trading-bot/internal/logging"
)

type stubTrades struct {
	trades []*database.ClosedTrade
	err    error
	calls  int
}

func (s *stubTrades) GetRecentClosedTrades(ctx context.Context, hours int) ([]*database.ClosedTrade, error) {
	s.calls++
	return s.trades, s.err
}

type stubCompleter struct {
	configured bool
	response   string
	err        error
	lastPrompt string
}

func (s *stubCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.lastPrompt = userPrompt
	return s.response, s.err
}

func (s *stubCompleter) IsConfigured() bool { return s.configured }

type stubAdapter struct {
	received []llm.Insight
	records  []*database.AdaptationRecord
}

func (s *stubAdapter) ProcessInsights(ctx context.Context, insights []llm.Insight) []*database.AdaptationRecord {
	s.received = insights
	return s.records
}

func testConfig() Config {
	return Config{
		Interval:             30 * time.Minute,
		TradeTrigger:         10,
		FirstReflectionAfter: 5,
		LookbackHours:        24,
	}
}

func newTestEngine(trades *stubTrades, client *stubCompleter, adapter InsightProcessor) *Engine {
	logger := logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
	return NewEngine(trades, client, adapter, events.NewEventBus(), logger, testConfig())
}

func sampleTrades(n int) []*database.ClosedTrade {
	out := make([]*database.ClosedTrade, 0, n)
	for i := 0; i < n; i++ {
		pnl := 5.0
		if i%2 == 1 {
			pnl = -3.0
		}
		out = append(out, &database.ClosedTrade{Symbol: "BTCUSDT", PnL: pnl, HourOfDay: 9 + i%3})
	}
	return out
}

func TestShouldReflectFirstRun(t *testing.T) {
	e := newTestEngine(&stubTrades{}, &stubCompleter{}, nil)

	if e.ShouldReflect() {
		t.Error("no trades yet, should not reflect")
	}
	for i := 0; i < 4; i++ {
		e.NotifyTradeClosed()
	}
	if e.ShouldReflect() {
		t.Error("4 trades is below the first-run threshold")
	}
	e.NotifyTradeClosed()
	if !e.ShouldReflect() {
		t.Error("5 trades should trigger the first reflection")
	}
}

func TestShouldReflectAfterFirstCycle(t *testing.T) {
	e := newTestEngine(&stubTrades{}, &stubCompleter{}, nil)

	e.mu.Lock()
	e.lastReflection = time.Now().Add(-5 * time.Minute)
	e.mu.Unlock()

	for i := 0; i < 9; i++ {
		e.NotifyTradeClosed()
	}
	if e.ShouldReflect() {
		t.Error("9 trades within the interval should not trigger")
	}
	e.NotifyTradeClosed()
	if !e.ShouldReflect() {
		t.Error("trade trigger should fire at 10 trades")
	}
}

func TestShouldReflectIntervalElapsed(t *testing.T) {
	e := newTestEngine(&stubTrades{}, &stubCompleter{}, nil)

	e.mu.Lock()
	e.lastReflection = time.Now().Add(-time.Hour)
	e.mu.Unlock()

	if !e.ShouldReflect() {
		t.Error("elapsed interval should trigger even with zero trades")
	}
}

func TestRunCycleEmptyWindowDoesNotAdvance(t *testing.T) {
	e := newTestEngine(&stubTrades{}, &stubCompleter{configured: true}, nil)
	for i := 0; i < 6; i++ {
		e.NotifyTradeClosed()
	}

	result, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if !result.Skipped || result.SkipReason != "no trades in window" {
		t.Fatalf("expected empty-window skip, got %+v", result)
	}

	// Trigger state must survive the skip
	if !e.ShouldReflect() {
		t.Error("skipped cycle must not consume the pending trigger")
	}
}

func TestRunCycleWithInsights(t *testing.T) {
	trades := &stubTrades{trades: sampleTrades(8)}
	client := &stubCompleter{
		configured: true,
		response: `{"summary": "Choppy session.", "insights": [
			{"insight_type": "instrument", "category": "problem", "title": "BTCUSDT chop",
			 "description": "d", "evidence": {"trades": 8, "win_rate": 0.25},
			 "suggested_action": "blacklist_instrument", "confidence": 0.7}
		]}`,
	}
	adapter := &stubAdapter{records: []*database.AdaptationRecord{{ID: "a1"}}}
	e := newTestEngine(trades, client, adapter)
	for i := 0; i < 6; i++ {
		e.NotifyTradeClosed()
	}

	result, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if result.Skipped {
		t.Fatalf("unexpected skip: %s", result.SkipReason)
	}
	if result.TradesAnalyzed != 8 {
		t.Errorf("expected 8 trades analyzed, got %d", result.TradesAnalyzed)
	}
	if result.Summary != "Choppy session." {
		t.Errorf("unexpected summary %q", result.Summary)
	}
	if len(result.Insights) != 1 || len(adapter.received) != 1 {
		t.Errorf("insights not forwarded to adapter: %d / %d", len(result.Insights), len(adapter.received))
	}
	if len(result.Adaptations) != 1 {
		t.Errorf("expected 1 adaptation, got %d", len(result.Adaptations))
	}
	if client.lastPrompt == "" || !strings.Contains(client.lastPrompt, "BTCUSDT") {
		t.Error("prompt should include the instrument breakdown")
	}

	// Completed cycle resets triggers
	if e.ShouldReflect() {
		t.Error("trigger state should reset after a completed cycle")
	}
}

func TestRunCycleLLMFailureFallsBack(t *testing.T) {
	trades := &stubTrades{trades: sampleTrades(6)}
	client := &stubCompleter{configured: true, err: errors.New("timeout")}
	e := newTestEngine(trades, client, nil)
	for i := 0; i < 6; i++ {
		e.NotifyTradeClosed()
	}

	result, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if result.Skipped {
		t.Fatal("LLM failure must not skip the cycle")
	}
	if !strings.Contains(result.Summary, "model insights unavailable") {
		t.Errorf("expected fallback summary, got %q", result.Summary)
	}
	if len(result.Insights) != 0 {
		t.Errorf("expected no insights on failure, got %d", len(result.Insights))
	}

	// State still advances, so a bad response does not cause a hot retry loop
	if e.ShouldReflect() {
		t.Error("failed consultation should still consume the trigger")
	}
}

func TestRunCycleUnparseableResponseFallsBack(t *testing.T) {
	trades := &stubTrades{trades: sampleTrades(6)}
	client := &stubCompleter{configured: true, response: "the trades look fine to me"}
	e := newTestEngine(trades, client, nil)

	result, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if !strings.Contains(result.Summary, "model insights unavailable") {
		t.Errorf("expected fallback summary, got %q", result.Summary)
	}
	if len(result.Insights) != 0 {
		t.Errorf("expected no insights, got %d", len(result.Insights))
	}
}

func TestRunCycleUnconfiguredClient(t *testing.T) {
	trades := &stubTrades{trades: sampleTrades(6)}
	client := &stubCompleter{configured: false}
	e := newTestEngine(trades, client, nil)

	result, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if client.lastPrompt != "" {
		t.Error("unconfigured client must not be called")
	}
	if !strings.Contains(result.Summary, "model insights unavailable") {
		t.Errorf("expected fallback summary, got %q", result.Summary)
	}
}

func TestRunCycleSingleFlight(t *testing.T) {
	e := newTestEngine(&stubTrades{trades: sampleTrades(6)}, &stubCompleter{}, nil)

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	result, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if !result.Skipped || result.SkipReason != "reflection cycle already in progress" {
		t.Fatalf("expected in-progress skip, got %+v", result)
	}
}

func TestRunCycleTradeSourceError(t *testing.T) {
	trades := &stubTrades{err: errors.New("db down")}
	e := newTestEngine(trades, &stubCompleter{}, nil)

	if _, err := e.RunCycle(context.Background()); err == nil {
		t.Fatal("expected error when trade load fails")
	}

	// The running flag must be released even on error
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if running {
		t.Error("running flag leaked after failed cycle")
	}
}
