package reflection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"adaptive-trading-bot/internal/ai/llm"
	"adaptive-trading-bot/internal/database"
	"adaptive-trading-bot/internal/events"
	"adaptive-trading-bot/internal/logging"
)

// TradeSource supplies the closed trades to analyze
type TradeSource interface {
	GetRecentClosedTrades(ctx context.Context, hours int) ([]*database.ClosedTrade, error)
}

// Completer is the LLM surface the engine needs
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	IsConfigured() bool
}

// InsightProcessor turns insights into applied adaptations
type InsightProcessor interface {
	ProcessInsights(ctx context.Context, insights []llm.Insight) []*database.AdaptationRecord
}

// Config controls when reflection cycles fire
type Config struct {
	Interval             time.Duration
	TradeTrigger         int
	FirstReflectionAfter int
	LookbackHours        int
}

// Engine runs periodic LLM reflection over recent trading results
type Engine struct {
	trades  TradeSource
	client  Completer
	adapter InsightProcessor
	events  *events.EventBus
	logger  *logging.Logger
	config  Config

	mu             sync.Mutex
	running        bool
	lastReflection time.Time
	tradesSince    int
	totalCycles    int
	totalInsights  int
	lastSummary    string
}

// NewEngine creates a reflection engine
func NewEngine(trades TradeSource, client Completer, adapter InsightProcessor, bus *events.EventBus, logger *logging.Logger, config Config) *Engine {
	return &Engine{
		trades:  trades,
		client:  client,
		adapter: adapter,
		events:  bus,
		logger:  logger.WithComponent("reflection_engine"),
		config:  config,
	}
}

// NotifyTradeClosed bumps the trade counter that can trigger an early cycle
func (e *Engine) NotifyTradeClosed() {
	e.mu.Lock()
	e.tradesSince++
	e.mu.Unlock()
}

// ShouldReflect reports whether a cycle is due. The very first cycle waits
// only for a small trade sample; after that cycles fire on elapsed time or on
// trade volume, whichever comes first.
func (e *Engine) ShouldReflect() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return false
	}
	if e.lastReflection.IsZero() {
		return e.tradesSince >= e.config.FirstReflectionAfter
	}
	if time.Since(e.lastReflection) >= e.config.Interval {
		return true
	}
	return e.tradesSince >= e.config.TradeTrigger
}

// RunCycle executes one reflection cycle. Overlapping calls are rejected:
// only one cycle runs at a time and a second caller gets a skipped result.
func (e *Engine) RunCycle(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return &Result{Skipped: true, SkipReason: "reflection cycle already in progress"}, nil
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	result := &Result{
		ID:          uuid.New().String(),
		StartedAt:   time.Now().UTC(),
		WindowHours: e.config.LookbackHours,
	}

	trades, err := e.trades.GetRecentClosedTrades(ctx, e.config.LookbackHours)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades for reflection: %w", err)
	}

	// Nothing to analyze. The trigger state is left untouched so the next
	// check fires again as soon as trades arrive.
	if len(trades) == 0 {
		result.Skipped = true
		result.SkipReason = "no trades in window"
		result.CompletedAt = time.Now().UTC()
		e.logger.Debug("Reflection skipped", "reason", result.SkipReason)
		return result, nil
	}

	result.TradesAnalyzed = len(trades)

	instruments := AnalyzeByInstrument(trades)
	patterns := AnalyzeByPattern(trades)
	timing := AnalyzeByTime(trades)
	regimes := AnalyzeByRegime(trades)
	exits := AnalyzeByExit(trades)

	var totalPnL float64
	for _, t := range trades {
		totalPnL += t.PnL
	}

	prompt := llm.BuildReflectionPrompt(llm.ReflectionInput{
		WindowHours:     e.config.LookbackHours,
		TotalTrades:     len(trades),
		WinRate:         winRate(trades),
		TotalPnL:        totalPnL,
		InstrumentStats: FormatInstrumentStats(instruments),
		PatternStats:    FormatPatternStats(patterns),
		TimingStats:     FormatTimeStats(timing),
		RegimeStats:     FormatRegimeStats(regimes),
		ExitStats:       FormatExitStats(exits),
	})

	result.Summary, result.Insights = e.consultModel(ctx, prompt, len(trades))

	if e.adapter != nil && len(result.Insights) > 0 {
		result.Adaptations = e.adapter.ProcessInsights(ctx, result.Insights)
	}

	result.CompletedAt = time.Now().UTC()

	// The cycle completed, with or without usable insights. Reset the
	// triggers so a bad LLM response does not cause an immediate retry.
	e.mu.Lock()
	e.lastReflection = result.CompletedAt
	e.tradesSince = 0
	e.totalCycles++
	e.totalInsights += len(result.Insights)
	e.lastSummary = result.Summary
	e.mu.Unlock()

	e.logger.Info("Reflection cycle completed",
		"trades", result.TradesAnalyzed,
		"insights", len(result.Insights),
		"adaptations", len(result.Adaptations),
		"duration", result.CompletedAt.Sub(result.StartedAt).String())
	e.events.PublishReflectionCompleted(result.TradesAnalyzed, len(result.Insights), len(result.Adaptations))

	return result, nil
}

// consultModel asks the LLM for insights. Any failure degrades to an empty
// insight list with a fallback summary; the cycle itself still counts.
func (e *Engine) consultModel(ctx context.Context, prompt string, tradeCount int) (string, []llm.Insight) {
	fallback := fmt.Sprintf("Analyzed %d trades; model insights unavailable this cycle", tradeCount)

	if !e.client.IsConfigured() {
		return fallback, nil
	}

	raw, err := e.client.Complete(ctx, llm.ReflectionSystemPrompt, prompt)
	if err != nil {
		e.logger.Error("Reflection LLM call failed", "error", err)
		e.events.PublishError("reflection_engine", "LLM call failed", err)
		return fallback, nil
	}

	resp, err := llm.ParseReflectionResponse(raw)
	if err != nil {
		e.logger.Error("Reflection response unparseable", "error", err)
		return fallback, nil
	}
	return resp.Summary, resp.Insights
}

// GetHealth reports engine health for operational monitoring. The engine is
// degraded until its first cycle completes, and again when cycles stop
// landing on schedule.
func (e *Engine) GetHealth() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := "healthy"
	var last interface{}
	switch {
	case e.lastReflection.IsZero():
		status = "degraded"
	case time.Since(e.lastReflection) > 2*e.config.Interval:
		status = "degraded"
		last = e.lastReflection
	default:
		last = e.lastReflection
	}

	return map[string]interface{}{
		"status":        status,
		"last_activity": last,
		"metrics": map[string]interface{}{
			"total_cycles":      e.totalCycles,
			"total_insights":    e.totalInsights,
			"trades_since_last": e.tradesSince,
		},
	}
}

// GetStatus returns engine status for the API
func (e *Engine) GetStatus() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	var last interface{}
	if !e.lastReflection.IsZero() {
		last = e.lastReflection
	}
	return map[string]interface{}{
		"running":                e.running,
		"last_reflection":        last,
		"trades_since_last":      e.tradesSince,
		"total_cycles":           e.totalCycles,
		"total_insights":         e.totalInsights,
		"last_summary":           e.lastSummary,
		"interval_minutes":       int(e.config.Interval.Minutes()),
		"trade_trigger":          e.config.TradeTrigger,
		"first_reflection_after": e.config.FirstReflectionAfter,
	}
}
