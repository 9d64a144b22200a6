package learning

import (
	"context"
	"time"

	"adaptive-trading-bot/internal/database"
	"adaptive-trading-bot/internal/events"
	"adaptive-trading-bot/internal/knowledge"
	"adaptive-trading-bot/internal/logging"
)

// TradeRecorder persists closed trades and audit entries
type TradeRecorder interface {
	InsertClosedTrade(ctx context.Context, t *database.ClosedTrade) error
	LogActivity(ctx context.Context, category, message string, details map[string]interface{}) error
}

// ReflectionNotifier receives the trade-count signal that can trigger an
// early reflection cycle
type ReflectionNotifier interface {
	NotifyTradeClosed()
}

// Winning trades below this profit do not mint new patterns
const extractionMinPnL = 10.0

// QuickUpdateResult summarizes what one closed trade changed
type QuickUpdateResult struct {
	Symbol           string                     `json:"symbol"`
	PnL              float64                    `json:"pnl"`
	Status           knowledge.InstrumentStatus `json:"status"`
	StatusChange     *knowledge.StatusChange    `json:"status_change,omitempty"`
	PatternUpdate    *knowledge.PatternUpdate   `json:"pattern_update,omitempty"`
	ExtractedPattern *knowledge.TradingPattern  `json:"extracted_pattern,omitempty"`
	Elapsed          time.Duration              `json:"elapsed"`
}

// QuickUpdater is the fast path that runs on every trade close. It folds the
// result into instrument and pattern statistics immediately, leaving the
// expensive analysis to the periodic reflection cycle. No LLM calls happen
// here.
type QuickUpdater struct {
	scorer     *knowledge.Scorer
	library    *knowledge.Library
	recorder   TradeRecorder
	reflection ReflectionNotifier
	events     *events.EventBus
	logger     *logging.Logger

	processed       int
	lastProcessedAt time.Time
}

// NewQuickUpdater creates the per-trade update path
func NewQuickUpdater(scorer *knowledge.Scorer, library *knowledge.Library, recorder TradeRecorder, reflection ReflectionNotifier, bus *events.EventBus, logger *logging.Logger) *QuickUpdater {
	return &QuickUpdater{
		scorer:     scorer,
		library:    library,
		recorder:   recorder,
		reflection: reflection,
		events:     bus,
		logger:     logger.WithComponent("quick_updater"),
	}
}

// OnTradeClosed processes one closed trade. Persistence failures are logged
// and tolerated: the in-memory knowledge update always goes through.
func (u *QuickUpdater) OnTradeClosed(ctx context.Context, trade *database.ClosedTrade) *QuickUpdateResult {
	start := time.Now()

	if err := u.recorder.InsertClosedTrade(ctx, trade); err != nil {
		u.logger.Error("Failed to persist closed trade", "symbol", trade.Symbol, "error", err)
	}

	score, change := u.scorer.RecordTrade(trade.Symbol, trade.PnL)
	if change != nil {
		u.events.PublishStatusChanged(change.Symbol,
			string(change.OldStatus), string(change.NewStatus), change.Reason)
	}

	var patternUpdate *knowledge.PatternUpdate
	if trade.PatternID != "" {
		patternUpdate = u.library.RecordOutcome(trade.PatternID, trade.PnL)
		if patternUpdate != nil {
			u.events.PublishPatternUpdated(patternUpdate.PatternID,
				patternUpdate.Confidence, !patternUpdate.Deactivated)
		}
	}

	// A large pattern-less winner seeds a candidate pattern from the
	// conditions it was taken under
	var extracted *knowledge.TradingPattern
	if trade.PatternID == "" && trade.PnL >= extractionMinPnL && trade.BTCTrend != "" {
		extracted = u.library.ExtractFromTrade(trade.Symbol, trade.PnL, map[string]interface{}{
			"hour_of_day": trade.HourOfDay,
			"day_of_week": trade.DayOfWeek,
			"btc_trend":   trade.BTCTrend,
		})
		if extracted != nil {
			u.events.PublishPatternUpdated(extracted.ID, extracted.Confidence, true)
		}
	}

	result := &QuickUpdateResult{
		Symbol:           trade.Symbol,
		PnL:              trade.PnL,
		Status:           score.Status,
		StatusChange:     change,
		PatternUpdate:    patternUpdate,
		ExtractedPattern: extracted,
		Elapsed:          time.Since(start),
	}

	details := map[string]interface{}{
		"symbol": trade.Symbol,
		"pnl":    trade.PnL,
		"status": string(score.Status),
	}
	if change != nil {
		details["status_change"] = string(change.NewStatus)
	}
	if patternUpdate != nil {
		details["pattern_id"] = patternUpdate.PatternID
		details["pattern_confidence"] = patternUpdate.Confidence
	}
	if extracted != nil {
		details["extracted_pattern"] = extracted.ID
	}
	if err := u.recorder.LogActivity(ctx, "quick_update", "Trade folded into knowledge", details); err != nil {
		u.logger.Warn("Failed to log quick update activity", "error", err)
	}

	u.reflection.NotifyTradeClosed()
	u.events.PublishTradeClosed(trade.Symbol, trade.PnL, trade.ExitReason, trade.PatternID)

	u.processed++
	u.lastProcessedAt = time.Now().UTC()
	u.logger.Debug("Quick update completed",
		"symbol", trade.Symbol, "pnl", trade.PnL, "elapsed", result.Elapsed.String())
	return result
}

// Processed returns how many trades have gone through the fast path
func (u *QuickUpdater) Processed() int {
	return u.processed
}

// GetHealth reports the fast-path component status
func (u *QuickUpdater) GetHealth() map[string]interface{} {
	status := "healthy"
	if u.lastProcessedAt.IsZero() {
		status = "degraded"
	}
	return map[string]interface{}{
		"status":        status,
		"last_activity": u.lastProcessedAt,
		"metrics": map[string]interface{}{
			"processed": u.processed,
		},
	}
}
