package effectiveness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"adaptive-trading-bot/internal/adaptation"
	"adaptive-trading-bot/internal/database"
	"adaptive-trading-bot/internal/events"
	"adaptive-trading-bot/internal/knowledge"
)

// Effectiveness ratings, ordered best to worst
const (
	RatingHighlyEffective = "highly_effective"
	RatingEffective       = "effective"
	RatingNeutral         = "neutral"
	RatingIneffective     = "ineffective"
	RatingHarmful         = "harmful"
)

const (
	// Win-rate delta bands, in percentage points
	highlyEffectiveDelta = 10.0
	effectiveDelta       = 3.0
	neutralDelta         = -3.0
	ineffectiveDelta     = -10.0

	// Rollback requires clear harm on a real sample, not just a bad rating
	rollbackPnLFloor  = -20.0
	rollbackMinTrades = 10
)

// Store is the persistence surface the monitor needs
type Store interface {
	GetUnmeasuredAdaptations(ctx context.Context) ([]*database.AdaptationRecord, error)
	GetTradesAfter(ctx context.Context, after time.Time) ([]*database.ClosedTrade, error)
	UpdateAdaptationEffectiveness(ctx context.Context, id, rating string, postMetrics map[string]interface{}, rolledBack bool) error
	LogActivity(ctx context.Context, category, message string, details map[string]interface{}) error
}

// Unblacklister lifts instrument blacklists during rollback
type Unblacklister interface {
	ForceUnblacklist(symbol string) (*knowledge.StatusChange, error)
}

// Config controls measurement timing
type Config struct {
	MeasureAfter time.Duration
	ForceAfter   time.Duration
	MinTrades    int
}

// Monitor grades applied adaptations once enough post-change data exists,
// and rolls back the clearly harmful ones.
type Monitor struct {
	store     Store
	knowledge *knowledge.Store
	scorer    Unblacklister
	events    *events.EventBus
	logger    zerolog.Logger
	config    Config

	measured  int
	rollbacks int
	lastRunAt time.Time
}

// NewMonitor creates an effectiveness monitor
func NewMonitor(store Store, ks *knowledge.Store, scorer Unblacklister, bus *events.EventBus, logger zerolog.Logger, config Config) *Monitor {
	return &Monitor{
		store:     store,
		knowledge: ks,
		scorer:    scorer,
		events:    bus,
		logger:    logger.With().Str("component", "effectiveness_monitor").Logger(),
		config:    config,
	}
}

// MeasurePending grades every adaptation that is ready for measurement.
// An adaptation is ready once it has aged past the delay and accumulated a
// minimum trade sample; very old adaptations are graded regardless of sample
// so nothing stays unmeasured forever.
func (m *Monitor) MeasurePending(ctx context.Context) (int, error) {
	pending, err := m.store.GetUnmeasuredAdaptations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load unmeasured adaptations: %w", err)
	}

	m.lastRunAt = time.Now().UTC()
	count := 0
	for _, record := range pending {
		age := time.Since(record.Timestamp)
		if age < m.config.MeasureAfter {
			continue
		}

		trades, err := m.store.GetTradesAfter(ctx, record.Timestamp)
		if err != nil {
			m.logger.Error().Err(err).Str("adaptation_id", record.ID).
				Msg("Failed to load post-adaptation trades")
			continue
		}
		if len(trades) < m.config.MinTrades && age < m.config.ForceAfter {
			continue
		}

		if err := m.measure(ctx, record, trades); err != nil {
			m.logger.Error().Err(err).Str("adaptation_id", record.ID).
				Msg("Failed to measure adaptation")
			continue
		}
		count++
	}
	return count, nil
}

// measure grades one adaptation and rolls it back if clearly harmful
func (m *Monitor) measure(ctx context.Context, record *database.AdaptationRecord, trades []*database.ClosedTrade) error {
	post := snapshot(trades)
	post["win_rate_change"] = metricFloat(post, "win_rate") - metricFloat(record.PreMetrics, "win_rate")
	post["pnl_change"] = metricFloat(post, "total_pnl") - metricFloat(record.PreMetrics, "total_pnl")
	post["profit_factor_change"] = metricFloat(post, "profit_factor") - metricFloat(record.PreMetrics, "profit_factor")

	rating := rate(record.PreMetrics, post)

	rolledBack := false
	if m.shouldRollBack(rating, post) {
		rolledBack = m.rollBack(ctx, record)
	}

	if err := m.store.UpdateAdaptationEffectiveness(ctx, record.ID, rating, post, rolledBack); err != nil {
		return err
	}

	m.measured++
	m.logger.Info().
		Str("adaptation_id", record.ID).
		Str("action", record.Action).
		Str("target", record.Target).
		Str("rating", rating).
		Bool("rolled_back", rolledBack).
		Int("post_trades", len(trades)).
		Msg("Adaptation effectiveness measured")

	m.events.Publish(events.Event{
		Type: events.EventEffectivenessRated,
		Data: map[string]interface{}{
			"adaptation_id": record.ID,
			"action":        record.Action,
			"target":        record.Target,
			"rating":        rating,
			"rolled_back":   rolledBack,
		},
	})
	return nil
}

// snapshot computes post-adaptation metrics in the same shape as the
// pre-adaptation baseline
func snapshot(trades []*database.ClosedTrade) map[string]interface{} {
	var wins int
	var totalPnL, grossWin, grossLoss float64
	for _, t := range trades {
		totalPnL += t.PnL
		if t.PnL > 0 {
			wins++
			grossWin += t.PnL
		} else {
			grossLoss += -t.PnL
		}
	}

	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades))
	}
	profitFactor := 0.0
	if grossLoss > 0 {
		profitFactor = grossWin / grossLoss
	}
	return map[string]interface{}{
		"trades":        len(trades),
		"win_rate":      winRate,
		"total_pnl":     totalPnL,
		"profit_factor": profitFactor,
	}
}

// rate maps the win-rate change onto a rating band
func rate(pre, post map[string]interface{}) string {
	delta := (metricFloat(post, "win_rate") - metricFloat(pre, "win_rate")) * 100

	switch {
	case delta >= highlyEffectiveDelta:
		return RatingHighlyEffective
	case delta >= effectiveDelta:
		return RatingEffective
	case delta >= neutralDelta:
		return RatingNeutral
	case delta >= ineffectiveDelta:
		return RatingIneffective
	default:
		return RatingHarmful
	}
}

func metricFloat(m map[string]interface{}, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func metricInt(m map[string]interface{}, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// shouldRollBack requires a harmful rating backed by a real P&L decline over
// a real sample. A harmful rating alone, or a decline over a thin sample, is
// not enough to undo an adaptation.
func (m *Monitor) shouldRollBack(rating string, post map[string]interface{}) bool {
	if rating != RatingHarmful {
		return false
	}
	if metricFloat(post, "pnl_change") > rollbackPnLFloor {
		return false
	}
	return metricInt(post, "trades") >= rollbackMinTrades
}

// rollBack applies the inverse of the original adaptation. Returns true only
// when the inverse mutation actually succeeded.
func (m *Monitor) rollBack(ctx context.Context, record *database.AdaptationRecord) bool {
	var err error
	switch record.Action {
	case adaptation.ActionBlacklistInstrument:
		_, err = m.scorer.ForceUnblacklist(record.Target)
	case adaptation.ActionFavorInstrument:
		_, err = m.knowledge.SetInstrumentTrend(record.Target, knowledge.TrendStable)
	case adaptation.ActionDeactivatePattern:
		err = m.knowledge.ReactivatePattern(record.Target)
	case adaptation.ActionCreateRule:
		ruleID := ruleIDFromDescription(record.Description)
		if ruleID == "" {
			err = fmt.Errorf("no rule id recorded for adaptation %s", record.ID)
		} else {
			err = m.knowledge.DeactivateRule(ruleID)
		}
	default:
		m.logger.Warn().Str("action", record.Action).
			Msg("No rollback defined for action, leaving in place")
		return false
	}

	if err != nil {
		m.logger.Error().Err(err).Str("adaptation_id", record.ID).
			Str("action", record.Action).Msg("Rollback failed")
		return false
	}

	reason := fmt.Sprintf("Harmful adaptation rolled back: %s on %s", record.Action, record.Target)
	if logErr := m.store.LogActivity(ctx, "rollback", reason, map[string]interface{}{
		"adaptation_id": record.ID, "action": record.Action, "target": record.Target,
	}); logErr != nil {
		m.logger.Warn().Err(logErr).Msg("Failed to log rollback activity")
	}

	m.rollbacks++
	m.logger.Warn().
		Str("adaptation_id", record.ID).
		Str("action", record.Action).
		Str("target", record.Target).
		Msg("Adaptation rolled back")
	m.events.PublishAdaptationRolledBack(record.ID, record.Action, record.Target, reason)
	return true
}

// Rule ids are recorded in the adaptation description as "Created rule <id>: ..."
func ruleIDFromDescription(description string) string {
	const prefix = "Created rule "
	if !strings.HasPrefix(description, prefix) {
		return ""
	}
	rest := description[len(prefix):]
	if i := strings.Index(rest, ":"); i > 0 {
		return rest[:i]
	}
	return ""
}

// GetStats returns monitor counters for the API
func (m *Monitor) GetStats() map[string]interface{} {
	var lastRun interface{}
	if !m.lastRunAt.IsZero() {
		lastRun = m.lastRunAt
	}
	return map[string]interface{}{
		"measured":  m.measured,
		"rollbacks": m.rollbacks,
		"last_run":  lastRun,
	}
}

// GetHealth reports monitor health for operational monitoring
func (m *Monitor) GetHealth() map[string]interface{} {
	status := "healthy"
	var last interface{}
	if m.lastRunAt.IsZero() {
		status = "degraded"
	} else {
		last = m.lastRunAt
	}
	return map[string]interface{}{
		"status":        status,
		"last_activity": last,
		"metrics": map[string]interface{}{
			"measured":  m.measured,
			"rollbacks": m.rollbacks,
		},
	}
}
