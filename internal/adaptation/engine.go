package adaptation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"adaptive-trading-bot/internal/ai/llm"
	"adaptive-trading-bot/internal/database"
	"adaptive-trading-bot/internal/events"
	"adaptive-trading-bot/internal/knowledge"
	"adaptive-trading-bot/internal/logging"
)

// Adaptation actions the engine knows how to apply
const (
	ActionBlacklistInstrument = "blacklist_instrument"
	ActionFavorInstrument     = "favor_instrument"
	ActionDeactivatePattern   = "deactivate_pattern"
	ActionCreateRule          = "create_rule"
)

const (
	// Common gate. An insight below any of these is observed but not
	// acted on.
	minConfidence     = 0.6
	minEvidenceTrades = 5
	cooldownDuration  = 24 * time.Hour
	metricsWindow     = 24

	// Per-handler thresholds. Each mutation demands more conviction than
	// the common gate.
	blacklistConfidence  = 0.85
	favorConfidence      = 0.80
	deactivateConfidence = 0.85
	ruleConfidence       = 0.75

	blacklistWinRate  = 0.30
	favorWinRate      = 0.60
	deactivateWinRate = 0.35

	minRuleTrades = 10
)

// Store is the persistence surface the engine needs
type Store interface {
	InsertAdaptation(ctx context.Context, a *database.AdaptationRecord) error
	GetAdaptationsSince(ctx context.Context, since time.Time) ([]*database.AdaptationRecord, error)
	GetRecentClosedTrades(ctx context.Context, hours int) ([]*database.ClosedTrade, error)
	LogActivity(ctx context.Context, category, message string, details map[string]interface{}) error
}

// Blacklister applies forced instrument status changes
type Blacklister interface {
	ForceBlacklist(symbol, reason string) (*knowledge.StatusChange, error)
}

// Engine turns reflection insights into concrete knowledge mutations.
// Every applied change is recorded with a pre-change metrics snapshot so the
// effectiveness monitor can grade it later.
type Engine struct {
	store     Store
	knowledge *knowledge.Store
	scorer    Blacklister
	events    *events.EventBus
	logger    *logging.Logger

	applied   int
	skipped   int
	lastRunAt time.Time
}

// NewEngine creates an adaptation engine
func NewEngine(store Store, ks *knowledge.Store, scorer Blacklister, bus *events.EventBus, logger *logging.Logger) *Engine {
	return &Engine{
		store:     store,
		knowledge: ks,
		scorer:    scorer,
		events:    bus,
		logger:    logger.WithComponent("adaptation_engine"),
	}
}

// ProcessInsights evaluates each insight against the application gate and
// applies the ones that pass. Returns the records for applied adaptations.
func (e *Engine) ProcessInsights(ctx context.Context, insights []llm.Insight) []*database.AdaptationRecord {
	if len(insights) == 0 {
		return nil
	}
	e.lastRunAt = time.Now().UTC()

	recentTrades, err := e.store.GetRecentClosedTrades(ctx, metricsWindow)
	if err != nil {
		e.logger.Error("Failed to load recent trades, skipping all insights", "error", err)
		e.skipped += len(insights)
		return nil
	}

	var applied []*database.AdaptationRecord
	for _, insight := range insights {
		record, reason := e.processOne(ctx, insight, recentTrades)
		if record == nil {
			e.skipped++
			e.logger.Debug("Insight skipped",
				"title", insight.Title, "action", insight.SuggestedAction, "reason", reason)
			continue
		}
		applied = append(applied, record)
		e.applied++
	}
	return applied
}

// processOne applies a single insight. Returns nil and a reason when the
// insight does not pass the gate.
func (e *Engine) processOne(ctx context.Context, insight llm.Insight, recentTrades []*database.ClosedTrade) (*database.AdaptationRecord, string) {
	if insight.SuggestedAction == "" {
		return nil, "no suggested action"
	}
	if insight.Confidence < minConfidence {
		return nil, fmt.Sprintf("confidence %.2f below %.2f", insight.Confidence, minConfidence)
	}
	if len(insight.Evidence) == 0 {
		return nil, "no supporting evidence"
	}
	trades, ok := insight.EvidenceInt("trades", "trade_count", "total_trades")
	if !ok {
		return nil, "evidence carries no trade count"
	}
	if trades < minEvidenceTrades {
		return nil, fmt.Sprintf("only %d trades in evidence", trades)
	}

	action, reason := e.routeInsight(insight, trades)
	if action == "" {
		return nil, reason
	}

	target, reason := e.resolveTarget(insight, action)
	if target == "" {
		return nil, reason
	}

	onCooldown, err := e.targetOnCooldown(ctx, target)
	if err != nil {
		return nil, fmt.Sprintf("cooldown check failed: %v", err)
	}
	if onCooldown {
		return nil, "target on cooldown"
	}

	description, err := e.apply(insight, action, target)
	if err != nil {
		e.logger.Error("Failed to apply adaptation",
			"action", action, "target", target, "error", err)
		return nil, fmt.Sprintf("apply failed: %v", err)
	}

	record := &database.AdaptationRecord{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		InsightType:  insight.InsightType,
		InsightTitle: insight.Title,
		Action:       action,
		Target:       target,
		Description:  description,
		PreMetrics:   e.snapshotMetrics(recentTrades),
		Confidence:   insight.Confidence,
		Evidence:     insight.Evidence,
	}

	if err := e.store.InsertAdaptation(ctx, record); err != nil {
		// The knowledge mutation already happened; losing the record only
		// costs effectiveness tracking for this one adaptation.
		e.logger.Error("Failed to persist adaptation record", "id", record.ID, "error", err)
	}
	if err := e.store.LogActivity(ctx, "adaptation", description, map[string]interface{}{
		"action": record.Action, "target": record.Target, "confidence": record.Confidence,
	}); err != nil {
		e.logger.Warn("Failed to log adaptation activity", "error", err)
	}

	e.logger.Info("Adaptation applied",
		"action", record.Action, "target", record.Target, "confidence", record.Confidence)
	e.events.PublishAdaptationApplied(record.ID, record.Action, record.Target, record.Confidence)

	return record, ""
}

// routeInsight maps the insight's type and category onto a concrete action,
// enforcing the per-handler thresholds. Returns the empty action and a reason
// when no handler accepts the insight.
func (e *Engine) routeInsight(insight llm.Insight, trades int) (string, string) {
	winRate, hasWinRate := evidenceWinRate(insight)
	pnl, hasPnL := insight.EvidenceFloat("total_pnl", "pnl")

	switch {
	case insight.InsightType == llm.InsightInstrument && insight.Category == llm.CategoryProblem:
		if insight.Confidence < blacklistConfidence {
			return "", fmt.Sprintf("confidence %.2f below blacklist threshold %.2f", insight.Confidence, blacklistConfidence)
		}
		if !hasWinRate || winRate >= blacklistWinRate {
			return "", fmt.Sprintf("win rate %.0f%% not below %.0f%%", winRate*100, blacklistWinRate*100)
		}
		if !hasPnL || pnl >= 0 {
			return "", "evidence P&L not negative"
		}
		return ActionBlacklistInstrument, ""

	case insight.InsightType == llm.InsightInstrument && insight.Category == llm.CategoryOpportunity:
		if insight.Confidence < favorConfidence {
			return "", fmt.Sprintf("confidence %.2f below favor threshold %.2f", insight.Confidence, favorConfidence)
		}
		if !hasWinRate || winRate < favorWinRate {
			return "", fmt.Sprintf("win rate %.0f%% below %.0f%%", winRate*100, favorWinRate*100)
		}
		if !hasPnL || pnl <= 0 {
			return "", "evidence P&L not positive"
		}
		return ActionFavorInstrument, ""

	case insight.InsightType == llm.InsightPattern && insight.Category == llm.CategoryProblem:
		if insight.Confidence < deactivateConfidence {
			return "", fmt.Sprintf("confidence %.2f below deactivation threshold %.2f", insight.Confidence, deactivateConfidence)
		}
		if !hasWinRate || winRate >= deactivateWinRate {
			return "", fmt.Sprintf("win rate %.0f%% not below %.0f%%", winRate*100, deactivateWinRate*100)
		}
		return ActionDeactivatePattern, ""

	case (insight.InsightType == llm.InsightTime || insight.InsightType == llm.InsightRegime) &&
		insight.Category == llm.CategoryProblem:
		if insight.Confidence < ruleConfidence {
			return "", fmt.Sprintf("confidence %.2f below rule threshold %.2f", insight.Confidence, ruleConfidence)
		}
		if trades < minRuleTrades {
			return "", fmt.Sprintf("only %d trades in evidence, rules need %d", trades, minRuleTrades)
		}
		return ActionCreateRule, ""

	default:
		return "", fmt.Sprintf("no handler for %s/%s insights", insight.InsightType, insight.Category)
	}
}

// evidenceWinRate reads the win rate from the evidence map, normalizing
// percentage values to a fraction.
func evidenceWinRate(insight llm.Insight) (float64, bool) {
	wr, ok := insight.EvidenceFloat("win_rate", "winrate")
	if !ok {
		return 0, false
	}
	if wr > 1 {
		wr /= 100
	}
	return wr, true
}

var symbolPattern = regexp.MustCompile(`\b[A-Z0-9]{2,10}(?:USDT|USDC|BUSD)\b`)

// resolveTarget works out what entity the insight is about
func (e *Engine) resolveTarget(insight llm.Insight, action string) (string, string) {
	switch action {
	case ActionBlacklistInstrument, ActionFavorInstrument:
		text := insight.Title + " " + insight.Description
		if symbol := symbolPattern.FindString(text); symbol != "" {
			return symbol, ""
		}
		return "", "no symbol found in insight"

	case ActionDeactivatePattern:
		if id, ok := insight.Evidence["pattern_id"].(string); ok {
			if e.knowledge.GetPattern(id) != nil {
				return id, ""
			}
		}
		text := insight.Title + " " + insight.Description
		for _, p := range e.knowledge.ListPatterns(false) {
			if strings.Contains(text, p.ID) {
				return p.ID, ""
			}
		}
		return "", "no known pattern id found in insight"

	case ActionCreateRule:
		if _, _, ok := e.ruleFromInsight(insight); !ok {
			return "", "no rule condition derivable from insight"
		}
		// Dedup key for the cooldown check
		return "rule:" + insight.InsightType + ":" + insight.Title, ""

	default:
		return "", fmt.Sprintf("unknown action %q", action)
	}
}

// ruleFromInsight derives a machine-checkable condition from the insight
// text. Only regime and time insights carry enough structure; anything
// else cannot become a rule. Rules always reduce size rather than halting
// trading outright.
func (e *Engine) ruleFromInsight(insight llm.Insight) (map[string]interface{}, knowledge.RuleAction, bool) {
	text := strings.ToLower(insight.Title + " " + insight.Description)

	if insight.InsightType == llm.InsightRegime {
		if strings.Contains(text, "weekend") {
			condition := map[string]interface{}{
				"day_of_week": map[string]interface{}{"op": knowledge.OpIn, "value": []interface{}{5, 6}},
			}
			return condition, knowledge.ActionReduceSize, true
		}
		for _, regime := range []string{"down", "up", "sideways"} {
			if strings.Contains(text, regime) {
				return map[string]interface{}{"btc_trend": regime}, knowledge.ActionReduceSize, true
			}
		}
		return nil, "", false
	}

	if insight.InsightType == llm.InsightTime {
		if m := regexp.MustCompile(`\b(\d{1,2}):00\b`).FindStringSubmatch(text); m != nil {
			hour, err := strconv.Atoi(m[1])
			if err == nil && hour >= 0 && hour <= 23 {
				return map[string]interface{}{"hour_of_day": hour}, knowledge.ActionReduceSize, true
			}
		}
		return nil, "", false
	}

	return nil, "", false
}

// targetOnCooldown reports whether any adaptation hit the same target in the
// last 24 hours. The action does not matter; one change per target per day.
func (e *Engine) targetOnCooldown(ctx context.Context, target string) (bool, error) {
	since := time.Now().UTC().Add(-cooldownDuration)
	recent, err := e.store.GetAdaptationsSince(ctx, since)
	if err != nil {
		return false, err
	}
	for _, a := range recent {
		if a.Target == target {
			return true, nil
		}
	}
	return false, nil
}

// apply performs the actual knowledge mutation
func (e *Engine) apply(insight llm.Insight, action, target string) (string, error) {
	switch action {
	case ActionBlacklistInstrument:
		reason := fmt.Sprintf("Reflection: %s", insight.Title)
		if _, err := e.scorer.ForceBlacklist(target, reason); err != nil {
			return "", err
		}
		return fmt.Sprintf("Blacklisted %s (%s)", target, insight.Title), nil

	case ActionFavorInstrument:
		if _, err := e.knowledge.FavorInstrument(target); err != nil {
			return "", err
		}
		return fmt.Sprintf("Favoring %s (%s)", target, insight.Title), nil

	case ActionDeactivatePattern:
		if err := e.knowledge.DeactivatePattern(target); err != nil {
			return "", err
		}
		return fmt.Sprintf("Deactivated pattern %s (%s)", target, insight.Title), nil

	case ActionCreateRule:
		condition, action, ok := e.ruleFromInsight(insight)
		if !ok {
			return "", fmt.Errorf("no rule derivable from insight %q", insight.Title)
		}
		rule, err := knowledge.NewRegimeRule(uuid.New().String(), insight.Description, condition, action)
		if err != nil {
			return "", err
		}
		rule.CreatedBy = "reflection"
		e.knowledge.AddRule(rule)
		return fmt.Sprintf("Created rule %s: %s", rule.ID, insight.Description), nil

	default:
		return "", fmt.Errorf("unknown action %q", action)
	}
}

// snapshotMetrics captures the performance baseline an adaptation will be
// judged against
func (e *Engine) snapshotMetrics(trades []*database.ClosedTrade) map[string]interface{} {
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

	blacklisted, activePatterns, activeRules := e.knowledge.Counts()
	return map[string]interface{}{
		"trades":                  len(trades),
		"win_rate":                winRate,
		"total_pnl":               totalPnL,
		"profit_factor":           profitFactor,
		"blacklisted_instruments": blacklisted,
		"active_patterns":         activePatterns,
		"active_rules":            activeRules,
	}
}

// GetStats returns engine counters for the API
func (e *Engine) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"applied": e.applied,
		"skipped": e.skipped,
	}
}

// GetHealth reports engine health for operational monitoring
func (e *Engine) GetHealth() map[string]interface{} {
	status := "healthy"
	var last interface{}
	if e.lastRunAt.IsZero() {
		status = "degraded"
	} else {
		last = e.lastRunAt
	}
	return map[string]interface{}{
		"status":        status,
		"last_activity": last,
		"metrics": map[string]interface{}{
			"applied": e.applied,
			"skipped": e.skipped,
		},
	}
}
