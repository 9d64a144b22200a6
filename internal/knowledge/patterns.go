package knowledge

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"adaptive-trading-bot/internal/logging"
)

const (
	// Confidence is statistical once a pattern has this many uses;
	// below that it stays at the neutral prior.
	minUsesForConfidence = 3

	neutralConfidence      = 0.5
	minConfidence          = 0.1
	maxConfidence          = 0.9
	deactivationConfidence = 0.3
)

// Library manages the reusable trading patterns held in the store
type Library struct {
	store  *Store
	logger *logging.Logger

	mu           sync.Mutex
	lastActivity time.Time
}

// NewLibrary creates a pattern library over the given store
func NewLibrary(store *Store, logger *logging.Logger) *Library {
	return &Library{
		store:  store,
		logger: logger.WithComponent("pattern_library"),
	}
}

// RecordOutcome folds one closed trade into the pattern's stats, recomputes
// confidence, and auto-deactivates the pattern when confidence drops below
// the floor. Returns the update, or nil when the pattern id is unknown.
func (l *Library) RecordOutcome(patternID string, pnl float64) *PatternUpdate {
	p := l.store.GetPattern(patternID)
	if p == nil {
		l.logger.Warn("Outcome recorded for unknown pattern", "pattern_id", patternID)
		return nil
	}

	p.TimesUsed++
	p.TotalPnL += pnl
	if pnl > 0 {
		p.Wins++
	} else {
		p.Losses++
	}
	p.LastUsed = time.Now().UTC()
	p.Confidence = computeConfidence(p.TimesUsed, p.Wins)

	l.mu.Lock()
	l.lastActivity = time.Now().UTC()
	l.mu.Unlock()

	deactivated := false
	if p.Active && p.TimesUsed >= minUsesForConfidence && p.Confidence < deactivationConfidence {
		p.Active = false
		deactivated = true
	}

	l.store.UpdatePattern(p)

	if deactivated {
		l.logger.Warn("Pattern auto-deactivated",
			"pattern_id", p.ID,
			"description", p.Description,
			"confidence", p.Confidence,
			"win_rate", p.WinRate())
	}
	return &PatternUpdate{
		PatternID:   p.ID,
		Confidence:  p.Confidence,
		WinRate:     p.WinRate(),
		TimesUsed:   p.TimesUsed,
		Deactivated: deactivated,
	}
}

// computeConfidence blends win rate with a usage weight so a thin sample
// cannot push confidence to either extreme
func computeConfidence(timesUsed, wins int) float64 {
	if timesUsed < minUsesForConfidence {
		return neutralConfidence
	}
	winRate := float64(wins) / float64(timesUsed)
	base := 0.5 + (winRate-0.5)*0.5

	usage := float64(timesUsed) / 20.0
	if usage > 1.0 {
		usage = 1.0
	}
	conf := base * (0.7 + 0.3*usage)

	if conf < minConfidence {
		return minConfidence
	}
	if conf > maxConfidence {
		return maxConfidence
	}
	return conf
}

// MatchConditions scores every active pattern against the current market
// state and returns matches ordered best-first. Patterns with no entry
// conditions and patterns where nothing matched are excluded.
func (l *Library) MatchConditions(state map[string]interface{}) []PatternMatch {
	var matches []PatternMatch
	for _, p := range l.store.ListPatterns(true) {
		if len(p.EntryConditions) == 0 {
			continue
		}
		matched, total := EvalConditions(p.EntryConditions, state)
		if matched == 0 {
			continue
		}
		score := float64(matched) / float64(total)
		matches = append(matches, PatternMatch{
			PatternID:   p.ID,
			Description: p.Description,
			MatchScore:  score,
			Confidence:  p.Confidence,
			Modifier:    confidenceModifier(p.Confidence),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	return matches
}

// PositionModifier returns the position-size factor for a pattern, keyed on
// its current confidence. Unknown and inactive patterns size to zero.
func (l *Library) PositionModifier(patternID string) float64 {
	p := l.store.GetPattern(patternID)
	if p == nil || !p.Active {
		return 0.0
	}
	return confidenceModifier(p.Confidence)
}

// confidenceModifier maps pattern confidence onto a position-size factor
func confidenceModifier(confidence float64) float64 {
	switch {
	case confidence >= 0.7:
		return 1.25
	case confidence >= 0.5:
		return 1.0
	case confidence >= 0.3:
		return 0.75
	default:
		return 0.0
	}
}

// ExtractFromTrade creates a candidate pattern from the conditions under
// which a winning trade was taken. Losing trades never seed patterns.
func (l *Library) ExtractFromTrade(symbol string, pnl float64, conditions map[string]interface{}) *TradingPattern {
	if pnl <= 0 || len(conditions) == 0 {
		return nil
	}

	p := &TradingPattern{
		ID:              uuid.New().String(),
		Description:     fmt.Sprintf("Extracted from winning %s trade ($%.2f)", symbol, pnl),
		EntryConditions: conditions,
		TimesUsed:       1,
		Wins:            1,
		TotalPnL:        pnl,
		Confidence:      neutralConfidence,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
		LastUsed:        time.Now().UTC(),
	}
	l.store.AddPattern(p)

	l.mu.Lock()
	l.lastActivity = time.Now().UTC()
	l.mu.Unlock()

	l.logger.Info("Pattern extracted from trade", "pattern_id", p.ID, "symbol", symbol, "pnl", pnl)
	return p
}

// GetHealth reports library health for operational monitoring
func (l *Library) GetHealth() map[string]interface{} {
	l.mu.Lock()
	lastActivity := l.lastActivity
	l.mu.Unlock()

	status := "healthy"
	var last interface{}
	if lastActivity.IsZero() {
		status = "degraded"
	} else {
		last = lastActivity
	}

	_, activePatterns, _ := l.store.Counts()
	return map[string]interface{}{
		"status":        status,
		"last_activity": last,
		"metrics": map[string]interface{}{
			"patterns":        len(l.store.ListPatterns(false)),
			"active_patterns": activePatterns,
		},
	}
}

// SeedDefaults installs the starter pattern set on first run. Existing
// patterns are never overwritten.
func (l *Library) SeedDefaults() int {
	if len(l.store.ListPatterns(false)) > 0 {
		return 0
	}

	seeds := []*TradingPattern{
		{
			ID:          "seed-morning-momentum",
			Description: "Momentum entries during the morning session",
			EntryConditions: map[string]interface{}{
				"hour_of_day": map[string]interface{}{"op": OpIn, "value": []interface{}{8, 9, 10, 11}},
				"btc_trend":   "up",
			},
		},
		{
			ID:          "seed-low-volatility-range",
			Description: "Range trades when volatility is suppressed",
			EntryConditions: map[string]interface{}{
				"volatility": map[string]interface{}{"op": OpLt, "value": 2.0},
				"btc_trend":  "sideways",
			},
		},
		{
			ID:          "seed-weekday-trend",
			Description: "Trend following on weekdays only",
			EntryConditions: map[string]interface{}{
				"day_of_week": map[string]interface{}{"op": OpNotIn, "value": []interface{}{5, 6}},
				"btc_trend":   map[string]interface{}{"op": OpNeq, "value": "down"},
			},
		},
	}

	now := time.Now().UTC()
	for _, p := range seeds {
		p.Confidence = neutralConfidence
		p.Active = true
		p.CreatedAt = now
		l.store.AddPattern(p)
	}

	l.logger.Info("Seeded default patterns", "count", len(seeds))
	return len(seeds)
}
