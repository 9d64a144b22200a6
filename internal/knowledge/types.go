package knowledge

import (
	"fmt"
	"time"
)

// InstrumentStatus is the scoring state of a traded instrument
type InstrumentStatus string

const (
	StatusUnknown     InstrumentStatus = "UNKNOWN"
	StatusNormal      InstrumentStatus = "NORMAL"
	StatusReduced     InstrumentStatus = "REDUCED"
	StatusFavored     InstrumentStatus = "FAVORED"
	StatusBlacklisted InstrumentStatus = "BLACKLISTED"
)

// Trend classifies the recent direction of an instrument's performance
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDegrading Trend = "degrading"
	TrendStable    Trend = "stable"
)

// RuleAction is the behavior modifier a regime rule applies when it matches
type RuleAction string

const (
	ActionNoTrade      RuleAction = "NO_TRADE"
	ActionReduceSize   RuleAction = "REDUCE_SIZE"
	ActionIncreaseSize RuleAction = "INCREASE_SIZE"
	ActionCaution      RuleAction = "CAUTION"
)

// ValidActions enumerates every allowed rule action
var ValidActions = []RuleAction{ActionNoTrade, ActionReduceSize, ActionIncreaseSize, ActionCaution}

// IsValid reports whether the action is one of the enumerated tags
func (a RuleAction) IsValid() bool {
	switch a {
	case ActionNoTrade, ActionReduceSize, ActionIncreaseSize, ActionCaution:
		return true
	}
	return false
}

// InstrumentScore tracks rolling win/loss statistics for one instrument.
// Created lazily on its first trade, never deleted.
type InstrumentScore struct {
	Symbol          string           `json:"symbol"`
	TotalTrades     int              `json:"total_trades"`
	Wins            int              `json:"wins"`
	Losses          int              `json:"losses"`
	TotalPnL        float64          `json:"total_pnl"`
	AvgPnL          float64          `json:"avg_pnl"`
	WinRate         float64          `json:"win_rate"` // 0..1
	AvgWin          float64          `json:"avg_win"`
	AvgLoss         float64          `json:"avg_loss"`
	Status          InstrumentStatus `json:"status"`
	Blacklisted     bool             `json:"blacklisted"`
	BlacklistReason string           `json:"blacklist_reason,omitempty"`
	Trend           Trend            `json:"trend"`
	LastUpdated     time.Time        `json:"last_updated"`
}

// NewInstrumentScore creates a fresh score for an untraded instrument
func NewInstrumentScore(symbol string) *InstrumentScore {
	return &InstrumentScore{
		Symbol:      symbol,
		Status:      StatusUnknown,
		Trend:       TrendStable,
		LastUpdated: time.Now().UTC(),
	}
}

// TradingPattern is a named, reusable entry/exit condition set
type TradingPattern struct {
	ID              string                 `json:"id"`
	Description     string                 `json:"description"`
	EntryConditions map[string]interface{} `json:"entry_conditions"`
	ExitConditions  map[string]interface{} `json:"exit_conditions"`
	TimesUsed       int                    `json:"times_used"`
	Wins            int                    `json:"wins"`
	Losses          int                    `json:"losses"`
	TotalPnL        float64                `json:"total_pnl"`
	Confidence      float64                `json:"confidence"` // bounded [0.1, 0.9], neutral 0.5
	Active          bool                   `json:"active"`
	CreatedAt       time.Time              `json:"created_at"`
	LastUsed        time.Time              `json:"last_used"`
}

// WinRate returns the pattern's win rate in [0,1], 0 when unused
func (p *TradingPattern) WinRate() float64 {
	if p.TimesUsed == 0 {
		return 0
	}
	return float64(p.Wins) / float64(p.TimesUsed)
}

// RegimeRule is a conditional modifier on trading behavior. The condition map
// uses the same operator DSL as pattern entry conditions.
type RegimeRule struct {
	ID             string                 `json:"id"`
	Description    string                 `json:"description"`
	Condition      map[string]interface{} `json:"condition"`
	Action         RuleAction             `json:"action"`
	CreatedBy      string                 `json:"created_by"`
	TimesTriggered int                    `json:"times_triggered"`
	PnLSaved       float64                `json:"pnl_saved"`
	Active         bool                   `json:"active"`
	CreatedAt      time.Time              `json:"created_at"`
}

// NewRegimeRule constructs a rule, rejecting actions outside the enumerated
// set. This is a hard invariant: an invalid action is a construction error,
// not a runtime fallback.
func NewRegimeRule(id, description string, condition map[string]interface{}, action RuleAction) (*RegimeRule, error) {
	if !action.IsValid() {
		return nil, fmt.Errorf("invalid rule action %q: must be one of %v", action, ValidActions)
	}
	return &RegimeRule{
		ID:          id,
		Description: description,
		Condition:   condition,
		Action:      action,
		CreatedBy:   "reflection",
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// StatusChange records a single instrument status transition. Emitted only
// when the state actually changes.
type StatusChange struct {
	Symbol      string           `json:"symbol"`
	OldStatus   InstrumentStatus `json:"old_status"`
	NewStatus   InstrumentStatus `json:"new_status"`
	Reason      string           `json:"reason"`
	WinRate     float64          `json:"win_rate"`
	TotalTrades int              `json:"total_trades"`
	TotalPnL    float64          `json:"total_pnl"`
	Timestamp   time.Time        `json:"timestamp"`
}

// PatternUpdate records the outcome of feeding a trade to a pattern
type PatternUpdate struct {
	PatternID   string  `json:"pattern_id"`
	Confidence  float64 `json:"confidence"`
	WinRate     float64 `json:"win_rate"`
	TimesUsed   int     `json:"times_used"`
	Deactivated bool    `json:"deactivated"`
}

// PatternMatch is one pattern's score against a live market state
type PatternMatch struct {
	PatternID   string  `json:"pattern_id"`
	Description string  `json:"description"`
	MatchScore  float64 `json:"match_score"` // matched conditions / total conditions
	Confidence  float64 `json:"confidence"`
	Modifier    float64 `json:"modifier"` // position-size factor for this match
}
