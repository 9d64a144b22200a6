package knowledge

import (
	"fmt"
	"sync"
	"time"

	"adaptive-trading-bot/internal/logging"
)

const (
	// Status thresholds. Evaluation only starts once an instrument has
	// a minimum trade sample behind it.
	minTradesForEvaluation = 5

	blacklistWinRate = 0.30
	reduceWinRate    = 0.45
	recoverWinRate   = 0.50
	favorWinRate     = 0.60
)

// Scorer maintains per-instrument performance and drives status transitions
type Scorer struct {
	store  *Store
	logger *logging.Logger

	mu          sync.Mutex
	lastTradeAt time.Time
}

// NewScorer creates a scorer over the given store
func NewScorer(store *Store, logger *logging.Logger) *Scorer {
	return &Scorer{
		store:  store,
		logger: logger.WithComponent("instrument_scorer"),
	}
}

// RecordTrade folds one closed trade into the instrument's running stats and
// re-evaluates its status. Returns the updated score and a StatusChange when
// the trade moved the instrument to a different status, nil otherwise.
func (s *Scorer) RecordTrade(symbol string, pnl float64) (*InstrumentScore, *StatusChange) {
	score := s.store.GetInstrument(symbol)
	if score == nil {
		score = NewInstrumentScore(symbol)
	}

	score.TotalTrades++
	score.TotalPnL += pnl
	if pnl > 0 {
		score.Wins++
		score.AvgWin = rollingAvg(score.AvgWin, pnl, score.Wins)
	} else {
		score.Losses++
		score.AvgLoss = rollingAvg(score.AvgLoss, pnl, score.Losses)
	}
	score.WinRate = float64(score.Wins) / float64(score.TotalTrades)
	score.AvgPnL = score.TotalPnL / float64(score.TotalTrades)

	change := s.evaluateStatus(score)

	s.mu.Lock()
	s.lastTradeAt = time.Now().UTC()
	s.mu.Unlock()

	s.store.UpsertInstrument(score)
	if change != nil {
		s.logger.Info("Instrument status changed",
			"symbol", symbol,
			"from", string(change.OldStatus),
			"to", string(change.NewStatus),
			"reason", change.Reason)
	}
	return score, change
}

// evaluateStatus applies the transition rules in priority order and mutates
// score.Status in place. A manual blacklist is sticky: automatic transitions
// never lift it.
func (s *Scorer) evaluateStatus(score *InstrumentScore) *StatusChange {
	if score.TotalTrades < minTradesForEvaluation {
		return nil
	}
	if score.Blacklisted {
		return nil
	}

	old := score.Status
	var newStatus InstrumentStatus
	var reason string

	switch {
	case score.WinRate < blacklistWinRate && score.TotalPnL < 0:
		newStatus = StatusBlacklisted
		reason = fmt.Sprintf("Win rate %.1f%% with $%.2f total PnL over %d trades",
			score.WinRate*100, score.TotalPnL, score.TotalTrades)
	case score.WinRate < reduceWinRate && old != StatusReduced:
		newStatus = StatusReduced
		reason = fmt.Sprintf("Win rate %.1f%% below %.0f%%", score.WinRate*100, reduceWinRate*100)
	case score.WinRate >= favorWinRate && score.TotalPnL > 0 && old != StatusFavored:
		newStatus = StatusFavored
		reason = fmt.Sprintf("Win rate %.1f%% with $%.2f total PnL", score.WinRate*100, score.TotalPnL)
	case old == StatusReduced && score.WinRate >= recoverWinRate:
		newStatus = StatusNormal
		reason = fmt.Sprintf("Win rate recovered to %.1f%%", score.WinRate*100)
	case old == StatusFavored && (score.WinRate < favorWinRate || score.TotalPnL <= 0):
		newStatus = StatusNormal
		reason = fmt.Sprintf("No longer qualifies as favored (win rate %.1f%%, PnL $%.2f)",
			score.WinRate*100, score.TotalPnL)
	case old == StatusUnknown:
		// Enough sample to grade, and no other rule fired
		newStatus = StatusNormal
		reason = fmt.Sprintf("Reached %d trades with no flags", score.TotalTrades)
	default:
		return nil
	}

	if newStatus == old {
		return nil
	}

	score.Status = newStatus
	if newStatus == StatusBlacklisted {
		score.Blacklisted = true
		score.BlacklistReason = reason
	}

	return &StatusChange{
		Symbol:      score.Symbol,
		OldStatus:   old,
		NewStatus:   newStatus,
		Reason:      reason,
		WinRate:     score.WinRate,
		TotalTrades: score.TotalTrades,
		TotalPnL:    score.TotalPnL,
		Timestamp:   time.Now().UTC(),
	}
}

// PositionMultiplier returns the sizing factor for a symbol based on its
// current status. Unknown instruments trade at full size.
func (s *Scorer) PositionMultiplier(symbol string) float64 {
	score := s.store.GetInstrument(symbol)
	if score == nil {
		return 1.0
	}
	if score.Blacklisted {
		return 0.0
	}
	switch score.Status {
	case StatusBlacklisted:
		return 0.0
	case StatusReduced:
		return 0.5
	case StatusFavored:
		return 1.5
	default:
		return 1.0
	}
}

// ForceBlacklist blacklists an instrument regardless of its stats. Used by
// the adaptation engine and manual operator actions.
func (s *Scorer) ForceBlacklist(symbol, reason string) (*StatusChange, error) {
	old := StatusUnknown
	if existing := s.store.GetInstrument(symbol); existing != nil {
		if existing.Blacklisted {
			return nil, nil
		}
		old = existing.Status
	}

	score, err := s.store.BlacklistInstrument(symbol, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to blacklist %s: %w", symbol, err)
	}

	s.logger.Warn("Instrument blacklisted", "symbol", symbol, "reason", reason)
	return &StatusChange{
		Symbol:      score.Symbol,
		OldStatus:   old,
		NewStatus:   StatusBlacklisted,
		Reason:      reason,
		WinRate:     score.WinRate,
		TotalTrades: score.TotalTrades,
		TotalPnL:    score.TotalPnL,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// ForceUnblacklist lifts a blacklist and returns the instrument to NORMAL
func (s *Scorer) ForceUnblacklist(symbol string) (*StatusChange, error) {
	existing := s.store.GetInstrument(symbol)
	if existing == nil || !existing.Blacklisted {
		return nil, nil
	}

	score, err := s.store.UnblacklistInstrument(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to unblacklist %s: %w", symbol, err)
	}

	s.logger.Info("Instrument removed from blacklist", "symbol", symbol)
	return &StatusChange{
		Symbol:      score.Symbol,
		OldStatus:   StatusBlacklisted,
		NewStatus:   StatusNormal,
		Reason:      "Blacklist lifted",
		WinRate:     score.WinRate,
		TotalTrades: score.TotalTrades,
		TotalPnL:    score.TotalPnL,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// GetHealth reports scorer health for operational monitoring
func (s *Scorer) GetHealth() map[string]interface{} {
	s.mu.Lock()
	lastTrade := s.lastTradeAt
	s.mu.Unlock()

	status := "healthy"
	var last interface{}
	if lastTrade.IsZero() {
		status = "degraded"
	} else {
		last = lastTrade
	}

	blacklisted, _, _ := s.store.Counts()
	return map[string]interface{}{
		"status":        status,
		"last_activity": last,
		"metrics": map[string]interface{}{
			"instruments": len(s.store.ListInstruments()),
			"blacklisted": blacklisted,
		},
	}
}

func rollingAvg(prev, value float64, count int) float64 {
	if count <= 1 {
		return value
	}
	return prev + (value-prev)/float64(count)
}
