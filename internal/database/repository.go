package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"adaptive-trading-bot/internal/knowledge"
)

// Repository handles all database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck verifies database connectivity
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// INSTRUMENT SCORES
// ============================================================================

// SaveInstrumentScore upserts an instrument score
func (r *Repository) SaveInstrumentScore(ctx context.Context, score *knowledge.InstrumentScore) error {
	query := `
		INSERT INTO instrument_scores (
			symbol, total_trades, wins, losses, total_pnl, avg_pnl, win_rate,
			avg_win, avg_loss, status, blacklisted, blacklist_reason, trend, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (symbol) DO UPDATE SET
			total_trades = EXCLUDED.total_trades,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			total_pnl = EXCLUDED.total_pnl,
			avg_pnl = EXCLUDED.avg_pnl,
			win_rate = EXCLUDED.win_rate,
			avg_win = EXCLUDED.avg_win,
			avg_loss = EXCLUDED.avg_loss,
			status = EXCLUDED.status,
			blacklisted = EXCLUDED.blacklisted,
			blacklist_reason = EXCLUDED.blacklist_reason,
			trend = EXCLUDED.trend,
			last_updated = EXCLUDED.last_updated`

	_, err := r.db.Pool.Exec(ctx, query,
		score.Symbol, score.TotalTrades, score.Wins, score.Losses,
		score.TotalPnL, score.AvgPnL, score.WinRate, score.AvgWin, score.AvgLoss,
		string(score.Status), score.Blacklisted, score.BlacklistReason,
		string(score.Trend), score.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to save instrument score: %w", err)
	}
	return nil
}

// LoadInstrumentScores loads all instrument scores
func (r *Repository) LoadInstrumentScores(ctx context.Context) ([]*knowledge.InstrumentScore, error) {
	query := `
		SELECT symbol, total_trades, wins, losses, total_pnl, avg_pnl, win_rate,
		       avg_win, avg_loss, status, blacklisted, COALESCE(blacklist_reason, ''),
		       trend, last_updated
		FROM instrument_scores`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load instrument scores: %w", err)
	}
	defer rows.Close()

	var scores []*knowledge.InstrumentScore
	for rows.Next() {
		var s knowledge.InstrumentScore
		var status, trend string
		if err := rows.Scan(
			&s.Symbol, &s.TotalTrades, &s.Wins, &s.Losses,
			&s.TotalPnL, &s.AvgPnL, &s.WinRate, &s.AvgWin, &s.AvgLoss,
			&status, &s.Blacklisted, &s.BlacklistReason, &trend, &s.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan instrument score: %w", err)
		}
		s.Status = knowledge.InstrumentStatus(status)
		s.Trend = knowledge.Trend(trend)
		scores = append(scores, &s)
	}
	return scores, rows.Err()
}

// ============================================================================
// PATTERNS
// ============================================================================

// SavePattern upserts a trading pattern
func (r *Repository) SavePattern(ctx context.Context, p *knowledge.TradingPattern) error {
	entry, err := json.Marshal(p.EntryConditions)
	if err != nil {
		return fmt.Errorf("failed to marshal entry conditions: %w", err)
	}
	exit, err := json.Marshal(p.ExitConditions)
	if err != nil {
		return fmt.Errorf("failed to marshal exit conditions: %w", err)
	}

	query := `
		INSERT INTO trading_patterns (
			id, description, entry_conditions, exit_conditions, times_used,
			wins, losses, total_pnl, confidence, active, created_at, last_used
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			entry_conditions = EXCLUDED.entry_conditions,
			exit_conditions = EXCLUDED.exit_conditions,
			times_used = EXCLUDED.times_used,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			total_pnl = EXCLUDED.total_pnl,
			confidence = EXCLUDED.confidence,
			active = EXCLUDED.active,
			last_used = EXCLUDED.last_used`

	var lastUsed *time.Time
	if !p.LastUsed.IsZero() {
		lastUsed = &p.LastUsed
	}
	_, err = r.db.Pool.Exec(ctx, query,
		p.ID, p.Description, entry, exit, p.TimesUsed,
		p.Wins, p.Losses, p.TotalPnL, p.Confidence, p.Active, p.CreatedAt, lastUsed)
	if err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}

// LoadPatterns loads all trading patterns, active and inactive
func (r *Repository) LoadPatterns(ctx context.Context) ([]*knowledge.TradingPattern, error) {
	query := `
		SELECT id, description, entry_conditions, exit_conditions, times_used,
		       wins, losses, total_pnl, confidence, active, created_at, last_used
		FROM trading_patterns`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}
	defer rows.Close()

	var patterns []*knowledge.TradingPattern
	for rows.Next() {
		var p knowledge.TradingPattern
		var entry, exit []byte
		var lastUsed *time.Time
		if err := rows.Scan(
			&p.ID, &p.Description, &entry, &exit, &p.TimesUsed,
			&p.Wins, &p.Losses, &p.TotalPnL, &p.Confidence, &p.Active,
			&p.CreatedAt, &lastUsed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		if len(entry) > 0 {
			if err := json.Unmarshal(entry, &p.EntryConditions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal entry conditions for %s: %w", p.ID, err)
			}
		}
		if len(exit) > 0 {
			if err := json.Unmarshal(exit, &p.ExitConditions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal exit conditions for %s: %w", p.ID, err)
			}
		}
		if lastUsed != nil {
			p.LastUsed = *lastUsed
		}
		patterns = append(patterns, &p)
	}
	return patterns, rows.Err()
}

// ============================================================================
// REGIME RULES
// ============================================================================

// SaveRule upserts a regime rule
func (r *Repository) SaveRule(ctx context.Context, rule *knowledge.RegimeRule) error {
	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal rule condition: %w", err)
	}

	query := `
		INSERT INTO regime_rules (
			id, description, condition, action, created_by, active, times_triggered, pnl_saved, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			condition = EXCLUDED.condition,
			action = EXCLUDED.action,
			active = EXCLUDED.active,
			times_triggered = EXCLUDED.times_triggered,
			pnl_saved = EXCLUDED.pnl_saved`

	_, err = r.db.Pool.Exec(ctx, query,
		rule.ID, rule.Description, condition, string(rule.Action),
		rule.CreatedBy, rule.Active, rule.TimesTriggered, rule.PnLSaved, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

// LoadRules loads all regime rules
func (r *Repository) LoadRules(ctx context.Context) ([]*knowledge.RegimeRule, error) {
	query := `
		SELECT id, description, condition, action, created_by, active, times_triggered, pnl_saved, created_at
		FROM regime_rules`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	defer rows.Close()

	var rules []*knowledge.RegimeRule
	for rows.Next() {
		var rule knowledge.RegimeRule
		var condition []byte
		var action string
		if err := rows.Scan(
			&rule.ID, &rule.Description, &condition, &action,
			&rule.CreatedBy, &rule.Active, &rule.TimesTriggered, &rule.PnLSaved, &rule.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if len(condition) > 0 {
			if err := json.Unmarshal(condition, &rule.Condition); err != nil {
				return nil, fmt.Errorf("failed to unmarshal condition for %s: %w", rule.ID, err)
			}
		}
		rule.Action = knowledge.RuleAction(action)
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// ============================================================================
// TRADES
// ============================================================================

// InsertClosedTrade records a completed trade
func (r *Repository) InsertClosedTrade(ctx context.Context, t *ClosedTrade) error {
	query := `
		INSERT INTO trades (
			symbol, pnl, entry_time, exit_time, exit_reason,
			hour_of_day, day_of_week, btc_trend, pattern_id, missed_profit
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	var patternID *string
	if t.PatternID != "" {
		patternID = &t.PatternID
	}
	err := r.db.Pool.QueryRow(ctx, query,
		t.Symbol, t.PnL, t.EntryTime, t.ExitTime, t.ExitReason,
		t.HourOfDay, t.DayOfWeek, t.BTCTrend, patternID, t.MissedProfit,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// GetRecentClosedTrades returns trades closed within the last N hours
func (r *Repository) GetRecentClosedTrades(ctx context.Context, hours int) ([]*ClosedTrade, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	return r.GetTradesAfter(ctx, cutoff)
}

// GetTradesAfter returns trades closed after the given time, oldest first
func (r *Repository) GetTradesAfter(ctx context.Context, after time.Time) ([]*ClosedTrade, error) {
	query := `
		SELECT id, symbol, pnl, entry_time, exit_time, COALESCE(exit_reason, ''),
		       hour_of_day, day_of_week, COALESCE(btc_trend, ''),
		       COALESCE(pattern_id, ''), missed_profit
		FROM trades
		WHERE exit_time > $1
		ORDER BY exit_time ASC`

	rows, err := r.db.Pool.Query(ctx, query, after)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*ClosedTrade
	for rows.Next() {
		var t ClosedTrade
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.PnL, &t.EntryTime, &t.ExitTime, &t.ExitReason,
			&t.HourOfDay, &t.DayOfWeek, &t.BTCTrend, &t.PatternID, &t.MissedProfit,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// ============================================================================
// ADAPTATION LOG
// ============================================================================

// InsertAdaptation records an applied adaptation
func (r *Repository) InsertAdaptation(ctx context.Context, a *AdaptationRecord) error {
	pre, err := json.Marshal(a.PreMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal pre metrics: %w", err)
	}
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}

	query := `
		INSERT INTO adaptation_log (
			id, timestamp, insight_type, insight_title, action, target,
			description, pre_metrics, confidence, evidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.Pool.Exec(ctx, query,
		a.ID, a.Timestamp, a.InsightType, a.InsightTitle, a.Action, a.Target,
		a.Description, pre, a.Confidence, evidence)
	if err != nil {
		return fmt.Errorf("failed to insert adaptation: %w", err)
	}
	return nil
}

// UpdateAdaptationEffectiveness stores the measured rating and post metrics
func (r *Repository) UpdateAdaptationEffectiveness(ctx context.Context, id, rating string, postMetrics map[string]interface{}, rolledBack bool) error {
	post, err := json.Marshal(postMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal post metrics: %w", err)
	}

	query := `
		UPDATE adaptation_log
		SET effectiveness_rating = $2, post_metrics = $3, measured_at = $4, rolled_back = $5
		WHERE id = $1`

	_, err = r.db.Pool.Exec(ctx, query, id, rating, post, time.Now().UTC(), rolledBack)
	if err != nil {
		return fmt.Errorf("failed to update adaptation effectiveness: %w", err)
	}
	return nil
}

// GetAdaptationsSince returns adaptations applied after the given time
func (r *Repository) GetAdaptationsSince(ctx context.Context, since time.Time) ([]*AdaptationRecord, error) {
	return r.queryAdaptations(ctx,
		adaptationSelect+` WHERE timestamp > $1 ORDER BY timestamp DESC`, since)
}

// GetUnmeasuredAdaptations returns adaptations still waiting for an
// effectiveness rating, oldest first
func (r *Repository) GetUnmeasuredAdaptations(ctx context.Context) ([]*AdaptationRecord, error) {
	return r.queryAdaptations(ctx,
		adaptationSelect+` WHERE effectiveness_rating IS NULL ORDER BY timestamp ASC`)
}

// GetRecentAdaptations returns the latest adaptations
func (r *Repository) GetRecentAdaptations(ctx context.Context, limit int) ([]*AdaptationRecord, error) {
	return r.queryAdaptations(ctx,
		adaptationSelect+` ORDER BY timestamp DESC LIMIT $1`, limit)
}

const adaptationSelect = `
	SELECT id, timestamp, insight_type, COALESCE(insight_title, ''), action, target,
	       COALESCE(description, ''), pre_metrics, post_metrics, confidence,
	       evidence, COALESCE(effectiveness_rating, ''), measured_at, rolled_back
	FROM adaptation_log`

func (r *Repository) queryAdaptations(ctx context.Context, query string, args ...interface{}) ([]*AdaptationRecord, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query adaptations: %w", err)
	}
	defer rows.Close()

	var records []*AdaptationRecord
	for rows.Next() {
		var a AdaptationRecord
		var pre, post, evidence []byte
		if err := rows.Scan(
			&a.ID, &a.Timestamp, &a.InsightType, &a.InsightTitle, &a.Action, &a.Target,
			&a.Description, &pre, &post, &a.Confidence,
			&evidence, &a.EffectivenessRating, &a.MeasuredAt, &a.RolledBack,
		); err != nil {
			return nil, fmt.Errorf("failed to scan adaptation: %w", err)
		}
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &a.Evidence); err != nil {
				return nil, fmt.Errorf("failed to unmarshal evidence for %s: %w", a.ID, err)
			}
		}
		if len(pre) > 0 {
			if err := json.Unmarshal(pre, &a.PreMetrics); err != nil {
				return nil, fmt.Errorf("failed to unmarshal pre metrics for %s: %w", a.ID, err)
			}
		}
		if len(post) > 0 {
			if err := json.Unmarshal(post, &a.PostMetrics); err != nil {
				return nil, fmt.Errorf("failed to unmarshal post metrics for %s: %w", a.ID, err)
			}
		}
		records = append(records, &a)
	}
	return records, rows.Err()
}

// ============================================================================
// ACTIVITY LOG
// ============================================================================

// LogActivity appends one entry to the learning audit trail
func (r *Repository) LogActivity(ctx context.Context, category, message string, details map[string]interface{}) error {
	var payload []byte
	if details != nil {
		var err error
		payload, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to marshal activity details: %w", err)
		}
	}

	query := `INSERT INTO activity_log (timestamp, category, message, details) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.Pool.Exec(ctx, query, time.Now().UTC(), category, message, payload); err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	return nil
}

// GetRecentActivity returns the latest audit entries
func (r *Repository) GetRecentActivity(ctx context.Context, limit int) ([]*ActivityEntry, error) {
	query := `
		SELECT id, timestamp, category, message, details
		FROM activity_log
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity log: %w", err)
	}
	defer rows.Close()

	var entries []*ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		var details []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Category, &e.Message, &details); err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal activity details: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
