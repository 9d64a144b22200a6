package knowledge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"adaptive-trading-bot/internal/logging"
)

// Repository is the persistence contract the store writes through to.
// Implemented by the database package.
type Repository interface {
	LoadInstrumentScores(ctx context.Context) ([]*InstrumentScore, error)
	LoadPatterns(ctx context.Context) ([]*TradingPattern, error)
	LoadRules(ctx context.Context) ([]*RegimeRule, error)
	SaveInstrumentScore(ctx context.Context, score *InstrumentScore) error
	SavePattern(ctx context.Context, pattern *TradingPattern) error
	SaveRule(ctx context.Context, rule *RegimeRule) error
}

// Store is the shared knowledge cache. All reads hit the in-memory maps;
// every mutation writes through to the repository. Entities are never
// hard-deleted - deactivation is the only removal mechanism, so history
// stays available for analysis and rollback.
type Store struct {
	mu          sync.RWMutex
	instruments map[string]*InstrumentScore
	patterns    map[string]*TradingPattern
	rules       map[string]*RegimeRule

	repo         Repository
	logger       *logging.Logger
	lastActivity time.Time
	writeTimeout time.Duration
}

// NewStore creates an empty store backed by the given repository
func NewStore(repo Repository, logger *logging.Logger) *Store {
	return &Store{
		instruments:  make(map[string]*InstrumentScore),
		patterns:     make(map[string]*TradingPattern),
		rules:        make(map[string]*RegimeRule),
		repo:         repo,
		logger:       logger.WithComponent("knowledge_store"),
		writeTimeout: 5 * time.Second,
	}
}

// Load populates the cache from the persistent store. Called once at startup.
func (s *Store) Load(ctx context.Context) error {
	scores, err := s.repo.LoadInstrumentScores(ctx)
	if err != nil {
		return fmt.Errorf("failed to load instrument scores: %w", err)
	}
	patterns, err := s.repo.LoadPatterns(ctx)
	if err != nil {
		return fmt.Errorf("failed to load patterns: %w", err)
	}
	rules, err := s.repo.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, score := range scores {
		s.instruments[score.Symbol] = score
	}
	for _, p := range patterns {
		s.patterns[p.ID] = p
	}
	for _, r := range rules {
		s.rules[r.ID] = r
	}
	s.lastActivity = time.Now()

	s.logger.Info("Knowledge store loaded",
		"instruments", len(scores), "patterns", len(patterns), "rules", len(rules))
	return nil
}

// persistScore writes an instrument score through to storage. A write failure
// is logged and swallowed: the in-memory mutation stands and the store may be
// stale until the next successful write.
func (s *Store) persistScore(score *InstrumentScore) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := s.repo.SaveInstrumentScore(ctx, score); err != nil {
		s.logger.Error("Failed to persist instrument score", "symbol", score.Symbol, "error", err)
	}
}

func (s *Store) persistPattern(p *TradingPattern) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := s.repo.SavePattern(ctx, p); err != nil {
		s.logger.Error("Failed to persist pattern", "pattern_id", p.ID, "error", err)
	}
}

func (s *Store) persistRule(r *RegimeRule) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := s.repo.SaveRule(ctx, r); err != nil {
		s.logger.Error("Failed to persist rule", "rule_id", r.ID, "error", err)
	}
}

// ============================================================================
// INSTRUMENTS
// ============================================================================

// GetInstrument returns the score for a symbol, or nil if never traded
func (s *Store) GetInstrument(symbol string) *InstrumentScore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if score, ok := s.instruments[symbol]; ok {
		copied := *score
		return &copied
	}
	return nil
}

// ListInstruments returns copies of all instrument scores
func (s *Store) ListInstruments() []*InstrumentScore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*InstrumentScore, 0, len(s.instruments))
	for _, score := range s.instruments {
		copied := *score
		out = append(out, &copied)
	}
	return out
}

// UpsertInstrument stores a mutated score and writes it through
func (s *Store) UpsertInstrument(score *InstrumentScore) {
	s.mu.Lock()
	copied := *score
	copied.LastUpdated = time.Now().UTC()
	s.instruments[score.Symbol] = &copied
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.persistScore(&copied)
}

// mutateInstrument applies fn to the live entry under the lock, then persists
func (s *Store) mutateInstrument(symbol string, fn func(*InstrumentScore)) (*InstrumentScore, error) {
	s.mu.Lock()
	score, ok := s.instruments[symbol]
	if !ok {
		score = NewInstrumentScore(symbol)
		s.instruments[symbol] = score
	}
	fn(score)
	score.LastUpdated = time.Now().UTC()
	s.lastActivity = time.Now()
	copied := *score
	s.mu.Unlock()

	s.persistScore(&copied)
	return &copied, nil
}

// BlacklistInstrument marks an instrument as untradeable
func (s *Store) BlacklistInstrument(symbol, reason string) (*InstrumentScore, error) {
	return s.mutateInstrument(symbol, func(score *InstrumentScore) {
		score.Blacklisted = true
		score.BlacklistReason = reason
		score.Status = StatusBlacklisted
	})
}

// UnblacklistInstrument clears a blacklist and returns the instrument to NORMAL
func (s *Store) UnblacklistInstrument(symbol string) (*InstrumentScore, error) {
	return s.mutateInstrument(symbol, func(score *InstrumentScore) {
		score.Blacklisted = false
		score.BlacklistReason = ""
		score.Status = StatusNormal
	})
}

// FavorInstrument marks an instrument as a strong performer
func (s *Store) FavorInstrument(symbol string) (*InstrumentScore, error) {
	return s.mutateInstrument(symbol, func(score *InstrumentScore) {
		score.Trend = TrendImproving
		if score.Status != StatusBlacklisted {
			score.Status = StatusFavored
		}
	})
}

// SetInstrumentTrend overrides the trend tag
func (s *Store) SetInstrumentTrend(symbol string, trend Trend) (*InstrumentScore, error) {
	return s.mutateInstrument(symbol, func(score *InstrumentScore) {
		score.Trend = trend
	})
}

// ============================================================================
// PATTERNS
// ============================================================================

// GetPattern returns a pattern by id, or nil
func (s *Store) GetPattern(id string) *TradingPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.patterns[id]; ok {
		copied := *p
		return &copied
	}
	return nil
}

// ListPatterns returns copies of patterns, optionally only active ones
func (s *Store) ListPatterns(activeOnly bool) []*TradingPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TradingPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		if activeOnly && !p.Active {
			continue
		}
		copied := *p
		out = append(out, &copied)
	}
	return out
}

// AddPattern registers a new pattern and writes it through
func (s *Store) AddPattern(p *TradingPattern) {
	s.mu.Lock()
	copied := *p
	s.patterns[p.ID] = &copied
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.persistPattern(&copied)
}

// UpdatePattern stores a mutated pattern and writes it through
func (s *Store) UpdatePattern(p *TradingPattern) {
	s.AddPattern(p)
}

func (s *Store) setPatternActive(id string, active bool) error {
	s.mu.Lock()
	p, ok := s.patterns[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("pattern %s not found", id)
	}
	p.Active = active
	s.lastActivity = time.Now()
	copied := *p
	s.mu.Unlock()

	s.persistPattern(&copied)
	return nil
}

// DeactivatePattern disables a pattern without deleting it
func (s *Store) DeactivatePattern(id string) error {
	return s.setPatternActive(id, false)
}

// ReactivatePattern re-enables a previously deactivated pattern
func (s *Store) ReactivatePattern(id string) error {
	return s.setPatternActive(id, true)
}

// ============================================================================
// RULES
// ============================================================================

// GetRule returns a rule by id, or nil
func (s *Store) GetRule(id string) *RegimeRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rules[id]; ok {
		copied := *r
		return &copied
	}
	return nil
}

// ListRules returns copies of rules, optionally only active ones
func (s *Store) ListRules(activeOnly bool) []*RegimeRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RegimeRule, 0, len(s.rules))
	for _, r := range s.rules {
		if activeOnly && !r.Active {
			continue
		}
		copied := *r
		out = append(out, &copied)
	}
	return out
}

// AddRule registers a new rule and writes it through
func (s *Store) AddRule(r *RegimeRule) {
	s.mu.Lock()
	copied := *r
	s.rules[r.ID] = &copied
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.persistRule(&copied)
}

func (s *Store) setRuleActive(id string, active bool) error {
	s.mu.Lock()
	r, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("rule %s not found", id)
	}
	r.Active = active
	s.lastActivity = time.Now()
	copied := *r
	s.mu.Unlock()

	s.persistRule(&copied)
	return nil
}

// DeactivateRule disables a rule without deleting it
func (s *Store) DeactivateRule(id string) error {
	return s.setRuleActive(id, false)
}

// ReactivateRule re-enables a previously deactivated rule
func (s *Store) ReactivateRule(id string) error {
	return s.setRuleActive(id, true)
}

// MatchingRules returns the active rules whose every condition holds against
// the given market state
func (s *Store) MatchingRules(state map[string]interface{}) []*RegimeRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*RegimeRule
	for _, r := range s.rules {
		if !r.Active || len(r.Condition) == 0 {
			continue
		}
		m, total := EvalConditions(r.Condition, state)
		if m == total {
			copied := *r
			matched = append(matched, &copied)
		}
	}
	return matched
}

// CheckRules evaluates all active rules and returns the triggered action
// tags. Trigger counters are bumped on the live entries.
func (s *Store) CheckRules(state map[string]interface{}) []RuleAction {
	matched := s.MatchingRules(state)
	if len(matched) == 0 {
		return nil
	}

	actions := make([]RuleAction, 0, len(matched))
	for _, r := range matched {
		actions = append(actions, r.Action)
		s.recordRuleTrigger(r.ID)
	}
	return actions
}

func (s *Store) recordRuleTrigger(id string) {
	s.mu.Lock()
	r, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	r.TimesTriggered++
	copied := *r
	s.mu.Unlock()

	s.persistRule(&copied)
}

// CreditRuleSavings adds to a rule's estimated P&L saved. Called when a
// caller honored the rule and reports the expected loss it avoided.
func (s *Store) CreditRuleSavings(id string, amount float64) {
	if amount <= 0 {
		return
	}
	s.mu.Lock()
	r, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	r.PnLSaved += amount
	copied := *r
	s.mu.Unlock()

	s.persistRule(&copied)
}

// ============================================================================
// METRICS
// ============================================================================

// Counts returns blacklisted-instrument, active-pattern, and active-rule counts
func (s *Store) Counts() (blacklisted, activePatterns, activeRules int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, score := range s.instruments {
		if score.Blacklisted {
			blacklisted++
		}
	}
	for _, p := range s.patterns {
		if p.Active {
			activePatterns++
		}
	}
	for _, r := range s.rules {
		if r.Active {
			activeRules++
		}
	}
	return
}

// GetHealth reports store health for operational monitoring
func (s *Store) GetHealth() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := "healthy"
	if s.lastActivity.IsZero() {
		status = "degraded"
	}
	return map[string]interface{}{
		"status":        status,
		"last_activity": s.lastActivity,
		"metrics": map[string]interface{}{
			"instruments": len(s.instruments),
			"patterns":    len(s.patterns),
			"rules":       len(s.rules),
		},
	}
}

// GetStats returns store statistics
func (s *Store) GetStats() map[string]interface{} {
	blacklisted, activePatterns, activeRules := s.Counts()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"instruments":             len(s.instruments),
		"blacklisted_instruments": blacklisted,
		"patterns":                len(s.patterns),
		"active_patterns":         activePatterns,
		"rules":                   len(s.rules),
		"active_rules":            activeRules,
		"last_activity":           s.lastActivity,
	}
}
