package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"adaptive-trading-bot/internal/auth"
	"adaptive-trading-bot/internal/cache"
	"adaptive-trading-bot/internal/database"
	"adaptive-trading-bot/internal/knowledge"
	"adaptive-trading-bot/internal/reflection"
)

// handleLogin exchanges the operator password for an access token
func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "password is required")
		return
	}

	if !auth.VerifyPassword(req.Password, s.authConfig.AdminPasswordHash) {
		errorResponse(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.jwtManager.GenerateAccessToken("operator")
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to issue token")
		return
	}

	successResponse(c, gin.H{
		"access_token": token,
		"expires_in":   int(s.jwtManager.AccessTokenDuration().Seconds()),
	})
}

// handleTradeClosed feeds one closed trade into the fast update path. This
// is how the executing bot process reports results to the learning loop.
func (s *Server) handleTradeClosed(c *gin.Context) {
	var trade database.ClosedTrade
	if err := c.ShouldBindJSON(&trade); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid trade payload")
		return
	}
	if trade.Symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}
	if trade.ExitTime.IsZero() {
		trade.ExitTime = time.Now().UTC()
	}
	if trade.EntryTime.IsZero() {
		trade.EntryTime = trade.ExitTime
	}

	result := s.updater.OnTradeClosed(c.Request.Context(), &trade)

	if s.cacheSvc != nil {
		_ = s.cacheSvc.Delete(c.Request.Context(), cache.KeyKnowledgeStats)
		_ = s.cacheSvc.Delete(c.Request.Context(), cache.KeyInstrumentScores)
		_ = s.cacheSvc.Delete(c.Request.Context(), cache.KeyActivePatterns)
	}
	successResponse(c, result)
}

// handleKnowledgeStats returns aggregate knowledge statistics. The snapshot
// is served from Redis when available.
func (s *Server) handleKnowledgeStats(c *gin.Context) {
	if s.cacheSvc != nil {
		var cached map[string]interface{}
		if err := s.cacheSvc.GetJSON(c.Request.Context(), cache.KeyKnowledgeStats, &cached); err == nil {
			successResponse(c, cached)
			return
		}
	}

	stats := s.store.GetStats()
	stats["reflection"] = s.reflection.GetStatus()
	stats["adaptation"] = s.adaptations.GetStats()
	stats["effectiveness"] = s.monitor.GetStats()

	if s.cacheSvc != nil {
		_ = s.cacheSvc.SetJSON(c.Request.Context(), cache.KeyKnowledgeStats, stats, cache.DefaultSnapshotTTL)
	}
	successResponse(c, stats)
}

func (s *Server) handleListInstruments(c *gin.Context) {
	if s.cacheSvc != nil {
		var cached []*knowledge.InstrumentScore
		if err := s.cacheSvc.GetJSON(c.Request.Context(), cache.KeyInstrumentScores, &cached); err == nil {
			successResponse(c, cached)
			return
		}
	}

	scores := s.store.ListInstruments()
	if s.cacheSvc != nil {
		_ = s.cacheSvc.SetJSON(c.Request.Context(), cache.KeyInstrumentScores, scores, cache.DefaultSnapshotTTL)
	}
	successResponse(c, scores)
}

func (s *Server) handleGetInstrument(c *gin.Context) {
	symbol := c.Param("symbol")
	score := s.store.GetInstrument(symbol)
	if score == nil {
		errorResponse(c, http.StatusNotFound, "instrument not found")
		return
	}
	successResponse(c, gin.H{
		"score":               score,
		"position_multiplier": s.scorer.PositionMultiplier(symbol),
	})
}

func (s *Server) handleListPatterns(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	if activeOnly && s.cacheSvc != nil {
		var cached []*knowledge.TradingPattern
		if err := s.cacheSvc.GetJSON(c.Request.Context(), cache.KeyActivePatterns, &cached); err == nil {
			successResponse(c, cached)
			return
		}
	}

	patterns := s.store.ListPatterns(activeOnly)
	if activeOnly && s.cacheSvc != nil {
		_ = s.cacheSvc.SetJSON(c.Request.Context(), cache.KeyActivePatterns, patterns, cache.DefaultSnapshotTTL)
	}
	successResponse(c, patterns)
}

func (s *Server) handleListRules(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	successResponse(c, s.store.ListRules(activeOnly))
}

// handleGetModifier returns the multipliers the executing bot should apply
// before sizing an entry: the instrument multiplier plus any pattern matches
// for the supplied market state.
func (s *Server) handleGetModifier(c *gin.Context) {
	symbol := c.Param("symbol")
	successResponse(c, gin.H{
		"symbol":              symbol,
		"position_multiplier": s.scorer.PositionMultiplier(symbol),
	})
}

// handleGetPatternModifier returns the confidence-derived position modifier
// for a single pattern. Unknown or inactive patterns yield 0.0.
func (s *Server) handleGetPatternModifier(c *gin.Context) {
	id := c.Param("id")
	successResponse(c, gin.H{
		"pattern_id": id,
		"modifier":   s.library.PositionModifier(id),
	})
}

// handleCheckRules evaluates the active regime rules against a market state
func (s *Server) handleCheckRules(c *gin.Context) {
	var state map[string]interface{}
	if err := c.ShouldBindJSON(&state); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid market state payload")
		return
	}

	// Callers may report the expected P&L of the trade being vetted so
	// honored rules can be credited with the loss they averted.
	var estimated float64
	if v, ok := state["estimated_pnl"].(float64); ok {
		estimated = v
		delete(state, "estimated_pnl")
	}

	matched := s.store.MatchingRules(state)
	actions := s.store.CheckRules(state)
	patterns := s.library.MatchConditions(state)

	if estimated < 0 {
		for _, r := range matched {
			if r.Action == knowledge.ActionNoTrade || r.Action == knowledge.ActionReduceSize {
				s.store.CreditRuleSavings(r.ID, -estimated)
			}
		}
	}

	successResponse(c, gin.H{
		"matched_rules":   matched,
		"actions":         actions,
		"pattern_matches": patterns,
	})
}

func (s *Server) handleRecentActivity(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := s.repo.GetRecentActivity(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load activity log")
		return
	}
	successResponse(c, entries)
}

func (s *Server) handleListAdaptations(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	if limit == 50 && s.cacheSvc != nil {
		var cached []*database.AdaptationRecord
		if err := s.cacheSvc.GetJSON(c.Request.Context(), cache.KeyRecentAdaptations, &cached); err == nil {
			successResponse(c, cached)
			return
		}
	}

	records, err := s.repo.GetRecentAdaptations(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load adaptations")
		return
	}
	if limit == 50 && s.cacheSvc != nil {
		_ = s.cacheSvc.SetJSON(c.Request.Context(), cache.KeyRecentAdaptations, records, cache.DefaultSnapshotTTL)
	}
	successResponse(c, records)
}

func (s *Server) handleEffectivenessStats(c *gin.Context) {
	successResponse(c, s.monitor.GetStats())
}

func (s *Server) handleReflectionStatus(c *gin.Context) {
	status := s.reflection.GetStatus()
	if s.cacheSvc != nil {
		var last reflection.Result
		if err := s.cacheSvc.GetJSON(c.Request.Context(), cache.KeyLastReflection, &last); err == nil {
			status["last_result"] = last
		}
	}
	successResponse(c, status)
}

func (s *Server) handleLearningStatus(c *gin.Context) {
	successResponse(c, s.service.GetStatus())
}

// handleRunReflection triggers a reflection cycle immediately. The engine's
// own gate still applies: an in-flight cycle causes a skipped result.
func (s *Server) handleRunReflection(c *gin.Context) {
	result, err := s.reflection.RunCycle(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "reflection cycle failed")
		return
	}
	if result.Skipped {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"message": result.SkipReason,
		})
		return
	}

	if s.cacheSvc != nil {
		_ = s.cacheSvc.SetJSON(c.Request.Context(), cache.KeyLastReflection, result, cache.DefaultReflectionTTL)
	}
	successResponse(c, result)
}

func (s *Server) handleBlacklist(c *gin.Context) {
	symbol := c.Param("symbol")
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "Manual blacklist by operator at " + time.Now().UTC().Format(time.RFC3339)
	}

	change, err := s.scorer.ForceBlacklist(symbol, req.Reason)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to blacklist instrument")
		return
	}
	if change == nil {
		successResponse(c, gin.H{"symbol": symbol, "already_blacklisted": true})
		return
	}
	successResponse(c, change)
}

func (s *Server) handleUnblacklist(c *gin.Context) {
	symbol := c.Param("symbol")
	change, err := s.scorer.ForceUnblacklist(symbol)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to unblacklist instrument")
		return
	}
	if change == nil {
		errorResponse(c, http.StatusNotFound, "instrument is not blacklisted")
		return
	}
	successResponse(c, change)
}

func (s *Server) handleDeactivatePattern(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.DeactivatePattern(id); err != nil {
		errorResponse(c, http.StatusNotFound, "pattern not found")
		return
	}
	successResponse(c, gin.H{"pattern_id": id, "active": false})
}

func (s *Server) handleReactivatePattern(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.ReactivatePattern(id); err != nil {
		errorResponse(c, http.StatusNotFound, "pattern not found")
		return
	}
	successResponse(c, gin.H{"pattern_id": id, "active": true})
}
