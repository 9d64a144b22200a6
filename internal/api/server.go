package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"adaptive-trading-bot/config"
	"adaptive-trading-bot/internal/adaptation"
	"adaptive-trading-bot/internal/auth"
	"adaptive-trading-bot/internal/cache"
	"adaptive-trading-bot/internal/database"
	"adaptive-trading-bot/internal/effectiveness"
	"adaptive-trading-bot/internal/events"
	"adaptive-trading-bot/internal/knowledge"
	"adaptive-trading-bot/internal/learning"
	"adaptive-trading-bot/internal/reflection"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	repo        *database.Repository
	store       *knowledge.Store
	scorer      *knowledge.Scorer
	library     *knowledge.Library
	reflection  *reflection.Engine
	adaptations *adaptation.Engine
	monitor     *effectiveness.Monitor
	updater     *learning.QuickUpdater
	service     *learning.Service
	cacheSvc    *cache.CacheService
	eventBus    *events.EventBus
	jwtManager  *auth.JWTManager
	config      config.ServerConfig
	authConfig  config.AuthConfig
	rateLimiter *RateLimiter
	startedAt   time.Time
}

// Deps bundles the components the server exposes
type Deps struct {
	Repo        *database.Repository
	Store       *knowledge.Store
	Scorer      *knowledge.Scorer
	Library     *knowledge.Library
	Reflection  *reflection.Engine
	Adaptations *adaptation.Engine
	Monitor     *effectiveness.Monitor
	Updater     *learning.QuickUpdater
	Service     *learning.Service
	Cache       *cache.CacheService
	EventBus    *events.EventBus
}

// NewServer creates the HTTP API server
func NewServer(cfg config.ServerConfig, authCfg config.AuthConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" || cfg.AllowedOrigins == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		repo:        deps.Repo,
		store:       deps.Store,
		scorer:      deps.Scorer,
		library:     deps.Library,
		reflection:  deps.Reflection,
		adaptations: deps.Adaptations,
		monitor:     deps.Monitor,
		updater:     deps.Updater,
		service:     deps.Service,
		cacheSvc:    deps.Cache,
		eventBus:    deps.EventBus,
		jwtManager:  auth.NewJWTManager(authCfg.JWTSecret, authCfg.AccessTokenDuration),
		config:      cfg,
		authConfig:  authCfg,
		rateLimiter: NewRateLimiter(120, time.Minute),
		startedAt:   time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.FullPath()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   true,
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	{
		api.POST("/auth/login", s.handleLogin)

		knowledgeGroup := api.Group("/knowledge")
		{
			knowledgeGroup.GET("/stats", s.handleKnowledgeStats)
			knowledgeGroup.GET("/instruments", s.handleListInstruments)
			knowledgeGroup.GET("/instruments/:symbol", s.handleGetInstrument)
			knowledgeGroup.GET("/patterns", s.handleListPatterns)
			knowledgeGroup.GET("/patterns/:id/modifier", s.handleGetPatternModifier)
			knowledgeGroup.GET("/rules", s.handleListRules)
			knowledgeGroup.GET("/activity", s.handleRecentActivity)
			knowledgeGroup.GET("/modifier/:symbol", s.handleGetModifier)
			knowledgeGroup.POST("/rules/check", s.handleCheckRules)
		}

		api.GET("/adaptations", s.handleListAdaptations)
		api.GET("/adaptations/effectiveness", s.handleEffectivenessStats)
		api.GET("/reflection/status", s.handleReflectionStatus)
		api.GET("/learning/status", s.handleLearningStatus)

		// Mutating operations require an operator token
		protected := api.Group("")
		protected.Use(auth.Middleware(s.jwtManager))
		{
			protected.POST("/trades/closed", s.handleTradeClosed)
			protected.POST("/reflection/run", s.handleRunReflection)
			protected.POST("/knowledge/instruments/:symbol/blacklist", s.handleBlacklist)
			protected.DELETE("/knowledge/instruments/:symbol/blacklist", s.handleUnblacklist)
			protected.POST("/knowledge/patterns/:id/deactivate", s.handleDeactivatePattern)
			protected.POST("/knowledge/patterns/:id/reactivate", s.handleReactivatePattern)
		}
	}
}

// Start begins serving HTTP requests. Blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dbHealthy := s.repo.HealthCheck(ctx) == nil
	status := "healthy"
	code := http.StatusOK
	if !dbHealthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	database := "healthy"
	if !dbHealthy {
		database = "unhealthy"
	}

	c.JSON(code, gin.H{
		"status":    status,
		"database":  database,
		"cache":     s.cacheHealth(),
		"learning":  s.service.IsRunning(),
		"knowledge": s.store.GetHealth(),
		"components": gin.H{
			"scorer":        s.scorer.GetHealth(),
			"patterns":      s.library.GetHealth(),
			"updater":       s.updater.GetHealth(),
			"reflection":    s.reflection.GetHealth(),
			"adaptation":    s.adaptations.GetHealth(),
			"effectiveness": s.monitor.GetHealth(),
			"service":       s.service.GetHealth(),
		},
		"uptime": time.Since(s.startedAt).String(),
	})
}

func (s *Server) cacheHealth() string {
	if s.cacheSvc == nil {
		return "disabled"
	}
	if s.cacheSvc.IsHealthy() {
		return "healthy"
	}
	return "degraded"
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
