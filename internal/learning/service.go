package learning

import (
	"context"
	"sync"
	"time"

	"adaptive-trading-bot/internal/effectiveness"
	"adaptive-trading-bot/internal/logging"
	"adaptive-trading-bot/internal/reflection"
)

// ServiceConfig controls the background loop cadence
type ServiceConfig struct {
	TickInterval          time.Duration
	EffectivenessInterval time.Duration
}

// Service drives the slow half of the learning loop: it checks the
// reflection triggers on every tick and runs effectiveness measurement on
// its own cadence. The fast half (QuickUpdater) runs inline on trade close
// and does not go through this loop.
type Service struct {
	reflection *reflection.Engine
	monitor    *effectiveness.Monitor
	logger     *logging.Logger
	config     ServiceConfig

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastCheck time.Time
}

// NewService creates the background learning service
func NewService(refl *reflection.Engine, monitor *effectiveness.Monitor, logger *logging.Logger, config ServiceConfig) *Service {
	return &Service{
		reflection: refl,
		monitor:    monitor,
		logger:     logger.WithComponent("learning_service"),
		config:     config,
	}
}

// Start launches the background loop. Calling Start on a running service is
// a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(loopCtx)
	s.logger.Info("Learning service started",
		"tick_interval", s.config.TickInterval.String(),
		"effectiveness_interval", s.config.EffectivenessInterval.String())
}

// Stop shuts the loop down and waits for the current tick to finish
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("Learning service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	lastEffectiveness := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.lastCheck = time.Now()
			s.mu.Unlock()

			if s.reflection.ShouldReflect() {
				if _, err := s.reflection.RunCycle(ctx); err != nil {
					s.logger.Error("Reflection cycle failed", "error", err)
				}
			}

			if time.Since(lastEffectiveness) >= s.config.EffectivenessInterval {
				lastEffectiveness = time.Now()
				if n, err := s.monitor.MeasurePending(ctx); err != nil {
					s.logger.Error("Effectiveness measurement failed", "error", err)
				} else if n > 0 {
					s.logger.Info("Adaptations measured", "count", n)
				}
			}
		}
	}
}

// IsRunning reports whether the loop is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetStatus returns service status for the API
func (s *Service) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastCheck interface{}
	if !s.lastCheck.IsZero() {
		lastCheck = s.lastCheck
	}
	return map[string]interface{}{
		"running":    s.running,
		"last_check": lastCheck,
	}
}

// GetHealth reports service health for operational monitoring
func (s *Service) GetHealth() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := "healthy"
	if !s.running {
		status = "stopped"
	}
	var lastCheck interface{}
	if !s.lastCheck.IsZero() {
		lastCheck = s.lastCheck
	}
	return map[string]interface{}{
		"status":        status,
		"last_activity": lastCheck,
		"metrics": map[string]interface{}{
			"tick_seconds":                 int(s.config.TickInterval.Seconds()),
			"effectiveness_interval_hours": s.config.EffectivenessInterval.Hours(),
		},
	}
}
