package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTradeClosed          EventType = "TRADE_CLOSED"
	EventStatusChanged        EventType = "STATUS_CHANGED"
	EventPatternUpdated       EventType = "PATTERN_UPDATED"
	EventPatternDeactivated   EventType = "PATTERN_DEACTIVATED"
	EventRuleCreated          EventType = "RULE_CREATED"
	EventReflectionCompleted  EventType = "REFLECTION_COMPLETED"
	EventAdaptationApplied    EventType = "ADAPTATION_APPLIED"
	EventAdaptationRolledBack EventType = "ADAPTATION_ROLLED_BACK"
	EventEffectivenessRated   EventType = "EFFECTIVENESS_RATED"
	EventBotStarted           EventType = "BOT_STARTED"
	EventBotStopped           EventType = "BOT_STOPPED"
	EventError                EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(symbol string, pnl float64, exitReason, patternID string) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"pnl":         pnl,
			"exit_reason": exitReason,
			"pattern_id":  patternID,
		},
	})
}

// PublishStatusChanged publishes an instrument status transition
func (eb *EventBus) PublishStatusChanged(symbol, oldStatus, newStatus, reason string) {
	eb.Publish(Event{
		Type: EventStatusChanged,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"old_status": oldStatus,
			"new_status": newStatus,
			"reason":     reason,
		},
	})
}

// PublishPatternUpdated publishes a pattern confidence update
func (eb *EventBus) PublishPatternUpdated(patternID string, confidence float64, active bool) {
	eb.Publish(Event{
		Type: EventPatternUpdated,
		Data: map[string]interface{}{
			"pattern_id": patternID,
			"confidence": confidence,
			"active":     active,
		},
	})
}

// PublishAdaptationApplied publishes an applied adaptation
func (eb *EventBus) PublishAdaptationApplied(adaptationID, action, target string, confidence float64) {
	eb.Publish(Event{
		Type: EventAdaptationApplied,
		Data: map[string]interface{}{
			"adaptation_id": adaptationID,
			"action":        action,
			"target":        target,
			"confidence":    confidence,
		},
	})
}

// PublishAdaptationRolledBack publishes a rollback
func (eb *EventBus) PublishAdaptationRolledBack(adaptationID, action, target, reason string) {
	eb.Publish(Event{
		Type: EventAdaptationRolledBack,
		Data: map[string]interface{}{
			"adaptation_id": adaptationID,
			"action":        action,
			"target":        target,
			"reason":        reason,
		},
	})
}

// PublishReflectionCompleted publishes a completed reflection cycle
func (eb *EventBus) PublishReflectionCompleted(tradesAnalyzed, insightCount, adaptationCount int) {
	eb.Publish(Event{
		Type: EventReflectionCompleted,
		Data: map[string]interface{}{
			"trades_analyzed": tradesAnalyzed,
			"insights":        insightCount,
			"adaptations":     adaptationCount,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
