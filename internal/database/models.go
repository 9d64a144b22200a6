package database

import "time"

// ClosedTrade is one completed trade as recorded for the learning loop.
// HourOfDay and DayOfWeek are captured at entry time so time-of-day analysis
// does not depend on the exit timestamp.
type ClosedTrade struct {
	ID           int64     `json:"id"`
	Symbol       string    `json:"symbol"`
	PnL          float64   `json:"pnl"`
	EntryTime    time.Time `json:"entry_time"`
	ExitTime     time.Time `json:"exit_time"`
	ExitReason   string    `json:"exit_reason"`
	HourOfDay    int       `json:"hour_of_day"`
	DayOfWeek    int       `json:"day_of_week"`
	BTCTrend     string    `json:"btc_trend"`
	PatternID    string    `json:"pattern_id,omitempty"`
	MissedProfit float64   `json:"missed_profit"`
}

// AdaptationRecord is one applied adaptation with the performance snapshot
// taken before it, and later the snapshot and rating measured after it.
type AdaptationRecord struct {
	ID                  string                 `json:"id"`
	Timestamp           time.Time              `json:"timestamp"`
	InsightType         string                 `json:"insight_type"`
	InsightTitle        string                 `json:"insight_title"`
	Action              string                 `json:"action"`
	Target              string                 `json:"target"`
	Description         string                 `json:"description"`
	PreMetrics          map[string]interface{} `json:"pre_metrics,omitempty"`
	PostMetrics         map[string]interface{} `json:"post_metrics,omitempty"`
	Confidence          float64                `json:"confidence"`
	Evidence            map[string]interface{} `json:"evidence,omitempty"`
	EffectivenessRating string                 `json:"effectiveness_rating,omitempty"`
	MeasuredAt          *time.Time             `json:"measured_at,omitempty"`
	RolledBack          bool                   `json:"rolled_back"`
}

// ActivityEntry is one line in the learning audit trail
type ActivityEntry struct {
	ID        int64                  `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Category  string                 `json:"category"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}
