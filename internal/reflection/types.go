package reflection

import (
	"time"

	"adaptive-trading-bot/internal/ai/llm"
	"adaptive-trading-bot/internal/database"
)

// Result is the outcome of one reflection cycle
type Result struct {
	ID             string                         `json:"id"`
	StartedAt      time.Time                      `json:"started_at"`
	CompletedAt    time.Time                      `json:"completed_at"`
	WindowHours    int                            `json:"window_hours"`
	TradesAnalyzed int                            `json:"trades_analyzed"`
	Summary        string                         `json:"summary"`
	Insights       []llm.Insight                  `json:"insights"`
	Adaptations    []*database.AdaptationRecord   `json:"adaptations,omitempty"`
	Skipped        bool                           `json:"skipped"`
	SkipReason     string                         `json:"skip_reason,omitempty"`
}

// InstrumentStats aggregates trades for one symbol
type InstrumentStats struct {
	Symbol   string
	Trades   int
	Wins     int
	TotalPnL float64
	WinRate  float64
	Trend    string
}

// PatternStats aggregates trades for one pattern id
type PatternStats struct {
	PatternID string
	Trades    int
	Wins      int
	TotalPnL  float64
	WinRate   float64
}

// BucketStats aggregates trades for one time or regime bucket
type BucketStats struct {
	Key      string
	Trades   int
	Wins     int
	TotalPnL float64
	WinRate  float64
}

// TimeStats holds the time-of-day and day-of-week breakdown
type TimeStats struct {
	ByHour         map[int]*BucketStats
	ByDay          map[int]*BucketStats
	BestHour       int
	BestHourPnL    float64
	WorstHour      int
	WorstHourPnL   float64
	HasHourExtreme bool
	WeekdayPnL     float64
	WeekdayTrades  int
	WeekdayWins    int
	WeekdayWinRate float64
	WeekendPnL     float64
	WeekendTrades  int
	WeekendWins    int
	WeekendWinRate float64
}

// RegimeStats holds the per-market-trend breakdown
type RegimeStats struct {
	ByRegime    map[string]*BucketStats
	BestRegime  string
	WorstRegime string
}

// ExitStats holds the exit-reason breakdown
type ExitStats struct {
	ByReason        map[string]*BucketStats
	EarlyExits      int
	AvgMissedProfit float64
}
