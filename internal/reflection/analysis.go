package reflection

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"adaptive-trading-bot/internal/database"
)

// Trend tagging needs enough trades in each half of the window to mean
// anything
const minTradesForTrend = 4

// AnalyzeByInstrument groups trades per symbol and tags each with a trend by
// comparing the first half of its trades against the second half. Trades are
// expected oldest first.
func AnalyzeByInstrument(trades []*database.ClosedTrade) map[string]*InstrumentStats {
	bySymbol := make(map[string][]*database.ClosedTrade)
	for _, t := range trades {
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}

	out := make(map[string]*InstrumentStats, len(bySymbol))
	for symbol, list := range bySymbol {
		stats := &InstrumentStats{Symbol: symbol}
		for _, t := range list {
			stats.Trades++
			stats.TotalPnL += t.PnL
			if t.PnL > 0 {
				stats.Wins++
			}
		}
		stats.WinRate = float64(stats.Wins) / float64(stats.Trades)
		stats.Trend = instrumentTrend(list)
		out[symbol] = stats
	}
	return out
}

// instrumentTrend compares first-half P&L against second-half P&L. A change
// of more than 20% in either direction tags the instrument.
func instrumentTrend(list []*database.ClosedTrade) string {
	if len(list) < minTradesForTrend {
		return "insufficient"
	}
	half := len(list) / 2
	first := totalPnL(list[:half])
	second := totalPnL(list[half:])

	if first == 0 {
		switch {
		case second > 0:
			return "improving"
		case second < 0:
			return "declining"
		default:
			return "stable"
		}
	}

	change := (second - first) / math.Abs(first)
	switch {
	case change > 0.20:
		return "improving"
	case change < -0.20:
		return "declining"
	default:
		return "stable"
	}
}

func totalPnL(list []*database.ClosedTrade) float64 {
	var sum float64
	for _, t := range list {
		sum += t.PnL
	}
	return sum
}

func winRate(list []*database.ClosedTrade) float64 {
	if len(list) == 0 {
		return 0
	}
	wins := 0
	for _, t := range list {
		if t.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(list))
}

// AnalyzeByPattern groups trades by the pattern that triggered them. Trades
// with no pattern go into the "unknown" bucket.
func AnalyzeByPattern(trades []*database.ClosedTrade) map[string]*PatternStats {
	out := make(map[string]*PatternStats)
	for _, t := range trades {
		id := t.PatternID
		if id == "" {
			id = "unknown"
		}
		stats, ok := out[id]
		if !ok {
			stats = &PatternStats{PatternID: id}
			out[id] = stats
		}
		stats.Trades++
		stats.TotalPnL += t.PnL
		if t.PnL > 0 {
			stats.Wins++
		}
	}
	for _, stats := range out {
		stats.WinRate = float64(stats.Wins) / float64(stats.Trades)
	}
	return out
}

// AnalyzeByTime buckets trades by entry hour and day of week. Best and worst
// hours only consider buckets with at least two trades.
func AnalyzeByTime(trades []*database.ClosedTrade) *TimeStats {
	stats := &TimeStats{
		ByHour: make(map[int]*BucketStats),
		ByDay:  make(map[int]*BucketStats),
	}
	for _, t := range trades {
		addBucket(stats.ByHour, t.HourOfDay, fmt.Sprintf("%02d:00", t.HourOfDay), t.PnL)
		addBucket(stats.ByDay, t.DayOfWeek, dayName(t.DayOfWeek), t.PnL)

		// Saturday and Sunday
		if t.DayOfWeek == 5 || t.DayOfWeek == 6 {
			stats.WeekendTrades++
			stats.WeekendPnL += t.PnL
			if t.PnL > 0 {
				stats.WeekendWins++
			}
		} else {
			stats.WeekdayTrades++
			stats.WeekdayPnL += t.PnL
			if t.PnL > 0 {
				stats.WeekdayWins++
			}
		}
	}
	if stats.WeekendTrades > 0 {
		stats.WeekendWinRate = float64(stats.WeekendWins) / float64(stats.WeekendTrades)
	}
	if stats.WeekdayTrades > 0 {
		stats.WeekdayWinRate = float64(stats.WeekdayWins) / float64(stats.WeekdayTrades)
	}

	first := true
	for hour, b := range stats.ByHour {
		if b.Trades < 2 {
			continue
		}
		if first || b.TotalPnL > stats.BestHourPnL {
			stats.BestHour = hour
			stats.BestHourPnL = b.TotalPnL
		}
		if first || b.TotalPnL < stats.WorstHourPnL {
			stats.WorstHour = hour
			stats.WorstHourPnL = b.TotalPnL
		}
		first = false
		stats.HasHourExtreme = true
	}
	return stats
}

func addBucket(m map[int]*BucketStats, key int, label string, pnl float64) {
	b, ok := m[key]
	if !ok {
		b = &BucketStats{Key: label}
		m[key] = b
	}
	b.Trades++
	b.TotalPnL += pnl
	if pnl > 0 {
		b.Wins++
	}
	b.WinRate = float64(b.Wins) / float64(b.Trades)
}

func dayName(d int) string {
	names := []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
	if d >= 0 && d < len(names) {
		return names[d]
	}
	return fmt.Sprintf("day-%d", d)
}

// AnalyzeByRegime buckets trades by the BTC trend at entry. Best and worst
// regimes only consider buckets with at least two trades.
func AnalyzeByRegime(trades []*database.ClosedTrade) *RegimeStats {
	stats := &RegimeStats{ByRegime: make(map[string]*BucketStats)}
	for _, t := range trades {
		regime := t.BTCTrend
		if regime == "" {
			regime = "unknown"
		}
		b, ok := stats.ByRegime[regime]
		if !ok {
			b = &BucketStats{Key: regime}
			stats.ByRegime[regime] = b
		}
		b.Trades++
		b.TotalPnL += t.PnL
		if t.PnL > 0 {
			b.Wins++
		}
		b.WinRate = float64(b.Wins) / float64(b.Trades)
	}

	best, worst := "", ""
	var bestPnL, worstPnL float64
	for regime, b := range stats.ByRegime {
		if b.Trades < 2 {
			continue
		}
		if best == "" || b.TotalPnL > bestPnL {
			best, bestPnL = regime, b.TotalPnL
		}
		if worst == "" || b.TotalPnL < worstPnL {
			worst, worstPnL = regime, b.TotalPnL
		}
	}
	stats.BestRegime = best
	stats.WorstRegime = worst
	return stats
}

// AnalyzeByExit buckets trades by exit reason and counts early exits, where
// an early exit is a trade that left profit on the table.
func AnalyzeByExit(trades []*database.ClosedTrade) *ExitStats {
	stats := &ExitStats{ByReason: make(map[string]*BucketStats)}
	var missedTotal float64
	for _, t := range trades {
		reason := t.ExitReason
		if reason == "" {
			reason = "unknown"
		}
		b, ok := stats.ByReason[reason]
		if !ok {
			b = &BucketStats{Key: reason}
			stats.ByReason[reason] = b
		}
		b.Trades++
		b.TotalPnL += t.PnL
		if t.PnL > 0 {
			b.Wins++
		}
		b.WinRate = float64(b.Wins) / float64(b.Trades)

		if t.MissedProfit > 0 {
			stats.EarlyExits++
			missedTotal += t.MissedProfit
		}
	}
	if stats.EarlyExits > 0 {
		stats.AvgMissedProfit = missedTotal / float64(stats.EarlyExits)
	}
	return stats
}

// ============================================================================
// PROMPT FORMATTING
// ============================================================================

// FormatInstrumentStats renders the per-symbol breakdown for the prompt
func FormatInstrumentStats(stats map[string]*InstrumentStats) string {
	if len(stats) == 0 {
		return ""
	}
	symbols := make([]string, 0, len(stats))
	for s := range stats {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var b strings.Builder
	for _, symbol := range symbols {
		s := stats[symbol]
		fmt.Fprintf(&b, "%s: %d trades, %.0f%% win rate, $%.2f PnL, trend %s\n",
			s.Symbol, s.Trades, s.WinRate*100, s.TotalPnL, s.Trend)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatPatternStats renders the per-pattern breakdown for the prompt
func FormatPatternStats(stats map[string]*PatternStats) string {
	if len(stats) == 0 {
		return ""
	}
	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		s := stats[id]
		fmt.Fprintf(&b, "pattern %s: %d trades, %.0f%% win rate, $%.2f PnL\n",
			s.PatternID, s.Trades, s.WinRate*100, s.TotalPnL)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatTimeStats renders the time breakdown for the prompt
func FormatTimeStats(stats *TimeStats) string {
	var b strings.Builder
	if stats.HasHourExtreme {
		fmt.Fprintf(&b, "Best hour: %02d:00 ($%.2f), worst hour: %02d:00 ($%.2f)\n",
			stats.BestHour, stats.BestHourPnL, stats.WorstHour, stats.WorstHourPnL)
	}
	fmt.Fprintf(&b, "Weekday: %d trades, %.0f%% win rate, $%.2f; weekend: %d trades, %.0f%% win rate, $%.2f\n",
		stats.WeekdayTrades, stats.WeekdayWinRate*100, stats.WeekdayPnL,
		stats.WeekendTrades, stats.WeekendWinRate*100, stats.WeekendPnL)

	days := make([]int, 0, len(stats.ByDay))
	for d := range stats.ByDay {
		days = append(days, d)
	}
	sort.Ints(days)
	for _, d := range days {
		bucket := stats.ByDay[d]
		fmt.Fprintf(&b, "%s: %d trades, %.0f%% win rate, $%.2f PnL\n",
			bucket.Key, bucket.Trades, bucket.WinRate*100, bucket.TotalPnL)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatRegimeStats renders the market-regime breakdown for the prompt
func FormatRegimeStats(stats *RegimeStats) string {
	if len(stats.ByRegime) == 0 {
		return ""
	}
	regimes := make([]string, 0, len(stats.ByRegime))
	for r := range stats.ByRegime {
		regimes = append(regimes, r)
	}
	sort.Strings(regimes)

	var b strings.Builder
	for _, r := range regimes {
		bucket := stats.ByRegime[r]
		fmt.Fprintf(&b, "BTC %s: %d trades, %.0f%% win rate, $%.2f PnL\n",
			r, bucket.Trades, bucket.WinRate*100, bucket.TotalPnL)
	}
	if stats.BestRegime != "" {
		fmt.Fprintf(&b, "Best regime: %s, worst regime: %s\n", stats.BestRegime, stats.WorstRegime)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatExitStats renders the exit-reason breakdown for the prompt
func FormatExitStats(stats *ExitStats) string {
	if len(stats.ByReason) == 0 {
		return ""
	}
	reasons := make([]string, 0, len(stats.ByReason))
	for r := range stats.ByReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)

	var b strings.Builder
	for _, r := range reasons {
		bucket := stats.ByReason[r]
		avg := bucket.TotalPnL / float64(bucket.Trades)
		fmt.Fprintf(&b, "%s: %d trades, avg $%.2f\n", r, bucket.Trades, avg)
	}
	if stats.EarlyExits > 0 {
		fmt.Fprintf(&b, "Early exits: %d, avg missed profit $%.2f\n",
			stats.EarlyExits, stats.AvgMissedProfit)
	}
	return strings.TrimRight(b.String(), "\n")
}
