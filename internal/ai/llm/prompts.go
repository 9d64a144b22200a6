package llm

import (
	"fmt"
	"strings"
)

// ReflectionSystemPrompt instructs the model to act as a trading performance
// reviewer and return machine-readable insights only.
const ReflectionSystemPrompt = `You are a trading performance analyst reviewing the recent results of an automated crypto trading bot. You are given aggregated statistics broken down by instrument, pattern, time of day, market regime, and exit reason.

Identify what is working and what is not, and propose concrete adjustments.

Respond with ONLY valid JSON in exactly this format, no other text:
{
  "summary": "one paragraph overview of the period",
  "insights": [
    {
      "insight_type": "instrument|pattern|time|regime|exit|general",
      "category": "opportunity|problem|observation",
      "title": "short title naming the subject (include the symbol for instrument insights)",
      "description": "what the data shows",
      "evidence": {"trades": 0, "win_rate": 0.0, "total_pnl": 0.0},
      "suggested_action": "blacklist_instrument|favor_instrument|deactivate_pattern|create_rule or null",
      "confidence": 0.0
    }
  ]
}

Rules:
- confidence is 0.0 to 1.0 and must reflect sample size: small samples get low confidence
- evidence is a key-value object holding the numbers the insight rests on, always including the trade count as "trades"
- suggested_action must be null unless the evidence is strong enough to act on
- do not invent data that is not in the input
- an empty insights array is a valid answer when nothing stands out`

// ReflectionInput carries the formatted analysis sections for the prompt
type ReflectionInput struct {
	WindowHours     int
	TotalTrades     int
	WinRate         float64
	TotalPnL        float64
	InstrumentStats string
	PatternStats    string
	TimingStats     string
	RegimeStats     string
	ExitStats       string
}

// BuildReflectionPrompt renders the user prompt for a reflection cycle
func BuildReflectionPrompt(in ReflectionInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Trading results for the last %d hours:\n", in.WindowHours)
	fmt.Fprintf(&b, "Total trades: %d, win rate: %.1f%%, total PnL: $%.2f\n\n",
		in.TotalTrades, in.WinRate*100, in.TotalPnL)

	sections := []struct {
		title string
		body  string
	}{
		{"BY INSTRUMENT", in.InstrumentStats},
		{"BY PATTERN", in.PatternStats},
		{"BY TIME", in.TimingStats},
		{"BY MARKET REGIME", in.RegimeStats},
		{"BY EXIT REASON", in.ExitStats},
	}
	for _, s := range sections {
		if s.body == "" {
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", s.title, s.body)
	}

	b.WriteString("Analyze these results and respond with the JSON format specified.")
	return b.String()
}
