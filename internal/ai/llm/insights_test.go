package llm

import (
	"strings"
	"testing"
)

func TestStripMarkdownCodeBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json fenced block",
			input:    "```json\n{\"summary\": \"ok\"}\n```",
			expected: `{"summary": "ok"}`,
		},
		{
			name:     "bare fenced block",
			input:    "```\n{\"summary\": \"ok\"}\n```",
			expected: `{"summary": "ok"}`,
		},
		{
			name:     "unfenced passthrough",
			input:    `{"summary": "ok"}`,
			expected: `{"summary": "ok"}`,
		},
		{
			name:     "surrounding whitespace",
			input:    "  \n```json\n{\"a\": 1}\n```\n  ",
			expected: `{"a": 1}`,
		},
		{
			name:     "fence without trailing newline before close",
			input:    "```json\n{\"a\": 1}```",
			expected: `{"a": 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stripMarkdownCodeBlock(tt.input)
			if got != tt.expected {
				t.Errorf("stripMarkdownCodeBlock(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseReflectionResponse(t *testing.T) {
	raw := "```json\n" + `{
		"summary": "Mixed session with weak afternoon performance.",
		"insights": [
			{
				"insight_type": "instrument",
				"category": "problem",
				"title": "SOLUSDT underperforming",
				"description": "SOLUSDT lost money on 6 of 8 trades.",
				"evidence": {"trades": 8, "win_rate": 0.25, "total_pnl": -14.2},
				"suggested_action": "blacklist_instrument",
				"confidence": 0.82
			},
			{
				"insight_type": "time",
				"category": "observation",
				"title": "No clear hourly edge",
				"description": "Win rates were flat across hours.",
				"evidence": {"hour_spread_points": 5},
				"suggested_action": null,
				"confidence": 0.4
			}
		]
	}` + "\n```"

	resp, err := ParseReflectionResponse(raw)
	if err != nil {
		t.Fatalf("ParseReflectionResponse returned error: %v", err)
	}
	if resp.Summary == "" {
		t.Error("expected non-empty summary")
	}
	if len(resp.Insights) != 2 {
		t.Fatalf("expected 2 insights, got %d", len(resp.Insights))
	}

	first := resp.Insights[0]
	if first.InsightType != InsightInstrument {
		t.Errorf("expected insight_type %q, got %q", InsightInstrument, first.InsightType)
	}
	if first.SuggestedAction != "blacklist_instrument" {
		t.Errorf("expected suggested_action blacklist_instrument, got %q", first.SuggestedAction)
	}
	if first.Confidence != 0.82 {
		t.Errorf("expected confidence 0.82, got %f", first.Confidence)
	}
	if trades, ok := first.EvidenceInt("trades"); !ok || trades != 8 {
		t.Errorf("expected evidence trades 8, got %d (ok=%v)", trades, ok)
	}
	if wr, ok := first.EvidenceFloat("win_rate"); !ok || wr != 0.25 {
		t.Errorf("expected evidence win_rate 0.25, got %f (ok=%v)", wr, ok)
	}

	// null suggested_action decodes to the empty string
	if resp.Insights[1].SuggestedAction != "" {
		t.Errorf("expected empty suggested_action for null, got %q", resp.Insights[1].SuggestedAction)
	}
}

func TestEvidenceLookupTolerantOfTypes(t *testing.T) {
	in := Insight{Evidence: map[string]interface{}{
		"trades":    float64(12),
		"win_rate":  "0.55",
		"total_pnl": 45.0,
	}}

	if n, ok := in.EvidenceInt("trade_count", "trades"); !ok || n != 12 {
		t.Errorf("expected trades 12, got %d (ok=%v)", n, ok)
	}
	if f, ok := in.EvidenceFloat("win_rate"); !ok || f != 0.55 {
		t.Errorf("expected win_rate 0.55 from string value, got %f (ok=%v)", f, ok)
	}
	if _, ok := in.EvidenceFloat("missing"); ok {
		t.Error("expected lookup miss for absent key")
	}
}

func TestParseReflectionResponseEmptyInsights(t *testing.T) {
	resp, err := ParseReflectionResponse(`{"summary": "Quiet day, nothing actionable.", "insights": []}`)
	if err != nil {
		t.Fatalf("ParseReflectionResponse returned error: %v", err)
	}
	if len(resp.Insights) != 0 {
		t.Errorf("expected 0 insights, got %d", len(resp.Insights))
	}
}

func TestParseReflectionResponseMalformed(t *testing.T) {
	_, err := ParseReflectionResponse("I think the bot should trade less on Fridays.")
	if err == nil {
		t.Fatal("expected error for non-JSON response")
	}
	if !strings.Contains(err.Error(), "failed to parse reflection response") {
		t.Errorf("unexpected error message: %v", err)
	}
}
