package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Insight types the reflection prompt asks for
const (
	InsightInstrument = "instrument"
	InsightPattern    = "pattern"
	InsightTime       = "time"
	InsightRegime     = "regime"
	InsightExit       = "exit"
	InsightGeneral    = "general"
)

// Insight categories
const (
	CategoryOpportunity = "opportunity"
	CategoryProblem     = "problem"
	CategoryObservation = "observation"
)

// Insight is one observation returned by the reflection model. Evidence is
// a key-value map of the numbers the model based the observation on, for
// example {"trades": 8, "win_rate": 0.12, "total_pnl": -21.4}.
type Insight struct {
	InsightType     string                 `json:"insight_type"`
	Category        string                 `json:"category"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	Evidence        map[string]interface{} `json:"evidence"`
	SuggestedAction string                 `json:"suggested_action"`
	Confidence      float64                `json:"confidence"`
}

// EvidenceFloat reads a numeric evidence value, tolerating JSON numbers,
// integers, and numeric strings.
func (i *Insight) EvidenceFloat(keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := i.Evidence[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// EvidenceInt reads an integer evidence value.
func (i *Insight) EvidenceInt(keys ...string) (int, bool) {
	f, ok := i.EvidenceFloat(keys...)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// ReflectionResponse is the structured payload the model must return
type ReflectionResponse struct {
	Summary  string    `json:"summary"`
	Insights []Insight `json:"insights"`
}

// stripMarkdownCodeBlock removes markdown code block formatting from LLM responses
// The API sometimes wraps JSON responses in ```json ... ``` despite instructions
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)

	re := regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")
	if matches := re.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return response
}

// ParseReflectionResponse decodes the model output into insights. A null
// suggested_action decodes to the empty string; callers treat that as "no
// action proposed".
func ParseReflectionResponse(raw string) (*ReflectionResponse, error) {
	clean := stripMarkdownCodeBlock(raw)

	var resp ReflectionResponse
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse reflection response: %w", err)
	}
	return &resp, nil
}
