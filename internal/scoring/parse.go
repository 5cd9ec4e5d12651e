package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrScoreUnavailable marks a reply that produced no usable scores: malformed
// JSON, missing fields, or out-of-range values. Callers count it as a
// per-record error and move on; it is never a crash.
var ErrScoreUnavailable = errors.New("no score available")

// ScoreResult carries the agent's two confidence scores, each in [0, 1].
type ScoreResult struct {
	Relevance float64
	Currency  float64
}

// unwrapCodeFence strips a leading and trailing triple-backtick fence,
// optionally language-tagged, from the agent's reply. Replies without a
// fence pass through unchanged.
func unwrapCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	// Drop the optional language tag on the opening fence line.
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(trimmed[:idx])
		if firstLine == "" || isLanguageTag(firstLine) {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

func isLanguageTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return len(s) <= 16
}

// parseScores extracts relevance_score and currency_score from the agent's
// reply text. A value outside [0, 1] invalidates the reply; scores are
// discarded, never clamped.
func parseScores(reply string) (ScoreResult, error) {
	body := unwrapCodeFence(reply)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return ScoreResult{}, fmt.Errorf("%w: parse reply: %v", ErrScoreUnavailable, err)
	}

	relevance, err := scoreField(fields, "relevance_score")
	if err != nil {
		return ScoreResult{}, err
	}
	currency, err := scoreField(fields, "currency_score")
	if err != nil {
		return ScoreResult{}, err
	}
	return ScoreResult{Relevance: relevance, Currency: currency}, nil
}

// scoreField coerces the named field to a float and range-checks it. Numbers
// serialized as strings are accepted; anything else is not.
func scoreField(fields map[string]json.RawMessage, name string) (float64, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrScoreUnavailable, name)
	}

	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("%w: %s is not a number", ErrScoreUnavailable, name)
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s is not a number", ErrScoreUnavailable, name)
		}
		value = parsed
	}

	if value < 0 || value > 1 {
		return 0, fmt.Errorf("%w: %s %.3f out of range", ErrScoreUnavailable, name, value)
	}
	return value, nil
}
