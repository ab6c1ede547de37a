package workflow

import (
	"encoding/json"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/tidwall/gjson"
)

// decodeObject pulls one JSON object out of raw LM output and unmarshals it
// into dst. Models wrap objects in prose, code fences, or trailing commentary,
// so we try the largest balanced brace span first and shrink from there. A
// repair pass handles trailing commas and unquoted keys before giving up.
func decodeObject(text string, dst any) bool {
	for _, candidate := range braceSpans(text) {
		if json.Unmarshal([]byte(candidate), dst) == nil {
			return true
		}
		if repaired, err := jsonrepair.RepairJSON(candidate); err == nil {
			if json.Unmarshal([]byte(repaired), dst) == nil {
				return true
			}
		}
	}
	return false
}

// reasoningKeys is the minimum a deep reasoning payload must contain to be
// worth keeping.
var reasoningKeys = []string{"why", "how", "what_if", "so_what"}

// decodeReasoning is decodeObject with an extra gate: the candidate must
// carry at least one reasoning section, otherwise a stray JSON object in the
// prose (an example, a citation blob) would silently win.
func decodeReasoning(text string, dst *DeepReasoning) bool {
	for _, candidate := range braceSpans(text) {
		payload := candidate
		if !gjson.Valid(payload) {
			repaired, err := jsonrepair.RepairJSON(candidate)
			if err != nil {
				continue
			}
			payload = repaired
		}
		if !hasAnyKey(payload, reasoningKeys) {
			continue
		}
		var out DeepReasoning
		if json.Unmarshal([]byte(payload), &out) == nil {
			*dst = out
			return true
		}
	}
	return false
}

func hasAnyKey(payload string, keys []string) bool {
	for _, k := range keys {
		if gjson.Get(payload, k).Exists() {
			return true
		}
	}
	return false
}

// braceSpans returns balanced {...} spans in text ordered largest first.
// Nested objects produce their own spans, so a failed outer parse can still
// recover an inner one.
func braceSpans(text string) []string {
	var spans []string
	var stack []int
	inString := false
	escaped := false
	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			stack = append(stack, i)
		case '}':
			if len(stack) > 0 {
				start := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				spans = append(spans, text[start:i+1])
			}
		}
	}
	// longest first; spans from the same nest arrive inner-before-outer
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			if len(spans[j]) > len(spans[i]) {
				spans[i], spans[j] = spans[j], spans[i]
			}
		}
	}
	return spans
}
