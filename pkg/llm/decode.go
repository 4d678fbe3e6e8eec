package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeStrict parses a model response that should carry exactly one JSON
// document. Markdown code fences and prose around the document are
// tolerated; anything that still fails to parse is an error the caller
// classifies as a parse failure.
func DecodeStrict[T any](text string) (T, error) {
	var out T

	cleaned := stripCodeFences(text)
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out, nil
	}

	// Models occasionally wrap the document in prose. Retry on the outermost
	// object boundaries before giving up.
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &out); err == nil {
			return out, nil
		}
	}

	var zero T
	return zero, fmt.Errorf("%w: %.120s", ErrNotJSON, text)
}

// stripCodeFences removes a surrounding ```json ... ``` block if present.
func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	// The opening fence may carry a language tag on the same line.
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
