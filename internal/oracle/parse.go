// File: internal/oracle/parse.go
package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// fencedObjectRegex extracts a JSON object wrapped in a markdown fence.
	fencedObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// fencedArrayRegex extracts a JSON array wrapped in a markdown fence.
	fencedArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
	// codeFenceRegex extracts any fenced block regardless of language tag.
	codeFenceRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")
)

// ParseJSONResponse parses an oracle response into T. Models routinely
// wrap JSON in markdown fences or conversational prose; both are
// tolerated. The zero-value heuristics here never panic on garbage input.
func ParseJSONResponse[T any](response string) (*T, error) {
	candidate := extractJSON(strings.TrimSpace(response))

	var result T
	if err := json.Unmarshal([]byte(candidate), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal oracle JSON response: %w (extracted: %s)", err, Truncate(candidate, 500))
	}
	return &result, nil
}

// extractJSON pulls the most plausible JSON payload out of a raw
// response: a fenced block first, then the widest brace/bracket span
// inside surrounding prose, otherwise the input unchanged.
func extractJSON(response string) string {
	if strings.HasPrefix(response, "```") {
		if m := fencedObjectRegex.FindStringSubmatch(response); len(m) > 1 {
			return m[1]
		}
		if m := fencedArrayRegex.FindStringSubmatch(response); len(m) > 1 {
			return m[1]
		}
	}
	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	if span := widestSpan(response, '{', '}'); span != "" {
		return span
	}
	if span := widestSpan(response, '[', ']'); span != "" {
		return span
	}
	return response
}

// widestSpan returns the substring between the first open and the last
// close delimiter, or "" when no well-ordered pair exists.
func widestSpan(s string, open, close byte) string {
	first := strings.IndexByte(s, open)
	last := strings.LastIndexByte(s, close)
	if first == -1 || last == -1 || last <= first {
		return ""
	}
	return s[first : last+1]
}

// CleanCodeOutput removes a single surrounding markdown fence from
// generated file content. Content without a fence passes through.
func CleanCodeOutput(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	if m := codeFenceRegex.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return content
}

// Truncate bounds s to maxLen bytes for prompt embedding and error text.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
