package agent

import (
	"encoding/json"
	"strings"
)

// PreviewArguments attempts a best-effort parse of a partial tool-argument
// JSON object so the UI can render a live preview while the model is still
// streaming. It recovers whichever complete key/value pairs can be
// extracted and returns nil when nothing can be salvaged. Failures are
// silent: the authoritative parse happens once at tool-call completion and
// is never affected by this path.
func PreviewArguments(fragment string) map[string]any {
	trimmed := strings.TrimSpace(fragment)
	if trimmed == "" || trimmed[0] != '{' {
		return nil
	}

	// Fast path: the fragment happens to be complete.
	if m := tryParseObject(trimmed); m != nil {
		return m
	}

	// Repair pass: close an unterminated string, then close open
	// braces/brackets in reverse order.
	if m := tryParseObject(repairJSON(trimmed)); m != nil {
		return m
	}

	// Fall back to the last complete pair: cut at each top-level comma
	// from the right and retry with the remainder closed.
	for idx := lastTopLevelComma(trimmed); idx > 0; idx = lastTopLevelComma(trimmed[:idx]) {
		if m := tryParseObject(repairJSON(trimmed[:idx])); m != nil {
			return m
		}
	}

	return nil
}

func tryParseObject(s string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// repairJSON appends the closers needed to turn a JSON prefix into a
// syntactically complete document. Trailing commas and dangling keys are
// trimmed first.
func repairJSON(s string) string {
	inString := false
	escaped := false
	var stack []byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, c)
			}
		case '}', ']':
			if !inString && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	out := s
	if inString {
		// A trailing backslash would escape our closing quote.
		if escaped {
			out = out[:len(out)-1]
		}
		out += `"`
	}

	// Drop a dangling separator so `{"a":1,` and `{"a":` both close
	// cleanly.
	trimmed := strings.TrimRight(out, " \t\n\r")
	if strings.HasSuffix(trimmed, ",") || strings.HasSuffix(trimmed, ":") {
		out = trimmed[:len(trimmed)-1]
	}

	for i := len(stack) - 1; i >= 0; i-- {
		switch stack[i] {
		case '{':
			out += "}"
		case '[':
			out += "]"
		}
	}
	return out
}

// lastTopLevelComma returns the index of the rightmost comma at nesting
// depth 1 (directly inside the outer object), or -1.
func lastTopLevelComma(s string) int {
	inString := false
	escaped := false
	depth := 0
	last := -1

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		case ',':
			if !inString && depth == 1 {
				last = i
			}
		}
	}
	return last
}
