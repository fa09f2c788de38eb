package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports that no decode strategy could recover a JSON object
// from the model output.
type ParseError struct {
	Raw string
}

func (e *ParseError) Error() string {
	preview := e.Raw
	if len(preview) > 200 {
		preview = preview[:200] + "…"
	}
	return fmt.Sprintf("no JSON object found in model output: %q", preview)
}

// DecodeLenient recovers a JSON object from free-form model output.
// Strategies are tried in order: direct parse, code-fence stripping, a
// balanced-brace scan over the surrounding prose, then line-by-line
// accumulation. Providers that honor response_format usually succeed on
// the first step; the rest absorbs chatty models.
func DecodeLenient(raw string) (map[string]any, []byte, error) {
	candidates := []string{
		strings.TrimSpace(raw),
		StripCodeFences(raw),
		extractBalancedObject(raw),
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(c), &m); err == nil {
			return m, []byte(c), nil
		}
	}
	if m, buf := accumulateLines(raw); m != nil {
		return m, buf, nil
	}
	return nil, nil, &ParseError{Raw: raw}
}

// accumulateLines grows a buffer line by line from each line that opens
// an object, parsing after every addition. Recovers objects preceded by
// prose braces that derail the single balanced-brace scan.
func accumulateLines(s string) (map[string]any, []byte) {
	lines := strings.Split(s, "\n")
	for start, ln := range lines {
		if !strings.HasPrefix(strings.TrimSpace(ln), "{") {
			continue
		}
		var b strings.Builder
		for i := start; i < len(lines); i++ {
			if i > start {
				b.WriteByte('\n')
			}
			b.WriteString(strings.TrimSpace(lines[i]))
			var m map[string]any
			if err := json.Unmarshal([]byte(b.String()), &m); err == nil {
				return m, []byte(b.String())
			}
		}
	}
	return nil, nil
}

// StripCodeFences removes a surrounding markdown code fence, if any.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractBalancedObject returns the first balanced {...} span, tracking
// string literals so braces inside values do not break the count.
func extractBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
