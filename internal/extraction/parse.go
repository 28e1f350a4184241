package extraction

import (
	"encoding/json"
	"strings"
)

// FallbackConfidence is assigned when the model's answer could not be parsed.
const FallbackConfidence = 0.1

// ParseResponse reads a JSON object from model output. Direct parsing is tried first,
// then the first balanced {...} block. ok is false when neither yields an object.
func ParseResponse(text string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(text)
	if obj, ok := decodeObject(trimmed); ok {
		return obj, true
	}
	if block := firstBalancedObject(trimmed); block != "" {
		if obj, ok := decodeObject(block); ok {
			return obj, true
		}
	}
	return nil, false
}

func decodeObject(s string) (map[string]any, bool) {
	if s == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// firstBalancedObject returns the first {...} block whose braces balance, ignoring braces
// inside JSON strings.
func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString, escaped := false, false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			return ""
		}
		start += next + 1
	}
	return ""
}

func fallbackData(text string) map[string]any {
	return map[string]any{
		"rawText":    text,
		"confidence": FallbackConfidence,
	}
}
