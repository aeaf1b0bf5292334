package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when a completion contains no valid JSON object.
var ErrNoJSON = errors.New("no JSON object in completion")

// ExtractJSON finds the JSON object in a model reply. It tries a ```json
// fenced block, then any fenced block, then the first balanced {...} span.
func ExtractJSON(text string) (json.RawMessage, error) {
	candidates := []string{
		fenced(text, "```json"),
		fenced(text, "```"),
		balancedObject(text),
	}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c != "" && json.Valid([]byte(c)) {
			return json.RawMessage(c), nil
		}
	}
	// A fence may wrap prose around the object.
	for _, c := range candidates[:2] {
		if obj := balancedObject(c); obj != "" && json.Valid([]byte(obj)) {
			return json.RawMessage(obj), nil
		}
	}
	return nil, ErrNoJSON
}

// fenced returns the body of the first block opened by marker.
func fenced(s, marker string) string {
	start := strings.Index(s, marker)
	if start == -1 {
		return ""
	}
	body := s[start+len(marker):]
	nl := strings.IndexByte(body, '\n')
	if nl == -1 {
		return ""
	}
	body = body[nl+1:]
	end := strings.Index(body, "```")
	if end == -1 {
		return ""
	}
	return body[:end]
}

// balancedObject returns the first {...} span whose braces balance,
// ignoring braces inside JSON strings.
func balancedObject(s string) string {
	for start := strings.IndexByte(s, '{'); start != -1; {
		depth := 0
		inString, escaped := false, false
		for i := start; i < len(s); i++ {
			ch := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case ch == '\\':
					escaped = true
				case ch == '"':
					inString = false
				}
				continue
			}
			switch ch {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					if obj := s[start : i+1]; json.Valid([]byte(obj)) {
						return obj
					}
					i = len(s)
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next == -1 {
			return ""
		}
		start += next + 1
	}
	return ""
}
