package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONObject returns the first balanced, valid JSON object embedded
// in s. Models wrap answers in prose or code fences; the scanner ignores
// both and keeps looking past brace-shaped text that fails validation.
func ExtractJSONObject(s string) (json.RawMessage, error) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		end, ok := balancedEnd(s, i, '{', '}')
		if !ok {
			continue
		}
		candidate := s[i : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, fmt.Errorf("no JSON object found")
}

// ExtractJSONArray returns the first JSON array in s. A bare object is
// accepted and wrapped in a single-element array.
func ExtractJSONArray(s string) (json.RawMessage, error) {
	objIdx := strings.IndexByte(s, '{')
	arrIdx := strings.IndexByte(s, '[')
	if arrIdx >= 0 && (objIdx < 0 || arrIdx < objIdx) {
		if end, ok := balancedEnd(s, arrIdx, '[', ']'); ok {
			candidate := s[arrIdx : end+1]
			if json.Valid([]byte(candidate)) {
				return json.RawMessage(candidate), nil
			}
		}
	}
	obj, err := ExtractJSONObject(s)
	if err != nil {
		return nil, fmt.Errorf("no JSON array or object found")
	}
	return json.RawMessage("[" + string(obj) + "]"), nil
}

// balancedEnd finds the index closing the bracket opened at start,
// skipping bracket characters inside JSON strings.
func balancedEnd(s string, start int, open, close byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
