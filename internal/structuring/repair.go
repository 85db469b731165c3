package structuring

import (
	"encoding/json"
	"strings"
)

// Repair returns s unchanged when it already is valid JSON. Otherwise it
// applies the recovery steps in order and stops at the first that yields
// valid JSON: strip code fences, escape stray backslashes, drop dangling
// commas, truncate to the last complete object and close the array. The
// result of the last step is returned even when still invalid.
func Repair(s string) string {
	if json.Valid([]byte(s)) {
		return s
	}

	steps := []func(string) string{
		stripFences,
		escapeBackslashes,
		trimDanglingCommas,
		truncateToLastObject,
	}
	for _, step := range steps {
		s = step(s)
		if json.Valid([]byte(s)) {
			return s
		}
	}
	return s
}

// stripFences removes Markdown code fences and any prose around the
// outermost JSON value.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if start := strings.IndexAny(s, "[{"); start > 0 {
		s = s[start:]
	}
	return s
}

// escapeBackslashes doubles every backslash inside a string literal that
// does not start a valid JSON escape.
func escapeBackslashes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	inString := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}

		switch c {
		case '"':
			inString = false
			b.WriteByte(c)
		case '\\':
			if i+1 < len(s) && validEscape(s[i+1:]) {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
				continue
			}
			b.WriteString(`\\`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func validEscape(rest string) bool {
	switch rest[0] {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if len(rest) < 5 {
			return false
		}
		for _, h := range rest[1:5] {
			if !strings.ContainsRune("0123456789abcdefABCDEF", h) {
				return false
			}
		}
		return true
	}
	return false
}

// trimDanglingCommas drops commas that directly precede a closing bracket
// or brace, and a trailing comma at the end of the input.
func trimDanglingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
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

		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j == len(s) || s[j] == ']' || s[j] == '}' {
				continue
			}
		}
		b.WriteByte(c)
	}
	return strings.TrimSpace(b.String())
}

// truncateToLastObject keeps the top-level array up to its last complete
// element object and closes it.
func truncateToLastObject(s string) string {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return s
	}

	depth := 0
	last := -1
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
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if c == '}' && depth == 1 {
				last = i
			}
		}
	}

	if last < 0 {
		return s
	}
	return s[start:last+1] + "]"
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}
