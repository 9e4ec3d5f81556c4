package schema

import "strings"

const maxSessionIDLength = 64

// ValidateSessionID checks a session identifier: non-empty, at most 64
// characters, lowercase letters, digits, '-', '_' and '.' only.
func ValidateSessionID(id SessionID) error {
	value := string(id)
	if value == "" || len(value) > maxSessionIDLength {
		return ErrInvalidSession
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return ErrInvalidSession
		}
	}
	return nil
}

// NormalizeFields trims keys and drops empties; returns nil when nothing
// survives.
func NormalizeFields(fields map[FieldKey]string) map[FieldKey]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[FieldKey]string, len(fields))
	for key, value := range fields {
		trimmed := FieldKey(strings.TrimSpace(string(key)))
		if trimmed == "" {
			continue
		}
		out[trimmed] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
