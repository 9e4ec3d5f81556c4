// Package identity keeps session-scoped identifiers in redundant local
// storage slots with remote-record fallback. Writes fan out to every slot
// for a kind so the value survives partial storage loss; reads walk the
// slots in priority order and return the first valid value.
package identity

import (
	"regexp"
	"strings"
)

// Kind names a class of identifier with its own slot set and validator.
type Kind string

const (
	// KindDevice is a device tag: any trimmed value of three or more runes.
	KindDevice Kind = "device"
	// KindEmail is an address of the shape local@domain.tld.
	KindEmail Kind = "email"
)

// Slot names per kind, highest priority first. The trailing entries are
// legacy names kept readable so stores written by older releases still
// resolve.
var slotSets = map[Kind][]string{
	KindDevice: {
		"device_primary",
		"device_captured",
		"device_backup",
		"device_last_valid",
		"device_number",
		"lastDevice",
	},
	KindEmail: {
		"email_primary",
		"email_captured",
		"email_backup",
		"email_last_valid",
		"client_email",
		"lastEmail",
	},
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Slots returns the storage slot names for kind, highest priority first.
func Slots(kind Kind) []string {
	slots := slotSets[kind]
	out := make([]string, len(slots))
	copy(out, slots)
	return out
}

// Normalize canonicalizes a raw value for kind.
func Normalize(kind Kind, value string) string {
	value = strings.TrimSpace(value)
	if kind == KindEmail {
		value = strings.ToLower(value)
	}
	return value
}

// Valid reports whether value passes the validator for kind after
// normalization.
func Valid(kind Kind, value string) bool {
	value = Normalize(kind, value)
	switch kind {
	case KindDevice:
		return len([]rune(value)) >= 3
	case KindEmail:
		return emailPattern.MatchString(value)
	}
	return false
}
