package schema

import "strings"

// CommandToken is a string instruction delivered through a record's command
// list: either an opaque stage-advance token or an invalidation token
// recognizable by prefix (for example "invalid_password" or "inv_telefone").
type CommandToken string

const (
	// InvalidationPrefix is the canonical invalidation token prefix.
	InvalidationPrefix = "invalid_"
	// InvalidationPrefixShort is the legacy short invalidation prefix.
	InvalidationPrefixShort = "inv_"
)

// Normalize trims surrounding whitespace. Malformed (empty) tokens normalize
// to "" and are treated as no command.
func (t CommandToken) Normalize() CommandToken {
	return CommandToken(strings.TrimSpace(string(t)))
}

// IsInvalidation reports whether the token carries an invalidation prefix.
// Prefix match alone does not imply the token is mapped anywhere; unmapped
// invalidation tokens are ignored by interpreters.
func (t CommandToken) IsInvalidation() bool {
	s := string(t.Normalize())
	return strings.HasPrefix(s, InvalidationPrefix) || strings.HasPrefix(s, InvalidationPrefixShort)
}
