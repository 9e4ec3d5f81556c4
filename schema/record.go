package schema

import "time"

// Record is the mutable per-session document the relay serves. Fields are
// plain strings merged shallowly; Commands is an ordered token list where
// only the last entry is interpreted by consumers.
type Record struct {
	Session   SessionID               `json:"session"`
	Revision  uint64                  `json:"revision"`
	Fields    map[FieldKey]string     `json:"fields"`
	Commands  []CommandToken          `json:"commands"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to subscribers.
func (r Record) Clone() Record {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[FieldKey]string, len(r.Fields))
		for key, value := range r.Fields {
			out.Fields[key] = value
		}
	}
	if r.Commands != nil {
		out.Commands = append([]CommandToken(nil), r.Commands...)
	}
	return out
}

// Field returns the named field value or "".
func (r Record) Field(key FieldKey) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[key]
}

// LatestCommand returns the last command token, if any. Earlier unconsumed
// tokens are not surfaced; the command list is a latest-wins channel.
func (r Record) LatestCommand() (CommandToken, bool) {
	for i := len(r.Commands) - 1; i >= 0; i-- {
		if token := r.Commands[i].Normalize(); token != "" {
			return token, true
		}
	}
	return "", false
}
