package schema

import "time"

// SessionEventType describes session lifecycle changes.
type SessionEventType string

const (
	// SessionCreated indicates a session record was created.
	SessionCreated SessionEventType = "created"
	// SessionDeleted indicates a session record was deleted.
	SessionDeleted SessionEventType = "deleted"
)

// RecordEvent is emitted whenever a session record mutates.
type RecordEvent struct {
	Session SessionID
	Record  Record
	Source  Source
}

// CommandEvent is emitted when a command token is pushed to a session.
type CommandEvent struct {
	Session SessionID
	Token   CommandToken
	Record  Record
}

// SessionEvent is emitted on session lifecycle changes.
type SessionEvent struct {
	Session SessionID
	Type    SessionEventType
	At      time.Time
}
