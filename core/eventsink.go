package core

import "pkt.systems/syncrelay/schema"

// EventSink receives record, command, and session events from the core service.
type EventSink interface {
	OnRecord(event schema.RecordEvent)
	OnCommand(event schema.CommandEvent)
	OnSession(event schema.SessionEvent)
}
