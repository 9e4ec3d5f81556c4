package eventbus

import (
	"context"
	"sync"

	"pkt.systems/syncrelay/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventRecord carries a record mutation.
	EventRecord EventType = "record"
	// EventCommand carries a pushed command token.
	EventCommand EventType = "command"
	// EventSession carries a session lifecycle change.
	EventSession EventType = "session"
)

// Event is a session-facing event emitted by the core service.
type Event struct {
	Type    EventType
	Record  schema.RecordEvent
	Command schema.CommandEvent
	Session schema.SessionEvent
}

// Bus fanouts events to per-session subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.SessionID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.SessionID]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the session and returns a channel + cancel.
func (b *Bus) Subscribe(session schema.SessionID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	sessionSubs := b.subs[session]
	if sessionSubs == nil {
		sessionSubs = make(map[chan Event]struct{})
		b.subs[session] = sessionSubs
	}
	sessionSubs[ch] = struct{}{}
	count := len(sessionSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("session", session).Debug("eventbus subscribe", "subs", count)
	}
	return ch, func() {
		b.mu.Lock()
		if subs := b.subs[session]; subs != nil {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subs, session)
			}
		}
		b.mu.Unlock()
		close(ch)
		if b.log != nil {
			b.log.With("session", session).Debug("eventbus unsubscribe")
		}
	}
}

// OnRecord publishes a record mutation event.
func (b *Bus) OnRecord(event schema.RecordEvent) {
	b.publish(event.Session, Event{Type: EventRecord, Record: event})
}

// OnCommand publishes a command event.
func (b *Bus) OnCommand(event schema.CommandEvent) {
	b.publish(event.Session, Event{Type: EventCommand, Command: event})
}

// OnSession publishes a session lifecycle event.
func (b *Bus) OnSession(event schema.SessionEvent) {
	b.publish(event.Session, Event{Type: EventSession, Session: event})
}

func (b *Bus) publish(session schema.SessionID, event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	sessionSubs := b.subs[session]
	subs := make([]chan Event, 0, len(sessionSubs))
	for sub := range sessionSubs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 && b.log != nil {
		b.log.With("session", session).Trace("eventbus dropped", "count", dropped)
	}
}
