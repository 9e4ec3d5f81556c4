package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/syncrelay/internal/logx"
	"pkt.systems/syncrelay/schema"
)

// feedAll is the hub key receiving a copy of every event, used by the
// operator stream.
const feedAll schema.SessionID = "*"

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq          uint64              `json:"seq"`
	Type         string              `json:"type"`
	Session      schema.SessionID    `json:"session"`
	Record       *schema.Record      `json:"record,omitempty"`
	Token        schema.CommandToken `json:"token,omitempty"`
	SessionEvent string              `json:"session_event,omitempty"`
	Source       schema.Source       `json:"source,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// Hub broadcasts events per session plus a combined operator feed.
type Hub struct {
	mu          sync.Mutex
	feeds       map[schema.SessionID]*feed
	historySize int
}

// NewHub constructs a hub with the given per-feed history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 256
	}
	return &Hub{
		feeds:       make(map[schema.SessionID]*feed),
		historySize: historySize,
	}
}

// OnRecord implements core.EventSink.
func (h *Hub) OnRecord(event schema.RecordEvent) {
	log := logx.WithSession(context.Background(), event.Session)
	log.Trace("hub record event", "revision", event.Record.Revision)
	record := event.Record
	h.publish(event.Session, StreamEvent{
		Type:      "record",
		Session:   event.Session,
		Record:    &record,
		Source:    event.Source,
		Timestamp: time.Now(),
	})
}

// OnCommand implements core.EventSink.
func (h *Hub) OnCommand(event schema.CommandEvent) {
	log := logx.WithSession(context.Background(), event.Session)
	log.Trace("hub command event", "token", event.Token)
	record := event.Record
	h.publish(event.Session, StreamEvent{
		Type:      "command",
		Session:   event.Session,
		Token:     event.Token,
		Record:    &record,
		Timestamp: time.Now(),
	})
}

// OnSession implements core.EventSink.
func (h *Hub) OnSession(event schema.SessionEvent) {
	log := logx.WithSession(context.Background(), event.Session)
	log.Trace("hub session event", "type", event.Type)
	h.publish(event.Session, StreamEvent{
		Type:         "session",
		Session:      event.Session,
		SessionEvent: string(event.Type),
		Timestamp:    time.Now(),
	})
}

// Subscribe registers a subscriber for a session feed. The feedAll key
// subscribes to every session.
func (h *Hub) Subscribe(session schema.SessionID) (<-chan StreamEvent, func(), uint64, []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f := h.getOrCreateFeedLocked(session)
	ch := make(chan StreamEvent, 256)
	f.subs[ch] = struct{}{}
	history := append([]StreamEvent(nil), f.history...)
	seq := f.seq
	log := logx.WithSession(context.Background(), session)
	log.Info("hub subscribe", "subs", len(f.subs), "history", len(history))
	unsub := func() {
		h.mu.Lock()
		delete(f.subs, ch)
		close(ch)
		remaining := len(f.subs)
		h.mu.Unlock()
		log.Info("hub unsubscribe", "subs", remaining)
	}
	return ch, unsub, seq, history
}

// Replay returns events after the provided seq for a session feed.
func (h *Hub) Replay(session schema.SessionID, after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	f := h.feeds[session]
	if f == nil {
		return nil
	}
	events := make([]StreamEvent, 0, len(f.history))
	for _, event := range f.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	logx.WithSession(context.Background(), session).Debug("hub replay", "after", after, "count", len(events))
	return events
}

func (h *Hub) publish(session schema.SessionID, event StreamEvent) {
	h.deliver(session, event)
	if session != feedAll {
		h.deliver(feedAll, event)
	}
}

func (h *Hub) deliver(key schema.SessionID, event StreamEvent) {
	h.mu.Lock()
	f := h.getOrCreateFeedLocked(key)
	f.seq++
	event.Seq = f.seq
	f.history = append(f.history, event)
	if len(f.history) > h.historySize {
		f.history = f.history[len(f.history)-h.historySize:]
	}
	subs := make([]chan StreamEvent, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		logx.WithSession(context.Background(), key).Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}

func (h *Hub) getOrCreateFeedLocked(key schema.SessionID) *feed {
	f := h.feeds[key]
	if f == nil {
		f = &feed{
			subs: make(map[chan StreamEvent]struct{}),
		}
		h.feeds[key] = f
	}
	return f
}

type feed struct {
	seq     uint64
	history []StreamEvent
	subs    map[chan StreamEvent]struct{}
}
