package syncrelay

import (
	"pkt.systems/syncrelay/core"
	"pkt.systems/syncrelay/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnRecord(event schema.RecordEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnRecord(event)
	}
}

func (f eventFanout) OnCommand(event schema.CommandEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnCommand(event)
	}
}

func (f eventFanout) OnSession(event schema.SessionEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnSession(event)
	}
}
