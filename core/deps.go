package core

import (
	"time"

	"pkt.systems/syncrelay/schema"
	"pkt.systems/pslog"
)

// SnapshotStore persists session records across restarts.
type SnapshotStore interface {
	LoadAll() ([]schema.Record, error)
	Save(session schema.SessionID, record schema.Record) error
	Delete(session schema.SessionID) error
}

// Archiver receives the final record of a deleted session.
type Archiver interface {
	Archive(session schema.SessionID, record schema.Record) error
}

// ServiceDeps captures optional dependencies for the core service.
type ServiceDeps struct {
	Snapshots SnapshotStore
	Archiver  Archiver
	EventSink EventSink
	Logger    pslog.Logger
	Now       func() time.Time
	NewID     func() string
}
