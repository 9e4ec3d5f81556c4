package identity

import (
	"sync"

	"pkt.systems/pslog"

	"pkt.systems/syncrelay/schema"
)

// Hydration fields consulted per kind when the local slots are empty,
// highest priority first.
var recordFields = map[Kind][]schema.FieldKey{
	KindDevice: {schema.FieldDeviceNumber, schema.FieldDeviceNumberConfirmed},
	KindEmail:  {schema.FieldEmail, schema.FieldClientEmail},
}

// Manager reads and writes identifier slots through a Storage backend.
// Slot failures degrade rather than fail: a value remains retrievable as
// long as at least one slot still holds it.
type Manager struct {
	storage Storage
	log     pslog.Logger
}

// NewManager wraps storage. logger may be nil.
func NewManager(storage Storage, logger pslog.Logger) *Manager {
	return &Manager{storage: storage, log: logger}
}

// Save normalizes value and, when valid for kind, writes it to every slot.
// source tags where the value came from. Invalid values are ignored.
// Returns true when at least one slot was written.
func (m *Manager) Save(kind Kind, value string, source schema.Source) bool {
	value = Normalize(kind, value)
	if !Valid(kind, value) {
		if m.log != nil {
			m.log.Trace("identity save skipped", "kind", kind, "source", source, "reason", "invalid")
		}
		return false
	}
	saved := false
	for _, slot := range Slots(kind) {
		if err := m.storage.Set(slot, value); err != nil {
			if m.log != nil {
				m.log.Warn("identity slot write failed", "kind", kind, "slot", slot, "err", err)
			}
			continue
		}
		saved = true
	}
	if saved && m.log != nil {
		m.log.Debug("identity save ok", "kind", kind, "source", source)
	}
	return saved
}

// Get walks the slots for kind in priority order and returns the first
// valid value. Slot read failures are skipped.
func (m *Manager) Get(kind Kind) (string, bool) {
	for _, slot := range Slots(kind) {
		value, ok, err := m.storage.Get(slot)
		if err != nil {
			if m.log != nil {
				m.log.Warn("identity slot read failed", "kind", kind, "slot", slot, "err", err)
			}
			continue
		}
		if !ok {
			continue
		}
		value = Normalize(kind, value)
		if Valid(kind, value) {
			return value, true
		}
	}
	return "", false
}

// GetWithRecordFallback returns the locally stored value for kind, falling
// back to the hydration fields of record. A value recovered from the
// record is written back to the local slots.
func (m *Manager) GetWithRecordFallback(kind Kind, record *schema.Record) (string, bool) {
	if value, ok := m.Get(kind); ok {
		return value, true
	}
	if record == nil {
		return "", false
	}
	for _, field := range recordFields[kind] {
		value := Normalize(kind, record.Field(field))
		if !Valid(kind, value) {
			continue
		}
		m.Save(kind, value, schema.SourceRemote)
		if m.log != nil {
			m.log.Debug("identity hydrated", "kind", kind)
		}
		return value, true
	}
	return "", false
}

// ClearAll deletes every slot for kind. Clearing an already empty kind is
// a no-op. Returns false only when the storage refused a delete.
func (m *Manager) ClearAll(kind Kind) bool {
	cleared := true
	for _, slot := range Slots(kind) {
		if err := m.storage.Delete(slot); err != nil {
			cleared = false
			if m.log != nil {
				m.log.Warn("identity slot delete failed", "kind", kind, "slot", slot, "err", err)
			}
		}
	}
	return cleared
}

var (
	defaultMu      sync.Mutex
	defaultManager *Manager
)

// Configure replaces the process-wide default manager.
func Configure(storage Storage, logger pslog.Logger) *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultManager = NewManager(storage, logger)
	return defaultManager
}

// Default returns the process-wide manager, creating a memory-backed one
// on first use when none was configured.
func Default() *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultManager == nil {
		defaultManager = NewManager(NewMemoryStorage(), nil)
	}
	return defaultManager
}
