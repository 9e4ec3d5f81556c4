package flow

import (
	"sync"
	"time"

	"pkt.systems/syncrelay/schema"
)

// DefaultDebounce is the trailing delay before pending field edits flush.
const DefaultDebounce = 300 * time.Millisecond

// Debouncer coalesces rapid field edits into a single flush carrying the
// latest value per field. The flush fires once the edits go quiet for the
// configured delay (trailing edge).
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	pending map[schema.FieldKey]string
	timer   *time.Timer
	flush   func(map[schema.FieldKey]string)
	stopped bool
}

// NewDebouncer constructs a debouncer calling flush with the coalesced
// fields. A non-positive delay falls back to DefaultDebounce.
func NewDebouncer(delay time.Duration, flush func(map[schema.FieldKey]string)) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{
		delay: delay,
		flush: flush,
	}
}

// Set records a field edit and (re)arms the trailing timer.
func (d *Debouncer) Set(key schema.FieldKey, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.pending == nil {
		d.pending = make(map[schema.FieldKey]string)
	}
	d.pending[key] = value
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

// Flush forces any pending edits out immediately.
func (d *Debouncer) Flush() {
	d.fire()
}

// Stop cancels the timer and drops pending edits.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	if len(pending) == 0 {
		return
	}
	if d.flush != nil {
		d.flush(pending)
	}
}
