package suggest

import (
	"sync"
	"time"
)

// DefaultDebounce is how long typing must pause before a lookup is sent.
const DefaultDebounce = 300 * time.Millisecond

// Debouncer runs the latest function per key once the key has been quiet
// for wait. Keys are independent.
type Debouncer struct {
	wait time.Duration

	mu      sync.Mutex
	stopped bool
	seq     map[string]uint64
	timers  map[string]*time.Timer
}

func NewDebouncer(wait time.Duration) *Debouncer {
	return &Debouncer{wait: wait, seq: make(map[string]uint64), timers: make(map[string]*time.Timer)}
}

// Trigger schedules fn for key, superseding anything pending for key.
func (d *Debouncer) Trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.cancelLocked(key)
	d.seq[key]++
	n := d.seq[key]
	d.timers[key] = time.AfterFunc(d.wait, func() {
		d.mu.Lock()
		live := !d.stopped && d.seq[key] == n
		if live {
			delete(d.timers, key)
		}
		d.mu.Unlock()
		if live {
			fn()
		}
	})
}

// Cancel drops whatever is pending for key.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked(key)
	d.seq[key]++
}

// Stop cancels everything; later Triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for k := range d.timers {
		d.cancelLocked(k)
	}
}

func (d *Debouncer) cancelLocked(key string) {
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}
