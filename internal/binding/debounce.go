package binding

import (
	"strings"
	"sync"
	"time"
)

// pending tracks one key's live timer. gen detects a timer that fired
// after being superseded by a newer Bump.
type pending struct {
	timer *time.Timer
	gen   uint64
}

// Debouncer coalesces bursts of changes into one callback per key: each
// Bump resets the key's timer, so fn runs once the key has been quiet for
// the given duration. Trailing edge only.
type Debouncer struct {
	mu      sync.Mutex
	timers  map[string]*pending
	stopped bool
}

func NewDebouncer() *Debouncer {
	return &Debouncer{timers: make(map[string]*pending)}
}

// Bump schedules fn to run after quiet time, replacing any callback still
// pending for key. fn runs on a timer goroutine.
func (d *Debouncer) Bump(key string, after time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	p := d.timers[key]
	if p == nil {
		p = &pending{}
		d.timers[key] = p
	} else {
		p.timer.Stop()
	}
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(after, func() {
		d.mu.Lock()
		current, ok := d.timers[key]
		if !ok || current.gen != gen {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending callback for key, if any.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.timers[key]; ok {
		p.timer.Stop()
		delete(d.timers, key)
	}
}

// CancelPrefix drops every pending callback whose key starts with prefix.
// Used when a widget is unregistered mid-debounce.
func (d *Debouncer) CancelPrefix(prefix string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, p := range d.timers {
		if strings.HasPrefix(key, prefix) {
			p.timer.Stop()
			delete(d.timers, key)
		}
	}
}

// Pending reports how many callbacks are waiting to fire.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels everything and rejects further Bumps.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, p := range d.timers {
		p.timer.Stop()
		delete(d.timers, key)
	}
}
