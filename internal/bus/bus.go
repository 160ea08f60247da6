// Package bus carries widget configuration changes from the API surface to
// the engine. Publishing is explicit; there is no implicit watching of
// configuration state anywhere else.
package bus

import (
	"encoding/json"
	"sync"
	"time"
)

// Sections named in a ConfigChange. SectionSources means the widget's data
// source definitions were replaced; anything else edits the config blob.
const (
	SectionConfig  = "config"
	SectionSources = "sources"
)

// ConfigChange describes one configuration edit to a registered widget.
// Old and New carry the full payload before and after the edit.
type ConfigChange struct {
	WidgetID string          `json:"widget_id"`
	Section  string          `json:"section"`
	Old      json.RawMessage `json:"old,omitempty"`
	New      json.RawMessage `json:"new,omitempty"`
	At       time.Time       `json:"at"`
}

// subscriber buffer size. A subscriber that falls further behind loses its
// oldest pending event rather than blocking publishers.
const subscriberBuffer = 16

// Bus fans ConfigChange events out to subscribers. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan ConfigChange
	nextID int
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[int]chan ConfigChange)}
}

// Subscribe registers a new consumer and returns its event channel plus a
// cancel function. The channel is closed on cancel or when the bus closes.
func (b *Bus) Subscribe() (<-chan ConfigChange, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan ConfigChange)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan ConfigChange, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking. A full
// subscriber drops its oldest pending event to make room.
func (b *Bus) Publish(ev ConfigChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts the bus down. Subsequent publishes are dropped and all
// subscriber channels are closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
