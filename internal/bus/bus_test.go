package bus

import (
	"encoding/json"
	"testing"
	"time"
)

func change(widgetID string, n int) ConfigChange {
	raw, _ := json.Marshal(map[string]int{"rev": n})
	return ConfigChange{
		WidgetID: widgetID,
		Section:  SectionConfig,
		New:      raw,
		At:       time.Now(),
	}
}

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(change("w1", 1))

	for i, ch := range []<-chan ConfigChange{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.WidgetID != "w1" {
				t.Fatalf("subscriber %d: got widget %q, want w1", i, ev.WidgetID)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event delivered", i)
		}
	}
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()

	if _, open := <-ch; open {
		t.Fatal("expected channel closed after cancel")
	}
	if got := b.Subscribers(); got != 0 {
		t.Fatalf("subscribers: got %d, want 0", got)
	}

	// publishing after cancel must not panic
	b.Publish(change("w1", 1))
}

func TestBus_SlowSubscriberLosesOldest(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	// overflow the buffer without draining
	total := subscriberBuffer + 3
	for i := 0; i < total; i++ {
		b.Publish(change("w1", i))
	}

	// drain: the oldest events are gone, the newest survived
	var got []int
	for {
		select {
		case ev := <-ch:
			var payload struct {
				Rev int `json:"rev"`
			}
			if err := json.Unmarshal(ev.New, &payload); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			got = append(got, payload.Rev)
			continue
		default:
		}
		break
	}

	if len(got) != subscriberBuffer {
		t.Fatalf("drained %d events, want %d", len(got), subscriberBuffer)
	}
	if got[len(got)-1] != total-1 {
		t.Fatalf("newest event: got rev %d, want %d", got[len(got)-1], total-1)
	}
}

func TestBus_CloseClosesSubscriberChannels(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe()

	b.Close()

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed channel after bus close")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after bus close")
	}

	// subscribe after close yields a closed channel
	ch2, cancel2 := b.Subscribe()
	defer cancel2()
	if _, open := <-ch2; open {
		t.Fatal("expected closed channel from post-close subscribe")
	}
}
