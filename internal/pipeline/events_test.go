package pipeline

import (
	"testing"

	"github.com/kozaktomas/rollcall/internal/constants"
)

func TestEventBroadcaster_Listeners(t *testing.T) {
	var b EventBroadcaster
	first := b.AddListener()
	second := b.AddListener()
	if b.ListenerCount() != 2 {
		t.Fatalf("expected 2 listeners, got %d", b.ListenerCount())
	}

	b.SendEvent(Event{Type: EventWarning, Message: "frame 3: timeout"})
	for _, ch := range []chan Event{first, second} {
		if ev := <-ch; ev.Message != "frame 3: timeout" {
			t.Errorf("unexpected event %+v", ev)
		}
	}

	b.RemoveListener(first)
	if b.ListenerCount() != 1 {
		t.Errorf("expected 1 listener after removal, got %d", b.ListenerCount())
	}
	if _, ok := <-first; ok {
		t.Error("expected removed listener channel to be closed")
	}
	b.RemoveListener(first)
	if b.ListenerCount() != 1 {
		t.Errorf("expected removing twice to be a no-op, got %d listeners", b.ListenerCount())
	}
}

func TestEventBroadcaster_DropsWhenFull(t *testing.T) {
	var b EventBroadcaster
	ch := b.AddListener()
	for range constants.EventChannelBuffer + 5 {
		b.SendEvent(Event{Type: EventProgress})
	}
	if len(ch) != constants.EventChannelBuffer {
		t.Errorf("expected %d buffered events, got %d", constants.EventChannelBuffer, len(ch))
	}
}
