package events

import (
	"testing"

	"tradesee/core/types"
)

type testEvent string

func (e testEvent) EventType() string { return string(e) }

func (e testEvent) Event() *types.Event {
	return &types.Event{Type: string(e), Attributes: map[string]string{"k": "v"}}
}

type recorder struct{ seen []string }

func (r *recorder) Emit(evt Event) { r.seen = append(r.seen, evt.EventType()) }

func TestBufferDrainEmptiesBuffer(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent("a"))
	buf.Emit(nil)
	buf.Emit(testEvent("b"))

	drained := buf.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 events, got %d", len(drained))
	}
	if drained[0].EventType() != "a" || drained[1].EventType() != "b" {
		t.Fatalf("unexpected order: %v", drained)
	}
	if len(buf.Drain()) != 0 {
		t.Fatalf("expected buffer to be empty after drain")
	}
}

func TestBufferReset(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent("a"))
	buf.Reset()
	if len(buf.Drain()) != 0 {
		t.Fatalf("expected reset to drop events")
	}
}

func TestFanoutForwardsToAll(t *testing.T) {
	first, second := &recorder{}, &recorder{}
	Fanout{first, nil, second, NoopEmitter{}}.Emit(testEvent("x"))
	if len(first.seen) != 1 || len(second.seen) != 1 {
		t.Fatalf("expected both recorders to see the event: %v %v", first.seen, second.seen)
	}
}
