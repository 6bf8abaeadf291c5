package rpc

import (
	"strings"
	"sync"

	"tradesee/core/events"
	"tradesee/core/types"
)

const subscriberBuffer = 64

// StreamFilter narrows a live event subscription. Empty fields match all.
type StreamFilter struct {
	Type     string
	Contract string
}

func (f StreamFilter) match(evt *types.Event) bool {
	if f.Type != "" && evt.Type != f.Type {
		return false
	}
	if f.Contract != "" && evt.Attr("contract") != f.Contract {
		return false
	}
	return true
}

type subscriber struct {
	filter StreamFilter
	ch     chan *types.Event
}

// EventHub fans committed events out to websocket subscribers once it is
// registered as a processor sink. A subscriber that falls subscriberBuffer
// events behind is dropped.
type EventHub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
}

var _ events.Emitter = (*EventHub)(nil)

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a subscriber. The returned channel is closed by cancel
// or when the subscriber is dropped for being slow.
func (h *EventHub) Subscribe(filter StreamFilter) (<-chan *types.Event, func()) {
	filter.Type = strings.TrimSpace(filter.Type)
	filter.Contract = strings.TrimSpace(filter.Contract)
	sub := &subscriber{filter: filter, ch: make(chan *types.Event, subscriberBuffer)}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	return sub.ch, func() { h.remove(id) }
}

func (h *EventHub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Emit implements events.Emitter.
func (h *EventHub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	rendered := evt.Event()
	if rendered == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		if !sub.filter.match(rendered) {
			continue
		}
		select {
		case sub.ch <- rendered.Clone():
		default:
			delete(h.subs, id)
			close(sub.ch)
		}
	}
}
