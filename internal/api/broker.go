package api

import (
	"sync"
)

// Event is a progress notification for one plan, fanned out to SSE and
// WebSocket subscribers.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

const (
	EventGAProgress    = "ga.progress"
	EventPlanCompleted = "plan.completed"
	EventPlanFailed    = "plan.failed"
)

// terminal reports whether no further events follow evt for its plan.
func (e Event) terminal() bool {
	return e.Type == EventPlanCompleted || e.Type == EventPlanFailed
}

// EventBroker fans plan events out to subscribers. Publish never blocks; slow
// subscribers drop progress events but always receive the terminal one.
type EventBroker interface {
	Subscribe(planID string) chan Event
	Unsubscribe(planID string, ch chan Event)
	Publish(planID string, evt Event)
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // planId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(planID string) chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	if b.subs[planID] == nil {
		b.subs[planID] = map[chan Event]struct{}{}
	}
	b.subs[planID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(planID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[planID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, planID)
	}
	close(ch)
}

func (b *Broker) Publish(planID string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[planID] {
		deliver(ch, evt)
	}
}

// deliver never blocks. A progress event is dropped when ch is full; a terminal
// event evicts the oldest buffered event instead, so every subscriber sees the
// end of its plan. Callers must be the only sender on ch.
func deliver(ch chan Event, evt Event) {
	for {
		select {
		case ch <- evt:
			return
		default:
		}
		if !evt.terminal() {
			return
		}
		select {
		case <-ch:
		default:
		}
	}
}
