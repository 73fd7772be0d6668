package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	pid := "p1"
	ch := b.Subscribe(pid)

	evt := Event{Type: EventGAProgress, Data: map[string]any{"generation": 1}}
	b.Publish(pid, evt)
	b.Publish("other", Event{Type: "ignored"})

	select {
	case got := <-ch:
		assert.Equal(t, evt.Type, got.Type)
		assert.Equal(t, 1, got.Data["generation"])
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(pid, ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	// second unsubscribe is a no-op
	require.NotPanics(t, func() { b.Unsubscribe(pid, ch) })
	require.NotPanics(t, func() { b.Publish(pid, evt) })
}

func TestBrokerDropsForSlowSubscribers(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("p")
	// a 25-stop plan runs 500 generations and reports 51 of them
	for i := 0; i < 51; i++ {
		b.Publish("p", Event{Type: EventGAProgress, Data: map[string]any{"generation": i}})
	}
	assert.Equal(t, cap(ch), len(ch))
	b.Publish("p", Event{Type: EventPlanCompleted, Data: map[string]any{"planId": "p"}})

	var got []Event
	for len(ch) > 0 {
		got = append(got, <-ch)
	}
	require.Len(t, got, cap(ch))
	last := got[len(got)-1]
	assert.Equal(t, EventPlanCompleted, last.Type)
	assert.True(t, last.terminal())
	// the oldest progress event made room
	assert.Equal(t, 1, got[0].Data["generation"])
	assert.Equal(t, EventGAProgress, got[len(got)-2].Type)

	assert.True(t, Event{Type: EventPlanFailed}.terminal())
	assert.False(t, Event{Type: EventGAProgress}.terminal())
}

func TestDeliver(t *testing.T) {
	ch := make(chan Event, 1)
	deliver(ch, Event{Type: EventGAProgress})
	deliver(ch, Event{Type: EventGAProgress, Data: map[string]any{"generation": 2}})
	require.Len(t, ch, 1)
	assert.Nil(t, (<-ch).Data, "a full buffer drops newer progress")

	deliver(ch, Event{Type: EventGAProgress})
	deliver(ch, Event{Type: EventPlanFailed})
	require.Len(t, ch, 1)
	assert.Equal(t, EventPlanFailed, (<-ch).Type)
}
