package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tripopt/internal/model"
)

// heartbeatInterval is the idle interval between SSE heartbeats and WS pings.
var heartbeatInterval = 15 * time.Second

// subscribePlan subscribes to id's events and reports the plan's current state.
// When the plan is already finished, the terminal event is returned instead of
// a subscription.
func (s *Server) subscribePlan(r *http.Request, id string) (chan Event, *Event, error) {
	ch := s.Broker.Subscribe(id)
	p, err := s.Store.GetPlan(r.Context(), id)
	if err != nil {
		s.Broker.Unsubscribe(id, ch)
		return nil, nil, err
	}
	switch p.Status {
	case model.PlanCompleted:
		s.Broker.Unsubscribe(id, ch)
		evt := completedEvent(p)
		return nil, &evt, nil
	case model.PlanFailed:
		s.Broker.Unsubscribe(id, ch)
		evt := Event{Type: EventPlanFailed, Data: map[string]any{"planId": id, "error": p.Error}}
		return nil, &evt, nil
	}
	return ch, nil, nil
}

// planEventsSSE streams plan events as text/event-stream until the plan
// finishes or the client goes away.
func (s *Server) planEventsSSE(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	ch, done, err := s.subscribePlan(r, id)
	if err != nil {
		s.storeProblem(w, r, err, "Subscribe failed")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"planId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	send := func(evt Event) {
		b, _ := json.Marshal(evt.Data)
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}
	heartbeat()
	if done != nil {
		send(*done)
		return
	}
	defer s.Broker.Unsubscribe(id, ch)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			send(evt)
			if evt.terminal() {
				return
			}
		case <-ticker.C:
			heartbeat()
		}
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// planEventsWS relays plan events over a WebSocket as {"type":"next"} messages,
// then sends "complete" and closes once the plan finishes. Clients may send
// {"type":"ping"} and get a pong.
func (s *Server) planEventsWS(w http.ResponseWriter, r *http.Request, id string) {
	ch, done, err := s.subscribePlan(r, id)
	if err != nil {
		s.storeProblem(w, r, err, "Subscribe failed")
		return
	}
	if ch != nil {
		defer s.Broker.Unsubscribe(id, ch)
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// gorilla connections allow one concurrent writer; every write goes through out.
	out := make(chan wsMessage, 8)
	readerDone := make(chan struct{})

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(4 * heartbeatInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(4 * heartbeatInterval))
	})
	go func() {
		defer close(readerDone)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(4 * heartbeatInterval))
			if msg.Type == "ping" {
				select {
				case out <- wsMessage{Type: "pong"}:
				default:
				}
			}
		}
	}()

	write := func(m wsMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(m) == nil
	}
	next := func(evt Event) wsMessage {
		b, _ := json.Marshal(evt)
		return wsMessage{Type: "next", Payload: b}
	}
	finish := func() {
		write(wsMessage{Type: "complete"})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "plan finished"), time.Now().Add(time.Second))
	}

	if !write(wsMessage{Type: "connection_ack"}) {
		return
	}
	if done != nil {
		write(next(*done))
		finish()
		return
	}
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-readerDone:
			return
		case m := <-out:
			if !write(m) {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if !write(next(evt)) {
				return
			}
			if evt.terminal() {
				finish()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				s.Log.Debug("ws ping failed", zap.String("planId", id), zap.Error(err))
				return
			}
		}
	}
}
