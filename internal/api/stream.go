package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/l2labs/sequencer/internal/queue"
	"github.com/l2labs/sequencer/internal/recovery"
	"github.com/l2labs/sequencer/internal/sequencer"
	"github.com/l2labs/sequencer/internal/types"
	"github.com/l2labs/sequencer/log"
)

// streamEvent is the wire envelope for every /v1/stream message.
type streamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamHub fans subsystem events out to every connected websocket
// client; each client gets its own buffered channel so one slow reader
// can't stall the others.
type streamHub struct {
	mu      sync.Mutex
	clients map[chan streamEvent]struct{}
}

func newStreamHub() *streamHub {
	return &streamHub{clients: make(map[chan streamEvent]struct{})}
}

func (h *streamHub) register() chan streamEvent {
	ch := make(chan streamEvent, 32)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *streamHub) unregister(ch chan streamEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *streamHub) broadcast(ev streamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// slow consumer; drop rather than block the publisher
		}
	}
}

func (h *streamHub) watchQueue(q *queue.Queue) {
	go func() {
		ch := make(chan queue.BackpressureEvent, 16)
		sub := q.Backpressure.Subscribe(ch)
		defer sub.Unsubscribe()
		for ev := range ch {
			h.broadcast(streamEvent{Type: "backpressure", Data: ev})
		}
	}()
}

func (h *streamHub) watchSequencer(s *sequencer.Sequencer) {
	if s == nil {
		return
	}
	go func() {
		ch := make(chan sequencer.BatchEvent, 32)
		sub := s.Events.Subscribe(ch)
		defer sub.Unsubscribe()
		for ev := range ch {
			h.broadcast(streamEvent{Type: batchEventType(ev.Status), Data: ev})
		}
	}()
}

func batchEventType(status types.BatchStatus) string {
	switch status {
	case types.BatchConfirmed:
		return "batch_confirmed"
	case types.BatchErrored:
		return "batch_errored"
	default:
		return "batch_ready"
	}
}

func (h *streamHub) watchRecovery(e *recovery.Engine) {
	go func() {
		ch := make(chan recovery.CriticalAlert, 16)
		sub := e.Alerts.Subscribe(ch)
		defer sub.Unsubscribe()
		for alert := range ch {
			h.broadcast(streamEvent{Type: "inconsistency_detected", Data: alert})
		}
	}()
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("api: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch := s.hub.register()
	defer s.hub.unregister(ch)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
