package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/voxflow/internal/session"
)

// Hub fans session events out to connected websocket clients. It implements
// the orchestrator's Notifier, so broadcasts happen from inside transitions
// and must never block; slow clients lose events.
type Hub struct {
	log     *slog.Logger
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) StateChanged(from, to session.State) {
	h.broadcastEvent(StateChangedEvent{
		Event: newEvent("state_changed", time.Now().UTC()),
		From:  string(from),
		To:    string(to),
	})
}

func (h *Hub) PartialTranscript(text string) {
	h.broadcastEvent(PartialTranscriptEvent{
		Event: newEvent("partial_transcript", time.Now().UTC()),
		Text:  text,
	})
}

func (h *Hub) PartialResponse(text string) {
	h.broadcastEvent(PartialResponseEvent{
		Event: newEvent("partial_response", time.Now().UTC()),
		Text:  text,
	})
}

func (h *Hub) TurnCommitted(turn session.Turn) {
	h.broadcastEvent(TurnCommittedEvent{
		Event: newEvent("turn_committed", time.Now().UTC()),
		Role:  string(turn.Role),
		Text:  turn.Text,
	})
}

func (h *Hub) SessionError(err error) {
	h.broadcastEvent(SessionErrorEvent{
		Event: newEvent("session_error", time.Now().UTC()),
		Error: err.Error(),
	})
}

func (h *Hub) MetricsUpdated(m session.Metrics) {
	h.broadcastEvent(MetricsEvent{
		Event:             newEvent("metrics", time.Now().UTC()),
		TurnCount:         m.TurnCount,
		InterruptionCount: m.InterruptionCount,
		ErrorCount:        m.ErrorCount,
		CostUSD:           m.CostUSD,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("event marshal error", "error", err)
		return
	}
	h.Broadcast(payload)
}
