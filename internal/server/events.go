package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type StateChangedEvent struct {
	Event
	From string `json:"from"`
	To   string `json:"to"`
}

type PartialTranscriptEvent struct {
	Event
	Text string `json:"text"`
}

type PartialResponseEvent struct {
	Event
	Text string `json:"text"`
}

type TurnCommittedEvent struct {
	Event
	Role string `json:"role"`
	Text string `json:"text"`
}

type SessionErrorEvent struct {
	Event
	Error string `json:"error"`
}

type MetricsEvent struct {
	Event
	TurnCount         int     `json:"turn_count"`
	InterruptionCount int     `json:"interruption_count"`
	ErrorCount        int     `json:"error_count"`
	CostUSD           float64 `json:"cost_usd"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
