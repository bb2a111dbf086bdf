package server

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sjawhar/voxflow/internal/session"
)

func recvEvent(t *testing.T, ch chan []byte) map[string]any {
	t.Helper()
	select {
	case msg := <-ch:
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if payload["version"] == nil {
			t.Fatalf("expected version field in payload: %s", string(msg))
		}
		if payload["timestamp"] == nil {
			t.Fatalf("expected timestamp field in payload: %s", string(msg))
		}
		return payload
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for broadcast")
		return nil
	}
}

func TestHubStateChangedShape(t *testing.T) {
	hub := NewHub(nil)
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.StateChanged(session.StateModelThinking, session.StateModelSpeaking)

	payload := recvEvent(t, ch)
	if payload["type"] != "state_changed" {
		t.Fatalf("expected state_changed, got %#v", payload["type"])
	}
	if payload["from"] != "modelThinking" || payload["to"] != "modelSpeaking" {
		t.Fatalf("unexpected transition payload: %#v", payload)
	}
}

func TestHubTurnCommittedShape(t *testing.T) {
	hub := NewHub(nil)
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.TurnCommitted(session.Turn{Role: session.RoleAssistant, Text: "Sure, here goes."})

	payload := recvEvent(t, ch)
	if payload["type"] != "turn_committed" {
		t.Fatalf("expected turn_committed, got %#v", payload["type"])
	}
	if payload["role"] != "assistant" || payload["text"] != "Sure, here goes." {
		t.Fatalf("unexpected turn payload: %#v", payload)
	}
}

func TestHubMetricsShape(t *testing.T) {
	hub := NewHub(nil)
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.MetricsUpdated(session.Metrics{TurnCount: 4, InterruptionCount: 1, CostUSD: 0.01})

	payload := recvEvent(t, ch)
	if payload["type"] != "metrics" {
		t.Fatalf("expected metrics, got %#v", payload["type"])
	}
	if payload["turn_count"].(float64) != 4 {
		t.Fatalf("unexpected metrics payload: %#v", payload)
	}
}

func TestHubSessionErrorShape(t *testing.T) {
	hub := NewHub(nil)
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.SessionError(errors.New("generation failed"))

	payload := recvEvent(t, ch)
	if payload["type"] != "session_error" {
		t.Fatalf("expected session_error, got %#v", payload["type"])
	}
	if payload["error"] != "generation failed" {
		t.Fatalf("unexpected error payload: %#v", payload)
	}
}

func TestHubSlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	// Fill the client buffer past capacity; broadcasts must keep returning.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			hub.PartialResponse("delta")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}
