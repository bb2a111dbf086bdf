package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sseChunk(t *testing.T, payload map[string]any) string {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal chunk: %v", err)
	}
	return fmt.Sprintf("data: %s\n\n", data)
}

func TestOpenAIStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}

		var req struct {
			Model    string `json:"model"`
			Stream   bool   `json:"stream"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			StreamOptions struct {
				IncludeUsage bool `json:"include_usage"`
			} `json:"stream_options"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Fatalf("expected model gpt-4o-mini, got %q", req.Model)
		}
		if !req.Stream {
			t.Fatal("expected stream:true in request")
		}
		if !req.StreamOptions.IncludeUsage {
			t.Fatal("expected stream_options.include_usage in request")
		}
		if len(req.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(req.Messages))
		}
		if req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Fatalf("unexpected roles: %#v", req.Messages)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		var body strings.Builder
		body.WriteString(sseChunk(t, map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion.chunk", "created": 123, "model": "gpt-4o-mini",
			"choices": []map[string]any{{"index": 0, "delta": map[string]any{"role": "assistant", "content": "Hello"}}},
		}))
		body.WriteString(sseChunk(t, map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion.chunk", "created": 123, "model": "gpt-4o-mini",
			"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": " there."}, "finish_reason": "stop"}},
		}))
		body.WriteString(sseChunk(t, map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion.chunk", "created": 123, "model": "gpt-4o-mini",
			"choices": []map[string]any{},
			"usage":   map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		}))
		body.WriteString("data: [DONE]\n\n")
		_, _ = w.Write([]byte(body.String()))
	}))
	defer server.Close()

	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("newOpenAIClient failed: %v", err)
	}

	var deltas []string
	usage, err := client.Stream(context.Background(), []Message{
		{Role: "system", Content: "you are helpful"},
		{Role: "user", Content: "hello"},
	}, func(delta string) { deltas = append(deltas, delta) })
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	if got := strings.Join(deltas, ""); got != "Hello there." {
		t.Fatalf("expected assembled response %q, got %q", "Hello there.", got)
	}
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d: %#v", len(deltas), deltas)
	}
	if usage.PromptTokens != 12 || usage.CompletionTokens != 3 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
}

func TestOpenAIStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sseChunk(t, map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion.chunk", "created": 123, "model": "gpt-4o-mini",
			"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": "partial"}}},
		})))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("newOpenAIClient failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Stream(ctx, []Message{{Role: "user", Content: "hello"}}, func(delta string) {
			if delta == "partial" {
				cancel()
			}
		})
		done <- err
	}()

	if err := <-done; err == nil {
		t.Fatal("expected error after cancellation, got nil")
	}
}
