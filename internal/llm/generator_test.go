package llm

import (
	"context"
	"testing"

	"github.com/sjawhar/voxflow/internal/routing"
	"github.com/sjawhar/voxflow/internal/session"
)

type stubClient struct {
	calls  [][]Message
	deltas []string
	usage  Usage
	err    error
}

func (s *stubClient) Stream(ctx context.Context, messages []Message, emit func(delta string)) (Usage, error) {
	s.calls = append(s.calls, messages)
	if s.err != nil {
		return Usage{}, s.err
	}
	for _, d := range s.deltas {
		emit(d)
	}
	return s.usage, nil
}

func TestGeneratorConvertsHistory(t *testing.T) {
	stub := &stubClient{deltas: []string{"hi ", "there"}, usage: Usage{PromptTokens: 7, CompletionTokens: 2}}
	gen := NewGenerator(map[string]string{"openai": "test-key"}, "stay on topic")
	gen.clients["ep-1"] = stub

	endpoint := routing.Endpoint{ID: "ep-1", Provider: "openai", Model: "gpt-4o-mini"}
	history := []session.Turn{
		{Role: session.RoleUser, Text: "hello"},
		{Role: session.RoleAssistant, Text: "hey"},
		{Role: session.RoleUser, Text: "tell me more"},
	}

	var got string
	usage, err := gen.Generate(context.Background(), endpoint, history, func(delta string) { got += delta })
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "hi there" {
		t.Fatalf("expected assembled deltas, got %q", got)
	}
	if usage.PromptTokens != 7 || usage.CompletionTokens != 2 {
		t.Fatalf("unexpected usage: %+v", usage)
	}

	if len(stub.calls) != 1 {
		t.Fatalf("expected 1 stream call, got %d", len(stub.calls))
	}
	messages := stub.calls[0]
	if len(messages) != 4 {
		t.Fatalf("expected system prompt plus 3 turns, got %d messages", len(messages))
	}
	if messages[0].Role != "system" || messages[0].Content != "stay on topic" {
		t.Fatalf("expected system prompt first, got %#v", messages[0])
	}
	if messages[1].Role != "user" || messages[2].Role != "assistant" || messages[3].Role != "user" {
		t.Fatalf("unexpected roles: %#v", messages)
	}
}

func TestGeneratorCachesClientsPerEndpoint(t *testing.T) {
	stub := &stubClient{}
	gen := NewGenerator(map[string]string{"openai": "test-key"}, "")
	gen.clients["ep-1"] = stub

	endpoint := routing.Endpoint{ID: "ep-1", Provider: "openai", Model: "gpt-4o-mini"}
	for i := 0; i < 3; i++ {
		if _, err := gen.Generate(context.Background(), endpoint, []session.Turn{{Role: session.RoleUser, Text: "hi"}}, func(string) {}); err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
	}
	if len(stub.calls) != 3 {
		t.Fatalf("expected the cached client to serve all calls, got %d", len(stub.calls))
	}
}

func TestGeneratorMissingAPIKey(t *testing.T) {
	gen := NewGenerator(map[string]string{}, "")
	endpoint := routing.Endpoint{ID: "ep-1", Provider: "anthropic", Model: "claude-3-5-sonnet-20240620"}

	_, err := gen.Generate(context.Background(), endpoint, []session.Turn{{Role: session.RoleUser, Text: "hi"}}, func(string) {})
	if err == nil {
		t.Fatal("expected error when no API key is configured, got nil")
	}
}
