package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/sjawhar/voxflow/internal/routing"
	"github.com/sjawhar/voxflow/internal/session"
)

// Generator adapts the provider clients to the orchestrator's streaming
// interface. Clients are built lazily per endpoint and reused across turns;
// the router may pick a different endpoint each turn, so the cache is keyed
// by endpoint ID.
type Generator struct {
	apiKeys      map[string]string
	systemPrompt string
	baseURL      string

	mu      sync.Mutex
	clients map[string]Client
}

func NewGenerator(apiKeys map[string]string, systemPrompt string, opts ...Option) *Generator {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return &Generator{
		apiKeys:      apiKeys,
		systemPrompt: systemPrompt,
		baseURL:      o.baseURL,
		clients:      make(map[string]Client),
	}
}

func (g *Generator) clientFor(endpoint routing.Endpoint) (Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if client, ok := g.clients[endpoint.ID]; ok {
		return client, nil
	}

	apiKey, ok := g.apiKeys[endpoint.Provider]
	if !ok {
		return nil, fmt.Errorf("no API key configured for provider %q", endpoint.Provider)
	}

	var opts []Option
	if g.baseURL != "" {
		opts = append(opts, WithBaseURL(g.baseURL))
	}
	client, err := NewClient(endpoint.Provider, apiKey, endpoint.Model, opts...)
	if err != nil {
		return nil, err
	}

	g.clients[endpoint.ID] = client
	return client, nil
}

func (g *Generator) Generate(ctx context.Context, endpoint routing.Endpoint, history []session.Turn, emit func(delta string)) (session.Usage, error) {
	client, err := g.clientFor(endpoint)
	if err != nil {
		return session.Usage{}, err
	}

	messages := make([]Message, 0, len(history)+1)
	if g.systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: g.systemPrompt})
	}
	for _, turn := range history {
		messages = append(messages, Message{Role: string(turn.Role), Content: turn.Text})
	}

	usage, err := client.Stream(ctx, messages, emit)
	if err != nil {
		return session.Usage{}, err
	}
	return session.Usage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
	}, nil
}
