package routing

import (
	"fmt"
	"sync"
)

// Family is the capability an endpoint serves.
type Family string

const (
	FamilyLLM Family = "llm"
	FamilyTTS Family = "tts"
	FamilySTT Family = "stt"
)

// Status is the externally-reported health of an endpoint. The router reads
// it but never writes it; health signals do.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
	StatusDisabled    Status = "disabled"
	StatusLoading     Status = "loading"
)

// Usable reports whether an endpoint in this status may serve a turn.
func (s Status) Usable() bool {
	return s == StatusAvailable || s == StatusDegraded
}

// Endpoint is the static descriptor of one backend instance. Everything here
// is fixed at registration; only the registry-held status changes afterward.
type Endpoint struct {
	ID       string `yaml:"id"`
	Family   Family `yaml:"family"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model,omitempty"`

	MaxContextTokens int `yaml:"max_context_tokens"`
	MaxOutputTokens  int `yaml:"max_output_tokens"`

	TTFTMillis   float64 `yaml:"ttft_millis"`
	TokensPerSec float64 `yaml:"tokens_per_sec"`
	Reliability  float64 `yaml:"reliability"`
	CostPerToken float64 `yaml:"cost_per_token"`

	// Conditions gate eligibility; all must hold against the snapshot.
	// An empty set means the endpoint is an unconditional fallback.
	Conditions []Condition `yaml:"conditions,omitempty"`
}

// Validate checks the descriptor's required fields and its condition set.
func (ep Endpoint) Validate() error {
	if ep.ID == "" {
		return fmt.Errorf("endpoint id is required")
	}
	if ep.Family == "" {
		return fmt.Errorf("endpoint %s: family is required", ep.ID)
	}
	for i, c := range ep.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("endpoint %s: condition %d: %w", ep.ID, i, err)
		}
	}
	return nil
}

// Candidate pairs an endpoint descriptor with its current status.
type Candidate struct {
	Endpoint Endpoint
	Status   Status
}

type registryEntry struct {
	endpoint Endpoint
	status   Status
}

// Registry holds the registered endpoints in insertion order. Registration
// happens once at startup; status updates arrive from external health
// signals and are the only mutation afterward, guarded by the registry's
// own lock so they never contend with a session transition.
type Registry struct {
	mu      sync.RWMutex
	entries []*registryEntry
	byID    map[string]*registryEntry
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*registryEntry)}
}

// Register adds an endpoint with status available. Registration order is
// preserved and breaks ranking ties in Select.
func (r *Registry) Register(ep Endpoint) error {
	if err := ep.Validate(); err != nil {
		return fmt.Errorf("register endpoint: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[ep.ID]; exists {
		return fmt.Errorf("register endpoint: duplicate id %q", ep.ID)
	}

	entry := &registryEntry{endpoint: ep, status: StatusAvailable}
	r.entries = append(r.entries, entry)
	r.byID[ep.ID] = entry
	return nil
}

// SetStatus records an external health update for one endpoint.
func (r *Registry) SetStatus(id string, status Status) error {
	switch status {
	case StatusAvailable, StatusDegraded, StatusUnavailable, StatusDisabled, StatusLoading:
	default:
		return fmt.Errorf("set status %s: unknown status %q", id, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("set status: unknown endpoint %q", id)
	}
	entry.status = status
	return nil
}

// Status returns the current status of an endpoint.
func (r *Registry) Status(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return entry.status, true
}

// Candidates returns the endpoints of one family, in registration order,
// each paired with its status at call time.
func (r *Registry) Candidates(family Family) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Candidate
	for _, entry := range r.entries {
		if entry.endpoint.Family != family {
			continue
		}
		out = append(out, Candidate{Endpoint: entry.endpoint, Status: entry.status})
	}
	return out
}
