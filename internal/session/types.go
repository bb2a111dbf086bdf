package session

import (
	"context"
	"time"

	"github.com/sjawhar/voxflow/internal/replay"
	"github.com/sjawhar/voxflow/internal/routing"
)

// State is the single source of truth for what the host UI may display and
// which audio hardware may be active. Exactly one state is active at a time.
type State string

const (
	StateIdle                 State = "idle"
	StateUserTurn             State = "userTurn"
	StateProcessingUtterance  State = "processingUtterance"
	StateModelThinking        State = "modelThinking"
	StateModelSpeaking        State = "modelSpeaking"
	StateInterrupted          State = "interrupted"
	StatePaused               State = "paused"
	StateError                State = "error"
)

// Active reports whether a session is in progress.
func (s State) Active() bool {
	return s != StateIdle
}

// Role tags one side of a committed turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one committed history entry. History is append-only; a Turn is
// never edited after commit.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Metrics accumulates monotonically over one session; it is reset only when
// a new session starts.
type Metrics struct {
	TurnCount         int     `json:"turn_count"`
	InterruptionCount int     `json:"interruption_count"`
	ErrorCount        int     `json:"error_count"`
	CostUSD           float64 `json:"cost_usd"`

	// Latency samples in milliseconds, one per turn phase.
	ThinkingMillis []float64 `json:"thinking_millis"`
	SpeakingMillis []float64 `json:"speaking_millis"`
}

// Context is the orchestrator-owned session state. It is mutated only by
// transition actions under the single-writer discipline; everything handed
// out to observers is a copy.
type Context struct {
	SessionID string
	TopicID   string
	StartedAt time.Time

	History          []Turn
	PendingUtterance string
	PendingResponse  string

	Metrics    Metrics
	RetryCount int
	MaxRetries int
	Err        error

	// Phase entry times for latency samples.
	thinkingSince time.Time
	speakingSince time.Time
}

// Snapshot is the finalized record handed to the Persister when a session
// reaches idle from an active state.
type Snapshot struct {
	SessionID string
	TopicID   string
	StartedAt time.Time
	EndedAt   time.Time
	History   []Turn
	Metrics   Metrics
}

// Usage reports the token consumption of one completed generation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// TurnRouter selects one endpoint per capability family for a turn.
type TurnRouter interface {
	Pick(snap routing.Snapshot, family routing.Family) (routing.Endpoint, error)
}

// ConditionSource builds the immutable routing snapshot for one decision.
type ConditionSource interface {
	Snapshot(promptTokens, historyTokens int) routing.Snapshot
}

// EndpointHealth receives stream outcomes so later routing snapshots
// reflect how providers are actually behaving. Implementations must be
// safe for concurrent use; calls come from stream goroutines.
type EndpointHealth interface {
	RecordLatency(endpointID string, elapsed time.Duration)
	MarkUnavailable(endpointID string)
}

// Recognizer controls the speech-capture stream. Start and Stop must be
// idempotent; transcript and VAD events come back through the orchestrator's
// event methods, not through this interface.
type Recognizer interface {
	Start(ctx context.Context) error
	Stop() error
}

// Generator streams one model response. It calls emit once per content
// delta and returns final usage when the stream completes. It must return
// promptly when ctx is cancelled.
type Generator interface {
	Generate(ctx context.Context, endpoint routing.Endpoint, history []Turn, emit func(delta string)) (Usage, error)
}

// Synthesizer converts one text chunk into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, endpoint routing.Endpoint, text string) ([]byte, error)
}

// AudioSink is the playback device boundary. Play enqueues one segment in
// order; Drain blocks until everything enqueued has played out; Cancel
// drops queued audio immediately and must be safe to call at any time.
type AudioSink interface {
	Play(ctx context.Context, seg replay.Segment) error
	Drain(ctx context.Context) error
	Cancel()
}

// Persister receives the finalized snapshot of a completed session. The
// orchestrator does not know the storage format.
type Persister interface {
	SaveSession(ctx context.Context, snap Snapshot) error
}

// Notifier is the host/UI observation surface. Implementations must not
// block; they are called from inside transitions.
type Notifier interface {
	StateChanged(from, to State)
	PartialTranscript(text string)
	PartialResponse(text string)
	TurnCommitted(turn Turn)
	SessionError(err error)
	MetricsUpdated(m Metrics)
}
