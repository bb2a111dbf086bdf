// Package session owns the turn-taking protocol of a live voice
// conversation. The legal transitions live in a pure machine (machine.go);
// the Orchestrator funnels events from the host and the three provider
// streams through a single-writer queue, interprets the machine's effects,
// and is the only component the host application talks to.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/voxflow/internal/replay"
	"github.com/sjawhar/voxflow/internal/routing"
	"github.com/sjawhar/voxflow/internal/speech"
)

const (
	defaultMaxRetries    = 3
	defaultDrainTimeout  = 10 * time.Second
	persistTimeout       = 5 * time.Second
	defaultConfirmWindow = 750 * time.Millisecond

	// One turn rarely produces this many sentences; the queue bound keeps
	// a runaway generation stream from holding unbounded memory.
	sentenceQueueDepth = 128
)

// Deps are the orchestrator's collaborators. Cache, Router, Conditions,
// Generator, and Synthesizer are required; the rest may be nil and the
// matching behavior is skipped.
type Deps struct {
	Router      TurnRouter
	Conditions  ConditionSource
	Recognizer  Recognizer
	Generator   Generator
	Synthesizer Synthesizer
	Sink        AudioSink
	Cache       *replay.Cache
	Persister   Persister
	Notifier    Notifier
	Health      EndpointHealth
	Logger      *slog.Logger
}

type Options struct {
	MaxRetries   int
	DrainTimeout time.Duration

	// ConfirmWindow is how long a tentative interruption waits for VAD
	// confirmation before queued audio finishing is allowed to end the
	// interruption as a false positive.
	ConfirmWindow time.Duration
}

type activeTurn struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	llm       routing.Endpoint
	tts       routing.Endpoint
	topicID   string
	chunker   *speech.Chunker
	sentences chan string

	// inputDone is set, under the orchestrator lock, once sentences is
	// closed so no effect can write to a closed channel.
	inputDone bool
}

// Orchestrator serializes all session mutation through one mutex held for
// the duration of a single transition. Provider streams run in goroutines
// and feed events back in; none of the effect handlers block while the
// lock is held.
type Orchestrator struct {
	deps          Deps
	log           *slog.Logger
	maxRetries    int
	drainTimeout  time.Duration
	confirmWindow time.Duration

	mu       sync.Mutex
	state    State
	sctx     Context
	turnSeq  uint64
	turn     *activeTurn
	segIndex int

	// pending holds follow-up events raised while a transition is already
	// being applied; the pump in applyLocked drains it so each transition
	// runs and notifies to completion before the next begins.
	pending  []event
	applying bool
}

func New(deps Deps, opts Options) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	drain := opts.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}
	confirm := opts.ConfirmWindow
	if confirm <= 0 {
		confirm = defaultConfirmWindow
	}
	return &Orchestrator{
		deps:          deps,
		log:           logger,
		maxRetries:    maxRetries,
		drainTimeout:  drain,
		confirmWindow: confirm,
		state:         StateIdle,
	}
}

// Start begins a new session, optionally bound to a topic for replay
// caching. It fails if a session is already active.
func (o *Orchestrator) Start(topicID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateIdle {
		return ErrSessionActive
	}

	o.segIndex = 0
	o.applyLocked(evStart{
		SessionID:  uuid.NewString(),
		TopicID:    topicID,
		MaxRetries: o.maxRetries,
	})
	return nil
}

// InterimTranscript records in-progress recognition text.
func (o *Orchestrator) InterimTranscript(text string) { o.dispatch(evInterimTranscript{Text: text}) }

// FinalTranscript commits the recognized utterance and begins a turn.
func (o *Orchestrator) FinalTranscript(text string) { o.dispatch(evFinalTranscript{Text: text}) }

// SpeechDetected marks a candidate barge-in while the model is responding.
func (o *Orchestrator) SpeechDetected() { o.dispatch(evSpeechDetected{}) }

// SpeechConfirmed confirms that a detected barge-in was sustained speech.
func (o *Orchestrator) SpeechConfirmed() { o.dispatch(evSpeechConfirmed{}) }

// Pause stops audio capture without clearing session state. Safe to call
// repeatedly.
func (o *Orchestrator) Pause() { o.dispatch(evPause{}) }

// Resume restarts capture after a pause.
func (o *Orchestrator) Resume() { o.dispatch(evResume{}) }

// Stop ends the session from any state, cancels the provider streams, and
// hands the finalized snapshot to the persister.
func (o *Orchestrator) Stop() { o.dispatch(evStop{}) }

// Retry attempts to recover from an error state; once retries are
// exhausted it resets the session instead.
func (o *Orchestrator) Retry() { o.dispatch(evRetry{}) }

// Dismiss clears the stored error and resumes the conversation without
// re-establishing the failed call.
func (o *Orchestrator) Dismiss() { o.dispatch(evDismiss{}) }

// ReportFailure surfaces an external failure (audio hardware, host-side
// provider health) into the session.
func (o *Orchestrator) ReportFailure(err error) { o.dispatch(evFailure{Err: err}) }

// State returns the current session state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SessionID returns the active session's identifier, or "" when idle.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sctx.SessionID
}

// PendingUtterance returns the interim transcript scratch buffer.
func (o *Orchestrator) PendingUtterance() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sctx.PendingUtterance
}

// PendingResponse returns the in-flight generated text.
func (o *Orchestrator) PendingResponse() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sctx.PendingResponse
}

// History returns a copy of the committed turns.
func (o *Orchestrator) History() []Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Turn, len(o.sctx.History))
	copy(out, o.sctx.History)
	return out
}

// Metrics returns a copy of the session counters and latency samples.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copyMetrics(o.sctx.Metrics)
}

// Err returns the stored session error, if the session is in the error
// state.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sctx.Err
}

func (o *Orchestrator) dispatch(ev event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.applyLocked(ev)
}

// turnDispatch delivers an event from a provider stream goroutine, dropping
// it when the turn that produced it has been superseded.
func (o *Orchestrator) turnDispatch(turnID uint64, ev event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.turn == nil || o.turn.id != turnID {
		o.log.Debug("dropping event from superseded turn",
			"event", ev.eventName(), "turn", turnID)
		return
	}
	o.applyLocked(ev)
}

// applyLocked enqueues the event and, unless a transition is already in
// progress, pumps the queue. Effects that raise follow-up events (the
// utterance guard, endpoint selection failures) land behind the current
// event instead of recursing, so every transition notifies exactly once
// and in order.
func (o *Orchestrator) applyLocked(ev event) {
	o.pending = append(o.pending, ev)
	if o.applying {
		return
	}
	o.applying = true
	defer func() { o.applying = false }()

	for len(o.pending) > 0 {
		next := o.pending[0]
		o.pending = o.pending[1:]
		o.stepLocked(next)
	}
}

func (o *Orchestrator) stepLocked(ev event) {
	tr := apply(o.state, o.sctx, ev, time.Now())
	if tr.violation {
		// A late event from a cancelled stream racing the state machine,
		// not a genuine failure. Swallow it.
		o.log.Debug("ignoring event illegal in current state",
			"event", ev.eventName(), "state", string(o.state))
		return
	}

	from := o.state
	committedBefore := len(o.sctx.History)
	o.state = tr.state
	o.sctx = tr.ctx

	for _, eff := range tr.effects {
		o.runEffectLocked(eff)
	}

	o.notifyLocked(from, ev, committedBefore)
}

func (o *Orchestrator) notifyLocked(from State, ev event, committedBefore int) {
	n := o.deps.Notifier
	if n == nil {
		return
	}

	if o.state != from {
		n.StateChanged(from, o.state)
	}

	switch ev := ev.(type) {
	case evInterimTranscript:
		n.PartialTranscript(ev.Text)
	case evFinalTranscript:
		n.PartialTranscript(ev.Text)
	case evToken:
		n.PartialResponse(o.sctx.PendingResponse)
	case evUsageReport:
		n.MetricsUpdated(copyMetrics(o.sctx.Metrics))
	case evFailure:
		n.SessionError(ev.Err)
	}

	for i := committedBefore; i < len(o.sctx.History); i++ {
		n.TurnCommitted(o.sctx.History[i])
	}
}

func (o *Orchestrator) runEffectLocked(eff effect) {
	switch eff := eff.(type) {
	case effectStartCapture:
		o.startCapture()
	case effectStopCapture:
		o.stopCapture()
	case effectEvaluateUtterance:
		o.applyLocked(evUtteranceReady{})
	case effectBeginTurn:
		o.beginTurnLocked(eff.Utterance)
	case effectCancelTurn:
		o.cancelTurnLocked()
	case effectAwaitPlayback:
		o.awaitPlaybackLocked()
	case effectCancelPlayback:
		if o.deps.Sink != nil {
			o.deps.Sink.Cancel()
		}
	case effectSynthesize:
		o.synthesizeLocked(eff.Content)
	case effectFinishSynthesis:
		o.finishSynthesisLocked()
	case effectPersist:
		o.persist(eff.Snapshot)
	case effectClearReplay:
		if o.deps.Cache != nil {
			o.deps.Cache.Clear()
		}
	}
}

func (o *Orchestrator) startCapture() {
	r := o.deps.Recognizer
	if r == nil {
		return
	}
	go func() {
		if err := r.Start(context.Background()); err != nil {
			o.dispatch(evFailure{Err: fmt.Errorf("start speech capture: %w", err)})
		}
	}()
}

func (o *Orchestrator) stopCapture() {
	r := o.deps.Recognizer
	if r == nil {
		return
	}
	go func() {
		if err := r.Stop(); err != nil {
			o.log.Warn("stop speech capture failed", "error", err)
		}
	}()
}

// beginTurnLocked implements the turn-initiation contract: one endpoint
// choice per family from a fresh condition snapshot, synchronously, before
// any stream starts. No usable endpoint fails the turn.
func (o *Orchestrator) beginTurnLocked(utterance string) {
	snap := o.deps.Conditions.Snapshot(estimateTokens(utterance), o.historyTokensLocked())

	llmEP, err := o.deps.Router.Pick(snap, routing.FamilyLLM)
	if err != nil {
		o.applyLocked(evFailure{Err: fmt.Errorf("select llm endpoint: %w", err)})
		return
	}
	ttsEP, err := o.deps.Router.Pick(snap, routing.FamilyTTS)
	if err != nil {
		o.applyLocked(evFailure{Err: fmt.Errorf("select tts endpoint: %w", err)})
		return
	}

	topicID := o.sctx.TopicID
	if topicID == "" {
		topicID = o.sctx.SessionID
	}

	tctx, cancel := context.WithCancel(context.Background())
	o.turnSeq++
	turn := &activeTurn{
		id:        o.turnSeq,
		ctx:       tctx,
		cancel:    cancel,
		llm:       llmEP,
		tts:       ttsEP,
		topicID:   topicID,
		chunker:   speech.NewChunker(),
		sentences: make(chan string, sentenceQueueDepth),
	}
	o.turn = turn

	o.log.Info("turn started",
		"session", o.sctx.SessionID,
		"turn", turn.id,
		"llm_endpoint", llmEP.ID,
		"tts_endpoint", ttsEP.ID)

	history := make([]Turn, len(o.sctx.History))
	copy(history, o.sctx.History)

	go o.runGeneration(turn, history)
	go o.runSynthesis(turn)
}

// cancelTurnLocked tells the in-flight streams to stop producing work. It
// is idempotent and fire-and-forget: a stream that already finished
// naturally just sees a cancelled context it no longer reads.
func (o *Orchestrator) cancelTurnLocked() {
	if o.turn == nil {
		return
	}
	turn := o.turn
	turn.once.Do(func() {
		turn.cancel()
		turn.inputDone = true
		close(turn.sentences)
	})
}

// awaitPlaybackLocked watches the output device after a tentative
// interruption. The cancelled synthesis worker no longer reports
// completion, so this watcher is the only way a false positive resolves.
// It waits out the confirmation window before draining, so queued audio
// ending cannot close the interruption while confirmation is still in
// flight. A confirmation arriving first moves the session on and the
// late report is swallowed as a no-op.
func (o *Orchestrator) awaitPlaybackLocked() {
	if o.turn == nil {
		return
	}
	turnID := o.turn.id
	go func() {
		time.Sleep(o.confirmWindow)
		if o.deps.Sink != nil {
			drainCtx, cancel := context.WithTimeout(context.Background(), o.drainTimeout)
			defer cancel()
			if err := o.deps.Sink.Drain(drainCtx); err != nil {
				o.log.Warn("audio drain did not finish cleanly", "turn", turnID, "error", err)
			}
		}
		o.turnDispatch(turnID, evPlaybackComplete{})
	}()
}

func (o *Orchestrator) synthesizeLocked(content string) {
	if o.turn == nil || o.turn.inputDone {
		return
	}
	for _, sentence := range o.turn.chunker.Write(content) {
		o.enqueueSentenceLocked(sentence)
	}
}

func (o *Orchestrator) finishSynthesisLocked() {
	if o.turn == nil || o.turn.inputDone {
		return
	}
	if rest := o.turn.chunker.Flush(); rest != "" {
		o.enqueueSentenceLocked(rest)
	}
	turn := o.turn
	turn.once.Do(func() {
		turn.inputDone = true
		close(turn.sentences)
	})
}

func (o *Orchestrator) enqueueSentenceLocked(sentence string) {
	select {
	case o.turn.sentences <- sentence:
	default:
		// The synthesis worker is far behind; dropping keeps the event
		// queue from blocking at the cost of a gap in this turn's audio.
		o.log.Warn("synthesis queue full, dropping sentence", "turn", o.turn.id)
	}
}

func (o *Orchestrator) runGeneration(turn *activeTurn, history []Turn) {
	first := true
	started := time.Now()
	usage, err := o.deps.Generator.Generate(turn.ctx, turn.llm, history, func(delta string) {
		if delta == "" {
			return
		}
		if first {
			first = false
			o.turnDispatch(turn.id, evFirstToken{})
		}
		o.turnDispatch(turn.id, evToken{Content: delta})
	})

	if turn.ctx.Err() != nil {
		return
	}
	if err != nil {
		if o.deps.Health != nil {
			o.deps.Health.MarkUnavailable(turn.llm.ID)
		}
		o.turnDispatch(turn.id, evFailure{Err: fmt.Errorf("generation stream: %w", err)})
		return
	}
	if o.deps.Health != nil {
		o.deps.Health.RecordLatency(turn.llm.ID, time.Since(started))
	}

	cost := float64(usage.PromptTokens+usage.CompletionTokens) * turn.llm.CostPerToken
	o.turnDispatch(turn.id, evUsageReport{Usage: usage, CostUSD: cost})
	o.turnDispatch(turn.id, evGenerationComplete{})
}

func (o *Orchestrator) runSynthesis(turn *activeTurn) {
	for sentence := range turn.sentences {
		if turn.ctx.Err() != nil {
			break
		}
		if o.deps.Synthesizer == nil {
			// No speech backend configured; the turn still streams text.
			continue
		}

		synthStart := time.Now()
		audio, err := o.deps.Synthesizer.Synthesize(turn.ctx, turn.tts, sentence)
		if err != nil {
			if turn.ctx.Err() == nil {
				if o.deps.Health != nil {
					o.deps.Health.MarkUnavailable(turn.tts.ID)
				}
				o.turnDispatch(turn.id, evFailure{Err: fmt.Errorf("synthesis stream: %w", err)})
			}
			return
		}
		if o.deps.Health != nil {
			o.deps.Health.RecordLatency(turn.tts.ID, time.Since(synthStart))
		}

		seg := replay.Segment{Index: o.nextSegmentIndex(), Text: sentence, Audio: audio}

		if o.deps.Cache != nil {
			if err := o.deps.Cache.Put(seg.Index, seg.Text, seg.Audio, turn.topicID); err != nil {
				// Playback continues; the segment just cannot be replayed.
				o.log.Warn("replay cache rejected segment",
					"index", seg.Index, "bytes", len(seg.Audio), "error", err)
			}
		}

		if o.deps.Sink != nil {
			if err := o.deps.Sink.Play(turn.ctx, seg); err != nil {
				if turn.ctx.Err() == nil {
					o.turnDispatch(turn.id, evFailure{Err: fmt.Errorf("audio playback: %w", err)})
				}
				return
			}
		}
	}

	if turn.ctx.Err() != nil {
		// The turn was cancelled mid-stream. Completion on the
		// interruption path belongs to the playback watcher; reporting it
		// here would end the interruption before confirmation can arrive.
		return
	}

	// Input exhausted naturally. Audio already handed to the device keeps
	// playing, so wait for it to play out before reporting completion. A
	// completion landing after the session moved on is swallowed as a
	// protocol no-op.
	if o.deps.Sink != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), o.drainTimeout)
		defer cancel()
		if err := o.deps.Sink.Drain(drainCtx); err != nil {
			o.log.Warn("audio drain did not finish cleanly", "turn", turn.id, "error", err)
		}
	}
	o.turnDispatch(turn.id, evPlaybackComplete{})
}

func (o *Orchestrator) nextSegmentIndex() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	idx := o.segIndex
	o.segIndex++
	return idx
}

func (o *Orchestrator) persist(snap Snapshot) {
	p := o.deps.Persister
	if p == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := p.SaveSession(ctx, snap); err != nil {
			o.log.Error("persist session snapshot failed",
				"session", snap.SessionID, "error", err)
		}
	}()
}

func (o *Orchestrator) historyTokensLocked() int {
	total := 0
	for _, turn := range o.sctx.History {
		total += estimateTokens(turn.Text)
	}
	return total
}

// estimateTokens is a coarse chars/4 heuristic; routing conditions only
// need the order of magnitude.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
