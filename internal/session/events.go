package session

// The closed event set. Every mutation of session state flows through one
// of these; anything else the host or a provider stream wants to say has no
// vocabulary for it.
type event interface {
	eventName() string
}

type evStart struct {
	SessionID  string
	TopicID    string
	MaxRetries int
}

type evInterimTranscript struct{ Text string }

type evFinalTranscript struct{ Text string }

// evUtteranceReady is the internal follow-up dispatched immediately after
// entering processingUtterance, so the guard on the buffered utterance runs
// as its own observable transition.
type evUtteranceReady struct{}

type evFirstToken struct{}

type evToken struct{ Content string }

// evGenerationComplete marks the LLM stream finishing naturally; playback
// may still be draining.
type evGenerationComplete struct{}

type evUsageReport struct {
	Usage   Usage
	CostUSD float64
}

type evPlaybackComplete struct{}

type evSpeechDetected struct{}

type evSpeechConfirmed struct{}

type evPause struct{}

type evResume struct{}

type evStop struct{}

type evFailure struct{ Err error }

type evRetry struct{}

type evDismiss struct{}

func (evStart) eventName() string              { return "start" }
func (evInterimTranscript) eventName() string  { return "interimTranscript" }
func (evFinalTranscript) eventName() string    { return "finalTranscript" }
func (evUtteranceReady) eventName() string     { return "utteranceReady" }
func (evFirstToken) eventName() string         { return "firstToken" }
func (evToken) eventName() string              { return "token" }
func (evGenerationComplete) eventName() string { return "generationComplete" }
func (evUsageReport) eventName() string        { return "usageReport" }
func (evPlaybackComplete) eventName() string   { return "playbackComplete" }
func (evSpeechDetected) eventName() string     { return "userSpeechDetected" }
func (evSpeechConfirmed) eventName() string    { return "userSpeechConfirmed" }
func (evPause) eventName() string              { return "pause" }
func (evResume) eventName() string             { return "resume" }
func (evStop) eventName() string               { return "stop" }
func (evFailure) eventName() string            { return "failure" }
func (evRetry) eventName() string              { return "retry" }
func (evDismiss) eventName() string            { return "dismiss" }

// The closed effect set. Effects are descriptions of I/O the interpreter
// performs after the pure transition; the transition function itself never
// touches a provider, the cache, or the clock beyond the timestamp it is
// handed.
type effect interface {
	effectName() string
}

type effectStartCapture struct{}

type effectStopCapture struct{}

// effectEvaluateUtterance asks the interpreter to dispatch evUtteranceReady
// as the next queued event.
type effectEvaluateUtterance struct{}

// effectBeginTurn routes endpoints and starts the generation stream for the
// utterance just committed to history.
type effectBeginTurn struct{ Utterance string }

// effectCancelTurn cancels the in-flight generation and synthesis streams.
// It is fire-and-forget and idempotent.
type effectCancelTurn struct{}

// effectAwaitPlayback starts a watcher that reports playback completion
// once the queued audio drains, after a window in which VAD confirmation
// may still arrive. Raised only on a tentative interruption, where the
// cancelled synthesis worker no longer reports completion itself.
type effectAwaitPlayback struct{}

// effectCancelPlayback drops audio already queued on the output device.
// Cancelling a turn deliberately does not imply this: a tentative
// interruption lets buffered audio play out.
type effectCancelPlayback struct{}

// effectSynthesize forwards one content delta to the synthesis pipeline.
type effectSynthesize struct{ Content string }

// effectFinishSynthesis flushes the pipeline after the generation stream
// completed; playback completion is reported back as an event.
type effectFinishSynthesis struct{}

type effectPersist struct{ Snapshot Snapshot }

type effectClearReplay struct{}

func (effectStartCapture) effectName() string      { return "startCapture" }
func (effectStopCapture) effectName() string       { return "stopCapture" }
func (effectEvaluateUtterance) effectName() string { return "evaluateUtterance" }
func (effectBeginTurn) effectName() string         { return "beginTurn" }
func (effectCancelTurn) effectName() string        { return "cancelTurn" }
func (effectAwaitPlayback) effectName() string     { return "awaitPlayback" }
func (effectCancelPlayback) effectName() string    { return "cancelPlayback" }
func (effectSynthesize) effectName() string        { return "synthesize" }
func (effectFinishSynthesis) effectName() string   { return "finishSynthesis" }
func (effectPersist) effectName() string           { return "persist" }
func (effectClearReplay) effectName() string       { return "clearReplay" }
