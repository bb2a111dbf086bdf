package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// TranscriptHandler receives speech events from the capture stream. The
// orchestrator satisfies this with its event methods.
type TranscriptHandler interface {
	InterimTranscript(text string)
	FinalTranscript(text string)
	SpeechDetected()
	SpeechConfirmed()
	ReportFailure(err error)
}

// AudioSource produces raw audio frames. The Deepgram microphone satisfies
// this; Stream blocks until the source stops.
type AudioSource interface {
	Start() error
	Stream(w io.Writer) error
	Stop() error
}

// captureConn is the live transcription connection. The Deepgram websocket
// client satisfies it; audio frames are written directly to the connection.
type captureConn interface {
	io.Writer
	Connect() bool
	Stop()
}

// ListenerOptions tune the live transcription stream.
type ListenerOptions struct {
	Model      string
	Language   string
	SampleRate int
}

func (o *ListenerOptions) applyDefaults() {
	if o.Model == "" {
		o.Model = "nova-2"
	}
	if o.Language == "" {
		o.Language = "en-US"
	}
	if o.SampleRate == 0 {
		o.SampleRate = 16000
	}
}

// Listener owns the Deepgram live transcription connection for one capture
// window. Start and Stop are idempotent; transcript and VAD events are
// forwarded to the handler.
type Listener struct {
	apiKey  string
	options ListenerOptions
	handler TranscriptHandler
	source  AudioSource
	log     *slog.Logger

	// Injectable for tests.
	dial func(ctx context.Context, cb api.LiveMessageCallback) (captureConn, error)

	mu       sync.Mutex
	conn     captureConn
	stopping bool
}

func NewListener(apiKey string, handler TranscriptHandler, source AudioSource, options ListenerOptions, log *slog.Logger) *Listener {
	options.applyDefaults()
	if log == nil {
		log = slog.Default()
	}

	l := &Listener{
		apiKey:  apiKey,
		options: options,
		handler: handler,
		source:  source,
		log:     log,
	}
	l.dial = l.dialDeepgram
	return l
}

func (l *Listener) dialDeepgram(ctx context.Context, cb api.LiveMessageCallback) (captureConn, error) {
	cOptions := &interfaces.ClientOptions{APIKey: l.apiKey, EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          l.options.Model,
		Language:       l.options.Language,
		Punctuate:      true,
		SmartFormat:    true,
		Encoding:       "linear16",
		SampleRate:     l.options.SampleRate,
		Channels:       1,
		InterimResults: true,
		VadEvents:      true,
		UtteranceEndMs: "1000",
	}
	return client.NewWSUsingCallback(ctx, l.apiKey, cOptions, tOptions, cb)
}

func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return nil
	}
	l.stopping = false

	conn, err := l.dial(ctx, &listenCallback{listener: l})
	if err != nil {
		return fmt.Errorf("deepgram client: %w", err)
	}
	if ok := conn.Connect(); !ok {
		return fmt.Errorf("deepgram connect failed")
	}
	l.conn = conn

	if l.source != nil {
		if err := l.source.Start(); err != nil {
			conn.Stop()
			l.conn = nil
			return fmt.Errorf("audio source start: %w", err)
		}
		go l.pump(conn)
	}

	return nil
}

func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	l.stopping = true

	if l.source != nil {
		if err := l.source.Stop(); err != nil {
			l.log.Warn("audio source stop failed", "error", err)
		}
	}
	l.conn.Stop()
	l.conn = nil
	return nil
}

func (l *Listener) pump(conn captureConn) {
	err := l.source.Stream(conn)

	l.mu.Lock()
	stopping := l.stopping
	l.mu.Unlock()

	if err != nil && !stopping {
		l.handler.ReportFailure(fmt.Errorf("audio stream: %w", err))
	}
}

// listenCallback maps Deepgram live events to handler calls. Interim results
// drive the live display and confirm tentative speech; is_final fragments
// buffer until speech_final or utterance end closes the utterance.
type listenCallback struct {
	listener *Listener

	mu          sync.Mutex
	fragments   []string
	unconfirmed bool
}

func (c *listenCallback) Open(*api.OpenResponse) error {
	c.listener.log.Info("connected to Deepgram")
	return nil
}

func (c *listenCallback) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}

	sentence := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if sentence == "" {
		return nil
	}

	handler := c.listener.handler

	c.mu.Lock()
	if c.unconfirmed {
		c.unconfirmed = false
		c.mu.Unlock()
		handler.SpeechConfirmed()
		c.mu.Lock()
	}

	if !mr.IsFinal {
		c.mu.Unlock()
		handler.InterimTranscript(sentence)
		return nil
	}

	// Final fragment. Buffer until speech_final closes the utterance.
	c.fragments = append(c.fragments, sentence)
	if !mr.SpeechFinal {
		c.mu.Unlock()
		return nil
	}
	utterance := c.flushLocked()
	c.mu.Unlock()

	if utterance != "" {
		handler.FinalTranscript(utterance)
	}
	return nil
}

func (c *listenCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c *listenCallback) SpeechStarted(*api.SpeechStartedResponse) error {
	c.mu.Lock()
	c.unconfirmed = true
	c.mu.Unlock()

	c.listener.handler.SpeechDetected()
	return nil
}

func (c *listenCallback) UtteranceEnd(*api.UtteranceEndResponse) error {
	c.mu.Lock()
	utterance := c.flushLocked()
	c.mu.Unlock()

	if utterance != "" {
		c.listener.handler.FinalTranscript(utterance)
	}
	return nil
}

func (c *listenCallback) Close(*api.CloseResponse) error {
	c.listener.log.Info("disconnected from Deepgram")
	return nil
}

func (c *listenCallback) Error(er *api.ErrorResponse) error {
	c.listener.log.Error("deepgram error", "code", er.ErrCode, "description", er.Description)
	return nil
}

func (c *listenCallback) UnhandledEvent([]byte) error { return nil }

func (c *listenCallback) flushLocked() string {
	if len(c.fragments) == 0 {
		return ""
	}
	out := strings.Join(c.fragments, " ")
	c.fragments = nil
	return out
}
