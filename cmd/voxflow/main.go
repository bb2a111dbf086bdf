package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	microphone "github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/voxflow/internal/config"
	"github.com/sjawhar/voxflow/internal/export"
	"github.com/sjawhar/voxflow/internal/llm"
	"github.com/sjawhar/voxflow/internal/monitor"
	"github.com/sjawhar/voxflow/internal/replay"
	"github.com/sjawhar/voxflow/internal/routing"
	"github.com/sjawhar/voxflow/internal/server"
	"github.com/sjawhar/voxflow/internal/session"
	"github.com/sjawhar/voxflow/internal/speech"
	"github.com/sjawhar/voxflow/internal/storage"
)

// handlerProxy breaks the construction cycle between the listener and the
// orchestrator: the listener is built first against the proxy, and the
// orchestrator is plugged in once it exists.
type handlerProxy struct {
	mu     sync.RWMutex
	target speech.TranscriptHandler
}

func (p *handlerProxy) set(h speech.TranscriptHandler) {
	p.mu.Lock()
	p.target = h
	p.mu.Unlock()
}

func (p *handlerProxy) get() speech.TranscriptHandler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.target
}

func (p *handlerProxy) InterimTranscript(text string) {
	if h := p.get(); h != nil {
		h.InterimTranscript(text)
	}
}

func (p *handlerProxy) FinalTranscript(text string) {
	if h := p.get(); h != nil {
		h.FinalTranscript(text)
	}
}

func (p *handlerProxy) SpeechDetected() {
	if h := p.get(); h != nil {
		h.SpeechDetected()
	}
}

func (p *handlerProxy) SpeechConfirmed() {
	if h := p.get(); h != nil {
		h.SpeechConfirmed()
	}
}

func (p *handlerProxy) ReportFailure(err error) {
	if h := p.get(); h != nil {
		h.ReportFailure(err)
	}
}

// fanoutNotifier forwards session events to the websocket hub, keeps the
// daily transcript current, and charges generation cost against the budget
// monitor.
type fanoutNotifier struct {
	hub        *server.Hub
	transcript *storage.Writer
	monitor    *monitor.Monitor
	log        *slog.Logger

	mu       sync.Mutex
	lastCost float64
}

func (n *fanoutNotifier) StateChanged(from, to session.State) {
	n.hub.StateChanged(from, to)
	if to == session.StateIdle {
		n.monitor.ResetSpend()
		n.mu.Lock()
		n.lastCost = 0
		n.mu.Unlock()
	}
}

func (n *fanoutNotifier) PartialTranscript(text string) { n.hub.PartialTranscript(text) }
func (n *fanoutNotifier) PartialResponse(text string)   { n.hub.PartialResponse(text) }

func (n *fanoutNotifier) TurnCommitted(turn session.Turn) {
	n.hub.TurnCommitted(turn)
	if err := n.transcript.Append(turn, time.Now()); err != nil {
		n.log.Warn("transcript append failed", "error", err)
	}
}

func (n *fanoutNotifier) SessionError(err error) { n.hub.SessionError(err) }

func (n *fanoutNotifier) MetricsUpdated(m session.Metrics) {
	n.hub.MetricsUpdated(m)

	n.mu.Lock()
	delta := m.CostUSD - n.lastCost
	n.lastCost = m.CostUSD
	n.mu.Unlock()
	n.monitor.RecordCost(delta)
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)
	logger.Info("voxflow: starting")

	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		logger.Warn(w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	registry := routing.NewRegistry()
	for _, ep := range cfg.Endpoints {
		if err := registry.Register(ep); err != nil {
			logger.Warn("skipping endpoint", "id", ep.ID, "error", err)
		}
	}

	conditions := monitor.New(logger)
	conditions.SetBudget(cfg.SessionBudgetUSD)

	cache := replay.NewCache(cfg.ReplayMaxBytes)
	hub := server.NewHub(logger)
	transcript := storage.NewWriter(cfg.TranscriptDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mic *microphone.Microphone
	if cfg.DeepgramAPIKey != "" {
		microphone.Initialize()
		defer microphone.Teardown()
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})

		mic, err = microphone.New(microphone.AudioConfig{InputChannels: 1, SamplingRate: float32(cfg.MicSampleRate)})
		if err != nil {
			logger.Warn("microphone unavailable, running API only", "error", err)
			mic = nil
		}
	}

	proxy := &handlerProxy{}
	var recognizer session.Recognizer
	if cfg.DeepgramAPIKey != "" && mic != nil {
		recognizer = speech.NewListener(cfg.DeepgramAPIKey, proxy, mic, speech.ListenerOptions{
			Model:      cfg.SttModel,
			Language:   cfg.SttLanguage,
			SampleRate: cfg.MicSampleRate,
		}, logger)
	}

	var synthesizer session.Synthesizer
	if cfg.DeepgramAPIKey != "" {
		synthesizer = speech.NewSynthesizer(cfg.DeepgramAPIKey, speech.SynthesizerOptions{
			SampleRate: cfg.TtsSampleRate,
		}, logger)
	}

	// Playback devices are host-specific; the control plane keeps timing
	// honest and serves audio through the replay API.
	player := speech.NewPlayer(io.Discard, logger)
	defer player.Close()

	generator := llm.NewGenerator(cfg.APIKeys(), cfg.SystemPrompt)

	orch := session.New(session.Deps{
		Router:      routing.NewRouter(registry),
		Conditions:  conditions,
		Recognizer:  recognizer,
		Generator:   generator,
		Synthesizer: synthesizer,
		Sink:        player,
		Cache:       cache,
		Persister:   store,
		Health:      conditions,
		Notifier: &fanoutNotifier{
			hub:        hub,
			transcript: transcript,
			monitor:    conditions,
			log:        logger,
		},
		Logger: logger,
	}, session.Options{
		MaxRetries:   cfg.MaxRetries,
		DrainTimeout: cfg.ParsedDrainTimeout(),
	})
	proxy.set(orch)

	if cfg.GDriveFolderID != "" {
		syncer, syncErr := export.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if syncErr != nil {
			logger.Warn("gdrive sync disabled", "error", syncErr)
		} else {
			go func() {
				ticker := time.NewTicker(5 * time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						date := time.Now().UTC().Format("2006-01-02")
						if err := syncer.SyncDatabase(cfg.DBPath, date); err != nil {
							logger.Warn("gdrive database sync failed", "error", err)
						}
						if err := syncer.SyncTranscript(transcript.CurrentPath(), date); err != nil {
							logger.Warn("gdrive transcript sync failed", "error", err)
						}
					}
				}
			}()
		}
	}

	handler := server.Handler(hub, orch, store, cache, conditions, registry, warnings, logger)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		logger.Info("control API listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("voxflow: shutting down")
	cancel()

	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}
}
