package speech

import (
	"context"
	"fmt"
	"log/slog"

	speakapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	speak "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/speak"

	"github.com/sjawhar/voxflow/internal/routing"
)

// SynthesizerOptions tune the audio the speak API returns.
type SynthesizerOptions struct {
	Encoding   string
	SampleRate int
}

func (o *SynthesizerOptions) applyDefaults() {
	if o.Encoding == "" {
		o.Encoding = "linear16"
	}
	if o.SampleRate == 0 {
		o.SampleRate = 24000
	}
}

// Synthesizer converts text chunks to audio with the Deepgram speak API.
// The voice model comes from the routed endpoint, so one synthesizer serves
// every registered voice.
type Synthesizer struct {
	options SynthesizerOptions
	log     *slog.Logger

	// Injectable for tests.
	stream func(ctx context.Context, text string, options *interfaces.SpeakOptions) ([]byte, error)
}

func NewSynthesizer(apiKey string, options SynthesizerOptions, log *slog.Logger) *Synthesizer {
	options.applyDefaults()
	if log == nil {
		log = slog.Default()
	}

	rest := speakapi.New(speak.NewREST(apiKey, &interfaces.ClientOptions{APIKey: apiKey}))
	s := &Synthesizer{options: options, log: log}
	s.stream = func(ctx context.Context, text string, speakOptions *interfaces.SpeakOptions) ([]byte, error) {
		buf := new(interfaces.RawResponse)
		if _, err := rest.ToStream(ctx, text, speakOptions, buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return s
}

func (s *Synthesizer) Synthesize(ctx context.Context, endpoint routing.Endpoint, text string) ([]byte, error) {
	speakOptions := &interfaces.SpeakOptions{
		Model:      endpoint.Model,
		Encoding:   s.options.Encoding,
		SampleRate: s.options.SampleRate,
	}

	audio, err := s.stream(ctx, text, speakOptions)
	if err != nil {
		return nil, fmt.Errorf("deepgram speak: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("deepgram speak: empty audio for %d chars", len(text))
	}
	return audio, nil
}
