package speech

import (
	"context"
	"errors"
	"strings"
	"testing"

	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"

	"github.com/sjawhar/voxflow/internal/routing"
)

func TestSynthesizerUsesRoutedVoice(t *testing.T) {
	s := NewSynthesizer("test-key", SynthesizerOptions{}, nil)

	var gotText string
	var gotOptions *interfaces.SpeakOptions
	s.stream = func(ctx context.Context, text string, options *interfaces.SpeakOptions) ([]byte, error) {
		gotText = text
		gotOptions = options
		return []byte{1, 2, 3}, nil
	}

	endpoint := routing.Endpoint{ID: "tts-aura", Family: routing.FamilyTTS, Provider: "deepgram", Model: "aura-asteria-en"}
	audio, err := s.Synthesize(context.Background(), endpoint, "Hello there.")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if len(audio) != 3 {
		t.Fatalf("expected stubbed audio, got %d bytes", len(audio))
	}
	if gotText != "Hello there." {
		t.Fatalf("unexpected text %q", gotText)
	}
	if gotOptions.Model != "aura-asteria-en" {
		t.Fatalf("expected routed voice model, got %q", gotOptions.Model)
	}
	if gotOptions.Encoding != "linear16" || gotOptions.SampleRate != 24000 {
		t.Fatalf("unexpected audio options: %+v", gotOptions)
	}
}

func TestSynthesizerWrapsStreamError(t *testing.T) {
	s := NewSynthesizer("test-key", SynthesizerOptions{}, nil)
	s.stream = func(ctx context.Context, text string, options *interfaces.SpeakOptions) ([]byte, error) {
		return nil, errors.New("rate limited")
	}

	_, err := s.Synthesize(context.Background(), routing.Endpoint{Model: "aura-asteria-en"}, "hi")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "deepgram speak") {
		t.Fatalf("expected wrapped error, got %q", err.Error())
	}
}

func TestSynthesizerRejectsEmptyAudio(t *testing.T) {
	s := NewSynthesizer("test-key", SynthesizerOptions{}, nil)
	s.stream = func(ctx context.Context, text string, options *interfaces.SpeakOptions) ([]byte, error) {
		return nil, nil
	}

	_, err := s.Synthesize(context.Background(), routing.Endpoint{Model: "aura-asteria-en"}, "hi")
	if err == nil {
		t.Fatal("expected error for empty audio, got nil")
	}
}
