package session

import (
	"strings"
	"time"
)

// transition is the outcome of applying one event: the next state, the
// updated context, and the effects the interpreter must run. violation
// marks an event that is illegal in the current state; the machine leaves
// everything untouched and the caller logs and drops it.
type transition struct {
	state     State
	ctx       Context
	effects   []effect
	violation bool
}

// apply is the entire turn-taking protocol as a pure function. It performs
// no I/O and reads no clocks beyond now, so every legal and illegal
// sequence is unit-testable without mocking a single provider.
func apply(st State, ctx Context, ev event, now time.Time) transition {
	switch ev := ev.(type) {
	case evStart:
		if st != StateIdle {
			return violation(st, ctx)
		}
		next := Context{
			SessionID:  ev.SessionID,
			TopicID:    ev.TopicID,
			StartedAt:  now,
			MaxRetries: ev.MaxRetries,
		}
		return ok(StateUserTurn, next, effectStartCapture{})

	case evInterimTranscript:
		if st != StateUserTurn {
			return violation(st, ctx)
		}
		ctx.PendingUtterance = ev.Text
		return ok(StateUserTurn, ctx)

	case evFinalTranscript:
		if st != StateUserTurn {
			return violation(st, ctx)
		}
		ctx.PendingUtterance = ev.Text
		return ok(StateProcessingUtterance, ctx, effectEvaluateUtterance{})

	case evUtteranceReady:
		if st != StateProcessingUtterance {
			return violation(st, ctx)
		}
		utterance := strings.TrimSpace(ctx.PendingUtterance)
		if utterance == "" {
			// An empty final transcript is silently dropped.
			ctx.PendingUtterance = ""
			return ok(StateUserTurn, ctx)
		}
		ctx.History = append(ctx.History, Turn{Role: RoleUser, Text: utterance})
		ctx.Metrics.TurnCount++
		ctx.PendingUtterance = ""
		// A response abandoned by pause() may still be buffered.
		ctx.PendingResponse = ""
		ctx.thinkingSince = now
		return ok(StateModelThinking, ctx, effectStopCapture{}, effectBeginTurn{Utterance: utterance})

	case evFirstToken:
		if st != StateModelThinking {
			return violation(st, ctx)
		}
		if !ctx.thinkingSince.IsZero() {
			ctx.Metrics.ThinkingMillis = append(ctx.Metrics.ThinkingMillis, millisSince(ctx.thinkingSince, now))
		}
		ctx.speakingSince = now
		return ok(StateModelSpeaking, ctx)

	case evToken:
		if st != StateModelThinking && st != StateModelSpeaking {
			return violation(st, ctx)
		}
		ctx.PendingResponse += ev.Content
		return ok(st, ctx, effectSynthesize{Content: ev.Content})

	case evGenerationComplete:
		if st != StateModelThinking && st != StateModelSpeaking {
			return violation(st, ctx)
		}
		return ok(st, ctx, effectFinishSynthesis{})

	case evUsageReport:
		if !st.Active() {
			return violation(st, ctx)
		}
		ctx.Metrics.CostUSD += ev.CostUSD
		return ok(st, ctx)

	case evPlaybackComplete:
		switch st {
		case StateModelThinking:
			// The stream completed without producing a single token; there
			// is nothing to commit, the turn just ends.
			ctx.PendingResponse = ""
			ctx.PendingUtterance = ""
			return ok(StateUserTurn, ctx, effectStartCapture{})
		case StateModelSpeaking:
			response := ctx.PendingResponse
			if response != "" {
				ctx.History = append(ctx.History, Turn{Role: RoleAssistant, Text: response})
			}
			ctx.PendingResponse = ""
			ctx.PendingUtterance = ""
			if !ctx.speakingSince.IsZero() {
				ctx.Metrics.SpeakingMillis = append(ctx.Metrics.SpeakingMillis, millisSince(ctx.speakingSince, now))
			}
			return ok(StateUserTurn, ctx, effectStartCapture{})
		case StateInterrupted:
			// The in-flight audio finished before confirmation arrived:
			// a false-positive interruption. The pending response was
			// already discarded on interrupted entry.
			return ok(StateUserTurn, ctx, effectStartCapture{})
		default:
			return violation(st, ctx)
		}

	case evSpeechDetected:
		if st != StateModelThinking && st != StateModelSpeaking {
			return violation(st, ctx)
		}
		// Tentative interruption: the pending response is discarded, never
		// committed, but the audio device is not torn down until the VAD
		// confirms or playback finishes on its own.
		ctx.PendingResponse = ""
		ctx.Metrics.InterruptionCount++
		return ok(StateInterrupted, ctx, effectCancelTurn{}, effectAwaitPlayback{})

	case evSpeechConfirmed:
		if st != StateInterrupted {
			return violation(st, ctx)
		}
		// Real barge-in: the user has the floor, so queued audio stops now.
		return ok(StateUserTurn, ctx, effectCancelPlayback{}, effectStartCapture{})

	case evPause:
		if st == StatePaused {
			// Second pause is a no-op, not a violation.
			return ok(StatePaused, ctx)
		}
		if !st.Active() {
			return violation(st, ctx)
		}
		return ok(StatePaused, ctx, effectCancelTurn{}, effectCancelPlayback{}, effectStopCapture{})

	case evResume:
		if st != StatePaused {
			return violation(st, ctx)
		}
		return ok(StateUserTurn, ctx, effectStartCapture{})

	case evStop:
		if st == StateIdle {
			return violation(st, ctx)
		}
		snap := finalize(ctx, now)
		return ok(StateIdle, Context{},
			effectCancelTurn{},
			effectCancelPlayback{},
			effectStopCapture{},
			effectPersist{Snapshot: snap},
			effectClearReplay{},
		)

	case evFailure:
		if !st.Active() || st == StateError {
			return violation(st, ctx)
		}
		ctx.Err = ev.Err
		ctx.Metrics.ErrorCount++
		return ok(StateError, ctx, effectCancelTurn{}, effectCancelPlayback{})

	case evRetry:
		if st != StateError {
			return violation(st, ctx)
		}
		if ctx.RetryCount >= ctx.MaxRetries {
			snap := finalize(ctx, now)
			return ok(StateIdle, Context{},
				effectStopCapture{},
				effectPersist{Snapshot: snap},
				effectClearReplay{},
			)
		}
		ctx.RetryCount++
		ctx.Err = nil
		return ok(StateUserTurn, ctx, effectStartCapture{})

	case evDismiss:
		if st != StateError {
			return violation(st, ctx)
		}
		ctx.Err = nil
		return ok(StateUserTurn, ctx, effectStartCapture{})

	default:
		return violation(st, ctx)
	}
}

func ok(st State, ctx Context, effects ...effect) transition {
	return transition{state: st, ctx: ctx, effects: effects}
}

func violation(st State, ctx Context) transition {
	return transition{state: st, ctx: ctx, violation: true}
}

func finalize(ctx Context, now time.Time) Snapshot {
	history := make([]Turn, len(ctx.History))
	copy(history, ctx.History)
	return Snapshot{
		SessionID: ctx.SessionID,
		TopicID:   ctx.TopicID,
		StartedAt: ctx.StartedAt,
		EndedAt:   now,
		History:   history,
		Metrics:   copyMetrics(ctx.Metrics),
	}
}

func copyMetrics(m Metrics) Metrics {
	out := m
	out.ThinkingMillis = append([]float64(nil), m.ThinkingMillis...)
	out.SpeakingMillis = append([]float64(nil), m.SpeakingMillis...)
	return out
}

func millisSince(since, now time.Time) float64 {
	return float64(now.Sub(since)) / float64(time.Millisecond)
}
