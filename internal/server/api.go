package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/sjawhar/voxflow/internal/replay"
	"github.com/sjawhar/voxflow/internal/session"
	"github.com/sjawhar/voxflow/internal/storage"
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Controller is the live session surface the API drives. The orchestrator
// satisfies it.
type Controller interface {
	Start(topicID string) error
	Pause()
	Resume()
	Stop()
	Retry()
	Dismiss()
	State() session.State
	SessionID() string
	PendingUtterance() string
	PendingResponse() string
	History() []session.Turn
	Metrics() session.Metrics
	Err() error
}

// Archive reads past sessions out of storage.
type Archive interface {
	ListSessions(ctx context.Context, limit int) ([]storage.SessionRecord, error)
	GetSession(ctx context.Context, id string) (storage.SessionRecord, []session.Turn, error)
}

type startRequest struct {
	TopicID string `json:"topic_id"`
}

type replaySegment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Bytes int    `json:"bytes"`
}

func registerAPIRoutes(mux *http.ServeMux, ctrl Controller, archive Archive, cache *replay.Cache, warnings []string) {
	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"state":             string(ctrl.State()),
			"session_id":        ctrl.SessionID(),
			"pending_utterance": ctrl.PendingUtterance(),
			"pending_response":  ctrl.PendingResponse(),
		}
		if err := ctrl.Err(); err != nil {
			payload["error"] = err.Error()
		}
		writeJSON(w, http.StatusOK, payload)
	})

	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		history := ctrl.History()
		if history == nil {
			history = []session.Turn{}
		}
		writeJSON(w, http.StatusOK, history)
	})

	mux.HandleFunc("GET /api/metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.Metrics())
	})

	mux.HandleFunc("GET /api/replay", func(w http.ResponseWriter, r *http.Request) {
		segments := []replaySegment{}
		for _, seg := range cache.All() {
			segments = append(segments, replaySegment{Index: seg.Index, Text: seg.Text, Bytes: len(seg.Audio)})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"topic_id":   cache.TopicID(),
			"byte_total": cache.ByteTotal(),
			"segments":   segments,
		})
	})

	mux.HandleFunc("GET /api/replay/{index}", func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(r.PathValue("index"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid segment index")
			return
		}
		seg, ok := cache.Get(index)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "segment not cached")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("X-Segment-Text", seg.Text)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(seg.Audio)
	})

	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, _ = strconv.Atoi(v)
		}
		records, err := archive.ListSessions(r.Context(), limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
			return
		}
		if records == nil {
			records = []storage.SessionRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	})

	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}

		record, turns, err := archive.GetSession(r.Context(), sessionID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, sql.ErrNoRows) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get session: %v", err))
			return
		}
		if turns == nil {
			turns = []session.Turn{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session": record,
			"turns":   turns,
		})
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		ws := warnings
		if ws == nil {
			ws = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"state":    string(ctrl.State()),
			"warnings": ws,
		})
	})

	mux.HandleFunc("POST /api/start", func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		if err := ctrl.Start(req.TopicID); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, session.ErrSessionActive) {
				status = http.StatusConflict
			}
			writeJSONError(w, status, fmt.Sprintf("start session: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"session_id": ctrl.SessionID()})
	})

	mux.HandleFunc("POST /api/pause", func(w http.ResponseWriter, r *http.Request) {
		ctrl.Pause()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/resume", func(w http.ResponseWriter, r *http.Request) {
		ctrl.Resume()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/stop", func(w http.ResponseWriter, r *http.Request) {
		ctrl.Stop()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/retry", func(w http.ResponseWriter, r *http.Request) {
		ctrl.Retry()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/dismiss", func(w http.ResponseWriter, r *http.Request) {
		ctrl.Dismiss()
		w.WriteHeader(http.StatusNoContent)
	})
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
