package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sjawhar/voxflow/internal/replay"
	"github.com/sjawhar/voxflow/internal/routing"
	"github.com/sjawhar/voxflow/internal/session"
)

type healthStub struct {
	mu      sync.Mutex
	thermal routing.ThermalState
	memory  routing.MemoryPressure
	network routing.NetworkClass
	battery float64
	calls   []string
}

func (h *healthStub) SetThermal(state routing.ThermalState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.thermal = state
	h.calls = append(h.calls, "thermal")
}

func (h *healthStub) SetMemory(pressure routing.MemoryPressure) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.memory = pressure
	h.calls = append(h.calls, "memory")
}

func (h *healthStub) SetNetwork(class routing.NetworkClass) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.network = class
	h.calls = append(h.calls, "network")
}

func (h *healthStub) SetBattery(level float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.battery = level
	h.calls = append(h.calls, "battery")
}

type adminStub struct {
	mu       sync.Mutex
	statuses map[string]routing.Status
	err      error
}

func (a *adminStub) SetStatus(id string, status routing.Status) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	if a.statuses == nil {
		a.statuses = make(map[string]routing.Status)
	}
	a.statuses[id] = status
	return nil
}

func newHealthHandler(health *healthStub, admin *adminStub) http.Handler {
	ctrl := &controllerStub{state: session.StateIdle}
	return Handler(NewHub(nil), ctrl, archiveStub{}, replay.NewCache(0), health, admin, nil, nil)
}

func TestAPIConditionsPush(t *testing.T) {
	health := &healthStub{}
	h := newHealthHandler(health, &adminStub{})

	body := `{"thermal":"serious","memory":"warning","network":"cellular","battery_level":0.4}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/conditions", strings.NewReader(body)))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	health.mu.Lock()
	defer health.mu.Unlock()
	if health.thermal != routing.ThermalSerious || health.memory != routing.MemoryWarning {
		t.Fatalf("conditions not applied: %+v", health)
	}
	if health.network != routing.NetworkCellular || health.battery != 0.4 {
		t.Fatalf("conditions not applied: %+v", health)
	}
}

func TestAPIConditionsPartialPush(t *testing.T) {
	health := &healthStub{}
	h := newHealthHandler(health, &adminStub{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/conditions", strings.NewReader(`{"thermal":"fair"}`)))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	health.mu.Lock()
	defer health.mu.Unlock()
	if len(health.calls) != 1 || health.calls[0] != "thermal" {
		t.Fatalf("expected only the pushed field applied, got %v", health.calls)
	}
}

func TestAPIConditionsRejectsInvalidTier(t *testing.T) {
	health := &healthStub{}
	h := newHealthHandler(health, &adminStub{})

	for _, body := range []string{
		`{"thermal":"melting"}`,
		`{"memory":"fine"}`,
		`{"thermal":"melting","battery_level":0.5}`,
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/conditions", strings.NewReader(body)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rr.Code)
		}
	}
	health.mu.Lock()
	defer health.mu.Unlock()
	if len(health.calls) != 0 {
		t.Fatalf("rejected push must not apply anything, got %v", health.calls)
	}
}

func TestAPIEndpointStatus(t *testing.T) {
	admin := &adminStub{}
	h := newHealthHandler(&healthStub{}, admin)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/endpoints/gpt-cloud/status", strings.NewReader(`{"status":"degraded"}`)))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	admin.mu.Lock()
	defer admin.mu.Unlock()
	if admin.statuses["gpt-cloud"] != routing.StatusDegraded {
		t.Fatalf("status not applied: %+v", admin.statuses)
	}
}

func TestAPIEndpointStatusUnknownEndpoint(t *testing.T) {
	admin := &adminStub{err: fmt.Errorf("set status ghost: unknown endpoint %q", "ghost")}
	h := newHealthHandler(&healthStub{}, admin)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/endpoints/ghost/status", strings.NewReader(`{"status":"available"}`)))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAPIEndpointStatusUnknownStatus(t *testing.T) {
	admin := &adminStub{err: fmt.Errorf("set status real: unknown status %q", "sleeping")}
	h := newHealthHandler(&healthStub{}, admin)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/endpoints/real/status", strings.NewReader(`{"status":"sleeping"}`)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
