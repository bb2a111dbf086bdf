package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sjawhar/voxflow/internal/routing"
)

// HealthSink accepts device condition pushes from the host platform. The
// monitor satisfies it.
type HealthSink interface {
	SetThermal(state routing.ThermalState)
	SetMemory(pressure routing.MemoryPressure)
	SetNetwork(class routing.NetworkClass)
	SetBattery(level float64)
}

// EndpointAdmin changes endpoint availability from outside the routing
// loop. The registry satisfies it.
type EndpointAdmin interface {
	SetStatus(id string, status routing.Status) error
}

type conditionsRequest struct {
	Thermal      *string  `json:"thermal"`
	Memory       *string  `json:"memory"`
	Network      *string  `json:"network"`
	BatteryLevel *float64 `json:"battery_level"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func registerHealthRoutes(mux *http.ServeMux, health HealthSink, endpoints EndpointAdmin) {
	if health == nil || endpoints == nil {
		return
	}

	mux.HandleFunc("POST /api/conditions", func(w http.ResponseWriter, r *http.Request) {
		var req conditionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid conditions payload")
			return
		}

		// Validate everything before applying anything, so a partially
		// bad push does not leave mixed state behind.
		if req.Thermal != nil && !routing.ThermalState(*req.Thermal).Valid() {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown thermal state %q", *req.Thermal))
			return
		}
		if req.Memory != nil && !routing.MemoryPressure(*req.Memory).Valid() {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown memory pressure %q", *req.Memory))
			return
		}

		if req.Thermal != nil {
			health.SetThermal(routing.ThermalState(*req.Thermal))
		}
		if req.Memory != nil {
			health.SetMemory(routing.MemoryPressure(*req.Memory))
		}
		if req.Network != nil {
			health.SetNetwork(routing.NetworkClass(*req.Network))
		}
		if req.BatteryLevel != nil {
			health.SetBattery(*req.BatteryLevel)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/endpoints/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid status payload")
			return
		}
		if err := endpoints.SetStatus(r.PathValue("id"), routing.Status(req.Status)); err != nil {
			status := http.StatusBadRequest
			if strings.Contains(err.Error(), "unknown endpoint") {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
