// Package monitor tracks device, network, and budget conditions and turns
// them into the immutable snapshots routing decisions are made from.
package monitor

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sjawhar/voxflow/internal/routing"
)

// ewmaAlpha weights recent latency samples. First sample seeds the average.
const ewmaAlpha = 0.3

// Monitor is the single writer for ambient condition signals. Host
// integrations push thermal, memory, network, and battery changes as they
// happen; the orchestrator reads a coherent snapshot per routing decision.
type Monitor struct {
	log *slog.Logger
	now func() time.Time

	mu           sync.RWMutex
	thermal      routing.ThermalState
	memory       routing.MemoryPressure
	network      routing.NetworkClass
	battery      float64
	budget       float64
	spent        float64
	observations map[string]routing.Observation
}

func New(log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		log:          log,
		now:          time.Now,
		thermal:      routing.ThermalNominal,
		memory:       routing.MemoryNormal,
		network:      routing.NetworkUnknown,
		battery:      1.0,
		observations: make(map[string]routing.Observation),
	}
}

func (m *Monitor) SetThermal(state routing.ThermalState) {
	if !state.Valid() {
		m.log.Warn("ignoring unknown thermal state", "state", state)
		return
	}
	m.mu.Lock()
	m.thermal = state
	m.mu.Unlock()
}

func (m *Monitor) SetMemory(pressure routing.MemoryPressure) {
	if !pressure.Valid() {
		m.log.Warn("ignoring unknown memory pressure", "pressure", pressure)
		return
	}
	m.mu.Lock()
	m.memory = pressure
	m.mu.Unlock()
}

func (m *Monitor) SetNetwork(class routing.NetworkClass) {
	m.mu.Lock()
	m.network = class
	m.mu.Unlock()
}

// SetBattery clamps level to the 0.0 to 1.0 range.
func (m *Monitor) SetBattery(level float64) {
	level = math.Max(0, math.Min(1, level))
	m.mu.Lock()
	m.battery = level
	m.mu.Unlock()
}

// SetBudget sets the session spend ceiling in dollars. A zero or negative
// budget means unlimited.
func (m *Monitor) SetBudget(dollars float64) {
	m.mu.Lock()
	m.budget = dollars
	m.mu.Unlock()
}

// RecordCost charges dollars against the session budget.
func (m *Monitor) RecordCost(dollars float64) {
	if dollars <= 0 {
		return
	}
	m.mu.Lock()
	m.spent += dollars
	m.mu.Unlock()
}

// ResetSpend zeroes the accumulated spend when a new session starts.
func (m *Monitor) ResetSpend() {
	m.mu.Lock()
	m.spent = 0
	m.mu.Unlock()
}

// RecordLatency folds one request round trip into the endpoint's moving
// average and marks it available.
func (m *Monitor) RecordLatency(endpointID string, elapsed time.Duration) {
	millis := float64(elapsed.Milliseconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	obs, seen := m.observations[endpointID]
	if !seen || !obs.Available {
		obs = routing.Observation{LatencyMillis: millis, Available: true}
	} else {
		obs.LatencyMillis = ewmaAlpha*millis + (1-ewmaAlpha)*obs.LatencyMillis
	}
	obs.Available = true
	m.observations[endpointID] = obs
}

// MarkUnavailable records a failed request against the endpoint. The latency
// average survives so recovery does not start from scratch.
func (m *Monitor) MarkUnavailable(endpointID string) {
	m.mu.Lock()
	obs := m.observations[endpointID]
	obs.Available = false
	m.observations[endpointID] = obs
	m.mu.Unlock()
}

// Snapshot builds the routing picture for one decision. The observations map
// is copied; callers can hold the snapshot as long as they like.
func (m *Monitor) Snapshot(promptTokens, historyTokens int) routing.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	remaining := math.Inf(1)
	if m.budget > 0 {
		remaining = m.budget - m.spent
	}

	observations := make(map[string]routing.Observation, len(m.observations))
	for id, obs := range m.observations {
		observations[id] = obs
	}

	return routing.Snapshot{
		Thermal:             m.thermal,
		Memory:              m.memory,
		Network:             m.network,
		BatteryLevel:        m.battery,
		CostBudgetRemaining: remaining,
		PromptTokens:        promptTokens,
		HistoryTokens:       historyTokens,
		Hour:                m.now().Hour(),
		Observations:        observations,
	}
}
