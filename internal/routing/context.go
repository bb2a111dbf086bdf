package routing

// ThermalState mirrors the platform thermal reporting tiers.
type ThermalState string

const (
	ThermalNominal  ThermalState = "nominal"
	ThermalFair     ThermalState = "fair"
	ThermalSerious  ThermalState = "serious"
	ThermalCritical ThermalState = "critical"
)

var thermalSeverity = map[ThermalState]int{
	ThermalNominal:  0,
	ThermalFair:     1,
	ThermalSerious:  2,
	ThermalCritical: 3,
}

// AtLeast reports whether t is as severe as other, using the fixed
// nominal < fair < serious < critical ordering. Unknown values rank lowest.
func (t ThermalState) AtLeast(other ThermalState) bool {
	return thermalSeverity[t] >= thermalSeverity[other]
}

func (t ThermalState) Valid() bool {
	_, ok := thermalSeverity[t]
	return ok
}

// MemoryPressure mirrors the platform memory pressure tiers.
type MemoryPressure string

const (
	MemoryNormal   MemoryPressure = "normal"
	MemoryWarning  MemoryPressure = "warning"
	MemoryUrgent   MemoryPressure = "urgent"
	MemoryCritical MemoryPressure = "critical"
)

var memorySeverity = map[MemoryPressure]int{
	MemoryNormal:   0,
	MemoryWarning:  1,
	MemoryUrgent:   2,
	MemoryCritical: 3,
}

// AtLeast reports whether m is as severe as other, using the fixed
// normal < warning < urgent < critical ordering.
func (m MemoryPressure) AtLeast(other MemoryPressure) bool {
	return memorySeverity[m] >= memorySeverity[other]
}

func (m MemoryPressure) Valid() bool {
	_, ok := memorySeverity[m]
	return ok
}

// NetworkClass is the coarse connectivity class at snapshot time.
type NetworkClass string

const (
	NetworkUnknown  NetworkClass = "unknown"
	NetworkOffline  NetworkClass = "offline"
	NetworkCellular NetworkClass = "cellular"
	NetworkWifi     NetworkClass = "wifi"
	NetworkWired    NetworkClass = "wired"
)

// Observation is the router's view of one endpoint's recent behavior.
type Observation struct {
	LatencyMillis float64
	Available     bool
}

// Snapshot is an immutable picture of device, network, and budget conditions
// taken at the moment of one routing decision. A fresh Snapshot is built for
// every decision; nothing mutates one after construction.
type Snapshot struct {
	Thermal      ThermalState
	Memory       MemoryPressure
	Network      NetworkClass
	BatteryLevel float64 // 0.0 (empty) to 1.0 (full)

	// CostBudgetRemaining is the unspent session budget in dollars.
	CostBudgetRemaining float64

	PromptTokens  int
	HistoryTokens int

	// Hour is the local wall-clock hour, 0-23, for time-of-day conditions.
	Hour int

	// Observations maps endpoint ID to its most recent health observation.
	Observations map[string]Observation
}

// Numeric context fields addressable by threshold conditions.
const (
	FieldBatteryLevel  = "battery_level"
	FieldPromptTokens  = "prompt_tokens"
	FieldHistoryTokens = "history_tokens"
	FieldCostBudget    = "cost_budget"
)

// NumericField returns the named numeric field of the snapshot.
func (s Snapshot) NumericField(name string) (float64, bool) {
	switch name {
	case FieldBatteryLevel:
		return s.BatteryLevel, true
	case FieldPromptTokens:
		return float64(s.PromptTokens), true
	case FieldHistoryTokens:
		return float64(s.HistoryTokens), true
	case FieldCostBudget:
		return s.CostBudgetRemaining, true
	default:
		return 0, false
	}
}
