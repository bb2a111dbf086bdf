package routing

import "fmt"

// Op is a comparison operator for numeric conditions.
type Op string

const (
	OpLT Op = "lt"
	OpLE Op = "le"
	OpGT Op = "gt"
	OpGE Op = "ge"
	OpEQ Op = "eq"
)

func (op Op) compare(a, b float64) bool {
	switch op {
	case OpLT:
		return a < b
	case OpLE:
		return a <= b
	case OpGT:
		return a > b
	case OpGE:
		return a >= b
	case OpEQ:
		return a == b
	default:
		return false
	}
}

func (op Op) Valid() bool {
	switch op {
	case OpLT, OpLE, OpGT, OpGE, OpEQ:
		return true
	}
	return false
}

// ConditionKind enumerates the closed set of condition variants.
type ConditionKind string

const (
	CondThreshold      ConditionKind = "threshold"
	CondThermalAtLeast ConditionKind = "thermal_at_least"
	CondMemoryAtLeast  ConditionKind = "memory_at_least"
	CondNetworkIs      ConditionKind = "network_is"
	CondTimeOfDay      ConditionKind = "time_of_day"
	CondCostBudget     ConditionKind = "cost_budget"
)

// Condition is one pure predicate over a routing Snapshot. It is a tagged
// variant: Kind selects which fields are meaningful, so conditions serialize
// directly to and from YAML for configuration and tests.
type Condition struct {
	Kind ConditionKind `yaml:"kind"`

	// threshold / cost_budget
	Field string  `yaml:"field,omitempty"`
	Op    Op      `yaml:"op,omitempty"`
	Value float64 `yaml:"value,omitempty"`

	// thermal_at_least
	Thermal ThermalState `yaml:"thermal,omitempty"`

	// memory_at_least
	Memory MemoryPressure `yaml:"memory,omitempty"`

	// network_is
	Network NetworkClass `yaml:"network,omitempty"`

	// time_of_day, inclusive start, exclusive end; a range with
	// StartHour > EndHour wraps past midnight.
	StartHour int `yaml:"start_hour,omitempty"`
	EndHour   int `yaml:"end_hour,omitempty"`
}

// Eval reports whether the condition holds against the snapshot.
// Evaluation is side-effect free and never blocks.
func (c Condition) Eval(s Snapshot) bool {
	switch c.Kind {
	case CondThreshold:
		v, ok := s.NumericField(c.Field)
		if !ok {
			return false
		}
		return c.Op.compare(v, c.Value)
	case CondThermalAtLeast:
		return s.Thermal.AtLeast(c.Thermal)
	case CondMemoryAtLeast:
		return s.Memory.AtLeast(c.Memory)
	case CondNetworkIs:
		return s.Network == c.Network
	case CondTimeOfDay:
		if c.StartHour <= c.EndHour {
			return s.Hour >= c.StartHour && s.Hour < c.EndHour
		}
		return s.Hour >= c.StartHour || s.Hour < c.EndHour
	case CondCostBudget:
		return c.Op.compare(s.CostBudgetRemaining, c.Value)
	default:
		return false
	}
}

// Validate rejects malformed conditions at registration time so Eval can
// stay total.
func (c Condition) Validate() error {
	switch c.Kind {
	case CondThreshold:
		if _, ok := (Snapshot{}).NumericField(c.Field); !ok {
			return fmt.Errorf("threshold condition: unknown field %q", c.Field)
		}
		if !c.Op.Valid() {
			return fmt.Errorf("threshold condition: invalid op %q", c.Op)
		}
	case CondThermalAtLeast:
		if !c.Thermal.Valid() {
			return fmt.Errorf("thermal condition: unknown state %q", c.Thermal)
		}
	case CondMemoryAtLeast:
		if !c.Memory.Valid() {
			return fmt.Errorf("memory condition: unknown tier %q", c.Memory)
		}
	case CondNetworkIs:
		if c.Network == "" {
			return fmt.Errorf("network condition: class is required")
		}
	case CondTimeOfDay:
		if c.StartHour < 0 || c.StartHour > 23 || c.EndHour < 0 || c.EndHour > 24 {
			return fmt.Errorf("time of day condition: hours out of range (%d-%d)", c.StartHour, c.EndHour)
		}
	case CondCostBudget:
		if !c.Op.Valid() {
			return fmt.Errorf("cost budget condition: invalid op %q", c.Op)
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}
