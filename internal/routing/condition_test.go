package routing

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestConditionEval(t *testing.T) {
	snap := Snapshot{
		Thermal:             ThermalSerious,
		Memory:              MemoryWarning,
		Network:             NetworkWifi,
		BatteryLevel:        0.42,
		CostBudgetRemaining: 1.50,
		PromptTokens:        800,
		HistoryTokens:       3200,
		Hour:                22,
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"threshold battery lt", Condition{Kind: CondThreshold, Field: FieldBatteryLevel, Op: OpLT, Value: 0.5}, true},
		{"threshold battery ge", Condition{Kind: CondThreshold, Field: FieldBatteryLevel, Op: OpGE, Value: 0.5}, false},
		{"threshold prompt tokens le", Condition{Kind: CondThreshold, Field: FieldPromptTokens, Op: OpLE, Value: 800}, true},
		{"threshold history tokens eq", Condition{Kind: CondThreshold, Field: FieldHistoryTokens, Op: OpEQ, Value: 3200}, true},
		{"threshold unknown field", Condition{Kind: CondThreshold, Field: "bogus", Op: OpLT, Value: 1}, false},
		{"thermal at least fair", Condition{Kind: CondThermalAtLeast, Thermal: ThermalFair}, true},
		{"thermal at least critical", Condition{Kind: CondThermalAtLeast, Thermal: ThermalCritical}, false},
		{"memory at least warning", Condition{Kind: CondMemoryAtLeast, Memory: MemoryWarning}, true},
		{"memory at least urgent", Condition{Kind: CondMemoryAtLeast, Memory: MemoryUrgent}, false},
		{"network is wifi", Condition{Kind: CondNetworkIs, Network: NetworkWifi}, true},
		{"network is cellular", Condition{Kind: CondNetworkIs, Network: NetworkCellular}, false},
		{"time of day in range", Condition{Kind: CondTimeOfDay, StartHour: 20, EndHour: 23}, true},
		{"time of day out of range", Condition{Kind: CondTimeOfDay, StartHour: 9, EndHour: 17}, false},
		{"time of day wraps midnight", Condition{Kind: CondTimeOfDay, StartHour: 21, EndHour: 6}, true},
		{"cost budget ge", Condition{Kind: CondCostBudget, Op: OpGE, Value: 1.0}, true},
		{"cost budget lt", Condition{Kind: CondCostBudget, Op: OpLT, Value: 1.0}, false},
		{"unknown kind never matches", Condition{Kind: "mystery"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Eval(snap); got != tt.want {
				t.Fatalf("Eval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionEvalIsPure(t *testing.T) {
	snap := Snapshot{BatteryLevel: 0.3}
	cond := Condition{Kind: CondThreshold, Field: FieldBatteryLevel, Op: OpLT, Value: 0.5}

	for i := 0; i < 100; i++ {
		if !cond.Eval(snap) {
			t.Fatalf("Eval() changed answer on iteration %d", i)
		}
	}
}

func TestConditionValidate(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr string
	}{
		{"valid threshold", Condition{Kind: CondThreshold, Field: FieldCostBudget, Op: OpGT, Value: 0}, ""},
		{"threshold bad field", Condition{Kind: CondThreshold, Field: "nope", Op: OpGT}, "unknown field"},
		{"threshold bad op", Condition{Kind: CondThreshold, Field: FieldBatteryLevel, Op: "gte"}, "invalid op"},
		{"valid thermal", Condition{Kind: CondThermalAtLeast, Thermal: ThermalFair}, ""},
		{"thermal bad state", Condition{Kind: CondThermalAtLeast, Thermal: "melting"}, "unknown state"},
		{"memory bad tier", Condition{Kind: CondMemoryAtLeast, Memory: "panicked"}, "unknown tier"},
		{"network missing class", Condition{Kind: CondNetworkIs}, "class is required"},
		{"time of day bad hours", Condition{Kind: CondTimeOfDay, StartHour: -1, EndHour: 30}, "out of range"},
		{"cost budget bad op", Condition{Kind: CondCostBudget, Op: "!="}, "invalid op"},
		{"unknown kind", Condition{Kind: "mystery"}, "unknown condition kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() returned error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %q", tt.wantErr, err)
			}
		})
	}
}

func TestConditionYAMLRoundTrip(t *testing.T) {
	original := []Condition{
		{Kind: CondThreshold, Field: FieldBatteryLevel, Op: OpGE, Value: 0.2},
		{Kind: CondThermalAtLeast, Thermal: ThermalFair},
		{Kind: CondNetworkIs, Network: NetworkWifi},
		{Kind: CondTimeOfDay, StartHour: 22, EndHour: 6},
		{Kind: CondCostBudget, Op: OpGT, Value: 0.05},
	}

	data, err := yaml.Marshal(original)
	if err != nil {
		t.Fatalf("marshal conditions: %v", err)
	}

	var decoded []Condition
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal conditions: %v", err)
	}

	if len(decoded) != len(original) {
		t.Fatalf("expected %d conditions, got %d", len(original), len(decoded))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Fatalf("condition %d: got %+v, want %+v", i, decoded[i], original[i])
		}
	}
}
