package effects

import (
	"math"
	"testing"
)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEnergyMultiplierOperationOrder(t *testing.T) {
	s := Snapshot{
		Upgrades: map[string]int64{
			EnergyManipulator:   1,
			Undercharged:        1,
			SubatomicEfficiency: 1,
		},
		Fission: 1,
		Level:   0,
	}
	// ((1+0.1) * 1.25 * 1.5) + 0.1 = 2.1625; reordering the terms changes
	// this value, so it is pinned exactly.
	got := Multiplier("energy", 1.0, s)
	if !almost(got, 2.1625) {
		t.Fatalf("energy multiplier = %v, want 2.1625", got)
	}
}

func TestQuarkMultiplier(t *testing.T) {
	s := Snapshot{
		Upgrades: map[string]int64{
			QuantumManipulator:  2,
			ElectricField:       1,
			SubatomicEfficiency: 2,
		},
	}
	// (1 + 2/20) * 1.1 * 1.5 = 1.815
	if got := Multiplier("quark", 1.0, s); !almost(got, 1.815) {
		t.Fatalf("quark multiplier = %v", got)
	}
}

func TestDifferentiationMultiplierUsesCallerBase(t *testing.T) {
	s := Snapshot{
		Upgrades: map[string]int64{QuantumLenses: 2},
		Fission:  3,
	}
	// 75 * 2^2 * 1.03 = 309
	if got := Multiplier("quark_differentiation", 75, s); !almost(got, 309) {
		t.Fatalf("differentiation multiplier = %v", got)
	}
}

func TestLevelTierAppliedLast(t *testing.T) {
	s := Snapshot{
		Upgrades: map[string]int64{EnergyManipulator: 1},
		Fission:  1,
		Level:    20,
	}
	// (1.1 + 0.1) * 1.1^2
	want := 1.2 * 1.21
	if got := Multiplier("energy", 1.0, s); !almost(got, want) {
		t.Fatalf("tiered multiplier = %v, want %v", got, want)
	}
	// The tier boost also reaches multiplier types with no upgrade terms.
	if got := Multiplier("xp", 1.0, Snapshot{Level: 30}); !almost(got, math.Pow(1.1, 3)) {
		t.Fatalf("xp tier = %v", got)
	}
}

func TestUnknownKindsPassThrough(t *testing.T) {
	s := Snapshot{Upgrades: map[string]int64{EnergyManipulator: 5}}
	if got := Multiplier("antimatter", 2.5, s); !almost(got, 2.5) {
		t.Fatalf("unknown multiplier = %v, want base", got)
	}
	if got := Chance("antimatter", s); got != 0 {
		t.Fatalf("unknown chance = %v, want 0", got)
	}
}

func TestChanceBonuses(t *testing.T) {
	s := Snapshot{
		Upgrades: map[string]int64{
			QuantumLuck:         3,
			ElectricField:       2,
			SubatomicEfficiency: 4,
		},
		Fission: 2,
	}
	if got := Chance("quark", s); !almost(got, 3+4+10) {
		t.Fatalf("quark chance = %v", got)
	}
	if got := Chance("electron", s); !almost(got, 8+2) {
		t.Fatalf("electron chance = %v", got)
	}
}
