// Package effects computes the multipliers and chance bonuses a user's
// purchased upgrades, fission count and level produce. Everything here is a
// pure function of an explicit Snapshot so it can be tested without storage.
package effects

import "math"

// Upgrade names as stored in the upgrades ledger domain.
const (
	EnergyManipulator   = "energy_manipulator"
	Undercharged        = "undercharged"
	SubatomicEfficiency = "subatomic_efficiency"
	QuantumManipulator  = "quantum_manipulator"
	ElectricField       = "electric_field"
	QuantumLuck         = "quantum_luck"
	QuantumLenses       = "quantum_lenses"
)

// Snapshot is everything the formulas depend on, captured at one point in
// time: purchase counts per upgrade, the fission (prestige) counter and the
// level derived from xp.
type Snapshot struct {
	Upgrades map[string]int64
	Fission  int64
	Level    int
}

func (s Snapshot) count(name string) float64 {
	return float64(s.Upgrades[name])
}

// tier is the level boost applied once, last, to every multiplier type:
// 1.1x compounding per completed block of 10 levels.
func (s Snapshot) tier() float64 {
	return math.Pow(1.1, float64(s.Level/10))
}

// Multiplier composes the named multiplier. Term order is part of the game's
// definition: additive upgrade term, then the compounding terms in order,
// then the fission additive bonus, then the level tier factor.
func Multiplier(kind string, base float64, s Snapshot) float64 {
	m := base
	switch kind {
	case "energy":
		m += s.count(EnergyManipulator) / 10
		m *= 1 + s.count(Undercharged)/4
		m *= 1 + s.count(SubatomicEfficiency)/2
		m += float64(s.Fission) * 0.1
	case "quark", "quarks":
		m += s.count(QuantumManipulator) / 20
		m *= 1 + s.count(ElectricField)/10
		m *= 1 + s.count(SubatomicEfficiency)/4
		m += float64(s.Fission) * 0.1
	case "quark_differentiation":
		m *= math.Pow(2, s.count(QuantumLenses))
		m *= 1 + float64(s.Fission)*0.01
	case "xp":
		m += float64(s.Fission) * 0.1
	default:
		// Unknown kinds pass the base through; new multiplier types can
		// ship before their formula does.
	}
	return m * s.tier()
}

// Chance returns the named chance bonus in percentage points. No cap is
// applied here; callers clamp where it matters.
func Chance(kind string, s Snapshot) float64 {
	switch kind {
	case "quark":
		return s.count(QuantumLuck) + s.count(ElectricField)*2 + float64(s.Fission)*5
	case "electron":
		return s.count(SubatomicEfficiency)*2 + float64(s.Fission)
	default:
		return 0
	}
}
