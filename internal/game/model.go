package game

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Currency field names. Atom counts live under an "atom_" prefix so the six
// quark sub-types and the atom inventory share the currency domain without
// colliding.
const (
	FieldEnergy    = "energy"
	FieldQuarks    = "quarks"
	FieldElectrons = "electrons"
	FieldProtons   = "protons"
	FieldNeutrons  = "neutrons"
	FieldPhotons   = "photons"

	atomPrefix = "atom_"
)

// Quark sub-type fields in differentiation order.
var quarkSubtypes = []string{
	"up_quark",
	"down_quark",
	"strange_quark",
	"charm_quark",
	"bottom_quark",
	"top_quark",
}

// Base differentiation percentages per sub-type. Scaled by the quark
// differentiation multiplier before the floor/remainder split.
var differentiationBase = map[string]float64{
	"up_quark":      75,
	"down_quark":    75,
	"strange_quark": 0.1,
	"charm_quark":   0.01,
	"bottom_quark":  0.01,
	"top_quark":     0.001,
}

const (
	DifferentiateEnergyPerQuark = int64(250)
	CondenseEnergyPerElectron   = int64(1000)
	HadronizeEnergyPerNucleon   = int64(2500)
	SynthesisEnergyPerNucleon   = int64(5000)
	FissionBaseEnergy           = int64(1_000_000)

	BaseQuarkChancePercent = 5.0
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnknownAtom  = errors.New("unknown atom")
)

// InsufficientError reports every shortfall at once, not just the first.
type InsufficientError struct {
	Missing map[string]int64
}

func (e *InsufficientError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for name := range e.Missing {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s (need %d more)", name, e.Missing[name]))
	}
	return "insufficient resources: " + strings.Join(parts, ", ")
}

type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("on cooldown for another %.2fs", e.Remaining.Seconds())
}

// LockedError covers level-gated shop items and exhausted purchase caps.
type LockedError struct {
	Reason string
}

func (e *LockedError) Error() string { return e.Reason }

func atomField(name string) string { return atomPrefix + name }
