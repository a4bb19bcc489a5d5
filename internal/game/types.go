package game

import "subatomic/internal/level"

// NextAction hints which controls the presentation layer should offer after
// an action. The engine never renders anything itself.
type NextAction string

const (
	NextRetry     NextAction = "retry"
	NextRetrySame NextAction = "retry_same"
	NextConfirm   NextAction = "confirm"
	NextBack      NextAction = "back"
)

// Result is the structured outcome of one action. Deltas hold what changed,
// Totals the post-commit balances for the fields the action touched.
type Result struct {
	Success   bool             `json:"success"`
	Fragments []string         `json:"fragments,omitempty"`
	Deltas    map[string]int64 `json:"deltas,omitempty"`
	Totals    map[string]int64 `json:"totals,omitempty"`
	Next      []NextAction     `json:"next,omitempty"`
	Tutorials []string         `json:"tutorials,omitempty"`
}

type ProfileView struct {
	UserID   string         `json:"user_id"`
	Gains    int64          `json:"gains"`
	XP       int64          `json:"xp"`
	Fission  int64          `json:"fission"`
	Progress level.Progress `json:"progress"`
}

// MultipliersView exposes the current composed values for display.
type MultipliersView struct {
	Energy               float64 `json:"energy"`
	Quark                float64 `json:"quark"`
	QuarkDifferentiation float64 `json:"quark_differentiation"`
	XP                   float64 `json:"xp"`
	QuarkChance          float64 `json:"quark_chance"`
	ElectronChance       float64 `json:"electron_chance"`
	Level                int     `json:"level"`
}

type LeaderboardEntry struct {
	UserID  string `json:"user_id"`
	Photons int64  `json:"photons"`
	Fission int64  `json:"fission"`
}
