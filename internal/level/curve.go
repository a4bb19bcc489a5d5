package level

import (
	"math"
	"sort"
)

// MaxLevel is the design ceiling. Reaching it is not an error; leveling
// simply stops.
const MaxLevel = 1000

// Curve defines how much experience each level-up costs. It is configuration,
// not a law of nature: swap it out to rebalance the game.
type Curve interface {
	// Increment returns the experience needed to advance from level to level+1.
	Increment(level int) int64
}

// ProductionCurve is the live curve: a base increment of 30, compounding 10%
// per level, doubled at every completed 10-level boundary with a further
// permanent 1.5x per completed block of 10 (a combined 3x per block).
type ProductionCurve struct{}

const maxSafeIncrement = float64(math.MaxInt64 / 2)

func (ProductionCurve) Increment(level int) int64 {
	if level < 1 {
		return 0
	}
	v := 30.0 * math.Pow(1.1, float64(level-1)) * math.Pow(3, float64(level/10))
	if v >= maxSafeIncrement {
		return math.MaxInt64
	}
	return int64(v)
}

// Progress describes where a cumulative experience total sits on the curve.
type Progress struct {
	Level             int
	XPForCurrentLevel int64
	XPForNextLevel    int64
	XPProgress        int64
	XPNeeded          int64
}

// Engine precomputes the cumulative requirement table for a curve once, so
// lookups are a binary search over a strictly increasing slice.
type Engine struct {
	curve Curve
	cum   []int64 // cum[l] = total experience required to reach level l
}

func NewEngine(c Curve) *Engine {
	cum := make([]int64, MaxLevel+2)
	cum[1] = 0
	for l := 2; l <= MaxLevel+1; l++ {
		cum[l] = satAdd(cum[l-1], c.Increment(l-1))
	}
	return &Engine{curve: c, cum: cum}
}

// ExperienceForLevel returns the total cumulative experience required to
// reach level. Level 1 requires zero.
func (e *Engine) ExperienceForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	if level > MaxLevel+1 {
		level = MaxLevel + 1
	}
	return e.cum[level]
}

// LevelForExperience finds the largest level whose requirement is within xp.
func (e *Engine) LevelForExperience(xp int64) Progress {
	if xp <= 0 {
		return Progress{
			Level:          1,
			XPForNextLevel: e.cum[2],
			XPNeeded:       e.cum[2],
		}
	}
	// First index whose requirement exceeds xp; the level is one below it.
	idx := sort.Search(len(e.cum)-2, func(i int) bool {
		return e.cum[i+2] > xp
	})
	lvl := idx + 1
	if lvl > MaxLevel {
		lvl = MaxLevel
	}
	p := Progress{
		Level:             lvl,
		XPForCurrentLevel: e.cum[lvl],
		XPForNextLevel:    e.cum[lvl+1],
	}
	p.XPProgress = xp - p.XPForCurrentLevel
	p.XPNeeded = p.XPForNextLevel - xp
	if p.XPNeeded < 0 {
		p.XPNeeded = 0
	}
	return p
}

func satAdd(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
