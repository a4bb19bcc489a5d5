package game

// AtomRecipe is the nucleosynthesis cost for one unit of an atom. Energy is
// derived from the nucleon count, not stored.
type AtomRecipe struct {
	Protons   int64
	Neutrons  int64
	Electrons int64
}

func (r AtomRecipe) EnergyCost() int64 {
	return SynthesisEnergyPerNucleon * (r.Protons + r.Neutrons)
}

// atomRecipes follows the most common isotope of each element.
var atomRecipes = map[string]AtomRecipe{
	"hydrogen": {Protons: 1, Neutrons: 0, Electrons: 1},
	"helium":   {Protons: 2, Neutrons: 2, Electrons: 2},
	"lithium":  {Protons: 3, Neutrons: 4, Electrons: 3},
	"carbon":   {Protons: 6, Neutrons: 6, Electrons: 6},
	"oxygen":   {Protons: 8, Neutrons: 8, Electrons: 8},
	"iron":     {Protons: 26, Neutrons: 30, Electrons: 26},
	"uranium":  {Protons: 92, Neutrons: 146, Electrons: 92},
}

// AtomNames returns the synthesizable atoms in recipe-size order.
func AtomNames() []string {
	return []string{"hydrogen", "helium", "lithium", "carbon", "oxygen", "iron", "uranium"}
}

// fissionTiers maps the fission count to the atom a reset consumes. Past the
// last tier the atom stays uranium and the required count doubles per reset.
var fissionTiers = []string{"hydrogen", "helium", "lithium", "carbon", "oxygen", "iron", "uranium"}

// FissionCost is what the next reset requires at a given fission count.
type FissionCost struct {
	Atom   string
	Atoms  int64
	Energy int64
}

func fissionCost(resets int64) FissionCost {
	last := int64(len(fissionTiers) - 1)
	idx := resets
	if idx > last {
		idx = last
	}
	atoms := int64(1)
	if resets > last {
		atoms = 1 << min(resets-last, 40)
	}
	return FissionCost{
		Atom:   fissionTiers[idx],
		Atoms:  atoms,
		Energy: FissionBaseEnergy << min(resets, 40),
	}
}
