package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"subatomic/internal/ledger"
)

func newTestService(t *testing.T) (*Service, *ledger.Memory) {
	t.Helper()
	store := ledger.NewMemory()
	return NewService(store, nil, nil, Config{}), store
}

func grant(t *testing.T, store *ledger.Memory, userID string, deltas map[string]int64) {
	t.Helper()
	if _, err := store.Add(context.Background(), ledger.DomainCurrency, userID, deltas); err != nil {
		t.Fatalf("grant: %v", err)
	}
}

func balance(t *testing.T, store *ledger.Memory, userID, field string) int64 {
	t.Helper()
	rec, _, err := store.Get(context.Background(), ledger.DomainCurrency, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return rec.Int(field)
}

func TestGainAwardsEnergyAndXP(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	res, err := svc.Gain(ctx, "u1")
	if err != nil {
		t.Fatalf("gain: %v", err)
	}
	if !res.Success {
		t.Fatal("gain reported failure")
	}
	energy := res.Deltas[FieldEnergy]
	if energy < 1 || energy > 10 {
		t.Fatalf("energy delta %d outside the level-1 band", energy)
	}
	// No upgrades, level 1: the xp multiplier is exactly 1.
	if res.Deltas["xp"] != energy {
		t.Fatalf("xp delta %d != energy delta %d", res.Deltas["xp"], energy)
	}
	if balance(t, store, "u1", FieldEnergy) != energy {
		t.Fatal("committed energy does not match the reported delta")
	}
	profile, _, err := store.Get(ctx, ledger.DomainProfile, "u1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.Int("gains") != 1 {
		t.Fatalf("gains = %d, want 1", profile.Int("gains"))
	}
	if profile.Int("last_gain") == 0 {
		t.Fatal("last_gain was not stamped")
	}
}

func TestGainCooldown(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	base := time.Now()
	svc.now = func() time.Time { return base }
	if _, err := svc.Gain(ctx, "u1"); err != nil {
		t.Fatalf("first gain: %v", err)
	}
	before := balance(t, store, "u1", FieldEnergy)

	svc.now = func() time.Time { return base.Add(500 * time.Millisecond) }
	_, err := svc.Gain(ctx, "u1")
	var cd *CooldownError
	if !errors.As(err, &cd) {
		t.Fatalf("expected CooldownError, got %v", err)
	}
	if cd.Remaining <= 0 || cd.Remaining > 2*time.Second {
		t.Fatalf("remaining = %v", cd.Remaining)
	}
	if balance(t, store, "u1", FieldEnergy) != before {
		t.Fatal("cooldown failure mutated the ledger")
	}

	svc.now = func() time.Time { return base.Add(3 * time.Second) }
	if _, err := svc.Gain(ctx, "u1"); err != nil {
		t.Fatalf("gain after cooldown: %v", err)
	}
}

func TestRollQuarksGuaranteedHundredth(t *testing.T) {
	svc, _ := newTestService(t)
	// With zero chance only the every-100th guarantee fires.
	if got := svc.rollQuarks(100, 0); got != 1 {
		t.Fatalf("rollQuarks(100, 0) = %d, want 1", got)
	}
	if got := svc.rollQuarks(99, 0); got != 0 {
		t.Fatalf("rollQuarks(99, 0) = %d, want 0", got)
	}
	if got := svc.rollQuarks(250, 0); got != 2 {
		t.Fatalf("rollQuarks(250, 0) = %d, want 2", got)
	}
	// Chance 100 means every unit pays out.
	if got := svc.rollQuarks(50, 100); got != 50 {
		t.Fatalf("rollQuarks(50, 100) = %d, want 50", got)
	}
}

func TestProbabilizeValidation(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	grant(t, store, "u1", map[string]int64{FieldEnergy: 50})

	if _, err := svc.Probabilize(ctx, "u1", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("amount 0: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Probabilize(ctx, "u1", -5); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative amount: expected ErrInvalidInput, got %v", err)
	}

	_, err := svc.Probabilize(ctx, "u1", 100)
	var ins *InsufficientError
	if !errors.As(err, &ins) {
		t.Fatalf("expected InsufficientError, got %v", err)
	}
	if ins.Missing[FieldEnergy] != 50 {
		t.Fatalf("missing energy = %d, want 50", ins.Missing[FieldEnergy])
	}
	if balance(t, store, "u1", FieldEnergy) != 50 {
		t.Fatal("failed probabilize mutated the ledger")
	}
}

func TestProbabilizeSpendsAndUnlocksTutorial(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	grant(t, store, "u1", map[string]int64{FieldEnergy: 200})

	res, err := svc.Probabilize(ctx, "u1", 200)
	if err != nil {
		t.Fatalf("probabilize: %v", err)
	}
	if balance(t, store, "u1", FieldEnergy) != 0 {
		t.Fatal("energy not fully spent")
	}
	quarks := balance(t, store, "u1", FieldQuarks)
	// Two guaranteed quarks from the 100th and 200th unit, the rest random.
	if quarks < 2 || quarks > 200 {
		t.Fatalf("quarks = %d outside [2, 200]", quarks)
	}
	if len(res.Tutorials) != 1 || res.Tutorials[0] != "first_quark" {
		t.Fatalf("tutorials = %v, want [first_quark]", res.Tutorials)
	}

	// A second run must not unlock the tutorial again.
	grant(t, store, "u1", map[string]int64{FieldEnergy: 100})
	res, err = svc.Probabilize(ctx, "u1", 100)
	if err != nil {
		t.Fatalf("second probabilize: %v", err)
	}
	if len(res.Tutorials) != 0 {
		t.Fatalf("tutorial unlocked twice: %v", res.Tutorials)
	}
}

func TestRollDifferentiationSplitsGuaranteedAndRemainder(t *testing.T) {
	svc, _ := newTestService(t)
	// Chance 200% means exactly 2 guaranteed per unit, no remainder roll.
	if got := svc.rollDifferentiation(3, 200); got != 6 {
		t.Fatalf("rollDifferentiation(3, 200) = %d, want 6", got)
	}
	if got := svc.rollDifferentiation(5, 0); got != 0 {
		t.Fatalf("rollDifferentiation(5, 0) = %d, want 0", got)
	}
	// Chance 100 has zero remainder after the floor split.
	if got := svc.rollDifferentiation(4, 100); got != 4 {
		t.Fatalf("rollDifferentiation(4, 100) = %d, want 4", got)
	}
}

func TestDifferentiateAffordabilityBoundary(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	// One short of the energy cost fails and changes nothing.
	grant(t, store, "u1", map[string]int64{FieldEnergy: 2*DifferentiateEnergyPerQuark - 1, FieldQuarks: 2})
	_, err := svc.Differentiate(ctx, "u1", 2)
	var ins *InsufficientError
	if !errors.As(err, &ins) {
		t.Fatalf("expected InsufficientError, got %v", err)
	}
	if ins.Missing[FieldEnergy] != 1 {
		t.Fatalf("missing energy = %d, want 1", ins.Missing[FieldEnergy])
	}
	if balance(t, store, "u1", FieldEnergy) != 2*DifferentiateEnergyPerQuark-1 {
		t.Fatal("failed differentiate mutated the ledger")
	}

	// Topping up to the exact cost succeeds.
	grant(t, store, "u1", map[string]int64{FieldEnergy: 1})
	res, err := svc.Differentiate(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("differentiate: %v", err)
	}
	if !res.Success {
		t.Fatal("differentiate reported failure")
	}
	if balance(t, store, "u1", FieldEnergy) != 0 || balance(t, store, "u1", FieldQuarks) != 0 {
		t.Fatal("costs not fully consumed")
	}
}

func TestCondense(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	grant(t, store, "u1", map[string]int64{FieldEnergy: 2 * CondenseEnergyPerElectron})

	res, err := svc.Condense(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("condense: %v", err)
	}
	if balance(t, store, "u1", FieldElectrons) != 2 {
		t.Fatalf("electrons = %d, want 2", balance(t, store, "u1", FieldElectrons))
	}
	if balance(t, store, "u1", FieldEnergy) != 0 {
		t.Fatal("energy not fully spent")
	}
	if len(res.Tutorials) != 1 || res.Tutorials[0] != "first_electron" {
		t.Fatalf("tutorials = %v", res.Tutorials)
	}

	var ins *InsufficientError
	if _, err := svc.Condense(ctx, "u1", 1); !errors.As(err, &ins) {
		t.Fatalf("expected InsufficientError, got %v", err)
	}
}

func TestHadronize(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	// 2 protons + 1 neutron: 5 up, 4 down, 7500 energy.
	grant(t, store, "u1", map[string]int64{
		"up_quark":   5,
		"down_quark": 4,
		FieldEnergy:  3 * HadronizeEnergyPerNucleon,
	})
	res, err := svc.Hadronize(ctx, "u1", 2, 1)
	if err != nil {
		t.Fatalf("hadronize: %v", err)
	}
	if !res.Success {
		t.Fatal("hadronize reported failure")
	}
	if balance(t, store, "u1", FieldProtons) != 2 || balance(t, store, "u1", FieldNeutrons) != 1 {
		t.Fatal("nucleon totals wrong")
	}
	for _, field := range []string{"up_quark", "down_quark", FieldEnergy} {
		if balance(t, store, "u1", field) != 0 {
			t.Fatalf("%s not fully consumed", field)
		}
	}
}

func TestHadronizeReportsAllShortfalls(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Hadronize(ctx, "u1", 1, 1)
	var ins *InsufficientError
	if !errors.As(err, &ins) {
		t.Fatalf("expected InsufficientError, got %v", err)
	}
	want := map[string]int64{
		"up_quark":   3,
		"down_quark": 3,
		FieldEnergy:  2 * HadronizeEnergyPerNucleon,
	}
	for field, amount := range want {
		if ins.Missing[field] != amount {
			t.Fatalf("missing[%s] = %d, want %d", field, ins.Missing[field], amount)
		}
	}
}

func TestHadronizeInvalidInput(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Hadronize(context.Background(), "u1", 0, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Hadronize(context.Background(), "u1", -1, 2); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNucleosynthesize(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	grant(t, store, "u1", map[string]int64{
		FieldProtons:   1,
		FieldElectrons: 1,
		FieldEnergy:    SynthesisEnergyPerNucleon,
	})
	res, err := svc.Nucleosynthesize(ctx, "u1", "hydrogen", 1)
	if err != nil {
		t.Fatalf("nucleosynthesize: %v", err)
	}
	if balance(t, store, "u1", atomField("hydrogen")) != 1 {
		t.Fatal("hydrogen not credited")
	}
	if balance(t, store, "u1", FieldProtons) != 0 || balance(t, store, "u1", FieldEnergy) != 0 {
		t.Fatal("costs not consumed")
	}
	if len(res.Tutorials) != 1 || res.Tutorials[0] != "first_atom" {
		t.Fatalf("tutorials = %v", res.Tutorials)
	}

	if _, err := svc.Nucleosynthesize(ctx, "u1", "unobtainium", 1); !errors.Is(err, ErrUnknownAtom) {
		t.Fatalf("expected ErrUnknownAtom, got %v", err)
	}
	if _, err := svc.Nucleosynthesize(ctx, "u1", "helium", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFissionCostTiers(t *testing.T) {
	cases := []struct {
		resets int64
		atom   string
		atoms  int64
		energy int64
	}{
		{0, "hydrogen", 1, 1_000_000},
		{1, "helium", 1, 2_000_000},
		{6, "uranium", 1, 64_000_000},
		{8, "uranium", 4, 256_000_000},
	}
	for _, tc := range cases {
		got := fissionCost(tc.resets)
		if got.Atom != tc.atom || got.Atoms != tc.atoms || got.Energy != tc.energy {
			t.Fatalf("fissionCost(%d) = %+v, want {%s %d %d}", tc.resets, got, tc.atom, tc.atoms, tc.energy)
		}
	}
}

func TestFissionFirstReset(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	// Unaffordable fission fails in both phases.
	var ins *InsufficientError
	if _, err := svc.Fission(ctx, "u1", false); !errors.As(err, &ins) {
		t.Fatalf("expected InsufficientError, got %v", err)
	}

	grant(t, store, "u1", map[string]int64{
		atomField("hydrogen"): 1,
		atomField("helium"):   3,
		FieldEnergy:           FissionBaseEnergy,
		FieldQuarks:           40,
		"up_quark":            7,
	})
	if _, err := store.Add(ctx, ledger.DomainProfile, "u1", map[string]int64{"xp": 500}); err != nil {
		t.Fatalf("seed xp: %v", err)
	}
	if _, err := store.Add(ctx, ledger.DomainUpgrades, "u1", map[string]int64{"quantum_luck": 2}); err != nil {
		t.Fatalf("seed upgrades: %v", err)
	}

	// First phase is a quote only.
	res, err := svc.Fission(ctx, "u1", false)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if res.Success {
		t.Fatal("preview must not report success")
	}
	wantConfirm := false
	for _, next := range res.Next {
		if next == NextConfirm {
			wantConfirm = true
		}
	}
	if !wantConfirm {
		t.Fatal("preview did not offer confirmation")
	}
	if balance(t, store, "u1", FieldEnergy) != FissionBaseEnergy {
		t.Fatal("preview mutated the ledger")
	}

	res, err = svc.Fission(ctx, "u1", true)
	if err != nil {
		t.Fatalf("fission: %v", err)
	}
	if !res.Success {
		t.Fatal("fission reported failure")
	}
	for _, field := range []string{FieldEnergy, FieldQuarks, "up_quark", atomField("hydrogen")} {
		if got := balance(t, store, "u1", field); got != 0 {
			t.Fatalf("%s = %d after fission, want 0", field, got)
		}
	}
	if balance(t, store, "u1", FieldPhotons) != 1 {
		t.Fatalf("photons = %d, want 1", balance(t, store, "u1", FieldPhotons))
	}
	if balance(t, store, "u1", atomField("helium")) != 3 {
		t.Fatal("untouched atom counts must survive fission")
	}
	resets, _, err := store.Get(ctx, ledger.DomainResets, "u1")
	if err != nil {
		t.Fatalf("resets: %v", err)
	}
	if resets.Int("fission") != 1 {
		t.Fatalf("fission counter = %d, want 1", resets.Int("fission"))
	}
	if found, _ := store.Exists(ctx, ledger.DomainUpgrades, "u1"); found {
		t.Fatal("upgrades survived fission")
	}
	profile, _, _ := store.Get(ctx, ledger.DomainProfile, "u1")
	if profile.Int("xp") != 0 {
		t.Fatalf("xp = %d after fission, want 0", profile.Int("xp"))
	}
}

func TestLeaderboardOrdersByPhotons(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	grant(t, store, "a", map[string]int64{FieldPhotons: 5})
	grant(t, store, "b", map[string]int64{FieldPhotons: 10})
	grant(t, store, "c", map[string]int64{FieldEnergy: 1})
	if _, err := store.Add(ctx, ledger.DomainResets, "b", map[string]int64{"fission": 4}); err != nil {
		t.Fatalf("seed resets: %v", err)
	}

	entries, err := svc.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].UserID != "b" || entries[0].Fission != 4 {
		t.Fatalf("first entry = %+v", entries[0])
	}
	if entries[1].UserID != "a" || entries[2].UserID != "c" {
		t.Fatalf("order = %s, %s", entries[1].UserID, entries[2].UserID)
	}

	top, err := svc.Leaderboard(ctx, 1)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(top) != 1 || top[0].UserID != "b" {
		t.Fatalf("top = %+v", top)
	}
}

func TestProfileView(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	if _, err := store.Add(ctx, ledger.DomainProfile, "u1", map[string]int64{"xp": 100, "gains": 7}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	view, err := svc.Profile(ctx, "u1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if view.Gains != 7 || view.XP != 100 {
		t.Fatalf("view = %+v", view)
	}
	// 100 xp clears the level-2 requirement of 30.
	if view.Progress.Level < 2 {
		t.Fatalf("level = %d, want >= 2", view.Progress.Level)
	}
}

func TestMultipliersView(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	if _, err := store.Add(ctx, ledger.DomainUpgrades, "u1", map[string]int64{
		"energy_manipulator":   1,
		"undercharged":         1,
		"subatomic_efficiency": 1,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Add(ctx, ledger.DomainResets, "u1", map[string]int64{"fission": 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	view, err := svc.Multipliers(ctx, "u1")
	if err != nil {
		t.Fatalf("multipliers: %v", err)
	}
	if diff := view.Energy - 2.1625; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("energy multiplier = %v, want 2.1625", view.Energy)
	}
	if view.ElectronChance != 3 {
		t.Fatalf("electron chance = %v, want 3", view.ElectronChance)
	}
}

func TestGrant(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	if _, err := svc.Grant(ctx, "u1", "", 5); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	res, err := svc.Grant(ctx, "u1", FieldEnergy, 500)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if res.Totals[FieldEnergy] != 500 || balance(t, store, "u1", FieldEnergy) != 500 {
		t.Fatal("grant not committed")
	}
}
