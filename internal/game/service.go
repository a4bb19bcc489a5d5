package game

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	mathrand "math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"subatomic/internal/effects"
	"subatomic/internal/ledger"
	"subatomic/internal/level"
)

// Gate is consulted before every action. A nil gate admits everyone, which
// only tests use.
type Gate interface {
	Check(ctx context.Context, userID string) error
}

type Config struct {
	// GainCooldown is the minimum wait between gains. Default 2s.
	GainCooldown time.Duration
	// ElectronChanceKey is the chance lookup used for electron drops in
	// gain. The historical behaviour resolves it under "energy", which
	// yields zero; set to "electron" to turn electron drops on.
	ElectronChanceKey string
}

func (c *Config) normalize() {
	if c.GainCooldown <= 0 {
		c.GainCooldown = 2 * time.Second
	}
	if c.ElectronChanceKey == "" {
		c.ElectronChanceKey = "energy"
	}
}

type Service struct {
	store  ledger.Store
	gate   Gate
	levels *level.Engine
	log    *slog.Logger
	cfg    Config

	mu   sync.Mutex
	rand *mathrand.Rand
	now  func() time.Time
}

func NewService(store ledger.Store, gate Gate, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.normalize()
	return &Service{
		store:  store,
		gate:   gate,
		levels: level.NewEngine(level.ProductionCurve{}),
		log:    logger,
		cfg:    cfg,
		rand:   mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
}

func (s *Service) check(ctx context.Context, userID string) error {
	if s.gate == nil {
		return nil
	}
	return s.gate.Check(ctx, userID)
}

// userState is one consistent-enough read of everything an action needs.
// Domains are fetched separately, so a concurrent commit can interleave; the
// final Add is the correctness boundary, not this read.
type userState struct {
	currency ledger.Record
	profile  ledger.Record
	snap     effects.Snapshot
	prog     level.Progress
}

func (s *Service) load(ctx context.Context, userID string) (userState, error) {
	var st userState
	var err error
	if st.currency, _, err = s.store.Get(ctx, ledger.DomainCurrency, userID); err != nil {
		return st, err
	}
	if st.profile, _, err = s.store.Get(ctx, ledger.DomainProfile, userID); err != nil {
		return st, err
	}
	upgrades, _, err := s.store.Get(ctx, ledger.DomainUpgrades, userID)
	if err != nil {
		return st, err
	}
	resets, _, err := s.store.Get(ctx, ledger.DomainResets, userID)
	if err != nil {
		return st, err
	}
	st.prog = s.levels.LevelForExperience(st.profile.Int("xp"))
	st.snap = effects.Snapshot{
		Upgrades: upgrades.Num,
		Fission:  resets.Int("fission"),
		Level:    st.prog.Level,
	}
	return st, nil
}

func (s *Service) nextFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

// randRange returns a uniform integer in [lo, hi].
func (s *Service) randRange(lo, hi int) int64 {
	if hi <= lo {
		return int64(lo)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(lo + s.rand.Intn(hi-lo+1))
}

// shortfall records how much of a field is missing, if any.
func shortfall(missing map[string]int64, name string, have, need int64) {
	if have < need {
		missing[name] = need - have
	}
}

// Gain is the basic resource tap. Rate limited per user; energy always
// drops, quarks and electrons roll against their chance bonuses.
func (s *Service) Gain(ctx context.Context, userID string) (Result, error) {
	if err := s.check(ctx, userID); err != nil {
		return Result{}, err
	}
	st, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	if last := st.profile.Int("last_gain"); last > 0 {
		if elapsed := now.Sub(time.UnixMilli(last)); elapsed < s.cfg.GainCooldown {
			return Result{}, &CooldownError{Remaining: s.cfg.GainCooldown - elapsed}
		}
	}
	stamp := ledger.NewRecord(userID)
	stamp.Num["last_gain"] = now.UnixMilli()
	if err := s.store.Upsert(ctx, ledger.DomainProfile, stamp); err != nil {
		return Result{}, err
	}

	lvl := st.prog.Level
	energyGain := int64(float64(s.randRange(1+lvl/2, 10+lvl/2)) * effects.Multiplier("energy", 1.0, st.snap))

	var quarkGain, electronGain int64
	if c := effects.Chance("quark", st.snap); c > 0 && s.nextFloat() < c/100 {
		quarkGain = s.randRange(2+lvl/3, 5+lvl/3)
	}
	if c := effects.Chance(s.cfg.ElectronChanceKey, st.snap); c > 0 && s.nextFloat() < c/100 {
		electronGain = s.randRange(1+lvl/4, 3+lvl/4)
	}

	xpGain := int64(float64(energyGain+3*quarkGain+25*electronGain) * effects.Multiplier("xp", 1.0, st.snap))

	deltas := map[string]int64{FieldEnergy: energyGain}
	if quarkGain > 0 {
		deltas[FieldQuarks] = quarkGain
	}
	if electronGain > 0 {
		deltas[FieldElectrons] = electronGain
	}
	after, err := s.store.Add(ctx, ledger.DomainCurrency, userID, deltas)
	if err != nil {
		return Result{}, err
	}
	if _, err := s.store.Add(ctx, ledger.DomainProfile, userID, map[string]int64{"xp": xpGain, "gains": 1}); err != nil {
		return Result{}, err
	}

	res := Result{
		Success: true,
		Deltas:  deltas,
		Totals:  totals(after, deltas),
		Next:    []NextAction{NextRetry, NextBack},
	}
	res.Deltas["xp"] = xpGain
	res.Fragments = append(res.Fragments, fmt.Sprintf("+%d energy (total: %d)", energyGain, after.Int(FieldEnergy)))
	if quarkGain > 0 {
		res.Fragments = append(res.Fragments, fmt.Sprintf("+%d quarks (total: %d)", quarkGain, after.Int(FieldQuarks)))
	}
	if electronGain > 0 {
		res.Fragments = append(res.Fragments, fmt.Sprintf("+%d electrons (total: %d)", electronGain, after.Int(FieldElectrons)))
	}
	res.Fragments = append(res.Fragments, fmt.Sprintf("+%d XP", xpGain))
	return res, nil
}

// rollQuarks applies the probabilize rule: every 100th unit is a guaranteed
// quark, every other unit is an independent roll at chance percent.
func (s *Service) rollQuarks(amount int64, chance float64) int64 {
	var quarks int64
	for i := int64(1); i <= amount; i++ {
		if i%100 == 0 {
			quarks++
		} else if chance > 0 && s.nextFloat()*100 < chance {
			quarks++
		}
	}
	return quarks
}

func (s *Service) Probabilize(ctx context.Context, userID string, amount int64) (Result, error) {
	if err := s.check(ctx, userID); err != nil {
		return Result{}, err
	}
	if amount <= 0 {
		return Result{}, ErrInvalidInput
	}
	st, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if have := st.currency.Int(FieldEnergy); have < amount {
		return Result{}, &InsufficientError{Missing: map[string]int64{FieldEnergy: amount - have}}
	}

	chance := BaseQuarkChancePercent + effects.Chance("quark", st.snap)
	quarks := s.rollQuarks(amount, chance)

	deltas := map[string]int64{FieldEnergy: -amount}
	if quarks > 0 {
		deltas[FieldQuarks] = quarks
	}
	after, err := s.store.Add(ctx, ledger.DomainCurrency, userID, deltas)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Success: true,
		Deltas:  deltas,
		Totals:  totals(after, deltas),
		Next:    []NextAction{NextRetrySame, NextBack},
		Fragments: []string{
			fmt.Sprintf("Energy spent: %d", amount),
			fmt.Sprintf("Quarks gained: %d (total: %d)", quarks, after.Int(FieldQuarks)),
			fmt.Sprintf("Chance per: %g%%", chance),
		},
	}
	if quarks > 0 && st.currency.Int(FieldQuarks) == 0 {
		if err := s.unlockTutorial(ctx, userID, "first_quark", &res); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// rollDifferentiation converts chance percent into whole units plus one
// remainder roll, per unit of input.
func (s *Service) rollDifferentiation(units int64, chance float64) int64 {
	guaranteed := int64(chance) / 100
	remainder := math.Mod(chance, 100)
	total := guaranteed * units
	for i := int64(0); i < units; i++ {
		if remainder > 0 && s.nextFloat()*100 < remainder {
			total++
		}
	}
	return total
}

// Differentiate splits quarks into the six sub-types.
func (s *Service) Differentiate(ctx context.Context, userID string, amount int64) (Result, error) {
	if err := s.check(ctx, userID); err != nil {
		return Result{}, err
	}
	if amount <= 0 {
		return Result{}, ErrInvalidInput
	}
	st, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	energyCost := DifferentiateEnergyPerQuark * amount
	missing := map[string]int64{}
	shortfall(missing, FieldEnergy, st.currency.Int(FieldEnergy), energyCost)
	shortfall(missing, FieldQuarks, st.currency.Int(FieldQuarks), amount)
	if len(missing) > 0 {
		return Result{}, &InsufficientError{Missing: missing}
	}

	deltas := map[string]int64{
		FieldEnergy: -energyCost,
		FieldQuarks: -amount,
	}
	var frags []string
	for _, sub := range quarkSubtypes {
		chance := effects.Multiplier("quark_differentiation", differentiationBase[sub], st.snap)
		if n := s.rollDifferentiation(amount, chance); n > 0 {
			deltas[sub] = n
			frags = append(frags, fmt.Sprintf("+%d %s", n, strings.ReplaceAll(sub, "_", " ")))
		}
	}
	after, err := s.store.Add(ctx, ledger.DomainCurrency, userID, deltas)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Success:   true,
		Deltas:    deltas,
		Totals:    totals(after, deltas),
		Next:      []NextAction{NextRetrySame, NextBack},
		Fragments: append([]string{fmt.Sprintf("Spent %d energy and %d quarks", energyCost, amount)}, frags...),
	}
	if err := s.unlockTutorial(ctx, userID, "first_differentiation", &res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Condense trades energy for electrons, deterministically.
func (s *Service) Condense(ctx context.Context, userID string, amount int64) (Result, error) {
	if err := s.check(ctx, userID); err != nil {
		return Result{}, err
	}
	if amount <= 0 {
		return Result{}, ErrInvalidInput
	}
	st, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	energyCost := CondenseEnergyPerElectron * amount
	if have := st.currency.Int(FieldEnergy); have < energyCost {
		return Result{}, &InsufficientError{Missing: map[string]int64{FieldEnergy: energyCost - have}}
	}

	deltas := map[string]int64{FieldEnergy: -energyCost, FieldElectrons: amount}
	after, err := s.store.Add(ctx, ledger.DomainCurrency, userID, deltas)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Success: true,
		Deltas:  deltas,
		Totals:  totals(after, deltas),
		Next:    []NextAction{NextRetrySame, NextBack},
		Fragments: []string{
			fmt.Sprintf("Condensed %d energy into %d electrons (total: %d)", energyCost, amount, after.Int(FieldElectrons)),
		},
	}
	if st.currency.Int(FieldElectrons) == 0 {
		if err := s.unlockTutorial(ctx, userID, "first_electron", &res); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// Hadronize binds up and down quarks into protons and neutrons.
func (s *Service) Hadronize(ctx context.Context, userID string, protons, neutrons int64) (Result, error) {
	if err := s.check(ctx, userID); err != nil {
		return Result{}, err
	}
	if protons < 0 || neutrons < 0 || protons+neutrons == 0 {
		return Result{}, ErrInvalidInput
	}
	st, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	upNeed := 2*protons + neutrons
	downNeed := protons + 2*neutrons
	energyNeed := HadronizeEnergyPerNucleon * (protons + neutrons)

	missing := map[string]int64{}
	shortfall(missing, "up_quark", st.currency.Int("up_quark"), upNeed)
	shortfall(missing, "down_quark", st.currency.Int("down_quark"), downNeed)
	shortfall(missing, FieldEnergy, st.currency.Int(FieldEnergy), energyNeed)
	if len(missing) > 0 {
		return Result{}, &InsufficientError{Missing: missing}
	}

	deltas := map[string]int64{
		"up_quark":   -upNeed,
		"down_quark": -downNeed,
		FieldEnergy:  -energyNeed,
	}
	if protons > 0 {
		deltas[FieldProtons] = protons
	}
	if neutrons > 0 {
		deltas[FieldNeutrons] = neutrons
	}
	after, err := s.store.Add(ctx, ledger.DomainCurrency, userID, deltas)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Success: true,
		Deltas:  deltas,
		Totals:  totals(after, deltas),
		Next:    []NextAction{NextRetrySame, NextBack},
		Fragments: []string{
			fmt.Sprintf("+%d protons, +%d neutrons", protons, neutrons),
			fmt.Sprintf("Consumed %d up quarks, %d down quarks, %d energy", upNeed, downNeed, energyNeed),
		},
	}
	if err := s.unlockTutorial(ctx, userID, "first_hadron", &res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Nucleosynthesize assembles whole atoms from nucleons and electrons.
func (s *Service) Nucleosynthesize(ctx context.Context, userID, atom string, count int64) (Result, error) {
	if err := s.check(ctx, userID); err != nil {
		return Result{}, err
	}
	if count <= 0 {
		return Result{}, ErrInvalidInput
	}
	recipe, ok := atomRecipes[atom]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownAtom, atom)
	}
	st, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	protonNeed := recipe.Protons * count
	neutronNeed := recipe.Neutrons * count
	electronNeed := recipe.Electrons * count
	energyNeed := recipe.EnergyCost() * count

	missing := map[string]int64{}
	shortfall(missing, FieldProtons, st.currency.Int(FieldProtons), protonNeed)
	shortfall(missing, FieldNeutrons, st.currency.Int(FieldNeutrons), neutronNeed)
	shortfall(missing, FieldElectrons, st.currency.Int(FieldElectrons), electronNeed)
	shortfall(missing, FieldEnergy, st.currency.Int(FieldEnergy), energyNeed)
	if len(missing) > 0 {
		return Result{}, &InsufficientError{Missing: missing}
	}

	deltas := map[string]int64{
		FieldProtons:    -protonNeed,
		FieldNeutrons:   -neutronNeed,
		FieldElectrons:  -electronNeed,
		FieldEnergy:     -energyNeed,
		atomField(atom): count,
	}
	after, err := s.store.Add(ctx, ledger.DomainCurrency, userID, deltas)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Success: true,
		Deltas:  deltas,
		Totals:  totals(after, deltas),
		Next:    []NextAction{NextRetrySame, NextBack},
		Fragments: []string{
			fmt.Sprintf("+%d %s (total: %d)", count, atom, after.Int(atomField(atom))),
		},
	}
	if err := s.unlockTutorial(ctx, userID, "first_atom", &res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// fissionZeroFields are the currency balances a reset wipes. Photons and
// atoms survive.
var fissionZeroFields = append([]string{
	FieldEnergy, FieldQuarks, FieldElectrons, FieldProtons, FieldNeutrons,
}, quarkSubtypes...)

// Fission is the prestige reset. The unconfirmed call is a quote: it reports
// cost and consequences and asks for confirmation. The confirmed call
// validates again against fresh state, since the ledger may have moved
// between the two interactions; there is no lock, so a narrow overdraft
// window remains and is accepted.
func (s *Service) Fission(ctx context.Context, userID string, confirm bool) (Result, error) {
	if err := s.check(ctx, userID); err != nil {
		return Result{}, err
	}
	st, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	resets := st.snap.Fission
	cost := fissionCost(resets)

	missing := map[string]int64{}
	shortfall(missing, atomField(cost.Atom), st.currency.Int(atomField(cost.Atom)), cost.Atoms)
	shortfall(missing, FieldEnergy, st.currency.Int(FieldEnergy), cost.Energy)
	if len(missing) > 0 {
		return Result{}, &InsufficientError{Missing: missing}
	}

	if !confirm {
		return Result{
			Success: false,
			Fragments: []string{
				fmt.Sprintf("Fission consumes %d %s and %d energy.", cost.Atoms, cost.Atom, cost.Energy),
				"It resets energy, quarks, quark sub-types, electrons, protons, neutrons, all upgrades and all XP.",
				fmt.Sprintf("You keep your atoms and gain %d photons.", resets+1),
			},
			Next: []NextAction{NextConfirm, NextBack},
		}, nil
	}

	newCount := resets + 1
	deltas := map[string]int64{
		atomField(cost.Atom): -cost.Atoms,
		FieldPhotons:         newCount,
	}
	for _, field := range fissionZeroFields {
		if cur := st.currency.Int(field); cur != 0 {
			deltas[field] = -cur
		}
	}
	after, err := s.store.Add(ctx, ledger.DomainCurrency, userID, deltas)
	if err != nil {
		return Result{}, err
	}
	if _, err := s.store.Add(ctx, ledger.DomainResets, userID, map[string]int64{"fission": 1}); err != nil {
		return Result{}, err
	}
	if err := s.store.Delete(ctx, ledger.DomainUpgrades, userID); err != nil {
		return Result{}, err
	}
	if xp := st.profile.Int("xp"); xp != 0 {
		if _, err := s.store.Add(ctx, ledger.DomainProfile, userID, map[string]int64{"xp": -xp}); err != nil {
			return Result{}, err
		}
	}
	s.log.Info("fission completed", "user_id", userID, "fission", newCount)

	res := Result{
		Success: true,
		Deltas:  deltas,
		Totals:  totals(after, deltas),
		Next:    []NextAction{NextBack},
		Fragments: []string{
			fmt.Sprintf("Fission complete. You now have %d photons.", after.Int(FieldPhotons)),
		},
	}
	if err := s.unlockTutorial(ctx, userID, "first_fission", &res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Grant is an operator backdoor used by the admin CLI. It bypasses the gate.
func (s *Service) Grant(ctx context.Context, userID, field string, amount int64) (Result, error) {
	if field == "" || amount == 0 {
		return Result{}, ErrInvalidInput
	}
	deltas := map[string]int64{field: amount}
	after, err := s.store.Add(ctx, ledger.DomainCurrency, userID, deltas)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Success:   true,
		Deltas:    deltas,
		Totals:    totals(after, deltas),
		Fragments: []string{fmt.Sprintf("%+d %s (total: %d)", amount, field, after.Int(field))},
	}, nil
}

func (s *Service) Profile(ctx context.Context, userID string) (ProfileView, error) {
	st, err := s.load(ctx, userID)
	if err != nil {
		return ProfileView{}, err
	}
	return ProfileView{
		UserID:   userID,
		Gains:    st.profile.Int("gains"),
		XP:       st.profile.Int("xp"),
		Fission:  st.snap.Fission,
		Progress: st.prog,
	}, nil
}

func (s *Service) Multipliers(ctx context.Context, userID string) (MultipliersView, error) {
	st, err := s.load(ctx, userID)
	if err != nil {
		return MultipliersView{}, err
	}
	return MultipliersView{
		Energy:               effects.Multiplier("energy", 1.0, st.snap),
		Quark:                effects.Multiplier("quark", 1.0, st.snap),
		QuarkDifferentiation: effects.Multiplier("quark_differentiation", 1.0, st.snap),
		XP:                   effects.Multiplier("xp", 1.0, st.snap),
		QuarkChance:          effects.Chance("quark", st.snap),
		ElectronChance:       effects.Chance("electron", st.snap),
		Level:                st.snap.Level,
	}, nil
}

// Leaderboard ranks users by photons, fission count breaking ties.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	currencies, err := s.store.All(ctx, ledger.DomainCurrency)
	if err != nil {
		return nil, err
	}
	resets, err := s.store.All(ctx, ledger.DomainResets)
	if err != nil {
		return nil, err
	}
	fissionBy := make(map[string]int64, len(resets))
	for _, rec := range resets {
		fissionBy[rec.UserID] = rec.Int("fission")
	}
	entries := make([]LeaderboardEntry, 0, len(currencies))
	for _, rec := range currencies {
		entries = append(entries, LeaderboardEntry{
			UserID:  rec.UserID,
			Photons: rec.Int(FieldPhotons),
			Fission: fissionBy[rec.UserID],
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Photons != entries[j].Photons {
			return entries[i].Photons > entries[j].Photons
		}
		if entries[i].Fission != entries[j].Fission {
			return entries[i].Fission > entries[j].Fission
		}
		return entries[i].UserID < entries[j].UserID
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// unlockTutorial appends a one-time tag to the profile and, when newly
// unlocked, records it on the result. Tags are a comma-joined set.
func (s *Service) unlockTutorial(ctx context.Context, userID, tag string, res *Result) error {
	rec, _, err := s.store.Get(ctx, ledger.DomainProfile, userID)
	if err != nil {
		return err
	}
	existing := rec.Str("tutorials")
	for _, have := range strings.Split(existing, ",") {
		if have == tag {
			return nil
		}
	}
	joined := tag
	if existing != "" {
		joined = existing + "," + tag
	}
	update := ledger.NewRecord(userID)
	update.Text["tutorials"] = joined
	if err := s.store.Upsert(ctx, ledger.DomainProfile, update); err != nil {
		return err
	}
	res.Tutorials = append(res.Tutorials, tag)
	return nil
}

// totals projects the post-commit balances for the fields a delta touched.
func totals(after ledger.Record, deltas map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(deltas))
	for field := range deltas {
		out[field] = after.Int(field)
	}
	return out
}
