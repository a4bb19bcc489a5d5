package game

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"subatomic/internal/effects"
	"subatomic/internal/ledger"
)

// ShopItem is configuration data. Increment rules use the price
// mini-language: "+k" adds k per purchase, "xk" multiplies by k per
// purchase, "%k" compounds k percent per purchase.
type ShopItem struct {
	Name        string
	Description string
	LevelReq    int
	Max         int64
	Price       map[string]int64
	Increment   map[string]string
}

var shopItems = []ShopItem{
	{
		Name:        effects.EnergyManipulator,
		Description: "+10% energy per gain, additive",
		LevelReq:    1,
		Max:         50,
		Price:       map[string]int64{FieldEnergy: 100},
		Increment:   map[string]string{FieldEnergy: "%50"},
	},
	{
		Name:        effects.Undercharged,
		Description: "+25% energy per gain, compounding",
		LevelReq:    5,
		Max:         10,
		Price:       map[string]int64{FieldEnergy: 500},
		Increment:   map[string]string{FieldEnergy: "x2"},
	},
	{
		Name:        effects.QuantumLuck,
		Description: "+1 percentage point quark chance",
		LevelReq:    5,
		Max:         20,
		Price:       map[string]int64{FieldEnergy: 1000},
		Increment:   map[string]string{FieldEnergy: "%100"},
	},
	{
		Name:        effects.QuantumManipulator,
		Description: "+5% quark yield, additive",
		LevelReq:    8,
		Max:         40,
		Price:       map[string]int64{FieldQuarks: 25},
		Increment:   map[string]string{FieldQuarks: "+25"},
	},
	{
		Name:        effects.SubatomicEfficiency,
		Description: "boosts energy and quark yields, compounding",
		LevelReq:    10,
		Max:         20,
		Price:       map[string]int64{FieldQuarks: 50},
		Increment:   map[string]string{FieldQuarks: "%75"},
	},
	{
		Name:        effects.ElectricField,
		Description: "+10% quark yield and +2pp quark chance",
		LevelReq:    15,
		Max:         10,
		Price:       map[string]int64{FieldQuarks: 100},
		Increment:   map[string]string{FieldQuarks: "x2"},
	},
	{
		Name:        effects.QuantumLenses,
		Description: "doubles quark differentiation odds",
		LevelReq:    20,
		Max:         5,
		Price:       map[string]int64{FieldElectrons: 10},
		Increment:   map[string]string{FieldElectrons: "x3"},
	},
}

// ShopItems returns the catalog in display order.
func ShopItems() []ShopItem { return shopItems }

func findShopItem(name string) (ShopItem, bool) {
	for _, item := range shopItems {
		if item.Name == name {
			return item, true
		}
	}
	return ShopItem{}, false
}

// applyIncrement grows a base price by the rule, count purchases in.
// Unparseable rules leave the price flat.
func applyIncrement(base int64, rule string, count int64) int64 {
	if len(rule) < 2 {
		return base
	}
	arg, err := strconv.ParseFloat(rule[1:], 64)
	if err != nil {
		return base
	}
	switch rule[0] {
	case '+':
		return base + int64(arg)*count
	case 'x':
		return int64(float64(base) * math.Pow(arg, float64(count)))
	case '%':
		return int64(float64(base) * math.Pow(1+arg/100, float64(count)))
	default:
		return base
	}
}

// CurrentPrice is the cost of the next unit after count purchases.
func CurrentPrice(item ShopItem, count int64) map[string]int64 {
	prices := make(map[string]int64, len(item.Price))
	for currency, base := range item.Price {
		prices[currency] = applyIncrement(base, item.Increment[currency], count)
	}
	return prices
}

// ShopListing is one catalog row resolved against a user's state.
type ShopListing struct {
	Item     ShopItem         `json:"item"`
	Owned    int64            `json:"owned"`
	Price    map[string]int64 `json:"price"`
	Unlocked bool             `json:"unlocked"`
}

func (s *Service) Catalog(ctx context.Context, userID string) ([]ShopListing, error) {
	st, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	listings := make([]ShopListing, 0, len(shopItems))
	for _, item := range shopItems {
		owned := st.snap.Upgrades[item.Name]
		listings = append(listings, ShopListing{
			Item:     item,
			Owned:    owned,
			Price:    CurrentPrice(item, owned),
			Unlocked: st.snap.Level >= item.LevelReq,
		})
	}
	return listings, nil
}

// Buy purchases exactly one unit. Level lock, purchase cap and every
// currency balance are checked against fresh state right before the commit.
func (s *Service) Buy(ctx context.Context, userID, itemName string) (Result, error) {
	if err := s.check(ctx, userID); err != nil {
		return Result{}, err
	}
	item, ok := findShopItem(itemName)
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown item %q", ErrInvalidInput, itemName)
	}
	st, err := s.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if st.snap.Level < item.LevelReq {
		return Result{}, &LockedError{Reason: fmt.Sprintf("%s unlocks at level %d", item.Name, item.LevelReq)}
	}
	owned := st.snap.Upgrades[item.Name]
	if owned >= item.Max {
		return Result{}, &LockedError{Reason: fmt.Sprintf("%s is already at its maximum of %d", item.Name, item.Max)}
	}

	prices := CurrentPrice(item, owned)
	missing := map[string]int64{}
	for currency, price := range prices {
		shortfall(missing, currency, st.currency.Int(currency), price)
	}
	if len(missing) > 0 {
		return Result{}, &InsufficientError{Missing: missing}
	}

	deltas := make(map[string]int64, len(prices))
	for currency, price := range prices {
		deltas[currency] = -price
	}
	after, err := s.store.Add(ctx, ledger.DomainCurrency, userID, deltas)
	if err != nil {
		return Result{}, err
	}
	if _, err := s.store.Add(ctx, ledger.DomainUpgrades, userID, map[string]int64{item.Name: 1}); err != nil {
		return Result{}, err
	}

	frag := make([]string, 0, len(prices)+1)
	frag = append(frag, fmt.Sprintf("Bought %s (now own %d)", strings.ReplaceAll(item.Name, "_", " "), owned+1))
	for currency, price := range prices {
		frag = append(frag, fmt.Sprintf("-%d %s", price, currency))
	}
	return Result{
		Success:   true,
		Deltas:    deltas,
		Totals:    totals(after, deltas),
		Next:      []NextAction{NextBack},
		Fragments: frag,
	}, nil
}
