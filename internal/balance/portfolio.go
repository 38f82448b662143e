package balance

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Position is one (platform, coin) holding. Platform is "All" under single
// depot mode.
type Position struct {
	Platform string
	Coin     string
	Amount   decimal.Decimal
}

type Snapshot struct {
	Timestamp time.Time
	Positions []Position
}

// PortfolioManager tracks running holdings per platform and coin. Positions
// disappear from the view once their amount reaches exactly zero.
type PortfolioManager struct {
	mode   DepotMode
	multi  map[string]map[string]decimal.Decimal
	single map[string]decimal.Decimal
}

func NewPortfolioManager(cfg Config) *PortfolioManager {
	pm := &PortfolioManager{mode: cfg.DepotMode}
	if cfg.DepotMode == DepotModeMulti {
		pm.multi = map[string]map[string]decimal.Decimal{}
	} else {
		pm.single = map[string]decimal.Decimal{}
	}
	return pm
}

func (pm *PortfolioManager) Add(platform, coin string, amount decimal.Decimal) {
	if pm.mode == DepotModeMulti {
		if _, ok := pm.multi[platform]; !ok {
			pm.multi[platform] = map[string]decimal.Decimal{}
		}
		pm.multi[platform][coin] = pm.multi[platform][coin].Add(amount)
		return
	}
	pm.single[coin] = pm.single[coin].Add(amount)
}

func (pm *PortfolioManager) Remove(platform, coin string, amount decimal.Decimal) {
	if pm.mode == DepotModeMulti {
		if _, ok := pm.multi[platform]; !ok {
			pm.multi[platform] = map[string]decimal.Decimal{}
		}
		pm.multi[platform][coin] = pm.multi[platform][coin].Sub(amount)
		if pm.multi[platform][coin].IsZero() {
			delete(pm.multi[platform], coin)
		}
		return
	}
	pm.single[coin] = pm.single[coin].Sub(amount)
	if pm.single[coin].IsZero() {
		delete(pm.single, coin)
	}
}

func (pm *PortfolioManager) Position(platform, coin string) decimal.Decimal {
	if pm.mode == DepotModeMulti {
		return pm.multi[platform][coin]
	}
	return pm.single[coin]
}

// Positions lists all holdings with a positive amount, sorted for stable
// output.
func (pm *PortfolioManager) Positions() []Position {
	positions := []Position{}
	if pm.mode == DepotModeMulti {
		for platform, coins := range pm.multi {
			for coin, amount := range coins {
				if amount.Sign() > 0 {
					positions = append(positions, Position{Platform: platform, Coin: coin, Amount: amount})
				}
			}
		}
	} else {
		for coin, amount := range pm.single {
			if amount.Sign() > 0 {
				positions = append(positions, Position{Platform: "All", Coin: coin, Amount: amount})
			}
		}
	}

	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Platform != positions[j].Platform {
			return positions[i].Platform < positions[j].Platform
		}
		return positions[i].Coin < positions[j].Coin
	})
	return positions
}

func (pm *PortfolioManager) CreateSnapshot(ts time.Time) Snapshot {
	return Snapshot{Timestamp: ts, Positions: pm.Positions()}
}

// SingleDepotView aggregates holdings per coin regardless of depot mode.
func (pm *PortfolioManager) SingleDepotView() map[string]decimal.Decimal {
	if pm.mode != DepotModeMulti {
		out := make(map[string]decimal.Decimal, len(pm.single))
		for coin, amount := range pm.single {
			out[coin] = amount
		}
		return out
	}
	out := map[string]decimal.Decimal{}
	for _, coins := range pm.multi {
		for coin, amount := range coins {
			out[coin] = out[coin].Add(amount)
		}
	}
	return out
}

// Validate reports inconsistent positions (negative holdings, zero entries
// that escaped cleanup).
func (pm *PortfolioManager) Validate() []string {
	issues := []string{}
	check := func(platform, coin string, amount decimal.Decimal) {
		if amount.Sign() < 0 {
			issues = append(issues, fmt.Sprintf("negative position: %s:%s = %s", platform, coin, amount.String()))
		}
		if amount.IsZero() {
			issues = append(issues, fmt.Sprintf("zero position should be cleaned up: %s:%s", platform, coin))
		}
	}
	if pm.mode == DepotModeMulti {
		for platform, coins := range pm.multi {
			for coin, amount := range coins {
				check(platform, coin, amount)
			}
		}
	} else {
		for coin, amount := range pm.single {
			check("All", coin, amount)
		}
	}
	sort.Strings(issues)
	return issues
}
