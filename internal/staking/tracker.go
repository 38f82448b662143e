// Package staking tracks coins that are temporarily locked by staking or
// lending contracts. Locked lots are excluded from the sellable balance
// until returned, while keeping their original acquisition identity so that
// the one-year holding period (§ 23 EStG) survives the lock.
package staking

import (
	"fmt"
	"time"

	cointax_errors "cointax/internal"
	"cointax/internal/domain"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindStaking Kind = "staking"
	KindLending Kind = "lending"
)

// amountTolerance is the maximum accepted difference between a contract's
// locked amount and the amount of its end operation.
var amountTolerance = decimal.New(1, -8)

// StakedCoin is one locked slice of an acquisition lot.
type StakedCoin struct {
	Origin   *domain.Operation
	Amount   decimal.Decimal
	Coin     string
	Platform string
	Start    time.Time
	Kind     Kind
}

// Contract is one active staking/lending lock.
type Contract struct {
	ID          string
	Coin        string
	Platform    string
	TotalAmount decimal.Decimal
	StartOp     *domain.Operation
	StakedCoins []StakedCoin
	Active      bool
}

func (c *Contract) TotalStaked() decimal.Decimal {
	total := decimal.Zero
	for _, sc := range c.StakedCoins {
		total = total.Add(sc.Amount)
	}
	return total
}

type amountKey struct {
	platform string
	coin     string
}

// Tracker holds the active contracts per platform and coin. The staked
// amount summary is cached and rebuilt lazily after every mutation.
type Tracker struct {
	contracts map[string]map[string][]*Contract
	counter   int

	amountCache map[amountKey]decimal.Decimal
	cacheDirty  bool
}

func NewTracker() *Tracker {
	return &Tracker{
		contracts:  map[string]map[string][]*Contract{},
		cacheDirty: true,
	}
}

func (t *Tracker) nextContractID(op *domain.Operation) string {
	t.counter++
	return fmt.Sprintf("%s_%s_%s_%d", op.Platform, op.Coin, op.UTCTime.Format(time.RFC3339), t.counter)
}

func (t *Tracker) invalidateCache() {
	t.cacheDirty = true
}

func kindForStart(op *domain.Operation) (Kind, error) {
	switch op.Kind {
	case domain.OpCoinLend:
		return KindLending, nil
	case domain.OpStaking:
		return KindStaking, nil
	}
	return "", fmt.Errorf("operation %s cannot start a staking contract", op.Kind)
}

// StartContract allocates the start operation's amount across the given
// available lots in order. The caller pre-computes availability via FIFO
// over non-staked inventory.
func (t *Tracker) StartContract(startOp *domain.Operation, available []domain.SoldCoin) (string, error) {
	kind, err := kindForStart(startOp)
	if err != nil {
		return "", err
	}

	contract := &Contract{
		ID:          t.nextContractID(startOp),
		Coin:        startOp.Coin,
		Platform:    startOp.Platform,
		TotalAmount: startOp.Change,
		StartOp:     startOp,
		Active:      true,
	}

	remaining := startOp.Change
	for _, sc := range available {
		if remaining.Sign() <= 0 {
			break
		}
		if sc.Op.Coin != startOp.Coin {
			continue
		}
		amount := decimal.Min(remaining, sc.Sold)
		if amount.Sign() <= 0 {
			continue
		}
		contract.StakedCoins = append(contract.StakedCoins, StakedCoin{
			Origin:   sc.Op,
			Amount:   amount,
			Coin:     startOp.Coin,
			Platform: startOp.Platform,
			Start:    startOp.UTCTime,
			Kind:     kind,
		})
		remaining = remaining.Sub(amount)
	}

	if remaining.Sign() > 0 {
		return "", cointax_errors.ErrMissingAcquisition{
			Coin:     startOp.Coin,
			Platform: startOp.Platform,
			Time:     startOp.UTCTime,
			Missing:  remaining,
		}
	}

	if _, ok := t.contracts[startOp.Platform]; !ok {
		t.contracts[startOp.Platform] = map[string][]*Contract{}
	}
	t.contracts[startOp.Platform][startOp.Coin] = append(t.contracts[startOp.Platform][startOp.Coin], contract)
	t.invalidateCache()

	return contract.ID, nil
}

// EndContract deactivates a contract and returns its locked lots unchanged.
// With an empty contractID the oldest active contract for the operation's
// platform/coin is ended. The end amount must match the locked amount within
// tolerance.
func (t *Tracker) EndContract(endOp *domain.Operation, contractID string) ([]StakedCoin, error) {
	switch endOp.Kind {
	case domain.OpCoinLendEnd, domain.OpStakingEnd:
	default:
		return nil, fmt.Errorf("operation %s cannot end a staking contract", endOp.Kind)
	}

	contracts := t.contracts[endOp.Platform][endOp.Coin]
	if len(contracts) == 0 {
		return nil, cointax_errors.ErrNoContract{Coin: endOp.Coin, Platform: endOp.Platform}
	}

	var toEnd *Contract
	if contractID != "" {
		for _, c := range contracts {
			if c.ID == contractID {
				toEnd = c
				break
			}
		}
		if toEnd == nil {
			return nil, cointax_errors.ErrNoContract{Coin: endOp.Coin, Platform: endOp.Platform}
		}
	} else {
		// Oldest contract first.
		toEnd = contracts[0]
		for _, c := range contracts[1:] {
			if c.StartOp.UTCTime.Before(toEnd.StartOp.UTCTime) {
				toEnd = c
			}
		}
	}

	staked := toEnd.TotalStaked()
	if endOp.Change.Sub(staked).Abs().GreaterThan(amountTolerance) {
		return nil, cointax_errors.ErrContractMismatch{
			ContractID: toEnd.ID,
			Expected:   staked,
			Got:        endOp.Change,
		}
	}

	toEnd.Active = false
	returned := make([]StakedCoin, len(toEnd.StakedCoins))
	copy(returned, toEnd.StakedCoins)

	remaining := contracts[:0]
	for _, c := range contracts {
		if c != toEnd {
			remaining = append(remaining, c)
		}
	}
	t.contracts[endOp.Platform][endOp.Coin] = remaining
	t.invalidateCache()

	return returned, nil
}

func (t *Tracker) rebuildCache() {
	cache := map[amountKey]decimal.Decimal{}
	for platform, coins := range t.contracts {
		for coin, contracts := range coins {
			total := decimal.Zero
			for _, c := range contracts {
				if c.Active {
					total = total.Add(c.TotalStaked())
				}
			}
			if total.Sign() > 0 {
				cache[amountKey{platform, coin}] = total
			}
		}
	}
	t.amountCache = cache
	t.cacheDirty = false
}

// StakedAmount is the total amount of coin currently locked on platform.
func (t *Tracker) StakedAmount(platform, coin string) decimal.Decimal {
	if t.cacheDirty {
		t.rebuildCache()
	}
	return t.amountCache[amountKey{platform, coin}]
}

// AvailableAmount reports how much of a specific acquisition operation is
// not locked, used to prevent double-counting when selling while staked.
func (t *Tracker) AvailableAmount(platform, coin string, op *domain.Operation) decimal.Decimal {
	staked := decimal.Zero
	for _, c := range t.contracts[platform][coin] {
		if !c.Active {
			continue
		}
		for _, sc := range c.StakedCoins {
			if sc.Origin == op {
				staked = staked.Add(sc.Amount)
			}
		}
	}
	available := op.Change.Sub(staked)
	if available.Sign() < 0 {
		return decimal.Zero
	}
	return available
}

// ActiveContracts lists active contracts, optionally filtered by platform
// and coin (empty string matches everything).
func (t *Tracker) ActiveContracts(platform, coin string) []*Contract {
	out := []*Contract{}
	for plat, coins := range t.contracts {
		if platform != "" && plat != platform {
			continue
		}
		for c, contracts := range coins {
			if coin != "" && c != coin {
				continue
			}
			for _, contract := range contracts {
				if contract.Active {
					out = append(out, contract)
				}
			}
		}
	}
	return out
}

// PurgeEnded drops inactive contracts and empty buckets.
func (t *Tracker) PurgeEnded() {
	for platform, coins := range t.contracts {
		for coin, contracts := range coins {
			active := contracts[:0]
			for _, c := range contracts {
				if c.Active {
					active = append(active, c)
				}
			}
			if len(active) == 0 {
				delete(coins, coin)
			} else {
				coins[coin] = active
			}
		}
		if len(coins) == 0 {
			delete(t.contracts, platform)
		}
	}
	t.invalidateCache()
}
