package balance

import (
	"fmt"
	"strings"
)

// Principle selects which lot age is consumed first on a removal.
type Principle string

const (
	PrincipleFIFO Principle = "FIFO"
	PrincipleLIFO Principle = "LIFO"
)

// DepotMode selects whether balances are tracked per exchange platform or
// merged into one virtual wallet.
type DepotMode string

const (
	DepotModeSingle DepotMode = "SINGLE"
	DepotModeMulti  DepotMode = "MULTI"
)

// MissingAcquisitionHandling is the policy applied when a removal exceeds
// the available inventory.
type MissingAcquisitionHandling string

const (
	// HandlingError fails the run. The ledger is incomplete.
	HandlingError MissingAcquisitionHandling = "ERROR"
	// HandlingZeroCost synthesizes a zero-cost acquisition for the shortfall,
	// modeling an unrecorded airdrop or fork (§ 22 Nr. 3 EStG).
	HandlingZeroCost MissingAcquisitionHandling = "ZERO_COST"
	// HandlingWarning accepts a partial removal and drops the shortfall from
	// tax consideration.
	HandlingWarning MissingAcquisitionHandling = "WARNING"
)

func ParsePrinciple(s string) (Principle, error) {
	switch Principle(strings.ToUpper(strings.TrimSpace(s))) {
	case PrincipleFIFO:
		return PrincipleFIFO, nil
	case PrincipleLIFO:
		return PrincipleLIFO, nil
	}
	return "", fmt.Errorf("unknown balancing principle %q", s)
}

func ParseDepotMode(s string) (DepotMode, error) {
	switch DepotMode(strings.ToUpper(strings.TrimSpace(s))) {
	case DepotModeSingle:
		return DepotModeSingle, nil
	case DepotModeMulti:
		return DepotModeMulti, nil
	}
	return "", fmt.Errorf("unknown depot mode %q", s)
}

func ParseMissingAcquisitionHandling(s string) (MissingAcquisitionHandling, error) {
	switch MissingAcquisitionHandling(strings.ToUpper(strings.TrimSpace(s))) {
	case HandlingError:
		return HandlingError, nil
	case HandlingZeroCost:
		return HandlingZeroCost, nil
	case HandlingWarning:
		return HandlingWarning, nil
	}
	return "", fmt.Errorf("unknown missing acquisition handling %q", s)
}

// Config is the balance engine configuration, supplied by the caller.
type Config struct {
	Principle    Principle
	DepotMode    DepotMode
	FiatCurrency string
	Handling     MissingAcquisitionHandling
}

// BalanceKey identifies one balance queue. Platform is empty under single
// depot mode so that all platforms share one queue per coin.
type BalanceKey struct {
	Platform string
	Coin     string
}

func NewBalanceKey(platform, coin string, mode DepotMode) BalanceKey {
	key := BalanceKey{Coin: strings.ToUpper(coin)}
	if mode == DepotModeMulti {
		key.Platform = platform
	}
	return key
}

func (k BalanceKey) String() string {
	if k.Platform != "" {
		return k.Platform + ":" + k.Coin
	}
	return k.Coin
}
