package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OpType is a closed enumeration of ledger operation kinds. The zero value
// is invalid on purpose so that unparsed input cannot slip through.
type OpType int

const (
	OpUnknown OpType = iota
	OpBuy
	OpSell
	OpDeposit
	OpWithdrawal
	OpFee
	OpCoinLend
	OpCoinLendEnd
	OpCoinLendInterest
	OpStaking
	OpStakingEnd
	OpStakingInterest
	OpAirdrop
	OpCommission
	OpGift
	OpMining
	OpHardFork
)

var opTypeNames = map[OpType]string{
	OpBuy:              "Buy",
	OpSell:             "Sell",
	OpDeposit:          "Deposit",
	OpWithdrawal:       "Withdrawal",
	OpFee:              "Fee",
	OpCoinLend:         "CoinLend",
	OpCoinLendEnd:      "CoinLendEnd",
	OpCoinLendInterest: "CoinLendInterest",
	OpStaking:          "Staking",
	OpStakingEnd:       "StakingEnd",
	OpStakingInterest:  "StakingInterest",
	OpAirdrop:          "Airdrop",
	OpCommission:       "Commission",
	OpGift:             "Gift",
	OpMining:           "Mining",
	OpHardFork:         "HardFork",
}

func (t OpType) String() string {
	if name, ok := opTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

func ParseOpType(s string) (OpType, error) {
	for t, name := range opTypeNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return OpUnknown, fmt.Errorf("unknown operation kind %q", s)
}

// Operation is one ledger entry. Change is always non-negative; the
// direction of the balance change is encoded by Kind.
type Operation struct {
	Kind     OpType
	Platform string
	Coin     string
	Change   decimal.Decimal
	UTCTime  time.Time

	// Fees taken by the exchange as part of this operation.
	Fees []*Operation
	// Link pairs this operation with its counterpart, e.g. the sell side of
	// a trade or the withdrawal matching a deposit.
	Link *Operation

	// BuyingCost is the fiat value of the coins given away in the trade that
	// produced this buy, propagated by the upstream reader. Zero when unknown.
	BuyingCost decimal.Decimal
	// SellingValue is the fiat value received for this sell. Zero when unknown.
	SellingValue decimal.Decimal

	Remark string

	// Synthetic marks a fabricated zero-cost acquisition inserted to cover
	// an accounting shortfall. Synthetic lots have a tax basis of zero.
	Synthetic bool

	// WithdrawnCoins records which lots a withdrawal consumed. Set by the
	// evaluation pass so that a linked deposit can resolve the original
	// acquisitions when the coins get sold later.
	WithdrawnCoins []SoldCoin
}

func (o *Operation) GetDate() time.Time { return o.UTCTime }

func (o *Operation) HasLink() bool { return o.Link != nil }

// PartialWithdrawnCoins scales the withdrawn lots of this withdrawal down to
// the given fraction, preserving lot identity.
func (o *Operation) PartialWithdrawnCoins(percent decimal.Decimal) []SoldCoin {
	out := make([]SoldCoin, 0, len(o.WithdrawnCoins))
	for _, wsc := range o.WithdrawnCoins {
		out = append(out, SoldCoin{Op: wsc.Op, Sold: wsc.Sold.Mul(percent)})
	}
	return out
}

// SoldCoin is the output of a balance removal: a reference to the originating
// acquisition and the amount consumed from it.
type SoldCoin struct {
	Op   *Operation
	Sold decimal.Decimal
}

// SortOperations sorts chronologically. The sort is stable so that
// same-timestamp operations keep their ledger order.
func SortOperations(ops []*Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].UTCTime.Before(ops[j].UTCTime)
	})
}
