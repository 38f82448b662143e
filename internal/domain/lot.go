package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Lot wraps one acquisition operation plus how much of it has been consumed.
// A lot is resident in a balance queue exactly while NotSold() > 0.
type Lot struct {
	LotID uuid.UUID
	Op    *Operation
	Sold  decimal.Decimal
}

func NewLot(op *Operation) *Lot {
	return &Lot{
		LotID: uuid.New(),
		Op:    op,
	}
}

// NotSold is the amount of coins in this lot which are not sold yet.
// Callers holding a queue-resident lot must treat a non-positive result as
// an accounting error, not a normal branch.
func (l *Lot) NotSold() decimal.Decimal {
	return l.Op.Change.Sub(l.Sold)
}

func (l *Lot) GetCoin() string { return l.Op.Coin }

func (l *Lot) GetPurchaseDate() time.Time { return l.Op.UTCTime }
