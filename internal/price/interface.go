package price

import (
	"time"

	"cointax/internal/domain"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mocks/oracle_mock.go -package=mock_price cointax/internal/price Oracle

// Oracle prices operations in the configured fiat currency. It is consumed
// by the sell-evaluation layer only, never by the queue engine.
type Oracle interface {
	// GetCost is the fiat value of the operation's full change at its time.
	GetCost(op *domain.Operation) (decimal.Decimal, error)
	// GetPartialCost is the fiat value of the given fraction of the
	// operation's change.
	GetPartialCost(op *domain.Operation, percent decimal.Decimal) (decimal.Decimal, error)
	// GetPrice is the fiat price of one coin on the platform at t.
	GetPrice(platform, coin string, t time.Time) (decimal.Decimal, error)
}
