package price

import (
	"database/sql"
	"strings"
	"time"

	"cointax/internal/domain"
	"cointax/internal/repository"

	"github.com/shopspring/decimal"
)

// dbOracle prices operations out of the coin_price table. The configured
// fiat currency always prices at 1.
type dbOracle struct {
	db   *sql.DB
	repo repository.PriceRepository
	fiat string
}

func NewDbOracle(db *sql.DB, repo repository.PriceRepository, fiatCurrency string) Oracle {
	return &dbOracle{
		db:   db,
		repo: repo,
		fiat: strings.ToUpper(fiatCurrency),
	}
}

func (o *dbOracle) GetPrice(platform, coin string, t time.Time) (decimal.Decimal, error) {
	if strings.ToUpper(coin) == o.fiat {
		return decimal.NewFromInt(1), nil
	}
	return o.repo.GetPrice(o.db, platform, coin, t)
}

func (o *dbOracle) GetCost(op *domain.Operation) (decimal.Decimal, error) {
	price, err := o.GetPrice(op.Platform, op.Coin, op.UTCTime)
	if err != nil {
		return decimal.Zero, err
	}
	return price.Mul(op.Change), nil
}

func (o *dbOracle) GetPartialCost(op *domain.Operation, percent decimal.Decimal) (decimal.Decimal, error) {
	cost, err := o.GetCost(op)
	if err != nil {
		return decimal.Zero, err
	}
	return cost.Mul(percent), nil
}
