package repository

import (
	"database/sql"
	"strings"
	"time"

	cointax_errors "cointax/internal"
	"cointax/internal/db/models/postgres/public/model"
	db "cointax/internal/db/query"

	"github.com/shopspring/decimal"
)

// maxFallbackDays is how many prior days a lookup may fall back to when the
// requested day has no stored quote.
const maxFallbackDays = 3

type PriceRepository interface {
	Add(dbc *sql.DB, prices []model.CoinPrice) ([]model.CoinPrice, error)
	// GetPrice resolves the fiat price of one coin on a platform at t,
	// falling back up to maxFallbackDays prior days.
	GetPrice(dbc *sql.DB, platform, coin string, t time.Time) (decimal.Decimal, error)
}

type priceRepositoryHandler struct{}

func NewPriceRepository() PriceRepository {
	return priceRepositoryHandler{}
}

func (h priceRepositoryHandler) Add(dbc *sql.DB, prices []model.CoinPrice) ([]model.CoinPrice, error) {
	for i := range prices {
		prices[i].Coin = strings.ToUpper(prices[i].Coin)
		if prices[i].CreatedAt.IsZero() {
			prices[i].CreatedAt = time.Now().UTC()
		}
	}
	return db.AddCoinPrices(dbc, prices)
}

func (h priceRepositoryHandler) GetPrice(dbc *sql.DB, platform, coin string, t time.Time) (decimal.Decimal, error) {
	coin = strings.ToUpper(coin)
	date := t
	for tries := 0; tries <= maxFallbackDays; tries++ {
		quote, err := db.GetCoinPriceOnDate(dbc, platform, coin, date)
		if err == nil {
			return quote.Price, nil
		}
		if !db.IsNoRows(err) {
			return decimal.Zero, err
		}
		date = date.AddDate(0, 0, -1)
	}

	return decimal.Zero, cointax_errors.ErrMissingPrice{Platform: platform, Coin: coin, Time: t}
}
