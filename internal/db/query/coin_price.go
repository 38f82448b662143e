package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cointax/internal/db/models/postgres/public/model"
	. "cointax/internal/db/models/postgres/public/table"

	. "github.com/go-jet/jet/v2/postgres"
	"github.com/go-jet/jet/v2/qrm"
)

func AddCoinPrices(db qrm.DB, prices []model.CoinPrice) ([]model.CoinPrice, error) {
	t := CoinPrice
	stmt := t.INSERT(t.MutableColumns).
		MODELS(prices).
		RETURNING(t.AllColumns)

	result := []model.CoinPrice{}
	err := stmt.Query(db, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to insert coin prices: %w", err)
	}

	return result, nil
}

// GetCoinPriceOnDate returns the stored quote for platform/coin on the given
// day, or sql.ErrNoRows when none is stored.
func GetCoinPriceOnDate(db qrm.DB, platform, coin string, date time.Time) (*model.CoinPrice, error) {
	query := CoinPrice.SELECT(CoinPrice.AllColumns).
		WHERE(AND(
			CoinPrice.Platform.EQ(String(platform)),
			CoinPrice.Coin.EQ(String(coin)),
			CoinPrice.QuoteDate.EQ(DateT(date)),
		)).
		LIMIT(1)

	result := []model.CoinPrice{}
	err := query.Query(db, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to execute coin price query: %w", err)
	}
	if len(result) == 0 {
		return nil, sql.ErrNoRows
	}

	return &result[0], nil
}

// GetCoinPrices lists quotes for one platform/coin ordered by day.
func GetCoinPrices(db qrm.DB, platform, coin string) ([]model.CoinPrice, error) {
	query := CoinPrice.SELECT(CoinPrice.AllColumns).
		WHERE(AND(
			CoinPrice.Platform.EQ(String(platform)),
			CoinPrice.Coin.EQ(String(coin)),
		)).
		ORDER_BY(CoinPrice.QuoteDate.ASC())

	result := []model.CoinPrice{}
	err := query.Query(db, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch coin prices: %w", err)
	}
	return result, nil
}

func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, qrm.ErrNoRows)
}
