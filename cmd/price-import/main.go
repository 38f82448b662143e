package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cointax/internal/db/models/postgres/public/model"
	db_utils "cointax/internal/db/utils"
	"cointax/internal/logger"
	"cointax/internal/repository"
	"cointax/internal/util"

	"github.com/shopspring/decimal"
)

// price-import loads daily quotes into the coin_price table so that tax runs
// can price operations offline. Input rows: platform,coin,date,price.
func main() {
	configPath := flag.String("config", "config.json", "path to the run configuration")
	pricesPath := flag.String("prices", "", "CSV file with platform,coin,date,price rows")
	flag.Parse()

	if *pricesPath == "" {
		logger.L.Error("missing -prices flag")
		os.Exit(1)
	}
	if err := run(*configPath, *pricesPath); err != nil {
		logger.L.Error("price import failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, pricesPath string) error {
	cfg, err := util.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger.InitLogger(cfg.LogLevel)

	dbConn, err := db_utils.Connect(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	prices, err := readPrices(pricesPath)
	if err != nil {
		return err
	}

	repo := repository.NewPriceRepository()
	inserted, err := repo.Add(dbConn, prices)
	if err != nil {
		if db_utils.IsDuplicateEntryErr(err) {
			return fmt.Errorf("quotes already imported: %w", err)
		}
		return err
	}
	logger.L.Info("imported quotes", "count", len(inserted), "file", pricesPath)
	return nil
}

func readPrices(path string) ([]model.CoinPrice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.TrimLeadingSpace = true

	prices := []model.CoinPrice{}
	for line := 1; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) != 4 {
			return nil, fmt.Errorf("line %d: expected platform,coin,date,price", line)
		}
		if line == 1 && strings.EqualFold(record[0], "platform") {
			continue
		}

		quoteDate, err := time.Parse("2006-01-02", record[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date %q: %w", line, record[2], err)
		}
		quotePrice, err := decimal.NewFromString(record[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid price %q: %w", line, record[3], err)
		}

		prices = append(prices, model.CoinPrice{
			Platform:  record[0],
			Coin:      record[1],
			QuoteDate: quoteDate.UTC(),
			Price:     quotePrice,
		})
	}
	return prices, nil
}
