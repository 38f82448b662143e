package util

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// AppConfig is the on-disk configuration of a tax run.
type AppConfig struct {
	TaxYear                  int      `json:"taxYear"`
	Principle                string   `json:"principle"`
	DepotMode                string   `json:"depotMode"`
	FiatCurrency             string   `json:"fiatCurrency"`
	MissingAcquisitionPolicy string   `json:"missingAcquisitionPolicy"`
	CalculateUnrealizedGains bool     `json:"calculateUnrealizedGains"`
	AllAirdropsAreGifts      bool     `json:"allAirdropsAreGifts"`
	LedgerFiles              []string `json:"ledgerFiles"`
	ExportPath               string   `json:"exportPath"`
	LogLevel                 string   `json:"logLevel"`
	PostgresDSN              string   `json:"postgresDsn"`
}

func LoadConfig(path string) (*AppConfig, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	config := AppConfig{
		Principle:                "FIFO",
		DepotMode:                "MULTI",
		FiatCurrency:             "EUR",
		MissingAcquisitionPolicy: "ERROR",
		LogLevel:                 "info",
	}
	err = json.Unmarshal(f, &config)
	if err != nil {
		return nil, err
	}
	if config.TaxYear == 0 {
		return nil, fmt.Errorf("taxYear must be set in %s", path)
	}

	return &config, nil
}

func DecimalSum(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum
}
