package main

import (
	"flag"
	"fmt"
	"os"

	"cointax/internal/balance"
	db_utils "cointax/internal/db/utils"
	"cointax/internal/ledger"
	"cointax/internal/logger"
	"cointax/internal/price"
	"cointax/internal/report"
	"cointax/internal/repository"
	"cointax/internal/staking"
	"cointax/internal/tax"
	"cointax/internal/util"

	"github.com/shopspring/decimal"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the run configuration")
	taxYear := flag.Int("year", 0, "tax year, overrides the config")
	exportPath := flag.String("export", "", "CSV export path, overrides the config")
	flag.Parse()

	if err := run(*configPath, *taxYear, *exportPath); err != nil {
		logger.L.Error("tax evaluation failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, taxYear int, exportPath string) error {
	cfg, err := util.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger.InitLogger(cfg.LogLevel)
	if taxYear != 0 {
		cfg.TaxYear = taxYear
	}
	if exportPath != "" {
		cfg.ExportPath = exportPath
	}
	if len(cfg.LedgerFiles) == 0 {
		return fmt.Errorf("no ledger files configured")
	}

	principle, err := balance.ParsePrinciple(cfg.Principle)
	if err != nil {
		return err
	}
	depotMode, err := balance.ParseDepotMode(cfg.DepotMode)
	if err != nil {
		return err
	}
	handling, err := balance.ParseMissingAcquisitionHandling(cfg.MissingAcquisitionPolicy)
	if err != nil {
		return err
	}

	dbConn, err := db_utils.Connect(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	ops, err := ledger.ReadFiles(cfg.LedgerFiles)
	if err != nil {
		return err
	}

	balances := balance.NewManager(balance.Config{
		Principle:    principle,
		DepotMode:    depotMode,
		FiatCurrency: cfg.FiatCurrency,
		Handling:     handling,
	}, nil)
	tracker := staking.NewTracker()
	oracle := price.NewDbOracle(dbConn, repository.NewPriceRepository(), cfg.FiatCurrency)

	taxman := tax.New(tax.Config{
		TaxYear:                  cfg.TaxYear,
		FiatCurrency:             cfg.FiatCurrency,
		CalculateUnrealizedGains: cfg.CalculateUnrealizedGains,
		AllAirdropsAreGifts:      cfg.AllAirdropsAreGifts,
	}, balances, tracker, oracle)

	if err := taxman.Evaluate(ops); err != nil {
		return err
	}

	for _, issue := range balances.ValidateBalances() {
		logger.L.Warn(issue)
	}

	rep := &report.Report{
		TaxYear:          cfg.TaxYear,
		FiatCurrency:     cfg.FiatCurrency,
		Entries:          taxman.Entries(),
		MissingPrices:    taxman.MissingPrices(),
		UnrealizedFaulty: taxman.UnrealizedFaulty(),
		Portfolio:        finalPortfolio(taxman, cfg.CalculateUnrealizedGains),
	}
	if err := rep.WriteSummary(os.Stdout); err != nil {
		return err
	}
	if cfg.ExportPath != "" {
		if err := rep.Export(cfg.ExportPath); err != nil {
			return err
		}
		logger.L.Info("wrote tax report export", "path", cfg.ExportPath)
	}
	return nil
}

func finalPortfolio(taxman *tax.Taxman, drained bool) map[string]map[string]decimal.Decimal {
	if drained {
		return taxman.MultiDepotPortfolio()
	}
	out := map[string]map[string]decimal.Decimal{}
	for key, amount := range taxman.FinalPortfolio() {
		platform := key.Platform
		if platform == "" {
			platform = "All"
		}
		if _, ok := out[platform]; !ok {
			out[platform] = map[string]decimal.Decimal{}
		}
		out[platform][key.Coin] = amount
	}
	return out
}
