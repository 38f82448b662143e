package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"cointax/internal/domain"
	"cointax/internal/price"
	"cointax/internal/tax"
	"cointax/internal/util"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
)

// Report renders evaluated tax entries as a console summary and as CSV
// exports for the tax declaration.
type Report struct {
	TaxYear          int
	FiatCurrency     string
	Entries          []tax.Entry
	MissingPrices    []price.Missing
	UnrealizedFaulty bool
	Portfolio        map[string]map[string]decimal.Decimal
}

// GainStats summarizes the realized gains of taxable sells.
type GainStats struct {
	Count  int
	Total  decimal.Decimal
	Mean   float64
	Median float64
	// WinRate is the fraction of taxable sells closed with a positive gain.
	WinRate domain.Percent
	// MeanReturnPct averages the per-sell return (gain over cost basis) in
	// percent, over sells with a positive cost basis.
	MeanReturnPct float64
}

func (r *Report) taxableSells() []tax.SellEntry {
	out := []tax.SellEntry{}
	for _, e := range r.Entries {
		if sell, ok := e.(tax.SellEntry); ok && sell.Taxable && !sell.Unrealized {
			out = append(out, sell)
		}
	}
	return out
}

// ComputeGainStats aggregates the taxable realized sells of the run.
func (r *Report) ComputeGainStats() GainStats {
	sells := r.taxableSells()
	gs := GainStats{Count: len(sells), Total: decimal.Zero}
	if len(sells) == 0 {
		return gs
	}

	gains := make(stats.Float64Data, 0, len(sells))
	gainAmounts := make([]decimal.Decimal, 0, len(sells))
	returns := domain.PercentData{}
	wins := 0
	for _, sell := range sells {
		gain := sell.Gain()
		gainAmounts = append(gainAmounts, gain)
		gains = append(gains, gain.InexactFloat64())
		if gain.Sign() > 0 {
			wins++
		}
		if sell.BuyCostInFiat.Sign() > 0 {
			returns = append(returns,
				domain.PercentFromFraction(gain.Div(sell.BuyCostInFiat).InexactFloat64()))
		}
	}
	gs.Total = util.DecimalSum(gainAmounts)

	// stats errors only on empty input, which is excluded above.
	gs.Mean, _ = stats.Mean(gains)
	gs.Median, _ = stats.Median(gains)
	gs.WinRate = domain.PercentFromFraction(float64(wins) / float64(len(sells)))
	if len(returns) > 0 {
		gs.MeanReturnPct, _ = stats.Mean(returns.ToStatsData())
	}
	return gs
}

// sumByTaxation groups entry values by German taxation type. Sells contribute
// their gain, income entries their fiat value, transfers nothing.
func (r *Report) sumByTaxation() map[string]decimal.Decimal {
	sums := map[string]decimal.Decimal{}
	for _, e := range r.Entries {
		switch entry := e.(type) {
		case tax.SellEntry:
			if entry.Taxable && !entry.Unrealized {
				sums[entry.Taxation] = sums[entry.Taxation].Add(entry.Gain())
			}
		case tax.IncomeEntry:
			sums[entry.Taxation] = sums[entry.Taxation].Add(entry.InFiat)
		}
	}
	return sums
}

func (r *Report) unrealizedGain() (decimal.Decimal, int) {
	total := decimal.Zero
	count := 0
	for _, e := range r.Entries {
		if sell, ok := e.(tax.SellEntry); ok && sell.Unrealized {
			total = total.Add(sell.SellValueInFiat.Sub(sell.BuyCostInFiat))
			count++
		}
	}
	return total, count
}

// WriteSummary prints the human readable end-of-run summary.
func (r *Report) WriteSummary(w io.Writer) error {
	fmt.Fprintf(w, "Tax evaluation %d (%s)\n\n", r.TaxYear, r.FiatCurrency)

	sums := r.sumByTaxation()
	taxationTypes := make([]string, 0, len(sums))
	for taxation := range sums {
		taxationTypes = append(taxationTypes, taxation)
	}
	sort.Strings(taxationTypes)
	for _, taxation := range taxationTypes {
		fmt.Fprintf(w, "%s: %s %s\n", taxation, sums[taxation].StringFixed(2), r.FiatCurrency)
	}
	if len(taxationTypes) == 0 {
		fmt.Fprintln(w, "no taxable events")
	}

	gs := r.ComputeGainStats()
	if gs.Count > 0 {
		fmt.Fprintf(w, "\nTaxable sells: %d (total %s, mean %.2f, median %.2f, win rate %.1f%%, mean return %.1f%%)\n",
			gs.Count, gs.Total.StringFixed(2), gs.Mean, gs.Median, gs.WinRate.AsPercent(), gs.MeanReturnPct)
	}

	if unrealized, count := r.unrealizedGain(); count > 0 {
		fmt.Fprintf(w, "\nUnrealized gain at deadline: %s %s over %d positions",
			unrealized.StringFixed(2), r.FiatCurrency, count)
		if r.UnrealizedFaulty {
			fmt.Fprint(w, " (incomplete, some positions could not be priced)")
		}
		fmt.Fprintln(w)
	}

	if len(r.Portfolio) > 0 {
		fmt.Fprintln(w, "\nPortfolio at process end:")
		platforms := make([]string, 0, len(r.Portfolio))
		for platform := range r.Portfolio {
			platforms = append(platforms, platform)
		}
		sort.Strings(platforms)
		for _, platform := range platforms {
			coins := make([]string, 0, len(r.Portfolio[platform]))
			for coin := range r.Portfolio[platform] {
				coins = append(coins, coin)
			}
			sort.Strings(coins)
			for _, coin := range coins {
				fmt.Fprintf(w, "  %s %s: %s\n", platform, coin, r.Portfolio[platform][coin].String())
			}
		}
	}

	if len(r.MissingPrices) > 0 {
		fmt.Fprintf(w, "\n%d price lookups failed and were valued at zero:\n", len(r.MissingPrices))
		for _, m := range r.MissingPrices {
			fmt.Fprintf(w, "  %s\n", m.String())
		}
	}
	return nil
}

var exportHeader = []string{
	"date", "type", "taxation_type", "coin", "amount",
	"platform", "second_platform", "acquisition_date",
	"sell_value_in_fiat", "buy_cost_in_fiat", "fees_in_fiat", "gain_in_fiat",
	"taxable", "remark",
}

// WriteCSV exports all entries in chronological order.
func (r *Report) WriteCSV(w io.Writer) error {
	entries := make([]tax.Entry, len(r.Entries))
	copy(entries, r.Entries)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date().Before(entries[j].Date())
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write(exportRecord(e)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func exportRecord(e tax.Entry) []string {
	record := make([]string, len(exportHeader))
	record[0] = e.Date().UTC().Format(time.RFC3339)
	record[1] = e.Type()
	record[2] = e.TaxationType()

	switch entry := e.(type) {
	case tax.SellEntry:
		record[3] = entry.Coin
		record[4] = entry.Amount.String()
		record[5] = entry.SellPlatform
		record[6] = entry.BuyPlatform
		record[7] = entry.BuyTime.UTC().Format(time.RFC3339)
		record[8] = entry.SellValueInFiat.StringFixed(2)
		record[9] = entry.BuyCostInFiat.StringFixed(2)
		record[10] = entry.FirstFeeInFiat.Add(entry.SecondFeeInFiat).StringFixed(2)
		record[11] = entry.Gain().StringFixed(2)
		record[12] = fmt.Sprintf("%t", entry.Taxable)
		record[13] = entry.Remark
	case tax.IncomeEntry:
		record[3] = entry.Coin
		record[4] = entry.Amount.String()
		record[5] = entry.Platform
		record[8] = entry.InFiat.StringFixed(2)
		record[11] = entry.InFiat.StringFixed(2)
		record[12] = "true"
		record[13] = entry.Remark
	case tax.TransferEntry:
		record[3] = entry.Coin
		record[4] = entry.Amount.String()
		record[5] = entry.FirstPlatform
		record[6] = entry.SecondPlatform
		record[10] = entry.FeeInFiat.StringFixed(2)
		record[12] = "false"
		record[13] = entry.Remark
	}
	return record
}

// Export writes the CSV export next to nothing else; the path's directory
// must exist.
func (r *Report) Export(path string) error {
	if !strings.HasSuffix(path, ".csv") {
		path += ".csv"
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create export %s: %w", path, err)
	}
	defer f.Close()
	return r.WriteCSV(f)
}
