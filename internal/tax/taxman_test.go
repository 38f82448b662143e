package tax

import (
	"testing"
	"time"

	cointax_errors "cointax/internal"
	"cointax/internal/balance"
	"cointax/internal/domain"
	mock_price "cointax/internal/price/mocks"
	"cointax/internal/staking"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	out, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return out
}

func newTaxman(t *testing.T, cfg Config) (*Taxman, *mock_price.MockOracle) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	oracle := mock_price.NewMockOracle(ctrl)

	balances := balance.NewManager(balance.Config{
		Principle:    balance.PrincipleFIFO,
		DepotMode:    balance.DepotModeMulti,
		FiatCurrency: cfg.FiatCurrency,
		Handling:     balance.HandlingError,
	}, nil)
	return New(cfg, balances, staking.NewTracker(), oracle), oracle
}

func testConfig() Config {
	return Config{TaxYear: 2022, FiatCurrency: "EUR"}
}

func buy(platform, coin, change, buyingCost string, at time.Time) *domain.Operation {
	return &domain.Operation{
		Kind:       domain.OpBuy,
		Platform:   platform,
		Coin:       coin,
		Change:     dec(change),
		UTCTime:    at,
		BuyingCost: dec(buyingCost),
	}
}

func sell(platform, coin, change, sellingValue string, at time.Time) *domain.Operation {
	return &domain.Operation{
		Kind:         domain.OpSell,
		Platform:     platform,
		Coin:         coin,
		Change:       dec(change),
		UTCTime:      at,
		SellingValue: dec(sellingValue),
	}
}

func sellEntries(entries []Entry) []SellEntry {
	out := []SellEntry{}
	for _, e := range entries {
		if sell, ok := e.(SellEntry); ok {
			out = append(out, sell)
		}
	}
	return out
}

func TestOneYearHoldingPeriod(t *testing.T) {
	acquired := time.Date(2021, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("sale one second before the year ends is taxable", func(t *testing.T) {
		taxman, _ := newTaxman(t, testConfig())
		soldAt := acquired.AddDate(1, 0, 0).Add(-time.Second)

		err := taxman.Evaluate([]*domain.Operation{
			buy("kraken", "BTC", "1", "10000", acquired),
			sell("kraken", "BTC", "1", "15000", soldAt),
		})
		require.NoError(t, err)

		sells := sellEntries(taxman.Entries())
		require.Len(t, sells, 1)
		require.True(t, sells[0].Taxable)
		require.True(t, sells[0].Gain().Equal(dec("5000")))
	})

	t.Run("sale exactly one year after acquisition is exempt", func(t *testing.T) {
		taxman, _ := newTaxman(t, testConfig())
		soldAt := acquired.AddDate(1, 0, 0)

		err := taxman.Evaluate([]*domain.Operation{
			buy("kraken", "BTC", "1", "10000", acquired),
			sell("kraken", "BTC", "1", "15000", soldAt),
		})
		require.NoError(t, err)

		sells := sellEntries(taxman.Entries())
		require.Len(t, sells, 1)
		require.False(t, sells[0].Taxable)
		require.Equal(t, acquired, sells[0].BuyTime)
	})
}

func TestSellEvaluation(t *testing.T) {
	t1 := time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("selling fees reduce the gain", func(t *testing.T) {
		taxman, oracle := newTaxman(t, testConfig())

		saleOp := sell("kraken", "BTC", "1", "15000", t2)
		fee := &domain.Operation{
			Kind:     domain.OpFee,
			Platform: "kraken",
			Coin:     "EUR",
			Change:   dec("10"),
			UTCTime:  t2,
		}
		saleOp.Fees = []*domain.Operation{fee}
		oracle.EXPECT().GetPartialCost(fee, gomock.Any()).Return(dec("10"), nil)

		err := taxman.Evaluate([]*domain.Operation{
			buy("kraken", "BTC", "1", "10000", t1),
			saleOp,
		})
		require.NoError(t, err)

		sells := sellEntries(taxman.Entries())
		require.Len(t, sells, 1)
		require.True(t, sells[0].FirstFeeInFiat.Equal(dec("10")))
		require.Equal(t, "EUR", sells[0].FirstFeeCoin)
		require.True(t, sells[0].Gain().Equal(dec("4990")))
	})

	t.Run("partial sale splits proceeds per lot", func(t *testing.T) {
		taxman, _ := newTaxman(t, testConfig())

		err := taxman.Evaluate([]*domain.Operation{
			buy("kraken", "BTC", "1", "10000", t1),
			buy("kraken", "BTC", "2", "30000", t1.Add(time.Hour)),
			sell("kraken", "BTC", "2", "40000", t2),
		})
		require.NoError(t, err)

		sells := sellEntries(taxman.Entries())
		require.Len(t, sells, 2)

		// The whole first lot at half the proceeds.
		require.True(t, sells[0].Amount.Equal(dec("1")))
		require.True(t, sells[0].SellValueInFiat.Equal(dec("20000")))
		require.True(t, sells[0].BuyCostInFiat.Equal(dec("10000")))

		// Half of the second lot at half the proceeds and half its cost.
		require.True(t, sells[1].Amount.Equal(dec("1")))
		require.True(t, sells[1].SellValueInFiat.Equal(dec("20000")))
		require.True(t, sells[1].BuyCostInFiat.Equal(dec("15000")))
	})

	t.Run("selling fiat produces no entry", func(t *testing.T) {
		taxman, _ := newTaxman(t, testConfig())

		err := taxman.Evaluate([]*domain.Operation{
			{Kind: domain.OpDeposit, Platform: "kraken", Coin: "EUR", Change: dec("1000"), UTCTime: t1},
			sell("kraken", "EUR", "500", "500", t2),
		})
		require.NoError(t, err)
		require.Empty(t, sellEntries(taxman.Entries()))
	})

	t.Run("missing price values at zero and is recorded", func(t *testing.T) {
		taxman, oracle := newTaxman(t, testConfig())

		interest := &domain.Operation{
			Kind:     domain.OpStakingInterest,
			Platform: "kraken",
			Coin:     "DOT",
			Change:   dec("5"),
			UTCTime:  t1,
		}
		oracle.EXPECT().GetPartialCost(interest, gomock.Any()).
			Return(decimal.Zero, cointax_errors.ErrMissingPrice{Platform: "kraken", Coin: "DOT", Time: t1})

		err := taxman.Evaluate([]*domain.Operation{interest})
		require.NoError(t, err)

		require.Len(t, taxman.Entries(), 1)
		income := taxman.Entries()[0].(IncomeEntry)
		require.True(t, income.InFiat.IsZero())

		missing := taxman.MissingPrices()
		require.Len(t, missing, 1)
		require.Equal(t, "DOT", missing[0].Coin)
	})
}

func TestIncomeEntries(t *testing.T) {
	t1 := time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC)

	t.Run("staking interest is other income", func(t *testing.T) {
		taxman, oracle := newTaxman(t, testConfig())
		interest := &domain.Operation{
			Kind: domain.OpStakingInterest, Platform: "kraken",
			Coin: "DOT", Change: dec("5"), UTCTime: t1,
		}
		oracle.EXPECT().GetPartialCost(interest, gomock.Any()).Return(dec("50"), nil)

		require.NoError(t, taxman.Evaluate([]*domain.Operation{interest}))
		income := taxman.Entries()[0].(IncomeEntry)
		require.Equal(t, TaxationTypeOtherIncome, income.TaxationType())
		require.Equal(t, "Staking Interest", income.Type())
		require.True(t, income.InFiat.Equal(dec("50")))
	})

	t.Run("fiat lending interest is capital income", func(t *testing.T) {
		taxman, oracle := newTaxman(t, testConfig())
		interest := &domain.Operation{
			Kind: domain.OpCoinLendInterest, Platform: "bitpanda",
			Coin: "EUR", Change: dec("12"), UTCTime: t1,
		}
		oracle.EXPECT().GetPartialCost(interest, gomock.Any()).Return(dec("12"), nil)

		require.NoError(t, taxman.Evaluate([]*domain.Operation{interest}))
		income := taxman.Entries()[0].(IncomeEntry)
		require.Equal(t, TaxationTypeCapitalIncome, income.TaxationType())
	})

	t.Run("airdrops can be treated as gifts", func(t *testing.T) {
		cfg := testConfig()
		cfg.AllAirdropsAreGifts = true
		taxman, oracle := newTaxman(t, cfg)
		airdrop := &domain.Operation{
			Kind: domain.OpAirdrop, Platform: "kraken",
			Coin: "DOT", Change: dec("3"), UTCTime: t1,
		}
		oracle.EXPECT().GetPartialCost(airdrop, gomock.Any()).Return(dec("18"), nil)

		require.NoError(t, taxman.Evaluate([]*domain.Operation{airdrop}))
		income := taxman.Entries()[0].(IncomeEntry)
		require.Equal(t, TaxationTypeGift, income.TaxationType())
	})

	t.Run("income outside the tax year only moves the balance", func(t *testing.T) {
		cfg := testConfig()
		taxman, _ := newTaxman(t, cfg)
		interest := &domain.Operation{
			Kind: domain.OpStakingInterest, Platform: "kraken",
			Coin: "DOT", Change: dec("5"), UTCTime: time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
		}

		require.NoError(t, taxman.Evaluate([]*domain.Operation{interest}))
		require.Empty(t, taxman.Entries())
	})
}

func TestStakingPreservesHoldingPeriod(t *testing.T) {
	acquired := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	stakeStart := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	stakeEnd := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	soldAt := time.Date(2022, 4, 1, 0, 0, 0, 0, time.UTC)

	taxman, _ := newTaxman(t, testConfig())
	err := taxman.Evaluate([]*domain.Operation{
		buy("kraken", "DOT", "10", "100", acquired),
		{Kind: domain.OpStaking, Platform: "kraken", Coin: "DOT", Change: dec("10"), UTCTime: stakeStart},
		{Kind: domain.OpStakingEnd, Platform: "kraken", Coin: "DOT", Change: dec("10"), UTCTime: stakeEnd},
		sell("kraken", "DOT", "10", "300", soldAt),
	})
	require.NoError(t, err)

	sells := sellEntries(taxman.Entries())
	require.Len(t, sells, 1)

	// The holding period runs from the original acquisition, not from the
	// end of the staking lock, so the sale is already exempt.
	require.Equal(t, acquired, sells[0].BuyTime)
	require.False(t, sells[0].Taxable)
	require.True(t, sells[0].BuyCostInFiat.Equal(dec("100")))
}

func TestStakingEndWithoutContract(t *testing.T) {
	stakeStart := time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC)
	stakeEnd := stakeStart.AddDate(0, 3, 0)

	// The start is skipped because the deposit history for the staked coins
	// is missing; the dangling end must not invalidate the whole run.
	taxman, _ := newTaxman(t, testConfig())
	err := taxman.Evaluate([]*domain.Operation{
		{Kind: domain.OpStaking, Platform: "kraken", Coin: "DOT", Change: dec("5"), UTCTime: stakeStart},
		{Kind: domain.OpStakingEnd, Platform: "kraken", Coin: "DOT", Change: dec("5"), UTCTime: stakeEnd},
	})
	require.NoError(t, err)
	require.Empty(t, taxman.Entries())
}

func TestUnrealizedGainsIncludeStakedCoins(t *testing.T) {
	acquired := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.CalculateUnrealizedGains = true
	taxman, oracle := newTaxman(t, cfg)

	oracle.EXPECT().GetPartialCost(gomock.Any(), gomock.Any()).Return(dec("300"), nil)

	// The lock spans the deadline, so the coins sit in the tracker instead of
	// the queue when the unrealized positions are computed.
	err := taxman.Evaluate([]*domain.Operation{
		buy("kraken", "DOT", "10", "100", acquired),
		{Kind: domain.OpStaking, Platform: "kraken", Coin: "DOT", Change: dec("10"), UTCTime: acquired.Add(time.Hour)},
	})
	require.NoError(t, err)

	sells := sellEntries(taxman.Entries())
	require.Len(t, sells, 1)
	require.True(t, sells[0].Unrealized)
	require.Equal(t, acquired, sells[0].BuyTime)
	require.True(t, sells[0].BuyCostInFiat.Equal(dec("100")))
	require.True(t, sells[0].SellValueInFiat.Equal(dec("300")))

	require.True(t, taxman.SingleDepotPortfolio()["DOT"].Equal(dec("10")))
	require.True(t, taxman.MultiDepotPortfolio()["kraken"]["DOT"].Equal(dec("10")))
}

func TestDepositWithdrawalTransfers(t *testing.T) {
	t1 := time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	t.Run("linked transfer reports the withdrawal fee", func(t *testing.T) {
		taxman, oracle := newTaxman(t, testConfig())

		withdrawal := &domain.Operation{
			Kind: domain.OpWithdrawal, Platform: "kraken",
			Coin: "BTC", Change: dec("1"), UTCTime: t1,
		}
		deposit := &domain.Operation{
			Kind: domain.OpDeposit, Platform: "binance",
			Coin: "BTC", Change: dec("0.999"), UTCTime: t2,
			Link: withdrawal,
		}
		withdrawal.Link = deposit
		oracle.EXPECT().GetPrice("binance", "BTC", t2).Return(dec("20000"), nil)

		err := taxman.Evaluate([]*domain.Operation{
			buy("kraken", "BTC", "1", "10000", t1.Add(-time.Hour)),
			withdrawal,
			deposit,
		})
		require.NoError(t, err)

		require.Len(t, taxman.Entries(), 1)
		transfer := taxman.Entries()[0].(TransferEntry)
		require.Equal(t, "Transfer", transfer.Type())
		require.True(t, transfer.FeeAmount.Equal(dec("0.001")))
		require.True(t, transfer.FeeInFiat.Equal(dec("20")))
		require.Empty(t, transfer.TaxationType())

		// The withdrawal remembered its lots for later sells.
		require.Len(t, withdrawal.WithdrawnCoins, 1)
	})

	t.Run("unlinked deposit and withdrawal each report", func(t *testing.T) {
		taxman, _ := newTaxman(t, testConfig())

		err := taxman.Evaluate([]*domain.Operation{
			{Kind: domain.OpDeposit, Platform: "kraken", Coin: "EUR", Change: dec("1000"), UTCTime: t1},
			{Kind: domain.OpWithdrawal, Platform: "kraken", Coin: "EUR", Change: dec("200"), UTCTime: t2},
		})
		require.NoError(t, err)
		require.Len(t, taxman.Entries(), 2)
		require.Equal(t, "Deposit", taxman.Entries()[0].Type())
		require.Equal(t, "Withdrawal", taxman.Entries()[1].Type())
	})
}

func TestEvaluateRejectsFutureOperations(t *testing.T) {
	taxman, _ := newTaxman(t, testConfig())
	err := taxman.Evaluate([]*domain.Operation{
		buy("kraken", "BTC", "1", "10000", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "after the tax year")
}

func TestUnrealizedGains(t *testing.T) {
	t1 := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.CalculateUnrealizedGains = true
	taxman, oracle := newTaxman(t, cfg)

	oracle.EXPECT().GetPartialCost(gomock.Any(), gomock.Any()).Return(dec("20000"), nil)

	err := taxman.Evaluate([]*domain.Operation{
		buy("kraken", "BTC", "1", "10000", t1),
	})
	require.NoError(t, err)

	sells := sellEntries(taxman.Entries())
	require.Len(t, sells, 1)
	require.True(t, sells[0].Unrealized)
	require.Equal(t, "Unrealized Sell", sells[0].Type())
	require.Equal(t, cfg.Deadline(), sells[0].SellTime)
	require.True(t, sells[0].SellValueInFiat.Equal(dec("20000")))
	require.True(t, sells[0].BuyCostInFiat.Equal(dec("10000")))

	require.True(t, taxman.SingleDepotPortfolio()["BTC"].Equal(dec("1")))
	require.True(t, taxman.MultiDepotPortfolio()["kraken"]["BTC"].Equal(dec("1")))
	require.False(t, taxman.UnrealizedFaulty())
}
