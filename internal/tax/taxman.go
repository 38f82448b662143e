package tax

import (
	"errors"
	"fmt"
	"strings"
	"time"

	cointax_errors "cointax/internal"
	"cointax/internal/balance"
	"cointax/internal/domain"
	"cointax/internal/logger"
	"cointax/internal/price"
	"cointax/internal/staking"

	"github.com/shopspring/decimal"
)

type Config struct {
	TaxYear                  int
	FiatCurrency             string
	CalculateUnrealizedGains bool
	AllAirdropsAreGifts      bool
}

// Deadline is the last instant of the tax year, used to price unrealized
// positions.
func (c Config) Deadline() time.Time {
	return time.Date(c.TaxYear, 12, 31, 23, 59, 59, 0, time.UTC)
}

// Taxman evaluates a chronologically sorted operation stream into tax report
// entries, using the balance engine for lot matching and the staking tracker
// for locked inventory.
type Taxman struct {
	cfg      Config
	balances *balance.Manager
	staking  *staking.Tracker
	prices   price.Oracle
	missing  *price.MissingTracker

	entries          []Entry
	unrealizedFaulty bool

	// Final portfolio views, filled when the queues are drained at deadline.
	multiDepotPortfolio  map[string]map[string]decimal.Decimal
	singleDepotPortfolio map[string]decimal.Decimal
	drained              bool
}

func New(cfg Config, balances *balance.Manager, stakingTracker *staking.Tracker, oracle price.Oracle) *Taxman {
	return &Taxman{
		cfg:                  cfg,
		balances:             balances,
		staking:              stakingTracker,
		prices:               oracle,
		missing:              price.NewMissingTracker(),
		multiDepotPortfolio:  map[string]map[string]decimal.Decimal{},
		singleDepotPortfolio: map[string]decimal.Decimal{},
	}
}

func (t *Taxman) Entries() []Entry { return t.entries }

func (t *Taxman) MissingPrices() []price.Missing { return t.missing.Entries() }

func (t *Taxman) UnrealizedFaulty() bool { return t.unrealizedFaulty }

func (t *Taxman) inTaxYear(op *domain.Operation) bool {
	return op.UTCTime.Year() == t.cfg.TaxYear
}

func (t *Taxman) isFiat(coin string) bool {
	switch strings.ToUpper(coin) {
	case "EUR", "USD", "GBP", "CHF", "CAD", "AUD", "JPY":
		return true
	}
	return strings.EqualFold(coin, t.cfg.FiatCurrency)
}

// Evaluate runs the full pass. A returned error means the whole run is
// invalid and must be restarted after fixing the ledger.
func (t *Taxman) Evaluate(ops []*domain.Operation) error {
	for _, op := range ops {
		if op.UTCTime.Year() > t.cfg.TaxYear {
			return fmt.Errorf("operation from %s is after the tax year %d",
				op.UTCTime.Format(time.RFC3339), t.cfg.TaxYear)
		}
	}

	domain.SortOperations(ops)

	for _, op := range ops {
		if err := t.evaluateOperation(op); err != nil {
			return fmt.Errorf("evaluation failed at %s %s %s on %s (%s): %w",
				op.Kind, op.Change.String(), op.Coin, op.Platform,
				op.UTCTime.Format(time.RFC3339), err)
		}
	}

	// Make sure that all fees were paid.
	if err := t.balances.SanityCheckAll(); err != nil {
		return err
	}

	if t.cfg.CalculateUnrealizedGains {
		if err := t.evaluateUnrealized(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Taxman) evaluateOperation(op *domain.Operation) error {
	switch op.Kind {
	case domain.OpBuy:
		// The buying side of a trade is not taxable per se. The fees stay
		// attached and only matter for the acquisition cost later.
		return t.balances.AddToBalance(op)

	case domain.OpSell:
		return t.handleSell(op)

	case domain.OpDeposit:
		return t.handleDeposit(op)

	case domain.OpWithdrawal:
		return t.handleWithdrawal(op)

	case domain.OpCoinLend, domain.OpStaking:
		return t.handleStakingStart(op)

	case domain.OpCoinLendEnd, domain.OpStakingEnd:
		return t.handleStakingEnd(op)

	case domain.OpCoinLendInterest:
		taxation := TaxationTypeOtherIncome
		kind := "Lending Interest"
		if t.isFiat(op.Coin) {
			taxation = TaxationTypeCapitalIncome
			kind = "Interest"
		}
		return t.addIncome(op, kind, taxation)

	case domain.OpStakingInterest:
		return t.addIncome(op, "Staking Interest", TaxationTypeOtherIncome)

	case domain.OpAirdrop:
		taxation := TaxationTypeOtherIncome
		if t.cfg.AllAirdropsAreGifts {
			taxation = TaxationTypeGift
		}
		return t.addIncome(op, "Airdrop", taxation)

	case domain.OpCommission:
		// Assumed to be a customer-recruits-customer bonus.
		return t.addIncome(op, "Commission", TaxationTypeOtherIncome)

	case domain.OpGift:
		return t.addIncome(op, "Gift", TaxationTypeGift)

	case domain.OpMining:
		return t.addIncome(op, "Mining", TaxationTypeOtherIncome)

	case domain.OpHardFork:
		// Forked coins acquire at zero cost; no income entry.
		return t.balances.AddToBalance(op)

	case domain.OpFee:
		return t.balances.RemoveFeesFromBalance([]*domain.Operation{op})

	default:
		return fmt.Errorf("unhandled operation kind %q", op.Kind)
	}
}

// addIncome adds received coins to the balance and reports them as income at
// their fiat value when they fall into the tax year.
func (t *Taxman) addIncome(op *domain.Operation, kind, taxation string) error {
	if err := t.balances.AddToBalance(op); err != nil {
		return err
	}
	if !t.inTaxYear(op) {
		return nil
	}

	inFiat, err := t.costOrZero(op, decimal.NewFromInt(1))
	if err != nil {
		return err
	}
	t.entries = append(t.entries, IncomeEntry{
		Kind:     kind,
		Platform: op.Platform,
		Amount:   op.Change,
		Coin:     op.Coin,
		Time:     op.UTCTime,
		InFiat:   inFiat,
		Taxation: taxation,
		Remark:   op.Remark,
	})
	return nil
}

func (t *Taxman) handleSell(op *domain.Operation) error {
	// Staked coins are out of the sellable queue; if the queue cannot cover
	// the sale while a lock is active, the ledger likely sells locked coins.
	if staked := t.staking.StakedAmount(op.Platform, op.Coin); staked.Sign() > 0 {
		if t.balances.BalanceOp(op).Amount().LessThan(op.Change) {
			logger.L.Warn("selling more than the unlocked balance while coins are staked",
				"coin", op.Coin, "platform", op.Platform,
				"staked", staked.String(), "change", op.Change.String())
		}
	}

	removal, err := t.balances.RemoveFromBalance(op)
	if err != nil {
		return err
	}
	if err := t.balances.RemoveFeesFromBalance(op.Fees); err != nil {
		return err
	}

	if t.isConfiguredFiat(op.Coin) || !t.inTaxYear(op) {
		return nil
	}
	return t.evaluateSell(op, removal.Sold)
}

func (t *Taxman) handleDeposit(op *domain.Operation) error {
	if err := t.balances.AddToBalance(op); err != nil {
		return err
	}
	if !t.inTaxYear(op) {
		return nil
	}

	if op.Link != nil {
		// Transfer between own platforms; the amount difference is the
		// withdrawal-side fee.
		feeAmount := op.Link.Change.Sub(op.Change)
		feeCoin := ""
		feeInFiat := decimal.Zero
		if feeAmount.Sign() > 0 {
			feeCoin = op.Coin
			unitPrice, err := t.priceOrZero(op.Platform, op.Coin, op.UTCTime)
			if err != nil {
				return err
			}
			feeInFiat = unitPrice.Mul(feeAmount)
		}
		t.entries = append(t.entries, TransferEntry{
			Kind:           "Transfer",
			FirstPlatform:  op.Platform,
			SecondPlatform: op.Link.Platform,
			Amount:         op.Change,
			Coin:           op.Coin,
			FirstTime:      op.UTCTime,
			SecondTime:     op.Link.UTCTime,
			FeeAmount:      feeAmount,
			FeeCoin:        feeCoin,
			FeeInFiat:      feeInFiat,
			Remark:         op.Remark,
		})
		return nil
	}

	t.entries = append(t.entries, TransferEntry{
		Kind:          "Deposit",
		FirstPlatform: op.Platform,
		Amount:        op.Change,
		Coin:          op.Coin,
		FirstTime:     op.UTCTime,
		Remark:        op.Remark,
	})
	return nil
}

func (t *Taxman) handleWithdrawal(op *domain.Operation) error {
	removal, err := t.balances.RemoveFromBalance(op)
	if err != nil {
		return err
	}
	// Remember which lots left the platform so a linked deposit can resolve
	// the original acquisitions when the coins get sold later.
	op.WithdrawnCoins = removal.Sold

	if op.HasLink() || !t.inTaxYear(op) {
		return nil
	}
	t.entries = append(t.entries, TransferEntry{
		Kind:          "Withdrawal",
		FirstPlatform: op.Platform,
		Amount:        op.Change,
		Coin:          op.Coin,
		FirstTime:     op.UTCTime,
		Remark:        op.Remark,
	})
	return nil
}

// handleStakingStart locks coins for a staking/lending contract. The locked
// lots are popped from the sellable queue (FIFO over unlocked inventory) and
// handed to the tracker with their identity intact.
func (t *Taxman) handleStakingStart(op *domain.Operation) error {
	q := t.balances.BalanceOp(op)
	if q.Amount().LessThan(op.Change) {
		// The operation may still be legitimate (e.g. staking coins whose
		// deposit record is missing); don't lock anything in that case.
		logger.L.Warn("insufficient unlocked coins to start staking contract, lot tracking will be incomplete",
			"coin", op.Coin, "platform", op.Platform,
			"requested", op.Change.String(), "available", q.Amount().String())
		return nil
	}

	removal, err := t.balances.RemoveFromBalance(op)
	if err != nil {
		return err
	}

	contractID, err := t.staking.StartContract(op, removal.Sold)
	if err != nil {
		return err
	}
	logger.L.Info("started staking contract, coins locked until unstaking",
		"contract", contractID, "kind", op.Kind.String(),
		"amount", op.Change.String(), "coin", op.Coin)
	return nil
}

// handleStakingEnd unlocks the oldest matching contract. The returned lots
// keep their original acquisition dates, which is what preserves the
// one-year holding period across the lock.
func (t *Taxman) handleStakingEnd(op *domain.Operation) error {
	returned, err := t.staking.EndContract(op, "")
	if err != nil {
		var noContract cointax_errors.ErrNoContract
		if errors.As(err, &noContract) {
			// The matching start was likely skipped because the deposit
			// history is missing; the run stays valid, only lot tracking for
			// this lock is lost.
			logger.L.Error("no active staking contract to end, continuing without lot tracking",
				"coin", op.Coin, "platform", op.Platform, "time", op.UTCTime)
			return nil
		}
		return err
	}
	for _, sc := range returned {
		if err := t.balances.RestoreLot(op.Platform, sc.Origin, sc.Amount); err != nil {
			return err
		}
	}
	logger.L.Info("ended staking contract, coins returned with original acquisition dates",
		"kind", op.Kind.String(), "lots", len(returned), "coin", op.Coin)
	return nil
}

func (t *Taxman) isConfiguredFiat(coin string) bool {
	return strings.EqualFold(coin, t.cfg.FiatCurrency)
}

// evaluateSell writes one report entry per matched lot of the sale.
func (t *Taxman) evaluateSell(op *domain.Operation, soldCoins []domain.SoldCoin) error {
	for _, sc := range soldCoins {
		if sc.Op.Kind == domain.OpDeposit && sc.Op.Link != nil && len(sc.Op.Link.WithdrawnCoins) > 0 {
			// The sold coins were deposited from another platform; resolve
			// them to the lots the linked withdrawal consumed.
			soldPercent := sc.Sold.Div(sc.Op.Change)
			depositFee := sc.Op.Link.Change.Sub(sc.Op.Change)
			if depositFee.Sign() > 0 {
				// TODO are withdrawal/deposit fees tax relevant? They are
				// currently not included in the report.
				logger.L.Warn("deposit/withdrawal fees are not included in the tax report",
					"coin", sc.Op.Coin, "fee", depositFee.Mul(soldPercent).String())
			}
			for _, wsc := range sc.Op.Link.PartialWithdrawnCoins(soldPercent) {
				if err := t.evaluateOneSell(op, wsc, false); err != nil {
					return err
				}
			}
			continue
		}

		if sc.Op.Kind == domain.OpDeposit {
			logger.L.Warn("sold coins were deposited from an unknown source; "+
				"assuming acquisition at deposit time, the tax evaluation might be wrong",
				"coin", sc.Op.Coin, "platform", sc.Op.Platform, "time", sc.Op.UTCTime)
		}
		if err := t.evaluateOneSell(op, sc, false); err != nil {
			return err
		}
	}
	return nil
}

func (t *Taxman) evaluateOneSell(op *domain.Operation, sc domain.SoldCoin, unrealized bool) error {
	if sc.Sold.GreaterThan(op.Change) {
		logger.L.Warn("adjusting sold amount to operation amount to keep accounting consistent",
			"coin", op.Coin, "sold", sc.Sold.String(), "change", op.Change.String())
		sc = domain.SoldCoin{Op: sc.Op, Sold: op.Change}
	}

	// Share fees and sell value proportionally to the coins sold.
	percent := sc.Sold.Div(op.Change)

	entry := SellEntry{
		SellPlatform: op.Platform,
		BuyPlatform:  sc.Op.Platform,
		Amount:       sc.Sold,
		Coin:         op.Coin,
		SellTime:     op.UTCTime,
		BuyTime:      sc.Op.UTCTime,
		Unrealized:   unrealized,
		Taxation:     TaxationTypeSale,
		Remark:       op.Remark,
	}

	if !unrealized {
		if len(op.Fees) > 2 {
			return fmt.Errorf("more than two fee coins are not supported")
		}
		for i, fee := range op.Fees {
			amount := fee.Change.Mul(percent)
			inFiat, err := t.costOrZero(fee, percent)
			if err != nil {
				return err
			}
			if i == 0 {
				entry.FirstFeeAmount, entry.FirstFeeCoin, entry.FirstFeeInFiat = amount, fee.Coin, inFiat
			} else {
				entry.SecondFeeAmount, entry.SecondFeeCoin, entry.SecondFeeInFiat = amount, fee.Coin, inFiat
			}
		}
	}

	buyCost, err := t.buyCost(sc)
	if err != nil {
		return err
	}
	entry.BuyCostInFiat = buyCost

	// Taxable when the sale is within one year after the acquisition.
	// Exactly one year is already exempt.
	entry.Taxable = sc.Op.UTCTime.AddDate(1, 0, 0).After(op.UTCTime)

	sellValue, err := t.sellValue(op, percent, unrealized)
	if err != nil {
		return err
	}
	entry.SellValueInFiat = sellValue

	t.entries = append(t.entries, entry)
	return nil
}

// buyCost is the fiat acquisition cost of the sold slice, including the
// proportional share of the buying fees.
func (t *Taxman) buyCost(sc domain.SoldCoin) (decimal.Decimal, error) {
	percent := sc.Sold.Div(sc.Op.Change)

	buyingFees := decimal.Zero
	for _, fee := range sc.Op.Fees {
		inFiat, err := t.costOrZero(fee, percent)
		if err != nil {
			return decimal.Zero, err
		}
		buyingFees = buyingFees.Add(inFiat)
	}

	if sc.Op.Synthetic {
		return buyingFees, nil
	}

	var buyValue decimal.Decimal
	var err error
	switch {
	case sc.Op.Kind == domain.OpBuy && sc.Op.BuyingCost.Sign() > 0:
		buyValue = sc.Op.BuyingCost.Mul(percent)
	case sc.Op.Kind == domain.OpBuy && sc.Op.Link != nil:
		// The buy cost of a traded coin is the sell value of the previously
		// sold coin, not the market value of the bought coin. Gains of
		// chained trades would otherwise be wrong.
		buyValue, err = t.costOrZero(sc.Op.Link, percent)
	case sc.Op.Kind == domain.OpBuy:
		logger.L.Warn("no link to the previous sell of this trade; "+
			"falling back to the market value of the bought coins, the buy cost might be wrong",
			"coin", sc.Op.Coin, "time", sc.Op.UTCTime)
		buyValue, err = t.costOrZero(sc.Op, percent)
	default:
		// All other operations begin their existence as that coin; their
		// cost is the value from when they were received.
		buyValue, err = t.costOrZero(sc.Op, percent)
	}
	if err != nil {
		return decimal.Zero, err
	}

	return buyValue.Add(buyingFees), nil
}

func (t *Taxman) sellValue(op *domain.Operation, percent decimal.Decimal, unrealized bool) (decimal.Decimal, error) {
	var value decimal.Decimal
	var err error
	switch {
	case op.SellingValue.Sign() > 0:
		value = op.SellingValue.Mul(percent)
	case op.Link != nil:
		value, err = t.costOrZero(op.Link, percent)
	default:
		value, err = t.costOrZero(op, percent)
	}
	if err != nil {
		if !unrealized {
			return decimal.Zero, err
		}
		logger.L.Warn("could not price unrealized sell at deadline; "+
			"the unrealized summary will be wrong",
			"coin", op.Coin, "platform", op.Platform, "error", err)
		t.unrealizedFaulty = true
		return decimal.Zero, nil
	}
	return value, nil
}

// costOrZero prices the given fraction of an operation. A missing price is
// recoverable: it is recorded for the end-of-run summary and valued at zero.
func (t *Taxman) costOrZero(op *domain.Operation, percent decimal.Decimal) (decimal.Decimal, error) {
	value, err := t.prices.GetPartialCost(op, percent)
	if err != nil {
		var missing cointax_errors.ErrMissingPrice
		if errors.As(err, &missing) {
			logger.L.Warn("missing price, valuing at zero", "coin", op.Coin,
				"platform", op.Platform, "time", op.UTCTime)
			t.missing.Record(op.Platform, op.Coin, op.UTCTime)
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return value, nil
}

func (t *Taxman) priceOrZero(platform, coin string, ts time.Time) (decimal.Decimal, error) {
	value, err := t.prices.GetPrice(platform, coin, ts)
	if err != nil {
		var missing cointax_errors.ErrMissingPrice
		if errors.As(err, &missing) {
			t.missing.Record(platform, coin, ts)
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return value, nil
}

// evaluateUnrealized values every coin still owned at the tax deadline: the
// queue-resident lots plus the lots locked in active staking contracts.
func (t *Taxman) evaluateUnrealized() error {
	for _, q := range t.balances.Queues() {
		soldCoins, err := q.RemoveAll()
		if err != nil {
			return err
		}
		for _, sc := range soldCoins {
			if err := t.evaluateUnrealizedPosition(sc.Op.Platform, sc.Op.Coin, sc); err != nil {
				return err
			}
		}
	}

	// Staked coins are not queue resident but still owned; they count at
	// the deadline with their original acquisition identity.
	for _, contract := range t.staking.ActiveContracts("", "") {
		for _, staked := range contract.StakedCoins {
			sc := domain.SoldCoin{Op: staked.Origin, Sold: staked.Amount}
			if err := t.evaluateUnrealizedPosition(staked.Platform, staked.Coin, sc); err != nil {
				return err
			}
		}
	}

	t.drained = true
	return nil
}

// evaluateUnrealizedPosition accumulates the final portfolio and writes an
// unrealized sell entry for non-fiat coins.
func (t *Taxman) evaluateUnrealizedPosition(platform, coin string, sc domain.SoldCoin) error {
	// Sum up the portfolio at deadline. With a virtual single depot the
	// per-platform values might not match the real values at the platform.
	if _, ok := t.multiDepotPortfolio[platform]; !ok {
		t.multiDepotPortfolio[platform] = map[string]decimal.Decimal{}
	}
	t.multiDepotPortfolio[platform][coin] = t.multiDepotPortfolio[platform][coin].Add(sc.Sold)
	t.singleDepotPortfolio[coin] = t.singleDepotPortfolio[coin].Add(sc.Sold)

	if t.isConfiguredFiat(coin) {
		return nil
	}
	unrealizedSell := &domain.Operation{
		Kind:     domain.OpSell,
		Platform: platform,
		Coin:     coin,
		Change:   sc.Sold,
		UTCTime:  t.cfg.Deadline(),
	}
	return t.evaluateOneSell(unrealizedSell, sc, true)
}

// MultiDepotPortfolio is the final per-platform portfolio, available after
// the deadline drain.
func (t *Taxman) MultiDepotPortfolio() map[string]map[string]decimal.Decimal {
	return t.multiDepotPortfolio
}

// SingleDepotPortfolio is the final aggregated portfolio.
func (t *Taxman) SingleDepotPortfolio() map[string]decimal.Decimal {
	return t.singleDepotPortfolio
}

// FinalPortfolio is the portfolio snapshot at process end: drained values
// when unrealized gains were evaluated, live queue amounts otherwise.
func (t *Taxman) FinalPortfolio() map[balance.BalanceKey]decimal.Decimal {
	if !t.drained {
		return t.balances.AllBalances()
	}
	out := map[balance.BalanceKey]decimal.Decimal{}
	mode := t.balances.Config().DepotMode
	for platform, coins := range t.multiDepotPortfolio {
		for coin, amount := range coins {
			key := balance.NewBalanceKey(platform, coin, mode)
			out[key] = out[key].Add(amount)
		}
	}
	return out
}
