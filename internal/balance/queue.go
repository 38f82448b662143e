package balance

import (
	"time"

	cointax_errors "cointax/internal"
	"cointax/internal/domain"
	"cointax/internal/logger"

	"github.com/shopspring/decimal"
)

type queueOrder int

const (
	orderFIFO queueOrder = iota
	orderLIFO
)

// Queue is the ordered lot store for one balance key. Lots are appended in
// chronological order; the ordering principle only decides which end gets
// consumed first. Ties in timestamp keep insertion order.
type Queue struct {
	coin     string
	fiat     string
	handling MissingAcquisitionHandling
	order    queueOrder
	lots     []*domain.Lot

	// It might happen that the exchange takes fees before the buy/sell
	// transaction. Keep fees which couldn't be removed directly from the
	// queue and remove them as soon as possible.
	// At the end, all fees should have been paid (removed from the buffer).
	BufferFee decimal.Decimal
}

func NewFIFOQueue(coin, fiat string, handling MissingAcquisitionHandling) *Queue {
	return &Queue{coin: coin, fiat: fiat, handling: handling, order: orderFIFO}
}

func NewLIFOQueue(coin, fiat string, handling MissingAcquisitionHandling) *Queue {
	return &Queue{coin: coin, fiat: fiat, handling: handling, order: orderLIFO}
}

// NewQueue picks the queue variant for the given principle.
func NewQueue(principle Principle, coin, fiat string, handling MissingAcquisitionHandling) *Queue {
	if principle == PrincipleLIFO {
		return NewLIFOQueue(coin, fiat, handling)
	}
	return NewFIFOQueue(coin, fiat, handling)
}

func (q *Queue) Coin() string { return q.coin }

func (q *Queue) Len() int { return len(q.lots) }

// Lots returns the resident lots in insertion (chronological) order,
// regardless of the removal principle.
func (q *Queue) Lots() []*domain.Lot { return q.lots }

// Amount is the total unsold amount resident in the queue.
func (q *Queue) Amount() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range q.lots {
		total = total.Add(lot.NotSold())
	}
	return total
}

func (q *Queue) peek() *domain.Lot {
	if q.order == orderLIFO {
		return q.lots[len(q.lots)-1]
	}
	return q.lots[0]
}

func (q *Queue) pop() *domain.Lot {
	var lot *domain.Lot
	if q.order == orderLIFO {
		lot = q.lots[len(q.lots)-1]
		q.lots = q.lots[:len(q.lots)-1]
	} else {
		lot = q.lots[0]
		q.lots = q.lots[1:]
	}
	return lot
}

func (q *Queue) put(lot *domain.Lot) error {
	q.lots = append(q.lots, lot)

	// Remove fees which couldn't be removed before.
	if q.BufferFee.Sign() > 0 {
		fee := q.BufferFee
		q.BufferFee = decimal.Zero
		return q.removeFeeAmount(fee)
	}
	return nil
}

// Restore re-inserts a partially tracked slice of an earlier acquisition,
// e.g. coins returning from a staking or lending lock. The lot keeps the
// original operation (and with it the acquisition date) and is placed at its
// chronological position so the ordering principle keeps working.
func (q *Queue) Restore(origin *domain.Operation, amount decimal.Decimal) error {
	if origin.Coin != q.coin {
		return cointax_errors.ErrAccounting{
			Coin:    q.coin,
			Message: "operation coin " + origin.Coin + " restored into " + q.coin + " queue",
		}
	}
	if amount.Sign() <= 0 || amount.GreaterThan(origin.Change) {
		return cointax_errors.ErrAccounting{
			Coin:    q.coin,
			Message: "cannot restore " + amount.String() + " of a lot of " + origin.Change.String(),
		}
	}

	lot := domain.NewLot(origin)
	lot.Sold = origin.Change.Sub(amount)

	idx := len(q.lots)
	for i, resident := range q.lots {
		if resident.Op.UTCTime.After(origin.UTCTime) {
			idx = i
			break
		}
	}
	q.lots = append(q.lots, nil)
	copy(q.lots[idx+1:], q.lots[idx:])
	q.lots[idx] = lot

	if q.BufferFee.Sign() > 0 {
		fee := q.BufferFee
		q.BufferFee = decimal.Zero
		return q.removeFeeAmount(fee)
	}
	return nil
}

// Add pushes an acquisition operation as a new lot.
func (q *Queue) Add(op *domain.Operation) error {
	if op.Kind == domain.OpFee {
		return cointax_errors.ErrAccounting{Coin: q.coin, Message: "fee operation added to balance"}
	}
	if op.Coin != q.coin {
		return cointax_errors.ErrAccounting{
			Coin:    q.coin,
			Message: "operation coin " + op.Coin + " added to " + q.coin + " queue",
		}
	}
	return q.put(domain.NewLot(op))
}

// Removal is the typed outcome of a Remove call. Shortfall is non-zero when
// the WARNING policy (or a fiat queue) accepted a partial removal.
// Synthesized reports that a zero-cost acquisition was fabricated to cover
// the shortfall.
type Removal struct {
	Sold        []domain.SoldCoin
	Shortfall   decimal.Decimal
	Synthesized bool
}

// removeAmount walks the queue and consumes up to change. It returns the
// consumed fragments in consumption order and the leftover amount which
// could not be removed because the queue ran out of lots.
func (q *Queue) removeAmount(change decimal.Decimal) ([]domain.SoldCoin, decimal.Decimal, error) {
	soldCoins := []domain.SoldCoin{}

	for len(q.lots) > 0 && change.Sign() > 0 {
		lot := q.peek()
		notSold := lot.NotSold()
		if notSold.Sign() <= 0 {
			// A fully consumed lot must never be queue resident.
			return nil, decimal.Zero, cointax_errors.ErrAccounting{
				Coin:    q.coin,
				Message: "resident lot has non-positive unsold amount " + notSold.String(),
			}
		}

		if notSold.GreaterThan(change) {
			// More coins left in the lot than requested: partial consume.
			lot.Sold = lot.Sold.Add(change)
			soldCoins = append(soldCoins, domain.SoldCoin{Op: lot.Op, Sold: change})
			change = decimal.Zero
			break
		}

		// The lot is fully consumed: pop it and continue with the rest.
		change = change.Sub(notSold)
		q.pop()
		soldCoins = append(soldCoins, domain.SoldCoin{Op: lot.Op, Sold: notSold})
	}

	if change.Sign() < 0 {
		return nil, decimal.Zero, cointax_errors.ErrAccounting{
			Coin:    q.coin,
			Message: "removed more than necessary from the queue",
		}
	}
	return soldCoins, change, nil
}

// Remove consumes op.Change worth of inventory according to the ordering
// principle. Insufficient inventory is resolved by the configured
// missing-acquisition policy; fiat queues always degrade to a warning since
// fiat balance accuracy is not tax relevant.
func (q *Queue) Remove(op *domain.Operation) (Removal, error) {
	if op.Coin != q.coin {
		return Removal{}, cointax_errors.ErrAccounting{
			Coin:    q.coin,
			Message: "operation coin " + op.Coin + " removed from " + q.coin + " queue",
		}
	}

	soldCoins, unsoldChange, err := q.removeAmount(op.Change)
	if err != nil {
		return Removal{}, err
	}

	if total := sumSold(soldCoins); total.GreaterThan(op.Change) {
		logger.L.Error("total sold exceeds operation amount",
			"coin", q.coin, "totalSold", total.String(), "change", op.Change.String())
		return Removal{}, cointax_errors.ErrAccounting{
			Coin:    q.coin,
			Message: "total sold " + total.String() + " exceeds operation amount " + op.Change.String(),
		}
	}

	removal := Removal{Sold: soldCoins}
	if unsoldChange.Sign() > 0 {
		removal, err = q.resolveShortfall(op, soldCoins, unsoldChange)
		if err != nil {
			return Removal{}, err
		}
	}

	// The policy paths must never hand out more than requested. Truncation
	// here indicates an internal accounting bug, so it is logged loudly even
	// though the result is repaired.
	if total := sumSold(removal.Sold); total.GreaterThan(op.Change) {
		logger.L.Error("accounting bug: truncating sold coins to operation amount",
			"coin", q.coin, "totalSold", total.String(), "change", op.Change.String())
		removal.Sold = truncateSoldCoins(removal.Sold, op.Change)
	}

	return removal, nil
}

func (q *Queue) resolveShortfall(op *domain.Operation, soldCoins []domain.SoldCoin, unsoldChange decimal.Decimal) (Removal, error) {
	if q.coin == q.fiat {
		logger.L.Warn("not enough fiat in queue; portfolio at deadline will be wrong",
			"coin", q.coin, "missing", unsoldChange.String(), "platform", op.Platform,
			"time", op.UTCTime)
		return Removal{Sold: soldCoins, Shortfall: unsoldChange}, nil
	}

	switch q.handling {
	case HandlingZeroCost:
		return q.synthesizeAcquisition(op, soldCoins, unsoldChange)

	case HandlingWarning:
		logger.L.Warn("continuing with partial sale; missing amount is dropped from tax consideration",
			"coin", q.coin, "missing", unsoldChange.String(), "platform", op.Platform,
			"time", op.UTCTime)
		return Removal{Sold: soldCoins, Shortfall: unsoldChange}, nil

	default: // HandlingError
		logger.L.Error("sold more coins than acquired; the transaction history is incomplete",
			"coin", q.coin, "missing", unsoldChange.String(), "platform", op.Platform,
			"time", op.UTCTime)
		return Removal{}, cointax_errors.ErrMissingAcquisition{
			Coin:     q.coin,
			Platform: op.Platform,
			Time:     op.UTCTime,
			Missing:  unsoldChange,
		}
	}
}

// synthesizeAcquisition fabricates a zero-cost buy one second before the
// removing operation, pushes it and retries the removal for exactly the
// shortfall. Models an unrecorded airdrop or fork per § 22 Nr. 3 EStG.
func (q *Queue) synthesizeAcquisition(op *domain.Operation, soldCoins []domain.SoldCoin, unsoldChange decimal.Decimal) (Removal, error) {
	logger.L.Warn("creating synthetic zero-cost acquisition for missing coins; "+
		"assumed airdrop or fork, add the missing acquisitions if this is incorrect",
		"coin", q.coin, "missing", unsoldChange.String(), "platform", op.Platform,
		"time", op.UTCTime)

	synthetic := &domain.Operation{
		Kind:      domain.OpBuy,
		Platform:  op.Platform,
		Coin:      op.Coin,
		Change:    unsoldChange,
		UTCTime:   op.UTCTime.Add(-time.Second),
		Remark:    "synthetic zero-cost acquisition, assumed airdrop/fork",
		Synthetic: true,
	}
	if err := q.Add(synthetic); err != nil {
		return Removal{}, err
	}

	additional, remaining, err := q.removeAmount(unsoldChange)
	if err != nil {
		return Removal{}, err
	}
	if remaining.Sign() > 0 {
		return Removal{}, cointax_errors.ErrAccounting{
			Coin:    q.coin,
			Message: "synthetic acquisition failed to cover shortfall of " + remaining.String(),
		}
	}

	// The retry may only hand out the shortfall. Anything beyond that is an
	// accounting bug in the retry path; chop it down and complain.
	if total := sumSold(additional); total.GreaterThan(unsoldChange) {
		logger.L.Error("accounting bug: synthetic retry oversold, truncating to shortfall",
			"coin", q.coin, "sold", total.String(), "shortfall", unsoldChange.String())
		additional = truncateSoldCoins(additional, unsoldChange)
	}

	return Removal{
		Sold:        append(soldCoins, additional...),
		Synthesized: true,
	}, nil
}

// RemoveFee removes a fee from the queue. A leftover that cannot be removed
// yet is buffered and retried on the next Add, because exchange fees may be
// recorded before the acquisition that pays them.
func (q *Queue) RemoveFee(fee *domain.Operation) error {
	if fee.Kind != domain.OpFee {
		return cointax_errors.ErrAccounting{Coin: q.coin, Message: "non-fee operation passed to RemoveFee"}
	}
	if fee.Coin != q.coin {
		return cointax_errors.ErrAccounting{
			Coin:    q.coin,
			Message: "fee coin " + fee.Coin + " removed from " + q.coin + " queue",
		}
	}
	return q.removeFeeAmount(fee.Change)
}

func (q *Queue) removeFeeAmount(fee decimal.Decimal) error {
	_, leftOver, err := q.removeAmount(fee)
	if err != nil {
		return err
	}
	if leftOver.Sign() > 0 && q.coin != q.fiat {
		logger.L.Warn("not enough coins in queue to remove fee, buffering for next add; "+
			"you might be missing an account statement",
			"coin", q.coin, "fee", leftOver.String())
		q.BufferFee = q.BufferFee.Add(leftOver)
	}
	return nil
}

// RemoveAll drains every remaining lot, used at the tax deadline to compute
// unrealized positions.
func (q *Queue) RemoveAll() ([]domain.SoldCoin, error) {
	soldCoins := []domain.SoldCoin{}
	for len(q.lots) > 0 {
		lot := q.pop()
		notSold := lot.NotSold()
		if notSold.Sign() <= 0 {
			return nil, cointax_errors.ErrAccounting{
				Coin:    q.coin,
				Message: "resident lot has non-positive unsold amount " + notSold.String(),
			}
		}
		soldCoins = append(soldCoins, domain.SoldCoin{Op: lot.Op, Sold: notSold})
	}
	return soldCoins, nil
}

// SanityCheck validates that all fees were paid. Calling it twice without an
// intervening mutation produces the same result. Fiat fee shortfalls were
// already dropped in removeFeeAmount, so a non-zero buffer is always fatal.
func (q *Queue) SanityCheck() error {
	if q.BufferFee.Sign() == 0 {
		return nil
	}
	logger.L.Error("not enough coins in queue to pay left over fees; "+
		"the transaction history is incomplete",
		"coin", q.coin, "missing", q.BufferFee.String())
	return cointax_errors.ErrAccounting{
		Coin:    q.coin,
		Message: "unpaid fee buffer of " + q.BufferFee.String(),
	}
}

func sumSold(soldCoins []domain.SoldCoin) decimal.Decimal {
	total := decimal.Zero
	for _, sc := range soldCoins {
		total = total.Add(sc.Sold)
	}
	return total
}

func truncateSoldCoins(soldCoins []domain.SoldCoin, limit decimal.Decimal) []domain.SoldCoin {
	remaining := limit
	out := []domain.SoldCoin{}
	for _, sc := range soldCoins {
		if remaining.Sign() <= 0 {
			break
		}
		if sc.Sold.LessThanOrEqual(remaining) {
			out = append(out, sc)
			remaining = remaining.Sub(sc.Sold)
			continue
		}
		out = append(out, domain.SoldCoin{Op: sc.Op, Sold: remaining})
		remaining = decimal.Zero
	}
	return out
}
