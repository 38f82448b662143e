package staking

import (
	"errors"
	"testing"
	"time"

	cointax_errors "cointax/internal"
	"cointax/internal/domain"

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

func op(kind domain.OpType, change string, at time.Time) *domain.Operation {
	return &domain.Operation{
		Kind:     kind,
		Platform: "kraken",
		Coin:     "DOT",
		Change:   dec(change),
		UTCTime:  at,
	}
}

func TestTrackerRoundTrip(t *testing.T) {
	acquired := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	stakeStart := acquired.AddDate(0, 3, 0)
	stakeEnd := stakeStart.AddDate(0, 6, 0)

	tracker := NewTracker()
	origin := op(domain.OpBuy, "10", acquired)

	contractID, err := tracker.StartContract(
		op(domain.OpStaking, "10", stakeStart),
		[]domain.SoldCoin{{Op: origin, Sold: dec("10")}},
	)
	require.NoError(t, err)
	require.NotEmpty(t, contractID)
	require.True(t, tracker.StakedAmount("kraken", "DOT").Equal(dec("10")))

	returned, err := tracker.EndContract(op(domain.OpStakingEnd, "10", stakeEnd), contractID)
	require.NoError(t, err)
	require.Len(t, returned, 1)

	// The lot comes back with its original acquisition, not a new one; the
	// holding period keeps running from the buy.
	require.Same(t, origin, returned[0].Origin)
	require.Equal(t, acquired, returned[0].Origin.UTCTime)
	require.True(t, returned[0].Amount.Equal(dec("10")))
	require.Equal(t, KindStaking, returned[0].Kind)
	require.True(t, tracker.StakedAmount("kraken", "DOT").IsZero())
}

func TestTrackerStartContract(t *testing.T) {
	t1 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("allocates across lots in order", func(t *testing.T) {
		tracker := NewTracker()
		lotA := op(domain.OpBuy, "4", t1)
		lotB := op(domain.OpBuy, "8", t1.Add(time.Hour))

		_, err := tracker.StartContract(op(domain.OpCoinLend, "6", t1.Add(2*time.Hour)),
			[]domain.SoldCoin{{Op: lotA, Sold: dec("4")}, {Op: lotB, Sold: dec("8")}})
		require.NoError(t, err)

		contracts := tracker.ActiveContracts("kraken", "DOT")
		require.Len(t, contracts, 1)
		require.Len(t, contracts[0].StakedCoins, 2)
		require.Same(t, lotA, contracts[0].StakedCoins[0].Origin)
		require.True(t, contracts[0].StakedCoins[0].Amount.Equal(dec("4")))
		require.Same(t, lotB, contracts[0].StakedCoins[1].Origin)
		require.True(t, contracts[0].StakedCoins[1].Amount.Equal(dec("2")))
		require.Equal(t, KindLending, contracts[0].StakedCoins[0].Kind)
	})

	t.Run("insufficient lots fail the start", func(t *testing.T) {
		tracker := NewTracker()
		lotA := op(domain.OpBuy, "4", t1)

		_, err := tracker.StartContract(op(domain.OpStaking, "6", t1.Add(time.Hour)),
			[]domain.SoldCoin{{Op: lotA, Sold: dec("4")}})
		var missing cointax_errors.ErrMissingAcquisition
		require.True(t, errors.As(err, &missing))
		require.True(t, missing.Missing.Equal(dec("2")))
		require.Empty(t, tracker.ActiveContracts("", ""))
	})

	t.Run("only staking kinds can start", func(t *testing.T) {
		tracker := NewTracker()
		_, err := tracker.StartContract(op(domain.OpBuy, "1", t1), nil)
		require.Error(t, err)
	})
}

func TestTrackerEndContract(t *testing.T) {
	t1 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)
	origin := op(domain.OpBuy, "20", t1)

	start := func(tracker *Tracker, change string, at time.Time) string {
		id, err := tracker.StartContract(op(domain.OpStaking, change, at),
			[]domain.SoldCoin{{Op: origin, Sold: dec(change)}})
		require.NoError(t, err)
		return id
	}

	t.Run("empty id ends the oldest contract", func(t *testing.T) {
		tracker := NewTracker()
		oldest := start(tracker, "5", t1.Add(time.Hour))
		start(tracker, "7", t2)

		returned, err := tracker.EndContract(op(domain.OpStakingEnd, "5", t2.Add(time.Hour)), "")
		require.NoError(t, err)
		require.Len(t, returned, 1)
		require.True(t, returned[0].Amount.Equal(dec("5")))

		remaining := tracker.ActiveContracts("kraken", "DOT")
		require.Len(t, remaining, 1)
		require.NotEqual(t, oldest, remaining[0].ID)
		require.True(t, tracker.StakedAmount("kraken", "DOT").Equal(dec("7")))
	})

	t.Run("amount within tolerance matches", func(t *testing.T) {
		tracker := NewTracker()
		id := start(tracker, "5", t1)

		_, err := tracker.EndContract(op(domain.OpStakingEnd, "5.000000001", t2), id)
		require.NoError(t, err)
	})

	t.Run("amount outside tolerance is rejected", func(t *testing.T) {
		tracker := NewTracker()
		id := start(tracker, "5", t1)

		_, err := tracker.EndContract(op(domain.OpStakingEnd, "5.1", t2), id)
		var mismatch cointax_errors.ErrContractMismatch
		require.True(t, errors.As(err, &mismatch))
		require.Equal(t, id, mismatch.ContractID)
		require.True(t, mismatch.Expected.Equal(dec("5")))
		require.True(t, mismatch.Got.Equal(dec("5.1")))
	})

	t.Run("no active contract", func(t *testing.T) {
		tracker := NewTracker()
		_, err := tracker.EndContract(op(domain.OpStakingEnd, "5", t2), "")
		var noContract cointax_errors.ErrNoContract
		require.True(t, errors.As(err, &noContract))
	})
}

func TestTrackerAvailableAmount(t *testing.T) {
	t1 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewTracker()
	origin := op(domain.OpBuy, "10", t1)

	require.True(t, tracker.AvailableAmount("kraken", "DOT", origin).Equal(dec("10")))

	_, err := tracker.StartContract(op(domain.OpStaking, "6", t1.Add(time.Hour)),
		[]domain.SoldCoin{{Op: origin, Sold: dec("10")}})
	require.NoError(t, err)
	require.True(t, tracker.AvailableAmount("kraken", "DOT", origin).Equal(dec("4")))
}

func TestTrackerPurgeEnded(t *testing.T) {
	t1 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewTracker()
	origin := op(domain.OpBuy, "10", t1)

	id, err := tracker.StartContract(op(domain.OpStaking, "10", t1.Add(time.Hour)),
		[]domain.SoldCoin{{Op: origin, Sold: dec("10")}})
	require.NoError(t, err)
	_, err = tracker.EndContract(op(domain.OpStakingEnd, "10", t1.Add(2*time.Hour)), id)
	require.NoError(t, err)

	tracker.PurgeEnded()
	require.Empty(t, tracker.ActiveContracts("", ""))
	require.True(t, tracker.StakedAmount("kraken", "DOT").IsZero())
}
