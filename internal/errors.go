package cointax_errors

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMissingAcquisition is returned when a removal cannot be satisfied from
// the acquisition history and the configured handling is ERROR. It carries
// enough context to locate the missing source record.
type ErrMissingAcquisition struct {
	Coin     string
	Platform string
	Time     time.Time
	Missing  decimal.Decimal
}

func (e ErrMissingAcquisition) Error() string {
	return fmt.Sprintf(
		"not enough %s in queue to sell: missing %s %s (transaction from %s on %s)",
		e.Coin, e.Missing.String(), e.Coin, e.Time.Format(time.RFC3339), e.Platform)
}

// ErrAccounting signals an internal invariant violation. A run that hits one
// of these is invalid and must be restarted after fixing the ledger.
type ErrAccounting struct {
	Coin    string
	Message string
}

func (e ErrAccounting) Error() string {
	if e.Coin != "" {
		return fmt.Sprintf("balance accounting error for %s: %s", e.Coin, e.Message)
	}
	return fmt.Sprintf("balance accounting error: %s", e.Message)
}

type ErrNoContract struct {
	Coin     string
	Platform string
}

func (e ErrNoContract) Error() string {
	return fmt.Sprintf("no active staking contract found for %s on %s", e.Coin, e.Platform)
}

type ErrContractMismatch struct {
	ContractID string
	Expected   decimal.Decimal
	Got        decimal.Decimal
}

func (e ErrContractMismatch) Error() string {
	return fmt.Sprintf("staking contract %s: end amount %s doesn't match staked amount %s",
		e.ContractID, e.Got.String(), e.Expected.String())
}

type ErrMissingPrice struct {
	Platform string
	Coin     string
	Time     time.Time
}

func (e ErrMissingPrice) Error() string {
	return fmt.Sprintf("no price for %s on %s at %s", e.Coin, e.Platform, e.Time.Format("2006-01-02"))
}
