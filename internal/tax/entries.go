package tax

import (
	"time"

	"github.com/shopspring/decimal"
)

// German taxation types used in the report.
const (
	TaxationTypeSale          = "Einkünfte aus privaten Veräußerungsgeschäften"
	TaxationTypeCapitalIncome = "Einkünfte aus Kapitalvermögen"
	TaxationTypeOtherIncome   = "Einkünfte aus sonstigen Leistungen"
	TaxationTypeGift          = "Schenkung"
)

// Entry is one line of the tax report.
type Entry interface {
	Date() time.Time
	Type() string
	TaxationType() string
}

// SellEntry reports one (partial) disposal: a slice of a sale matched
// against one originating lot.
type SellEntry struct {
	SellPlatform string
	BuyPlatform  string
	Amount       decimal.Decimal
	Coin         string
	SellTime     time.Time
	BuyTime      time.Time

	FirstFeeAmount  decimal.Decimal
	FirstFeeCoin    string
	FirstFeeInFiat  decimal.Decimal
	SecondFeeAmount decimal.Decimal
	SecondFeeCoin   string
	SecondFeeInFiat decimal.Decimal

	SellValueInFiat decimal.Decimal
	BuyCostInFiat   decimal.Decimal

	Taxable    bool
	Unrealized bool
	Taxation   string
	Remark     string
}

func (e SellEntry) Date() time.Time { return e.SellTime }

func (e SellEntry) Type() string {
	if e.Unrealized {
		return "Unrealized Sell"
	}
	return "Sell"
}

func (e SellEntry) TaxationType() string { return e.Taxation }

// Gain is the realized gain of this entry after fees.
func (e SellEntry) Gain() decimal.Decimal {
	return e.SellValueInFiat.Sub(e.BuyCostInFiat).Sub(e.FirstFeeInFiat).Sub(e.SecondFeeInFiat)
}

// IncomeEntry reports received coins that count as income at receipt time
// (interest, airdrops, commissions, mining rewards).
type IncomeEntry struct {
	Kind     string
	Platform string
	Amount   decimal.Decimal
	Coin     string
	Time     time.Time
	InFiat   decimal.Decimal
	Taxation string
	Remark   string
}

func (e IncomeEntry) Date() time.Time { return e.Time }

func (e IncomeEntry) Type() string { return e.Kind }

func (e IncomeEntry) TaxationType() string { return e.Taxation }

// TransferEntry reports a deposit or withdrawal, informational only.
type TransferEntry struct {
	Kind           string
	FirstPlatform  string
	SecondPlatform string
	Amount         decimal.Decimal
	Coin           string
	FirstTime      time.Time
	SecondTime     time.Time
	FeeAmount      decimal.Decimal
	FeeCoin        string
	FeeInFiat      decimal.Decimal
	Remark         string
}

func (e TransferEntry) Date() time.Time { return e.FirstTime }

func (e TransferEntry) Type() string { return e.Kind }

func (e TransferEntry) TaxationType() string { return "" }
