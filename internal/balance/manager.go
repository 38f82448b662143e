package balance

import (
	"fmt"

	"cointax/internal/domain"

	"github.com/shopspring/decimal"
)

// Manager routes operations to the correct per-(platform, coin) queue and
// keeps the portfolio view in sync. Queues are created lazily on first
// reference and live for the whole run.
type Manager struct {
	cfg       Config
	portfolio *PortfolioManager
	queues    map[BalanceKey]*Queue
}

func NewManager(cfg Config, portfolio *PortfolioManager) *Manager {
	if portfolio == nil {
		portfolio = NewPortfolioManager(cfg)
	}
	return &Manager{
		cfg:       cfg,
		portfolio: portfolio,
		queues:    map[BalanceKey]*Queue{},
	}
}

func (m *Manager) Portfolio() *PortfolioManager { return m.portfolio }

func (m *Manager) Config() Config { return m.cfg }

// Balance returns the queue for the platform/coin combination, creating it
// on first use.
func (m *Manager) Balance(platform, coin string) *Queue {
	key := NewBalanceKey(platform, coin, m.cfg.DepotMode)
	q, ok := m.queues[key]
	if !ok {
		q = NewQueue(m.cfg.Principle, key.Coin, m.cfg.FiatCurrency, m.cfg.Handling)
		m.queues[key] = q
	}
	return q
}

func (m *Manager) BalanceOp(op *domain.Operation) *Queue {
	return m.Balance(op.Platform, op.Coin)
}

// AddToBalance pushes the operation's coins into the balance tracking and
// updates the portfolio.
func (m *Manager) AddToBalance(op *domain.Operation) error {
	if err := m.BalanceOp(op).Add(op); err != nil {
		return err
	}
	m.portfolio.Add(op.Platform, op.Coin, op.Change)
	return nil
}

// RemoveFromBalance consumes the operation's coins and returns which lots
// they came from.
func (m *Manager) RemoveFromBalance(op *domain.Operation) (Removal, error) {
	removal, err := m.BalanceOp(op).Remove(op)
	if err != nil {
		return Removal{}, err
	}
	m.portfolio.Remove(op.Platform, op.Coin, op.Change)
	return removal, nil
}

// RestoreLot puts a slice of an earlier acquisition back into the sellable
// balance, preserving the original acquisition identity. Used when staked or
// lent coins are returned.
func (m *Manager) RestoreLot(platform string, origin *domain.Operation, amount decimal.Decimal) error {
	if err := m.Balance(platform, origin.Coin).Restore(origin, amount); err != nil {
		return err
	}
	m.portfolio.Add(platform, origin.Coin, amount)
	return nil
}

func (m *Manager) RemoveFeesFromBalance(fees []*domain.Operation) error {
	for _, fee := range fees {
		if err := m.Balance(fee.Platform, fee.Coin).RemoveFee(fee); err != nil {
			return err
		}
		m.portfolio.Remove(fee.Platform, fee.Coin, fee.Change)
	}
	return nil
}

// Process routes an operation to add/remove/fee handling. Operations that do
// not touch the balance (interest bookkeeping is done by the tax layer)
// return a nil removal.
func (m *Manager) Process(op *domain.Operation) (*Removal, error) {
	switch op.Kind {
	case domain.OpBuy, domain.OpDeposit, domain.OpCoinLendEnd:
		return nil, m.AddToBalance(op)
	case domain.OpSell, domain.OpWithdrawal, domain.OpCoinLend:
		removal, err := m.RemoveFromBalance(op)
		if err != nil {
			return nil, err
		}
		return &removal, nil
	case domain.OpFee:
		return nil, m.RemoveFeesFromBalance([]*domain.Operation{op})
	default:
		return nil, nil
	}
}

// BalanceAmount is the unsold amount currently tracked for platform/coin.
func (m *Manager) BalanceAmount(platform, coin string) decimal.Decimal {
	return m.Balance(platform, coin).Amount()
}

// AllBalances lists every queue with a positive unsold amount.
func (m *Manager) AllBalances() map[BalanceKey]decimal.Decimal {
	out := map[BalanceKey]decimal.Decimal{}
	for key, q := range m.queues {
		if amount := q.Amount(); amount.Sign() > 0 {
			out[key] = amount
		}
	}
	return out
}

// Queues exposes the underlying queue map for deadline draining.
func (m *Manager) Queues() map[BalanceKey]*Queue { return m.queues }

// SanityCheckAll fails if any queue still carries an unpaid non-fiat fee
// buffer.
func (m *Manager) SanityCheckAll() error {
	for key, q := range m.queues {
		if err := q.SanityCheck(); err != nil {
			return fmt.Errorf("sanity check failed for %s: %w", key.String(), err)
		}
	}
	return nil
}

// ValidateBalances collects non-fatal consistency issues across queues and
// portfolio.
func (m *Manager) ValidateBalances() []string {
	issues := []string{}
	for key, q := range m.queues {
		if err := q.SanityCheck(); err != nil {
			issues = append(issues, fmt.Sprintf("balance validation error for %s: %v", key.String(), err))
		}
	}
	issues = append(issues, m.portfolio.Validate()...)
	return issues
}
