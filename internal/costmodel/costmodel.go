// Package costmodel computes commission, stamp tax, and slippage for a
// trade, per spec §4.3.
//
// Grounded on internal/risk.Manager's style of small, pure, independently
// testable check functions operating on plain config values — here there
// is nothing to reject, only a fee to compute, so the package is a single
// pure function pair rather than a stateful manager.
package costmodel

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Config holds the fee schedule. All rates are fractions (0.0003, not
// 0.03%).
type Config struct {
	CommissionRate decimal.Decimal `json:"commission_rate"`
	MinCommission  decimal.Decimal `json:"min_commission"`
	StampTaxRate   decimal.Decimal `json:"stamp_tax_rate"` // sell-only
	SlippageRate   decimal.Decimal `json:"slippage_rate"`  // both sides
}

// Model computes trade costs from a fixed fee schedule. Stateless and
// side-effect free, matching strategy.Strategy's "pure function" contract
// in the teacher repo.
type Model struct {
	cfg Config
}

// New builds a cost Model from a fee schedule.
func New(cfg Config) *Model {
	return &Model{cfg: cfg}
}

// Fees breaks a trade's total cost into its three distinct components
// (spec §4.3), so callers can carry each one through to TradeRecord
// instead of only ever seeing the combined sum.
type Fees struct {
	Commission decimal.Decimal
	StampTax   decimal.Decimal
	Slippage   decimal.Decimal
}

// Total returns the combined fee across all three components.
func (f Fees) Total() decimal.Decimal {
	return f.Commission.Add(f.StampTax).Add(f.Slippage)
}

// BuyCost returns the fee breakdown for a buy of the given gross
// notional. No stamp tax applies to buys in the A-share market.
func (m *Model) BuyCost(notional decimal.Decimal) (Fees, error) {
	if notional.IsNegative() {
		return Fees{}, fmt.Errorf("costmodel: negative notional %s", notional)
	}
	return Fees{
		Commission: decimal.Max(notional.Mul(m.cfg.CommissionRate), m.cfg.MinCommission),
		StampTax:   decimal.Zero,
		Slippage:   notional.Mul(m.cfg.SlippageRate),
	}, nil
}

// SellCost returns the fee breakdown for a sell of the given gross
// notional.
func (m *Model) SellCost(notional decimal.Decimal) (Fees, error) {
	if notional.IsNegative() {
		return Fees{}, fmt.Errorf("costmodel: negative notional %s", notional)
	}
	return Fees{
		Commission: decimal.Max(notional.Mul(m.cfg.CommissionRate), m.cfg.MinCommission),
		StampTax:   notional.Mul(m.cfg.StampTaxRate),
		Slippage:   notional.Mul(m.cfg.SlippageRate),
	}, nil
}
