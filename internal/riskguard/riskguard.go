// Package riskguard enforces the portfolio-level hard caps that sit
// between SignalPipeline's target weights and the ExecutionEngine's
// actual buys: a max-open-positions limit, a max-capital-deployment
// limit, and a daily-loss kill switch.
//
// None of these caps are named in spec §4.11's pseudocode, but spec §6's
// config.json schema leaves room for exactly this kind of "hard
// guardrail the strategy cannot override" — the repo's teacher makes
// this an explicit, load-bearing concern (internal/risk.Manager,
// "capital preservation > returns... system must prefer not trading over
// bad trades"). This package keeps that rejection-reason shape (a
// Manager.Check call returning Approved + a list of named Rejections)
// but narrows its inputs from a strategy.TradeIntent (with its own
// stop-loss/target fields, now owned by internal/stoploss) down to the
// two numbers the ExecutionEngine actually has at the point it decides
// whether to call portfolio.Buy: a proposed notional and the current
// portfolio snapshot.
package riskguard

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Config mirrors config.json's risk_guard sub-object in spec §6.
type Config struct {
	Enabled                 bool
	MaxOpenPositions        int
	MaxDailyLossPct         float64
	MaxCapitalDeploymentPct float64
}

// Rejection explains why a proposed buy was rejected.
type Rejection struct {
	Rule    string
	Message string
}

func (r Rejection) Error() string {
	return fmt.Sprintf("riskguard rejected [%s]: %s", r.Rule, r.Message)
}

// Guard enforces Config's caps. Stateless aside from the config it was
// built with — every Check call takes the full portfolio snapshot it
// needs, matching costmodel.Model's "pure function over plain config
// values" shape rather than holding its own mutable ledger.
type Guard struct {
	cfg Config
}

// New builds a Guard from Config.
func New(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// Check validates a proposed buy of proposedNotional against the
// portfolio's current state. openPositions is the count of currently
// held tickers (not counting the one about to be opened); deployedValue
// is the current total market value of open positions; totalEquity is
// cash+marketValue before the proposed buy; dailyReturn is the day's
// return-to-date (negative on a loss day). Returns nil when the buy may
// proceed.
func (g *Guard) Check(proposedNotional, deployedValue, totalEquity decimal.Decimal, openPositions int, dailyReturn float64) *Rejection {
	if !g.cfg.Enabled {
		return nil
	}

	if g.cfg.MaxOpenPositions > 0 && openPositions >= g.cfg.MaxOpenPositions {
		return &Rejection{Rule: "max_open_positions", Message: fmt.Sprintf("at position limit: %d/%d", openPositions, g.cfg.MaxOpenPositions)}
	}

	if g.cfg.MaxDailyLossPct > 0 && dailyReturn < 0 && -dailyReturn*100 >= g.cfg.MaxDailyLossPct {
		return &Rejection{Rule: "max_daily_loss", Message: fmt.Sprintf("daily loss %.2f%% has reached limit %.2f%%", -dailyReturn*100, g.cfg.MaxDailyLossPct)}
	}

	if g.cfg.MaxCapitalDeploymentPct > 0 && totalEquity.IsPositive() {
		proposedTotal := deployedValue.Add(proposedNotional)
		maxDeployment := totalEquity.Mul(decimal.NewFromFloat(g.cfg.MaxCapitalDeploymentPct / 100.0))
		if proposedTotal.GreaterThan(maxDeployment) {
			proposedF, _ := proposedTotal.Float64()
			maxF, _ := maxDeployment.Float64()
			return &Rejection{Rule: "max_capital_deployment", Message: fmt.Sprintf(
				"total deployment %.2f would exceed limit %.2f (%.1f%% of equity)",
				proposedF, maxF, g.cfg.MaxCapitalDeploymentPct)}
		}
	}

	return nil
}
