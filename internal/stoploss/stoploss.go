// Package stoploss implements the per-position stop-loss monitor: a
// drawdown check, an optional trailing-stop check, and a consecutive
// limit-down counter, evaluated in that precedence order per spec §4.6
// (the order the source spec.md §9 open question leaves for the
// implementer to fix and document: drawdown → trailing →
// consecutive-limit-down, first match wins).
//
// Grounded on internal/risk.CircuitBreaker: both are small, persistent,
// counter-driven trip detectors with a "trip on first threshold crossed"
// shape and a Reset/reconcile lifecycle. Unlike the circuit breaker,
// monitor state is keyed per ticker (a relation into Portfolio's
// positions, per spec §9's design note, not an embedded Lot field) and
// is itself durable across process restarts in paper mode.
package stoploss

import (
	"log"

	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/portfolio"
	"github.com/lchen-trading/ashare-sim/internal/priceindex"
	"github.com/lchen-trading/ashare-sim/internal/tradability"
	"github.com/shopspring/decimal"
)

// TriggerKind names which rule fired.
type TriggerKind string

const (
	TriggerDrawdown             TriggerKind = "drawdown"
	TriggerTrailing             TriggerKind = "trailing"
	TriggerConsecutiveLimitDown TriggerKind = "consecutive_limit_down"
)

// Config holds the stop-loss thresholds, mirroring config.json's
// stop_loss_* fields in spec §6.
type Config struct {
	Enabled                  bool
	DrawdownPct              float64
	TrailingEnabled          bool
	TrailingPct              float64
	ConsecutiveLimitDownDays int
}

// State is one ticker's persistent monitor state, serialized as part of
// paper-mode account state per spec §4.6/§6.
type State struct {
	HighWaterPnLPrice        decimal.Decimal `json:"high_water_pnl_price"`
	ConsecutiveLimitDownDays int             `json:"consecutive_limit_down_days"`
}

// Trigger is an evaluated stop-loss hit for one ticker on one date.
type Trigger struct {
	Ticker string
	Kind   TriggerKind
}

// Monitor owns per-ticker StopLoss state. It is reconciled with the
// Portfolio's open positions at the start of every tick: entries for
// tickers no longer held are purged, and tickers newly held without
// prior state are initialized fresh.
type Monitor struct {
	cfg    Config
	states map[string]*State
	logger *log.Logger
}

// New creates an empty Monitor.
func New(cfg Config, logger *log.Logger) *Monitor {
	return &Monitor{cfg: cfg, states: make(map[string]*State), logger: logger}
}

func (m *Monitor) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// State returns a copy of the current state for ticker, if any.
func (m *Monitor) State(ticker string) (State, bool) {
	s, ok := m.states[ticker]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// LoadStates replaces the monitor's internal map wholesale, for
// deserializing persisted paper-mode state (spec §8 round-trip R2).
func (m *Monitor) LoadStates(states map[string]State) {
	m.states = make(map[string]*State, len(states))
	for t, s := range states {
		cp := s
		m.states[t] = &cp
	}
}

// Snapshot returns a copy of all states, for serialization.
func (m *Monitor) Snapshot() map[string]State {
	out := make(map[string]State, len(m.states))
	for t, s := range m.states {
		out[t] = *s
	}
	return out
}

// Reconcile purges state for tickers no longer held and initializes
// fresh state (high-water = buy_pnl_price, counter = 0) for newly held
// tickers lacking it, per spec §4.6's persistence rule and §8 invariant
// I8 (monitor keys == portfolio position keys at the end of every tick).
func (m *Monitor) Reconcile(pf *portfolio.Portfolio) {
	held := make(map[string]bool)
	for _, ticker := range pf.Positions() {
		held[ticker] = true
		if _, ok := m.states[ticker]; !ok {
			lot, _ := pf.Position(ticker)
			m.states[ticker] = &State{HighWaterPnLPrice: lot.BuyPnLPrice}
		}
	}
	for ticker := range m.states {
		if !held[ticker] {
			delete(m.states, ticker)
		}
	}
}

// UpdateAndCheck updates high-water marks and limit-down counters for
// every open lot on date, then evaluates triggers in precedence order.
// Returns one Trigger per ticker that fired (at most one rule per
// ticker, per the first-match-wins policy).
func (m *Monitor) UpdateAndCheck(date calendar.Date, pf *portfolio.Portfolio, prices *priceindex.Index, trade *tradability.Map) []Trigger {
	if !m.cfg.Enabled {
		return nil
	}

	var triggers []Trigger
	for _, ticker := range pf.Positions() {
		lot, _ := pf.Position(ticker)
		state, ok := m.states[ticker]
		if !ok {
			state = &State{HighWaterPnLPrice: lot.BuyPnLPrice}
			m.states[ticker] = state
		}

		currentPrice, havePrice := prices.PnLPrice(date, ticker)
		currentDec := lot.BuyPnLPrice
		if havePrice {
			currentDec = decimal.NewFromFloat(currentPrice)
		}

		if currentDec.GreaterThan(state.HighWaterPnLPrice) {
			state.HighWaterPnLPrice = currentDec
		}

		limitDownToday := false
		if flags, err := trade.Get(date, ticker); err == nil {
			limitDownToday = flags.LimitDown
		}
		if limitDownToday {
			state.ConsecutiveLimitDownDays++
		} else {
			state.ConsecutiveLimitDownDays = 0
		}

		drawdownThreshold := lot.BuyPnLPrice.Mul(decimal.NewFromFloat(1 - m.cfg.DrawdownPct/100))
		trailingThreshold := state.HighWaterPnLPrice.Mul(decimal.NewFromFloat(1 - m.cfg.TrailingPct/100))

		switch {
		case currentDec.LessThanOrEqual(drawdownThreshold):
			m.logf("stoploss: %s drawdown trigger on %s (current=%s <= %s)", ticker, date, currentDec, drawdownThreshold)
			triggers = append(triggers, Trigger{Ticker: ticker, Kind: TriggerDrawdown})
		case m.cfg.TrailingEnabled && currentDec.LessThanOrEqual(trailingThreshold):
			m.logf("stoploss: %s trailing trigger on %s (current=%s <= %s)", ticker, date, currentDec, trailingThreshold)
			triggers = append(triggers, Trigger{Ticker: ticker, Kind: TriggerTrailing})
		case m.cfg.ConsecutiveLimitDownDays > 0 && state.ConsecutiveLimitDownDays >= m.cfg.ConsecutiveLimitDownDays:
			m.logf("stoploss: %s consecutive-limit-down trigger on %s (%d days)", ticker, date, state.ConsecutiveLimitDownDays)
			triggers = append(triggers, Trigger{Ticker: ticker, Kind: TriggerConsecutiveLimitDown})
		}
	}
	return triggers
}
