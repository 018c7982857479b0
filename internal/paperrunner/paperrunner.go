// Package paperrunner implements the single-day, persistent counterpart
// to the backtest engine, per spec §4.12: trade-date normalization,
// config load, the three-stage data-dependency walk, idempotent T0
// (signal generation) / T1 (fills) sub-steps, and atomic persistence of
// every piece of state the ExecutionEngine core owns in memory during a
// backtest.
//
// Grounded on the teacher's cmd/engine/main.go, whose RunMarketHourJobs
// is the closest analogue: a single daily invocation that loads
// whatever state survived the last run, does one unit of work, and
// writes it back before exiting. The teacher's job is keyed by
// wall-clock cron triggers and a live broker session; this package
// replaces both with a single idempotent D argument and a
// calendar.Sequence, since paper mode has no long-lived process to
// carry state between invocations the way the teacher's daemon does.
package paperrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/config"
	"github.com/lchen-trading/ashare-sim/internal/costmodel"
	"github.com/lchen-trading/ashare-sim/internal/engine"
	"github.com/lchen-trading/ashare-sim/internal/equitycurve"
	"github.com/lchen-trading/ashare-sim/internal/pendingqueue"
	"github.com/lchen-trading/ashare-sim/internal/portfolio"
	"github.com/lchen-trading/ashare-sim/internal/priceindex"
	"github.com/lchen-trading/ashare-sim/internal/riskbudget"
	"github.com/lchen-trading/ashare-sim/internal/riskguard"
	"github.com/lchen-trading/ashare-sim/internal/scheduler"
	"github.com/lchen-trading/ashare-sim/internal/signal"
	"github.com/lchen-trading/ashare-sim/internal/stoploss"
	"github.com/lchen-trading/ashare-sim/internal/tradability"
	"github.com/shopspring/decimal"
)

func nowStamp() string { return time.Now().UTC().Format(time.RFC3339) }

// lookbackDays bounds how much trading history is loaded to build the
// PriceIndex/TradabilityMap/RiskBudget inputs for a single tick. One
// year of trading days comfortably covers this repo's longest trailing
// window (risk_budget's vol_window, spec §6) with headroom; paper mode
// intentionally does not load the full historical bar table on every
// invocation the way a backtest does.
const lookbackDays = 280

// Paths is the fixed file layout under a paper/ base directory, per
// spec §6's exact directory and file names.
type Paths struct {
	Base string
}

func (p Paths) ConfigPath() string          { return filepath.Join(p.Base, "config.json") }
func (p Paths) AccountPath() string         { return filepath.Join(p.Base, "state", "account.json") }
func (p Paths) StopLossPath() string        { return filepath.Join(p.Base, "state", "stop_loss_state.json") }
func (p Paths) TradesPath() string          { return filepath.Join(p.Base, "trades", "trades.parquet") }
func (p Paths) NAVPath() string             { return filepath.Join(p.Base, "nav", "nav.parquet") }
func (p Paths) PendingSellsPath() string    { return filepath.Join(p.Base, "pending_sells", "pending_sells.json") }
func (p Paths) RebalanceStatePath() string  { return filepath.Join(p.Base, "runs", "rebalance_state.json") }
func (p Paths) PendingWeightsPath(d calendar.Date) string {
	return filepath.Join(p.Base, "pending", string(d)+".parquet")
}
func (p Paths) T0SentinelPath(d calendar.Date) string {
	return filepath.Join(p.Base, "runs", "t0_"+string(d)+".json")
}
func (p Paths) T1SentinelPath(d calendar.Date) string {
	return filepath.Join(p.Base, "runs", "t1_"+string(d)+".json")
}

// Runner drives one idempotent daily tick against the persistent paper
// account rooted at Paths.Base.
type Runner struct {
	paths    Paths
	universe []string
	ranker   signal.Ranker
	source   DataSource
	seq      *calendar.Sequence
	logger   *log.Logger
}

// New creates a Runner. seq is the full trading-calendar sequence (spec
// §6's "ordered sequence of YYYYMMDD strings"), loaded once at startup
// from config.MarketCalendarPath; universe is the static ticker universe
// this deployment trades, used as-is on every Run (the config's
// `universe` field does not narrow it).
func New(base string, universe []string, ranker signal.Ranker, source DataSource, seq *calendar.Sequence, logger *log.Logger) *Runner {
	return &Runner{paths: Paths{Base: base}, universe: universe, ranker: ranker, source: source, seq: seq, logger: logger}
}

func (r *Runner) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

// NormalizeTradeDate rolls a requested date forward to the next date
// present in the runner's trading-calendar sequence, per spec §4.12
// step 1 / boundary behavior B2. Returns an error only if the requested
// date is after the last date the sequence knows about.
func (r *Runner) NormalizeTradeDate(requested calendar.Date) (calendar.Date, error) {
	for _, d := range r.seq.All() {
		if d >= requested {
			return d, nil
		}
	}
	return "", fmt.Errorf("paperrunner: %s is after the last known trading day %s", requested, r.seq.Last())
}

// LoadConfig reads paper/config.json on top of config.Default(). It
// fails if the file does not exist; it never creates the file.
func (r *Runner) LoadConfig() (*config.Config, error) {
	return config.Load(r.paths.ConfigPath())
}

// Result summarizes one Tick invocation for the CLI layer.
type Result struct {
	TradeDate      calendar.Date
	T0Ran          bool
	T1Ran          bool
	NAV            portfolio.NAVPoint
	TradesExecuted int
}

// Run executes spec §4.12's full daily workflow for the requested date:
// normalize, load config, ensure(date)'s data walk, an idempotent tick,
// and atomic persistence of every piece of state. Re-invoking Run for a
// date whose T0/T1 sub-steps already completed is a no-op for those
// sub-steps, but MarkToMarket and persistence still run every call so a
// retried invocation always leaves NAV/state consistent with whatever
// did complete.
func (r *Runner) Run(ctx context.Context, requested calendar.Date) (*Result, error) {
	lock, err := acquireLock(r.paths.Base)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	d, err := r.NormalizeTradeDate(requested)
	if err != nil {
		return nil, err
	}
	if d != requested {
		r.logf("paperrunner: requested %s is not a trading day, rolled forward to %s", requested, d)
	}

	cfg, err := r.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("paperrunner: load config: %w", err)
	}

	if err := r.source.Ensure(ctx, d); err != nil {
		return nil, fmt.Errorf("paperrunner: ensure(%s): %w", d, err)
	}

	from, ok := r.seq.Add(d, -lookbackDays)
	if !ok {
		from = r.seq.First()
	}
	bars, err := r.source.LoadBars(ctx, d, from, r.universe)
	if err != nil {
		return nil, fmt.Errorf("paperrunner: load bars: %w", err)
	}
	features, err := r.source.LoadFeatures(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("paperrunner: load features: %w", err)
	}

	logger := r.logger
	prices := priceindex.Build(bars, logger)
	trade := tradability.Build(bars)
	costs := costmodel.New(toCostModelConfig(cfg.Fees))

	pf := portfolio.New(decimal.NewFromFloat(cfg.InitialCapital), prices, costs)
	if cash, positions, ok, err := LoadAccountState(r.paths.AccountPath()); err != nil {
		return nil, err
	} else if ok {
		pf.RestoreState(cash, positions, nil, nil)
	}

	sl := stoploss.New(toStopLossConfig(cfg), logger)
	if states, err := LoadStopLossState(r.paths.StopLossPath()); err != nil {
		return nil, err
	} else if len(states) > 0 {
		sl.LoadStates(states)
	}

	pq := pendingqueue.New(pendingqueue.Config{MaxRetries: cfg.PendingMaxRetries, MaxRetryDays: cfg.PendingMaxRetryDays}, logger)
	if orders, err := LoadPendingSells(r.paths.PendingSellsPath()); err != nil {
		return nil, err
	} else if len(orders) > 0 {
		pq.LoadOrders(orders)
	}

	sch := scheduler.New(scheduler.Config{RebalanceFreq: cfg.RebalanceFreq, BatchTranches: cfg.BatchRebalanceTranches})
	if lastDate, hasRebalanced, tranche, err := LoadRebalanceState(r.paths.RebalanceStatePath()); err != nil {
		return nil, err
	} else if hasRebalanced {
		sch.RestoreState(lastDate, hasRebalanced, tranche)
	}

	var ec *equitycurve.Controller
	if cfg.EquityCurveEnabled {
		ec = equitycurve.New(toEquityCurveConfig(cfg.EquityCurve), logger)
	}
	var rb *riskbudget.Scaler
	if cfg.RiskBudgetEnabled {
		rb = riskbudget.New(riskbudget.Config{Enabled: true, VolWindow: cfg.VolWindow, VolEpsilon: cfg.VolEpsilon, TradingDaysPerYear: 252}, logger)
	}
	sp := signal.New(signal.Config{TopN: cfg.TopN, WeightMethod: signal.WeightMethod(cfg.WeightMethod)}, r.ranker, ec, rb, logger)

	featuresForDate := map[calendar.Date]map[string]map[string]float64{d: features}
	eng := engine.New(engine.Config{
		BuyPriceSource:        portfolio.PriceSource(cfg.BuyPrice),
		SellPriceSource:       portfolio.PriceSource(cfg.SellPrice),
		HoldingPeriodDays:     cfg.HoldingPeriodDays,
		EquityCurveApplyScope: cfg.EquityCurveApplyScope,
	}, pf, pq, sl, sch, sp, prices, trade, costs, r.seq, r.universe, featuresForDate, logger)

	if cfg.RiskGuard.Enabled {
		eng.SetRiskGuard(riskguard.New(riskguard.Config{
			Enabled:                 true,
			MaxOpenPositions:        cfg.RiskGuard.MaxOpenPositions,
			MaxDailyLossPct:         cfg.RiskGuard.MaxDailyLossPct,
			MaxCapitalDeploymentPct: cfg.RiskGuard.MaxCapitalDeploymentPct,
		}))
	}

	if prevDay, ok := r.seq.Add(d, -1); ok {
		if weights, err := ReadPendingWeights(r.paths.PendingWeightsPath(prevDay)); err != nil {
			return nil, err
		} else if weights != nil {
			eng.LoadPendingWeights(weights)
		}
	}

	result := &Result{TradeDate: d}
	t0Path := r.paths.T0SentinelPath(d)
	t1Path := r.paths.T1SentinelPath(d)
	result.T0Ran = !isDone(t0Path)
	result.T1Ran = !isDone(t1Path)

	tradesBefore := len(eng.TradeLog())
	navPoint := eng.Tick(d)
	result.NAV = navPoint
	result.TradesExecuted = len(eng.TradeLog()) - tradesBefore

	if weights := eng.PendingWeights(); len(weights) > 0 && result.T0Ran {
		if err := WritePendingWeights(r.paths.PendingWeightsPath(d), weights); err != nil {
			return nil, err
		}
		if err := markDone(t0Path, fmt.Sprintf("signal generated for %s, %d target weights", d, len(weights))); err != nil {
			return nil, err
		}
	}

	if err := SaveAccountState(r.paths.AccountPath(), pf); err != nil {
		return nil, err
	}
	if err := SaveStopLossState(r.paths.StopLossPath(), sl); err != nil {
		return nil, err
	}
	if err := SavePendingSells(r.paths.PendingSellsPath(), pq); err != nil {
		return nil, err
	}
	lastDate, hasRebalanced := sch.LastRebalanceDate()
	if err := SaveRebalanceState(r.paths.RebalanceStatePath(), lastDate, hasRebalanced, sch.CurrentTranche()); err != nil {
		return nil, err
	}
	// pf was restored without a trade log, so TradeLog holds only this
	// invocation's trades.
	if newTrades := eng.TradeLog(); len(newTrades) > 0 {
		if err := AppendTrades(r.paths.TradesPath(), newTrades); err != nil {
			return nil, err
		}
	}
	if err := AppendNAV(r.paths.NAVPath(), []portfolio.NAVPoint{navPoint}); err != nil {
		return nil, err
	}
	if result.T1Ran {
		if err := markDone(t1Path, fmt.Sprintf("fills executed for %s", d)); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// PositionsSnapshot reports the persisted account's current holdings
// marked to the most recent NAV entry, for `paper positions` (spec
// §4.12's read-only counterpart).
type PositionsSnapshot struct {
	Cash      string                    `json:"cash"`
	Positions map[string]portfolio.Lot  `json:"positions"`
	LastNAV   *portfolio.NAVPoint       `json:"last_nav,omitempty"`
}

// Positions reads the persisted account/NAV state without running a
// tick, for CLI inspection.
func (r *Runner) Positions() (*PositionsSnapshot, error) {
	cash, positions, ok, err := LoadAccountState(r.paths.AccountPath())
	if err != nil {
		return nil, err
	}
	if !ok {
		return &PositionsSnapshot{Positions: map[string]portfolio.Lot{}}, nil
	}
	snap := &PositionsSnapshot{Cash: cash.String(), Positions: positions}
	nav, err := ReadNAV(r.paths.NAVPath())
	if err != nil {
		return nil, err
	}
	if len(nav) > 0 {
		last := nav[len(nav)-1]
		snap.LastNAV = &last
	}
	return snap, nil
}

// String pretty-prints a PositionsSnapshot for CLI output.
func (s *PositionsSnapshot) String() string {
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
