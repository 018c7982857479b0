// Package engine implements the per-tick state machine that drives one
// simulated trading day through retries, stop-loss checks,
// holding-period exits, T+1 fills, and rebalancing, per spec §4.11.
//
// Grounded on cmd/engine/main.go's orchestration shape: a sequence of
// numbered steps, each logging what it did and skipping (not aborting)
// on a per-ticker failure, the same policy main.go's RunMarketHourJobs
// applies to individual job failures. The teacher wires engine.main
// directly to broker/risk/strategy packages inside func main; this
// package makes the equivalent tick loop a reusable, dependency-injected
// type so both the backtest driver and PaperRunner (spec §4.12) can
// drive it identically.
package engine

import (
	"log"

	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/costmodel"
	"github.com/lchen-trading/ashare-sim/internal/equitycurve"
	"github.com/lchen-trading/ashare-sim/internal/errs"
	"github.com/lchen-trading/ashare-sim/internal/pendingqueue"
	"github.com/lchen-trading/ashare-sim/internal/portfolio"
	"github.com/lchen-trading/ashare-sim/internal/priceindex"
	"github.com/lchen-trading/ashare-sim/internal/riskguard"
	"github.com/lchen-trading/ashare-sim/internal/scheduler"
	"github.com/lchen-trading/ashare-sim/internal/signal"
	"github.com/lchen-trading/ashare-sim/internal/stoploss"
	"github.com/lchen-trading/ashare-sim/internal/tradability"
	"github.com/shopspring/decimal"
)

// Config holds the tick loop's fill-timing and holding-period
// parameters, mirroring the remaining top-level config.json fields in
// spec §6 not already owned by a sub-component's own Config.
type Config struct {
	BuyPriceSource        portfolio.PriceSource
	SellPriceSource       portfolio.PriceSource
	HoldingPeriodDays     int
	EquityCurveApplyScope equitycurve.ApplyScope
}

// Engine wires every sub-component together and exposes a single Tick
// entry point, mirroring spec §4.11's state tuple (portfolio,
// pending_queue, stop_loss, scheduler, nav_history).
type Engine struct {
	cfg          Config
	portfolio    *portfolio.Portfolio
	pendingQueue *pendingqueue.Queue
	stopLoss     *stoploss.Monitor
	scheduler    *scheduler.Scheduler
	signal       *signal.Pipeline
	prices       *priceindex.Index
	trade        *tradability.Map
	costs        *costmodel.Model
	guard        *riskguard.Guard
	seq          *calendar.Sequence
	universe     []string
	features     map[calendar.Date]map[string]map[string]float64

	pendingWeights map[string]float64 // target weights keyed for the next tick's D+1 fill
	logger         *log.Logger
}

// New assembles an Engine from its fully constructed sub-components.
// features supplies, per signal date, the per-ticker feature map the
// Ranker consumes; it is read-only and owned by the caller.
func New(
	cfg Config,
	pf *portfolio.Portfolio,
	pq *pendingqueue.Queue,
	sl *stoploss.Monitor,
	sch *scheduler.Scheduler,
	sp *signal.Pipeline,
	prices *priceindex.Index,
	trade *tradability.Map,
	costs *costmodel.Model,
	seq *calendar.Sequence,
	universe []string,
	features map[calendar.Date]map[string]map[string]float64,
	logger *log.Logger,
) *Engine {
	return &Engine{
		cfg:          cfg,
		portfolio:    pf,
		pendingQueue: pq,
		stopLoss:     sl,
		scheduler:    sch,
		signal:       sp,
		prices:       prices,
		trade:        trade,
		costs:        costs,
		seq:          seq,
		universe:     universe,
		features:     features,
		logger:       logger,
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// Tick advances the simulation by one trading day, per spec §4.11's
// state-transition pseudocode. It panics only on a corruption-class
// error (negative total portfolio value, negative shares); all other per-ticker failures are
// logged and skipped, keeping the tick alive.
func (e *Engine) Tick(d calendar.Date) portfolio.NAVPoint {
	e.retryPending(d)
	e.runStopLossChecks(d)
	e.runHoldingPeriodExits(d)
	e.runPendingFills(d)

	if e.scheduler.IsRebalanceDay(d, e.seq) {
		tr := signal.Tranche{
			Index: e.scheduler.CurrentTranche(),
			Total: e.scheduler.TotalTranches(),
			Scope: e.cfg.EquityCurveApplyScope,
		}
		weights := e.signal.Run(d, e.universe, e.features[d], e.prices, e.trade, e.portfolio, e.seq, tr)
		e.pendingWeights = weights
		e.scheduler.Mark(d)
		e.logf("engine: %s rebalance complete, %d target weights stored for next fill", d, len(weights))
	}

	point := e.portfolio.MarkToMarket(d)
	e.stopLoss.Reconcile(e.portfolio)
	e.checkCorruption(point)
	return point
}

func (e *Engine) retryPending(d calendar.Date) {
	results := e.pendingQueue.Retry(d, e.seq, e.prices, e.trade, e.portfolio, e.costs, e.cfg.SellPriceSource)
	for _, r := range results {
		if r.Err != nil {
			e.logf("engine: %s pending retry for %s %s: %v", d, r.Order.Side, r.Order.Ticker, r.Err)
		} else {
			e.logf("engine: %s pending retry filled %s %s", d, r.Order.Side, r.Order.Ticker)
		}
	}
}

// runStopLossChecks enqueues a sell for every ticker whose stop-loss
// triggers on d. A stop-loss sell never executes same-day — it always
// goes through the pending queue for the next trading day, even when d
// itself is tradable (spec §4.6: "On trigger: enqueue a next-trading-day
// sell... The sell does not execute same-day"). This is the one place
// that differs from the holding-period exit below, which does sell
// same-day when tradable.
func (e *Engine) runStopLossChecks(d calendar.Date) {
	triggers := e.stopLoss.UpdateAndCheck(d, e.portfolio, e.prices, e.trade)
	for _, tr := range triggers {
		e.pendingQueue.Enqueue(pendingqueue.Order{
			Ticker:          tr.Ticker,
			Side:            portfolio.SideSell,
			Reason:          "stop_loss-deferred",
			SellType:        portfolio.SellTypeStopLoss,
			StopLossTrigger: string(tr.Kind),
		}, d)
		e.logf("engine: %s stop-loss sell deferred to next trading day for %s (%s)", d, tr.Ticker, tr.Kind)
	}
}

func (e *Engine) runHoldingPeriodExits(d calendar.Date) {
	for _, ticker := range e.portfolio.Positions() {
		lot, ok := e.portfolio.Position(ticker)
		if !ok || lot.ExitDueDate == nil || *lot.ExitDueDate != d {
			continue
		}
		if e.trade.CanSell(d, ticker) {
			_, err := e.portfolio.Sell(ticker, d, e.cfg.SellPriceSource, portfolio.SellTypeHoldingPeriod, "holding period exit", "")
			if err != nil {
				e.logf("engine: %s holding-period exit failed for %s: %v", d, ticker, err)
			} else {
				e.logf("engine: %s holding-period exit executed for %s", d, ticker)
			}
			continue
		}
		e.pendingQueue.Enqueue(pendingqueue.Order{
			Ticker:   ticker,
			Side:     portfolio.SideSell,
			Reason:   "holding_period-deferred",
			SellType: portfolio.SellTypeHoldingPeriod,
		}, d)
		e.logf("engine: %s holding-period exit deferred for %s (untradable)", d, ticker)
	}
}

func (e *Engine) runPendingFills(d calendar.Date) {
	if len(e.pendingWeights) == 0 {
		return
	}
	cash := e.portfolio.Cash()
	marketValue := decimal.Zero
	for _, ticker := range e.portfolio.Positions() {
		lot, _ := e.portfolio.Position(ticker)
		price, ok := e.prices.PnLPrice(d, ticker)
		if ok {
			marketValue = marketValue.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(lot.Shares)))
		}
	}
	basis := cash.Add(marketValue)

	var dailyReturn float64
	if nav := e.portfolio.NAVHistory(); len(nav) > 0 {
		dailyReturn = nav[len(nav)-1].DailyReturn
	}

	for _, ticker := range signal.SortedWeightKeys(e.pendingWeights) {
		w := e.pendingWeights[ticker]
		targetNotional := basis.Mul(decimal.NewFromFloat(w))
		if !e.trade.CanBuy(d, ticker) {
			e.logf("engine: %s skip buy %s: not tradable (signal not enqueued, dropped)", d, ticker)
			continue
		}
		if e.guard != nil {
			if rej := e.guard.Check(targetNotional, marketValue, basis, len(e.portfolio.Positions()), dailyReturn); rej != nil {
				e.logf("engine: %s skip buy %s: %v", d, ticker, rej)
				continue
			}
		}
		_, err := e.portfolio.Buy(ticker, targetNotional, d, e.cfg.BuyPriceSource, e.cfg.HoldingPeriodDays, e.seq)
		if err != nil {
			e.logf("engine: %s buy %s failed: %v", d, ticker, err)
			continue
		}
		e.logf("engine: %s buy executed for %s (target_notional=%s)", d, ticker, targetNotional)
	}
	e.pendingWeights = nil
}

func (e *Engine) checkCorruption(point portfolio.NAVPoint) {
	if point.TotalValue.IsNegative() {
		panic(errs.Newf(errs.KindCorruption, "negative total portfolio value on %s: %s", point.Date, point.TotalValue))
	}
	for _, ticker := range e.portfolio.Positions() {
		lot, _ := e.portfolio.Position(ticker)
		if lot.Shares < 0 {
			panic(errs.ForTicker(errs.KindCorruption, ticker, "negative share count"))
		}
	}
}

// NAVHistory exposes the accumulated NAV curve for reporting.
func (e *Engine) NAVHistory() []portfolio.NAVPoint { return e.portfolio.NAVHistory() }

// TradeLog exposes the accumulated trade log for reporting.
func (e *Engine) TradeLog() []portfolio.TradeRecord { return e.portfolio.TradeLog() }

// Portfolio exposes the underlying Portfolio for PaperRunner's
// persistence layer (spec §4.12), which needs direct read access beyond
// what the tick loop itself returns.
func (e *Engine) Portfolio() *portfolio.Portfolio { return e.portfolio }

// PendingQueue exposes the underlying queue for persistence.
func (e *Engine) PendingQueue() *pendingqueue.Queue { return e.pendingQueue }

// StopLoss exposes the underlying monitor for persistence.
func (e *Engine) StopLoss() *stoploss.Monitor { return e.stopLoss }

// Scheduler exposes the underlying scheduler for persistence.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

// PendingWeights returns the target weight set awaiting its T+1 fill,
// for persistence between paper-mode invocations.
func (e *Engine) PendingWeights() map[string]float64 { return e.pendingWeights }

// LoadPendingWeights restores a target weight set persisted by a prior
// paper-mode invocation.
func (e *Engine) LoadPendingWeights(weights map[string]float64) { e.pendingWeights = weights }

// SetRiskGuard wires a portfolio-level hard-cap guard that runs before
// every T+1 buy in runPendingFills. Optional: a nil guard (the default)
// leaves the engine's behavior exactly per spec §4.11's pseudocode, with
// no caps beyond what SignalPipeline/EquityCurveController already
// impose on the weight set itself.
func (e *Engine) SetRiskGuard(g *riskguard.Guard) { e.guard = g }
