// Package main is the backtest entry point: a single-verb CLI that
// replays the whole engine.Engine across a full calendar.Sequence in one
// process and prints a performance report, the full-history counterpart
// to cmd/paper's one-day-at-a-time runs.
//
// Grounded on the teacher's cmd/engine/main.go runBacktest (same idea —
// scan the available history, replay day by day, accumulate trades,
// print a summary) but sourcing bars/features from the Postgres-backed
// internal/marketdata store this repo uses everywhere else instead of
// the teacher's ai_outputs/ JSON-per-day directory scan, and using
// flag.Parse() rather than cobra since, like the teacher's own
// entrypoint, this is one verb with a flat set of flags, not a command
// tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/lchen-trading/ashare-sim/internal/analytics"
	"github.com/lchen-trading/ashare-sim/internal/bar"
	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/config"
	"github.com/lchen-trading/ashare-sim/internal/costmodel"
	"github.com/lchen-trading/ashare-sim/internal/engine"
	"github.com/lchen-trading/ashare-sim/internal/equitycurve"
	"github.com/lchen-trading/ashare-sim/internal/marketdata"
	"github.com/lchen-trading/ashare-sim/internal/pendingqueue"
	"github.com/lchen-trading/ashare-sim/internal/portfolio"
	"github.com/lchen-trading/ashare-sim/internal/priceindex"
	"github.com/lchen-trading/ashare-sim/internal/ranker"
	"github.com/lchen-trading/ashare-sim/internal/riskbudget"
	"github.com/lchen-trading/ashare-sim/internal/riskguard"
	"github.com/lchen-trading/ashare-sim/internal/scheduler"
	"github.com/lchen-trading/ashare-sim/internal/signal"
	"github.com/lchen-trading/ashare-sim/internal/stoploss"
	"github.com/lchen-trading/ashare-sim/internal/tradability"
	"github.com/shopspring/decimal"
)

// defaultRankerWeights mirrors cmd/paper's factor vocabulary so the two
// entrypoints score the same way by default.
var defaultRankerWeights = map[string]float64{
	"momentum_score":       0.3,
	"trend_strength_score": 0.3,
	"mean_reversion_score": 0.15,
	"macd_score":           0.15,
	"bollinger_score":      0.1,
}

func main() {
	configPath := flag.String("config", "config.json", "path to a config.json matching config.Config")
	calendarPath := flag.String("calendar", "", "trading-calendar JSON file (ordered YYYYMMDD strings); defaults to config.json's market_calendar_path")
	universeFlag := flag.String("universe", "", "comma-separated ticker universe (required)")
	from := flag.String("from", "", "first trade date to replay, YYYYMMDD (defaults to the calendar's first date)")
	to := flag.String("to", "", "last trade date to replay, YYYYMMDD (defaults to the calendar's last date)")
	flag.Parse()

	logger := log.New(os.Stdout, "[backtest] ", log.LstdFlags)

	universe := splitUniverse(*universeFlag)
	if len(universe) == 0 {
		logger.Fatal("--universe is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	calPath := *calendarPath
	if calPath == "" {
		calPath = cfg.MarketCalendarPath
	}
	if calPath == "" {
		logger.Fatal("no trading-calendar path (--calendar or config.json's market_calendar_path)")
	}
	fullSeq, err := calendar.LoadSequence(calPath)
	if err != nil {
		logger.Fatalf("load trading calendar: %v", err)
	}

	seq, err := windowSequence(fullSeq, *from, *to)
	if err != nil {
		logger.Fatalf("window calendar: %v", err)
	}
	logger.Printf("replaying %d trading days: %s to %s", seq.Len(), seq.First(), seq.Last())

	ctx := context.Background()
	bars, features := loadHistory(ctx, cfg, fullSeq, seq, universe, logger)

	prices := priceindex.Build(bars, logger)
	trade := tradability.Build(bars)
	costs := costmodel.New(costmodel.Config{
		CommissionRate: decimal.NewFromFloat(cfg.Fees.CommissionRate),
		MinCommission:  decimal.NewFromFloat(cfg.Fees.MinCommission),
		StampTaxRate:   decimal.NewFromFloat(cfg.Fees.StampTaxRate),
		SlippageRate:   decimal.NewFromFloat(cfg.Fees.SlippageRate),
	})

	pf := portfolio.New(decimal.NewFromFloat(cfg.InitialCapital), prices, costs)

	sl := stoploss.New(stoploss.Config{
		Enabled:                  cfg.StopLossEnabled,
		DrawdownPct:              cfg.StopLossDrawdownPct,
		TrailingEnabled:          cfg.StopLossTrailingEnabled,
		TrailingPct:              cfg.StopLossTrailingPct,
		ConsecutiveLimitDownDays: cfg.StopLossConsecutiveLimitDown,
	}, logger)

	pq := pendingqueue.New(pendingqueue.Config{MaxRetries: cfg.PendingMaxRetries, MaxRetryDays: cfg.PendingMaxRetryDays}, logger)
	sch := scheduler.New(scheduler.Config{RebalanceFreq: cfg.RebalanceFreq, BatchTranches: cfg.BatchRebalanceTranches})

	var ec *equitycurve.Controller
	if cfg.EquityCurveEnabled {
		e := cfg.EquityCurve
		ec = equitycurve.New(equitycurve.Config{
			Enabled:              true,
			Brackets:             e.Brackets,
			MAShortWindow:        e.MAShortWindow,
			MALongWindow:         e.MALongWindow,
			MAExposureOn:         e.MAExposureOn,
			MAExposureOff:        e.MAExposureOff,
			MinExposure:          e.MinExposure,
			MaxExposure:          e.MaxExposure,
			RecoveryMode:         e.RecoveryMode,
			RecoveryDelayPeriods: e.RecoveryDelayPeriods,
			RecoveryStep:         e.RecoveryStep,
		}, logger)
	}
	var rb *riskbudget.Scaler
	if cfg.RiskBudgetEnabled {
		rb = riskbudget.New(riskbudget.Config{Enabled: true, VolWindow: cfg.VolWindow, VolEpsilon: cfg.VolEpsilon, TradingDaysPerYear: 252}, logger)
	}

	rk := ranker.New(ranker.Config{Weights: defaultRankerWeights}, logger)
	sp := signal.New(signal.Config{TopN: cfg.TopN, WeightMethod: signal.WeightMethod(cfg.WeightMethod)}, rk, ec, rb, logger)

	eng := engine.New(engine.Config{
		BuyPriceSource:        portfolio.PriceSource(cfg.BuyPrice),
		SellPriceSource:       portfolio.PriceSource(cfg.SellPrice),
		HoldingPeriodDays:     cfg.HoldingPeriodDays,
		EquityCurveApplyScope: cfg.EquityCurveApplyScope,
	}, pf, pq, sl, sch, sp, prices, trade, costs, seq, universe, features, logger)

	if cfg.RiskGuard.Enabled {
		eng.SetRiskGuard(riskguard.New(riskguard.Config{
			Enabled:                 true,
			MaxOpenPositions:        cfg.RiskGuard.MaxOpenPositions,
			MaxDailyLossPct:         cfg.RiskGuard.MaxDailyLossPct,
			MaxCapitalDeploymentPct: cfg.RiskGuard.MaxCapitalDeploymentPct,
		}))
	}

	var navHistory []portfolio.NAVPoint
	for _, d := range seq.All() {
		navHistory = append(navHistory, eng.Tick(d))
	}

	report := analytics.Analyze(navHistory, eng.TradeLog())
	fmt.Println(analytics.FormatReport(report))
}

func splitUniverse(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if tok := s[start:i]; tok != "" {
				out = append(out, tok)
			}
			start = i + 1
		}
	}
	return out
}

// windowSequence restricts fullSeq to [from, to], both optional and
// inclusive, returning a new Sequence over that sub-range.
func windowSequence(fullSeq *calendar.Sequence, from, to string) (*calendar.Sequence, error) {
	dates := fullSeq.All()
	start, end := 0, len(dates)-1
	if from != "" {
		d, err := calendar.ParseDate(from)
		if err != nil {
			return nil, fmt.Errorf("--from: %w", err)
		}
		i, ok := fullSeq.IndexOf(d)
		if !ok {
			return nil, fmt.Errorf("--from %s is not a trading day in the calendar", d)
		}
		start = i
	}
	if to != "" {
		d, err := calendar.ParseDate(to)
		if err != nil {
			return nil, fmt.Errorf("--to: %w", err)
		}
		i, ok := fullSeq.IndexOf(d)
		if !ok {
			return nil, fmt.Errorf("--to %s is not a trading day in the calendar", d)
		}
		end = i
	}
	if start > end {
		return nil, fmt.Errorf("--from is after --to")
	}
	return calendar.NewSequence(dates[start : end+1])
}

// loadHistory pulls every bar the replay window could need (lagging the
// window's start far enough back to prime indicator/risk-budget lookback
// windows) and the per-day feature rows for each replayed date, from the
// same Postgres-backed store cmd/paper uses.
//
// lookbackDays mirrors internal/paperrunner's: one year of trading days
// comfortably covers the longest trailing window (risk_budget's
// vol_window, spec §6) this repo computes.
const lookbackDays = 280

func loadHistory(ctx context.Context, cfg *config.Config, fullSeq, seq *calendar.Sequence, universe []string, logger *log.Logger) ([]bar.Bar, map[calendar.Date]map[string]map[string]float64) {
	barStore, err := marketdata.NewBarStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("connect bar store: %v", err)
	}
	defer barStore.Close()
	featureStore, err := marketdata.NewFeatureStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("connect feature store: %v", err)
	}
	defer featureStore.Close()

	from, ok := fullSeq.Add(seq.First(), -lookbackDays)
	if !ok {
		from = fullSeq.First()
	}
	bars, err := barStore.LoadRange(ctx, universe, from, seq.Last())
	if err != nil {
		logger.Fatalf("load bars: %v", err)
	}
	logger.Printf("loaded %d bars for %d tickers from %s to %s", len(bars), len(universe), from, seq.Last())

	names := rankerFeatureNames()
	features := make(map[calendar.Date]map[string]map[string]float64, seq.Len())
	for _, d := range seq.All() {
		rows, err := featureStore.LoadDay(ctx, d, names)
		if err != nil {
			logger.Fatalf("load features for %s: %v", d, err)
		}
		features[d] = rows
	}
	return bars, features
}

func rankerFeatureNames() []string {
	names := make([]string, 0, len(defaultRankerWeights))
	for k := range defaultRankerWeights {
		names = append(names, k)
	}
	return names
}
