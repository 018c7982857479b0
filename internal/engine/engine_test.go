package engine

import (
	"testing"

	"github.com/lchen-trading/ashare-sim/internal/bar"
	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/costmodel"
	"github.com/lchen-trading/ashare-sim/internal/pendingqueue"
	"github.com/lchen-trading/ashare-sim/internal/portfolio"
	"github.com/lchen-trading/ashare-sim/internal/priceindex"
	"github.com/lchen-trading/ashare-sim/internal/scheduler"
	"github.com/lchen-trading/ashare-sim/internal/signal"
	"github.com/lchen-trading/ashare-sim/internal/stoploss"
	"github.com/lchen-trading/ashare-sim/internal/tradability"
	"github.com/shopspring/decimal"
)

func f(v float64) *float64 { return &v }

type fixedRanker struct {
	byDate map[calendar.Date][]signal.RankedCandidate
}

func (r fixedRanker) GenerateRanked(d calendar.Date, universe []string, features map[string]map[string]float64) []signal.RankedCandidate {
	return r.byDate[d]
}

func testCosts() *costmodel.Model {
	return costmodel.New(costmodel.Config{
		CommissionRate: decimal.NewFromFloat(0.0003),
		MinCommission:  decimal.NewFromFloat(5),
		StampTaxRate:   decimal.NewFromFloat(0.001),
		SlippageRate:   decimal.NewFromFloat(0.001),
	})
}

// TestTick_FullCycleBuyHoldExit drives a minimal two-ticker universe
// through a rebalance day, a holding-period exit, and mark-to-market,
// exercising the full §4.11 ordering end to end.
func TestTick_FullCycleBuyHoldExit(t *testing.T) {
	dates := []calendar.Date{"20230103", "20230104", "20230105"}
	bars := []bar.Bar{
		{Ticker: "A", Date: "20230103", Close: 10, Open: 10, CloseAdj: f(10), Volume: 1000},
		{Ticker: "A", Date: "20230104", Close: 10.5, Open: 10.5, CloseAdj: f(10.5), Volume: 1000},
		{Ticker: "A", Date: "20230105", Close: 11, Open: 11, CloseAdj: f(11), Volume: 1000},
	}
	idx := priceindex.Build(bars, nil)
	trade := tradability.Build(bars)
	seq, err := calendar.NewSequence(dates)
	if err != nil {
		t.Fatalf("sequence build failed: %v", err)
	}

	pf := portfolio.New(decimal.NewFromInt(100000), idx, testCosts())
	pq := pendingqueue.New(pendingqueue.Config{MaxRetries: 5, MaxRetryDays: 5}, nil)
	sl := stoploss.New(stoploss.Config{Enabled: true, DrawdownPct: 50}, nil)
	sch := scheduler.New(scheduler.Config{RebalanceFreq: 1})

	ranker := fixedRanker{byDate: map[calendar.Date][]signal.RankedCandidate{
		"20230103": {{Ticker: "A", Score: 1.0}},
	}}
	sp := signal.New(signal.Config{TopN: 1, WeightMethod: signal.WeightEqual}, ranker, nil, nil, nil)

	eng := New(Config{
		BuyPriceSource:    portfolio.PriceSourceClose,
		SellPriceSource:   portfolio.PriceSourceClose,
		HoldingPeriodDays: 1,
	}, pf, pq, sl, sch, sp, idx, trade, testCosts(), seq, []string{"A"}, nil, nil)

	// D=20230103: rebalance day, signal generated, no fill yet (fills lag
	// one day behind the signal per spec's T/T+1 convention).
	eng.Tick("20230103")
	if _, held := pf.Position("A"); held {
		t.Fatal("expected no fill on the signal-generation day itself")
	}

	// D=20230104: T+1 fill executes using yesterday's target weights.
	eng.Tick("20230104")
	lot, held := pf.Position("A")
	if !held {
		t.Fatal("expected A filled on T+1")
	}
	wantExit := calendar.Date("20230105")
	if lot.ExitDueDate == nil || *lot.ExitDueDate != wantExit {
		t.Errorf("expected exit_due_date %s, got %v", wantExit, lot.ExitDueDate)
	}

	// D=20230105: holding-period exit fires.
	eng.Tick("20230105")
	if _, stillHeld := pf.Position("A"); stillHeld {
		t.Fatal("expected A closed by holding-period exit on its due date")
	}

	history := eng.NAVHistory()
	if len(history) != 3 {
		t.Fatalf("expected 3 NAV points, got %d", len(history))
	}
}

// TestTick_StopLossDeferredWhenLimitDown checks that a stop-loss trigger
// against an untradable ticker is enqueued rather than sold same day.
func TestTick_StopLossDeferredWhenLimitDown(t *testing.T) {
	dates := []calendar.Date{"20230103", "20230104", "20230105"}
	bars := []bar.Bar{
		{Ticker: "A", Date: "20230103", Close: 10, Open: 10, CloseAdj: f(10), Volume: 1000},
		{Ticker: "A", Date: "20230104", Close: 8, Open: 8, CloseAdj: f(8), Volume: 1000, IsLimitDown: true},
		{Ticker: "A", Date: "20230105", Close: 8.1, Open: 8.1, CloseAdj: f(8.1), Volume: 1000},
	}
	idx := priceindex.Build(bars, nil)
	trade := tradability.Build(bars)
	seq, err := calendar.NewSequence(dates)
	if err != nil {
		t.Fatalf("sequence build failed: %v", err)
	}

	pf := portfolio.New(decimal.NewFromInt(100000), idx, testCosts())
	if _, err := pf.Buy("A", decimal.NewFromInt(10000), "20230103", portfolio.PriceSourceClose, 100, seq); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}

	pq := pendingqueue.New(pendingqueue.Config{MaxRetries: 5, MaxRetryDays: 5}, nil)
	sl := stoploss.New(stoploss.Config{Enabled: true, DrawdownPct: 10}, nil)
	sch := scheduler.New(scheduler.Config{RebalanceFreq: 100})
	sp := signal.New(signal.Config{TopN: 1, WeightMethod: signal.WeightEqual}, fixedRanker{}, nil, nil, nil)

	eng := New(Config{
		BuyPriceSource:  portfolio.PriceSourceClose,
		SellPriceSource: portfolio.PriceSourceClose,
	}, pf, pq, sl, sch, sp, idx, trade, testCosts(), seq, []string{"A"}, nil, nil)

	// D=20230104: drawdown trigger fires but the ticker is limit-down, so
	// the sell must defer rather than execute same day.
	eng.Tick("20230104")
	if _, held := pf.Position("A"); !held {
		t.Fatal("expected A still held: stop-loss sell must not execute same day when untradable")
	}
	if pq.Len() != 1 {
		t.Fatalf("expected one deferred sell order, got %d", pq.Len())
	}

	// D=20230105: limit-down clears, the deferred sell should fill via
	// the pending-queue retry at the start of the next tick.
	eng.Tick("20230105")
	if _, held := pf.Position("A"); held {
		t.Fatal("expected deferred stop-loss sell to fill once tradable")
	}
	if pq.Len() != 0 {
		t.Errorf("expected pending queue drained, got %d", pq.Len())
	}
}

// TestTick_StopLossDeferredEvenWhenTradable mirrors spec.md's worked
// example S3: the trigger condition is first satisfied on a day that is
// NOT limit-down or otherwise untradable, yet the position must still
// sell one trading day later, never same-day.
func TestTick_StopLossDeferredEvenWhenTradable(t *testing.T) {
	dates := []calendar.Date{"20230103", "20230104", "20230105"}
	bars := []bar.Bar{
		{Ticker: "A", Date: "20230103", Close: 10, Open: 10, CloseAdj: f(10), Volume: 1000},
		{Ticker: "A", Date: "20230104", Close: 8, Open: 8, CloseAdj: f(8), Volume: 1000},
		{Ticker: "A", Date: "20230105", Close: 8.1, Open: 8.1, CloseAdj: f(8.1), Volume: 1000},
	}
	idx := priceindex.Build(bars, nil)
	trade := tradability.Build(bars)
	seq, err := calendar.NewSequence(dates)
	if err != nil {
		t.Fatalf("sequence build failed: %v", err)
	}

	pf := portfolio.New(decimal.NewFromInt(100000), idx, testCosts())
	if _, err := pf.Buy("A", decimal.NewFromInt(10000), "20230103", portfolio.PriceSourceClose, 100, seq); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}

	pq := pendingqueue.New(pendingqueue.Config{MaxRetries: 5, MaxRetryDays: 5}, nil)
	sl := stoploss.New(stoploss.Config{Enabled: true, DrawdownPct: 10}, nil)
	sch := scheduler.New(scheduler.Config{RebalanceFreq: 100})
	sp := signal.New(signal.Config{TopN: 1, WeightMethod: signal.WeightEqual}, fixedRanker{}, nil, nil, nil)

	eng := New(Config{
		BuyPriceSource:  portfolio.PriceSourceClose,
		SellPriceSource: portfolio.PriceSourceClose,
	}, pf, pq, sl, sch, sp, idx, trade, testCosts(), seq, []string{"A"}, nil, nil)

	// D=20230104: drawdown trigger fires and the ticker IS tradable, but
	// the sell must still defer to the next trading day.
	eng.Tick("20230104")
	if _, held := pf.Position("A"); !held {
		t.Fatal("expected A still held: stop-loss sell never executes same day, even when tradable")
	}
	if pq.Len() != 1 {
		t.Fatalf("expected one deferred sell order, got %d", pq.Len())
	}

	// D=20230105: the deferred sell fills one trading day later.
	eng.Tick("20230105")
	if _, held := pf.Position("A"); held {
		t.Fatal("expected deferred stop-loss sell to fill on the next trading day")
	}
}
