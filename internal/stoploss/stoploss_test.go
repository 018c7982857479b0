package stoploss

import (
	"testing"

	"github.com/lchen-trading/ashare-sim/internal/bar"
	"github.com/lchen-trading/ashare-sim/internal/costmodel"
	"github.com/lchen-trading/ashare-sim/internal/portfolio"
	"github.com/lchen-trading/ashare-sim/internal/priceindex"
	"github.com/lchen-trading/ashare-sim/internal/tradability"
	"github.com/shopspring/decimal"
)

func f(v float64) *float64 { return &v }

func testCosts() *costmodel.Model {
	return costmodel.New(costmodel.Config{
		CommissionRate: decimal.NewFromFloat(0.0003),
		MinCommission:  decimal.NewFromFloat(5),
		StampTaxRate:   decimal.NewFromFloat(0.001),
		SlippageRate:   decimal.NewFromFloat(0.001),
	})
}

// TestUpdateAndCheck_S3DrawdownTrigger mirrors scenario S3: a position
// bought at 10 drops 12%, past a 10% drawdown threshold.
func TestUpdateAndCheck_S3DrawdownTrigger(t *testing.T) {
	bars := []bar.Bar{
		{Ticker: "T", Date: "20230105", Close: 10, Open: 10, CloseAdj: f(10), Volume: 1000},
		{Ticker: "T", Date: "20230106", Close: 8.8, Open: 8.8, CloseAdj: f(8.8), Volume: 1000},
	}
	idx := priceindex.Build(bars, nil)
	trade := tradability.Build(bars)
	pf := portfolio.New(decimal.NewFromInt(100000), idx, testCosts())

	if _, err := pf.Buy("T", decimal.NewFromInt(10000), "20230105", portfolio.PriceSourceClose, 0, nil); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}

	m := New(Config{Enabled: true, DrawdownPct: 10}, nil)
	m.Reconcile(pf)

	triggers := m.UpdateAndCheck("20230106", pf, idx, trade)
	if len(triggers) != 1 {
		t.Fatalf("expected one trigger, got %d", len(triggers))
	}
	if triggers[0].Kind != TriggerDrawdown {
		t.Errorf("expected drawdown trigger, got %s", triggers[0].Kind)
	}
}

func TestUpdateAndCheck_NoTriggerWithinBand(t *testing.T) {
	bars := []bar.Bar{
		{Ticker: "T", Date: "20230105", Close: 10, Open: 10, CloseAdj: f(10), Volume: 1000},
		{Ticker: "T", Date: "20230106", Close: 9.5, Open: 9.5, CloseAdj: f(9.5), Volume: 1000},
	}
	idx := priceindex.Build(bars, nil)
	trade := tradability.Build(bars)
	pf := portfolio.New(decimal.NewFromInt(100000), idx, testCosts())

	if _, err := pf.Buy("T", decimal.NewFromInt(10000), "20230105", portfolio.PriceSourceClose, 0, nil); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}

	m := New(Config{Enabled: true, DrawdownPct: 10}, nil)
	m.Reconcile(pf)

	triggers := m.UpdateAndCheck("20230106", pf, idx, trade)
	if len(triggers) != 0 {
		t.Fatalf("expected no triggers, got %+v", triggers)
	}
}

// TestUpdateAndCheck_TrailingFromHighWater verifies the trailing stop
// fires off the high-water mark, not the original buy price, once price
// has risen and then pulled back past the trailing band while staying
// within the drawdown band measured from the buy price.
func TestUpdateAndCheck_TrailingFromHighWater(t *testing.T) {
	bars := []bar.Bar{
		{Ticker: "T", Date: "20230105", Close: 10, Open: 10, CloseAdj: f(10), Volume: 1000},
		{Ticker: "T", Date: "20230106", Close: 15, Open: 15, CloseAdj: f(15), Volume: 1000},
		{Ticker: "T", Date: "20230109", Close: 12.5, Open: 12.5, CloseAdj: f(12.5), Volume: 1000},
	}
	idx := priceindex.Build(bars, nil)
	trade := tradability.Build(bars)
	pf := portfolio.New(decimal.NewFromInt(100000), idx, testCosts())

	if _, err := pf.Buy("T", decimal.NewFromInt(10000), "20230105", portfolio.PriceSourceClose, 0, nil); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}

	m := New(Config{Enabled: true, DrawdownPct: 30, TrailingEnabled: true, TrailingPct: 15}, nil)
	m.Reconcile(pf)

	triggers := m.UpdateAndCheck("20230106", pf, idx, trade)
	if len(triggers) != 0 {
		t.Fatalf("expected no trigger on the run-up day, got %+v", triggers)
	}
	state, ok := m.State("T")
	if !ok || !state.HighWaterPnLPrice.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected high water 15, got %+v", state)
	}

	triggers = m.UpdateAndCheck("20230109", pf, idx, trade)
	if len(triggers) != 1 {
		t.Fatalf("expected one trigger on pullback, got %d", len(triggers))
	}
	if triggers[0].Kind != TriggerTrailing {
		t.Errorf("expected trailing trigger, got %s", triggers[0].Kind)
	}
}

// TestUpdateAndCheck_ConsecutiveLimitDown mirrors scenario S4's trigger
// side: two consecutive limit-down closes, threshold configured to 2.
func TestUpdateAndCheck_ConsecutiveLimitDown(t *testing.T) {
	bars := []bar.Bar{
		{Ticker: "T", Date: "20230105", Close: 10, Open: 10, CloseAdj: f(10), Volume: 1000},
		{Ticker: "T", Date: "20230106", Close: 9, Open: 9, CloseAdj: f(9), Volume: 1000, IsLimitDown: true},
		{Ticker: "T", Date: "20230109", Close: 8.1, Open: 8.1, CloseAdj: f(8.1), Volume: 1000, IsLimitDown: true},
	}
	idx := priceindex.Build(bars, nil)
	trade := tradability.Build(bars)
	pf := portfolio.New(decimal.NewFromInt(100000), idx, testCosts())

	if _, err := pf.Buy("T", decimal.NewFromInt(10000), "20230105", portfolio.PriceSourceClose, 0, nil); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}

	// Disable drawdown/trailing so only the consecutive-limit-down rule
	// can fire, isolating the counter logic under test.
	m := New(Config{Enabled: true, DrawdownPct: 95, ConsecutiveLimitDownDays: 2}, nil)
	m.Reconcile(pf)

	triggers := m.UpdateAndCheck("20230106", pf, idx, trade)
	if len(triggers) != 0 {
		t.Fatalf("expected no trigger after one limit-down day, got %+v", triggers)
	}

	triggers = m.UpdateAndCheck("20230109", pf, idx, trade)
	if len(triggers) != 1 {
		t.Fatalf("expected trigger after two consecutive limit-down days, got %d", len(triggers))
	}
	if triggers[0].Kind != TriggerConsecutiveLimitDown {
		t.Errorf("expected consecutive_limit_down trigger, got %s", triggers[0].Kind)
	}
}

// TestUpdateAndCheck_PrecedenceDrawdownBeatsConsecutiveLimitDown checks
// that when both a drawdown breach and a limit-down streak are present
// on the same day, drawdown (the higher-precedence rule) is reported.
func TestUpdateAndCheck_PrecedenceDrawdownBeatsConsecutiveLimitDown(t *testing.T) {
	bars := []bar.Bar{
		{Ticker: "T", Date: "20230105", Close: 10, Open: 10, CloseAdj: f(10), Volume: 1000},
		{Ticker: "T", Date: "20230106", Close: 9, Open: 9, CloseAdj: f(9), Volume: 1000, IsLimitDown: true},
		{Ticker: "T", Date: "20230109", Close: 8.1, Open: 8.1, CloseAdj: f(8.1), Volume: 1000, IsLimitDown: true},
	}
	idx := priceindex.Build(bars, nil)
	trade := tradability.Build(bars)
	pf := portfolio.New(decimal.NewFromInt(100000), idx, testCosts())

	if _, err := pf.Buy("T", decimal.NewFromInt(10000), "20230105", portfolio.PriceSourceClose, 0, nil); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}

	m := New(Config{Enabled: true, DrawdownPct: 10, ConsecutiveLimitDownDays: 2}, nil)
	m.Reconcile(pf)

	m.UpdateAndCheck("20230106", pf, idx, trade)
	triggers := m.UpdateAndCheck("20230109", pf, idx, trade)
	if len(triggers) != 1 {
		t.Fatalf("expected one trigger, got %d", len(triggers))
	}
	if triggers[0].Kind != TriggerDrawdown {
		t.Errorf("expected drawdown to take precedence, got %s", triggers[0].Kind)
	}
}

func TestReconcile_PurgesClosedPositions(t *testing.T) {
	bars := []bar.Bar{
		{Ticker: "T", Date: "20230105", Close: 10, Open: 10, CloseAdj: f(10), Volume: 1000},
	}
	idx := priceindex.Build(bars, nil)
	pf := portfolio.New(decimal.NewFromInt(100000), idx, testCosts())

	if _, err := pf.Buy("T", decimal.NewFromInt(10000), "20230105", portfolio.PriceSourceClose, 0, nil); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}

	m := New(Config{Enabled: true, DrawdownPct: 10}, nil)
	m.Reconcile(pf)
	if _, ok := m.State("T"); !ok {
		t.Fatal("expected state initialized for open position")
	}

	if _, err := pf.Sell("T", "20230105", portfolio.PriceSourceClose, portfolio.SellTypeForced, "close", ""); err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	m.Reconcile(pf)
	if _, ok := m.State("T"); ok {
		t.Fatal("expected state purged after position closed")
	}
}

func TestDisabledMonitorNeverTriggers(t *testing.T) {
	bars := []bar.Bar{
		{Ticker: "T", Date: "20230105", Close: 10, Open: 10, CloseAdj: f(10), Volume: 1000},
		{Ticker: "T", Date: "20230106", Close: 1, Open: 1, CloseAdj: f(1), Volume: 1000},
	}
	idx := priceindex.Build(bars, nil)
	trade := tradability.Build(bars)
	pf := portfolio.New(decimal.NewFromInt(100000), idx, testCosts())

	if _, err := pf.Buy("T", decimal.NewFromInt(10000), "20230105", portfolio.PriceSourceClose, 0, nil); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}

	m := New(Config{Enabled: false, DrawdownPct: 10}, nil)
	m.Reconcile(pf)
	if triggers := m.UpdateAndCheck("20230106", pf, idx, trade); len(triggers) != 0 {
		t.Fatalf("expected no triggers while disabled, got %+v", triggers)
	}
}
