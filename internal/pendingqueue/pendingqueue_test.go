package pendingqueue

import (
	"testing"

	"github.com/lchen-trading/ashare-sim/internal/bar"
	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/costmodel"
	"github.com/lchen-trading/ashare-sim/internal/portfolio"
	"github.com/lchen-trading/ashare-sim/internal/priceindex"
	"github.com/lchen-trading/ashare-sim/internal/tradability"
	"github.com/shopspring/decimal"
)

func testCosts() *costmodel.Model {
	return costmodel.New(costmodel.Config{
		CommissionRate: decimal.NewFromFloat(0.0003),
		MinCommission:  decimal.NewFromFloat(5),
		StampTaxRate:   decimal.NewFromFloat(0.001),
		SlippageRate:   decimal.NewFromFloat(0.001),
	})
}

// TestRetry_S4ConsecutiveLimitDownDefersThenFills mirrors scenario S4:
// a sell is blocked by limit-down for two days, then fills once cleared.
func TestRetry_S4ConsecutiveLimitDownDefersThenFills(t *testing.T) {
	closeAt := func(c float64, limitDown bool) bar.Bar {
		return bar.Bar{Close: c, Open: c, CloseAdj: &c, Volume: 100, IsLimitDown: limitDown}
	}
	dates := []calendar.Date{"20230105", "20230106", "20230107", "20230108"}
	bars := []bar.Bar{}
	specs := []struct {
		d         calendar.Date
		c         float64
		limitDown bool
	}{
		{"20230105", 10, true},
		{"20230106", 9, true},
		{"20230107", 8.1, true},
		{"20230108", 8.2, false},
	}
	for _, s := range specs {
		b := closeAt(s.c, s.limitDown)
		b.Ticker = "T"
		b.Date = s.d
		bars = append(bars, b)
	}

	idx := priceindex.Build(bars, nil)
	trade := tradability.Build(bars)
	seq, err := calendar.NewSequence(dates)
	if err != nil {
		t.Fatal(err)
	}

	pf := portfolio.New(decimal.NewFromInt(100000), idx, testCosts())
	// Seed a position as of before the sequence starts, bypassing Buy's
	// own price lookup (buy date not in this fixture) by buying with a
	// synthetic extra bar would complicate the test; instead exercise the
	// queue directly against a pre-existing lot via a buy on day 1's open.
	if _, err := pf.Buy("T", decimal.NewFromInt(10000), "20230105", portfolio.PriceSourceOpen, 0, nil); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}

	q := New(Config{MaxRetries: 10, MaxRetryDays: 10}, nil)
	q.Enqueue(Order{Ticker: "T", Side: portfolio.SideSell, Reason: "stop_loss", SellType: portfolio.SellTypeStopLoss}, "20230106")

	res := q.Retry("20230106", seq, idx, trade, pf, testCosts(), portfolio.PriceSourceClose)
	if len(res) != 1 || res[0].Record != nil {
		t.Fatalf("expected a retry failure on limit-down day, got %+v", res)
	}
	if q.Len() != 1 {
		t.Fatalf("expected order to remain pending, queue len=%d", q.Len())
	}

	res = q.Retry("20230107", seq, idx, trade, pf, testCosts(), portfolio.PriceSourceClose)
	if len(res) != 1 || res[0].Record != nil {
		t.Fatalf("expected another retry failure on day 3 (still limit-down), got %+v", res)
	}

	res = q.Retry("20230108", seq, idx, trade, pf, testCosts(), portfolio.PriceSourceClose)
	if len(res) != 1 || res[0].Record == nil {
		t.Fatalf("expected fill once limit-down clears, got %+v", res)
	}
	if res[0].Record.SellType != portfolio.SellTypeStopLoss {
		t.Errorf("expected sell_type stop_loss, got %s", res[0].Record.SellType)
	}
	if q.Len() != 0 {
		t.Errorf("expected queue empty after fill, got %d", q.Len())
	}
}

func TestRetry_ExpiresPastMaxRetryDays(t *testing.T) {
	bars := []bar.Bar{
		{Ticker: "T", Date: "20230105", Close: 10, Open: 10, CloseAdj: f(10), Volume: 100, IsLimitDown: true},
		{Ticker: "T", Date: "20230106", Close: 9, Open: 9, CloseAdj: f(9), Volume: 100, IsLimitDown: true},
		{Ticker: "T", Date: "20230109", Close: 8, Open: 8, CloseAdj: f(8), Volume: 100, IsLimitDown: true},
	}
	idx := priceindex.Build(bars, nil)
	trade := tradability.Build(bars)
	seq, err := calendar.NewSequence([]calendar.Date{"20230105", "20230106", "20230109"})
	if err != nil {
		t.Fatal(err)
	}
	pf := portfolio.New(decimal.NewFromInt(100000), idx, testCosts())

	q := New(Config{MaxRetries: 10, MaxRetryDays: 1}, nil)
	q.Enqueue(Order{Ticker: "T", Side: portfolio.SideSell, Reason: "stop_loss"}, "20230105")

	res := q.Retry("20230109", seq, idx, trade, pf, testCosts(), portfolio.PriceSourceClose)
	if len(res) != 1 {
		t.Fatalf("expected one result, got %d", len(res))
	}
	if res[0].Err == nil {
		t.Fatal("expected expiry error")
	}
	if q.Len() != 0 {
		t.Errorf("expected expired order removed from queue, got len=%d", q.Len())
	}
}

func f(v float64) *float64 { return &v }
