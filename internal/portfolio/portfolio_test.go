package portfolio

import (
	"testing"

	"github.com/lchen-trading/ashare-sim/internal/bar"
	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/costmodel"
	"github.com/lchen-trading/ashare-sim/internal/priceindex"
	"github.com/shopspring/decimal"
)

func s1Bars() []bar.Bar {
	closes := map[calendar.Date]float64{
		"20230103": 10, "20230104": 10, "20230105": 10, "20230106": 10,
		"20230109": 10, "20230110": 10, "20230111": 12,
	}
	var bars []bar.Bar
	for d, c := range closes {
		bars = append(bars, bar.Bar{Ticker: "T", Date: d, Close: c, Open: c, CloseAdj: &c, Volume: 1000})
	}
	return bars
}

func s1CostModel() *costmodel.Model {
	return costmodel.New(costmodel.Config{
		CommissionRate: decimal.NewFromFloat(0.0003),
		MinCommission:  decimal.NewFromFloat(5),
		StampTaxRate:   decimal.NewFromFloat(0.001),
		SlippageRate:   decimal.NewFromFloat(0.001),
	})
}

func TestBuySell_S1SingleRoundTrip(t *testing.T) {
	idx := priceindex.Build(s1Bars(), nil)
	seq, err := calendar.NewSequence([]calendar.Date{
		"20230103", "20230104", "20230105", "20230106", "20230109", "20230110", "20230111",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Buy requires cash >= notional + fee: 100000 notional plus 130 of
	// buy-leg fees, so the account starts with a little more than 100000.
	p := New(decimal.NewFromInt(101000), idx, s1CostModel())

	rec, err := p.Buy("T", decimal.NewFromInt(100000), "20230104", PriceSourceClose, 5, seq)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if rec.Shares != 10000 {
		t.Errorf("expected 10000 shares, got %d", rec.Shares)
	}
	// notional 100000: commission 100000*0.0003=30, slippage 100000*0.001=100,
	// no stamp tax on a buy.
	if !rec.Commission.Equal(decimal.NewFromFloat(30)) {
		t.Errorf("expected buy commission 30, got %s", rec.Commission)
	}
	if !rec.StampTax.Equal(decimal.Zero) {
		t.Errorf("expected zero stamp tax on a buy, got %s", rec.StampTax)
	}
	if !rec.Slippage.Equal(decimal.NewFromFloat(100)) {
		t.Errorf("expected buy slippage 100, got %s", rec.Slippage)
	}

	lot, ok := p.Position("T")
	if !ok {
		t.Fatal("expected open lot")
	}
	wantExit := calendar.Date("20230111")
	if lot.ExitDueDate == nil || *lot.ExitDueDate != wantExit {
		t.Errorf("expected exit_due_date %s, got %v", wantExit, lot.ExitDueDate)
	}

	sellRec, err := p.Sell("T", "20230111", PriceSourceClose, SellTypeHoldingPeriod, "holding period exit", "")
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if sellRec.PnLProfitAmount.LessThanOrEqual(decimal.Zero) {
		t.Errorf("expected positive profit, got %s", sellRec.PnLProfitAmount)
	}
	// sell notional 12*10000=120000: commission 36, stamp tax 120, slippage 120.
	if !sellRec.Commission.Equal(decimal.NewFromFloat(36)) {
		t.Errorf("expected sell commission 36, got %s", sellRec.Commission)
	}
	if !sellRec.StampTax.Equal(decimal.NewFromFloat(120)) {
		t.Errorf("expected sell stamp tax 120, got %s", sellRec.StampTax)
	}
	if !sellRec.Slippage.Equal(decimal.NewFromFloat(120)) {
		t.Errorf("expected sell slippage 120, got %s", sellRec.Slippage)
	}

	if _, stillOpen := p.Position("T"); stillOpen {
		t.Error("expected lot to be closed after sell")
	}

	point := p.MarkToMarket("20230111")
	if point.NAV <= 1.0 {
		t.Errorf("expected NAV > 1.0 after profitable round trip, got %v", point.NAV)
	}
}

func TestBuy_RejectsDuplicateLot(t *testing.T) {
	idx := priceindex.Build(s1Bars(), nil)
	p := New(decimal.NewFromInt(100000), idx, s1CostModel())

	if _, err := p.Buy("T", decimal.NewFromInt(50000), "20230104", PriceSourceClose, 0, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Buy("T", decimal.NewFromInt(10000), "20230105", PriceSourceClose, 0, nil); err == nil {
		t.Fatal("expected rejection of second buy on an already-open ticker")
	}
}

func TestBuy_RejectsBelowOneRoundLot(t *testing.T) {
	idx := priceindex.Build(s1Bars(), nil)
	p := New(decimal.NewFromInt(100000), idx, s1CostModel())

	// 10 * 99 = 990 notional buys 99 shares at price 10, below one lot of 100.
	if _, err := p.Buy("T", decimal.NewFromInt(990), "20230104", PriceSourceClose, 0, nil); err == nil {
		t.Fatal("expected insufficient-notional rejection")
	}
}

func TestBuy_RejectsInsufficientCash(t *testing.T) {
	idx := priceindex.Build(s1Bars(), nil)
	p := New(decimal.NewFromInt(100), idx, s1CostModel())

	if _, err := p.Buy("T", decimal.NewFromInt(100000), "20230104", PriceSourceClose, 0, nil); err == nil {
		t.Fatal("expected insufficient-cash rejection")
	}
}

func TestSell_RejectsUnheldTicker(t *testing.T) {
	idx := priceindex.Build(s1Bars(), nil)
	p := New(decimal.NewFromInt(100000), idx, s1CostModel())

	if _, err := p.Sell("T", "20230104", PriceSourceClose, SellTypeForced, "", ""); err == nil {
		t.Fatal("expected not-held rejection")
	}
}
