package priceindex

import (
	"testing"

	"github.com/lchen-trading/ashare-sim/internal/bar"
)

func adj(v float64) *float64 { return &v }

func TestBuild_FallsBackWhenCloseAdjMissing(t *testing.T) {
	bars := []bar.Bar{
		{Ticker: "600000.SH", Date: "20230103", Close: 10.0, Open: 10.0},
	}
	idx := Build(bars, nil)

	p, ok := idx.PnLPrice("20230103", "600000.SH")
	if !ok {
		t.Fatal("expected pnl price")
	}
	if p != 10.0 {
		t.Errorf("expected pnl_price to fall back to close (10.0), got %v", p)
	}
}

func TestTradePrice_MissingBarReturnsErrMissing(t *testing.T) {
	idx := Build(nil, nil)
	_, err := idx.TradePrice("20230103", "600000.SH")
	if err == nil {
		t.Fatal("expected error for missing bar")
	}
}

func TestPnLPrice_ReusesLastKnownOnMissingDay(t *testing.T) {
	bars := []bar.Bar{
		{Ticker: "600000.SH", Date: "20230103", Close: 10.0, CloseAdj: adj(10.0)},
		{Ticker: "600000.SH", Date: "20230104", Close: 11.0, CloseAdj: adj(11.0)},
	}
	idx := Build(bars, nil)

	// 20230105 has no bar at all; expect reuse of 20230104's pnl price.
	p, ok := idx.PnLPrice("20230105", "600000.SH")
	if !ok {
		t.Fatal("expected fallback pnl price")
	}
	if p != 11.0 {
		t.Errorf("expected last known pnl_price 11.0, got %v", p)
	}
}

func TestPnLPrice_NoHistoryReturnsNotOK(t *testing.T) {
	idx := Build(nil, nil)
	_, ok := idx.PnLPrice("20230105", "600000.SH")
	if ok {
		t.Error("expected no pnl price for a ticker with zero history")
	}
}

func TestOpenPrice_DegradesToCloseWhenOpenZero(t *testing.T) {
	bars := []bar.Bar{
		{Ticker: "600000.SH", Date: "20230103", Close: 10.0, Open: 0},
	}
	idx := Build(bars, nil)

	p, err := idx.OpenPrice("20230103", "600000.SH", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != 10.0 {
		t.Errorf("expected degraded open price 10.0, got %v", p)
	}
}
