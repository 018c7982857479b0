package analytics

import (
	"strings"
	"testing"

	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/portfolio"
	"github.com/shopspring/decimal"
)

func date(s string) calendar.Date {
	d, err := calendar.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAnalyzeNoTrades(t *testing.T) {
	r := Analyze(nil, nil)
	if r.TotalTrades != 0 {
		t.Fatalf("expected zero trades, got %d", r.TotalTrades)
	}
	if got := FormatReport(r); !strings.Contains(got, "No closed trades") {
		t.Errorf("expected no-trades message, got %q", got)
	}
}

func TestAnalyzeWinLossSplit(t *testing.T) {
	trades := []portfolio.TradeRecord{
		{Ticker: "600000.SH", Side: portfolio.SideBuy, Date: date("20240102")},
		{Ticker: "600000.SH", Side: portfolio.SideSell, Date: date("20240105"), PnLProfitAmount: decimal.NewFromInt(500)},
		{Ticker: "600001.SH", Side: portfolio.SideBuy, Date: date("20240102")},
		{Ticker: "600001.SH", Side: portfolio.SideSell, Date: date("20240106"), PnLProfitAmount: decimal.NewFromInt(-200)},
	}
	r := Analyze(nil, trades)

	if r.TotalTrades != 2 {
		t.Fatalf("expected 2 closed trades, got %d", r.TotalTrades)
	}
	if r.WinningTrades != 1 || r.LosingTrades != 1 {
		t.Fatalf("expected 1 win / 1 loss, got %d/%d", r.WinningTrades, r.LosingTrades)
	}
	if r.WinRate != 50 {
		t.Errorf("expected 50%% win rate, got %.2f", r.WinRate)
	}
	if r.TotalPnL != 300 {
		t.Errorf("expected total pnl 300, got %.2f", r.TotalPnL)
	}
	if r.GrossProfit != 500 || r.GrossLoss != 200 {
		t.Errorf("gross profit/loss mismatch: %.2f/%.2f", r.GrossProfit, r.GrossLoss)
	}
	if r.ProfitFactor != 2.5 {
		t.Errorf("expected profit factor 2.5, got %.2f", r.ProfitFactor)
	}
	if r.AverageHoldDays != 1 {
		t.Errorf("expected average hold of 1 log entry, got %.1f", r.AverageHoldDays)
	}
}

func TestAnalyzeDrawdownAndSharpe(t *testing.T) {
	nav := []portfolio.NAVPoint{
		{Date: date("20240102"), NAV: 1.00, DailyReturn: 0},
		{Date: date("20240103"), NAV: 1.05, DailyReturn: 0.05},
		{Date: date("20240104"), NAV: 0.95, DailyReturn: -0.0952},
		{Date: date("20240105"), NAV: 1.10, DailyReturn: 0.1579},
	}
	r := Analyze(nav, nil)

	if r.FinalNAV != 1.10 {
		t.Errorf("expected final NAV 1.10, got %.4f", r.FinalNAV)
	}
	wantDD := 1 - 0.95/1.05
	if diff := r.MaxDrawdown - wantDD; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("expected max drawdown %.6f, got %.6f", wantDD, r.MaxDrawdown)
	}
	// Returns 0.05, -0.0952, 0.1579: mean ~0.03757, sample stddev ~0.12701,
	// annualized by sqrt(252) -> ~4.695.
	if diff := r.SharpeRatio - 4.695; diff > 0.01 || diff < -0.01 {
		t.Errorf("expected sharpe ratio ~4.695, got %.4f", r.SharpeRatio)
	}
}

func TestFormatReportRendersSections(t *testing.T) {
	trades := []portfolio.TradeRecord{
		{Ticker: "600000.SH", Side: portfolio.SideBuy, Date: date("20240102")},
		{Ticker: "600000.SH", Side: portfolio.SideSell, Date: date("20240103"), PnLProfitAmount: decimal.NewFromInt(100)},
	}
	out := FormatReport(Analyze(nil, trades))
	for _, want := range []string{"TRADE SUMMARY", "PROFIT & LOSS", "RISK METRICS", "HOLD TIME"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected report to contain %q", want)
		}
	}
}
