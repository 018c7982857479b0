// Package analytics computes the end-of-period performance statistics
// spec §2 names as one of the engine's three deliverables: win rate,
// total/average PnL, max drawdown, Sharpe ratio, profit factor, and
// average hold time, now computed from the NAV curve and sell-side
// TradeRecords the engine itself produces rather than from a
// database-backed trade table.
//
// Grounded on the teacher's internal/analytics.Analyze, keeping its
// report shape and FormatReport layout; drawdown and Sharpe are
// recomputed directly from portfolio.NAVPoint.DailyReturn instead of
// reconstructing an equity curve from summed per-trade PnL, since the
// engine already maintains that curve exactly (spec §4.4's
// mark-to-market step) and gonum.org/v1/gonum/stat (already wired for
// internal/riskbudget and internal/equitycurve) replaces the teacher's
// hand-rolled mean/variance loop.
package analytics

import (
	"fmt"
	"math"
	"strings"

	"github.com/lchen-trading/ashare-sim/internal/portfolio"
	"gonum.org/v1/gonum/stat"
)

// PerformanceReport holds every computed performance metric for one
// completed run.
type PerformanceReport struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // percentage (0-100)

	TotalPnL    float64
	AveragePnL  float64
	GrossProfit float64
	GrossLoss   float64

	MaxDrawdown    float64 // fraction of the running NAV peak (e.g. 0.15 == 15%)
	SharpeRatio    float64 // annualized, assumes 252 trading days
	ProfitFactor   float64

	AverageHoldDays float64
	MaxHoldDays     int
	MinHoldDays     int

	FinalNAV float64
}

// Analyze computes the full performance report from the engine's NAV
// curve and trade log. Only sell-side TradeRecords carry PnL; buys are
// ignored for the per-trade stats but the NAV curve drives drawdown and
// Sharpe regardless of trade count.
func Analyze(navHistory []portfolio.NAVPoint, trades []portfolio.TradeRecord) *PerformanceReport {
	report := &PerformanceReport{MinHoldDays: math.MaxInt32}

	var sells []portfolio.TradeRecord
	for _, t := range trades {
		if t.Side == portfolio.SideSell {
			sells = append(sells, t)
		}
	}

	for _, t := range sells {
		pnl, _ := t.PnLProfitAmount.Float64()
		report.TotalTrades++
		report.TotalPnL += pnl
		if pnl > 0 {
			report.WinningTrades++
			report.GrossProfit += pnl
		} else if pnl < 0 {
			report.LosingTrades++
			report.GrossLoss += -pnl
		}
	}

	holdDays := holdDaysPerSell(trades)
	for _, d := range holdDays {
		if d > report.MaxHoldDays {
			report.MaxHoldDays = d
		}
		if d < report.MinHoldDays {
			report.MinHoldDays = d
		}
		report.AverageHoldDays += float64(d)
	}
	if len(holdDays) > 0 {
		report.AverageHoldDays /= float64(len(holdDays))
	} else {
		report.MinHoldDays = 0
	}

	if report.TotalTrades > 0 {
		report.WinRate = float64(report.WinningTrades) / float64(report.TotalTrades) * 100
		report.AveragePnL = report.TotalPnL / float64(report.TotalTrades)
	}
	if report.GrossLoss > 0 {
		report.ProfitFactor = report.GrossProfit / report.GrossLoss
	} else if report.GrossProfit > 0 {
		report.ProfitFactor = math.Inf(1)
	}

	if len(navHistory) > 0 {
		report.FinalNAV = navHistory[len(navHistory)-1].NAV
		report.MaxDrawdown = maxDrawdown(navHistory)
		report.SharpeRatio = sharpeRatio(navHistory)
	}

	return report
}

// maxDrawdown walks the NAV curve and returns the largest peak-to-trough
// fractional decline.
func maxDrawdown(nav []portfolio.NAVPoint) float64 {
	peak := nav[0].NAV
	maxDD := 0.0
	for _, pt := range nav {
		if pt.NAV > peak {
			peak = pt.NAV
		}
		if peak <= 0 {
			continue
		}
		dd := 1 - pt.NAV/peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// sharpeRatio computes the annualized Sharpe ratio (zero risk-free rate,
// 252 trading days) from the NAV curve's daily returns.
func sharpeRatio(nav []portfolio.NAVPoint) float64 {
	if len(nav) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(nav)-1)
	for _, pt := range nav[1:] {
		returns = append(returns, pt.DailyReturn)
	}
	mean := stat.Mean(returns, nil)
	stdDev := stat.StdDev(returns, nil)
	if stdDev == 0 {
		return 0
	}
	return (mean / stdDev) * math.Sqrt(252)
}

// holdDaysPerSell matches each sell TradeRecord to the index position of
// its preceding buy for the same ticker (spec §8 invariant I5) and
// returns, for each lot, the index distance between its buy and sell
// entries in the trade log. Uses trade-log order directly and does not
// consult calendar.Sequence or the trade dates, so these "days" are a proxy
// good enough for a summary report (not used anywhere invariants are
// checked).
func holdDaysPerSell(trades []portfolio.TradeRecord) []int {
	lastBuyIndex := make(map[string]int)
	var holds []int
	for i, t := range trades {
		switch t.Side {
		case portfolio.SideBuy:
			lastBuyIndex[t.Ticker] = i
		case portfolio.SideSell:
			if bi, ok := lastBuyIndex[t.Ticker]; ok {
				holds = append(holds, i-bi)
				delete(lastBuyIndex, t.Ticker)
			}
		}
	}
	return holds
}

// FormatReport renders a human-readable text summary, matching the
// teacher's section layout.
func FormatReport(r *PerformanceReport) string {
	if r == nil || r.TotalTrades == 0 {
		return "No closed trades to analyze."
	}

	var b strings.Builder
	b.WriteString("═══════════════════════════════════════════════════\n")
	b.WriteString("              PERFORMANCE REPORT\n")
	b.WriteString("═══════════════════════════════════════════════════\n\n")

	b.WriteString("── TRADE SUMMARY ──\n")
	fmt.Fprintf(&b, "  Total trades:    %d\n", r.TotalTrades)
	fmt.Fprintf(&b, "  Winning trades:  %d (%.1f%%)\n", r.WinningTrades, r.WinRate)
	fmt.Fprintf(&b, "  Losing trades:   %d\n\n", r.LosingTrades)

	b.WriteString("── PROFIT & LOSS ──\n")
	fmt.Fprintf(&b, "  Total PnL:       %.2f\n", r.TotalPnL)
	fmt.Fprintf(&b, "  Average PnL:     %.2f\n", r.AveragePnL)
	fmt.Fprintf(&b, "  Gross profit:    %.2f\n", r.GrossProfit)
	fmt.Fprintf(&b, "  Gross loss:      %.2f\n", r.GrossLoss)
	fmt.Fprintf(&b, "  Profit factor:   %.2f\n\n", r.ProfitFactor)

	b.WriteString("── RISK METRICS ──\n")
	fmt.Fprintf(&b, "  Max drawdown:    %.2f%%\n", r.MaxDrawdown*100)
	fmt.Fprintf(&b, "  Sharpe ratio:    %.2f\n", r.SharpeRatio)
	fmt.Fprintf(&b, "  Final NAV:       %.4f\n\n", r.FinalNAV)

	b.WriteString("── HOLD TIME ──\n")
	fmt.Fprintf(&b, "  Average:         %.1f entries\n", r.AverageHoldDays)
	fmt.Fprintf(&b, "  Min:             %d entries\n", r.MinHoldDays)
	fmt.Fprintf(&b, "  Max:             %d entries\n", r.MaxHoldDays)
	b.WriteString("\n═══════════════════════════════════════════════════\n")

	return b.String()
}
