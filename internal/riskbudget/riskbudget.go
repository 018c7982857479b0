// Package riskbudget implements volatility-inverse reweighting of
// target weights, per spec §4.8.
//
// Grounded on internal/analytics.computeSharpeRatio's sample
// standard-deviation loop, generalized from a P&L series into a
// log-return series over pnl_price and ported onto
// gonum.org/v1/gonum/stat.StdDev, which is already part of this
// module's dependency stack via internal/equitycurve.
package riskbudget

import (
	"log"
	"math"

	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/priceindex"
	"gonum.org/v1/gonum/stat"
)

// Config holds the scaler's tunables, mirroring config.json's
// risk_budget_* fields in spec §6.
type Config struct {
	Enabled              bool
	VolWindow            int
	VolEpsilon           float64
	TradingDaysPerYear   int
}

// Scaler reweights target weights inversely to trailing volatility.
type Scaler struct {
	cfg    Config
	logger *log.Logger
}

// New creates a Scaler.
func New(cfg Config, logger *log.Logger) *Scaler {
	return &Scaler{cfg: cfg, logger: logger}
}

func (s *Scaler) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Scale reweights weights for signal date d using trailing volatility
// computed strictly before d (no look-ahead, per spec §4.8). seq
// supplies the trading-day sequence used to walk backward from d.
func (s *Scaler) Scale(weights map[string]float64, prices *priceindex.Index, seq *calendar.Sequence, d calendar.Date) map[string]float64 {
	if !s.cfg.Enabled {
		return weights
	}

	originalSum := 0.0
	for _, w := range weights {
		originalSum += w
	}

	inverseVols := make(map[string]float64, len(weights))
	reweighted := make(map[string]float64, len(weights))
	newSum := 0.0

	for ticker, w := range weights {
		sigma := s.trailingVol(prices, seq, d, ticker)
		if sigma < s.cfg.VolEpsilon {
			sigma = s.cfg.VolEpsilon
		}
		inverseVols[ticker] = sigma
		reweighted[ticker] = w / sigma
		newSum += reweighted[ticker]
	}

	if newSum == 0 {
		return weights
	}
	scale := originalSum / newSum
	for ticker := range reweighted {
		reweighted[ticker] *= scale
	}
	return reweighted
}

// trailingVol computes annualized trailing volatility of log-returns on
// pnl_price over vol_window trading days strictly before d. Returns
// vol_epsilon (triggering the caller's floor, plus a logged warning) if
// fewer than two usable prices are found.
func (s *Scaler) trailingVol(prices *priceindex.Index, seq *calendar.Sequence, d calendar.Date, ticker string) float64 {
	idx, ok := seq.IndexOf(d)
	if !ok {
		s.logf("riskbudget: %s date %s not found in sequence, treating as insufficient history", ticker, d)
		return s.cfg.VolEpsilon
	}

	start := idx - s.cfg.VolWindow
	if start < 0 {
		start = 0
	}

	var closes []float64
	for i := start; i < idx; i++ {
		date := seq.At(i)
		if price, ok := prices.PnLPrice(date, ticker); ok {
			closes = append(closes, price)
		}
	}

	if len(closes) < 2 {
		s.logf("riskbudget: %s has insufficient history before %s, using vol_epsilon", ticker, d)
		return s.cfg.VolEpsilon
	}

	logReturns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		logReturns = append(logReturns, math.Log(closes[i]/closes[i-1]))
	}
	if len(logReturns) < 2 {
		return s.cfg.VolEpsilon
	}

	stdDev := stat.StdDev(logReturns, nil)

	tradingDays := s.cfg.TradingDaysPerYear
	if tradingDays <= 0 {
		tradingDays = 252
	}
	return stdDev * math.Sqrt(float64(tradingDays))
}
