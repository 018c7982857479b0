// Package ranker implements signal.Ranker as a weighted combination of
// pre-computed per-day factor features, replacing the teacher's
// intraday, candle-driven strategies (internal/strategy's momentum,
// trend-follow, mean-reversion, MACD, and Bollinger entry filters) with
// a single daily-frequency scorer.
//
// The teacher's strategies compute their own indicators from live
// candle history (CalculateROC, CalculateATR, ...) and each apply a
// fixed set of threshold gates before producing a BUY/SKIP intent.
// This engine's Ranker contract only ever sees a per-day feature map
// (spec §1 places indicator/factor computation in an external,
// out-of-scope pipeline), so there is no candle history to compute
// from here. CompositeRanker keeps the teacher's other idea instead —
// StockScore.CompositeScore's "weighted combination of several named
// factor scores" — and applies it to whatever factor columns the
// feature table actually ships, rather than recomputing them.
package ranker

import (
	"log"
	"sort"

	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/signal"
)

// Config names the feature columns CompositeRanker combines and the
// weight each contributes to a candidate's composite score. Keys are
// expected to already be roughly comparable in scale (the external
// feature pipeline's responsibility, spec §1); CompositeRanker does no
// normalization of its own beyond the weighted sum.
type Config struct {
	// Weights maps a feature-table column name to its contribution.
	// Typical columns mirror the teacher's factor vocabulary:
	// "momentum_score", "trend_strength_score", "mean_reversion_score",
	// "macd_score", "bollinger_score".
	Weights map[string]float64

	// MinFeatures is the minimum number of configured Weights keys a
	// ticker's feature row must supply a value for; tickers below this
	// are dropped from the ranked list rather than scored on a partial,
	// potentially misleading subset. 0 means require at least one.
	MinFeatures int
}

// CompositeRanker is a signal.Ranker that scores each candidate as the
// weighted sum of its available factor features.
type CompositeRanker struct {
	cfg    Config
	logger *log.Logger
}

// New creates a CompositeRanker.
func New(cfg Config, logger *log.Logger) *CompositeRanker {
	return &CompositeRanker{cfg: cfg, logger: logger}
}

func (r *CompositeRanker) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

// GenerateRanked implements signal.Ranker: every universe ticker with
// enough scored features gets a composite score; the result is sorted
// best-first (descending score), ties broken by ticker for determinism.
func (r *CompositeRanker) GenerateRanked(d calendar.Date, universe []string, features map[string]map[string]float64) []signal.RankedCandidate {
	minFeatures := r.cfg.MinFeatures
	if minFeatures <= 0 {
		minFeatures = 1
	}

	var out []signal.RankedCandidate
	for _, ticker := range universe {
		row, ok := features[ticker]
		if !ok {
			continue
		}
		score, matched := r.score(row)
		if matched < minFeatures {
			continue
		}
		out = append(out, signal.RankedCandidate{Ticker: ticker, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Ticker < out[j].Ticker
	})

	r.logf("ranker: %s ranked %d/%d universe tickers", d, len(out), len(universe))
	return out
}

func (r *CompositeRanker) score(row map[string]float64) (score float64, matched int) {
	for feature, weight := range r.cfg.Weights {
		v, ok := row[feature]
		if !ok {
			continue
		}
		score += weight * v
		matched++
	}
	return score, matched
}
