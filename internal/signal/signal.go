// Package signal coordinates the T-day ranking-to-target-weight
// pipeline, per spec §4.10.
//
// Grounded on internal/strategy.Strategy: both define a pure decision
// interface (Evaluate / GenerateRanked) whose implementation is
// supplied externally and is never itself responsible for validation or
// order placement — that is the pipeline's job, layered on top, the way
// internal/risk validates a strategy's TradeIntent before it becomes an
// order. The ranker here returns an ordered candidate list instead of a
// single TradeIntent, since spec §4.10 requires walking past rejected
// candidates to backfill up to top_n.
package signal

import (
	"log"
	"sort"

	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/equitycurve"
	"github.com/lchen-trading/ashare-sim/internal/portfolio"
	"github.com/lchen-trading/ashare-sim/internal/priceindex"
	"github.com/lchen-trading/ashare-sim/internal/riskbudget"
	"github.com/lchen-trading/ashare-sim/internal/tradability"
)

// RankedCandidate is one entry of a ranker's ordered output.
type RankedCandidate struct {
	Ticker string
	Score  float64
}

// Ranker is the external, pluggable scoring component. Given a date and
// a universe of tickers with that day's features, it returns candidates
// best-first; the pipeline decides which are actually tradable.
type Ranker interface {
	GenerateRanked(d calendar.Date, universe []string, features map[string]map[string]float64) []RankedCandidate
}

// WeightMethod selects how accepted candidates are weighted.
type WeightMethod string

const (
	WeightEqual WeightMethod = "equal"
	WeightScore WeightMethod = "score"
)

// Config holds the pipeline's tunables, mirroring config.json's
// signal_* fields in spec §6.
type Config struct {
	TopN         int
	WeightMethod WeightMethod
}

// Pipeline wires a Ranker to the downstream exposure and risk-budget
// scalers.
type Pipeline struct {
	cfg         Config
	ranker      Ranker
	equityCurve *equitycurve.Controller
	riskBudget  *riskbudget.Scaler
	logger      *log.Logger
}

// New creates a Pipeline.
func New(cfg Config, ranker Ranker, equityCurve *equitycurve.Controller, riskBudget *riskbudget.Scaler, logger *log.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, ranker: ranker, equityCurve: equityCurve, riskBudget: riskBudget, logger: logger}
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// Tranche carries the batch-rebalance partitioning state spec §4.9's
// optional tranche mode needs: which tranche is due this rebalance, how
// many tranches the target set is split across, and how exposure
// scaling applies to a tranche subset (spec §9's apply-scope open
// question). A zero-value Tranche (Total <= 1) disables batch mode and
// Run behaves exactly as it does for a full-set rebalance.
type Tranche struct {
	Index int
	Total int
	Scope equitycurve.ApplyScope
}

// enabled reports whether t actually splits the target set.
func (t Tranche) enabled() bool { return t.Total > 1 }

// Run executes the full pipeline for signal date d, producing the
// target weight map that the execution engine will act on at d+1. prices
// and trade are used for the d+1 tradability/holding check required by
// spec §4.10 step 2; pf reports already-held tickers. tr selects which
// slice of the target set this rebalance actually deploys into, per
// spec §4.9's batch-rebalance mode; the zero value runs the full set.
func (p *Pipeline) Run(d calendar.Date, universe []string, features map[string]map[string]float64, prices *priceindex.Index, trade *tradability.Map, pf *portfolio.Portfolio, seq *calendar.Sequence, tr Tranche) map[string]float64 {
	candidates := p.ranker.GenerateRanked(d, universe, features)

	dPlus1, ok := seq.Add(d, 1)
	if !ok {
		p.logf("signal: %s has no next trading day in sequence, producing empty target set", d)
		return map[string]float64{}
	}

	held := make(map[string]bool)
	for _, t := range pf.Positions() {
		held[t] = true
	}

	var picks []acceptedCandidate

	for _, c := range candidates {
		if len(picks) >= p.cfg.TopN {
			break
		}
		switch {
		case held[c.Ticker]:
			p.logf("signal: skip %s on %s: already held", c.Ticker, d)
		case !trade.CanBuy(dPlus1, c.Ticker):
			p.logf("signal: skip %s on %s: not tradable at %s", c.Ticker, d, dPlus1)
		default:
			picks = append(picks, acceptedCandidate{ticker: c.Ticker, score: c.Score})
		}
	}

	if len(picks) < p.cfg.TopN {
		p.logf("signal: only %d/%d candidates accepted for %s", len(picks), p.cfg.TopN, d)
	}

	weights := make(map[string]float64, len(picks))
	switch p.cfg.WeightMethod {
	case WeightScore:
		total := 0.0
		for _, pk := range picks {
			clipped := pk.score
			if clipped < 0 {
				clipped = 0
			}
			total += clipped
		}
		if total <= 0 {
			p.logf("signal: all scores non-positive for %s, falling back to equal weighting", d)
			equalWeight(picks, weights)
		} else {
			for _, pk := range picks {
				clipped := pk.score
				if clipped < 0 {
					clipped = 0
				}
				weights[pk.ticker] = clipped / total
			}
		}
	default:
		equalWeight(picks, weights)
	}

	if tr.enabled() {
		weights = partitionTranche(picks, weights, tr)
		p.logf("signal: %s batch-rebalance tranche %d/%d selected %d of %d target tickers (scope=%s)",
			d, tr.Index, tr.Total, len(weights), len(picks), tr.Scope)
	}

	navHistory := make([]float64, 0, len(pf.NAVHistory()))
	for _, pt := range pf.NAVHistory() {
		navHistory = append(navHistory, pt.NAV)
	}
	if p.equityCurve != nil {
		scaled, result := p.equityCurve.Scale(weights, navHistory)
		p.logf("signal: equity curve exposure %.4f (%s)", result.Exposure, result.Reason)
		weights = scaled
	}
	if p.riskBudget != nil {
		weights = p.riskBudget.Scale(weights, prices, seq, d)
	}

	return weights
}

// partitionTranche restricts weights to the picks assigned to tr's
// tranche (round-robin over picks' ranked order, so the same ticker
// lands in the same tranche across consecutive rebalances as long as
// the ranked order is stable) and, for ScopePerTranche, renormalizes the
// subset back to summing to 1.0. ScopeFullSet leaves the subset's
// weights as their original full-target-set share, so a tranche deploys
// only a fraction of capital each rebalance period (spec §9).
func partitionTranche(picks []acceptedCandidate, weights map[string]float64, tr Tranche) map[string]float64 {
	subset := make(map[string]float64)
	for i, pk := range picks {
		if i%tr.Total != tr.Index {
			continue
		}
		if w, ok := weights[pk.ticker]; ok {
			subset[pk.ticker] = w
		}
	}

	if tr.Scope != equitycurve.ScopePerTranche {
		return subset
	}

	total := 0.0
	for _, w := range subset {
		total += w
	}
	if total <= 0 {
		return subset
	}
	for t, w := range subset {
		subset[t] = w / total
	}
	return subset
}

// acceptedCandidate is a backfilled candidate that passed the
// tradability/held-state check in Run.
type acceptedCandidate struct {
	ticker string
	score  float64
}

func equalWeight(picks []acceptedCandidate, weights map[string]float64) {
	if len(picks) == 0 {
		return
	}
	w := 1.0 / float64(len(picks))
	for _, pk := range picks {
		weights[pk.ticker] = w
	}
}

// SortedWeightKeys returns weights' tickers sorted by weight descending
// (ties broken by ticker string), the iteration order spec §4.11
// requires when the execution engine walks the target set.
func SortedWeightKeys(weights map[string]float64) []string {
	out := make([]string, 0, len(weights))
	for t := range weights {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if weights[out[i]] != weights[out[j]] {
			return weights[out[i]] > weights[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
