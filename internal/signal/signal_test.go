package signal

import (
	"testing"

	"github.com/lchen-trading/ashare-sim/internal/bar"
	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/costmodel"
	"github.com/lchen-trading/ashare-sim/internal/equitycurve"
	"github.com/lchen-trading/ashare-sim/internal/portfolio"
	"github.com/lchen-trading/ashare-sim/internal/priceindex"
	"github.com/lchen-trading/ashare-sim/internal/tradability"
	"github.com/shopspring/decimal"
)

func f(v float64) *float64 { return &v }

type stubRanker struct {
	candidates []RankedCandidate
}

func (r stubRanker) GenerateRanked(d calendar.Date, universe []string, features map[string]map[string]float64) []RankedCandidate {
	return r.candidates
}

func testCosts() *costmodel.Model {
	return costmodel.New(costmodel.Config{
		CommissionRate: decimal.NewFromFloat(0.0003),
		MinCommission:  decimal.NewFromFloat(5),
		StampTaxRate:   decimal.NewFromFloat(0.001),
		SlippageRate:   decimal.NewFromFloat(0.001),
	})
}

func fixture(t *testing.T) (*priceindex.Index, *tradability.Map, *calendar.Sequence, *portfolio.Portfolio) {
	t.Helper()
	dates := []calendar.Date{"20230105", "20230106"}
	bars := []bar.Bar{
		{Ticker: "A", Date: "20230105", Close: 10, Open: 10, CloseAdj: f(10), Volume: 1000},
		{Ticker: "A", Date: "20230106", Close: 10.2, Open: 10.2, CloseAdj: f(10.2), Volume: 1000},
		{Ticker: "B", Date: "20230105", Close: 20, Open: 20, CloseAdj: f(20), Volume: 1000},
		{Ticker: "B", Date: "20230106", Close: 20.5, Open: 20.5, CloseAdj: f(20.5), Volume: 1000, IsLimitUp: true},
		{Ticker: "C", Date: "20230105", Close: 5, Open: 5, CloseAdj: f(5), Volume: 1000},
		{Ticker: "C", Date: "20230106", Close: 5.1, Open: 5.1, CloseAdj: f(5.1), Volume: 1000},
	}
	idx := priceindex.Build(bars, nil)
	trade := tradability.Build(bars)
	seq, err := calendar.NewSequence(dates)
	if err != nil {
		t.Fatalf("sequence build failed: %v", err)
	}
	pf := portfolio.New(decimal.NewFromInt(100000), idx, testCosts())
	return idx, trade, seq, pf
}

func TestRun_BackfillsPastUntradableCandidate(t *testing.T) {
	idx, trade, seq, pf := fixture(t)
	ranker := stubRanker{candidates: []RankedCandidate{
		{Ticker: "B", Score: 0.9}, // limit-up at D+1, must be skipped
		{Ticker: "A", Score: 0.8},
		{Ticker: "C", Score: 0.5},
	}}

	p := New(Config{TopN: 2, WeightMethod: WeightEqual}, ranker, nil, nil, nil)
	weights := p.Run("20230105", []string{"A", "B", "C"}, nil, idx, trade, pf, seq, Tranche{})

	if len(weights) != 2 {
		t.Fatalf("expected 2 accepted tickers, got %d: %+v", len(weights), weights)
	}
	if _, ok := weights["B"]; ok {
		t.Error("expected B excluded (limit-up at D+1)")
	}
	if weights["A"] != 0.5 || weights["C"] != 0.5 {
		t.Errorf("expected equal 0.5/0.5 weights, got %+v", weights)
	}
}

func TestRun_ScoreWeightMethodNormalizes(t *testing.T) {
	idx, trade, seq, pf := fixture(t)
	ranker := stubRanker{candidates: []RankedCandidate{
		{Ticker: "A", Score: 3},
		{Ticker: "C", Score: 1},
	}}

	p := New(Config{TopN: 2, WeightMethod: WeightScore}, ranker, nil, nil, nil)
	weights := p.Run("20230105", []string{"A", "C"}, nil, idx, trade, pf, seq, Tranche{})

	if weights["A"] != 0.75 || weights["C"] != 0.25 {
		t.Errorf("expected score-proportional weights 0.75/0.25, got %+v", weights)
	}
}

func TestRun_AlreadyHeldTickerSkipped(t *testing.T) {
	idx, trade, seq, pf := fixture(t)
	if _, err := pf.Buy("A", decimal.NewFromInt(10000), "20230105", portfolio.PriceSourceClose, 0, nil); err != nil {
		t.Fatalf("seed buy failed: %v", err)
	}

	ranker := stubRanker{candidates: []RankedCandidate{
		{Ticker: "A", Score: 0.9},
		{Ticker: "C", Score: 0.5},
	}}

	p := New(Config{TopN: 2, WeightMethod: WeightEqual}, ranker, nil, nil, nil)
	weights := p.Run("20230105", []string{"A", "C"}, nil, idx, trade, pf, seq, Tranche{})

	if _, ok := weights["A"]; ok {
		t.Error("expected already-held A excluded from new target set")
	}
	if weights["C"] != 1.0 {
		t.Errorf("expected C to take the full weight, got %+v", weights)
	}
}

func TestRun_FewerThanTopNAcceptedStillProceeds(t *testing.T) {
	idx, trade, seq, pf := fixture(t)
	ranker := stubRanker{candidates: []RankedCandidate{
		{Ticker: "A", Score: 0.9},
	}}

	p := New(Config{TopN: 5, WeightMethod: WeightEqual}, ranker, nil, nil, nil)
	weights := p.Run("20230105", []string{"A"}, nil, idx, trade, pf, seq, Tranche{})

	if len(weights) != 1 || weights["A"] != 1.0 {
		t.Fatalf("expected single full-weight candidate, got %+v", weights)
	}
}

// TestRun_TrancheFullSetKeepsFractionalShare checks spec §9's full_set
// apply scope: a tranche's subset keeps its original full-target-set
// weight share, so the tranche's weights sum to less than 1.0.
func TestRun_TrancheFullSetKeepsFractionalShare(t *testing.T) {
	idx, trade, seq, pf := fixture(t)
	ranker := stubRanker{candidates: []RankedCandidate{
		{Ticker: "A", Score: 0.9},
		{Ticker: "C", Score: 0.5},
	}}

	p := New(Config{TopN: 2, WeightMethod: WeightEqual}, ranker, nil, nil, nil)
	weights := p.Run("20230105", []string{"A", "C"}, nil, idx, trade, pf, seq, Tranche{Index: 0, Total: 2, Scope: equitycurve.ScopeFullSet})

	if len(weights) != 1 {
		t.Fatalf("expected exactly 1 ticker in tranche 0 of 2, got %d: %+v", len(weights), weights)
	}
	if _, ok := weights["A"]; !ok {
		t.Fatalf("expected A (first ranked pick) in tranche 0, got %+v", weights)
	}
	if weights["A"] != 0.5 {
		t.Errorf("expected A to keep its full-set share of 0.5, got %v", weights["A"])
	}
}

// TestRun_TranchePerTrancheRenormalizes checks spec §9's per_tranche
// apply scope: the tranche's subset is renormalized to sum to 1.0, so
// the full tranche deploys full capital rather than a fractional share.
func TestRun_TranchePerTrancheRenormalizes(t *testing.T) {
	idx, trade, seq, pf := fixture(t)
	ranker := stubRanker{candidates: []RankedCandidate{
		{Ticker: "A", Score: 0.9},
		{Ticker: "C", Score: 0.5},
	}}

	p := New(Config{TopN: 2, WeightMethod: WeightEqual}, ranker, nil, nil, nil)
	weights := p.Run("20230105", []string{"A", "C"}, nil, idx, trade, pf, seq, Tranche{Index: 0, Total: 2, Scope: equitycurve.ScopePerTranche})

	if len(weights) != 1 {
		t.Fatalf("expected exactly 1 ticker in tranche 0 of 2, got %d: %+v", len(weights), weights)
	}
	if weights["A"] != 1.0 {
		t.Errorf("expected A renormalized to full weight 1.0, got %v", weights["A"])
	}
}

// TestRun_TrancheDisabledByDefault checks that the zero-value Tranche
// (Total <= 1) runs the unpartitioned full target set, same as before
// batch-rebalance mode existed.
func TestRun_TrancheDisabledByDefault(t *testing.T) {
	idx, trade, seq, pf := fixture(t)
	ranker := stubRanker{candidates: []RankedCandidate{
		{Ticker: "A", Score: 0.9},
		{Ticker: "C", Score: 0.5},
	}}

	p := New(Config{TopN: 2, WeightMethod: WeightEqual}, ranker, nil, nil, nil)
	weights := p.Run("20230105", []string{"A", "C"}, nil, idx, trade, pf, seq, Tranche{})

	if len(weights) != 2 {
		t.Fatalf("expected both tickers with batch-rebalance disabled, got %d: %+v", len(weights), weights)
	}
}

func TestSortedWeightKeys_OrdersByWeightThenTicker(t *testing.T) {
	weights := map[string]float64{"B": 0.3, "A": 0.5, "C": 0.3}
	got := SortedWeightKeys(weights)
	want := []string{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got[0] != "A" {
		t.Fatalf("expected highest-weight ticker first, got %v", got)
	}
	if got[1] != "B" || got[2] != "C" {
		t.Errorf("expected tie broken alphabetically, got %v", got)
	}
}
