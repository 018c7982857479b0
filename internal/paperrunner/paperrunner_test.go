package paperrunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lchen-trading/ashare-sim/internal/bar"
	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/config"
	"github.com/lchen-trading/ashare-sim/internal/signal"
)

func f(v float64) *float64 { return &v }

type fixedRanker struct {
	byDate map[calendar.Date][]signal.RankedCandidate
}

func (r fixedRanker) GenerateRanked(d calendar.Date, universe []string, features map[string]map[string]float64) []signal.RankedCandidate {
	return r.byDate[d]
}

// fakeSource is an in-memory DataSource fixture: Ensure is always
// satisfied, LoadBars/LoadFeatures serve a fixed fixture instead of
// talking to Postgres.
type fakeSource struct {
	bars     []bar.Bar
	features map[calendar.Date]map[string]map[string]float64
}

func (s *fakeSource) Ensure(ctx context.Context, d calendar.Date) error { return nil }

func (s *fakeSource) LoadBars(ctx context.Context, d, from calendar.Date, universe []string) ([]bar.Bar, error) {
	var out []bar.Bar
	for _, b := range s.bars {
		if b.Date >= from && b.Date <= d {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeSource) LoadFeatures(ctx context.Context, d calendar.Date) (map[string]map[string]float64, error) {
	return s.features[d], nil
}

func writeTestConfig(t *testing.T, path string) {
	t.Helper()
	cfg := config.Default()
	cfg.RebalanceFreq = 1
	cfg.TopN = 1
	cfg.HoldingPeriodDays = 1
	// A full-weight buy at 10.5 rounds 100000 down to 9500 shares (99750
	// plus 129.675 fees), leaving room for the fees; the default 500000
	// would round to 47600 shares whose fees exceed the cash.
	cfg.InitialCapital = 100000
	cfg.Fees = config.FeesConfig{CommissionRate: 0.0003, MinCommission: 5, StampTaxRate: 0.001, SlippageRate: 0.001}
	if err := config.Save(path, &cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
}

func newTestRunner(t *testing.T) (*Runner, *calendar.Sequence) {
	t.Helper()
	dir := t.TempDir()
	dates := []calendar.Date{"20230103", "20230104", "20230105"}
	seq, err := calendar.NewSequence(dates)
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	bars := []bar.Bar{
		{Ticker: "A", Date: "20230103", Close: 10, Open: 10, CloseAdj: f(10), Volume: 1000},
		{Ticker: "A", Date: "20230104", Close: 10.5, Open: 10.5, CloseAdj: f(10.5), Volume: 1000},
		{Ticker: "A", Date: "20230105", Close: 11, Open: 11, CloseAdj: f(11), Volume: 1000},
	}
	src := &fakeSource{
		bars: bars,
		features: map[calendar.Date]map[string]map[string]float64{
			"20230103": {"A": {"score": 1.0}},
			"20230104": {"A": {"score": 1.0}},
			"20230105": {"A": {"score": 1.0}},
		},
	}
	ranker := fixedRanker{byDate: map[calendar.Date][]signal.RankedCandidate{
		"20230103": {{Ticker: "A", Score: 1.0}},
		"20230104": {{Ticker: "A", Score: 1.0}},
		"20230105": {{Ticker: "A", Score: 1.0}},
	}}

	writeTestConfig(t, filepath.Join(dir, "config.json"))
	return New(dir, []string{"A"}, ranker, src, seq, nil), seq
}

// TestRun_SignalThenFill drives two consecutive days: day one only
// generates target weights (no tradable history yet to fill against
// until T+1), day two fills against the weights day one produced.
func TestRun_SignalThenFill(t *testing.T) {
	r, _ := newTestRunner(t)
	ctx := context.Background()

	res1, err := r.Run(ctx, "20230103")
	if err != nil {
		t.Fatalf("run day1: %v", err)
	}
	if !res1.T0Ran {
		t.Fatal("expected T0 to run on the signal-generation day")
	}
	if res1.TradesExecuted != 0 {
		t.Fatalf("expected no fills on the signal day itself, got %d", res1.TradesExecuted)
	}
	if _, err := os.Stat(r.paths.T0SentinelPath("20230103")); err != nil {
		t.Fatalf("expected a t0 sentinel file: %v", err)
	}
	if _, err := os.Stat(r.paths.PendingWeightsPath("20230103")); err != nil {
		t.Fatalf("expected a pending-weights file: %v", err)
	}

	res2, err := r.Run(ctx, "20230104")
	if err != nil {
		t.Fatalf("run day2: %v", err)
	}
	if res2.TradesExecuted != 1 {
		t.Fatalf("expected exactly one T+1 fill, got %d", res2.TradesExecuted)
	}

	snap, err := r.Positions()
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if _, held := snap.Positions["A"]; !held {
		t.Fatal("expected A to be held after the T+1 fill")
	}
	if snap.LastNAV == nil {
		t.Fatal("expected a persisted NAV point")
	}

	// Re-running an already-filled day must not double-buy: the
	// portfolio's one-lot-per-ticker invariant rejects the second Buy,
	// so the reported trade count for the rerun is zero.
	res3, err := r.Run(ctx, "20230104")
	if err != nil {
		t.Fatalf("rerun day2: %v", err)
	}
	if res3.TradesExecuted != 0 {
		t.Fatalf("expected a rerun to execute no new trades, got %d", res3.TradesExecuted)
	}
}

func TestNormalizeTradeDate_RollsForwardToNextTradingDay(t *testing.T) {
	seq, err := calendar.NewSequence([]calendar.Date{"20230103", "20230105"})
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	r := &Runner{seq: seq}
	d, err := r.NormalizeTradeDate("20230104")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if d != "20230105" {
		t.Fatalf("expected roll-forward to 20230105, got %s", d)
	}
}

func TestNormalizeTradeDate_PastLastKnownDayErrors(t *testing.T) {
	seq, err := calendar.NewSequence([]calendar.Date{"20230103"})
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	r := &Runner{seq: seq}
	if _, err := r.NormalizeTradeDate("20230201"); err == nil {
		t.Fatal("expected an error for a date beyond the calendar")
	}
}

func TestPositions_NoAccountYetReturnsEmptySnapshot(t *testing.T) {
	r, _ := newTestRunner(t)
	snap, err := r.Positions()
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(snap.Positions) != 0 {
		t.Fatalf("expected no positions before any Run, got %d", len(snap.Positions))
	}
}
