package paperrunner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lchen-trading/ashare-sim/internal/bar"
	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/marketdata"
)

// DataSource is PaperRunner's external collaborator boundary, per spec
// §4.12 step 3's "specified as an external collaborator interface; the
// runner only calls ensure(date)." Run never touches marketdata's
// Postgres types directly, so a backtest-style in-memory fixture can
// stand in for tests without a database.
type DataSource interface {
	// Ensure performs the three-stage dependency walk for d: features
	// for d must exist; if absent, derive from clean bars for d; if
	// those are absent too, fetch raw from the upstream provider. Must
	// return nil only once features for d are queryable.
	Ensure(ctx context.Context, d calendar.Date) error

	// LoadBars returns every bar for universe between from and d
	// (inclusive), inputs to priceindex.Build/tradability.Build.
	LoadBars(ctx context.Context, d, from calendar.Date, universe []string) ([]bar.Bar, error)

	// LoadFeatures returns d's per-ticker feature rows for the Ranker.
	LoadFeatures(ctx context.Context, d calendar.Date) (map[string]map[string]float64, error)
}

// RawFetcher triggers the upstream ingestion pipeline's raw fetch for a
// single trading day (spec §4.12 step 3's last resort) and returns once
// the request has been submitted, not once data has landed — Ensure
// still waits for the bar-ready notification afterward.
type RawFetcher func(ctx context.Context, d calendar.Date) error

// PostgresSource is the production DataSource: clean_bars/features read
// through marketdata.BarStore/FeatureStore, with an ashare_bar_ready
// Postgres NOTIFY used to avoid busy-polling while stage 3's raw fetch
// is in flight.
type PostgresSource struct {
	Bars         *marketdata.BarStore
	Features     *marketdata.FeatureStore
	Notifier     *marketdata.BarReadyNotifier
	FeatureNames []string
	Fetch        RawFetcher
	WaitTimeout  time.Duration
	Logger       *log.Logger
}

func (s *PostgresSource) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// Ensure walks spec §4.12 step 3's three stages for d. Stage 1 and 2
// collapse into a single existence check since FeatureStore.LoadDay
// returning a non-empty row set already implies the clean bars it was
// derived from exist; stage 3 triggers Fetch (if configured) and then
// waits on Notifier before re-checking, instead of polling LoadDay in a
// tight loop.
func (s *PostgresSource) Ensure(ctx context.Context, d calendar.Date) error {
	ready, err := s.featuresReady(ctx, d)
	if err != nil {
		return err
	}
	if ready {
		return nil
	}

	if s.Fetch == nil {
		return fmt.Errorf("paperrunner: no data for %s and no raw fetcher configured", d)
	}
	s.logf("paperrunner: features/bars missing for %s, triggering raw fetch", d)
	if err := s.Fetch(ctx, d); err != nil {
		return fmt.Errorf("paperrunner: raw fetch for %s: %w", d, err)
	}

	timeout := s.WaitTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if s.Notifier != nil && !s.Notifier.Wait(ctx, timeout) {
		s.logf("paperrunner: no bar-ready notification for %s within %s, re-checking anyway", d, timeout)
	}

	ready, err = s.featuresReady(ctx, d)
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("paperrunner: %s still has no data after raw fetch", d)
	}
	return nil
}

func (s *PostgresSource) featuresReady(ctx context.Context, d calendar.Date) (bool, error) {
	rows, err := s.Features.LoadDay(ctx, d, s.FeatureNames)
	if err != nil {
		return false, fmt.Errorf("paperrunner: check features for %s: %w", d, err)
	}
	return len(rows) > 0, nil
}

// LoadBars loads every bar for universe between from and d inclusive.
func (s *PostgresSource) LoadBars(ctx context.Context, d, from calendar.Date, universe []string) ([]bar.Bar, error) {
	return s.Bars.LoadRange(ctx, universe, from, d)
}

// LoadFeatures loads d's feature rows.
func (s *PostgresSource) LoadFeatures(ctx context.Context, d calendar.Date) (map[string]map[string]float64, error) {
	return s.Features.LoadDay(ctx, d, s.FeatureNames)
}
