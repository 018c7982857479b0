// Package marketdata implements the two read-only external collaborators
// spec §1 names as deliberately out of scope to produce, but in scope to
// consume: the clean bar table and the per-day feature table. Both are
// backed by Postgres/TimescaleDB, continuing the teacher's
// internal/storage.Store contract for candles — generalized from
// strategy.Candle rows into bar.Bar rows, and narrowed from a full
// read/write Store to the two read paths this engine actually calls.
//
// Grounded on internal/storage.PostgresStore (stubbed SaveCandles/
// GetCandles pending a real connection) and internal/market's
// Dhan-specific live fetchers, which this package replaces with a single
// Postgres-backed read path shared by backtest and paper modes alike.
package marketdata

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lchen-trading/ashare-sim/internal/bar"
	"github.com/lchen-trading/ashare-sim/internal/calendar"
)

// BarStore is the read-only Postgres-backed bar source. It does not
// implement bar.Table (it has no Get/Tickers methods); callers load every
// row for a run once via LoadRange and hand the slice to the in-process
// PriceIndex/TradabilityMap builders, per spec §9's design note on
// avoiding per-tick joins (rows are not queried bar-by-bar).
type BarStore struct {
	pool *pgxpool.Pool
}

// NewBarStore opens a connection pool against connStr (a Postgres/
// TimescaleDB DSN). The engine never writes through this store; ingestion
// and cleaning are a separate, external pipeline per spec §1.
func NewBarStore(ctx context.Context, connStr string) (*BarStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("marketdata: connection string is required")
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("marketdata: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("marketdata: ping: %w", err)
	}
	return &BarStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *BarStore) Close() { s.pool.Close() }

// LoadRange fetches every bar for the given tickers between from and to
// (inclusive, YYYYMMDD-ordered) from the clean_bars table, an external
// ingestion pipeline's output (spec §1). Returns them as a flat slice
// suitable for bar.NewSliceTable / priceindex.Build / tradability.Build,
// matching how a backtest driver loads its full working set once at
// startup rather than querying per tick.
func (s *BarStore) LoadRange(ctx context.Context, tickers []string, from, to calendar.Date) ([]bar.Bar, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticker, trade_date, open, close, high, low, volume, amount,
		       open_adj, close_adj, is_st, is_suspended, is_limit_up, is_limit_down,
		       pct_change, pct_change_set
		FROM clean_bars
		WHERE ticker = ANY($1) AND trade_date BETWEEN $2 AND $3
		ORDER BY trade_date, ticker`,
		tickers, string(from), string(to))
	if err != nil {
		return nil, fmt.Errorf("marketdata: query clean_bars: %w", err)
	}
	defer rows.Close()

	var out []bar.Bar
	for rows.Next() {
		var b bar.Bar
		var date string
		var openAdj, closeAdj *float64
		if err := rows.Scan(&b.Ticker, &date, &b.Open, &b.Close, &b.High, &b.Low, &b.Volume, &b.Amount,
			&openAdj, &closeAdj, &b.IsST, &b.IsSuspended, &b.IsLimitUp, &b.IsLimitDown,
			&b.PctChange, &b.PctChangeSet); err != nil {
			return nil, fmt.Errorf("marketdata: scan clean_bars row: %w", err)
		}
		d, err := calendar.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("marketdata: clean_bars row: %w", err)
		}
		b.Date = d
		b.OpenAdj = openAdj
		b.CloseAdj = closeAdj
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("marketdata: iterate clean_bars: %w", err)
	}
	return out, nil
}

// FeatureStore is the read-only Postgres-backed per-day feature table
// consumed by SignalPipeline's Ranker, per spec §1/§6 ("Input: Feature
// table per day").
type FeatureStore struct {
	pool *pgxpool.Pool
}

// NewFeatureStore opens its own pool against the same kind of DSN as
// NewBarStore (the two stores never share a pgxpool.Pool; two
// constructors are kept distinct because the tables they read are
// produced by different upstream jobs and may live in different
// databases in a larger deployment).
func NewFeatureStore(ctx context.Context, connStr string) (*FeatureStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("marketdata: connection string is required")
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("marketdata: connect: %w", err)
	}
	return &FeatureStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *FeatureStore) Close() { s.pool.Close() }

// LoadDay fetches the per-ticker feature row for date d from the
// features table. Columns beyond ticker/trade_date are treated as an
// opaque float64 map, since the predictor's feature vector is model-
// specific and owned by the external ML pipeline (spec §1).
func (s *FeatureStore) LoadDay(ctx context.Context, d calendar.Date, featureNames []string) (map[string]map[string]float64, error) {
	cols := "ticker"
	for _, n := range featureNames {
		cols += ", " + pgIdent(n)
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM features WHERE trade_date = $1`, cols), string(d))
	if err != nil {
		return nil, fmt.Errorf("marketdata: query features: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]float64)
	for rows.Next() {
		vals := make([]interface{}, len(featureNames)+1)
		var ticker string
		vals[0] = &ticker
		floats := make([]float64, len(featureNames))
		for i := range featureNames {
			vals[i+1] = &floats[i]
		}
		if err := rows.Scan(vals...); err != nil {
			return nil, fmt.Errorf("marketdata: scan features row: %w", err)
		}
		row := make(map[string]float64, len(featureNames))
		for i, n := range featureNames {
			row[n] = floats[i]
		}
		out[ticker] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("marketdata: iterate features: %w", err)
	}
	return out, nil
}

// pgIdent quotes a feature name as a safe SQL identifier. Feature names
// originate from the external ML pipeline's fitted model (spec §1,
// "a vector of feature names"), not end-user input, but are still
// quoted defensively since they are interpolated into column position.
func pgIdent(name string) string {
	return `"` + name + `"`
}
