// Package bar defines the daily OHLCV bar shared by every downstream
// component. Bars are produced by an external ingestion pipeline
// (deliberately out of scope per spec §1) and consumed here as a
// read-only, column-oriented table keyed by (ticker, date).
package bar

import "github.com/lchen-trading/ashare-sim/internal/calendar"

// Bar is one day's market observation for one ticker.
type Bar struct {
	Ticker string
	Date   calendar.Date

	Open   float64
	Close  float64
	High   float64
	Low    float64
	Volume float64
	Amount float64

	// Back-adjusted OHLC, nil when the provider did not ship an adjusted
	// series for this row. Consumers fall back to the unadjusted value
	// and log a warning, per spec §3.
	OpenAdj  *float64
	CloseAdj *float64
	HighAdj  *float64
	LowAdj   *float64

	IsST          bool
	IsSuspended   bool
	IsLimitUp     bool
	IsLimitDown   bool
	PctChangeSet  bool
	PctChange     float64
}

// EffectiveCloseAdj returns the back-adjusted close, falling back to the
// unadjusted close when missing. The bool reports whether the fallback
// was used (callers use this to decide whether to log a warning).
func (b Bar) EffectiveCloseAdj() (price float64, usedFallback bool) {
	if b.CloseAdj != nil {
		return *b.CloseAdj, false
	}
	return b.Close, true
}

// EffectiveOpenAdj is the open-price analogue of EffectiveCloseAdj.
func (b Bar) EffectiveOpenAdj() (price float64, usedFallback bool) {
	if b.OpenAdj != nil {
		return *b.OpenAdj, false
	}
	return b.Open, true
}

// Table is a read-only (ticker, date)-keyed source of Bars, implemented
// by SliceTable. Neither priceindex.Index nor the Postgres-backed
// marketdata.BarStore implements it.
type Table interface {
	// Get returns the bar for (ticker, date), and false if absent.
	Get(ticker string, date calendar.Date) (Bar, bool)
	// Tickers returns every ticker with at least one row.
	Tickers() []string
}

// SliceTable is the simplest Table implementation: an in-memory slice,
// as would be loaded from a flat file or a query result set.
type SliceTable struct {
	rows map[string]map[calendar.Date]Bar
}

// NewSliceTable builds a SliceTable from a flat list of bars. Validates
// that every bar has a non-zero Close, per PriceIndex.build's contract.
func NewSliceTable(bars []Bar) (*SliceTable, error) {
	rows := make(map[string]map[calendar.Date]Bar)
	for _, b := range bars {
		if b.Close == 0 {
			return nil, &missingCloseError{Ticker: b.Ticker, Date: b.Date}
		}
		byDate, ok := rows[b.Ticker]
		if !ok {
			byDate = make(map[calendar.Date]Bar)
			rows[b.Ticker] = byDate
		}
		byDate[b.Date] = b
	}
	return &SliceTable{rows: rows}, nil
}

func (t *SliceTable) Get(ticker string, date calendar.Date) (Bar, bool) {
	byDate, ok := t.rows[ticker]
	if !ok {
		return Bar{}, false
	}
	b, ok := byDate[date]
	return b, ok
}

func (t *SliceTable) Tickers() []string {
	out := make([]string, 0, len(t.rows))
	for t := range t.rows {
		out = append(out, t)
	}
	return out
}

type missingCloseError struct {
	Ticker string
	Date   calendar.Date
}

func (e *missingCloseError) Error() string {
	return "bar: missing required close for " + e.Ticker + " on " + string(e.Date)
}
