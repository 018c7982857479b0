// Package priceindex implements the dual-keyed trade-price / PnL-price
// lookup described in spec §4.1.
//
// The teacher's storage layer materializes one row struct per (ticker,
// date) behind a Postgres table; this index makes the same access
// pattern available in-process with O(1) lookups, replacing the prior
// implementation's nested {date: {ticker: price}} map with a single flat
// map keyed on a packed (date, ticker) key plus a per-ticker sorted date
// list for the fallback-to-last-known-price path mark-to-market needs.
package priceindex

import (
	"log"
	"sort"

	"github.com/lchen-trading/ashare-sim/internal/bar"
	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/errs"
)

type key struct {
	date   calendar.Date
	ticker string
}

type row struct {
	tradeClose float64
	tradeOpen  float64
	pnlClose   float64
	pnlOpen    float64
}

// Index provides constant-time (date, ticker) price lookups. It is
// immutable after Build and may be shared freely across goroutines
// (spec §5's shared-resource policy).
type Index struct {
	rows map[key]row
	// datesByTicker holds each ticker's observed dates in sorted order,
	// used only by LastKnownPnLPrice for the mark-to-market fallback when
	// a held ticker has no bar on the current date.
	datesByTicker map[string][]calendar.Date
	logger        *log.Logger
}

// Build constructs an Index from a bar table. Every bar must carry a
// close price (bar.NewSliceTable already enforces this for the common
// in-memory case); when close_adj/open_adj is missing for a row, Build
// logs a warning and falls back to the unadjusted price for that row,
// per spec §4.1.
func Build(bars []bar.Bar, logger *log.Logger) *Index {
	idx := &Index{
		rows:          make(map[key]row, len(bars)),
		datesByTicker: make(map[string][]calendar.Date),
		logger:        logger,
	}

	for _, b := range bars {
		closeAdj, closeFellBack := b.EffectiveCloseAdj()
		if closeFellBack {
			idx.logf("priceindex: %s %s missing close_adj, using close for pnl_price", b.Ticker, b.Date)
		}
		openAdj, openFellBack := b.EffectiveOpenAdj()
		if openFellBack {
			idx.logf("priceindex: %s %s missing open_adj, using open for pnl_price", b.Ticker, b.Date)
		}

		idx.rows[key{date: b.Date, ticker: b.Ticker}] = row{
			tradeClose: b.Close,
			tradeOpen:  b.Open,
			pnlClose:   closeAdj,
			pnlOpen:    openAdj,
		}
		idx.datesByTicker[b.Ticker] = append(idx.datesByTicker[b.Ticker], b.Date)
	}

	for t, dates := range idx.datesByTicker {
		sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
		idx.datesByTicker[t] = dates
	}

	return idx
}

func (idx *Index) logf(format string, args ...any) {
	if idx.logger != nil {
		idx.logger.Printf(format, args...)
	}
}

// TradePrice returns the unadjusted close for (date, ticker): the price
// at which cash accounting happens. Fails with ErrorKind::Missing if the
// bar is absent, per spec §4.1 ("the engine must not guess").
func (idx *Index) TradePrice(date calendar.Date, ticker string) (float64, error) {
	r, ok := idx.rows[key{date: date, ticker: ticker}]
	if !ok {
		return 0, errs.ForTicker(errs.KindMissing, ticker, "no trade_price for date "+string(date))
	}
	return r.tradeClose, nil
}

// OpenPrice is the open-price analogue of TradePrice, used when
// sell_timing/buy_timing is configured as "open". Degrades to the close
// if open is zero-valued (unset), per spec §4.1.
func (idx *Index) OpenPrice(date calendar.Date, ticker string, adj bool) (float64, error) {
	r, ok := idx.rows[key{date: date, ticker: ticker}]
	if !ok {
		return 0, errs.ForTicker(errs.KindMissing, ticker, "no open_price for date "+string(date))
	}
	if adj {
		if r.pnlOpen == 0 {
			idx.logf("priceindex: %s %s open_adj degraded to pnl close", ticker, date)
			return r.pnlClose, nil
		}
		return r.pnlOpen, nil
	}
	if r.tradeOpen == 0 {
		idx.logf("priceindex: %s %s open degraded to trade close", ticker, date)
		return r.tradeClose, nil
	}
	return r.tradeOpen, nil
}

// PnLPrice returns the back-adjusted close for (date, ticker), used for
// return attribution and mark-to-market. Never fails once the index is
// built: a missing bar falls back to the last known PnL price for that
// ticker (the mark-to-market reuse-last-known-price rule in spec §4.4),
// and a ticker with no history at all returns (0, false).
func (idx *Index) PnLPrice(date calendar.Date, ticker string) (float64, bool) {
	if r, ok := idx.rows[key{date: date, ticker: ticker}]; ok {
		return r.pnlClose, true
	}
	return idx.LastKnownPnLPrice(date, ticker)
}

// LastKnownPnLPrice returns the most recent PnL price for ticker strictly
// before or on date, used when mark-to-market encounters a missing bar
// for a currently held ticker.
func (idx *Index) LastKnownPnLPrice(date calendar.Date, ticker string) (float64, bool) {
	dates := idx.datesByTicker[ticker]
	// dates is sorted ascending; find the last one <= date.
	i := sort.Search(len(dates), func(i int) bool { return dates[i] > date })
	if i == 0 {
		return 0, false
	}
	last := dates[i-1]
	r := idx.rows[key{date: last, ticker: ticker}]
	idx.logf("priceindex: %s has no bar on %s, reusing pnl_price from %s", ticker, date, last)
	return r.pnlClose, true
}

// Has reports whether a bar exists for (date, ticker).
func (idx *Index) Has(date calendar.Date, ticker string) bool {
	_, ok := idx.rows[key{date: date, ticker: ticker}]
	return ok
}
