// Package tradability derives per-(date, ticker) suspension and
// limit-up/limit-down flags from bar data, per spec §4.2.
package tradability

import (
	"github.com/lchen-trading/ashare-sim/internal/bar"
	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/errs"
)

// Non-ST and ST daily price-move caps for the Shanghai/Shenzhen exchanges.
const (
	nonSTLimitPct = 9.9
	stLimitPct    = 4.9
	limitEpsilon  = 0.1 // tolerance for float rounding in price-based detection
)

// Flags reports the tradability state of one (date, ticker) pair.
type Flags struct {
	Suspended bool
	LimitUp   bool
	LimitDown bool
}

// CanBuy reports whether a buy can fill: not suspended and not at the
// up-limit.
func (f Flags) CanBuy() bool { return !f.Suspended && !f.LimitUp }

// CanSell reports whether a sell can fill: not suspended and not at the
// down-limit.
func (f Flags) CanSell() bool { return !f.Suspended && !f.LimitDown }

// Map is the immutable per-(date, ticker) tradability lookup, built once
// from the bar table alongside the PriceIndex.
type Map struct {
	flags map[string]map[calendar.Date]Flags
}

// Build derives tradability flags for every bar. When the bar carries
// explicit limit flags (IsSuspended/IsLimitUp/IsLimitDown) those are used
// directly; otherwise limit-up/limit-down are derived from pct_change (or,
// failing that, from close vs. the previous close) against the ST/non-ST
// thresholds.
func Build(bars []bar.Bar) *Map {
	byTicker := make(map[string][]bar.Bar)
	for _, b := range bars {
		byTicker[b.Ticker] = append(byTicker[b.Ticker], b)
	}

	m := &Map{flags: make(map[string]map[calendar.Date]Flags)}
	for ticker, rows := range byTicker {
		sortBarsByDate(rows)
		byDate := make(map[calendar.Date]Flags, len(rows))

		var prevClose float64
		havePrev := false
		for _, b := range rows {
			limitPct := nonSTLimitPct
			if b.IsST {
				limitPct = stLimitPct
			}

			suspended := b.IsSuspended || b.Volume <= 0

			var limitUp, limitDown bool
			switch {
			case explicitLimitFlags(b):
				limitUp = b.IsLimitUp
				limitDown = b.IsLimitDown
			case b.PctChangeSet:
				limitUp = b.PctChange >= limitPct-limitEpsilon
				limitDown = b.PctChange <= -(limitPct - limitEpsilon)
			case havePrev && prevClose > 0:
				pct := (b.Close - prevClose) / prevClose * 100
				limitUp = pct >= limitPct-limitEpsilon
				limitDown = pct <= -(limitPct - limitEpsilon)
			}

			byDate[b.Date] = Flags{Suspended: suspended, LimitUp: limitUp, LimitDown: limitDown}
			if b.Close > 0 {
				prevClose = b.Close
				havePrev = true
			}
		}
		m.flags[ticker] = byDate
	}
	return m
}

// explicitLimitFlags reports whether the bar's own IsLimitUp/IsLimitDown
// columns should be trusted (i.e. the provider shipped explicit
// limit-price-derived detection) rather than deriving from pct_change.
// They are trusted only when at least one of them is set; a bar with
// both false falls through to the pct_change / prior-close derivation.
func explicitLimitFlags(b bar.Bar) bool {
	return b.IsLimitUp || b.IsLimitDown
}

func sortBarsByDate(rows []bar.Bar) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j-1].Date > rows[j].Date; j-- {
			rows[j-1], rows[j] = rows[j], rows[j-1]
		}
	}
}

// Get returns the tradability flags for (date, ticker), or
// ErrorKind::Missing if the bar table has no row there — per spec §4.2,
// the engine must not guess, and callers treat a missing row as
// untradable.
func (m *Map) Get(date calendar.Date, ticker string) (Flags, error) {
	byDate, ok := m.flags[ticker]
	if !ok {
		return Flags{}, errs.ForTicker(errs.KindMissing, ticker, "no bar on any date")
	}
	f, ok := byDate[date]
	if !ok {
		return Flags{}, errs.ForTicker(errs.KindMissing, ticker, "no bar on date "+string(date))
	}
	return f, nil
}

// CanBuy is a convenience wrapper: a missing bar is untradable, never an
// error, for callers that only need a boolean (e.g. PendingOrderQueue
// retry, SignalPipeline backfill).
func (m *Map) CanBuy(date calendar.Date, ticker string) bool {
	f, err := m.Get(date, ticker)
	if err != nil {
		return false
	}
	return f.CanBuy()
}

// CanSell is the sell-side analogue of CanBuy.
func (m *Map) CanSell(date calendar.Date, ticker string) bool {
	f, err := m.Get(date, ticker)
	if err != nil {
		return false
	}
	return f.CanSell()
}
