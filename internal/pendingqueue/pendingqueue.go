// Package pendingqueue implements the deferred-order queue for sells
// that could not fill when triggered, per spec §4.5.
//
// Grounded on internal/risk.CircuitBreaker's shape: a small, mutex-free
// (single-threaded per spec §5) piece of state with bounded retry
// counters and an expiry rule, evaluated once per tick before any new
// order enters.
package pendingqueue

import (
	"log"

	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/costmodel"
	"github.com/lchen-trading/ashare-sim/internal/errs"
	"github.com/lchen-trading/ashare-sim/internal/portfolio"
	"github.com/lchen-trading/ashare-sim/internal/priceindex"
	"github.com/lchen-trading/ashare-sim/internal/tradability"
	"github.com/shopspring/decimal"
)

// Order is a deferred trade awaiting tradability.
//
// Per spec §4.5's design note, only sells are deferred in this engine:
// T-day backfill already guarantees T+1 buy-side tradability, so the
// buy-side fields exist for completeness/testability but Enqueue's
// production callers (StopLossMonitor, holding-period exits) only ever
// submit sells.
type Order struct {
	Ticker           string
	Side             portfolio.Side
	TargetNotional   decimal.Decimal // buys
	OriginDate       calendar.Date
	RetriesUsed      int
	FirstEnqueued    calendar.Date
	Reason           string
	SellType         portfolio.SellType
	StopLossTrigger  string
}

// Config bounds retry behavior.
type Config struct {
	MaxRetries    int
	MaxRetryDays  int
}

// Queue is the FIFO pending-order list.
type Queue struct {
	cfg    Config
	orders []*Order
	logger *log.Logger
}

// New creates an empty Queue.
func New(cfg Config, logger *log.Logger) *Queue {
	return &Queue{cfg: cfg, logger: logger}
}

func (q *Queue) logf(format string, args ...any) {
	if q.logger != nil {
		q.logger.Printf(format, args...)
	}
}

// Enqueue appends a new order, setting RetriesUsed=0 and
// FirstEnqueued=date.
func (q *Queue) Enqueue(o Order, date calendar.Date) {
	o.RetriesUsed = 0
	o.FirstEnqueued = date
	q.orders = append(q.orders, &o)
	q.logf("pendingqueue: enqueued %s %s (reason=%s)", o.Side, o.Ticker, o.Reason)
}

// Len reports the number of pending orders.
func (q *Queue) Len() int { return len(q.orders) }

// LoadOrders replaces the queue's contents wholesale, for deserializing
// persisted pending_sells/pending_sells.json (spec §6) between
// PaperRunner invocations.
func (q *Queue) LoadOrders(orders []Order) {
	q.orders = make([]*Order, len(orders))
	for i, o := range orders {
		cp := o
		q.orders[i] = &cp
	}
}

// Orders returns a read-only snapshot of pending orders, FIFO order.
func (q *Queue) Orders() []Order {
	out := make([]Order, len(q.orders))
	for i, o := range q.orders {
		out[i] = *o
	}
	return out
}

// FillResult reports the outcome of retrying one pending order.
type FillResult struct {
	Order  Order
	Record *portfolio.TradeRecord
	Err    error
}

// Retry walks the queue in FIFO order, filling whatever has become
// tradable on date, incrementing retry counters for the rest, and
// expiring orders that exceed max_retries or max_retry_days. Every order
// walked yields one FillResult: a fill, a fill error, an expiry error, or
// a tradability error for an order that stays queued. Must be
// invoked first in every tick, per spec §4.5's ordering guarantee: all
// retries run to completion before new sells/buys enter the queue this
// tick.
func (q *Queue) Retry(date calendar.Date, seq *calendar.Sequence, prices *priceindex.Index, trade *tradability.Map, pf *portfolio.Portfolio, costs *costmodel.Model, source portfolio.PriceSource) []FillResult {
	var results []FillResult
	remaining := q.orders[:0]

	for _, o := range q.orders {
		tradableNow := false
		switch o.Side {
		case portfolio.SideBuy:
			tradableNow = trade.CanBuy(date, o.Ticker)
		case portfolio.SideSell:
			tradableNow = trade.CanSell(date, o.Ticker)
		}

		if tradableNow {
			var rec *portfolio.TradeRecord
			var err error
			switch o.Side {
			case portfolio.SideBuy:
				rec, err = pf.Buy(o.Ticker, o.TargetNotional, date, source, 0, seq)
			case portfolio.SideSell:
				rec, err = pf.Sell(o.Ticker, date, source, o.SellType, o.Reason, o.StopLossTrigger)
			}
			if err != nil {
				q.logf("pendingqueue: retry fill failed for %s %s: %v", o.Side, o.Ticker, err)
				remaining = append(remaining, o)
				results = append(results, FillResult{Order: *o, Err: err})
				continue
			}
			q.logf("pendingqueue: filled deferred %s %s on %s", o.Side, o.Ticker, date)
			results = append(results, FillResult{Order: *o, Record: rec})
			continue
		}

		o.RetriesUsed++
		expired := false
		reason := ""
		if q.cfg.MaxRetries > 0 && o.RetriesUsed > q.cfg.MaxRetries {
			expired = true
			reason = "max_retries exceeded"
		}
		if !expired && q.cfg.MaxRetryDays > 0 {
			if days, ok := seq.TradingDaysBetween(o.FirstEnqueued, date); ok && days > q.cfg.MaxRetryDays {
				expired = true
				reason = "max_retry_days exceeded"
			}
		}

		if expired {
			q.logf("pendingqueue: expired %s %s (%s)", o.Side, o.Ticker, reason)
			results = append(results, FillResult{Order: *o, Err: errs.ForTicker(errs.KindPendingExpired, o.Ticker, reason)})
			continue
		}

		remaining = append(remaining, o)
		results = append(results, FillResult{Order: *o, Err: errs.ForTicker(errs.KindTradability, o.Ticker, "not tradable on "+string(date))})
	}

	q.orders = remaining
	return results
}
