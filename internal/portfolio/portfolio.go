// Package portfolio implements position bookkeeping with dual-price
// accounting: cash moves on the unadjusted trade price, PnL attribution
// happens on the back-adjusted pnl price, per spec §4.4.
//
// Grounded on the teacher's internal/broker.PaperBroker, which is the
// closest analogue in the corpus: a mutex-guarded in-memory ledger of
// cash and holdings driven by Buy/Sell operations. This package
// generalizes that shape to FIFO lot tracking with dual cost bases and a
// persistent NAV curve and trade log, which PaperBroker does not need
// (it only tracks one holding entry per symbol with no return
// attribution).
package portfolio

import (
	"fmt"
	"sort"

	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/costmodel"
	"github.com/lchen-trading/ashare-sim/internal/errs"
	"github.com/lchen-trading/ashare-sim/internal/priceindex"
	"github.com/shopspring/decimal"
)

// PriceSource selects which OHLC field a fill uses.
type PriceSource string

const (
	PriceSourceClose PriceSource = "close"
	PriceSourceOpen  PriceSource = "open"
)

// NAVPoint is one entry in the NAV curve, per spec §6's output contract.
type NAVPoint struct {
	Date         calendar.Date
	Cash         decimal.Decimal
	MarketValue  decimal.Decimal
	TotalValue   decimal.Decimal
	NAV          float64
	DailyReturn  float64
}

// Portfolio owns cash, open lots, the NAV curve, and the trade log
// exclusively for the lifetime of one engine run (spec §5's
// shared-resource policy: external callers only read through getters).
type Portfolio struct {
	cash            decimal.Decimal
	initialCapital  decimal.Decimal
	positions       map[string]*Lot
	navHistory      []NAVPoint
	tradeLog        []TradeRecord
	lastKnownPnL    map[string]decimal.Decimal // fallback mark-to-market price per ticker

	prices *priceindex.Index
	costs  *costmodel.Model
}

// New creates a Portfolio with the given initial capital.
func New(initialCapital decimal.Decimal, prices *priceindex.Index, costs *costmodel.Model) *Portfolio {
	return &Portfolio{
		cash:           initialCapital,
		initialCapital: initialCapital,
		positions:      make(map[string]*Lot),
		lastKnownPnL:   make(map[string]decimal.Decimal),
		prices:         prices,
		costs:          costs,
	}
}

// Cash returns current available cash.
func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

// Position returns the open lot for ticker, if any.
func (p *Portfolio) Position(ticker string) (Lot, bool) {
	l, ok := p.positions[ticker]
	if !ok {
		return Lot{}, false
	}
	return *l, true
}

// Positions returns every open ticker, sorted lexicographically for
// deterministic iteration per spec §5.
func (p *Portfolio) Positions() []string {
	out := make([]string, 0, len(p.positions))
	for t := range p.positions {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TradeLog returns the full append-only trade log. Read-only: callers
// must not mutate the returned slice's backing elements via index
// (TradeRecord is a value type, so this is safe by construction).
func (p *Portfolio) TradeLog() []TradeRecord {
	out := make([]TradeRecord, len(p.tradeLog))
	copy(out, p.tradeLog)
	return out
}

// NAVHistory returns the full NAV curve.
func (p *Portfolio) NAVHistory() []NAVPoint {
	out := make([]NAVPoint, len(p.navHistory))
	copy(out, p.navHistory)
	return out
}

func (p *Portfolio) priceFor(source PriceSource, date calendar.Date, ticker string, adj bool) (decimal.Decimal, error) {
	switch source {
	case PriceSourceOpen:
		v, err := p.prices.OpenPrice(date, ticker, adj)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromFloat(v), nil
	default:
		if adj {
			v, ok := p.prices.PnLPrice(date, ticker)
			if !ok {
				return decimal.Decimal{}, errs.ForTicker(errs.KindMissing, ticker, "no pnl_price on "+string(date))
			}
			return decimal.NewFromFloat(v), nil
		}
		v, err := p.prices.TradePrice(date, ticker)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromFloat(v), nil
	}
}

// Buy opens a new lot for ticker, sized to fit as many whole round lots
// as targetNotional affords, per spec §4.4.
func (p *Portfolio) Buy(ticker string, targetNotional decimal.Decimal, date calendar.Date, source PriceSource, holdingPeriodDays int, seq *calendar.Sequence) (*TradeRecord, error) {
	if _, alreadyOpen := p.positions[ticker]; alreadyOpen {
		return nil, errs.ForTicker(errs.KindDuplicateLot, ticker, "a lot is already open for this ticker")
	}

	tradePrice, err := p.priceFor(source, date, ticker, false)
	if err != nil {
		return nil, err
	}
	if !tradePrice.IsPositive() {
		return nil, errs.ForTicker(errs.KindDataIntegrity, ticker, fmt.Sprintf("non-positive fill price %s", tradePrice))
	}

	rawShares := targetNotional.Div(tradePrice).Floor().IntPart()
	shares := rawShares - (rawShares % LotSize)
	if shares < LotSize {
		return nil, errs.ForTicker(errs.KindInsufficientNotional, ticker, "target notional buys fewer than one round lot")
	}

	notional := tradePrice.Mul(decimal.NewFromInt(shares))
	fee, err := p.costs.BuyCost(notional)
	if err != nil {
		return nil, err
	}
	totalFee := fee.Total()
	totalCost := notional.Add(totalFee)
	if p.cash.LessThan(totalCost) {
		return nil, errs.ForTicker(errs.KindInsufficientCash, ticker, fmt.Sprintf("need %s, have %s", totalCost, p.cash))
	}

	pnlPrice, err := p.priceFor(source, date, ticker, true)
	if err != nil {
		return nil, err
	}

	p.cash = p.cash.Sub(totalCost)

	var exitDue *calendar.Date
	if holdingPeriodDays > 0 && seq != nil {
		if d, ok := seq.Add(date, holdingPeriodDays); ok {
			exitDue = &d
		}
	}

	p.positions[ticker] = &Lot{
		Ticker:        ticker,
		Shares:        shares,
		BuyTradePrice: tradePrice,
		BuyPnLPrice:   pnlPrice,
		BuyCostCash:   totalCost,
		BuyDate:       date,
		ExitDueDate:   exitDue,
		BuyLegFee:     totalFee,
	}
	p.lastKnownPnL[ticker] = pnlPrice

	rec := TradeRecord{
		Date:       date,
		Ticker:     ticker,
		Side:       SideBuy,
		Shares:     shares,
		TradePrice: tradePrice,
		PnLPrice:   pnlPrice,
		Gross:      notional,
		Commission: fee.Commission,
		StampTax:   fee.StampTax, // zero: no stamp tax on a buy in the A-share market
		Slippage:   fee.Slippage,
	}
	p.tradeLog = append(p.tradeLog, rec)
	return &rec, nil
}

// Sell closes the open lot for ticker, computing round-trip PnL on the
// adjusted basis per spec §4.4 step 4.
func (p *Portfolio) Sell(ticker string, date calendar.Date, source PriceSource, sellType SellType, reason, stopLossTrigger string) (*TradeRecord, error) {
	lot, ok := p.positions[ticker]
	if !ok {
		return nil, errs.ForTicker(errs.KindNotHeld, ticker, "no open lot to sell")
	}

	sellTradePrice, err := p.priceFor(source, date, ticker, false)
	if err != nil {
		return nil, err
	}
	if !sellTradePrice.IsPositive() {
		return nil, errs.ForTicker(errs.KindDataIntegrity, ticker, fmt.Sprintf("non-positive fill price %s", sellTradePrice))
	}
	sellPnLPrice, err := p.priceFor(source, date, ticker, true)
	if err != nil {
		return nil, err
	}

	shares := decimal.NewFromInt(lot.Shares)
	notional := sellTradePrice.Mul(shares)
	fee, err := p.costs.SellCost(notional)
	if err != nil {
		return nil, err
	}
	totalFee := fee.Total()
	p.cash = p.cash.Add(notional).Sub(totalFee)

	pnlBuyNotional := lot.BuyPnLPrice.Mul(shares)
	pnlSellNotional := sellPnLPrice.Mul(shares)
	roundTripFees := lot.BuyLegFee.Add(totalFee)
	profitAmount := pnlSellNotional.Sub(pnlBuyNotional).Sub(roundTripFees)

	denom := pnlBuyNotional.Add(lot.BuyLegFee)
	var profitPct float64
	if denom.IsPositive() {
		profitPct, _ = profitAmount.Div(denom).Float64()
	}

	rec := TradeRecord{
		Date:            date,
		Ticker:          ticker,
		Side:            SideSell,
		Shares:          lot.Shares,
		TradePrice:      sellTradePrice,
		PnLPrice:        sellPnLPrice,
		Gross:           notional,
		Commission:      fee.Commission,
		Slippage:        fee.Slippage,
		StampTax:        fee.StampTax,
		Reason:          reason,
		BuyTradePrice:   lot.BuyTradePrice,
		BuyPnLPrice:     lot.BuyPnLPrice,
		PnLProfitAmount: profitAmount,
		PnLProfitPct:    profitPct,
		SellType:        sellType,
		StopLossTrigger: stopLossTrigger,
	}

	delete(p.positions, ticker)
	p.tradeLog = append(p.tradeLog, rec)
	return &rec, nil
}

// RestoreState reinitializes a freshly constructed Portfolio from
// persisted state (spec §4.12/§6's state/account.json, trades.parquet,
// nav/nav.parquet), for PaperRunner's cross-invocation continuity —
// each `paper run` call is a new process with no in-memory Portfolio to
// resume. Must be called before any Buy/Sell/MarkToMarket on this
// instance.
func (p *Portfolio) RestoreState(cash decimal.Decimal, positions map[string]Lot, navHistory []NAVPoint, tradeLog []TradeRecord) {
	p.cash = cash
	p.positions = make(map[string]*Lot, len(positions))
	p.lastKnownPnL = make(map[string]decimal.Decimal, len(positions))
	for ticker, lot := range positions {
		l := lot
		p.positions[ticker] = &l
		p.lastKnownPnL[ticker] = lot.BuyPnLPrice
	}
	p.navHistory = append([]NAVPoint(nil), navHistory...)
	p.tradeLog = append([]TradeRecord(nil), tradeLog...)
}

// MarkToMarket computes market_value + nav for date and appends a new
// NAVPoint, per spec §4.4's last step. A held ticker with no bar on date
// reuses the last known pnl_price (priceindex.PnLPrice already applies
// that fallback internally).
func (p *Portfolio) MarkToMarket(date calendar.Date) NAVPoint {
	marketValue := decimal.Zero
	for _, ticker := range p.Positions() {
		lot := p.positions[ticker]
		price, ok := p.prices.PnLPrice(date, ticker)
		var priceDec decimal.Decimal
		if ok {
			priceDec = decimal.NewFromFloat(price)
			p.lastKnownPnL[ticker] = priceDec
		} else if last, seen := p.lastKnownPnL[ticker]; seen {
			priceDec = last
		} else {
			priceDec = lot.BuyPnLPrice
		}
		marketValue = marketValue.Add(priceDec.Mul(decimal.NewFromInt(lot.Shares)))
	}

	total := p.cash.Add(marketValue)
	navFloat, _ := total.Div(p.initialCapital).Float64()

	var dailyReturn float64
	if n := len(p.navHistory); n > 0 && p.navHistory[n-1].NAV != 0 {
		dailyReturn = (navFloat - p.navHistory[n-1].NAV) / p.navHistory[n-1].NAV
	}

	point := NAVPoint{
		Date:        date,
		Cash:        p.cash,
		MarketValue: marketValue,
		TotalValue:  total,
		NAV:         navFloat,
		DailyReturn: dailyReturn,
	}
	p.navHistory = append(p.navHistory, point)
	return point
}
