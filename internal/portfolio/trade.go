package portfolio

import (
	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/shopspring/decimal"
)

// Side is buy or sell.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// SellType classifies why a sell happened, per spec §3.
type SellType string

const (
	SellTypeHoldingPeriod SellType = "holding_period"
	SellTypeStopLoss      SellType = "stop_loss"
	SellTypeRebalance     SellType = "rebalance"
	SellTypeForced        SellType = "forced"
)

// TradeRecord is one append-only entry in the trade log, per spec §3.
type TradeRecord struct {
	SignalID string
	Date     calendar.Date
	Ticker   string
	Side     Side
	Shares   int64

	TradePrice decimal.Decimal
	PnLPrice   decimal.Decimal
	Gross      decimal.Decimal

	Commission decimal.Decimal
	StampTax   decimal.Decimal
	Slippage   decimal.Decimal

	Reason string

	// Sell-only fields; zero-valued for buys.
	BuyTradePrice   decimal.Decimal
	BuyPnLPrice     decimal.Decimal
	PnLProfitAmount decimal.Decimal
	PnLProfitPct    float64
	SellType        SellType
	StopLossTrigger string // e.g. "drawdown", "trailing", "consecutive_limit_down"; empty unless SellType == stop_loss
}

// TotalFees sums the three fee components of a single leg.
func (t TradeRecord) TotalFees() decimal.Decimal {
	return t.Commission.Add(t.StampTax).Add(t.Slippage)
}
