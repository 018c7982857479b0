package portfolio

import (
	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/shopspring/decimal"
)

// LotSize is the exchange round-lot size: share counts must be integer
// multiples of this.
const LotSize = 100

// Lot is a single open position for one ticker, created by one buy and
// closed by one sell. Per spec §3/§8 invariant I4, at most one Lot is
// open per ticker at any time.
type Lot struct {
	Ticker string
	Shares int64

	// BuyTradePrice is the unadjusted fill price, used for cash accounting.
	BuyTradePrice decimal.Decimal
	// BuyPnLPrice is the back-adjusted price at fill time, used for
	// return attribution.
	BuyPnLPrice decimal.Decimal
	// BuyCostCash is the total cash outflow including fees.
	BuyCostCash decimal.Decimal

	BuyDate calendar.Date
	// ExitDueDate is BuyDate + holding_period trading days. Nil when the
	// strategy configuration has no mandatory holding period.
	ExitDueDate *calendar.Date

	// BuyLegFee is the commission+slippage paid at entry, carried forward
	// so Sell can compute round-trip profit_pct per spec §4.4 step 4.
	BuyLegFee decimal.Decimal
}
