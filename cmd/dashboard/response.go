package main

import "time"

// MetricsResponse mirrors analytics.PerformanceReport for the dashboard
// wire format, computed from the persisted paper account's NAV curve and
// trade log rather than a database-backed trade table.
type MetricsResponse struct {
	TotalPnL       float64   `json:"total_pnl"`
	WinRate        float64   `json:"win_rate"`
	ProfitFactor   float64   `json:"profit_factor"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	TotalTrades    int       `json:"total_trades"`
	WinningTrades  int       `json:"winning_trades"`
	LosingTrades   int       `json:"losing_trades"`
	AvgPnL         float64   `json:"avg_pnl"`
	GrossProfit    float64   `json:"gross_profit"`
	GrossLoss      float64   `json:"gross_loss"`
	AvgHoldDays    float64   `json:"avg_hold_days"`
	InitialCapital float64   `json:"initial_capital"`
	FinalNAV       float64   `json:"final_nav"`
	Timestamp      time.Time `json:"timestamp"`
}

// PositionResponse represents a single open lot.
type PositionResponse struct {
	Ticker        string `json:"ticker"`
	Shares        int64  `json:"shares"`
	BuyTradePrice string `json:"buy_trade_price"`
	BuyDate       string `json:"buy_date"`
	ExitDueDate   string `json:"exit_due_date,omitempty"`
}

// PositionsResponse contains all open positions.
type PositionsResponse struct {
	Cash              string             `json:"cash"`
	Positions         []PositionResponse `json:"positions"`
	OpenPositionCount int                `json:"open_position_count"`
	Timestamp         time.Time          `json:"timestamp"`
}

// EquityCurvePoint represents a single point in the NAV curve.
type EquityCurvePoint struct {
	Date        string  `json:"date"`
	NAV         float64 `json:"nav"`
	DailyReturn float64 `json:"daily_return"`
}

// EquityCurveResponse contains the NAV curve for charting.
type EquityCurveResponse struct {
	Points      []EquityCurvePoint `json:"points"`
	StartNAV    float64            `json:"start_nav"`
	FinalNAV    float64            `json:"final_nav"`
	MaxDrawdown float64            `json:"max_drawdown"`
	Timestamp   time.Time          `json:"timestamp"`
}

// StatusResponse contains system status information.
type StatusResponse struct {
	OpenPositions  int       `json:"open_positions"`
	Cash           string    `json:"cash"`
	InitialCapital float64   `json:"initial_capital"`
	LastTradeDate  string    `json:"last_trade_date,omitempty"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}

// ErrorResponse is returned when an error occurs.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      int       `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}
