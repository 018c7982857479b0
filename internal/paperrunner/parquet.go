package paperrunner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/portfolio"
	"github.com/shopspring/decimal"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// tradeRow is trades.parquet's on-disk schema. Decimal fields are
// stored as their exact string representation (not DOUBLE) so
// round-tripping never loses the precision spec §8 invariant I1
// requires of cash/fee arithmetic.
type tradeRow struct {
	SignalID        string  `parquet:"name=signal_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date            string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Ticker          string  `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side            string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Shares          int64   `parquet:"name=shares, type=INT64"`
	TradePrice      string  `parquet:"name=trade_price, type=BYTE_ARRAY, convertedtype=UTF8"`
	PnLPrice        string  `parquet:"name=pnl_price, type=BYTE_ARRAY, convertedtype=UTF8"`
	Gross           string  `parquet:"name=gross, type=BYTE_ARRAY, convertedtype=UTF8"`
	Commission      string  `parquet:"name=commission, type=BYTE_ARRAY, convertedtype=UTF8"`
	StampTax        string  `parquet:"name=stamp_tax, type=BYTE_ARRAY, convertedtype=UTF8"`
	Slippage        string  `parquet:"name=slippage, type=BYTE_ARRAY, convertedtype=UTF8"`
	Reason          string  `parquet:"name=reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	BuyTradePrice   string  `parquet:"name=buy_trade_price, type=BYTE_ARRAY, convertedtype=UTF8"`
	BuyPnLPrice     string  `parquet:"name=buy_pnl_price, type=BYTE_ARRAY, convertedtype=UTF8"`
	PnLProfitAmount string  `parquet:"name=pnl_profit_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	PnLProfitPct    float64 `parquet:"name=pnl_profit_pct, type=DOUBLE"`
	SellType        string  `parquet:"name=sell_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	StopLossTrigger string  `parquet:"name=stop_loss_trigger, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func toTradeRow(t portfolio.TradeRecord) tradeRow {
	return tradeRow{
		SignalID:        t.SignalID,
		Date:            string(t.Date),
		Ticker:          t.Ticker,
		Side:            string(t.Side),
		Shares:          t.Shares,
		TradePrice:      t.TradePrice.String(),
		PnLPrice:        t.PnLPrice.String(),
		Gross:           t.Gross.String(),
		Commission:      t.Commission.String(),
		StampTax:        t.StampTax.String(),
		Slippage:        t.Slippage.String(),
		Reason:          t.Reason,
		BuyTradePrice:   t.BuyTradePrice.String(),
		BuyPnLPrice:     t.BuyPnLPrice.String(),
		PnLProfitAmount: t.PnLProfitAmount.String(),
		PnLProfitPct:    t.PnLProfitPct,
		SellType:        string(t.SellType),
		StopLossTrigger: t.StopLossTrigger,
	}
}

func fromTradeRow(r tradeRow) (portfolio.TradeRecord, error) {
	d, err := calendar.ParseDate(r.Date)
	if err != nil {
		return portfolio.TradeRecord{}, err
	}
	parse := func(s string) decimal.Decimal {
		v, _ := decimal.NewFromString(s)
		return v
	}
	return portfolio.TradeRecord{
		SignalID:        r.SignalID,
		Date:            d,
		Ticker:          r.Ticker,
		Side:            portfolio.Side(r.Side),
		Shares:          r.Shares,
		TradePrice:      parse(r.TradePrice),
		PnLPrice:        parse(r.PnLPrice),
		Gross:           parse(r.Gross),
		Commission:      parse(r.Commission),
		StampTax:        parse(r.StampTax),
		Slippage:        parse(r.Slippage),
		Reason:          r.Reason,
		BuyTradePrice:   parse(r.BuyTradePrice),
		BuyPnLPrice:     parse(r.BuyPnLPrice),
		PnLProfitAmount: parse(r.PnLProfitAmount),
		PnLProfitPct:    r.PnLProfitPct,
		SellType:        portfolio.SellType(r.SellType),
		StopLossTrigger: r.StopLossTrigger,
	}, nil
}

// ReadTrades reads every row currently in trades.parquet. Returns an
// empty slice (not an error) when the file does not exist yet, for a
// brand-new paper account.
func ReadTrades(path string) ([]portfolio.TradeRecord, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("paperrunner: open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(tradeRow), 4)
	if err != nil {
		return nil, fmt.Errorf("paperrunner: open trades parquet reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]tradeRow, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("paperrunner: read trades rows: %w", err)
		}
	}

	out := make([]portfolio.TradeRecord, 0, n)
	for _, r := range rows {
		rec, err := fromTradeRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// AppendTrades rewrites trades.parquet with existing ++ newRecords, per
// spec §4.12 step 5's "atomically rewrite ... the trade log (append)".
// Parquet's column-chunked layout has no true append mode, so the
// append-only guarantee is implemented as read-all, concat, write-to-
// temp-file, atomic rename.
func AppendTrades(path string, newRecords []portfolio.TradeRecord) error {
	if len(newRecords) == 0 {
		return nil
	}
	existing, err := ReadTrades(path)
	if err != nil {
		return err
	}
	all := append(existing, newRecords...)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("paperrunner: mkdir for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("paperrunner: create %s: %w", tmp, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(tradeRow), 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("paperrunner: open trades parquet writer: %w", err)
	}
	for _, rec := range all {
		if err := pw.Write(toTradeRow(rec)); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("paperrunner: write trade row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("paperrunner: finalize trades parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("paperrunner: close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// navRow is nav/nav.parquet's on-disk schema.
type navRow struct {
	Date        string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Cash        string  `parquet:"name=cash, type=BYTE_ARRAY, convertedtype=UTF8"`
	MarketValue string  `parquet:"name=market_value, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalValue  string  `parquet:"name=total_value, type=BYTE_ARRAY, convertedtype=UTF8"`
	NAV         float64 `parquet:"name=nav, type=DOUBLE"`
	DailyReturn float64 `parquet:"name=daily_return, type=DOUBLE"`
}

func toNAVRow(p portfolio.NAVPoint) navRow {
	return navRow{
		Date:        string(p.Date),
		Cash:        p.Cash.String(),
		MarketValue: p.MarketValue.String(),
		TotalValue:  p.TotalValue.String(),
		NAV:         p.NAV,
		DailyReturn: p.DailyReturn,
	}
}

func fromNAVRow(r navRow) (portfolio.NAVPoint, error) {
	d, err := calendar.ParseDate(r.Date)
	if err != nil {
		return portfolio.NAVPoint{}, err
	}
	parse := func(s string) decimal.Decimal {
		v, _ := decimal.NewFromString(s)
		return v
	}
	return portfolio.NAVPoint{
		Date:        d,
		Cash:        parse(r.Cash),
		MarketValue: parse(r.MarketValue),
		TotalValue:  parse(r.TotalValue),
		NAV:         r.NAV,
		DailyReturn: r.DailyReturn,
	}, nil
}

// ReadNAV reads every row in nav.parquet, empty when the file is absent.
func ReadNAV(path string) ([]portfolio.NAVPoint, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("paperrunner: open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(navRow), 4)
	if err != nil {
		return nil, fmt.Errorf("paperrunner: open nav parquet reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]navRow, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("paperrunner: read nav rows: %w", err)
		}
	}

	out := make([]portfolio.NAVPoint, 0, n)
	for _, r := range rows {
		pt, err := fromNAVRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, nil
}

// AppendNAV rewrites nav.parquet with existing ++ newPoints.
func AppendNAV(path string, newPoints []portfolio.NAVPoint) error {
	if len(newPoints) == 0 {
		return nil
	}
	existing, err := ReadNAV(path)
	if err != nil {
		return err
	}
	all := append(existing, newPoints...)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("paperrunner: mkdir for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("paperrunner: create %s: %w", tmp, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(navRow), 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("paperrunner: open nav parquet writer: %w", err)
	}
	for _, pt := range all {
		if err := pw.Write(toNAVRow(pt)); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("paperrunner: write nav row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("paperrunner: finalize nav parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("paperrunner: close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// pendingWeightRow is one pending/{YYYYMMDD}.parquet row: a target
// weight awaiting its T+1 fill.
type pendingWeightRow struct {
	Ticker string  `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	Weight float64 `parquet:"name=weight, type=DOUBLE"`
}

// WritePendingWeights writes the full target-weight set for one signal
// date as a standalone parquet file (spec §6: `pending/{YYYYMMDD}.parquet`),
// replacing any prior file for that date via a temp-file rename.
func WritePendingWeights(path string, weights map[string]float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("paperrunner: mkdir for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("paperrunner: create %s: %w", tmp, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(pendingWeightRow), 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("paperrunner: open pending-weights parquet writer: %w", err)
	}
	for ticker, w := range weights {
		if err := pw.Write(pendingWeightRow{Ticker: ticker, Weight: w}); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("paperrunner: write pending-weight row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("paperrunner: finalize pending-weights parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("paperrunner: close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// ReadPendingWeights reads a pending/{YYYYMMDD}.parquet file, or returns
// nil with no error if it does not exist (no rebalance happened on that
// date).
func ReadPendingWeights(path string) (map[string]float64, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("paperrunner: open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(pendingWeightRow), 4)
	if err != nil {
		return nil, fmt.Errorf("paperrunner: open pending-weights parquet reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]pendingWeightRow, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("paperrunner: read pending-weight rows: %w", err)
		}
	}

	out := make(map[string]float64, n)
	for _, r := range rows {
		out[r.Ticker] = r.Weight
	}
	return out, nil
}
