// Package main is the `paper` CLI: the daily, persistent counterpart to
// the backtest engine (spec §4.12), driven by internal/paperrunner.
//
// Grounded on the teacher's cmd/engine/main.go for the overall shape
// (load config, wire components, run one unit of work, log every
// action) and on the opense-ai example's cobra-based cmd/<name>/main.go
// for the command tree itself — the teacher's own entrypoint uses
// flag.Parse() and a --mode string, which does not fit three genuinely
// distinct verbs (config/run/positions) as cleanly as cobra subcommands.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/config"
	"github.com/lchen-trading/ashare-sim/internal/marketdata"
	"github.com/lchen-trading/ashare-sim/internal/paperrunner"
	"github.com/lchen-trading/ashare-sim/internal/ranker"
)

// defaultRankerWeights mirrors the teacher's StockScore factor
// vocabulary (trend/breakout/momentum), now scored from the external
// feature table instead of recomputed from candles in-process.
var defaultRankerWeights = map[string]float64{
	"momentum_score":       0.3,
	"trend_strength_score": 0.3,
	"mean_reversion_score": 0.15,
	"macd_score":           0.15,
	"bollinger_score":      0.1,
}

var logger = log.New(os.Stderr, "[paper] ", log.LstdFlags)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paper",
	Short: "Run the daily paper-trading simulation (spec §4.12)",
}

func init() {
	rootCmd.PersistentFlags().String("base", "./paper", "paper account base directory")
	rootCmd.PersistentFlags().String("calendar", "", "trading-calendar JSON file (ordered YYYYMMDD strings)")
	rootCmd.PersistentFlags().StringSlice("universe", nil, "comma-separated ticker universe")
	viper.BindPFlag("base", rootCmd.PersistentFlags().Lookup("base"))
	viper.BindPFlag("calendar", rootCmd.PersistentFlags().Lookup("calendar"))
	viper.BindPFlag("universe", rootCmd.PersistentFlags().Lookup("universe"))
	viper.SetEnvPrefix("ASHARE_PAPER")
	viper.AutomaticEnv()

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(positionsCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Write a config.json seeded with spec §6 defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		base := viper.GetString("base")
		cfg := config.Default()

		if v, _ := cmd.Flags().GetString("database-url"); v != "" {
			cfg.DatabaseURL = v
		}
		if v, _ := cmd.Flags().GetString("market-calendar-path"); v != "" {
			cfg.MarketCalendarPath = v
		} else {
			cfg.MarketCalendarPath = viper.GetString("calendar")
		}
		if v, _ := cmd.Flags().GetInt("top-n"); v > 0 {
			cfg.TopN = v
		}
		if v, _ := cmd.Flags().GetFloat64("initial-capital"); v > 0 {
			cfg.InitialCapital = v
		}
		if v, _ := cmd.Flags().GetInt("rebalance-freq"); v > 0 {
			cfg.RebalanceFreq = v
		}

		path := paperrunner.Paths{Base: base}.ConfigPath()
		if err := os.MkdirAll(base, 0o755); err != nil {
			return fmt.Errorf("paper: create base dir: %w", err)
		}
		if err := config.Save(path, &cfg); err != nil {
			return err
		}
		logger.Printf("wrote %s", path)
		return nil
	},
}

func init() {
	configCmd.Flags().String("database-url", "", "Postgres DSN for clean_bars/features")
	configCmd.Flags().String("market-calendar-path", "", "trading-calendar JSON path (defaults to --calendar)")
	configCmd.Flags().Int("top-n", 0, "override top_n")
	configCmd.Flags().Float64("initial-capital", 0, "override initial_capital")
	configCmd.Flags().Int("rebalance-freq", 0, "override rebalance_freq")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one idempotent daily tick for --trade-date",
	RunE: func(cmd *cobra.Command, args []string) error {
		tradeDate, _ := cmd.Flags().GetString("trade-date")
		if tradeDate == "" {
			return fmt.Errorf("paper run: --trade-date is required")
		}
		d, err := calendar.ParseDate(tradeDate)
		if err != nil {
			return fmt.Errorf("paper run: %w", err)
		}

		runner, err := buildRunner(cmd.Context())
		if err != nil {
			return err
		}

		res, err := runner.Run(cmd.Context(), d)
		if err != nil {
			return fmt.Errorf("paper run: %w", err)
		}
		logger.Printf("trade_date=%s t0_ran=%v t1_ran=%v trades_executed=%d nav=%.4f",
			res.TradeDate, res.T0Ran, res.T1Ran, res.TradesExecuted, res.NAV.NAV)
		return nil
	},
}

func init() {
	runCmd.Flags().String("trade-date", "", "requested trade date, YYYYMMDD (rolled forward to the next trading day)")
}

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Print the persisted account's current holdings",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := buildRunner(cmd.Context())
		if err != nil {
			return err
		}
		snap, err := runner.Positions()
		if err != nil {
			return fmt.Errorf("paper positions: %w", err)
		}
		fmt.Println(snap.String())
		return nil
	},
}

// buildRunner assembles a paperrunner.Runner from the persistent
// config.json (for its ranker/database tunables) and the CLI's
// --calendar/--universe/--base flags.
func buildRunner(ctx context.Context) (*paperrunner.Runner, error) {
	base := viper.GetString("base")
	calendarPath := viper.GetString("calendar")
	universe := viper.GetStringSlice("universe")

	cfg, err := config.Load(paperrunner.Paths{Base: base}.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("paper: load config (run `paper config` first): %w", err)
	}
	if calendarPath == "" {
		calendarPath = cfg.MarketCalendarPath
	}
	if calendarPath == "" {
		return nil, fmt.Errorf("paper: no trading-calendar path (--calendar or config.json's market_calendar_path)")
	}
	seq, err := calendar.LoadSequence(calendarPath)
	if err != nil {
		return nil, err
	}
	if len(universe) == 0 {
		return nil, fmt.Errorf("paper: --universe is required (config.json's universe field only names the pool, not the ticker list)")
	}

	bars, err := marketdata.NewBarStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	features, err := marketdata.NewFeatureStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	notifier, err := marketdata.NewBarReadyNotifier(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Printf("paper: bar-ready notifier unavailable, falling back to re-check without push notification: %v", err)
	}

	source := &paperrunner.PostgresSource{
		Bars:         bars,
		Features:     features,
		Notifier:     notifier,
		FeatureNames: rankerFeatureNames(),
		Logger:       logger,
	}

	rk := ranker.New(ranker.Config{Weights: defaultRankerWeights}, logger)
	return paperrunner.New(base, universe, rk, source, seq, logger), nil
}

func rankerFeatureNames() []string {
	names := make([]string, 0, len(defaultRankerWeights))
	for k := range defaultRankerWeights {
		names = append(names, k)
	}
	return names
}
