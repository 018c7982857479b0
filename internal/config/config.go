// Package config loads and validates the durable paper-mode configuration
// described in spec §6. All configuration is loaded from a JSON file (plus
// CLI-flag/environment overrides applied by cmd/paper before the struct is
// serialized); no tunable is hardcoded in engine, scheduler, or pipeline
// logic.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lchen-trading/ashare-sim/internal/equitycurve"
)

// PriceSource selects close or open fills, mirroring portfolio.PriceSource
// without importing it (config must stay leaf-level and import-free of the
// engine packages it configures).
type PriceSource string

const (
	PriceClose PriceSource = "close"
	PriceOpen  PriceSource = "open"
)

// WeightMethod selects how SignalPipeline weights accepted candidates.
type WeightMethod string

const (
	WeightEqual WeightMethod = "equal"
	WeightScore WeightMethod = "score"
)

// Universe selects the candidate ticker pool the signal pipeline ranks
// over.
type Universe string

const (
	UniverseMainboard Universe = "mainboard"
	UniverseAll       Universe = "all"
)

// Config is the on-disk config.json schema, field-for-field per spec §6.
type Config struct {
	BuyPrice  PriceSource `json:"buy_price"`
	SellPrice PriceSource `json:"sell_price"`

	TopN             int          `json:"top_n"`
	InitialCapital   float64      `json:"initial_capital"`
	RebalanceFreq    int          `json:"rebalance_freq"`
	WeightMethod     WeightMethod `json:"weight_method"`
	Universe         Universe     `json:"universe"`
	ModelVersion     *int         `json:"model_version"`
	HoldingPeriodDays int         `json:"holding_period_days"`

	BatchRebalanceTranches int                   `json:"batch_rebalance_tranches"`
	EquityCurveApplyScope  equitycurve.ApplyScope `json:"equity_curve_apply_scope"`

	StopLossEnabled                bool    `json:"stop_loss_enabled"`
	StopLossDrawdownPct            float64 `json:"stop_loss_drawdown_pct"`
	StopLossTrailingEnabled        bool    `json:"stop_loss_trailing_enabled"`
	StopLossTrailingPct            float64 `json:"stop_loss_trailing_pct"`
	StopLossConsecutiveLimitDown   int     `json:"stop_loss_consecutive_limit_down"`

	EquityCurveEnabled bool                `json:"equity_curve_enabled"`
	EquityCurve        EquityCurveConfig   `json:"equity_curve"`

	RiskBudgetEnabled bool    `json:"risk_budget_enabled"`
	VolWindow         int     `json:"vol_window"`
	VolEpsilon        float64 `json:"vol_epsilon"`

	PendingMaxRetries   int `json:"pending_max_retries"`
	PendingMaxRetryDays int `json:"pending_max_retry_days"`

	Fees FeesConfig `json:"fees"`

	RiskGuard RiskGuardConfig `json:"risk_guard"`

	DatabaseURL        string `json:"database_url"`
	MarketCalendarPath string `json:"market_calendar_path"`
}

// EquityCurveConfig mirrors equitycurve.Config's JSON-serializable fields,
// the equity_curve sub-object spec §6 names.
type EquityCurveConfig struct {
	Brackets             []equitycurve.Bracket `json:"brackets"`
	MAShortWindow        int                   `json:"ma_short_window"`
	MALongWindow         int                   `json:"ma_long_window"`
	MAExposureOn         float64               `json:"ma_exposure_on"`
	MAExposureOff        float64               `json:"ma_exposure_off"`
	MinExposure          float64               `json:"min_exposure"`
	MaxExposure          float64               `json:"max_exposure"`
	RecoveryMode         equitycurve.RecoveryMode `json:"recovery_mode"`
	RecoveryDelayPeriods int                   `json:"recovery_delay_periods"`
	RecoveryStep         float64               `json:"recovery_step"`
}

// FeesConfig mirrors costmodel.Config's JSON schema.
type FeesConfig struct {
	CommissionRate float64 `json:"commission_rate"`
	MinCommission  float64 `json:"min_commission"`
	StampTaxRate   float64 `json:"stamp_tax_rate"`
	SlippageRate   float64 `json:"slippage_rate"`
}

// RiskGuardConfig holds the portfolio-level hard caps enforced by
// internal/riskguard before any buy is placed.
type RiskGuardConfig struct {
	Enabled                 bool    `json:"enabled"`
	MaxOpenPositions        int     `json:"max_open_positions"`
	MaxDailyLossPct         float64 `json:"max_daily_loss_pct"`
	MaxCapitalDeploymentPct float64 `json:"max_capital_deployment_pct"`
}

// Default returns the field defaults spec §6 documents for fields the
// config file omits.
func Default() Config {
	return Config{
		BuyPrice:          PriceClose,
		SellPrice:         PriceClose,
		TopN:              5,
		InitialCapital:    500000,
		WeightMethod:      WeightEqual,
		Universe:          UniverseMainboard,
		HoldingPeriodDays:     5,
		EquityCurveApplyScope: equitycurve.ScopeFullSet,
		PendingMaxRetries:     5,
		PendingMaxRetryDays: 10,
	}
}

// Load reads config.json from path on top of Default(), so a field the
// file omits keeps its default value (a field the file sets to zero stays
// zero), then validates.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", absPath, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// Save atomically writes cfg to path as config.json (write to a temp file
// in the same directory, then rename — spec §9's "specify atomic-rename
// semantics for the sentinel write" applies equally to config.json).
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: rename temp file: %w", err)
	}
	return nil
}

// Validate checks that every required field is present and sane, per
// spec §6's enumerated schema.
func (c *Config) Validate() error {
	if c.BuyPrice != PriceClose && c.BuyPrice != PriceOpen {
		return fmt.Errorf("buy_price must be 'close' or 'open', got %q", c.BuyPrice)
	}
	if c.SellPrice != PriceClose && c.SellPrice != PriceOpen {
		return fmt.Errorf("sell_price must be 'close' or 'open', got %q", c.SellPrice)
	}
	if c.TopN <= 0 {
		return fmt.Errorf("top_n must be positive, got %d", c.TopN)
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive, got %f", c.InitialCapital)
	}
	if c.RebalanceFreq <= 0 {
		return fmt.Errorf("rebalance_freq must be positive, got %d", c.RebalanceFreq)
	}
	if c.WeightMethod != WeightEqual && c.WeightMethod != WeightScore {
		return fmt.Errorf("weight_method must be 'equal' or 'score', got %q", c.WeightMethod)
	}
	if c.Universe != UniverseMainboard && c.Universe != UniverseAll {
		return fmt.Errorf("universe must be 'mainboard' or 'all', got %q", c.Universe)
	}
	if c.StopLossEnabled && (c.StopLossDrawdownPct <= 0 || c.StopLossDrawdownPct > 100) {
		return fmt.Errorf("stop_loss_drawdown_pct must be in (0, 100] when stop_loss_enabled, got %f", c.StopLossDrawdownPct)
	}
	if c.RiskBudgetEnabled && c.VolWindow <= 0 {
		return fmt.Errorf("vol_window must be positive when risk_budget_enabled, got %d", c.VolWindow)
	}
	if c.RiskGuard.Enabled && c.RiskGuard.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk_guard.max_open_positions must be positive when risk_guard.enabled, got %d", c.RiskGuard.MaxOpenPositions)
	}
	if c.BatchRebalanceTranches > 1 &&
		c.EquityCurveApplyScope != equitycurve.ScopeFullSet &&
		c.EquityCurveApplyScope != equitycurve.ScopePerTranche {
		return fmt.Errorf("equity_curve_apply_scope must be 'full_set' or 'per_tranche' when batch_rebalance_tranches > 1, got %q", c.EquityCurveApplyScope)
	}
	return nil
}
