package paperrunner

import (
	"github.com/lchen-trading/ashare-sim/internal/config"
	"github.com/lchen-trading/ashare-sim/internal/costmodel"
	"github.com/lchen-trading/ashare-sim/internal/equitycurve"
	"github.com/lchen-trading/ashare-sim/internal/stoploss"
	"github.com/shopspring/decimal"
)

// toCostModelConfig converts config.json's plain-float fee schedule into
// costmodel.Config's decimal fields. Kept out of internal/config itself,
// which stays free of every package it configures except equitycurve
// (whose Bracket/RecoveryMode types it re-exports structurally).
func toCostModelConfig(f config.FeesConfig) costmodel.Config {
	return costmodel.Config{
		CommissionRate: decimal.NewFromFloat(f.CommissionRate),
		MinCommission:  decimal.NewFromFloat(f.MinCommission),
		StampTaxRate:   decimal.NewFromFloat(f.StampTaxRate),
		SlippageRate:   decimal.NewFromFloat(f.SlippageRate),
	}
}

func toStopLossConfig(c *config.Config) stoploss.Config {
	return stoploss.Config{
		Enabled:                  c.StopLossEnabled,
		DrawdownPct:              c.StopLossDrawdownPct,
		TrailingEnabled:          c.StopLossTrailingEnabled,
		TrailingPct:              c.StopLossTrailingPct,
		ConsecutiveLimitDownDays: c.StopLossConsecutiveLimitDown,
	}
}

func toEquityCurveConfig(e config.EquityCurveConfig) equitycurve.Config {
	return equitycurve.Config{
		Enabled:              true,
		Brackets:             e.Brackets,
		MAShortWindow:        e.MAShortWindow,
		MALongWindow:         e.MALongWindow,
		MAExposureOn:         e.MAExposureOn,
		MAExposureOff:        e.MAExposureOff,
		MinExposure:          e.MinExposure,
		MaxExposure:          e.MaxExposure,
		RecoveryMode:         e.RecoveryMode,
		RecoveryDelayPeriods: e.RecoveryDelayPeriods,
		RecoveryStep:         e.RecoveryStep,
	}
}
