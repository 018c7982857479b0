// Package equitycurve implements the exposure-scaling controller that
// throttles target weights by portfolio drawdown and moving-average
// trend, per spec §4.7.
//
// Grounded on internal/analytics.Analyze's drawdown computation (peak
// tracking over a sequence of equity values) generalized from a single
// max-drawdown statistic into a bracketed, per-day exposure schedule,
// and on internal/risk.CircuitBreaker's trip/reset shape for the
// recovery-delay state machine. The moving-average trend filter uses
// gonum.org/v1/gonum/stat.Mean in place of analytics.go's hand-rolled
// mean loop, since gonum is already part of this module's dependency
// stack for volatility (see internal/riskbudget).
package equitycurve

import (
	"fmt"
	"log"

	"gonum.org/v1/gonum/stat"
)

// Bracket maps a drawdown threshold to the exposure level applied once
// current drawdown exceeds it. Brackets should be supplied sorted by
// Threshold ascending; among the brackets whose threshold the drawdown
// exceeds, the one with the highest threshold (the last such in the list)
// wins.
type Bracket struct {
	Threshold     float64 `json:"threshold"`
	ExposureLevel float64 `json:"exposure_level"`
}

// RecoveryMode selects how exposure is allowed to climb back up after a
// decrease.
type RecoveryMode string

const (
	RecoveryImmediate RecoveryMode = "immediate"
	RecoveryGradual   RecoveryMode = "gradual"
)

// ApplyScope resolves spec §9's open question on whether exposure
// scaling, in batch-rebalance mode, applies to the full assembled
// target set or is renormalized per-tranche before scaling. signal.Pipeline
// is the only caller that needs to choose between the two; Scale itself
// is scope-agnostic, it just multiplies whatever weight map it is given.
type ApplyScope string

const (
	ScopeFullSet    ApplyScope = "full_set"
	ScopePerTranche ApplyScope = "per_tranche"
)

// Config holds the controller's tunables, mirroring config.json's
// equity_curve_* fields in spec §6.
type Config struct {
	Enabled               bool
	Brackets              []Bracket
	MAShortWindow         int
	MALongWindow          int
	MAExposureOn          float64
	MAExposureOff         float64
	MinExposure           float64
	MaxExposure           float64
	RecoveryMode          RecoveryMode
	RecoveryDelayPeriods  int
	RecoveryStep          float64
}

// Result is the controller's output for one rebalance date.
type Result struct {
	Exposure float64
	Reason   string
}

// Controller tracks the state needed to apply gradual recovery across
// calls: the last applied exposure and how many rebalance periods have
// elapsed since the last decrease.
type Controller struct {
	cfg                  Config
	lastAppliedExposure  float64
	periodsSinceDecrease int
	logger               *log.Logger
}

// New creates a Controller. Exposure starts at 1.0 (full exposure)
// until the first Scale call establishes a baseline.
func New(cfg Config, logger *log.Logger) *Controller {
	return &Controller{cfg: cfg, lastAppliedExposure: 1.0, logger: logger}
}

func (c *Controller) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Scale computes the exposure multiplier for navHistory (values up to
// but not including D) and multiplies it into every entry of weights,
// returning a new map and the Result describing what was applied.
func (c *Controller) Scale(weights map[string]float64, navHistory []float64) (map[string]float64, Result) {
	if !c.cfg.Enabled {
		return weights, Result{Exposure: 1.0, Reason: "disabled"}
	}

	if len(navHistory) < c.cfg.MALongWindow {
		return weights, Result{Exposure: 1.0, Reason: "insufficient history"}
	}

	drawdownFactor, drawdownReason := c.drawdownFactor(navHistory)
	maFactor, maReason := c.maFactor(navHistory)

	rawExposure := drawdownFactor
	reason := drawdownReason
	if maFactor < rawExposure {
		rawExposure = maFactor
		reason = maReason
	}

	applied := c.applyRecovery(rawExposure)
	clamped := clamp(applied, c.cfg.MinExposure, c.cfg.MaxExposure)

	c.logf("equitycurve: raw=%.4f applied=%.4f clamped=%.4f (%s)", rawExposure, applied, clamped, reason)
	c.lastAppliedExposure = clamped

	scaled := make(map[string]float64, len(weights))
	for t, w := range weights {
		scaled[t] = w * clamped
	}
	return scaled, Result{Exposure: clamped, Reason: reason}
}

func (c *Controller) drawdownFactor(navHistory []float64) (float64, string) {
	peak := navHistory[0]
	for _, v := range navHistory {
		if v > peak {
			peak = v
		}
	}
	current := navHistory[len(navHistory)-1]
	drawdown := 0.0
	if peak > 0 {
		drawdown = 1 - current/peak
	}

	level := 1.0
	for _, b := range c.cfg.Brackets {
		if drawdown > b.Threshold {
			level = b.ExposureLevel
		}
	}
	return level, fmt.Sprintf("drawdown=%.4f -> exposure_level=%.4f", drawdown, level)
}

func (c *Controller) maFactor(navHistory []float64) (float64, string) {
	shortWindow := navHistory[len(navHistory)-c.cfg.MAShortWindow:]
	longWindow := navHistory[len(navHistory)-c.cfg.MALongWindow:]

	shortMean := stat.Mean(shortWindow, nil)
	longMean := stat.Mean(longWindow, nil)

	if shortMean > longMean {
		return c.cfg.MAExposureOn, fmt.Sprintf("ma_short=%.4f > ma_long=%.4f -> on", shortMean, longMean)
	}
	return c.cfg.MAExposureOff, fmt.Sprintf("ma_short=%.4f <= ma_long=%.4f -> off", shortMean, longMean)
}

// applyRecovery enforces the recovery mode when rawExposure rises above
// the last applied value; decreases are always applied immediately.
func (c *Controller) applyRecovery(rawExposure float64) float64 {
	if rawExposure <= c.lastAppliedExposure {
		c.periodsSinceDecrease = 0
		return rawExposure
	}

	switch c.cfg.RecoveryMode {
	case RecoveryGradual:
		c.periodsSinceDecrease++
		if c.periodsSinceDecrease <= c.cfg.RecoveryDelayPeriods {
			return c.lastAppliedExposure
		}
		step := c.lastAppliedExposure + c.cfg.RecoveryStep
		if step > rawExposure {
			return rawExposure
		}
		return step
	default: // RecoveryImmediate
		return rawExposure
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
