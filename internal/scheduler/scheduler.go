// Package scheduler decides which simulated trading days are rebalance
// days, per spec §4.9.
//
// Grounded on the teacher's internal/scheduler.Scheduler: both own a
// single piece of "when did we last do the thing" state and expose a
// small decision surface the orchestration loop consults once per tick.
// The teacher's job cycle is built around wall-clock cron-style
// triggers (nightly/market-hour/weekly); this package replaces that
// with trading-day-count cadence measured through a calendar.Sequence,
// since the engine never reasons about time independent of the
// supplied trading-day list (spec §3).
package scheduler

import "github.com/lchen-trading/ashare-sim/internal/calendar"

// Config holds the rebalance cadence and optional batch-rebalance
// tranche count, mirroring config.json's rebalance_freq /
// batch_rebalance_tranches fields in spec §6.
type Config struct {
	RebalanceFreq int
	BatchTranches int // 0 or 1 disables batch-rebalance mode
}

// Scheduler tracks the last rebalance date and, in batch-rebalance
// mode, which tranche is due next.
type Scheduler struct {
	cfg               Config
	lastRebalanceDate calendar.Date
	hasRebalanced     bool
	nextTranche       int
}

// New creates a Scheduler with no prior rebalance recorded.
func New(cfg Config) *Scheduler {
	return &Scheduler{cfg: cfg}
}

// IsRebalanceDay reports whether d is a rebalance day: either the first
// day the scheduler has ever been asked about, or exactly
// rebalance_freq trading days have elapsed since the last rebalance.
func (s *Scheduler) IsRebalanceDay(d calendar.Date, seq *calendar.Sequence) bool {
	if !s.hasRebalanced {
		return true
	}
	days, ok := seq.TradingDaysBetween(s.lastRebalanceDate, d)
	if !ok {
		return false
	}
	return days == s.cfg.RebalanceFreq
}

// Mark records d as the most recently completed rebalance date. Must be
// called after the signal pipeline finishes, per spec §4.9/§4.11's
// ordering (scheduler.mark(D) follows signal_pipeline.run(D)).
func (s *Scheduler) Mark(d calendar.Date) {
	s.lastRebalanceDate = d
	s.hasRebalanced = true
	if s.BatchRebalanceEnabled() {
		s.nextTranche = (s.nextTranche + 1) % s.cfg.BatchTranches
	}
}

// LastRebalanceDate returns the most recently recorded rebalance date
// and whether one has happened yet.
func (s *Scheduler) LastRebalanceDate() (calendar.Date, bool) {
	return s.lastRebalanceDate, s.hasRebalanced
}

// BatchRebalanceEnabled reports whether the scheduler is configured to
// split the target ticker set into tranches across consecutive
// rebalance periods, per spec §4.9's optional batch-rebalance mode.
func (s *Scheduler) BatchRebalanceEnabled() bool {
	return s.cfg.BatchTranches > 1
}

// CurrentTranche returns which tranche (0-indexed) is due on the next
// rebalance, when batch-rebalance mode is enabled.
func (s *Scheduler) CurrentTranche() int {
	return s.nextTranche
}

// TotalTranches returns the configured tranche count (0 or 1 when
// batch-rebalance mode is disabled), for callers that need to partition
// the target ticker set the same way Mark advances through it.
func (s *Scheduler) TotalTranches() int {
	return s.cfg.BatchTranches
}

// RestoreState reinitializes the scheduler from persisted
// runs/rebalance_state.json (spec §6), for PaperRunner's
// cross-invocation continuity.
func (s *Scheduler) RestoreState(lastRebalanceDate calendar.Date, hasRebalanced bool, nextTranche int) {
	s.lastRebalanceDate = lastRebalanceDate
	s.hasRebalanced = hasRebalanced
	s.nextTranche = nextTranche
}
