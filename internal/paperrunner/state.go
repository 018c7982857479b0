package paperrunner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lchen-trading/ashare-sim/internal/calendar"
	"github.com/lchen-trading/ashare-sim/internal/pendingqueue"
	"github.com/lchen-trading/ashare-sim/internal/portfolio"
	"github.com/lchen-trading/ashare-sim/internal/stoploss"
	"github.com/shopspring/decimal"
)

// writeJSONAtomic marshals v as indented JSON and writes it to path via
// a temp-file-then-rename, matching spec §4.12 step 5's "atomically
// rewrite" requirement for every persisted state file.
func writeJSONAtomic(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("paperrunner: mkdir for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("paperrunner: marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("paperrunner: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("paperrunner: rename %s: %w", tmp, err)
	}
	return nil
}

func readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("paperrunner: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("paperrunner: parse %s: %w", path, err)
	}
	return true, nil
}

// accountState is state/account.json's shape: cash plus every open lot,
// per spec §6.
type accountState struct {
	Cash      decimal.Decimal         `json:"cash"`
	Positions map[string]portfolio.Lot `json:"positions"`
}

// SaveAccountState persists the portfolio's cash and open positions.
func SaveAccountState(path string, pf *portfolio.Portfolio) error {
	positions := make(map[string]portfolio.Lot)
	for _, ticker := range pf.Positions() {
		lot, _ := pf.Position(ticker)
		positions[ticker] = lot
	}
	return writeJSONAtomic(path, accountState{Cash: pf.Cash(), Positions: positions})
}

// LoadAccountState reads state/account.json. ok is false when the file
// does not exist yet (a brand-new paper account, seeded instead from
// config's initial_capital).
func LoadAccountState(path string) (cash decimal.Decimal, positions map[string]portfolio.Lot, ok bool, err error) {
	var s accountState
	found, err := readJSON(path, &s)
	if err != nil || !found {
		return decimal.Zero, nil, false, err
	}
	return s.Cash, s.Positions, true, nil
}

// SaveStopLossState persists the stop-loss monitor's per-ticker
// high-water marks and limit-down counters.
func SaveStopLossState(path string, monitor *stoploss.Monitor) error {
	return writeJSONAtomic(path, monitor.Snapshot())
}

// LoadStopLossState reads state/stop_loss_state.json, if present.
func LoadStopLossState(path string) (map[string]stoploss.State, error) {
	states := make(map[string]stoploss.State)
	if _, err := readJSON(path, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// SavePendingSells persists the pending-order queue.
func SavePendingSells(path string, q *pendingqueue.Queue) error {
	return writeJSONAtomic(path, q.Orders())
}

// LoadPendingSells reads pending_sells/pending_sells.json, if present.
func LoadPendingSells(path string) ([]pendingqueue.Order, error) {
	var orders []pendingqueue.Order
	if _, err := readJSON(path, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// rebalanceState is runs/rebalance_state.json's shape.
type rebalanceState struct {
	LastRebalanceDate calendar.Date `json:"last_rebalance_date"`
	HasRebalanced     bool          `json:"has_rebalanced"`
	NextTranche       int           `json:"next_tranche"`
}

// SaveRebalanceState persists the scheduler's cadence state.
func SaveRebalanceState(path string, lastDate calendar.Date, hasRebalanced bool, nextTranche int) error {
	return writeJSONAtomic(path, rebalanceState{
		LastRebalanceDate: lastDate,
		HasRebalanced:     hasRebalanced,
		NextTranche:       nextTranche,
	})
}

// LoadRebalanceState reads runs/rebalance_state.json, if present.
func LoadRebalanceState(path string) (lastDate calendar.Date, hasRebalanced bool, nextTranche int, err error) {
	var s rebalanceState
	found, err := readJSON(path, &s)
	if err != nil || !found {
		return "", false, 0, err
	}
	return s.LastRebalanceDate, s.HasRebalanced, s.NextTranche, nil
}

// runSentinel is a runs/t0_{D}.json / runs/t1_{D}.json idempotency
// marker, recording when and with what result a sub-step completed.
type runSentinel struct {
	CompletedAt string `json:"completed_at"`
	Detail      string `json:"detail"`
}

// markDone writes a sentinel file for D's T0 or T1 sub-step. Called only
// after the sub-step's effects have already been durably persisted, so a
// crash between the sub-step and the sentinel write is always observed
// as "not yet done" on the next invocation (spec §4.12 step 4's
// at-most-once guarantee errs toward re-running, never toward silently
// skipping real work).
func markDone(path, detail string) error {
	return writeJSONAtomic(path, runSentinel{CompletedAt: nowStamp(), Detail: detail})
}

// isDone reports whether a sentinel file already exists.
func isDone(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
