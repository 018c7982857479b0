// Package errs defines the engine-wide error taxonomy.
//
// Errors are classified by kind, not by Go type hierarchy, mirroring the
// way internal/risk classifies trade-intent rejections by rule name: a
// single EngineError carries a Kind plus a human-readable message, and
// callers switch on Kind rather than using errors.As against many types.
package errs

import "fmt"

// Kind classifies an engine error per the propagation policy in spec §7.
type Kind string

const (
	// KindDataIntegrity covers missing required columns, NaN values, bars
	// referencing unknown tickers, or non-positive T+1 fill prices. Always
	// surfaced; aborts the run.
	KindDataIntegrity Kind = "data_integrity"

	// KindMissing covers a (date, ticker) absent from the bar table.
	// Locally recovered: the caller treats the ticker as untradable.
	KindMissing Kind = "missing"

	// KindTradability covers a buy/sell attempted against a suspended or
	// limit-locked ticker. Locally recovered: log + skip.
	KindTradability Kind = "tradability"

	// KindInsufficientCash covers a buy whose notional + fee exceeds
	// available cash. Locally recovered: log + skip.
	KindInsufficientCash Kind = "insufficient_cash"

	// KindInsufficientNotional covers a buy whose target notional produces
	// fewer than one round lot of shares. Locally recovered: log + skip.
	KindInsufficientNotional Kind = "insufficient_notional"

	// KindNotHeld covers a sell against a ticker with no open lot.
	// Locally recovered: log + skip.
	KindNotHeld Kind = "not_held"

	// KindDuplicateLot covers a buy attempted while a lot is already open
	// for the ticker (violates the one-lot-per-ticker invariant).
	// Locally recovered: log + reject.
	KindDuplicateLot Kind = "duplicate_lot"

	// KindPendingExpired covers a pending order dropped after exceeding
	// max retries or max retry days. Logged at info, not an abort.
	KindPendingExpired Kind = "pending_expired"

	// KindIdempotencyConflict covers a paper-mode sub-step re-invoked for a
	// date it already completed. Logged at info, no-op.
	KindIdempotencyConflict Kind = "idempotency_conflict"

	// KindPersistence covers a partial write detected on reload. Always
	// surfaced; requires operator intervention.
	KindPersistence Kind = "persistence"

	// KindExternalProvider covers a failure of the ensure-data hook.
	// Always surfaced; aborts the current tick only.
	KindExternalProvider Kind = "external_provider"

	// KindCorruption covers NaN cash, negative shares, or other states that
	// should be structurally impossible. Always surfaced; aborts the run.
	KindCorruption Kind = "corruption"
)

// Surfaced reports whether errors of this kind must propagate to the
// caller (true) or are locally recovered by skipping the offending ticker
// (false), per the propagation policy in spec §7.
func (k Kind) Surfaced() bool {
	switch k {
	case KindDataIntegrity, KindPersistence, KindExternalProvider, KindCorruption:
		return true
	default:
		return false
	}
}

// EngineError is the concrete error value the engine returns for every
// classified failure.
type EngineError struct {
	Kind    Kind
	Ticker  string // empty when not ticker-scoped
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *EngineError) Error() string {
	if e.Ticker != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Ticker, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Err }

// New builds an EngineError with no ticker scope.
func New(kind Kind, message string) *EngineError {
	return &EngineError{Kind: kind, Message: message}
}

// Newf builds an EngineError with a formatted message.
func Newf(kind Kind, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ForTicker builds a ticker-scoped EngineError.
func ForTicker(kind Kind, ticker, message string) *EngineError {
	return &EngineError{Kind: kind, Ticker: ticker, Message: message}
}

// Wrap builds a ticker-scoped EngineError around an existing cause.
func Wrap(kind Kind, ticker string, err error) *EngineError {
	return &EngineError{Kind: kind, Ticker: ticker, Message: err.Error(), Err: err}
}

// Is reports whether err is an *EngineError of the given kind.
func Is(err error, kind Kind) bool {
	ee, ok := err.(*EngineError)
	if !ok {
		return false
	}
	return ee.Kind == kind
}
