package marketdata

import (
	"context"
	"log"
	"time"

	"github.com/lib/pq"
)

// BarReadyNotifier listens on the `ashare_bar_ready` Postgres channel so
// PaperRunner's ensure(date) step (spec §4.12) can wait on an external
// ingestion job's commit instead of polling LoadRange in a loop.
//
// Grounded on the teacher's internal/dashboard.EventListener, which
// wraps pq.Listener the same way; this type narrows that shape to a
// single channel and a single blocking Wait call instead of a
// broadcaster fan-out, since the paper runner only ever needs to know
// "has today's data landed yet," not rebroadcast the event.
type BarReadyNotifier struct {
	listener *pq.Listener
	logger   *log.Logger
}

// NewBarReadyNotifier opens a pq.Listener against connStr and subscribes
// to the bar-ready channel.
func NewBarReadyNotifier(connStr string, logger *log.Logger) (*BarReadyNotifier, error) {
	listener := pq.NewListener(connStr, 100*time.Millisecond, 10*time.Second, func(ev pq.ListenerEventType, err error) {
		if err != nil && logger != nil {
			logger.Printf("marketdata: listener event: %v", err)
		}
	})
	if err := listener.Listen("ashare_bar_ready"); err != nil {
		listener.Close()
		return nil, err
	}
	return &BarReadyNotifier{listener: listener, logger: logger}, nil
}

// Wait blocks until a notification arrives on ashare_bar_ready, ctx is
// canceled, or timeout elapses (whichever comes first). Returns false on
// timeout/cancellation, meaning the caller should fall back to the
// three-stage ensure(date) walk in spec §4.12 rather than waiting
// indefinitely on a push that may never come.
func (n *BarReadyNotifier) Wait(ctx context.Context, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return false
		case notification := <-n.listener.Notify:
			if notification != nil {
				return true
			}
		case <-time.After(90 * time.Second):
			// pq.Listener's keepalive ping; re-loop to keep waiting on the
			// real deadline/notification without busy-spinning.
			_ = n.listener.Ping()
		}
	}
}

// Close stops listening and releases the connection.
func (n *BarReadyNotifier) Close() error { return n.listener.Close() }
