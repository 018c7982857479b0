package dashboard

import (
	"context"
	"log"
	"time"

	"github.com/lib/pq"
)

// EventListener bridges Postgres LISTEN/NOTIFY to the WebSocket
// broadcaster, for the one event this repo's external data pipeline
// actually raises: internal/marketdata.BarReadyNotifier's
// "ashare_bar_ready" channel (spec §4.12's ensure(date) wait step).
//
// Grounded on the teacher's internal/dashboard.EventListener: the
// reconnect-with-backoff listenLoop is kept as-is (Postgres driver
// reconnection is not domain-specific); setupListeners' channel list
// is narrowed to this repo's single data-readiness channel instead of
// the teacher's four broker-trade channels, since this engine has no
// database-backed trade table to NOTIFY from. The engine and PaperRunner
// do not publish trade/signal/stop-loss events to the broadcaster.
type EventListener struct {
	dbURL       string
	logger      *log.Logger
	broadcaster *Broadcaster
	shutdown    chan struct{}
}

// NewEventListener creates a new EventListener.
func NewEventListener(dbURL string, broadcaster *Broadcaster, logger *log.Logger) *EventListener {
	return &EventListener{
		dbURL:       dbURL,
		logger:      logger,
		broadcaster: broadcaster,
		shutdown:    make(chan struct{}),
	}
}

// Start begins listening for database notifications.
func (el *EventListener) Start(ctx context.Context) {
	go el.listenLoop(ctx)
}

func (el *EventListener) listenLoop(ctx context.Context) {
	defer el.logger.Println("event listener: shutting down")

	minRetryDelay := 100 * time.Millisecond
	maxRetryDelay := 10 * time.Second
	retryDelay := minRetryDelay

	for {
		select {
		case <-ctx.Done():
			return
		case <-el.shutdown:
			return
		default:
		}

		listener := pq.NewListener(el.dbURL, minRetryDelay, maxRetryDelay, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				el.logger.Printf("event listener: %v", err)
			}
		})

		if err := el.setupListeners(listener); err != nil {
			el.logger.Printf("event listener: failed to setup listeners: %v", err)
			listener.Close()
			retryDelay = maxRetryDelay
			time.Sleep(retryDelay)
			continue
		}

		retryDelay = minRetryDelay

		if err := el.handleNotifications(ctx, listener); err != nil {
			el.logger.Printf("event listener: %v", err)
		}

		listener.Close()

		select {
		case <-ctx.Done():
			return
		case <-el.shutdown:
			return
		default:
			time.Sleep(retryDelay)
		}
	}
}

// setupListeners subscribes to the data-readiness channel.
func (el *EventListener) setupListeners(listener *pq.Listener) error {
	channels := []string{
		string(EventBarDataReady),
	}

	for _, channel := range channels {
		if err := listener.Listen(channel); err != nil {
			return err
		}
		el.logger.Printf("event listener: listening on channel '%s'", channel)
	}

	return nil
}

func (el *EventListener) handleNotifications(ctx context.Context, listener *pq.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-el.shutdown:
			return nil

		case notification := <-listener.Notify:
			if notification == nil {
				return nil
			}

			el.logger.Printf("event listener: received notification on channel '%s': %s", notification.Channel, notification.Extra)

			el.broadcaster.BroadcastEvent(EventType(notification.Channel), map[string]interface{}{
				"payload": notification.Extra,
			})
		}
	}
}

// Stop stops the event listener.
func (el *EventListener) Stop() {
	close(el.shutdown)
}
