// Package dashboard fans out metrics snapshots and external
// data-readiness notifications to connected WebSocket viewers, per
// SPEC_FULL.md's DOMAIN STACK commitment to exercise gorilla/websocket
// the way a live trading dashboard would.
//
// Grounded on the teacher's internal/dashboard package: the
// register/unregister/broadcast channel trio and the
// one-goroutine-owns-the-client-map Run loop are kept verbatim, since
// that shape is domain-agnostic infrastructure. WebSocketMessage gains
// a fixed EventType enum in place of the teacher's bare string Type
// field, naming tick-level events (spec §4.11's tick steps) instead of
// the teacher's broker-trade channel names. The tick-level event types
// are defined here, but no package in this repo publishes them.
package dashboard

import (
	"log"
	"sync"
	"time"
)

// EventType enumerates the tick-level and data-readiness event types a
// WebSocketMessage can carry; only EventBarDataReady and
// EventMetricsSnapshot are actually broadcast. Distinct from the stop-loss/sell reason
// strings in internal/portfolio — these name dashboard-visible
// lifecycle moments, not trade semantics.
type EventType string

const (
	EventTickStarted       EventType = "tick_started"
	EventSignalGenerated   EventType = "signal_generated"
	EventStopLossTriggered EventType = "stop_loss_triggered"
	EventOrderFilled       EventType = "order_filled"
	EventRebalanceApplied  EventType = "rebalance_applied"
	EventTickCompleted     EventType = "tick_completed"
	EventBarDataReady      EventType = "ashare_bar_ready"
	EventMetricsSnapshot   EventType = "metrics_snapshot"
)

// Client represents a connected WebSocket viewer.
type Client struct {
	ID   string
	Send chan WebSocketMessage
}

// WebSocketMessage is the envelope for every message pushed to
// clients.
type WebSocketMessage struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// Broadcaster owns the set of connected clients and fans out messages
// to all of them without letting one slow client block the others.
type Broadcaster struct {
	clients    map[*Client]bool
	broadcast  chan WebSocketMessage
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *log.Logger
	shutdown   chan struct{}
}

// NewBroadcaster creates a Broadcaster; call Run in a goroutine to
// start it.
func NewBroadcaster(logger *log.Logger) *Broadcaster {
	return &Broadcaster{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan WebSocketMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		shutdown:   make(chan struct{}),
	}
}

// Register adds a client to the broadcast set.
func (b *Broadcaster) Register(client *Client) {
	b.register <- client
}

// Unregister removes a client from the broadcast set.
func (b *Broadcaster) Unregister(client *Client) {
	b.unregister <- client
}

// Broadcast sends a message to every connected client.
func (b *Broadcaster) Broadcast(message WebSocketMessage) {
	select {
	case b.broadcast <- message:
	case <-b.shutdown:
	}
}

// BroadcastEvent is a convenience wrapper stamping the current time
// onto a typed event, used by cmd/dashboard's periodic metrics push and
// by EventListener (Postgres NOTIFY-sourced events).
func (b *Broadcaster) BroadcastEvent(t EventType, data interface{}) {
	b.Broadcast(WebSocketMessage{
		Type:      t,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// Run starts the broadcaster's event loop. Must be called in its own
// goroutine.
func (b *Broadcaster) Run() {
	defer func() {
		b.logger.Println("broadcaster: shutting down")
		close(b.shutdown)
	}()

	for {
		select {
		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()
			b.logger.Printf("broadcaster: client registered (total: %d)", len(b.clients))

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client.Send)
			}
			b.mu.Unlock()
			b.logger.Printf("broadcaster: client unregistered (total: %d)", len(b.clients))

		case message, ok := <-b.broadcast:
			if !ok {
				return
			}
			b.mu.RLock()
			clients := make([]*Client, 0, len(b.clients))
			for client := range b.clients {
				clients = append(clients, client)
			}
			b.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.Send <- message:
				default:
					b.logger.Printf("broadcaster: client %s send channel full, skipping", client.ID)
				}
			}

		case <-b.shutdown:
			return
		}
	}
}

// Shutdown closes every client connection and stops the broadcaster.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for client := range b.clients {
		close(client.Send)
	}
	b.clients = make(map[*Client]bool)

	close(b.broadcast)
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
