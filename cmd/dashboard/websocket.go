package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lchen-trading/ashare-sim/internal/analytics"
	"github.com/lchen-trading/ashare-sim/internal/dashboard"
	"github.com/lchen-trading/ashare-sim/internal/paperrunner"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket handles WebSocket connections.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	client := &dashboard.Client{
		ID:   r.RemoteAddr,
		Send: make(chan dashboard.WebSocketMessage, 256),
	}

	s.broadcaster.Register(client)
	defer s.broadcaster.Unregister(client)

	s.logger.Printf("websocket: client connected from %s", client.ID)

	go s.writePump(ws, client)
	s.readPump(ws, client)
}

// writePump handles sending messages to a WebSocket client.
func (s *Server) writePump(ws *websocket.Conn, client *dashboard.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(message); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					s.logger.Printf("websocket write error for %s: %v", client.ID, err)
				}
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles receiving messages from a WebSocket client. The
// dashboard is read-only: we only watch for ping/pong and disconnect.
func (s *Server) readPump(ws *websocket.Conn, client *dashboard.Client) {
	defer func() {
		s.broadcaster.Unregister(client)
		s.logger.Printf("websocket: client disconnected from %s", client.ID)
	}()

	ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Printf("websocket read error for %s: %v", client.ID, err)
			}
			return
		}
	}
}

// broadcastMetrics pushes a fresh metrics snapshot to every connected
// viewer, read straight off the persisted NAV curve and trade log.
func (s *Server) broadcastMetrics(ctx context.Context) error {
	trades, err := paperrunner.ReadTrades(s.paths.TradesPath())
	if err != nil {
		return err
	}
	nav, err := paperrunner.ReadNAV(s.paths.NAVPath())
	if err != nil {
		return err
	}

	runner := paperrunner.New(s.paths.Base, nil, nil, nil, nil, s.logger)
	snap, err := runner.Positions()
	if err != nil {
		return err
	}

	rep := analytics.Analyze(nav, trades)
	metricsResp := MetricsResponse{
		TotalPnL:       rep.TotalPnL,
		WinRate:        rep.WinRate,
		ProfitFactor:   rep.ProfitFactor,
		MaxDrawdown:    rep.MaxDrawdown,
		SharpeRatio:    rep.SharpeRatio,
		TotalTrades:    rep.TotalTrades,
		WinningTrades:  rep.WinningTrades,
		LosingTrades:   rep.LosingTrades,
		AvgPnL:         rep.AveragePnL,
		GrossProfit:    rep.GrossProfit,
		GrossLoss:      rep.GrossLoss,
		AvgHoldDays:    rep.AverageHoldDays,
		InitialCapital: s.cfg.InitialCapital,
		FinalNAV:       rep.FinalNAV,
		Timestamp:      time.Now(),
	}

	s.broadcaster.BroadcastEvent(dashboard.EventMetricsSnapshot, map[string]interface{}{
		"metrics":             metricsResp,
		"open_position_count": len(snap.Positions),
	})
	return nil
}

// startPeriodicBroadcast pushes a metrics snapshot to every connected
// viewer every 5 seconds, on top of the bar-ready events EventListener
// pushes as they arrive.
func (s *Server) startPeriodicBroadcast(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.broadcastMetrics(ctx); err != nil {
				s.logger.Printf("failed to broadcast metrics: %v", err)
			}

		case <-ctx.Done():
			return
		}
	}
}
