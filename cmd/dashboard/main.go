// Package main is the dashboard API: a read-only HTTP/WebSocket view
// over a persistent paper account's state (spec §4.12's account/, nav/,
// trades/ files), the real-time counterpart to `paper positions`.
//
// Grounded on the teacher's cmd/dashboard — same route layout, same
// register/unregister broadcaster pattern, same graceful-shutdown
// sequence — but every handler reads internal/paperrunner's persisted
// Parquet/JSON state instead of querying a Postgres trades table, since
// this engine has no such table (spec §4.12 keeps paper-mode state
// entirely file-based). The teacher's stock-list/candle endpoints and
// the backtest-job-queue endpoints (backtest_handlers.go) are dropped:
// the former duplicated internal/marketdata's read-only bar access with
// no dashboard-specific value, and the latter's request/response types
// were never defined anywhere in the teacher's own repo either — dead
// code that could not have compiled even there.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lchen-trading/ashare-sim/internal/analytics"
	"github.com/lchen-trading/ashare-sim/internal/config"
	"github.com/lchen-trading/ashare-sim/internal/dashboard"
	"github.com/lchen-trading/ashare-sim/internal/paperrunner"
)

// Server holds all dependencies for the dashboard API.
type Server struct {
	paths       paperrunner.Paths
	runner      *paperrunner.Runner
	cfg         *config.Config
	logger      *log.Logger
	port        string
	broadcaster *dashboard.Broadcaster
	listener    *dashboard.EventListener
}

func main() {
	base := flag.String("base", "./paper", "paper account base directory")
	port := flag.String("port", "8081", "dashboard server port")
	flag.Parse()

	logger := log.New(os.Stdout, "[dashboard] ", log.LstdFlags|log.Lshortfile)

	paths := paperrunner.Paths{Base: *base}
	cfg, err := config.Load(paths.ConfigPath())
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	broadcaster := dashboard.NewBroadcaster(logger)
	eventListener := dashboard.NewEventListener(cfg.DatabaseURL, broadcaster, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := &Server{
		paths:       paths,
		cfg:         cfg,
		logger:      logger,
		port:        *port,
		broadcaster: broadcaster,
		listener:    eventListener,
	}

	go broadcaster.Run()
	logger.Println("broadcaster: started")

	eventListener.Start(ctx)
	logger.Println("event listener: started")

	go server.startPeriodicBroadcast(ctx)
	logger.Println("periodic broadcast: started")

	mux := http.NewServeMux()
	mux.HandleFunc("/api/metrics", server.handleMetrics)
	mux.HandleFunc("/api/positions/open", server.handlePositionsOpen)
	mux.HandleFunc("/api/charts/equity", server.handleChartsEquity)
	mux.HandleFunc("/api/status", server.handleStatus)
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/ws", server.handleWebSocket)

	httpServer := &http.Server{
		Addr:         ":" + *port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		server.logger.Printf("dashboard API starting on port %s", *port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.logger.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	server.logger.Println("shutting down dashboard server...")
	cancel()
	time.Sleep(100 * time.Millisecond)

	eventListener.Stop()
	time.Sleep(100 * time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		server.logger.Printf("shutdown error: %v", err)
	}

	broadcaster.Shutdown()
	server.logger.Println("dashboard server stopped")
}

// report loads the persisted trade log and NAV curve and runs
// analytics.Analyze over them.
func (s *Server) report() (*analytics.PerformanceReport, error) {
	trades, err := paperrunner.ReadTrades(s.paths.TradesPath())
	if err != nil {
		return nil, err
	}
	nav, err := paperrunner.ReadNAV(s.paths.NAVPath())
	if err != nil {
		return nil, err
	}
	return analytics.Analyze(nav, trades), nil
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rep, err := s.report()
	if err != nil {
		s.logger.Printf("failed to compute metrics: %v", err)
		s.respondError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}

	resp := MetricsResponse{
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
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePositionsOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	runner := paperrunner.New(s.paths.Base, nil, nil, nil, nil, s.logger)
	snap, err := runner.Positions()
	if err != nil {
		s.logger.Printf("failed to load positions: %v", err)
		s.respondError(w, http.StatusInternalServerError, "failed to fetch positions")
		return
	}

	positions := make([]PositionResponse, 0, len(snap.Positions))
	for _, lot := range snap.Positions {
		pos := PositionResponse{
			Ticker:        lot.Ticker,
			Shares:        lot.Shares,
			BuyTradePrice: lot.BuyTradePrice.String(),
			BuyDate:       string(lot.BuyDate),
		}
		if lot.ExitDueDate != nil {
			pos.ExitDueDate = string(*lot.ExitDueDate)
		}
		positions = append(positions, pos)
	}

	s.respondJSON(w, http.StatusOK, PositionsResponse{
		Cash:              snap.Cash,
		Positions:         positions,
		OpenPositionCount: len(positions),
		Timestamp:         time.Now(),
	})
}

func (s *Server) handleChartsEquity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	nav, err := paperrunner.ReadNAV(s.paths.NAVPath())
	if err != nil {
		s.logger.Printf("failed to read NAV curve: %v", err)
		s.respondError(w, http.StatusInternalServerError, "failed to fetch NAV curve")
		return
	}
	if len(nav) == 0 {
		s.respondJSON(w, http.StatusOK, EquityCurveResponse{
			Points:    []EquityCurvePoint{},
			StartNAV:  1,
			FinalNAV:  1,
			Timestamp: time.Now(),
		})
		return
	}

	points := make([]EquityCurvePoint, len(nav))
	for i, p := range nav {
		points[i] = EquityCurvePoint{Date: string(p.Date), NAV: p.NAV, DailyReturn: p.DailyReturn}
	}

	rep := analytics.Analyze(nav, nil)
	s.respondJSON(w, http.StatusOK, EquityCurveResponse{
		Points:      points,
		StartNAV:    nav[0].NAV,
		FinalNAV:    rep.FinalNAV,
		MaxDrawdown: rep.MaxDrawdown,
		Timestamp:   time.Now(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	runner := paperrunner.New(s.paths.Base, nil, nil, nil, nil, s.logger)
	snap, err := runner.Positions()
	if err != nil {
		s.logger.Printf("failed to load status: %v", err)
		s.respondError(w, http.StatusInternalServerError, "failed to fetch status")
		return
	}

	resp := StatusResponse{
		OpenPositions:  len(snap.Positions),
		Cash:           snap.Cash,
		InitialCapital: s.cfg.InitialCapital,
		Message:        fmt.Sprintf("%d positions open", len(snap.Positions)),
		Timestamp:      time.Now(),
	}
	if snap.LastNAV != nil {
		resp.LastTradeDate = string(snap.LastNAV.Date)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      status,
		Timestamp: time.Now(),
	})
}
