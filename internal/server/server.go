// File: internal/server/server.go

// Package server hosts the dashboard API: REST endpoints for driving
// analyses and uploads, plus a websocket stream of live agent status
// transitions.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/diligence-cli/internal/config"
	"github.com/xkilldash9x/diligence-cli/internal/orchestrator"
	"github.com/xkilldash9x/diligence-cli/internal/registry"
	"github.com/xkilldash9x/diligence-cli/internal/upload"
)

// Websocket timeouts and limits, based on the Gorilla examples.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024

	statusFeedBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard frontend runs on a different origin during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server wires the orchestrator and upload coordinator behind HTTP.
type Server struct {
	cfg        config.ServerConfig
	orch       *orchestrator.Orchestrator
	uploads    *upload.Coordinator
	registry   *registry.Registry
	logger     *zap.Logger
	httpServer *http.Server
}

// New creates the API server. All dependencies must be non-nil.
func New(
	cfg config.ServerConfig,
	orch *orchestrator.Orchestrator,
	uploads *upload.Coordinator,
	reg *registry.Registry,
	logger *zap.Logger,
) (*Server, error) {
	if orch == nil || uploads == nil || reg == nil || logger == nil {
		return nil, errors.New("cannot initialize server with nil dependencies")
	}
	return &Server{
		cfg:      cfg,
		orch:     orch,
		uploads:  uploads,
		registry: reg,
		logger:   logger.Named("server"),
	}, nil
}

// Router builds the chi routing tree. Exposed separately so tests can drive
// the handlers through httptest without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Websocket routes skip the timeout middleware; the stream is long-lived.
	r.Get("/ws/v1/status", s.handleStatusStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(120 * time.Second))

		r.Get("/healthz", s.handleHealthCheck)
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/agents", s.handleListAgents)
			r.Get("/status", s.handleStatus)
			r.Post("/analysis", s.handleAnalysis)
			r.Post("/agents/{agentName}/invoke", s.handleInvoke)
			r.Post("/agents/{agentName}/cancel", s.handleCancel)
			r.Post("/assets", s.handleUpload)
		})
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Dashboard API listening", zap.String("address", s.cfg.ListenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down dashboard API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// corsMiddleware allows the dashboard frontend to call the API from another
// origin during development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleStatusStream upgrades to a websocket and relays status tracker
// updates until the client disconnects.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Websocket upgrade failed", zap.Error(err))
		return
	}

	feed, cancelFeed := s.orch.Tracker().Subscribe(statusFeedBuffer)

	// Read pump: we expect no client messages, but reading is what detects
	// closure and services pong frames.
	go func() {
		defer cancelFeed()
		defer conn.Close()

		conn.SetReadLimit(maxMessageSize)
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					s.logger.Warn("Status stream closed unexpectedly", zap.Error(err))
				}
				return
			}
		}
	}()

	// Write pump: snapshot first so a fresh client renders current state,
	// then live updates and keepalive pings.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer func() {
			ticker.Stop()
			cancelFeed()
			conn.Close()
		}()

		if err := writeDeadline(conn); err != nil {
			return
		}
		if err := conn.WriteJSON(s.statusSnapshot()); err != nil {
			return
		}

		for {
			select {
			case update, open := <-feed:
				if err := writeDeadline(conn); err != nil {
					return
				}
				if !open {
					conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := conn.WriteJSON(update); err != nil {
					return
				}
			case <-ticker.C:
				if err := writeDeadline(conn); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}

func writeDeadline(conn *websocket.Conn) error {
	return conn.SetWriteDeadline(time.Now().Add(writeWait))
}
