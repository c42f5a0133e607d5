package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/roman-kulish/quadrotor-fc/internal/link"
	"github.com/roman-kulish/quadrotor-fc/internal/telemetry"
)

const (
	shutdownTimeout = 5 * time.Second
	wsWriteTimeout  = time.Second
)

// LinkStats reports link counters.
type LinkStats interface {
	Stats() link.Stats
}

// Server exposes the latest snapshot and link counters over HTTP and streams
// snapshots over a WebSocket.
type Server struct {
	provider telemetry.Provider
	link     LinkStats
	interval time.Duration
	logger   *slog.Logger

	upgrader websocket.Upgrader
	router   *mux.Router
	srv      *http.Server
}

// NewServer creates the status server.
func NewServer(config *StatusConfig, provider telemetry.Provider, stats LinkStats, logger *slog.Logger) *Server {
	s := &Server{
		provider: provider,
		link:     stats,
		interval: time.Duration(config.StreamInterval),
		logger:   logger.With(slog.String("component", "status")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/link", s.handleLink).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleStream).Methods(http.MethodGet)
	s.router = r

	s.srv = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled. A server that cannot listen logs the
// failure and returns; the status surface is then simply unavailable.
func (s *Server) Run(ctx context.Context) error {
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", slog.String("addr", s.srv.Addr), slog.String("error", err.Error()))
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.provider.Get()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no snapshot yet"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLink(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.link.Stats())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the client only sends control frames; reading notices when it goes away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteTimeout))
			return
		case <-ticker.C:
			snap := s.provider.Get()
			if snap == nil || !snap.Timestamp.After(last) {
				continue
			}
			last = snap.Timestamp

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err = conn.WriteJSON(snap); err != nil {
				s.logger.Debug("websocket client gone", slog.String("error", err.Error()))
				return
			}
		}
	}
}
