package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/go-json-experiment/json"
	"go.uber.org/zap"

	"github.com/jgoulah/dtumonitor/internal/gauge"
	"github.com/jgoulah/dtumonitor/pkg/models"
)

// Snapshotter supplies the readings to render. Both methods are called on
// every request so widgets always see the current ledger.
type Snapshotter interface {
	Latest() models.Reading
	History() []models.Reading
}

// Server serves the gauge widget and its JSON API
type Server struct {
	snap   Snapshotter
	gauge  gauge.Options
	hub    *Hub
	logger *zap.Logger

	listenAddr string
	httpServer *http.Server
}

// NewServer creates a widget server. hub may be nil to disable live updates.
func NewServer(listenAddr string, snap Snapshotter, opts gauge.Options, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		snap:       snap,
		gauge:      opts,
		hub:        hub,
		logger:     logger,
		listenAddr: listenAddr,
	}
}

// Handler returns the routed handler. Everything except the websocket is
// gzip-compressed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /gauge.svg", s.handleSVG)
	mux.HandleFunc("GET /api/latest", s.handleLatest)
	mux.HandleFunc("GET /api/gauge", s.handleGauge)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	root := http.NewServeMux()
	if s.hub != nil {
		root.Handle("GET /ws", s.hub)
	}
	root.Handle("/", gziphandler.GzipHandler(mux))
	return root
}

// Run serves until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		s.logger.Info("starting widget server", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down widget server")
		if s.hub != nil {
			s.hub.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) view() gauge.View {
	return gauge.Project(s.snap.Latest(), s.gauge)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write([]byte(indexHTML)); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleSVG(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(gauge.SVG(s.view())); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// handleLatest writes the newest reading, or null when there is none
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest := s.snap.Latest()
	if !latest.Known() {
		s.writeJSON(w, nil)
		return
	}
	s.writeJSON(w, latest)
}

func (s *Server) handleGauge(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.view())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.snap.History()
	if history == nil {
		history = []models.Reading{}
	}
	s.writeJSON(w, history)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.MarshalWrite(w, v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
		panic(http.ErrAbortHandler)
	}
}
