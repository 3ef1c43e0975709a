// internal/server/server.go
// Package server exposes the operator HTTP surface: session control plus the
// Prometheus metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arturshev/solana-volume-bot/internal/market"
	"github.com/arturshev/solana-volume-bot/internal/session"
)

// Server serves the control API.
type Server struct {
	orch    *session.Orchestrator
	logger  *zap.Logger
	httpSrv *http.Server
}

// New builds the server on the given listen address.
func New(addr string, orch *session.Orchestrator, logger *zap.Logger) *Server {
	s := &Server{
		orch:   orch,
		logger: logger.Named("server"),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/sessions", s.handleCreate)
	mux.HandleFunc("GET /v1/sessions", s.handleList)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGet)
	mux.HandleFunc("POST /v1/sessions/{id}/stop", s.handleStop)
	mux.HandleFunc("GET /v1/sessions/{id}/trades", s.handleTrades)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops. A clean Shutdown is not an
// error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type createRequest struct {
	TargetAsset string `json:"target_asset"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetAsset == "" {
		s.writeError(w, http.StatusBadRequest, "target_asset is required")
		return
	}

	snap, err := s.orch.CreateSession(r.Context(), req.TargetAsset)
	if err != nil {
		if errors.Is(err, market.ErrNoRoute) {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("Session creation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "session creation failed")
		return
	}
	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.orch.ListActiveSessions(r.Context())
	if err != nil {
		s.logger.Error("Session listing failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.orch.GetSessionStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.StopSession(r.Context(), r.PathValue("id")); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.orch.ListTrades(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		s.writeError(w, http.StatusNotFound, session.ErrSessionNotFound.Error())
		return
	}
	s.logger.Error("Session request failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "request failed")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
