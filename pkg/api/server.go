package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/trail/pkg/log"
	"github.com/cuemby/trail/pkg/metrics"
	"github.com/cuemby/trail/pkg/pin"
	"github.com/cuemby/trail/pkg/syncer"
	"github.com/cuemby/trail/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// SessionSource reports the signed-in user and auth state
type SessionSource interface {
	State() types.AuthState
	UserID() string
	HasPin() bool
}

// DepthSource reports how many entries are waiting
type DepthSource interface {
	Len() (int, error)
}

// Flusher drains the queue
type Flusher interface {
	Flush(ctx context.Context, maxBatch int) syncer.Result
}

// Unlocker resumes a session locked behind the PIN
type Unlocker interface {
	Unlock(ctx context.Context, pin string) error
}

// Config wires the admin server to the pipeline
type Config struct {
	Session   SessionSource
	Queue     DepthSource
	Flusher   Flusher
	Unlocker  Unlocker
	BatchSize int
}

// Server is the local admin HTTP surface
type Server struct {
	cfg    Config
	router chi.Router
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates the admin server and registers its routes
func NewServer(cfg Config) *Server {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = syncer.DefaultBatchSize
	}

	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: log.WithComponent("api"),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.logRequests)

	s.router.Get("/healthz", metrics.HealthHandler())
	s.router.Get("/readyz", metrics.ReadyHandler())
	s.router.Get("/livez", metrics.LivenessHandler())
	s.router.Handle("/metrics", metrics.Handler())
	s.router.Get("/status", s.handleStatus)
	s.router.Post("/flush", s.handleFlush)
	s.router.Post("/unlock", s.handleUnlock)

	return s
}

// Handler returns the router for embedding or testing
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Admin API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	AuthState     types.AuthState `json:"auth_state"`
	UserID        string          `json:"user_id,omitempty"`
	PinConfigured bool            `json:"pin_configured"`
	QueueDepth    int             `json:"queue_depth"`
	Timestamp     time.Time       `json:"timestamp"`
}

// FlushResponse is the body of POST /flush
type FlushResponse struct {
	Outcome   types.Outcome `json:"outcome"`
	Flushed   int           `json:"flushed"`
	Discarded int           `json:"discarded"`
	Error     string        `json:"error,omitempty"`
}

// UnlockRequest is the body of POST /unlock
type UnlockRequest struct {
	Pin string `json:"pin"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	depth, err := s.cfg.Queue.Len()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		AuthState:     s.cfg.Session.State(),
		UserID:        s.cfg.Session.UserID(),
		PinConfigured: s.cfg.Session.HasPin(),
		QueueDepth:    depth,
		Timestamp:     time.Now(),
	})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	result := s.cfg.Flusher.Flush(r.Context(), s.cfg.BatchSize)

	resp := FlushResponse{
		Outcome:   result.Outcome,
		Flushed:   result.Flushed,
		Discarded: result.Discarded,
	}
	status := http.StatusOK
	if !result.OK() {
		status = http.StatusServiceUnavailable
		if result.Err != nil {
			resp.Error = result.Err.Error()
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil || req.Pin == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be {\"pin\": \"...\"}"})
		return
	}

	err := s.cfg.Unlocker.Unlock(r.Context(), req.Pin)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, pin.ErrInvalidPin):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, pin.ErrNoPin):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		s.logger.Warn().Err(err).Msg("Unlock failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Admin request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
