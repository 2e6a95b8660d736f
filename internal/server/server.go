package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/kvexplorer/kvexplorer/internal/config"
	"github.com/kvexplorer/kvexplorer/internal/explorer"
	"github.com/kvexplorer/kvexplorer/internal/metrics"
	"github.com/kvexplorer/kvexplorer/internal/middleware"
	"github.com/kvexplorer/kvexplorer/internal/probe"
	"github.com/sirupsen/logrus"
)

// APIResponse is the envelope of every API reply.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

// PairsData is the payload of GET /api/v1/pairs.
type PairsData struct {
	Backend string           `json:"backend"`
	Count   int              `json:"count"`
	Pairs   []explorer.Pair  `json:"pairs"`
	Summary explorer.Summary `json:"summary"`
}

// NewPairsData builds the pairs payload. Pairs is never null in JSON.
func NewPairsData(backend string, pairs []explorer.Pair) PairsData {
	if pairs == nil {
		pairs = []explorer.Pair{}
	}
	return PairsData{
		Backend: backend,
		Count:   len(pairs),
		Pairs:   pairs,
		Summary: explorer.Summarize(pairs),
	}
}

// Server exposes one Explorer over HTTP.
type Server struct {
	config         *config.Config
	httpServer     *http.Server
	explorer       *explorer.Explorer
	metricsManager metrics.Manager
	logger         *logrus.Logger
	startTime      time.Time
}

// New creates a new API server
func New(cfg *config.Config, ex *explorer.Explorer, mm metrics.Manager, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		config:         cfg,
		explorer:       ex,
		metricsManager: mm,
		logger:         logger,
		startTime:      time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"address": s.config.Listen,
		"backend": s.explorer.Backend(),
	}).Info("Starting API server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	s.logger.Info("Shutting down API server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to shutdown API server")
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(s.logger))
	if s.metricsManager != nil {
		router.Use(s.metricsManager.Middleware())
	}

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.RateLimit(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst))
	api.HandleFunc("/pairs", s.handleListPairs).Methods(http.MethodGet)
	if s.config.Metrics.Enable && s.metricsManager != nil {
		router.Handle(s.config.Metrics.Path, s.metricsManager.Handler()).Methods(http.MethodGet)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, "not found", "", http.StatusNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, "method not allowed", "", http.StatusMethodNotAllowed)
	})

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(s.logger),
		handlers.PrintRecoveryStack(false),
	)
	return recovery(middleware.CORS()(router))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"status":  "healthy",
		"backend": s.explorer.Backend(),
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleListPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.explorer.GetAllPairs(r.Context())
	if err != nil {
		kind := probe.KindScanFailed
		var retrievalErr *explorer.RetrievalError
		if errors.As(err, &retrievalErr) {
			kind = retrievalErr.Kind
		}
		status := http.StatusBadGateway
		if kind == probe.KindConnectionFailed {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, err.Error(), kind.String(), status)
		return
	}

	s.writeJSON(w, NewPairsData(s.explorer.Backend(), pairs))
}

// Helper methods
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(APIResponse{Success: true, Data: data}); err != nil {
		s.logger.WithError(err).Warn("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, message, kind string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message, Kind: kind})
	s.logger.WithFields(logrus.Fields{
		"error":  message,
		"kind":   kind,
		"status": statusCode,
	}).Warn("API error")
}
