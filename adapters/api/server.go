// Package api serves a fitted model and the run registry over HTTP.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gocdr/domain/core"
	"gocdr/internal"
	"gocdr/internal/cdr"
	"gocdr/internal/errors"
	"gocdr/ports"
)

// Server exposes MAP-mode queries against one model
type Server struct {
	router *chi.Mux
	model  *cdr.Model
	runs   ports.RunRepository
	logger *internal.Logger
	port   string
}

// Config holds server configuration
type Config struct {
	Port string
}

// NewServer creates a server for model. runs may be nil, in which case the
// run endpoints answer 404.
func NewServer(config Config, model *cdr.Model, runs ports.RunRepository, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	s := &Server{
		router: chi.NewRouter(),
		model:  model,
		runs:   runs,
		logger: logger.With("component", "api"),
		port:   config.Port,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures HTTP middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(middleware.Timeout(60 * time.Second))
}

// setupRoutes configures the application routes
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/model", func(r chi.Router) {
		r.Get("/", s.handleSettings)
		r.Get("/parameters", s.handleParameters)
		r.Get("/trackers", s.handleTrackers)
		r.Post("/predict", s.handlePredict)
		r.Post("/loglik", s.handleLogLik)
		r.Post("/loss", s.handleLoss)
		r.Post("/diagnostics", s.handleDiagnostics)
	})

	s.router.Get("/runs", s.handleListRuns)
	s.router.Get("/runs/{id}", s.handleGetRun)
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving model %s on :%s", s.model.ID(), s.port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// writeJSON encodes v with the given status
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response: %v", err)
	}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps application and domain errors onto HTTP statuses
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := errors.GetCode(err)
	switch {
	case code == errors.CodeInvalidInput, code == errors.CodeValidationError,
		core.IsShapeError(err), core.IsConfigurationError(err):
		status = http.StatusBadRequest
		if !errors.IsAppError(err) {
			code = errors.CodeInvalidInput
		}
	case code == errors.CodeNotFound, core.IsNotFoundError(err):
		status = http.StatusNotFound
		code = errors.CodeNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed: %v", err)
		if !errors.IsAppError(err) {
			err = errors.InternalError(err.Error())
		}
		code = errors.GetCode(err)
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.ValidationError(key + " must be a non-negative integer")
	}
	return n, nil
}
