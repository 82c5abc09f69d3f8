// Package server exposes the download manager over HTTP: JSON commands, a
// listing of sessions and games, and a server-sent event stream.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/elsbrock/gamedl/internal/download"
	"github.com/elsbrock/gamedl/internal/library"
	"github.com/elsbrock/gamedl/internal/log"
)

const (
	// heartbeatInterval keeps idle event streams open through proxies.
	heartbeatInterval = 15 * time.Second
	// defaultWriteTimeout bounds a single event stream write.
	defaultWriteTimeout = 10 * time.Second
)

// Server handles API requests
type Server struct {
	addr       string
	manager    *download.Manager
	store      *library.Store
	reconciler *library.Reconciler
	validate   *validator.Validate
	srv        *http.Server

	writeTimeout time.Duration

	startMu sync.Mutex
}

// New creates a new API server. store and reconciler may be nil, which
// disables the library endpoint and download tracking.
func New(addr string, manager *download.Manager, store *library.Store, reconciler *library.Reconciler) *Server {
	s := &Server{
		addr:       addr,
		manager:    manager,
		store:      store,
		reconciler: reconciler,
		validate:   validator.New(validator.WithRequiredStructEnabled()),

		writeTimeout: defaultWriteTimeout,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/downloads", func(r chi.Router) {
		r.Get("/", s.handleListDownloads)
		r.Post("/http", s.handleStartHTTP)
		r.Post("/torrent", s.handleStartTorrent)
		r.Post("/{id}/pause", s.handlePause)
		r.Post("/{id}/resume", s.handleResume)
		r.Delete("/{id}", s.handleCancel)
	})
	r.Get("/ratelimit", s.handleGetRateLimit)
	r.Put("/ratelimit", s.handleSetRateLimit)
	r.Get("/events", s.handleEvents)
	r.Get("/library", s.handleLibrary)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// Start listens until ctx is done, then shuts the listener down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("server").
			Str("addr", s.addr).
			Msg("Starting API server")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop gracefully shuts down the server. Open event streams end when the
// manager closes its subscriptions, so callers shut the manager down first.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Warn("server").Err(err).Msg("Forcing server close")
		return s.srv.Close()
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug("server").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request handled")
	})
}
