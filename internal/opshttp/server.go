// Package opshttp is PI's ops HTTP surface: /healthz and /metrics, nothing
// else. It is a deliberately small cut-down of the teacher's internal/api
// package, which serves a full REST API, web UI, and auth bootstrap; PI has
// no equivalent surface to carry, so only the two unauthenticated endpoints
// the teacher also leaves unauthenticated make the trip.
package opshttp

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/pi/internal/metrics"
)

// Server wraps chi's router in the http.Server the caller starts and stops.
type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerOptions carries everything NewServer needs to wire the two routes.
type ServerOptions struct {
	Addr           string
	Store          StoreSizer
	Transport      TransportChecker
	Version        string
	StartTime      time.Time
	Log            zerolog.Logger
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewServer builds the router: RequestID, Logger, Recoverer, and an optional
// RateLimiter ahead of /healthz and /metrics, mirroring the teacher's
// middleware chain minus CORS (there is no browser client here).
func NewServer(opts ServerOptions) *Server {
	r := chi.NewRouter()

	r.Use(RequestID)
	if opts.RateLimitRPS > 0 {
		r.Use(RateLimiter(opts.RateLimitRPS, opts.RateLimitBurst))
	}
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))

	health := NewHealthHandler(opts.Store, opts.Transport, opts.Version, opts.StartTime)
	r.Get("/healthz", health.ServeHTTP)

	collector := metrics.NewCollector(opts.Store)
	prometheus.MustRegister(collector)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return &Server{
		http: &http.Server{
			Addr:    opts.Addr,
			Handler: r,
		},
		log: opts.Log.With().Str("component", "opshttp").Logger(),
	}
}

// Run starts the server and blocks until ctx is canceled, at which point it
// shuts down with a bounded grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("ops http server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
