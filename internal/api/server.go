// Package api implements the HTTP surface of the trip optimization service.
package api

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tripopt/internal/config"
	"tripopt/internal/integrations/osrm"
	"tripopt/internal/metrics"
	"tripopt/internal/planner"
	"tripopt/internal/store"
)

type Server struct {
	Store   store.Store
	Broker  EventBroker
	Planner *planner.Planner
	Log     *zap.Logger
	Cfg     config.Config

	// async plans in flight, waited on by Shutdown
	wg sync.WaitGroup
}

// NewServer wires the store, broker and planner from cfg. Without DATABASE_URL
// the in-memory store is used; without REDIS_URL the in-process broker.
func NewServer(cfg config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	metrics.RegisterDefault()
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.DBMigrate {
			if err := sp.MigrateDir(context.Background(), cfg.MigrationsDir); err != nil {
				log.Warn("migrations failed", zap.String("dir", cfg.MigrationsDir), zap.Error(err))
			}
		}
		s = sp
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL, log); err == nil {
			broker = rb
		} else {
			log.Warn("redis broker unavailable, using in-process broker", zap.Error(err))
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	opts := []planner.Option{
		planner.WithLogger(log.Named("planner")),
		planner.WithObserver(metrics.PlannerObserver{}),
	}
	if cfg.OSRM.URL != "" {
		opts = append(opts, planner.WithExternal(osrm.NewClient(cfg.OSRM.URL,
			osrm.WithRateLimit(cfg.OSRM.RPS, cfg.OSRM.Burst),
			osrm.WithLogger(log.Named("osrm")),
		)))
	}
	return &Server{
		Store:   s,
		Broker:  broker,
		Planner: planner.New(cfg.Planner, opts...),
		Log:     log,
		Cfg:     cfg,
	}, nil
}

// Routes returns the service mux wrapped in the standard middleware chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Optimization
	mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
	mux.HandleFunc("/v1/optimizer/config", s.OptimizerConfigHandler)

	// Plans
	mux.HandleFunc("/v1/plans", s.PlansIndexHandler)
	mux.HandleFunc("/v1/plans/", s.PlanByIDHandler) // includes /select, /export, /metrics, /events/stream, /ws

	// Health
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	var h http.Handler = mux
	h = rateLimitMiddleware(h, s.Cfg.RateRPS, s.Cfg.RateBurst)
	h = metricsMiddleware(h)
	h = logMiddleware(h, s.Log)
	return recoverMiddleware(h, s.Log)
}

// Shutdown waits for in-flight async plans, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if c, ok := s.Broker.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	if c, ok := s.Store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
