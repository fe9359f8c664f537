package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oriys/plebiscito/internal/api"
	"github.com/oriys/plebiscito/internal/cache"
	"github.com/oriys/plebiscito/internal/catalog"
	"github.com/oriys/plebiscito/internal/circuitbreaker"
	"github.com/oriys/plebiscito/internal/config"
	"github.com/oriys/plebiscito/internal/cors"
	"github.com/oriys/plebiscito/internal/listing"
	"github.com/oriys/plebiscito/internal/logging"
	"github.com/oriys/plebiscito/internal/metrics"
	"github.com/oriys/plebiscito/internal/observability"
	"github.com/oriys/plebiscito/internal/ratelimit"
	"github.com/oriys/plebiscito/internal/schemas"
	"github.com/oriys/plebiscito/internal/store"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		listenAddr string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Server.Port = listenAddr
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}

			logging.InitStructured(cfg.Log.Format, cfg.Log.Level)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Tracing.Enabled,
				Exporter:    cfg.Tracing.Exporter,
				Endpoint:    cfg.Tracing.Endpoint,
				ServiceName: cfg.Tracing.ServiceName,
				Version:     version,
				SampleRate:  cfg.Tracing.SampleRate,
			}); err != nil {
				return err
			}
			defer observability.Shutdown(context.Background())

			metrics.InitPrometheus(cfg.Metrics.Namespace, nil)

			s, err := openStore(cfg.Cache)
			if err != nil {
				return err
			}
			if s != nil {
				defer s.Close()
			}

			lister, err := listing.NewLister(ctx, cfg.Data.ListingRoot, cfg.Data.S3)
			if err != nil {
				return err
			}

			defs, err := catalog.Default()
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}

			handler := &api.Handler{
				Cache:   cache.New(s, cfg.Cache.DefaultTTL.Duration()),
				Catalog: defs,
				Listing: listing.NewService(lister, cfg.Data.DataPath),
				Schemas: schemas.NewReader(cfg.Data.DataPath, cfg.Data.ResultsFile, cfg.Data.SearchFile),
			}
			gate := cors.New(cfg.CORS.AllowedOrigins)

			limiter, err := newRateLimiter(cfg.RateLimit, s, cfg.Cache.OpTimeout.Duration())
			if err != nil {
				return err
			}

			httpServer := api.NewServer(cfg.Server.Addr(), api.ServerConfig{
				Handler:           handler,
				CORS:              gate,
				RateLimiter:       limiter,
				ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logging.Op().Info("plebiscito started",
					"addr", httpServer.Addr,
					"cache", s != nil,
					"listing_root", cfg.Data.ListingRoot != "",
					"cors_origins", gate.Len(),
				)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logging.Op().Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown: %w", err)
				}
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Listen port or address (overrides PORT)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	return cmd
}

// openStore builds the backing store from the cache settings, behind a
// circuit breaker when one is configured. A nil store disables caching.
func openStore(cfg config.CacheConfig) (store.Store, error) {
	s, err := store.Open(cfg.URL, store.Options{
		PoolSize:  cfg.PoolSize,
		OpTimeout: cfg.OpTimeout.Duration(),
	})
	if err != nil {
		return nil, err
	}
	if s == nil {
		logging.Op().Info("REDIS_URL not set, caching disabled")
		return nil, nil
	}

	bcfg := circuitbreaker.Config{
		ErrorPct:       cfg.Breaker.ErrorPct,
		MinRequests:    cfg.Breaker.MinRequests,
		WindowDuration: cfg.Breaker.WindowDuration,
		OpenDuration:   cfg.Breaker.OpenDuration,
	}
	if !bcfg.Enabled() {
		return s, nil
	}
	breaker := circuitbreaker.New(bcfg, circuitbreaker.OnTransition(func(from, to circuitbreaker.State) {
		metrics.SetCircuitBreakerState(int(to))
		metrics.RecordCircuitBreakerTransition(to.String())
		logging.Op().Warn("cache store breaker state changed", "from", from.String(), "to", to.String())
	}))
	return store.WithBreaker(s, breaker), nil
}

// newRateLimiter returns nil when rate limiting is off. Buckets share the
// cache's Redis client when there is one.
func newRateLimiter(cfg config.RateLimitConfig, s store.Store, timeout time.Duration) (*ratelimit.Limiter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	proxies, err := ratelimit.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	if bs, ok := s.(*store.BreakerStore); ok {
		s = bs.Unwrap()
	}

	var backend ratelimit.Backend
	if rs, ok := s.(*store.RedisStore); ok {
		backend = ratelimit.NewFallbackBackend(ratelimit.NewRedisBackend(rs.Client(), timeout))
		logging.Op().Info("rate limiting enabled", "backend", "redis", "rps", cfg.RequestsPerSecond, "burst", cfg.Burst)
	} else {
		backend = ratelimit.NewLocalBackend()
		logging.Op().Info("rate limiting enabled", "backend", "local", "rps", cfg.RequestsPerSecond, "burst", cfg.Burst)
	}
	return ratelimit.New(backend, ratelimit.Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		TrustedProxies:    proxies,
	}), nil
}
