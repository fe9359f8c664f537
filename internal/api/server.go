package api

import (
	"net/http"
	"time"

	"github.com/oriys/plebiscito/internal/cors"
	"github.com/oriys/plebiscito/internal/observability"
	"github.com/oriys/plebiscito/internal/ratelimit"
)

// publicPaths are never rate limited.
var publicPaths = []string{"/health/*", "/metrics"}

// ServerConfig contains dependencies for the HTTP server.
type ServerConfig struct {
	Handler           *Handler
	CORS              *cors.Gate
	RateLimiter       *ratelimit.Limiter
	ReadHeaderTimeout time.Duration
}

// NewRouter registers the API routes and wraps them with the middleware
// chain: tracing, request logging and metrics, CORS, then rate limiting.
// A nil limiter disables rate limiting.
func NewRouter(h *Handler, gate *cors.Gate, limiter *ratelimit.Limiter) http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = ratelimit.Middleware(limiter, publicPaths)(handler)
	handler = cors.Middleware(gate)(handler)
	handler = requestLog(mux, handler)
	handler = observability.HTTPMiddleware(handler)
	return handler
}

// NewServer creates the HTTP server. The caller starts and stops it.
func NewServer(addr string, cfg ServerConfig) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(cfg.Handler, cfg.CORS, cfg.RateLimiter),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
