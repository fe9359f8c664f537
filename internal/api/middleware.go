package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/plebiscito/internal/logging"
	"github.com/oriys/plebiscito/internal/metrics"
	"github.com/oriys/plebiscito/internal/observability"
)

const (
	headerRequestID    = "X-Request-ID"
	headerResponseTime = "X-Response-Time"
	routeUnmatched     = "unmatched"
)

type requestInfoKey struct{}

// requestInfo is filled in by handlers and read back by the request logger.
type requestInfo struct {
	cacheKey  string
	fromCache bool
	ttl       int64
	err       string
}

func infoFrom(ctx context.Context) *requestInfo {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info
	}
	return &requestInfo{}
}

// statusWriter records the status code and runs onHeader once, right before
// the header is sent.
type statusWriter struct {
	http.ResponseWriter
	status   int
	onHeader func(http.Header)
	wrote    bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.wrote {
		return
	}
	sw.wrote = true
	sw.status = code
	if sw.onHeader != nil {
		sw.onHeader(sw.Header())
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wrote {
		sw.WriteHeader(http.StatusOK)
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// requestLog assigns a request id, then logs and counts every request under
// the route pattern routes would match it with. It must run inside the
// tracing middleware so the trace id is known.
func requestLog(routes *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get(headerRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, reqID)

		route := routeUnmatched
		if _, pattern := routes.Handler(r); pattern != "" {
			route = pattern
		}

		observability.SetRoute(r.Context(), route)

		info := &requestInfo{}
		ctx := context.WithValue(r.Context(), requestInfoKey{}, info)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		metrics.IncActiveRequests()
		defer metrics.DecActiveRequests()

		next.ServeHTTP(sw, r.WithContext(ctx))

		elapsed := time.Since(start)
		metrics.RecordHTTPRequest(route, sw.status, float64(elapsed.Microseconds())/1000)
		logging.LogRequest(&logging.RequestLog{
			RequestID:  reqID,
			TraceID:    observability.GetTraceID(ctx),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     sw.status,
			Duration:   elapsed,
			CacheKey:   info.cacheKey,
			FromCache:  info.fromCache,
			TTLSeconds: info.ttl,
			Error:      info.err,
		})
	})
}

// responseTime adds X-Response-Time, in milliseconds with three decimals.
func responseTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
			onHeader: func(h http.Header) {
				ms := float64(time.Since(start).Nanoseconds()) / 1e6
				h.Set(headerResponseTime, fmt.Sprintf("%.3fms", ms))
			},
		}
		next.ServeHTTP(sw, r)
	})
}
