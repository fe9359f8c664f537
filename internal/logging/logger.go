package logging

import (
	"context"
	"log/slog"
	"time"
)

// RequestLog represents a single served API request.
type RequestLog struct {
	RequestID  string
	TraceID    string
	Method     string
	Path       string
	Status     int
	Duration   time.Duration
	CacheKey   string
	FromCache  bool
	TTLSeconds int64
	Error      string
}

// LogRequest writes a request entry through the operational logger.
// Server errors are logged at error level, client errors at warn, the rest
// at info.
func LogRequest(entry *RequestLog) {
	if entry == nil {
		return
	}

	attrs := []any{
		"request_id", entry.RequestID,
		"method", entry.Method,
		"path", entry.Path,
		"status", entry.Status,
		"duration_ms", entry.Duration.Milliseconds(),
	}
	if entry.TraceID != "" {
		attrs = append(attrs, "trace_id", entry.TraceID)
	}
	if entry.CacheKey != "" {
		attrs = append(attrs, "cache_key", entry.CacheKey, "from_cache", entry.FromCache)
		if entry.FromCache && entry.TTLSeconds >= 0 {
			attrs = append(attrs, "ttl_s", entry.TTLSeconds)
		}
	}
	if entry.Error != "" {
		attrs = append(attrs, "error", entry.Error)
	}

	level := slog.LevelInfo
	switch {
	case entry.Status >= 500:
		level = slog.LevelError
	case entry.Status >= 400:
		level = slog.LevelWarn
	}
	Op().Log(context.Background(), level, "request", attrs...)
}
