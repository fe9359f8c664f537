package api

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/oriys/plebiscito/internal/cache"
	"github.com/oriys/plebiscito/internal/domain"
	"github.com/oriys/plebiscito/internal/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// envelope is the body of every successful data response. TTL is present
// only when the value was served from the cache and the store reported an
// expiry.
type envelope struct {
	Data  any    `json:"data"`
	Redis bool   `json:"redis"`
	TTL   *int64 `json:"ttl,omitempty"`
}

// serve resolves key through the cache and writes the envelope, or the
// mapped error.
func serve[T any](w http.ResponseWriter, r *http.Request, a *cache.Accessor, key string, produce cache.Producer[T]) {
	info := infoFrom(r.Context())
	info.cacheKey = key

	res, err := cache.Resolve(r.Context(), a, key, cache.Options{Bypass: bypassRequested(r)}, produce)
	if err != nil {
		info.err = err.Error()
		writeProviderError(w, err)
		return
	}

	env := envelope{Data: res.Value, Redis: res.FromCache()}
	if secs, ok := res.TTLSeconds(); ok {
		env.TTL = &secs
		info.ttl = secs
	}
	info.fromCache = res.FromCache()
	writeJSON(w, http.StatusOK, env)
}

// bypassRequested reports whether the caller asked for a recompute. Only the
// exact value "true" counts.
func bypassRequested(r *http.Request) bool {
	return r.URL.Query().Get("resetCache") == "true"
}

// statusFor maps provider errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotConfigured), errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeProviderError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logging.Op().Error("provider failed", "error", err)
		writeJSONError(w, code, http.StatusText(code))
		return
	}
	writeJSONError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Op().Warn("writing response failed", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
