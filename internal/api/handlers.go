package api

import (
	"context"
	"net/http"
	"time"

	"github.com/oriys/plebiscito/internal/cache"
	"github.com/oriys/plebiscito/internal/catalog"
	"github.com/oriys/plebiscito/internal/domain"
	"github.com/oriys/plebiscito/internal/listing"
	"github.com/oriys/plebiscito/internal/metrics"
	"github.com/oriys/plebiscito/internal/schemas"
	"github.com/oriys/plebiscito/internal/store"
)

const readyTimeout = 2 * time.Second

// Handler serves the read-only dataset API. Every data route goes through
// the cache accessor; a nil Cache serves everything fresh.
type Handler struct {
	Cache   *cache.Accessor
	Catalog *catalog.Catalog
	Listing *listing.Service
	Schemas *schemas.Reader
}

// RegisterRoutes registers all routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Definitions
	mux.HandleFunc("GET /api/def/zones", h.Zones)
	mux.HandleFunc("GET /api/def/elec", h.Elections)
	mux.HandleFunc("GET /api/def/ambit", h.Ambits)

	// Listing checks
	mux.HandleFunc("GET /api/check/files", h.Files)
	mux.HandleFunc("GET /api/check/not-copy", h.NotCopied)
	mux.HandleFunc("GET /api/check/scenery/{zone}", h.Scenery)
	mux.HandleFunc("GET /api/check/data/{zone}", h.ZoneData)
	mux.HandleFunc("GET /api/check/data/{zone}/filter/{type}", h.ZoneDataByType)

	// Results
	mux.HandleFunc("GET /api/result/all", h.Results)
	mux.HandleFunc("GET /api/result/filter/{key}/{value}", h.ResultsFilter)
	mux.HandleFunc("GET /api/result/filter/{k1}/{v1}/{k2}/{v2}", h.ResultsFilter2)

	// Search
	mux.Handle("GET /api/search/by/{complexId}", responseTime(http.HandlerFunc(h.Search)))
	mux.Handle("GET /api/search/by/type/{typeZone}", responseTime(http.HandlerFunc(h.SearchByType)))
	mux.Handle("GET /api/search/by/type/{typeZone}/{idZone}", responseTime(http.HandlerFunc(h.SearchByTypeAndID)))

	// Health probes
	mux.HandleFunc("GET /health/live", h.HealthLive)
	mux.HandleFunc("GET /health/ready", h.HealthReady)

	// Observability
	mux.Handle("GET /metrics", metrics.PrometheusHandler())

	// API docs
	mux.HandleFunc("GET /docs/{$}", h.Docs)
	mux.HandleFunc("GET /docs/openapi.json", h.OpenAPI)
}

func (h *Handler) catalog() *catalog.Catalog {
	if h.Catalog != nil {
		return h.Catalog
	}
	return catalog.MustDefault()
}

// Zones handles GET /api/def/zones
func (h *Handler) Zones(w http.ResponseWriter, r *http.Request) {
	serve(w, r, h.Cache, cache.Key(cache.PrefixZones), func(context.Context) ([]domain.ZoneType, error) {
		return h.catalog().Zones, nil
	})
}

// Elections handles GET /api/def/elec
func (h *Handler) Elections(w http.ResponseWriter, r *http.Request) {
	serve(w, r, h.Cache, cache.Key(cache.PrefixElections), func(context.Context) ([]domain.Election, error) {
		return h.catalog().Elections, nil
	})
}

// Ambits handles GET /api/def/ambit
func (h *Handler) Ambits(w http.ResponseWriter, r *http.Request) {
	serve(w, r, h.Cache, cache.Key(cache.PrefixAmbit), func(context.Context) ([]domain.Ambit, error) {
		return h.catalog().Ambits, nil
	})
}

// Files handles GET /api/check/files
func (h *Handler) Files(w http.ResponseWriter, r *http.Request) {
	// Never served from the cache while the listing root is unset.
	if h.Listing == nil || h.Listing.Lister == nil {
		writeProviderError(w, domain.NotConfigured("FTP_PATH"))
		return
	}
	serve(w, r, h.Cache, cache.Key(cache.PrefixFiles), h.Listing.Files)
}

// NotCopied handles GET /api/check/not-copy
func (h *Handler) NotCopied(w http.ResponseWriter, r *http.Request) {
	serve(w, r, h.Cache, cache.Key(cache.PrefixNotCopied), h.Listing.NotCopied)
}

// Scenery handles GET /api/check/scenery/{zone}
func (h *Handler) Scenery(w http.ResponseWriter, r *http.Request) {
	zone := r.PathValue("zone")
	serve(w, r, h.Cache, cache.Key(cache.PrefixScenery, zone), func(ctx context.Context) ([]domain.FileEntry, error) {
		return h.Listing.Scenery(ctx, zone)
	})
}

// ZoneData handles GET /api/check/data/{zone}
func (h *Handler) ZoneData(w http.ResponseWriter, r *http.Request) {
	zone := r.PathValue("zone")
	serve(w, r, h.Cache, cache.Key(cache.PrefixData, zone), func(context.Context) ([]domain.Record, error) {
		return h.Schemas.ZoneInfo(zone)
	})
}

// ZoneDataByType handles GET /api/check/data/{zone}/filter/{type}
func (h *Handler) ZoneDataByType(w http.ResponseWriter, r *http.Request) {
	zone, zoneType := r.PathValue("zone"), r.PathValue("type")
	serve(w, r, h.Cache, cache.Key(cache.PrefixData, zone, zoneType), func(context.Context) ([]domain.Record, error) {
		return h.Schemas.ZoneInfoByType(zone, zoneType)
	})
}

// Results handles GET /api/result/all
func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	serve(w, r, h.Cache, cache.Key(cache.PrefixResults, "all"), func(context.Context) ([]domain.Record, error) {
		return h.Schemas.Results()
	})
}

// ResultsFilter handles GET /api/result/filter/{key}/{value}
func (h *Handler) ResultsFilter(w http.ResponseWriter, r *http.Request) {
	key, value := r.PathValue("key"), r.PathValue("value")
	serve(w, r, h.Cache, cache.Key(cache.PrefixResults, key, value), func(context.Context) ([]domain.Record, error) {
		return h.Schemas.ResultsFilter(key, value)
	})
}

// ResultsFilter2 handles GET /api/result/filter/{k1}/{v1}/{k2}/{v2}
func (h *Handler) ResultsFilter2(w http.ResponseWriter, r *http.Request) {
	k1, v1 := r.PathValue("k1"), r.PathValue("v1")
	k2, v2 := r.PathValue("k2"), r.PathValue("v2")
	serve(w, r, h.Cache, cache.Key(cache.PrefixResults, k1, v1, k2, v2), func(context.Context) ([]domain.Record, error) {
		return h.Schemas.ResultsFilter2(k1, v1, k2, v2)
	})
}

// Search handles GET /api/search/by/{complexId}
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("complexId")
	serve(w, r, h.Cache, cache.Key(cache.PrefixSearch, id), func(context.Context) ([]domain.Record, error) {
		return h.Schemas.Search(id)
	})
}

// SearchByType handles GET /api/search/by/type/{typeZone}
func (h *Handler) SearchByType(w http.ResponseWriter, r *http.Request) {
	typeZone := r.PathValue("typeZone")
	serve(w, r, h.Cache, cache.Key(cache.PrefixSearchType, typeZone), func(context.Context) ([]domain.Record, error) {
		return h.Schemas.SearchByType(typeZone)
	})
}

// SearchByTypeAndID handles GET /api/search/by/type/{typeZone}/{idZone}
func (h *Handler) SearchByTypeAndID(w http.ResponseWriter, r *http.Request) {
	typeZone, idZone := r.PathValue("typeZone"), r.PathValue("idZone")
	serve(w, r, h.Cache, cache.Key(cache.PrefixSearchType, typeZone, idZone), func(context.Context) ([]domain.Record, error) {
		return h.Schemas.SearchByTypeAndID(typeZone, idZone)
	})
}

// HealthLive handles GET /health/live
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /health/ready. The cache is optional, so the
// probe always succeeds and only reports its state.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}

	s := h.Cache.Store()
	switch {
	case s == nil:
		resp["cache"] = "disabled"
	default:
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			resp["cache"] = "unavailable"
			resp["cache_error"] = err.Error()
		} else {
			resp["cache"] = "ok"
		}
		if bs, ok := s.(*store.BreakerStore); ok {
			resp["breaker"] = bs.Breaker().State().String()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
