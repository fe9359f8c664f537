package api

import (
	stdjson "encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/plebiscito/internal/cache"
	"github.com/oriys/plebiscito/internal/catalog"
	"github.com/oriys/plebiscito/internal/cors"
	"github.com/oriys/plebiscito/internal/listing"
	"github.com/oriys/plebiscito/internal/ratelimit"
	"github.com/oriys/plebiscito/internal/schemas"
	"github.com/oriys/plebiscito/internal/store"
)

type response struct {
	Data  stdjson.RawMessage `json:"data"`
	Redis bool               `json:"redis"`
	TTL   *int64             `json:"ttl"`
	Error string             `json:"error"`
}

type fixture struct {
	router  http.Handler
	ftp     string
	dataDir string
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func newFixture(t *testing.T, s store.Store, withListing bool) *fixture {
	t.Helper()
	ftp, data := t.TempDir(), t.TempDir()

	writeFile(t, data, "results.json", `[{"zone":"13101","option":"A favor","votes":120},{"zone":"13101","option":"En contra","votes":95},{"zone":"13","option":"A favor","votes":4100}]`)
	writeFile(t, data, "search.json", `[{"complexId":"c-1","typeZone":"comuna","idZone":"13101"},{"complexId":"c-2","typeZone":"comuna","idZone":"13102"}]`)
	writeFile(t, data, "13101.json", `[{"id":"1","type":"mesa"},{"id":"2","type":"local"}]`)
	writeFile(t, data, "broken.json", `{"id":`)
	writeFile(t, ftp, "13101.json", `[]`)
	writeFile(t, ftp, "escenarios/13101_concejales.json", `[]`)
	writeFile(t, ftp, "13102.json", `[]`)

	lst := listing.NewService(nil, data)
	if withListing {
		lst = listing.NewService(&listing.LocalLister{Root: ftp}, data)
	}

	h := &Handler{
		Cache:   cache.New(s, 0),
		Catalog: catalog.MustDefault(),
		Listing: lst,
		Schemas: schemas.NewReader(data, "results.json", "search.json"),
	}
	return &fixture{
		router:  NewRouter(h, cors.New([]string{"https://app.example"}), nil),
		ftp:     ftp,
		dataDir: data,
	}
}

func (f *fixture) get(t *testing.T, target string, headers ...string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var body response
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, stdjson.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func TestMissThenHit(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), true)

	rec, first := f.get(t, "/api/def/zones")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, first.Redis)
	assert.Nil(t, first.TTL)
	assert.NotContains(t, rec.Body.String(), `"ttl"`)

	rec, second := f.get(t, "/api/def/zones")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, second.Redis)
	require.NotNil(t, second.TTL)
	assert.LessOrEqual(t, *second.TTL, int64(3600))
	assert.Greater(t, *second.TTL, int64(3590))
	assert.JSONEq(t, string(first.Data), string(second.Data))
}

func TestResetCache(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), true)

	f.get(t, "/api/result/all")
	_, hit := f.get(t, "/api/result/all")
	require.True(t, hit.Redis)

	_, reset := f.get(t, "/api/result/all?resetCache=true")
	assert.False(t, reset.Redis)
	assert.Nil(t, reset.TTL)

	// Only the exact string "true" bypasses.
	_, notReset := f.get(t, "/api/result/all?resetCache=1")
	assert.True(t, notReset.Redis)
}

func TestNoCacheConfigured(t *testing.T) {
	f := newFixture(t, nil, true)
	for i := 0; i < 2; i++ {
		rec, body := f.get(t, "/api/def/elec")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, body.Redis)
		assert.Nil(t, body.TTL)
	}
}

func TestRedisBackedRoutes(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := store.Open("redis://"+mr.Addr(), store.Options{OpTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	f := newFixture(t, s, true)

	rec, body := f.get(t, "/api/result/filter/zone/13101")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, body.Redis)
	var rows []map[string]any
	require.NoError(t, stdjson.Unmarshal(body.Data, &rows))
	assert.Len(t, rows, 2)
	assert.True(t, mr.Exists("results-zone-13101"))

	mr.FastForward(100 * time.Second)
	_, body = f.get(t, "/api/result/filter/zone/13101")
	assert.True(t, body.Redis)
	require.NotNil(t, body.TTL)
	assert.EqualValues(t, 3500, *body.TTL)

	_, body = f.get(t, "/api/result/filter/zone/13101/option/En%20contra")
	require.NoError(t, stdjson.Unmarshal(body.Data, &rows))
	assert.Len(t, rows, 1)
	assert.True(t, mr.Exists("results-zone-13101-option-En contra"))

	f.get(t, "/api/search/by/type/comuna/13101")
	f.get(t, "/api/check/data/13101/filter/mesa")
	assert.True(t, mr.Exists("search-type-comuna-13101"))
	assert.True(t, mr.Exists("data-13101-mesa"))
}

func TestStoreDownServesFresh(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := store.Open("redis://"+mr.Addr(), store.Options{OpTimeout: 200 * time.Millisecond, DialTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	f := newFixture(t, s, true)
	mr.Close()

	rec, body := f.get(t, "/api/def/ambit")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, body.Redis)
	assert.NotEmpty(t, body.Data)
}

func TestListingRoutes(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), true)

	rec, body := f.get(t, "/api/check/files")
	require.Equal(t, http.StatusOK, rec.Code)
	var files []map[string]any
	require.NoError(t, stdjson.Unmarshal(body.Data, &files))
	assert.Len(t, files, 3)

	_, body = f.get(t, "/api/check/scenery/13101")
	require.NoError(t, stdjson.Unmarshal(body.Data, &files))
	assert.Len(t, files, 2)

	// 13101.json exists in the data directory, the others do not.
	_, body = f.get(t, "/api/check/not-copy")
	require.NoError(t, stdjson.Unmarshal(body.Data, &files))
	assert.Len(t, files, 2)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), false)

	rec, body := f.get(t, "/api/check/files")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body.Error, "FTP_PATH")

	rec, body = f.get(t, "/api/check/data/99999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, body.Error)

	rec, body = f.get(t, "/api/check/data/broken")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, http.StatusText(http.StatusInternalServerError), body.Error)

	// Failures are not cached.
	writeFile(t, f.dataDir, "99999.json", `[{"id":"9"}]`)
	rec, body = f.get(t, "/api/check/data/99999")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, body.Redis)
}

func TestResponseTimeOnSearchOnly(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), true)

	rec, body := f.get(t, "/api/search/by/c-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Regexp(t, `^\d+\.\d{3}ms$`, rec.Header().Get(headerResponseTime))
	var rows []map[string]any
	require.NoError(t, stdjson.Unmarshal(body.Data, &rows))
	assert.Len(t, rows, 1)

	rec, _ = f.get(t, "/api/search/by/type/comuna")
	assert.NotEmpty(t, rec.Header().Get(headerResponseTime))

	rec, _ = f.get(t, "/api/result/all")
	assert.Empty(t, rec.Header().Get(headerResponseTime))
}

func TestCORSAndRequestID(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), true)

	rec, _ := f.get(t, "/api/def/zones", "Referer", "https://app.example/")
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, cors.AllowedMethods, rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Len(t, rec.Header().Get(headerRequestID), 36)

	rec, _ = f.get(t, "/api/def/zones", "Referer", "https://other.example", headerRequestID, "abc")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "abc", rec.Header().Get(headerRequestID))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, true)
	rec, _ := f.get(t, "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.get(t, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cache":"disabled"`)

	ms := store.NewMemoryStore()
	f = newFixture(t, ms, true)
	rec, _ = f.get(t, "/health/ready")
	assert.Contains(t, rec.Body.String(), `"cache":"ok"`)

	require.NoError(t, ms.Close())
	rec, _ = f.get(t, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cache":"unavailable"`)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, nil, true)
	rec, _ := f.get(t, "/api/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitedRouter(t *testing.T) {
	h := &Handler{Cache: cache.New(nil, 0)}
	limiter := ratelimit.New(ratelimit.NewLocalBackend(), ratelimit.Config{RequestsPerSecond: 0.001, Burst: 1})
	router := NewRouter(h, cors.New([]string{"https://app.example"}), limiter)

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Referer", "https://app.example")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("/api/def/zones").Code)
	rec := do("/api/def/zones")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, do("/health/live").Code)
}

func TestUnconfiguredProviders(t *testing.T) {
	f := &fixture{router: NewRouter(&Handler{Cache: cache.New(store.NewMemoryStore(), 0)}, cors.New(nil), nil)}

	for _, target := range []string{
		"/api/result/all",
		"/api/result/filter/zone/13101",
		"/api/search/by/c-1",
		"/api/search/by/type/comuna/13101",
		"/api/check/data/13101",
		"/api/check/files",
		"/api/check/not-copy",
		"/api/check/scenery/13101",
	} {
		rec, body := f.get(t, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.NotEmpty(t, body.Error, target)
	}
}

func TestDocs(t *testing.T) {
	f := newFixture(t, nil, true)

	rec, _ := f.get(t, "/docs/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "openapi.json")

	rec, _ = f.get(t, "/docs/openapi.json")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc struct {
		OpenAPI string                        `json:"openapi"`
		Paths   map[string]stdjson.RawMessage `json:"paths"`
	}
	require.NoError(t, stdjson.Unmarshal(rec.Body.Bytes(), &doc))
	assert.NotEmpty(t, doc.OpenAPI)

	// Every data route is documented.
	mux := http.NewServeMux()
	(&Handler{}).RegisterRoutes(mux)
	for path := range doc.Paths {
		_, pattern := mux.Handler(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, "GET "+path, pattern, "documented path %s is not served", path)
	}
	for _, route := range []string{
		"/api/def/zones", "/api/def/elec", "/api/def/ambit",
		"/api/check/files", "/api/check/not-copy", "/api/check/scenery/{zone}",
		"/api/check/data/{zone}", "/api/check/data/{zone}/filter/{type}",
		"/api/result/all", "/api/result/filter/{key}/{value}", "/api/result/filter/{k1}/{v1}/{k2}/{v2}",
		"/api/search/by/{complexId}", "/api/search/by/type/{typeZone}", "/api/search/by/type/{typeZone}/{idZone}",
	} {
		assert.Contains(t, doc.Paths, route)
	}
}
