package api

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed docs/*
var docs embed.FS

var docsFS = func() fs.FS {
	sub, err := fs.Sub(docs, "docs")
	if err != nil {
		panic(err)
	}
	return sub
}()

// Docs handles GET /docs/, the API browser page.
func (h *Handler) Docs(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, docsFS, "index.html")
}

// OpenAPI handles GET /docs/openapi.json
func (h *Handler) OpenAPI(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, docsFS, "openapi.json")
}
