package handlers

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

//go:embed openapi.json
var openAPISpec []byte

// DocsRoutes serves the OpenAPI document of the control API at /doc.json and
// the Swagger UI for it under the same prefix.
//
//	r.Mount("/api/docs", handlers.DocsRoutes("/api/docs"))
func DocsRoutes(prefix string) chi.Router {
	r := chi.NewRouter()
	r.Get("/doc.json", ServeOpenAPISpec)
	r.Get("/*", httpSwagger.Handler(
		httpSwagger.URL(prefix+"/doc.json"),
	))
	return r
}

// ServeOpenAPISpec writes the embedded OpenAPI document.
func ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPISpec)
}
