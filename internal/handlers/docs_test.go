package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type openAPIDoc struct {
	OpenAPI string                                `json:"openapi"`
	Paths   map[string]map[string]json.RawMessage `json:"paths"`
}

func TestDocsRoutes(t *testing.T) {
	docs := DocsRoutes("/api/docs")

	t.Run("serves the OpenAPI document", func(t *testing.T) {
		rec := httptest.NewRecorder()
		docs.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/doc.json", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var doc openAPIDoc
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		assert.NotEmpty(t, doc.OpenAPI)
	})

	t.Run("serves the Swagger UI", func(t *testing.T) {
		rec := httptest.NewRecorder()
		docs.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "/api/docs/doc.json")
	})
}

func TestOpenAPISpec_CoversRoutes(t *testing.T) {
	var doc openAPIDoc
	require.NoError(t, json.Unmarshal(openAPISpec, &doc))

	h := &ShellHandler{}
	routes := h.Routes(nil, nil)

	count := 0
	err := chi.Walk(routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		count++
		t.Run(method+" "+route, func(t *testing.T) {
			ops, ok := doc.Paths[route]
			require.True(t, ok, "route %s is not documented", route)
			assert.Contains(t, ops, strings.ToLower(method))
		})
		return nil
	})
	require.NoError(t, err)
	assert.Positive(t, count)
}
