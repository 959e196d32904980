package searchparam

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirindex/internal/platform/fhir"
	"github.com/ehr/fhirindex/pkg/pagination"
)

// Handler serves the registered SearchParameter resources over the FHIR
// REST API. The catalog is configured at startup, so only reads are exposed.
type Handler struct {
	registry *Registry
}

// NewHandler creates a Handler backed by registry.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes registers the SearchParameter routes on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/SearchParameter", h.Search)
	g.GET("/SearchParameter/:id", h.Read)
}

// Search handles GET /fhir/SearchParameter, returning a searchset Bundle of
// matching SearchParameter resources. Supported query parameters: name, code,
// url, status, type, base, plus _count and _offset for paging.
func (h *Handler) Search(c echo.Context) error {
	filters := make(map[string]string)
	query := url.Values{}
	for _, key := range []string{"name", "code", "url", "status", "type", "base"} {
		if v := c.QueryParam(key); v != "" {
			filters[key] = v
			query.Set(key, v)
		}
	}

	results := h.registry.Search(filters)
	page := pagination.FromContext(c)
	start, end := page.Window(len(results))

	entries := make([]map[string]interface{}, 0, end-start)
	for _, sp := range results[start:end] {
		entries = append(entries, map[string]interface{}{
			"fullUrl":  "SearchParameter/" + sp.ID,
			"resource": sp,
			"search": map[string]string{
				"mode": "match",
			},
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"resourceType": "Bundle",
		"type":         "searchset",
		"total":        len(results),
		"link":         page.Links(c.Request().URL.Path, query, len(results)),
		"entry":        entries,
	})
}

// Read handles GET /fhir/SearchParameter/:id, returning a single
// SearchParameter resource or a 404 OperationOutcome.
func (h *Handler) Read(c echo.Context) error {
	id := c.Param("id")

	sp, err := h.registry.Get(id)
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("SearchParameter", id))
	}
	return c.JSON(http.StatusOK, sp)
}
