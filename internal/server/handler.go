package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirindex/internal/index"
	"github.com/ehr/fhirindex/internal/platform/fhir"
	"github.com/ehr/fhirindex/internal/platform/middleware"
	"github.com/ehr/fhirindex/internal/store"
)

// Indexer extracts the index records of one resource.
type Indexer interface {
	Index(resource map[string]interface{}) (index.ResourceIndices, error)
}

// IndexHandler serves the $index and $reindex operations.
type IndexHandler struct {
	indexer Indexer
	store   store.Store
	logger  zerolog.Logger
}

// NewIndexHandler creates an IndexHandler. s may be nil, in which case the
// store-backed routes answer 503.
func NewIndexHandler(indexer Indexer, s store.Store, logger zerolog.Logger) *IndexHandler {
	return &IndexHandler{indexer: indexer, store: s, logger: logger}
}

// RegisterRoutes registers the index routes on the given group.
func (h *IndexHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/$index", h.Index)
	g.POST("/:type/:id/$reindex", h.Reindex)
	g.GET("/:type/:id/$index", h.Lookup)
	g.DELETE("/:type/:id/$index", h.Delete)
}

// Index handles POST /fhir/$index. A single resource yields its
// ResourceIndices; a Bundle yields an array with one entry per contained
// resource, in entry order. Nothing is stored.
func (h *IndexHandler) Index(c echo.Context) error {
	resource, err := readResource(c)
	if err != nil {
		return err
	}
	c.Set(middleware.ResourceTypeKey, resource.ResourceType())
	c.Set(middleware.ResourceIDKey, resource.ID())

	if resource.ResourceType() != "Bundle" {
		ri, err := h.indexer.Index(resource)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, ri)
	}

	entries := resource.Entries()
	out := make([]index.ResourceIndices, 0, len(entries))
	for i, entry := range entries {
		ri, err := h.indexer.Index(entry)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, ri)
	}
	return c.JSON(http.StatusOK, out)
}

// Reindex handles POST /fhir/:type/:id/$reindex. The body must be the
// resource named by the path; its records replace the stored ones.
func (h *IndexHandler) Reindex(c echo.Context) error {
	if h.store == nil {
		return errNoStore
	}
	resourceType, id := c.Param("type"), c.Param("id")

	resource, err := readResource(c)
	if err != nil {
		return err
	}
	if resource.ResourceType() != resourceType || resource.ID() != id {
		return fmt.Errorf("%w: body is %s/%s, expected %s/%s",
			index.ErrInvalidResource, resource.ResourceType(), resource.ID(), resourceType, id)
	}

	ri, err := h.indexer.Index(resource)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.store.Upsert(ctx, resource, ri); err != nil {
		return fmt.Errorf("store %s/%s: %w", resourceType, id, err)
	}
	stored, err := h.store.Lookup(ctx, resourceType, id)
	if err != nil {
		return err
	}
	h.logger.Debug().Str("resource_type", resourceType).Str("resource_id", id).Int("records", stored.Len()).Msg("reindexed")
	return c.JSON(http.StatusOK, stored)
}

// Lookup handles GET /fhir/:type/:id/$index, returning the stored records.
func (h *IndexHandler) Lookup(c echo.Context) error {
	if h.store == nil {
		return errNoStore
	}
	ri, err := h.store.Lookup(c.Request().Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome(c.Param("type"), c.Param("id")))
		}
		return err
	}
	return c.JSON(http.StatusOK, ri)
}

// Delete handles DELETE /fhir/:type/:id/$index. Deleting a resource that
// is not indexed succeeds.
func (h *IndexHandler) Delete(c echo.Context) error {
	if h.store == nil {
		return errNoStore
	}
	if err := h.store.Delete(c.Request().Context(), c.Param("type"), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func readResource(c echo.Context) (fhir.Resource, error) {
	resource, err := fhir.DecodeResource(c.Request().Body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return nil, httpErr
		}
		if errors.Is(err, fhir.ErrNotAResource) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", index.ErrInvalidResource, err)
	}
	return resource, nil
}
