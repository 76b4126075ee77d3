package concept

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler provides REST endpoints for concept resolution.
type Handler struct {
	svc *Service
}

// NewHandler creates a new concept handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers concept routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/concepts")
	g.POST("/search", h.Search)
	g.GET("/:id", h.Get)
}

// Search handles POST /api/v1/concepts/search
func (h *Handler) Search(c echo.Context) error {
	var params SearchParams
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if params.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	results, err := h.svc.Search(c.Request().Context(), params)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if results == nil {
		results = []*Concept{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"concepts": results,
		"count":    len(results),
	})
}

// Get handles GET /api/v1/concepts/:id
func (h *Handler) Get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "concept id must be a positive integer")
	}

	concept, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "concept not found")
	}
	return c.JSON(http.StatusOK, concept)
}
