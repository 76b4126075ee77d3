package cohort

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vantage/rwe/internal/platform/warehouse"
)

// Handler provides REST endpoints for cohort building.
type Handler struct {
	svc *Service
}

// NewHandler creates a new cohort handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers cohort routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/cohorts")
	g.POST("/build", h.Build)
	g.POST("/preview-count", h.PreviewCount)
	g.POST("/compile", h.Compile)

	api.GET("/stats/summary", h.Summary)
}

func bindDefinition(c echo.Context) (*Definition, error) {
	var def Definition
	if err := c.Bind(&def); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return &def, nil
}

func mapError(err error) error {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return echo.NewHTTPError(http.StatusBadRequest, vErr.Error())
	}
	var qErr *warehouse.QueryExecutionError
	if errors.As(err, &qErr) {
		return echo.NewHTTPError(http.StatusBadGateway, qErr.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// Build handles POST /api/v1/cohorts/build
func (h *Handler) Build(c echo.Context) error {
	def, err := bindDefinition(c)
	if err != nil {
		return err
	}

	result, err := h.svc.Build(c.Request().Context(), def)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// PreviewCount handles POST /api/v1/cohorts/preview-count
func (h *Handler) PreviewCount(c echo.Context) error {
	def, err := bindDefinition(c)
	if err != nil {
		return err
	}

	count, err := h.svc.PreviewCount(c.Request().Context(), def)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"count": count})
}

// Compile handles POST /api/v1/cohorts/compile. It returns the SQL a
// definition would run, without touching the warehouse.
func (h *Handler) Compile(c echo.Context) error {
	def, err := bindDefinition(c)
	if err != nil {
		return err
	}

	sql, err := h.svc.Compile(def)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"sql": sql})
}

// Summary handles GET /api/v1/stats/summary
func (h *Handler) Summary(c echo.Context) error {
	stats, err := h.svc.Summary(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, stats)
}
