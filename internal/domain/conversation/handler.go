package conversation

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vantage/rwe/internal/platform/warehouse"
)

// Handler provides REST endpoints for conversational queries.
type Handler struct {
	svc *Service
}

// NewHandler creates a new conversation handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers conversation routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/genai")
	g.POST("/query", h.Query)
	g.GET("/sessions/:id", h.GetSession)
	g.DELETE("/sessions/:id", h.DeleteSession)
	g.GET("/turns/:key/progress", h.TurnProgress)
}

type queryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
}

// Query handles POST /api/v1/genai/query
func (h *Handler) Query(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	answer, err := h.svc.Ask(c.Request().Context(), req.SessionID, req.Query)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrTurnInFlight):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		var qErr *warehouse.QueryExecutionError
		if errors.As(err, &qErr) {
			return echo.NewHTTPError(http.StatusBadGateway, qErr.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, answer)
}

// GetSession handles GET /api/v1/genai/sessions/:id
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.svc.Session(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, session)
}

// DeleteSession handles DELETE /api/v1/genai/sessions/:id
func (h *Handler) DeleteSession(c echo.Context) error {
	if err := h.svc.DeleteSession(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// TurnProgress handles GET /api/v1/genai/turns/:key/progress. The key is
// "sessionID:messageID" as reported while a turn is in flight.
func (h *Handler) TurnProgress(c echo.Context) error {
	statuses, ok := h.svc.Progress(c.Param("key"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no turn in flight for that key")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"key":      c.Param("key"),
		"statuses": statuses,
	})
}
