package cohort

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/vantage/rwe/internal/platform/warehouse"
)

func postJSON(t *testing.T, h echo.HandlerFunc, path, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, h(c)
}

func TestHandler_Build_InvalidDefinition(t *testing.T) {
	h := NewHandler(newTestService(&mockExecutor{}))

	_, err := postJSON(t, h.Build, "/api/v1/cohorts/build", `{"name":"empty"}`)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid definition, got %v", err)
	}
}

func TestHandler_Build_WarehouseFailure(t *testing.T) {
	exec := &mockExecutor{
		rows: func(sql string) ([]warehouse.Row, error) {
			return nil, &warehouse.QueryExecutionError{SQL: sql, Err: errors.New("TABLE_OR_VIEW_NOT_FOUND")}
		},
	}
	h := NewHandler(newTestService(exec))

	body := `{"name":"x","inclusion_criteria":[{"id":"c1","criteria_type":"condition","concept_ids":[201826]}]}`
	_, err := postJSON(t, h.Build, "/api/v1/cohorts/build", body)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for warehouse failure, got %v", err)
	}
	if msg, _ := httpErr.Message.(string); !strings.Contains(msg, "TABLE_OR_VIEW_NOT_FOUND") {
		t.Errorf("warehouse message must be passed through, got %q", httpErr.Message)
	}
}

func TestHandler_Compile(t *testing.T) {
	h := NewHandler(newTestService(&mockExecutor{}))

	body := `{"name":"x","inclusion_criteria":[{"id":"c1","criteria_type":"condition","concept_ids":[201826]}]}`
	rec, err := postJSON(t, h.Compile, "/api/v1/cohorts/compile", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "base_population") {
		t.Errorf("response must carry the SQL, got %s", rec.Body.String())
	}
}

func TestHandler_PreviewCount(t *testing.T) {
	exec := &mockExecutor{
		scalar: func(string) (interface{}, error) { return int64(7), nil },
	}
	h := NewHandler(newTestService(exec))

	body := `{"name":"x","inclusion_criteria":[{"id":"c1","criteria_type":"drug","concept_ids":[1503297]}]}`
	rec, err := postJSON(t, h.PreviewCount, "/api/v1/cohorts/preview-count", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"count":7`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
