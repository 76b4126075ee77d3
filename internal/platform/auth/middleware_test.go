package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func withRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, UserRolesKey, roles)
}

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func invokeWithToken(t *testing.T, cfg JWTConfig, token string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := JWTMiddleware(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return rec, h(c)
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "analyst-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"analyst"},
	})

	_, err := invokeWithToken(t, JWTConfig{SigningKey: testKey}, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := invokeWithToken(t, JWTConfig{SigningKey: testKey}, "")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	token := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "analyst-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := invokeWithToken(t, JWTConfig{SigningKey: testKey}, token)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	token := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "analyst-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := invokeWithToken(t, JWTConfig{SigningKey: []byte("other-key")}, token)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()

	run := func(roles []string) error {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if roles != nil {
			ctx := c.Request().Context()
			c.SetRequest(c.Request().WithContext(withRoles(ctx, roles)))
		}
		h := RequireRole("analyst")(func(c echo.Context) error {
			return c.String(http.StatusOK, "ok")
		})
		return h(c)
	}

	if err := run([]string{"analyst"}); err != nil {
		t.Errorf("analyst role should pass: %v", err)
	}
	if err := run([]string{"admin"}); err != nil {
		t.Errorf("admin should always pass: %v", err)
	}
	if err := run([]string{"viewer"}); err == nil {
		t.Error("viewer role should be rejected")
	}
	if err := run(nil); err == nil {
		t.Error("missing roles should be rejected")
	}
}
