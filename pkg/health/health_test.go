package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func serve(t *testing.T, c *Checker, path string) (int, Response) {
	t.Helper()
	e := echo.New()
	c.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestChecker(t *testing.T) {
	t.Run("should be live regardless of dependencies", func(t *testing.T) {
		c := NewChecker("1.0.0")
		c.Register("postgres", down, true)

		code, resp := serve(t, c, "/health/live")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, StatusHealthy, resp.Status)
		assert.Equal(t, "1.0.0", resp.Version)
	})

	t.Run("should not be ready before startup completes", func(t *testing.T) {
		c := NewChecker("1.0.0")
		code, resp := serve(t, c, "/health/ready")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, resp.Checks, "startup")
	})

	t.Run("should be ready once every critical check passes", func(t *testing.T) {
		c := NewChecker("1.0.0")
		c.Register("postgres", ok, true)
		c.SetReady(true)

		code, resp := serve(t, c, "/health/ready")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, StatusHealthy, resp.Status)
	})

	t.Run("should degrade on an optional failure", func(t *testing.T) {
		c := NewChecker("1.0.0")
		c.Register("postgres", ok, true)
		c.Register("graph", down, false)

		code, resp := serve(t, c, "/health")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, StatusDegraded, resp.Status)
		assert.Equal(t, "connection refused", resp.Checks["graph"].Message)
	})

	t.Run("should be unhealthy on a critical failure", func(t *testing.T) {
		c := NewChecker("1.0.0")
		c.Register("postgres", down, true)
		c.Register("graph", ok, false)

		code, resp := serve(t, c, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, StatusUnhealthy, resp.Status)
	})
}
