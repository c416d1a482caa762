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

func get(t *testing.T, c *Checker, path string) (int, Response) {
	t.Helper()
	e := echo.New()
	c.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestLiveness(t *testing.T) {
	code, resp := get(t, NewChecker("test").Require("postgres", down), "/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name    string
		checker func() *Checker
		code    int
		status  Status
	}{
		{
			name:    "not started",
			checker: func() *Checker { return NewChecker("test").Require("postgres", ok) },
			code:    http.StatusServiceUnavailable,
			status:  StatusUnhealthy,
		},
		{
			name: "all healthy",
			checker: func() *Checker {
				c := NewChecker("test").Require("postgres", ok).Optional("redis", ok).Optional("graph", ok)
				c.SetReady(true)
				return c
			},
			code:   http.StatusOK,
			status: StatusHealthy,
		},
		{
			name: "optional dependency down degrades",
			checker: func() *Checker {
				c := NewChecker("test").Require("postgres", ok).Optional("graph", down)
				c.SetReady(true)
				return c
			},
			code:   http.StatusOK,
			status: StatusDegraded,
		},
		{
			name: "required dependency down fails",
			checker: func() *Checker {
				c := NewChecker("test").Require("postgres", down).Optional("graph", down)
				c.SetReady(true)
				return c
			},
			code:   http.StatusServiceUnavailable,
			status: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := get(t, tt.checker(), "/health/ready")
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, resp.Status)
		})
	}
}

func TestRunChecks(t *testing.T) {
	c := NewChecker("test").Require("postgres", ok).Optional("redis", down).Optional("kafka", nil)
	checks := c.RunChecks(context.Background())

	require.Len(t, checks, 3)
	assert.Equal(t, StatusHealthy, checks["postgres"].Status)
	assert.Equal(t, StatusDegraded, checks["redis"].Status)
	assert.Equal(t, "connection refused", checks["redis"].Message)
	assert.Equal(t, "kafka not configured", checks["kafka"].Message)
}
