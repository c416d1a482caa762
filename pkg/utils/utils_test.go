package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	Query string `json:"query" validate:"required"`
	Limit int    `json:"limit" validate:"omitempty,min=1,max=100"`
}

func newContext(method, target, body string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestBindRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"query":"kafka","limit":5}`},
		{name: "missing required", body: `{"limit":5}`, wantErr: "field 'Query' failed rule 'required'"},
		{name: "out of range", body: `{"query":"kafka","limit":500}`, wantErr: "rule 'max=100'"},
		{name: "malformed", body: `{"query":`, wantErr: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := BindRequest[request](newContext(http.MethodPost, "/", tt.body))
			if tt.name == "valid" {
				require.NoError(t, err)
				assert.Equal(t, request{Query: "kafka", Limit: 5}, req)
				return
			}
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestQueryInt(t *testing.T) {
	n, err := QueryInt(newContext(http.MethodGet, "/?depth=3", ""), "depth", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = QueryInt(newContext(http.MethodGet, "/", ""), "depth", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = QueryInt(newContext(http.MethodGet, "/?depth=deep", ""), "depth", 2)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestValidateValue(t *testing.T) {
	assert.NoError(t, ValidateValue(3, "min=1,max=6"))
	assert.Error(t, ValidateValue(9, "min=1,max=6"))
}
