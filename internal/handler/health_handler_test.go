package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triplab/pkg/logger"
)

type fakeChecker struct {
	backend string
	err     error
}

func (f fakeChecker) Health(context.Context) error { return f.err }
func (f fakeChecker) StoreBackend() string         { return f.backend }

func TestHealthHandler_Check(t *testing.T) {
	tests := []struct {
		name       string
		checker    fakeChecker
		wantStatus int
		wantBody   string
		wantError  string
	}{
		{
			name:       "healthy",
			checker:    fakeChecker{backend: "redis"},
			wantStatus: http.StatusOK,
			wantBody:   "healthy",
		},
		{
			name:       "store unreachable",
			checker:    fakeChecker{backend: "postgres", err: errors.New("connection refused")},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "unhealthy",
			wantError:  "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checker, logger.NewNop())
			rec := httptest.NewRecorder()
			h.Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Status)
			assert.Equal(t, tt.checker.backend, body.Store)
			assert.Equal(t, "triplab", body.Service)
			assert.Equal(t, tt.wantError, body.Error)
		})
	}
}
