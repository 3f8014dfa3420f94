package bot

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"guildkeeper/internal/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHealthServerRoutes(t *testing.T) {
	h := NewHealthServer(config.HealthConfig{Addr: ":0", Metrics: true}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	h.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	off := NewHealthServer(config.HealthConfig{Addr: ":0"}, zap.NewNop())
	rec = httptest.NewRecorder()
	off.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
