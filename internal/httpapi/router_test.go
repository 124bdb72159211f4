package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Logan27/1000-messenger-sub005/internal/config"
)

func init() { gin.SetMode(gin.TestMode) }

type stubHealth struct {
	err error
	lag time.Duration
}

func (s stubHealth) HealthCheck(ctx context.Context) error               { return s.err }
func (s stubHealth) ReplicaLag(ctx context.Context) (time.Duration, error) { return s.lag, nil }

type stubRedisHealth struct{ healthy bool }

func (s stubRedisHealth) Healthy(ctx context.Context) bool { return s.healthy }

func newTestRouter(health HealthChecker, redis RedisHealth) *gin.Engine {
	cfg := &config.Config{FrontendURL: "http://localhost:5173", RateLimitEnabled: false}
	return NewRouter(Deps{Config: cfg, Health: health, Redis: redis})
}

func TestHealthzAlwaysOK(t *testing.T) {
	r := newTestRouter(stubHealth{}, stubRedisHealth{healthy: true})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyzReportsOKWhenAllHealthy(t *testing.T) {
	r := newTestRouter(stubHealth{}, stubRedisHealth{healthy: true})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyzReports503WhenDatabaseUnavailable(t *testing.T) {
	r := newTestRouter(stubHealth{err: assertErr{}}, stubRedisHealth{healthy: true})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadyzReports503WhenRedisUnavailable(t *testing.T) {
	r := newTestRouter(stubHealth{}, stubRedisHealth{healthy: false})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusClassBuckets(t *testing.T) {
	cases := map[int]string{200: "2xx", 201: "2xx", 301: "3xx", 404: "4xx", 429: "4xx", 500: "5xx", 503: "5xx"}
	for code, want := range cases {
		assert.Equal(t, want, statusClass(code))
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "database unavailable" }

func TestCurrentUserIDMissingFromContext(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	_, ok := currentUserID(c)
	require.False(t, ok)
}
