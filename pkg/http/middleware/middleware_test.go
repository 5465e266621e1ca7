package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applogger "FlowScope/pkg/logger"
)

func serve(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "10.0.0.1:5555"
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	e := echo.New()
	e.Use(RateLimit(RateLimitConfig{RPS: 1, Burst: 2, Now: func() time.Time { return now }}))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/x").Code)
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/x").Code)
	rec := serve(e, http.MethodGet, "/x")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/x").Code, "one token refilled")
}

func TestRateLimitDisabled(t *testing.T) {
	e := echo.New()
	e.Use(RateLimit(RateLimitConfig{}))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	for i := 0; i < 20; i++ {
		require.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/x").Code)
	}
}

func TestRecoverAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	l := applogger.NewWriter(&buf)
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware(l, 0), Recover(l))
	e.GET("/boom/:id", func(c echo.Context) error { panic("kaput") })
	e.GET("/ok", func(c echo.Context) error { return c.String(http.StatusOK, "fine") })

	assert.Equal(t, http.StatusInternalServerError, serve(e, http.MethodGet, "/boom/1").Code)
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/ok").Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/boom/:id", "GET", "500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/ok", "GET", "200")))
	assert.Contains(t, buf.String(), "http handler panic")
	assert.Contains(t, buf.String(), "http request failed")
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "4xx", statusClass(429))
	assert.Equal(t, "5xx", statusClass(0))
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		method     string
		origin     string
		wantAllow  string
		wantStatus int
	}{
		{name: "wildcard without origin", method: http.MethodGet, wantAllow: "*", wantStatus: http.StatusOK},
		{name: "wildcard echoes origin", origins: []string{"*"}, method: http.MethodGet, origin: "http://dash.local", wantAllow: "http://dash.local", wantStatus: http.StatusOK},
		{name: "listed origin", origins: []string{"http://dash.local/"}, method: http.MethodGet, origin: "http://dash.local", wantAllow: "http://dash.local", wantStatus: http.StatusOK},
		{name: "unlisted origin", origins: []string{"http://dash.local"}, method: http.MethodGet, origin: "http://evil.local", wantStatus: http.StatusOK},
		{name: "preflight", origins: []string{"http://dash.local"}, method: http.MethodOptions, origin: "http://dash.local", wantAllow: "http://dash.local", wantStatus: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.Use(CORS(tt.origins))
			e.GET("/api/coins", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/api/coins", nil)
			if tt.origin != "" {
				req.Header.Set(echo.HeaderOrigin, tt.origin)
			}
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantAllow, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
			if tt.method == http.MethodOptions {
				assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowMethods), http.MethodPut)
			}
		})
	}
}
