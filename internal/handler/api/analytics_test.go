package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	icache "FlowScope/internal/service/cache"
	"FlowScope/internal/service/metrics"
	"FlowScope/internal/usecase"
)

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type rows struct {
	Rows  []json.RawMessage `json:"rows"`
	Total int64             `json:"total"`
}

func payload(coin string, last float64) []byte {
	return []byte(fmt.Sprintf(`{"coin":%q,"last":%v,"high":110,"low":90,"count_VOL_minute_120_buy":300,"count_VOL_minute_120_sell":100}`,
		coin, last))
}

func testServer(t *testing.T, opts ...HandlerOption) (*echo.Echo, *usecase.Session, func(time.Duration)) {
	t.Helper()
	now := time.UnixMilli(1_700_000_000_000)
	s := usecase.NewSession(usecase.SessionConfig{}, nil, usecase.WithSessionClock(func() time.Time { return now }))
	e := echo.New()
	NewAnalyticsHandler(nil, s, opts...).RegisterRoutes(e)
	return e, s, func(d time.Duration) { now = now.Add(d) }
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestStatusCodes(t *testing.T) {
	e, s, advance := testServer(t)
	ctx := context.Background()
	_, err := s.Ingest(ctx, payload("BTC", 100))
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"coins", "/api/coins", http.StatusOK},
		{"analytics", "/api/analytics?coin=BTC", http.StatusOK},
		{"analytics missing coin param", "/api/analytics", http.StatusBadRequest},
		{"analytics unknown coin", "/api/analytics?coin=DOGE", http.StatusNotFound},
		{"history", "/api/history?coin=BTC&limit=10", http.StatusOK},
		{"history zero limit uses default", "/api/history?coin=BTC&limit=0", http.StatusOK},
		{"history limit too large", "/api/history?coin=BTC&limit=501", http.StatusBadRequest},
		{"recommendation", "/api/recommendation?coin=BTC&tf=5m", http.StatusOK},
		{"recommendation bad tf", "/api/recommendation?coin=BTC&tf=7m", http.StatusBadRequest},
		{"recommendation unknown coin", "/api/recommendation?coin=DOGE", http.StatusNotFound},
		{"risk with one point", "/api/risk?coin=BTC", http.StatusUnprocessableEntity},
		{"risk lookback too small", "/api/risk?coin=BTC&lookback=5", http.StatusBadRequest},
		{"backtest unknown coin", "/api/backtest?coin=DOGE", http.StatusNotFound},
		{"signal lab", "/api/signal-lab?coin=BTC&tf=all", http.StatusOK},
		{"alerts", "/api/alerts?limit=5", http.StatusOK},
		{"events", "/api/events", http.StatusOK},
		{"rules", "/api/alerts/rules", http.StatusOK},
		{"healthz", "/healthz", http.StatusOK},
	}
	advance(time.Second)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, e, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.want, code)
			assert.Equal(t, tt.want, env.Status)
		})
	}
}

func TestHistoryDefaultsAndLimit(t *testing.T) {
	e, s, advance := testServer(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Ingest(ctx, payload("ETH", 100+float64(i)))
		require.NoError(t, err)
		advance(time.Minute)
	}

	_, env := do(t, e, http.MethodGet, "/api/history?coin=ETH&limit=3", "")
	var got rows
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Len(t, got.Rows, 3)
	assert.EqualValues(t, 3, got.Total)

	_, env = do(t, e, http.MethodGet, "/api/history?coin=ETH", "")
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Len(t, got.Rows, 5)
}

func TestRecommendationBody(t *testing.T) {
	e, s, _ := testServer(t)
	_, err := s.Ingest(context.Background(), payload("BTC", 100))
	require.NoError(t, err)

	_, env := do(t, e, http.MethodGet, "/api/recommendation?coin=BTC&tf=all", "")
	var rec struct {
		Recommendation string            `json:"recommendation"`
		Timeframe      string            `json:"timeframe"`
		Breakdown      []json.RawMessage `json:"breakdown"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, "all", rec.Timeframe)
	assert.Len(t, rec.Breakdown, 9)
	assert.Contains(t, []string{"BUY", "SELL", "HOLD"}, rec.Recommendation)
}

func TestPutRules(t *testing.T) {
	e, s, _ := testServer(t)

	body := `{"rules":[{"id":"risk_hot","name":"Risk hot","metric":"riskScore","comparator":"gte","threshold":70,"severity":"danger","enabled":true}]}`
	code, env := do(t, e, http.MethodPut, "/api/alerts/rules", body)
	require.Equal(t, http.StatusOK, code, string(env.Data))
	require.Len(t, s.Rules(), 1)
	assert.Equal(t, ">=", string(s.Rules()[0].Comparator))

	tests := []struct {
		name string
		body string
	}{
		{"unknown comparator", `{"rules":[{"id":"x","metric":"riskScore","comparator":"between","threshold":1,"severity":"warning"}]}`},
		{"missing metric", `{"rules":[{"id":"x","comparator":">","threshold":1,"severity":"warning"}]}`},
		{"bad severity", `{"rules":[{"id":"x","metric":"riskScore","comparator":">","threshold":1,"severity":"loud"}]}`},
		{"no rules", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := do(t, e, http.MethodPut, "/api/alerts/rules", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Len(t, s.Rules(), 1, "rejected update keeps the previous rules")
		})
	}
}

func TestReportCacheAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewAPIMetrics(reg)
	e, s, advance := testServer(t, WithReportCache(icache.NewTTLCache()), WithAPIMetrics(m))
	ctx := context.Background()
	for _, p := range []float64{100, 102, 99, 104, 101} {
		_, err := s.Ingest(ctx, payload("BTC", p))
		require.NoError(t, err)
		advance(time.Minute)
	}

	code, _ := do(t, e, http.MethodGet, "/api/backtest?coin=BTC", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, e, http.MethodGet, "/api/backtest?coin=BTC", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, e, http.MethodGet, "/api/risk?coin=DOGE", "")
	require.Equal(t, http.StatusNotFound, code)

	assert.Equal(t, 1.0, counter(t, reg, "flowscope_api_cache_hits_total", "backtest"))
	assert.Equal(t, 1.0, counter(t, reg, "flowscope_api_errors_total", "risk"))
}

func TestHealthChecks(t *testing.T) {
	e, _, _ := testServer(t, WithHealthChecks(
		HealthCheck{Name: "redis", Check: func(context.Context) error { return nil }},
		HealthCheck{Name: "clickhouse", Check: func(context.Context) error { return errors.New("dial tcp: refused") }},
	))
	code, env := do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)

	var h healthResponse
	require.NoError(t, json.Unmarshal(env.Data, &h))
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "ok", h.Checks["redis"])
	assert.Equal(t, "dial tcp: refused", h.Checks["clickhouse"])
}

func counter(t *testing.T, reg *prometheus.Registry, name, endpoint string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "endpoint" && lp.GetValue() == endpoint {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
