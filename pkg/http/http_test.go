package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listQuery struct {
	Coin  string `query:"coin" validate:"required"`
	Limit int    `query:"limit" default:"100" validate:"gte=1,lte=500"`
}

func bindCtx(target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	return e.NewContext(httptest.NewRequest(nethttp.MethodGet, target, nil), rec), rec
}

func TestReadAndValidateRequest(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		wantErr  string
		wantLim  int
		wantCode string
	}{
		{name: "defaults applied", target: "/?coin=BTC", wantLim: 100},
		{name: "explicit limit", target: "/?coin=BTC&limit=5", wantLim: 5},
		{name: "missing coin", target: "/?limit=5", wantErr: "coin is required", wantCode: "ERR_REQUIRED"},
		{name: "limit too large", target: "/?coin=BTC&limit=900", wantErr: "limit must be less than or equal to 500", wantCode: "ERR_LTE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := bindCtx(tt.target)
			var q listQuery
			verr := ReadAndValidateRequest(c, &q)
			if tt.wantErr == "" {
				require.Nil(t, verr)
				assert.Equal(t, tt.wantLim, q.Limit)
				return
			}
			errs, ok := verr.([]ValidationError)
			require.True(t, ok)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.wantErr, errs[0].Message)
			assert.Equal(t, tt.wantCode, errs[0].Code)
		})
	}
}

func TestAppErrorResponse(t *testing.T) {
	c, rec := bindCtx("/")
	require.NoError(t, AppErrorResponse(c, NotFoundErrorf("coin %s not seen", "DOGE")))
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)

	var body struct {
		Status int        `json:"status"`
		Data   []AppError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 404, body.Status)
	assert.Equal(t, "ERR_NOT_FOUND", body.Data[0].Code)
	assert.Equal(t, "coin DOGE not seen", body.Data[0].Message)

	c, rec = bindCtx("/")
	require.NoError(t, AppErrorResponse(c, assert.AnError))
	assert.Equal(t, nethttp.StatusInternalServerError, rec.Code)
}

func TestServerMountsRoutes(t *testing.T) {
	s := NewServer(Handlers{routeFunc(func(e *echo.Echo) {
		e.GET("/healthz", func(c echo.Context) error { return SuccessResponse(c, "ok") })
	})}, WithMetrics("/metrics", nethttp.NotFoundHandler(), nil, 0))

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/healthz", nil))
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

type routeFunc func(e *echo.Echo)

func (f routeFunc) RegisterRoutes(e *echo.Echo) { f(e) }

func TestClientUnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/history":
			assert.Equal(t, "BTC", r.URL.Query().Get("coin"))
			_, _ = w.Write([]byte(`{"status":200,"message":"OK","data":{"rows":[1,2],"total":2}}`))
		case "/api/alerts/rules":
			assert.Equal(t, nethttp.MethodPut, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.WriteHeader(nethttp.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":400,"message":"Bad Request","data":[{"code":"ERR_BAD_REQUEST","message":"bad comparator"}]}`))
		default:
			w.WriteHeader(nethttp.StatusNotFound)
			_, _ = w.Write([]byte("nope"))
		}
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL+"/"), WithTimeout(time.Second))

	var list struct {
		Rows  []int `json:"rows"`
		Total int   `json:"total"`
	}
	require.NoError(t, c.Get(context.Background(), "/api/history", url.Values{"coin": {"BTC"}}, &list))
	assert.Equal(t, []int{1, 2}, list.Rows)
	assert.Equal(t, 2, list.Total)

	err := c.Put(context.Background(), "/api/alerts/rules", map[string]string{"comparator": "??"}, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, nethttp.StatusBadRequest, se.Status)
	require.Len(t, se.Errors, 1)
	assert.Equal(t, CodeBadRequest, se.Errors[0].Code)

	err = c.Get(context.Background(), "/missing", nil, nil)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, nethttp.StatusNotFound, se.Status)
	assert.Contains(t, se.Error(), "nope")
}
