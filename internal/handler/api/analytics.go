// Package api serves the dashboard read API and rule management over Echo.
package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"FlowScope/internal/domain/models"
	icache "FlowScope/internal/service/cache"
	"FlowScope/internal/service/metrics"
	"FlowScope/internal/services/report"
	"FlowScope/internal/usecase"
	xhttp "FlowScope/pkg/http"
	xlogger "FlowScope/pkg/logger"
)

const reportTTL = 5 * time.Second

// HealthCheck is one named dependency probe for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type AnalyticsHandler struct {
	logger  *xlogger.Logger
	session *usecase.Session
	reports *icache.TTLCache
	metrics *metrics.APIMetrics
	checks  []HealthCheck
}

type HandlerOption func(*AnalyticsHandler)

func WithAPIMetrics(m *metrics.APIMetrics) HandlerOption {
	return func(h *AnalyticsHandler) { h.metrics = m }
}

// WithReportCache memoises backtest and risk responses for a few seconds.
func WithReportCache(c *icache.TTLCache) HandlerOption {
	return func(h *AnalyticsHandler) { h.reports = c }
}

func WithHealthChecks(checks ...HealthCheck) HandlerOption {
	return func(h *AnalyticsHandler) { h.checks = append(h.checks, checks...) }
}

func NewAnalyticsHandler(logger *xlogger.Logger, session *usecase.Session, opts ...HandlerOption) *AnalyticsHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &AnalyticsHandler{logger: logger, session: session}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *AnalyticsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/coins", h.Coins)
	g.GET("/analytics", h.Analytics)
	g.GET("/history", h.History)
	g.GET("/recommendation", h.Recommendation)
	g.GET("/recommendation/log", h.RecommendationLog)
	g.GET("/alerts", h.Alerts)
	g.GET("/alerts/rules", h.Rules)
	g.PUT("/alerts/rules", h.SetRules)
	g.GET("/events", h.Events)
	g.GET("/backtest", h.Backtest)
	g.GET("/risk", h.Risk)
	g.GET("/signal-lab", h.SignalLab)
}

type healthResponse struct {
	Status string            `json:"status"`
	Coins  int               `json:"coins"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *AnalyticsHandler) Health(c echo.Context) error {
	res := healthResponse{Status: "ok", Coins: len(h.session.Coins())}
	if len(h.checks) > 0 {
		res.Checks = make(map[string]string, len(h.checks))
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	for _, chk := range h.checks {
		if err := chk.Check(ctx); err != nil {
			res.Status = "degraded"
			res.Checks[chk.Name] = err.Error()
			continue
		}
		res.Checks[chk.Name] = "ok"
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalyticsHandler) Coins(c echo.Context) error {
	coins := h.session.Coins()
	return xhttp.ListResponse(c, coins, int64(len(coins)))
}

type analyticsResponse struct {
	Coin      string                  `json:"coin"`
	Snapshot  *models.Snapshot        `json:"snapshot"`
	Analytics *models.AnalyticsRecord `json:"analytics"`
}

func (h *AnalyticsHandler) Analytics(c echo.Context) error {
	req := &models.CoinRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, ok := h.session.Snapshot(req.Coin)
	if !ok {
		return xhttp.AppErrorResponse(c, unknownCoin(req.Coin))
	}
	rec, _ := h.session.Analytics(req.Coin)
	return xhttp.SuccessResponse(c, analyticsResponse{Coin: req.Coin, Snapshot: snap, Analytics: rec})
}

func (h *AnalyticsHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if _, ok := h.session.Snapshot(req.Coin); !ok {
		return xhttp.AppErrorResponse(c, unknownCoin(req.Coin))
	}
	points := h.session.History(req.Coin, req.Limit)
	return xhttp.ListResponse(c, points, int64(len(points)))
}

func (h *AnalyticsHandler) Recommendation(c echo.Context) error {
	start := time.Now()
	req := &models.RecommendationRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rec, err := h.session.Recommendation(req.Coin, models.NormalizeTimeframe(req.TF), req.ATR, req.Cooldown)
	h.metrics.Observe("recommendation", start, err)
	if err != nil {
		return h.fail(c, "recommendation", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *AnalyticsHandler) RecommendationLog(c echo.Context) error {
	req := &models.CoinRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	entries := h.session.RecommendationLog(req.Coin)
	return xhttp.ListResponse(c, entries, int64(len(entries)))
}

func (h *AnalyticsHandler) Alerts(c echo.Context) error {
	req := &models.ListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	firings := h.session.Firings(req.Limit)
	return xhttp.ListResponse(c, firings, int64(len(firings)))
}

func (h *AnalyticsHandler) Events(c echo.Context) error {
	req := &models.ListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	events := h.session.Events(req.Limit)
	return xhttp.ListResponse(c, events, int64(len(events)))
}

func (h *AnalyticsHandler) Rules(c echo.Context) error {
	rules := h.session.Rules()
	return xhttp.ListResponse(c, rules, int64(len(rules)))
}

func (h *AnalyticsHandler) SetRules(c echo.Context) error {
	req := &models.RulesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rules, err := h.session.SetRules(c.Request().Context(), req.Rules)
	if err != nil {
		h.logger.Warn("rules update rejected", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	return xhttp.ListResponse(c, rules, int64(len(rules)))
}

func (h *AnalyticsHandler) Backtest(c echo.Context) error {
	start := time.Now()
	req := &models.CoinRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := cached(h, "backtest", "backtest:"+req.Coin, func() (models.BacktestReport, error) {
		return h.session.Backtest(req.Coin)
	})
	h.metrics.Observe("backtest", start, err)
	if err != nil {
		return h.fail(c, "backtest", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalyticsHandler) Risk(c echo.Context) error {
	start := time.Now()
	req := &models.RiskRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	key := "risk:" + req.Coin + ":" + strconv.Itoa(req.Lookback)
	res, err := cached(h, "risk", key, func() (models.RiskReport, error) {
		return h.session.RiskReport(req.Coin, req.Lookback)
	})
	h.metrics.Observe("risk", start, err)
	if err != nil {
		return h.fail(c, "risk", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalyticsHandler) SignalLab(c echo.Context) error {
	start := time.Now()
	req := &models.SignalLabRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.session.SignalLab(req.Coin, models.NormalizeTimeframe(req.TF))
	h.metrics.Observe("signal_lab", start, err)
	if err != nil {
		return h.fail(c, "signal_lab", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func cached[T any](h *AnalyticsHandler, endpoint, key string, fn func() (T, error)) (T, error) {
	if h.reports == nil {
		return fn()
	}
	if v, ok := h.reports.Get(key); ok {
		if t, ok := v.(T); ok {
			h.metrics.CacheHit(endpoint)
			return t, nil
		}
	}
	return icache.GetOrCompute(h.reports, key, reportTTL, fn)
}

// fail maps usecase errors onto API errors.
func (h *AnalyticsHandler) fail(c echo.Context, endpoint string, err error) error {
	switch {
	case errors.Is(err, usecase.ErrUnknownCoin):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()).WithParam("coin", c.QueryParam("coin")))
	case errors.Is(err, report.ErrInsufficientHistory):
		return xhttp.AppErrorResponse(c, xhttp.UnprocessableError(err.Error()).WithError(err))
	}
	h.logger.Error(endpoint+" usecase error",
		xlogger.Coin(c.QueryParam("coin")), xlogger.Timeframe(c.QueryParam("tf")), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, err)
}

func unknownCoin(coin string) *xhttp.AppError {
	return xhttp.NotFoundErrorf("coin %s has no snapshot yet", coin).WithParam("coin", coin)
}
