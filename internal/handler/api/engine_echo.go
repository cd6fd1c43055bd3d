package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"SignalLoop/internal/domain/models"
	apimetrics "SignalLoop/internal/service/metrics"
	"SignalLoop/internal/service/ratelimit"
	"SignalLoop/internal/usecase"
	"SignalLoop/pkg/cache"
	xhttp "SignalLoop/pkg/http"
	xlogger "SignalLoop/pkg/logger"
	"SignalLoop/pkg/queue"
)

// Engine is the surface of usecase.Engine served over HTTP.
type Engine interface {
	Symbol() string
	PredictOnce(ctx context.Context) (models.PredictionResult, error)
	GetStats(ctx context.Context) (models.EngineStats, error)
	ForceRetrain(ctx context.Context) (models.RetrainResult, error)
	ListSimulations(ctx context.Context, state string, limit int) ([]models.Simulation, error)
	CloseSimulation(ctx context.Context, id string, price float64) (models.Simulation, error)
	Corrections() (map[string]float64, models.ErrorInsights)
}

var _ Engine = (*usecase.Engine)(nil)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// EngineOption configures EngineEchoHandler.
type EngineOption func(*EngineEchoHandler)

// WithStatsCache caches GET /api/stats responses for ttl.
func WithStatsCache(c cache.Service, ttl time.Duration) EngineOption {
	return func(h *EngineEchoHandler) {
		h.cache = c
		h.statsTTL = ttl
	}
}

// WithRetrainQueue enables POST /api/retrain?async=true.
func WithRetrainQueue(p queue.Publisher) EngineOption {
	return func(h *EngineEchoHandler) { h.jobs = p }
}

// WithLimiter throttles the write endpoints per client IP.
func WithLimiter(l *ratelimit.Limiter) EngineOption {
	return func(h *EngineEchoHandler) { h.limiter = l }
}

// WithHealthCheck adds a named dependency to GET /health.
func WithHealthCheck(name string, check HealthCheck) EngineOption {
	return func(h *EngineEchoHandler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

// EngineEchoHandler serves predictions, stats, retrains and the simulation ledger.
type EngineEchoHandler struct {
	logger   *xlogger.Logger
	engine   Engine
	cache    cache.Service
	statsTTL time.Duration
	jobs     queue.Publisher
	limiter  *ratelimit.Limiter
	checks   map[string]HealthCheck
}

func NewEngineEchoHandler(logger *xlogger.Logger, engine Engine, opts ...EngineOption) *EngineEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &EngineEchoHandler{logger: logger, engine: engine, checks: make(map[string]HealthCheck)}
	for _, opt := range opts {
		opt(h)
	}
	apimetrics.Register()
	return h
}

func (h *EngineEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/predict", h.Predict)
	g.GET("/stats", h.Stats)
	g.POST("/retrain", h.Retrain, h.throttle("retrain"))
	g.GET("/simulations", h.Simulations)
	g.POST("/simulations/:id/close", h.CloseSimulation, h.throttle("close"))
	g.GET("/corrections", h.Corrections)
}

func (h *EngineEchoHandler) Predict(c echo.Context) error {
	defer observe("predict", time.Now())
	res, err := h.engine.PredictOnce(c.Request().Context())
	if err != nil {
		return h.fail(c, "predict", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *EngineEchoHandler) Stats(c echo.Context) error {
	defer observe("stats", time.Now())
	ctx := c.Request().Context()
	key := cache.GenerateKey("stats", h.engine.Symbol())

	if h.cache != nil && h.statsTTL > 0 {
		var st models.EngineStats
		if err := h.cache.Get(ctx, key, &st); err == nil {
			c.Response().Header().Set("X-Cache", "HIT")
			return xhttp.SuccessResponse(c, st)
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			h.logger.Warn("stats cache read failed", xlogger.Error(err))
		}
	}

	st, err := h.engine.GetStats(ctx)
	if err != nil {
		return h.fail(c, "stats", err)
	}
	if h.cache != nil && h.statsTTL > 0 {
		if err := h.cache.Set(ctx, key, st, h.statsTTL); err != nil {
			h.logger.Warn("stats cache write failed", xlogger.Error(err))
		}
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *EngineEchoHandler) Retrain(c echo.Context) error {
	defer observe("retrain", time.Now())
	req := &models.RetrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if req.Async {
		if h.jobs == nil {
			return h.fail(c, "retrain", xhttp.NewError(xhttp.KindUnavailable, "async retrain is not configured"))
		}
		id, err := h.jobs.Enqueue(c.Request().Context(), usecase.RetrainJobType,
			usecase.RetrainRequested{Symbol: h.engine.Symbol(), Reason: "api"})
		if err != nil {
			return h.fail(c, "retrain", xhttp.NewError(xhttp.KindUnavailable, "enqueue retrain").Wrap(err))
		}
		return xhttp.AcceptedResponse(c, map[string]string{"job_id": id})
	}

	res, err := h.engine.ForceRetrain(c.Request().Context())
	if err != nil {
		return h.fail(c, "retrain", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *EngineEchoHandler) Simulations(c echo.Context) error {
	defer observe("simulations", time.Now())
	req := &models.ListSimulationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sims, err := h.engine.ListSimulations(c.Request().Context(), req.State, req.Limit)
	if err != nil {
		return h.fail(c, "simulations", err)
	}
	return xhttp.ListResponse(c, sims, int64(len(sims)))
}

func (h *EngineEchoHandler) CloseSimulation(c echo.Context) error {
	defer observe("close", time.Now())
	req := &models.CloseSimulationRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sim, err := h.engine.CloseSimulation(c.Request().Context(), req.ID, req.Price)
	if err != nil {
		return h.fail(c, "close", err)
	}
	h.logger.Info("simulation closed via api",
		xlogger.String("id", sim.ID),
		xlogger.Float64("result_pct", sim.ResultPct),
		xlogger.Bool("success", sim.Won()),
	)
	return xhttp.SuccessResponse(c, sim)
}

func (h *EngineEchoHandler) Corrections(c echo.Context) error {
	weights, insights := h.engine.Corrections()
	return xhttp.SuccessResponse(c, map[string]any{
		"weights":  weights,
		"insights": insights,
	})
}

func (h *EngineEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	return c.JSON(code, map[string]any{
		"status": status,
		"symbol": h.engine.Symbol(),
		"checks": checks,
	})
}

func (h *EngineEchoHandler) throttle(endpoint string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if h.limiter != nil && !h.limiter.Allow(endpoint+":"+c.RealIP()) {
				apimetrics.RateLimited.WithLabelValues(endpoint).Inc()
				return xhttp.AppErrorResponse(c, xhttp.NewError(xhttp.KindRateLimited, "too many requests"))
			}
			return next(c)
		}
	}
}

// fail maps engine errors onto AppError statuses and writes them.
func (h *EngineEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	appErr := engineErrors.Resolve(err)
	apimetrics.APIErrors.WithLabelValues(endpoint, strconv.Itoa(appErr.Status)).Inc()
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error("engine api error", xlogger.String("endpoint", endpoint), xlogger.Error(err))
	} else {
		h.logger.Warn("engine api rejected request", xlogger.String("endpoint", endpoint), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

var engineErrors = new(xhttp.ErrorMap).
	Map(models.ErrSimulationNotFound, xhttp.KindNotFound, "simulation not found").
	Map(models.ErrAlreadyClosed, xhttp.KindConflict, "simulation already closed").
	Map(models.ErrUpstreamUnavailable, xhttp.KindUnavailable, "market data unavailable").
	Map(models.ErrLedgerHalted, xhttp.KindUnavailable, "simulation ledger halted").
	Map(models.ErrLedgerCorrupted, xhttp.KindUnavailable, "simulation ledger halted").
	Map(models.ErrInsufficientData, xhttp.KindUnprocessable, "insufficient data").
	Map(models.ErrTrainingFailed, xhttp.KindUnprocessable, "training failed").
	Map(models.ErrInvalidPrice, xhttp.KindBadRequest, "price must be positive")

func observe(endpoint string, start time.Time) {
	apimetrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
