package api

import (
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Modar-SAD/task-nest/observability"
)

const (
	requestEvent     = "http.request"
	metricsSubsystem = "task_nest"
)

// RegisterMetrics records Prometheus HTTP metrics into reg and serves them
// on /metrics.
func RegisterMetrics(e *echo.Echo, reg *prometheus.Registry) {
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  metricsSubsystem,
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/healthz"
		},
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: reg}))
}

// Observe wraps every request in a span and emits one request event when it
// completes.
func Observe(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			ctx, span := observability.Tracer().Start(req.Context(), req.Method+" "+route)
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status

			span.SetAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", status),
			)
			if status >= 500 || err != nil {
				span.SetStatus(codes.Error, "request failed")
			}
			attrs := map[string]any{
				"http.method":      req.Method,
				"http.route":       route,
				"http.status_code": status,
				"duration_ms":      float64(time.Since(start)) / float64(time.Millisecond),
			}
			if uid, ok := c.Get(userIDKey).(string); ok {
				attrs["user.id"] = uid
			}
			observability.Emit(ctx, logger, observability.Event{
				Name:       requestEvent,
				Severity:   observability.SeverityForStatus(status, err),
				Attributes: attrs,
				Err:        err,
			})
			return nil
		}
	}
}
