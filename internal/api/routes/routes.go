package routes

import (
	"github.com/closeness/sweeper/internal/api/handlers"
	"github.com/closeness/sweeper/internal/api/middleware"
	"github.com/labstack/echo/v4"
)

// Options selects which route groups are mounted. An empty credential
// disables its group.
type Options struct {
	APIKeyHash string
	JWTSecret  string
	// TriggerRPS limits POST /runs per operator. 0 disables the limit.
	TriggerRPS   float64
	TriggerBurst int
}

func Register(e *echo.Echo, h *handlers.Handlers, o Options) {
	// API-key protected (automation)
	if o.APIKeyHash != "" {
		api := e.Group("/api/v1")
		api.Use(middleware.APIKeyAuth(o.APIKeyHash))
		registerRuns(api, h, o)
	}

	// JWT protected (dashboard)
	if o.JWTSecret != "" {
		dash := e.Group("/dashboard")
		dash.Use(middleware.JWTAuth(o.JWTSecret))
		registerRuns(dash, h, o)
	}
}

func registerRuns(g *echo.Group, h *handlers.Handlers, o Options) {
	g.GET("/runs", h.ListRuns)
	g.GET("/runs/:run_id", h.GetRun)

	var trigger []echo.MiddlewareFunc
	if o.TriggerRPS > 0 {
		trigger = append(trigger, middleware.RateLimit(o.TriggerRPS, o.TriggerBurst, middleware.ByOperator))
	}
	g.POST("/runs", h.TriggerRun, trigger...)
}
