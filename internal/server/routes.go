package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth, no quotas)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// WebSocket endpoint for browser clients
	s.echo.GET("/ws", s.handleWebSocket)

	// Internal producer routes. Authentication happens upstream; the gateway
	// stamps X-User-ID. Quota endpoint names are stable identifiers, not
	// paths, so the override table survives route refactors.
	s.echo.POST("/internal/notify/users", s.handleNotifyUsers, s.rateLimit("notify.users"))
	s.echo.POST("/internal/notify/broadcast", s.handleNotifyBroadcast, s.rateLimit("notify.broadcast"))

	// Admin routes
	s.echo.PUT("/internal/tiers/:userID", s.handleSetTier)
}
