package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/farmpulse/farmpulse/internal/broadcast"
	"github.com/farmpulse/farmpulse/internal/config"
	apperrors "github.com/farmpulse/farmpulse/internal/errors"
	"github.com/farmpulse/farmpulse/internal/ratelimit"
	"github.com/farmpulse/farmpulse/internal/registry"
	"github.com/farmpulse/farmpulse/internal/tier"
)

// Server is the HTTP surface of the realtime core: the WebSocket endpoint
// for browser clients plus the internal producer and admin routes.
type Server struct {
	echo       *echo.Echo
	config     *config.Config
	registry   *registry.Registry
	dispatcher *broadcast.Dispatcher
	limiter    *ratelimit.Limiter
	tiers      *tier.Service
	limits     *ConnectionLimits
	clock      clockwork.Clock

	// Optional backends, probed by the readiness handler. Either may be nil.
	pool  *pgxpool.Pool
	redis *goredis.Client
}

// NewServer wires the HTTP server. pool and rdb may be nil when the
// corresponding backend is not configured.
func NewServer(cfg *config.Config, reg *registry.Registry, dispatcher *broadcast.Dispatcher, limiter *ratelimit.Limiter, tiers *tier.Service, clock clockwork.Clock, pool *pgxpool.Pool, rdb *goredis.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:       e,
		config:     cfg,
		registry:   reg,
		dispatcher: dispatcher,
		limiter:    limiter,
		tiers:      tiers,
		limits:     NewConnectionLimits(cfg.MaxConnsTotal, cfg.MaxConnsPerIP, cfg.ConnectRate, cfg.ConnectBurst),
		clock:      clock,
		pool:       pool,
		redis:      rdb,
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP exposes the router for httptest-based tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
