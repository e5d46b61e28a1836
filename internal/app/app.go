// Package app is the application bootstrap and dependency injection root.
// It creates and holds all shared infrastructure (DB pool, Redis client,
// Echo instance) and wires the auth, session, rate limit, IP access, and
// audit plugins together.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/pchaisri/gearstock/internal/apperror"
	"github.com/pchaisri/gearstock/internal/clock"
	"github.com/pchaisri/gearstock/internal/config"
	"github.com/pchaisri/gearstock/internal/middleware"
	"github.com/pchaisri/gearstock/internal/plugins/audit"
	"github.com/pchaisri/gearstock/internal/plugins/auth"
	"github.com/pchaisri/gearstock/internal/plugins/ipaccess"
	"github.com/pchaisri/gearstock/internal/plugins/ratelimit"
	"github.com/pchaisri/gearstock/internal/plugins/session"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool shared by all plugins.
	DB *sql.DB

	// Redis is the Redis client used for cross-replica rate limiting.
	Redis *redis.Client

	// Echo is the HTTP server instance.
	Echo *echo.Echo

	// Wired plugin surfaces, built in New and consumed by RegisterRoutes.
	guard          *auth.Guard
	authHandler    *auth.Handler
	auditHandler   *audit.Handler
	ipRulesHandler *ipaccess.Handler
}

// New creates a new App instance with the given dependencies, configures
// the Echo server with global middleware and error handling, and builds
// the plugin graph.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client) *App {
	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	// Configure trusted reverse proxy IPs so c.RealIP() returns the actual
	// client IP instead of the proxy's IP. Critical for rate limiting, IP
	// rules, and audit logging.
	middleware.TrustedProxies(e, []string{
		"127.0.0.0/8",    // Localhost
		"10.0.0.0/8",     // Docker default bridge
		"172.16.0.0/12",  // Docker bridge (alternate range)
		"192.168.0.0/16", // Common LAN
		"fd00::/8",       // IPv6 private
	})

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Echo:   e,
	}

	app.setupMiddleware()
	app.buildPlugins()

	// Register the custom error handler that maps AppErrors to HTTP responses.
	e.HTTPErrorHandler = app.errorHandler

	return app
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first, innermost (CSRF) runs last.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery())

	// Request logging -- log every request with method, path, status, latency.
	a.Echo.Use(middleware.RequestLogger())

	// Security headers -- CSP, X-Frame-Options, X-Content-Type-Options, etc.
	a.Echo.Use(middleware.SecurityHeaders())

	// CORS -- the dashboard frontend is the only intended origin.
	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   []string{a.Config.BaseURL},
		AllowCredentials: true,
	}))

	// CSRF -- double-submit cookie pattern on all state-changing requests.
	a.Echo.Use(middleware.CSRF())
}

// buildPlugins constructs the repository/service/handler graph. The
// construction order follows the dependency order: session and rate
// limiting first, then audit (which resolves actors from tokens), then IP
// access and auth on top.
func (a *App) buildPlugins() {
	cfg := a.Config
	clk := clock.Real{}

	codec := session.NewCodec(cfg.Auth.SessionSecret, cfg.Auth.TokenMaxAge, clk)
	cookies := session.NewCookieWriter(cfg.Auth.TokenMaxAge, !cfg.IsDevelopment())

	// The Redis-backed counter keeps throttling consistent across replicas;
	// the in-memory store is per-process best effort for single-node setups.
	var counters ratelimit.CounterStore
	if cfg.Redis.SharedRateLimit {
		counters = ratelimit.NewRedisStore(a.Redis)
	} else {
		counters = ratelimit.NewMemoryStore(clk)
	}
	limiter := ratelimit.New(counters, cfg.Auth.RateLimitAttempts, cfg.Auth.RateLimitWindow)

	auditRepo := audit.NewRepository(a.DB)
	auditor := audit.NewService(auditRepo, codec)

	ipRepo := ipaccess.NewRepository(a.DB)
	ipService := ipaccess.NewService(ipRepo, auditor, clk)

	authRepo := auth.NewRepository(a.DB)
	lockout := auth.NewLockout(authRepo, cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDuration, clk)
	authService := auth.NewService(authRepo, limiter, ipService, lockout, codec, auditor, clk)

	a.guard = auth.NewGuard(codec, authRepo, auditor)
	a.authHandler = auth.NewHandler(authService, a.guard, cookies)
	a.auditHandler = audit.NewHandler(auditor)
	a.ipRulesHandler = ipaccess.NewHandler(ipService)
}

// errorHandler is the custom Echo error handler. It maps domain errors
// (AppError) to JSON responses; the dashboard is an API-only surface, so
// there are no error pages to render.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "An unexpected error occurred"

	var appErr *apperror.AppError
	var echoErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code = appErr.Code
		message = appErr.Message

		// Log internal errors with the underlying cause.
		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
			)
		}
	case errors.As(err, &echoErr):
		// Echo's built-in HTTP errors (e.g., 404 from the router).
		code = echoErr.Code
		if msg, ok := echoErr.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(code)
		}
	default:
		// Truly unexpected error -- log it.
		slog.Error("unhandled error",
			slog.Any("error", err),
			slog.String("path", c.Request().URL.Path),
		)
	}

	c.JSON(code, map[string]string{
		"error":   http.StatusText(code),
		"message": message,
	})
}

// Start begins listening on the configured port. Blocks until shutdown.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting Gearstock server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}
