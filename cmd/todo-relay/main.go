package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"golang.org/x/time/rate"

	"todo-relay/internal/client"
	"todo-relay/internal/config"
	"todo-relay/internal/handler"
	"todo-relay/internal/metrics"
	"todo-relay/internal/middleware"
	"todo-relay/internal/model"
	"todo-relay/internal/service"
	"todo-relay/internal/tracing"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// adminServer is the listener for health, status and metrics endpoints.
type adminServer struct {
	*echo.Echo
}

func main() {
	// A .env file only seeds the environment Kong reads flag fallbacks from.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "todo-relay: load .env: %v\n", err)
		os.Exit(1)
	}

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("todo-relay"),
		kong.Description("Relays a fixed upstream JSON resource to every HTTP caller."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() model.Version { return model.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			tracing.NewTracerProvider,
			newEcho,
			newAdminServer,
			client.NewUpstreamClient,
			service.NewRelayService,
			handler.NewRelayHandler,
			newHealthHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			registerAdminRoutes,
			logConfigSource,
			startServer,
			startAdminServer,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// applyServerTimeouts sets inbound timeouts. WriteTimeout stays 0 because a
// relay response waits on the upstream, which is bounded by the client timeout.
func applyServerTimeouts(s *http.Server) {
	s.ReadTimeout = 30 * time.Second
	s.WriteTimeout = 0
	s.IdleTimeout = 120 * time.Second
	s.ReadHeaderTimeout = 10 * time.Second
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	applyServerTimeouts(e.Server)
	e.Server.ConnState = middleware.ConnLogger(logger, m)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func newAdminServer() *adminServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	applyServerTimeouts(e.Server)
	e.Use(echomw.Recover())

	return &adminServer{Echo: e}
}

func newHealthHandler(svc *service.RelayService, v model.Version) *handler.HealthHandler {
	return handler.NewHealthHandler(svc.URL(), v)
}

func registerAdminRoutes(admin *adminServer, health *handler.HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	handler.RegisterAdminRoutes(admin.Echo, health, cfg, m)
}

// logConfigSource reports which config file was loaded and warns when its
// permissions are too open.
func logConfigSource(cfg *config.Config, logger *slog.Logger) {
	if path := cfg.FilePath(); path != "" {
		logger.Info("config loaded", "path", path)
	} else {
		logger.Info("no config file found, using defaults")
	}
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	serve(lc, e, cfg.Server.Addr(), logger.With("listener", "relay"))
}

func startAdminServer(lc fx.Lifecycle, admin *adminServer, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Admin.Enabled {
		return
	}
	serve(lc, admin.Echo, cfg.Admin.Addr(), logger.With("listener", "admin"))
}

// serve binds addr on start so a port conflict aborts startup, then serves
// in the background until the app stops.
func serve(lc fx.Lifecycle, e *echo.Echo, addr string, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
