package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"nephrogo-edge/internal/client"
	"nephrogo-edge/internal/config"
	"nephrogo-edge/internal/handler"
	"nephrogo-edge/internal/metrics"
	"nephrogo-edge/internal/middleware"
	"nephrogo-edge/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("nephrogo-edge"),
		kong.Description("Edge reverse proxy for the NephroGo API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			config.NewStore,
			newLogLevel,
			newLogger,
			metrics.New,
			newEcho,
			client.NewUpstreamClient,
			service.NewForwardService,
			handler.NewProxyHandler,
			handler.NewStaticHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			registerMetrics,
			warnConfigPermissions,
			startWatcher,
			startServer,
		),
	).Run()
}

func newLogLevel() *slog.LevelVar {
	return new(slog.LevelVar)
}

func newLogger(cfg *config.Config, level *slog.LevelVar) *slog.Logger {
	level.Set(parseLevel(cfg.Log.Level))

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

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newEcho(store *config.Store, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0) to avoid cutting off valid long-running streamed
	// responses. Protection is provided by the upstream client timeout, ReadTimeout,
	// and IdleTimeout.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	// Metrics sees every connection (drops are excluded from the request
	// counters inside); the host gate runs before anything that produces a
	// response body, so unmatched hosts are dropped, not answered.
	e.Use(middleware.MetricsMiddleware(m))
	e.Use(middleware.HostGate(store, logger, m))
	e.Use(middleware.Gzip(store))

	return e
}

func registerMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	e.GET(cfg.Metrics.Path, echo.WrapHandler(h))
	logger.Info("metrics enabled", "path", cfg.Metrics.Path)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startWatcher(lc fx.Lifecycle, store *config.Store, cli *config.CLI, cfg *config.Config, logger *slog.Logger, level *slog.LevelVar) error {
	if !cfg.Watch.Enabled {
		return nil
	}

	w, err := config.NewWatcher(store, cli, logger)
	if err != nil {
		return err
	}
	w.OnApply(func(next *config.Config) {
		level.Set(parseLevel(next.Log.Level))
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)
				if err := w.Run(ctx); err != nil {
					logger.Error("config watcher stopped", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
	return nil
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"domains", cfg.Edge.Domains,
				"upstream", cfg.Upstream.BaseURL,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
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
