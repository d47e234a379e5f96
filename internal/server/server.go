// Package server assembles the HTTP surface and runs it as a supervised service.
package server

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Pouzor/servarr-hub/internal/handlers/analytics"
	"github.com/Pouzor/servarr-hub/internal/handlers/dashboard"
	"github.com/Pouzor/servarr-hub/internal/handlers/health"
	now "github.com/Pouzor/servarr-hub/internal/handlers/now"
	"github.com/Pouzor/servarr-hub/internal/handlers/syncapi"
	"github.com/Pouzor/servarr-hub/internal/handlers/version"
	"github.com/Pouzor/servarr-hub/internal/handlers/webhook"
	"github.com/Pouzor/servarr-hub/internal/logging"
	"github.com/Pouzor/servarr-hub/internal/middleware"
)

type Deps struct {
	DB      *sql.DB
	Events  webhook.EventHandler
	Syncer  syncapi.Syncer
	Trigger syncapi.Trigger
	Feed    now.Feed
	APIKey  string
	Logger  logging.Logger
}

// NewApp wires every route onto a fresh fiber app.
func NewApp(d Deps) *fiber.App {
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	app := fiber.New(fiber.Config{
		AppName:            "servarr-hub",
		EnableIPValidation: true,
		ProxyHeader:        fiber.HeaderXForwardedFor,
		ErrorHandler:       errorHandler,
		JSONEncoder:        json.Marshal,
		JSONDecoder:        json.Unmarshal,
	})
	app.Use(recover.New())
	app.Use(logging.FiberMiddleware(d.Logger))

	app.Get("/health", health.Health(d.DB))
	app.Get("/version", version.GetVersion())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/webhook/playback", webhook.Playback(d.Events))

	app.Get("/now/ws", middleware.WebSocketAuth(d.APIKey), now.Upgrade, now.WS(d.Feed))
	app.Get("/now/snapshot", middleware.APIKeyAuth(d.APIKey), now.Snapshot(d.Feed))

	auth := middleware.APIKeyAuth(d.APIKey)

	an := app.Group("/analytics", auth)
	an.Get("/sessions/active", analytics.ActiveSessions(d.DB))
	an.Get("/usage", analytics.Usage(d.DB))
	an.Get("/media/top", analytics.TopMedia(d.DB))
	an.Get("/devices", analytics.Devices(d.DB))
	an.Get("/server/performance", analytics.ServerPerformance(d.DB))

	sy := app.Group("/sync", auth)
	sy.Get("/status", syncapi.Status(d.DB, d.Syncer))
	sy.Post("/run", syncapi.Run(d.Syncer, d.Trigger))
	sy.Post("/test/:source", syncapi.Test(d.Syncer))

	dash := app.Group("/dashboard", auth)
	dash.Get("/statistics", dashboard.Statistics(d.DB))
	dash.Get("/recent", dashboard.Recent(d.DB))
	dash.Get("/calendar", dashboard.Calendar(d.DB))
	dash.Get("/requests", dashboard.Requests(d.DB))

	return app
}

func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	msg := "internal server error"
	if code < fiber.StatusInternalServerError {
		msg = err.Error()
	} else {
		logging.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

// HTTPService runs app under a suture supervisor.
type HTTPService struct {
	app      *fiber.App
	addr     string
	listener net.Listener
}

func NewHTTPService(app *fiber.App, addr string) *HTTPService {
	return &HTTPService{app: app, addr: addr}
}

// WithListener serves on ln instead of listening on addr.
func (s *HTTPService) WithListener(ln net.Listener) *HTTPService {
	s.listener = ln
	return s
}

func (s *HTTPService) Serve(ctx context.Context) error {
	cfg := fiber.ListenConfig{DisableStartupMessage: true}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("Starting HTTP server", "addr", s.addr)
		if s.listener != nil {
			errCh <- s.app.Listener(s.listener, cfg)
			return
		}
		errCh <- s.app.Listen(s.addr, cfg)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logging.Warn("HTTP shutdown", "error", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "http-server" }
