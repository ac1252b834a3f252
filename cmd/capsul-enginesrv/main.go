// Command capsul-enginesrv exposes the Engine operations of spec.md §4.7
// that don't belong on the CLI surface: status/report polling, stop, and
// an event stream, over HTTP (spec.md §4.6's external interface). Much
// smaller than cmd/orchestrator's CRUD service since Capsul's engine API
// is five operations wide, but grounded on the same Echo app-wiring and
// middleware stack.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/capsul-go/capsul/common/bootstrap"
	"github.com/capsul-go/capsul/common/config"
	"github.com/capsul-go/capsul/common/logger"
	redisclient "github.com/capsul-go/capsul/common/redis"
	"github.com/capsul-go/capsul/common/server"
	"github.com/capsul-go/capsul/engine"
	"github.com/capsul-go/capsul/execdb/notify"
	"github.com/capsul-go/capsul/execdb/postgres"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "capsul-enginesrv")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize service: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	cfg, log := components.Config, components.Logger

	var notifier *notify.Notifier
	if redisAddr := os.Getenv("CAPSUL_NOTIFY_REDIS"); redisAddr != "" {
		rc := redisclient.NewClient(redis.NewClient(&redis.Options{Addr: redisAddr}), log)
		notifier = notify.New(rc, log)
		log.Info("event stream backed by redis", "addr", redisAddr)
	} else if components.Queue != nil {
		notifier = notify.NewMemory(components.Queue, log)
		log.Info("event stream backed by in-process queue: CAPSUL_NOTIFY_REDIS not set")
	}

	store := postgres.New(components.DB, notifier, log)
	if err := store.Migrate(ctx); err != nil {
		log.Error("failed to migrate execdb schema", "error", err)
		os.Exit(1)
	}

	engineID := envOr("CAPSUL_ENGINE_ID", "capsul-enginesrv")
	workdir := envOr("CAPSUL_TMP", os.TempDir())
	eng := engine.New(store, engineID, workdir, log)
	eng.WorkerCommand = workerCommand()
	eng.DatabaseDescriptor = cfg.DatabaseURL()
	eng.Cache = components.Cache
	if n := os.Getenv("CAPSUL_NUM_WORKERS"); n != "" {
		fmt.Sscanf(n, "%d", &eng.NumWorkers)
	}

	if docPath := os.Getenv("CAPSUL_CONFIG"); docPath != "" {
		doc, err := config.LoadCapsulDocument(docPath)
		if err != nil {
			log.Error("failed to load capsul config document", "path", docPath, "error", err)
			os.Exit(1)
		}
		if engineCfg, ok := doc.Engine(engineID); ok {
			eng.Datasets = engineCfg.DatasetPaths()
			log.Info("loaded engine config", "engine_id", engineID, "datasets", len(eng.Datasets))
		}
	}

	h := &Handler{Engine: eng, Notify: notifier, Log: log}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e)
	registerRoutes(e, h)

	startServer(e, cfg, log)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

func setupHealthCheck(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": "capsul-enginesrv",
		})
	})
}

func registerRoutes(e *echo.Echo, h *Handler) {
	e.GET("/executions/:id/status", h.Status)
	e.GET("/executions/:id/report", h.Report)
	e.POST("/executions/:id/stop", h.Stop)
	e.GET("/executions/:id/events", h.Events)
}

// startServer runs the Echo app behind common/server's graceful-shutdown
// wrapper instead of Echo's own Start, so SIGTERM/SIGINT drain in-flight
// requests (including open event-stream websockets) before the process
// exits.
func startServer(e *echo.Echo, cfg *config.Config, log *logger.Logger) {
	srv := server.New("capsul-enginesrv", cfg.Service.Port, e, log)
	if err := srv.Start(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// workerCommand reads the worker subprocess argv from CAPSUL_WORKER_CMD,
// a single executable path (spec.md §6's CLI surface). Empty means run
// the in-process local executor instead of spawning capsul-worker.
func workerCommand() []string {
	if cmd := os.Getenv("CAPSUL_WORKER_CMD"); cmd != "" {
		return []string{cmd}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
