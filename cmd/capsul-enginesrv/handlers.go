package main

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/capsul-go/capsul/engine"
	"github.com/capsul-go/capsul/execdb"
	"github.com/capsul-go/capsul/execdb/notify"
)

// Logger is the narrow logging surface this package needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Handler serves the engine operations spec.md §4.6 exposes over HTTP.
type Handler struct {
	Engine *engine.Engine
	Notify *notify.Notifier
	Log    Logger
}

// Status reports an execution's current lifecycle state.
func (h *Handler) Status(c echo.Context) error {
	id := c.Param("id")
	status, err := h.Engine.Status(c.Request().Context(), id)
	if err != nil {
		return notFoundOrError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution_id": id,
		"status":       status,
	})
}

// Report returns the aggregated per-job view of an execution (spec.md
// §4.6 execution_report).
func (h *Handler) Report(c echo.Context) error {
	id := c.Param("id")
	report, err := h.Engine.Database.ExecutionReport(c.Request().Context(), id)
	if err != nil {
		return notFoundOrError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// stopRequest is the optional body of POST /executions/:id/stop.
type stopRequest struct {
	KillRunning bool `json:"kill_running"`
}

// Stop cancels an execution in progress (spec.md §5: "transitions the
// execution to failed, prevents future claims, and optionally signals
// already-running workers").
func (h *Handler) Stop(c echo.Context) error {
	id := c.Param("id")

	var req stopRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	if err := h.Engine.Stop(c.Request().Context(), id, req.KillRunning); err != nil {
		h.Log.Error("stop failed", "execution_id", id, "error", err)
		return notFoundOrError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"execution_id": id, "status": "stopping"})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is handled by the echo middleware on the rest of the API;
	// the upgrade itself has no browser-enforced origin to check since
	// this is a same-service internal dashboard feed, not public.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Events streams execution/job status transitions over a websocket
// (spec.md §5's suspension points), fed by the execdb/notify channel
// postgres.Store publishes to after every Complete (Redis pub/sub when a
// Redis address is configured, otherwise the in-process queue). Returns 501
// when no notifier is configured.
func (h *Handler) Events(c echo.Context) error {
	if h.Notify == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "event stream not configured")
	}
	id := c.Param("id")

	ctx := c.Request().Context()
	events, closeSub, err := h.Notify.Subscribe(ctx, id)
	if err != nil {
		h.Log.Error("subscribe failed", "execution_id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to subscribe")
	}
	defer closeSub()

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	for event := range events {
		if err := ws.WriteJSON(event); err != nil {
			h.Log.Debug("event stream write failed", "execution_id", id, "error", err)
			return nil
		}
	}
	return nil
}

func notFoundOrError(c echo.Context, err error) error {
	if errors.Is(err, execdb.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
