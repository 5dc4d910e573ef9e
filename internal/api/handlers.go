package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"bgdownloader/internal/task"
)

// Downloads is the download manager surface exposed over HTTP.
type Downloads interface {
	Start(ctx context.Context, req task.StartRequest) error
	Cancel(ctx context.Context, id string)
	Acknowledge(ctx context.Context, id string)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	EnumerateExisting(ctx context.Context) []task.Snapshot
	Constants() task.Constants
}

// Handlers provides HTTP handlers for download operations.
type Handlers struct {
	downloads Downloads
}

func NewHandlers(downloads Downloads) *Handlers {
	return &Handlers{downloads: downloads}
}

// RegisterRoutes registers download routes on an Echo group.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Start)
	g.DELETE("/:id", h.Cancel)
	g.POST("/:id/ack", h.Acknowledge)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
}

// List returns a snapshot of every known download.
// GET /api/downloads
func (h *Handlers) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.downloads.EnumerateExisting(c.Request().Context()))
}

// Start enqueues a new download.
// POST /api/downloads
func (h *Handlers) Start(c echo.Context) error {
	var req task.StartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.downloads.Start(c.Request().Context(), req); err != nil {
		if errors.Is(err, task.ErrMissingField) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]string{"id": req.ID})
}

// Cancel stops a download.
// DELETE /api/downloads/:id
func (h *Handlers) Cancel(c echo.Context) error {
	h.downloads.Cancel(c.Request().Context(), c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

// Acknowledge releases a finished download.
// POST /api/downloads/:id/ack
func (h *Handlers) Acknowledge(c echo.Context) error {
	h.downloads.Acknowledge(c.Request().Context(), c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

// POST /api/downloads/:id/pause
func (h *Handlers) Pause(c echo.Context) error {
	if err := h.downloads.Pause(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// POST /api/downloads/:id/resume
func (h *Handlers) Resume(c echo.Context) error {
	if err := h.downloads.Resume(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Constants returns the values clients need to interpret events.
// GET /api/constants
func (h *Handlers) Constants(c echo.Context) error {
	return c.JSON(http.StatusOK, h.downloads.Constants())
}
