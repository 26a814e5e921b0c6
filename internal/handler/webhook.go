package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type webhookInfo struct {
	Enabled bool     `json:"enabled"`
	URL     string   `json:"url"`
	Events  []string `json:"events"`
}

// GET /webhook/find/:instanceName
// The webhook is configured per process, so every instance reports the same target.
func (h *Handler) FindWebhook(c echo.Context) error {
	name := c.Param("instanceName")
	if _, ok := h.sessions.Get(name); !ok {
		return ErrorResponse(c, http.StatusNotFound, "Instance not found", "INSTANCE_NOT_FOUND", "")
	}

	events := h.opts.WebhookEvents
	if events == nil {
		events = []string{}
	}
	return c.JSON(http.StatusOK, webhookInfo{
		Enabled: h.opts.WebhookURL != "",
		URL:     h.opts.WebhookURL,
		Events:  events,
	})
}
