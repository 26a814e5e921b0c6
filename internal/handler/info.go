package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"gowa-gateway/internal/service"
)

type healthDetail struct {
	InstanceName      string `json:"instanceName"`
	State             string `json:"state"`
	Status            string `json:"status"`
	IsLive            bool   `json:"isLive"`
	TransportOpen     bool   `json:"transportOpen"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
	RetryScheduled    bool   `json:"retryScheduled"`
	PhoneNumber       string `json:"phoneNumber,omitempty"`
}

type HealthResponse struct {
	Status    string         `json:"status"`
	Uptime    float64        `json:"uptime"`
	Instances service.Counts `json:"instances"`
	Details   []healthDetail `json:"details"`
}

// GET /ping
func (h *Handler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "pong"})
}

// GET /health
func (h *Handler) Health(c echo.Context) error {
	infos := h.sessions.List()
	details := make([]healthDetail, 0, len(infos))
	for _, info := range infos {
		details = append(details, healthDetail{
			InstanceName:      info.InstanceName,
			State:             string(info.State),
			Status:            info.State.Status(),
			IsLive:            info.IsLive,
			TransportOpen:     info.TransportOpen,
			ReconnectAttempts: info.ReconnectAttempts,
			RetryScheduled:    info.RetryScheduled,
			PhoneNumber:       info.PhoneNumber,
		})
	}

	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(h.started).Seconds(),
		Instances: h.sessions.Counts(),
		Details:   details,
	})
}
