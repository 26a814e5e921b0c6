// Package handler exposes the session manager over an Evolution-API
// compatible HTTP surface.
package handler

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"gowa-gateway/internal/model"
	"gowa-gateway/internal/protocol"
	"gowa-gateway/internal/service"
	"gowa-gateway/internal/ws"
)

// IntegrationTag is reported as the integration of every instance.
const IntegrationTag = "WHATSAPP-BAILEYS"

// Sessions is the part of the session manager the handlers use.
type Sessions interface {
	Create(ctx context.Context, name, token string) error
	EnsureConnected(ctx context.Context, name string) (bool, error)
	Clear(ctx context.Context, name string) error
	Logout(ctx context.Context, name string) error
	SendText(ctx context.Context, name, to, text string) (protocol.SentMessage, error)

	Get(name string) (model.SessionInfo, bool)
	List() []model.SessionInfo
	Counts() service.Counts
	PendingAuth(name string) (model.PendingAuth, bool)
	WaitPendingAuth(ctx context.Context, name string, wait time.Duration) (model.PendingAuth, bool)
	Diagnose(name string) service.Diagnosis
	Consolidate() service.ConsolidationResult
}

type Options struct {
	// QRWait bounds how long connect waits for the first pairing challenge.
	QRWait time.Duration
	// Webhook is reported by /webhook/find; empty URL means disabled.
	WebhookURL    string
	WebhookEvents []string
}

type Handler struct {
	sessions Sessions
	hub      *ws.Hub
	opts     Options
	started  time.Time
	log      zerolog.Logger
}

// New builds the handlers. hub may be nil, which disables /ws.
func New(sessions Sessions, hub *ws.Hub, opts Options, log zerolog.Logger) *Handler {
	if opts.QRWait <= 0 {
		opts.QRWait = 2 * time.Second
	}
	return &Handler{
		sessions: sessions,
		hub:      hub,
		opts:     opts,
		started:  time.Now(),
		log:      log.With().Str("component", "http").Logger(),
	}
}

// Register mounts the public routes on e and everything else behind auth.
func (h *Handler) Register(e *echo.Echo, auth echo.MiddlewareFunc) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Health)

	api := e.Group("", auth)

	api.POST("/instance/create", h.CreateInstance)
	api.GET("/instance/connect/:instanceName", h.ConnectInstance)
	api.GET("/instance/connectionState/:instanceName", h.ConnectionState)
	api.POST("/instance/clear/:instanceName", h.ClearInstance)
	api.DELETE("/instance/logout/:instanceName", h.LogoutInstance)
	api.DELETE("/instance/delete/:instanceName", h.ClearInstance)
	api.GET("/instance/fetchInstances", h.FetchInstances)
	api.GET("/instance/connectedNumbers", h.ConnectedNumbers)
	api.GET("/instance/diagnose/:instanceName", h.DiagnoseInstance)
	api.POST("/instance/cleanup", h.Cleanup)
	api.GET("/instance/:instanceName", h.InstanceDetail)

	api.POST("/message/sendText/:instanceName", h.SendText)

	api.GET("/webhook/find/:instanceName", h.FindWebhook)

	if h.hub != nil {
		api.GET("/ws", h.WebSocket)
	}
}
