package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"gowa-gateway/internal/model"
	"gowa-gateway/internal/service"
)

type CreateInstanceRequest struct {
	InstanceName string `json:"instanceName"`
	Token        string `json:"token"`
	QRCode       bool   `json:"qrcode"`
}

type instanceRef struct {
	InstanceName string `json:"instanceName"`
	Status       string `json:"status,omitempty"`
	State        string `json:"state,omitempty"`
}

type qrPayload struct {
	Base64 string `json:"base64"`
	Code   string `json:"code"`
	Count  int    `json:"count,omitempty"`
}

// sessionError maps manager errors to API errors.
func sessionError(c echo.Context, err error, action string) error {
	switch {
	case errors.Is(err, service.ErrInvalidInstanceName):
		return ErrorResponse(c, http.StatusBadRequest, "Invalid instance name", "INVALID_INSTANCE_NAME", err.Error())
	case errors.Is(err, service.ErrSessionExists):
		return ErrorResponse(c, http.StatusConflict, "Instance already exists", "INSTANCE_EXISTS", "")
	case errors.Is(err, service.ErrSessionNotFound):
		return ErrorResponse(c, http.StatusNotFound, "Instance not found", "INSTANCE_NOT_FOUND", "")
	case errors.Is(err, service.ErrShuttingDown):
		return ErrorResponse(c, http.StatusServiceUnavailable, "Server is shutting down", "SHUTTING_DOWN", "")
	}
	return ErrorResponse(c, http.StatusInternalServerError, "Failed to "+action, strings.ToUpper(strings.ReplaceAll(action, " ", "_"))+"_FAILED", err.Error())
}

// POST /instance/create
func (h *Handler) CreateInstance(c echo.Context) error {
	var req CreateInstanceRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.InstanceName = strings.TrimSpace(req.InstanceName)
	if req.InstanceName == "" {
		return ErrorResponse(c, http.StatusBadRequest, "Field 'instanceName' is required", "VALIDATION_ERROR", "")
	}

	ctx := c.Request().Context()
	if err := h.sessions.Create(ctx, req.InstanceName, req.Token); err != nil {
		return sessionError(c, err, "create instance")
	}

	resp := map[string]interface{}{
		"instance": instanceRef{InstanceName: req.InstanceName, Status: "created"},
		"hash":     map[string]string{"apikey": req.Token},
	}
	if req.QRCode {
		if p, ok := h.sessions.WaitPendingAuth(ctx, req.InstanceName, h.opts.QRWait); ok {
			resp["qrcode"] = qrPayload{Base64: p.Artifact, Code: p.Code}
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// GET /instance/connect/:instanceName
func (h *Handler) ConnectInstance(c echo.Context) error {
	name := c.Param("instanceName")
	ctx := c.Request().Context()

	if info, ok := h.sessions.Get(name); ok && info.State == model.StateOpen {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"instance": instanceRef{InstanceName: name, State: string(info.State)},
		})
	}

	started, err := h.sessions.EnsureConnected(ctx, name)
	if err != nil {
		return sessionError(c, err, "connect instance")
	}

	p, ok := h.sessions.PendingAuth(name)
	if !ok && started {
		p, ok = h.sessions.WaitPendingAuth(ctx, name, h.opts.QRWait)
	}
	if ok {
		return c.JSON(http.StatusOK, qrPayload{Base64: p.Artifact, Code: p.Code, Count: 1})
	}

	// restored credentials may open without pairing
	if info, found := h.sessions.Get(name); found && info.State == model.StateOpen {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"instance": instanceRef{InstanceName: name, State: string(info.State)},
		})
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "QR code is being generated, try again shortly",
		"status":  "generating",
	})
}

// GET /instance/connectionState/:instanceName
func (h *Handler) ConnectionState(c echo.Context) error {
	name := c.Param("instanceName")
	state := model.StateClose
	if info, ok := h.sessions.Get(name); ok {
		state = info.State
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"instance": instanceRef{InstanceName: name, State: string(state), Status: state.Status()},
	})
}

// POST /instance/clear/:instanceName, DELETE /instance/delete/:instanceName
func (h *Handler) ClearInstance(c echo.Context) error {
	name := c.Param("instanceName")
	if err := h.sessions.Clear(c.Request().Context(), name); err != nil {
		return sessionError(c, err, "clear instance")
	}
	return SuccessResponse(c, http.StatusOK, "Instance "+name+" cleared", nil)
}

// DELETE /instance/logout/:instanceName
func (h *Handler) LogoutInstance(c echo.Context) error {
	name := c.Param("instanceName")
	if err := h.sessions.Logout(c.Request().Context(), name); err != nil {
		return sessionError(c, err, "logout instance")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"error":   false,
		"message": "Instance " + name + " logged out",
	})
}

// GET /instance/fetchInstances
func (h *Handler) FetchInstances(c echo.Context) error {
	infos := h.sessions.List()
	out := make([]map[string]instanceRef, 0, len(infos))
	for _, info := range infos {
		out = append(out, map[string]instanceRef{
			"instance": {InstanceName: info.InstanceName, Status: string(info.State)},
		})
	}
	return c.JSON(http.StatusOK, out)
}

type instanceDetail struct {
	InstanceName      string                `json:"instanceName"`
	State             string                `json:"state"`
	Status            string                `json:"status"`
	Integration       string                `json:"integration"`
	ProfileName       string                `json:"profileName"`
	PhoneNumber       string                `json:"phoneNumber"`
	Owner             string                `json:"owner,omitempty"`
	ReconnectAttempts int                   `json:"reconnectAttempts"`
	CreatedAt         time.Time             `json:"createdAt"`
	ConnectedAt       *time.Time            `json:"connectedAt,omitempty"`
	LastMessageAt     *time.Time            `json:"lastMessageAt,omitempty"`
	LastDisconnect    *model.DisconnectInfo `json:"lastDisconnect,omitempty"`
}

// GET /instance/:instanceName
func (h *Handler) InstanceDetail(c echo.Context) error {
	name := c.Param("instanceName")
	info, ok := h.sessions.Get(name)
	if !ok {
		return ErrorResponse(c, http.StatusNotFound, "Instance not found", "INSTANCE_NOT_FOUND", "")
	}

	d := instanceDetail{
		InstanceName:      info.InstanceName,
		State:             string(info.State),
		Status:            info.State.Status(),
		Integration:       IntegrationTag,
		ProfileName:       info.ProfileName,
		PhoneNumber:       info.PhoneNumber,
		ReconnectAttempts: info.ReconnectAttempts,
		CreatedAt:         info.CreatedAt,
		ConnectedAt:       info.ConnectedAt,
		LastMessageAt:     info.LastMessageAt,
		LastDisconnect:    info.LastDisconnect,
	}
	if info.PhoneNumber != "" {
		d.Owner = info.PhoneNumber + "@s.whatsapp.net"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"instance": d})
}

// GET /instance/diagnose/:instanceName
func (h *Handler) DiagnoseInstance(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sessions.Diagnose(c.Param("instanceName")))
}

type connectedNumber struct {
	InstanceName string     `json:"instanceName"`
	PhoneNumber  string     `json:"phoneNumber"`
	ProfileName  string     `json:"profileName"`
	ConnectedAt  *time.Time `json:"connectedAt"`
}

// GET /instance/connectedNumbers
func (h *Handler) ConnectedNumbers(c echo.Context) error {
	out := []connectedNumber{}
	for _, info := range h.sessions.List() {
		if !info.IsLive || info.PhoneNumber == "" {
			continue
		}
		out = append(out, connectedNumber{
			InstanceName: info.InstanceName,
			PhoneNumber:  info.PhoneNumber,
			ProfileName:  info.ProfileName,
			ConnectedAt:  info.ConnectedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// POST /instance/cleanup
func (h *Handler) Cleanup(c echo.Context) error {
	res := h.sessions.Consolidate()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"cleaned": len(res.Cleaned),
		"kept":    len(res.Kept),
		"details": res,
	})
}
