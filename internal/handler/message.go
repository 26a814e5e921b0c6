package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"gowa-gateway/internal/helper"
	"gowa-gateway/internal/service"
)

// SendTextRequest is the body of POST /message/sendText/:instanceName.
type SendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type messageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

type sendTextResponse struct {
	Key              messageKey        `json:"key"`
	Message          map[string]string `json:"message"`
	MessageTimestamp int64             `json:"messageTimestamp"`
	Status           string            `json:"status"`
}

type notReadyResponse struct {
	Error       bool   `json:"error"`
	Message     string `json:"message"`
	Code        string `json:"code"`
	Connected   bool   `json:"connected"`
	Status      string `json:"status"`
	SocketState string `json:"socketState"`
}

// POST /message/sendText/:instanceName
func (h *Handler) SendText(c echo.Context) error {
	name := c.Param("instanceName")

	var req SendTextRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if _, ok := h.sessions.Get(name); !ok {
		return ErrorResponse(c, http.StatusNotFound, "Instance not found", "INSTANCE_NOT_FOUND", "")
	}

	if strings.TrimSpace(req.Number) == "" || req.Text == "" {
		return ErrorResponse(c, http.StatusBadRequest, "Fields 'number' and 'text' are required", "VALIDATION_ERROR", "")
	}

	recipient, err := helper.FormatPhoneNumber(req.Number)
	if err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid phone number", "INVALID_PHONE", err.Error())
	}

	sent, err := h.sessions.SendText(c.Request().Context(), name, recipient.String(), req.Text)
	var notReady *service.NotReadyError
	switch {
	case errors.As(err, &notReady):
		return c.JSON(http.StatusBadRequest, notReadyResponse{
			Error:       true,
			Message:     "Instance is not connected",
			Code:        "NOT_CONNECTED",
			Connected:   notReady.Connected,
			Status:      notReady.State,
			SocketState: notReady.SocketState,
		})
	case errors.Is(err, service.ErrSessionNotFound):
		return ErrorResponse(c, http.StatusNotFound, "Instance not found", "INSTANCE_NOT_FOUND", "")
	case err != nil:
		h.log.Warn().Err(err).Str("instance", name).Msg("send text failed")
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to send message", "SEND_FAILED", err.Error())
	}

	remote := sent.RemoteJID
	if remote == "" {
		remote = recipient.String()
	}
	return c.JSON(http.StatusOK, sendTextResponse{
		Key:              messageKey{RemoteJID: remote, FromMe: true, ID: sent.ID},
		Message:          map[string]string{"conversation": req.Text},
		MessageTimestamp: sent.Timestamp.Unix(),
		Status:           "PENDING",
	})
}
