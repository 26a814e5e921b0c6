package ws

import "time"

// Event names pushed to websocket clients and webhooks.
const (
	EventConnectionUpdate = "connection.update"
	EventQRCodeUpdated    = "qrcode.updated"
	EventMessagesUpsert   = "messages.upsert"
	EventInstanceRemoved  = "instance.removed"
)

// WsEvent is the envelope of every realtime event.
type WsEvent struct {
	Event     string      `json:"event"`
	Instance  string      `json:"instance"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type ConnectionUpdateData struct {
	State             string `json:"state"`
	Status            string `json:"status"`
	StatusReason      int    `json:"statusReason,omitempty"`
	Reason            string `json:"reason,omitempty"`
	ReconnectAttempts int    `json:"reconnectAttempts,omitempty"`
}

type QRCodeUpdatedData struct {
	Base64 string `json:"base64"`
	Code   string `json:"code"`
}

type MessagesUpsertData struct {
	From      string    `json:"from"`
	Sender    string    `json:"sender"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"messageTimestamp"`
}

type InstanceRemovedData struct {
	Reason         string `json:"reason"`
	CredsDiscarded bool   `json:"credsDiscarded"`
}
