package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"gowa-gateway/internal/protocol"
)

func closed(status int, reason string) protocol.ConnectionUpdate {
	return protocol.ConnectionUpdate{
		Connection: protocol.ConnectionClose,
		Disconnect: &protocol.DisconnectError{Status: status, Reason: reason},
	}
}

// translate maps a whatsmeow event onto the protocol event set. Events with
// no protocol counterpart return false.
func translate(evt interface{}) (protocol.Event, bool) {
	switch v := evt.(type) {
	case *events.Connected:
		return protocol.ConnectionUpdate{Connection: protocol.ConnectionOpen}, true

	case *events.PairSuccess:
		return protocol.CredsUpdate{}, true

	case *events.LoggedOut:
		status := int(v.Reason)
		update := closed(status, fmt.Sprint(v.Reason))
		update.Disconnect.LoggedOut = true
		// a logout pushed mid-stream is the phone unlinking this device
		update.Disconnect.DeviceRemoved = !v.OnConnect && v.Reason == events.ConnectFailureLoggedOut
		if update.Disconnect.DeviceRemoved {
			update.Disconnect.Reason = "device_removed"
		}
		return update, true

	case *events.StreamReplaced:
		return closed(protocol.StatusConnectionReplaced, "stream replaced"), true

	case *events.Disconnected:
		return closed(protocol.StatusConnectionClosed, "connection closed"), true

	case *events.ConnectFailure:
		update := closed(protocol.StatusUnavailable, fmt.Sprint(v.Reason))
		if v.Message != "" {
			update.Disconnect.Reason += ": " + v.Message
		}
		return update, true

	case *events.TemporaryBan:
		return closed(protocol.StatusForbidden, fmt.Sprintf("temporary ban (%v, expires in %s)", v.Code, v.Expire)), true

	case *events.ClientOutdated:
		return closed(protocol.StatusForbidden, "client outdated"), true

	case *events.Message:
		return protocol.MessagesUpsert{
			From:      v.Info.Chat.String(),
			ID:        v.Info.ID,
			Timestamp: v.Info.Timestamp,
		}, true

	case *events.Presence:
		return protocol.PresenceUpdate{From: v.From.String(), Available: !v.Unavailable}, true
	}
	return nil, false
}

// translateQR maps one item of the pairing channel.
func translateQR(item whatsmeow.QRChannelItem) (protocol.Event, bool) {
	switch {
	case item.Event == whatsmeow.QRChannelEventCode:
		return protocol.ConnectionUpdate{Connection: protocol.ConnectionConnecting, QR: item.Code}, true
	case item.Event == whatsmeow.QRChannelTimeout.Event:
		return closed(protocol.StatusTimedOut, "qr timeout"), true
	case item.Event == whatsmeow.QRChannelEventError, strings.HasPrefix(item.Event, "err-"):
		update := closed(protocol.StatusUnavailable, item.Event)
		update.Disconnect.Err = item.Error
		return update, true
	}
	// "success" is followed by PairSuccess and Connected on the event stream
	return nil, false
}
