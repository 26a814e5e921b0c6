// Package protocol describes the collaborators the session manager talks to:
// the messaging-protocol client that owns a live connection, and the
// credential store that keeps the pairing keys of one instance on disk.
//
// Nothing in here knows about a concrete protocol library; see
// internal/whatsapp for the whatsmeow-backed implementation.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Disconnect status codes reported by the protocol layer.
const (
	StatusLoggedOut          = 401
	StatusForbidden          = 403
	StatusTimedOut           = 408
	StatusConnectionClosed   = 428
	StatusConnectionReplaced = 440
	StatusBadSession         = 500
	StatusUnavailable        = 503
	StatusRestartRequired    = 515
)

// ErrConnectionClosed is returned (possibly wrapped) by Conn methods when the
// underlying transport is already gone.
var ErrConnectionClosed = errors.New("connection closed")

// Connection is the transport state carried by a ConnectionUpdate.
type Connection string

const (
	ConnectionConnecting Connection = "connecting"
	ConnectionOpen       Connection = "open"
	ConnectionClose      Connection = "close"
)

// Event is anything emitted by a Conn. Handlers receive events of one
// connection in the order they were emitted.
type Event interface {
	eventName() string
}

// ConnectionUpdate reports a transport state change and/or a fresh
// scannable-auth challenge.
type ConnectionUpdate struct {
	Connection Connection
	QR         string
	Disconnect *DisconnectError
}

// CredsUpdate is emitted whenever the credentials held by the AuthState changed.
type CredsUpdate struct{}

// MessagesUpsert is emitted for every inbound message.
type MessagesUpsert struct {
	From      string
	ID        string
	Timestamp time.Time
}

// PresenceUpdate is emitted when a contact's presence changes.
type PresenceUpdate struct {
	From      string
	Available bool
}

func (ConnectionUpdate) eventName() string { return "connection.update" }
func (CredsUpdate) eventName() string      { return "creds.update" }
func (MessagesUpsert) eventName() string   { return "messages.upsert" }
func (PresenceUpdate) eventName() string   { return "presence.update" }

// EventName returns the wire name of an event, e.g. "connection.update".
func EventName(evt Event) string {
	if evt == nil {
		return ""
	}
	return evt.eventName()
}

// DisconnectError describes why a connection closed.
type DisconnectError struct {
	Status int
	Reason string

	// DeviceRemoved is set when the remote account revoked this device.
	DeviceRemoved bool
	// LoggedOut is set when the remote side explicitly logged the device out.
	LoggedOut bool

	Err error
}

func (e *DisconnectError) Error() string {
	msg := fmt.Sprintf("disconnected (status %d)", e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DisconnectError) Unwrap() error { return e.Err }

// Identity is the account a connection is authenticated as.
type Identity struct {
	PhoneNumber string
	DisplayName string
}

// SentMessage is the server acknowledgement of an outgoing message.
type SentMessage struct {
	ID        string
	RemoteJID string
	Timestamp time.Time
}

// Conn is one live connection. It is exclusively owned by a single session.
type Conn interface {
	SendText(ctx context.Context, to, text string) (SentMessage, error)
	// Logout unlinks the device on the remote side.
	Logout(ctx context.Context) error
	// End closes the transport. Calling it on a dead connection is harmless.
	End() error
	// Ping issues a lightweight liveness probe.
	Ping(ctx context.Context) error
	// IsOpen reports the raw transport ready-state.
	IsOpen() bool
	Identity(ctx context.Context) (Identity, error)
}

// AuthState is the persisted credential set of one instance.
type AuthState interface {
	Persist(ctx context.Context) error
	// Paired reports whether the credentials belong to a linked device.
	Paired() bool
	Close() error
}

// AuthStore loads the credential set kept in a per-instance directory,
// creating an empty one if the directory holds nothing yet.
type AuthStore interface {
	Load(ctx context.Context, dir string) (AuthState, error)
}

// Dialer opens new connections. emit must be safe to call from any goroutine.
type Dialer interface {
	Dial(ctx context.Context, state AuthState, opts Options, emit func(Event)) (Conn, error)
}

// Options are the stability-oriented connection parameters.
type Options struct {
	ConnectTimeout   time.Duration
	QueryTimeout     time.Duration
	MsgRetryDelay    time.Duration
	MaxMsgRetries    int
	SyncFullHistory  bool
	CommitRetries    int
	CommitRetryDelay time.Duration
	DeviceName       string
}

// DefaultOptions returns the parameters every instance is opened with.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:   120 * time.Second,
		QueryTimeout:     120 * time.Second,
		MsgRetryDelay:    time.Second,
		MaxMsgRetries:    5,
		SyncFullHistory:  false,
		CommitRetries:    10,
		CommitRetryDelay: 3 * time.Second,
		DeviceName:       "GOWA Gateway",
	}
}
