package model

import "time"

// ConnectionState is the lifecycle state of one session.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateQR         ConnectionState = "qr"
	StateOpen       ConnectionState = "open"
	StateClose      ConnectionState = "close"
)

var transitions = map[ConnectionState][]ConnectionState{
	StateConnecting: {StateQR, StateOpen, StateClose},
	StateQR:         {StateQR, StateOpen, StateClose},
	StateOpen:       {StateClose},
}

// CanTransition reports whether a session may move from s to next.
// close is terminal: a recovered session is always a new session.
func (s ConnectionState) CanTransition(next ConnectionState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Status is the coarse status string exposed to API clients.
func (s ConnectionState) Status() string {
	switch s {
	case StateOpen:
		return "connected"
	case StateQR:
		return "qr_required"
	case StateConnecting:
		return "connecting"
	default:
		return "disconnected"
	}
}

// PendingAuth is the latest scannable pairing challenge of an instance.
type PendingAuth struct {
	Artifact  string    `json:"base64"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
}

// DisconnectClass is how a close was handled.
type DisconnectClass string

const (
	ClassPurge        DisconnectClass = "purge"
	ClassBounded      DisconnectClass = "bounded"
	ClassUnclassified DisconnectClass = "unclassified"
)

type DisconnectInfo struct {
	Status int             `json:"status"`
	Reason string          `json:"reason,omitempty"`
	Class  DisconnectClass `json:"class"`
	At     time.Time       `json:"at"`
}

// SessionInfo is a point-in-time copy of a session record.
type SessionInfo struct {
	InstanceName      string          `json:"instanceName"`
	State             ConnectionState `json:"state"`
	IsLive            bool            `json:"isLive"`
	TransportOpen     bool            `json:"transportOpen"`
	ReconnectAttempts int             `json:"reconnectAttempts"`
	RetryScheduled    bool            `json:"retryScheduled"`
	KeepAliveArmed    bool            `json:"keepAliveArmed"`
	HasPendingAuth    bool            `json:"hasPendingAuth"`
	Token             string          `json:"-"`

	PhoneNumber string `json:"phoneNumber,omitempty"`
	ProfileName string `json:"profileName,omitempty"`

	CreatedAt      time.Time       `json:"createdAt"`
	ConnectedAt    *time.Time      `json:"connectedAt,omitempty"`
	LastMessageAt  *time.Time      `json:"lastMessageAt,omitempty"`
	LastPresenceAt *time.Time      `json:"lastPresenceAt,omitempty"`
	LastDisconnect *DisconnectInfo `json:"lastDisconnect,omitempty"`
}

// Ready reports whether sends may be attempted. Either the session saw an
// open event or the transport itself reports open.
func (s SessionInfo) Ready() bool {
	return s.IsLive || s.TransportOpen
}
