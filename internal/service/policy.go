package service

import (
	"strings"
	"time"

	"gowa-gateway/internal/model"
	"gowa-gateway/internal/protocol"
)

// Action is what the controller does after a session closed.
type Action int

const (
	// ActionPurge removes the session, its pending auth and its credentials.
	ActionPurge Action = iota
	// ActionRetry schedules a fresh connect.
	ActionRetry
	// ActionDrop removes the session and pending auth but keeps credentials.
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionPurge:
		return "purge"
	case ActionRetry:
		return "retry"
	case ActionDrop:
		return "drop"
	}
	return "unknown"
}

// Decision is the outcome of classifying one disconnect.
type Decision struct {
	Class         model.DisconnectClass
	Action        Action
	Delay         time.Duration
	NextAttempts  int
	DeviceRemoved bool
}

// Policy holds the reconnect limits.
type Policy struct {
	MaxAttempts       int
	UnclassifiedDelay time.Duration
	// UnclassifiedMaxAttempts caps retries of unknown disconnects; 0 retries forever.
	UnclassifiedMaxAttempts int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       10,
		UnclassifiedDelay: 5 * time.Second,
	}
}

const (
	baseReconnectDelay = 5000 * time.Millisecond
	stepReconnectDelay = 2000 * time.Millisecond
	maxReconnectDelay  = 30000 * time.Millisecond
)

// ReconnectDelay is min(5s + attempts*2s, 30s).
func ReconnectDelay(attempts int) time.Duration {
	d := baseReconnectDelay + time.Duration(attempts)*stepReconnectDelay
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

// IsDeviceRemoved looks for the device-removed signal in the flag or anywhere
// in the serialized error.
func IsDeviceRemoved(d *protocol.DisconnectError) bool {
	if d == nil {
		return false
	}
	return d.DeviceRemoved || strings.Contains(d.Error(), "device_removed")
}

// Decide classifies a disconnect given the attempt count of the session that closed.
func (p Policy) Decide(d *protocol.DisconnectError, attempts int) Decision {
	status := 0
	if d != nil {
		status = d.Status
	}

	switch {
	case status == protocol.StatusBadSession || status == protocol.StatusLoggedOut:
		return Decision{Class: model.ClassPurge, Action: ActionPurge, DeviceRemoved: IsDeviceRemoved(d)}

	case status == protocol.StatusConnectionClosed || status == protocol.StatusRestartRequired:
		if attempts < p.MaxAttempts {
			return Decision{
				Class:        model.ClassBounded,
				Action:       ActionRetry,
				Delay:        ReconnectDelay(attempts),
				NextAttempts: attempts + 1,
			}
		}
		return Decision{Class: model.ClassBounded, Action: ActionDrop}

	case d != nil && d.LoggedOut:
		return Decision{Class: model.ClassPurge, Action: ActionPurge, DeviceRemoved: IsDeviceRemoved(d)}
	}

	if p.UnclassifiedMaxAttempts > 0 && attempts >= p.UnclassifiedMaxAttempts {
		return Decision{Class: model.ClassUnclassified, Action: ActionDrop}
	}
	return Decision{
		Class:        model.ClassUnclassified,
		Action:       ActionRetry,
		Delay:        p.UnclassifiedDelay,
		NextAttempts: attempts + 1,
	}
}
