package service

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound     = errors.New("instance not found")
	ErrSessionExists       = errors.New("instance already exists")
	ErrInvalidInstanceName = errors.New("invalid instance name")
	ErrShuttingDown        = errors.New("session manager is shutting down")
)

// NotReadyError is returned by SendText when neither the session nor its
// transport report a usable connection.
type NotReadyError struct {
	Instance    string
	Connected   bool
	State       string
	SocketState string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("instance %s is not connected (state=%s, socket=%s)", e.Instance, e.State, e.SocketState)
}
