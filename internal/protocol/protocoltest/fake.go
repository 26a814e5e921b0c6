// Package protocoltest provides in-memory protocol collaborators for tests.
package protocoltest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gowa-gateway/internal/protocol"
)

// CredsFile is written into every directory loaded through AuthStore.
const CredsFile = "creds.json"

// AuthStore creates a directory with a placeholder credential file per Load.
type AuthStore struct {
	mu  sync.Mutex
	Err error
	// Unpaired lists instance directories whose state reports no linked device.
	Unpaired map[string]bool

	loaded []string
	states []*AuthState
}

func (s *AuthStore) Load(_ context.Context, dir string) (protocol.AuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, CredsFile), []byte(`{}`), 0o600); err != nil {
		return nil, err
	}
	st := &AuthState{Dir: dir, unpaired: s.Unpaired[filepath.Base(dir)]}
	s.loaded = append(s.loaded, dir)
	s.states = append(s.states, st)
	return st, nil
}

// Loaded returns every directory passed to Load, in call order.
func (s *AuthStore) Loaded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loaded...)
}

// States returns every AuthState handed out, in call order.
func (s *AuthStore) States() []*AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*AuthState(nil), s.states...)
}

// AuthState counts persists and closes.
type AuthState struct {
	Dir string

	mu         sync.Mutex
	persists   int
	closed     bool
	unpaired   bool
	PersistErr error
}

func (a *AuthState) Persist(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.persists++
	return a.PersistErr
}

func (a *AuthState) Paired() bool {
	return !a.unpaired
}

func (a *AuthState) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *AuthState) Persists() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.persists
}

func (a *AuthState) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Dialer hands out a new Conn per Dial and remembers all of them.
type Dialer struct {
	mu    sync.Mutex
	Err   error
	conns []*Conn

	// OnDial, when set, runs before Dial returns and may emit events.
	OnDial func(c *Conn)
}

func (d *Dialer) Dial(_ context.Context, _ protocol.AuthState, _ protocol.Options, emit func(protocol.Event)) (protocol.Conn, error) {
	d.mu.Lock()
	if d.Err != nil {
		err := d.Err
		d.mu.Unlock()
		return nil, err
	}
	c := &Conn{emit: emit, Ident: protocol.Identity{PhoneNumber: "5511999999999", DisplayName: "Test"}}
	d.conns = append(d.conns, c)
	hook := d.OnDial
	d.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return c, nil
}

// Conns returns every Conn dialed so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Last returns the most recently dialed Conn, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// SentText is one SendText call.
type SentText struct {
	To   string
	Text string
}

// Conn is a scriptable connection.
type Conn struct {
	emit func(protocol.Event)

	mu        sync.Mutex
	open      bool
	ended     bool
	loggedOut bool
	pings     int
	sent      []SentText

	PingErr   error
	SendErr   error
	LogoutErr error
	EndErr    error
	Ident     protocol.Identity
	IdentErr  error
}

// Emit pushes an event to the session that owns the connection.
func (c *Conn) Emit(evt protocol.Event) { c.emit(evt) }

// EmitQR simulates a fresh scannable-auth challenge.
func (c *Conn) EmitQR(code string) {
	c.Emit(protocol.ConnectionUpdate{Connection: protocol.ConnectionConnecting, QR: code})
}

// EmitOpen marks the transport open and emits the open update.
func (c *Conn) EmitOpen() {
	c.SetOpen(true)
	c.Emit(protocol.ConnectionUpdate{Connection: protocol.ConnectionOpen})
}

// EmitClose marks the transport closed and emits a close update.
func (c *Conn) EmitClose(d *protocol.DisconnectError) {
	c.SetOpen(false)
	c.Emit(protocol.ConnectionUpdate{Connection: protocol.ConnectionClose, Disconnect: d})
}

func (c *Conn) SetOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *Conn) SendText(_ context.Context, to, text string) (protocol.SentMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return protocol.SentMessage{}, c.SendErr
	}
	if c.ended {
		return protocol.SentMessage{}, fmt.Errorf("send: %w", protocol.ErrConnectionClosed)
	}
	c.sent = append(c.sent, SentText{To: to, Text: text})
	return protocol.SentMessage{
		ID:        fmt.Sprintf("3EB0%012d", len(c.sent)),
		RemoteJID: to,
		Timestamp: time.Unix(1700000000, 0),
	}, nil
}

func (c *Conn) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return c.LogoutErr
}

func (c *Conn) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = true
	c.open = false
	return c.EndErr
}

func (c *Conn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	if c.ended {
		return protocol.ErrConnectionClosed
	}
	return c.PingErr
}

func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Conn) Identity(context.Context) (protocol.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.IdentErr != nil {
		return protocol.Identity{}, c.IdentErr
	}
	if c.Ident.PhoneNumber == "" {
		return protocol.Identity{}, errors.New("not logged in")
	}
	return c.Ident, nil
}

func (c *Conn) SetPingErr(err error) {
	c.mu.Lock()
	c.PingErr = err
	c.mu.Unlock()
}

func (c *Conn) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

func (c *Conn) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *Conn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *Conn) Sent() []SentText {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentText(nil), c.sent...)
}
