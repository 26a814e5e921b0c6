// Package service owns the instance sessions: their registry, connection
// lifecycle, reconnect policy and background maintenance.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gowa-gateway/internal/model"
	"gowa-gateway/internal/protocol"
	"gowa-gateway/internal/ws"
)

var instanceNameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// ValidateInstanceName rejects names that are unsafe as a directory name.
func ValidateInstanceName(name string) error {
	if !instanceNameRe.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidInstanceName, name)
	}
	return nil
}

// DefaultTenantPattern groups names like client_42 and client-42-backup under tenant 42.
const DefaultTenantPattern = `^client[_-]([0-9]+)`

type Options struct {
	SessionsDir       string
	Connect           protocol.Options
	Policy            Policy
	KeepAliveInterval time.Duration
	IdleThreshold     time.Duration
	TenantPattern     *regexp.Regexp
}

func DefaultOptions() Options {
	return Options{
		SessionsDir:       "sessions",
		Connect:           protocol.DefaultOptions(),
		Policy:            DefaultPolicy(),
		KeepAliveInterval: 60 * time.Second,
		IdleThreshold:     10 * time.Minute,
		TenantPattern:     regexp.MustCompile(DefaultTenantPattern),
	}
}

// Config wires a Manager. Dialer and AuthStore are required.
type Config struct {
	Dialer     protocol.Dialer
	AuthStore  protocol.AuthStore
	Options    Options
	Logger     zerolog.Logger
	Scheduler  Scheduler
	Now        func() time.Time
	Publishers []ws.RealtimePublisher
	Recorder   StatusRecorder
	Metrics    *Metrics
}

// retry is a scheduled reconnect. The timer callback only proceeds while it
// is still the entry registered for its name.
type retry struct {
	timer    Timer
	token    string
	attempts int
	class    model.DisconnectClass
}

type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	pending  map[string]model.PendingAuth
	retries  map[string]*retry
	closed   bool

	locks      *keyedMutex
	dialer     protocol.Dialer
	auth       protocol.AuthStore
	sched      Scheduler
	now        func() time.Time
	opts       Options
	log        zerolog.Logger
	publishers []ws.RealtimePublisher
	recorder   StatusRecorder
	metrics    *Metrics
}

func NewManager(cfg Config) *Manager {
	opts := cfg.Options
	def := DefaultOptions()
	if opts.SessionsDir == "" {
		opts.SessionsDir = def.SessionsDir
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = def.KeepAliveInterval
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = def.IdleThreshold
	}
	if opts.TenantPattern == nil {
		opts.TenantPattern = def.TenantPattern
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy.MaxAttempts = def.Policy.MaxAttempts
	}
	if opts.Policy.UnclassifiedDelay <= 0 {
		opts.Policy.UnclassifiedDelay = def.Policy.UnclassifiedDelay
	}

	sched := cfg.Scheduler
	if sched == nil {
		sched = realScheduler{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		sessions:   make(map[string]*session),
		pending:    make(map[string]model.PendingAuth),
		retries:    make(map[string]*retry),
		locks:      newKeyedMutex(),
		dialer:     cfg.Dialer,
		auth:       cfg.AuthStore,
		sched:      sched,
		now:        now,
		opts:       opts,
		log:        cfg.Logger.With().Str("component", "sessions").Logger(),
		publishers: cfg.Publishers,
		recorder:   cfg.Recorder,
		metrics:    cfg.Metrics,
	}
}

// CredsDir is where the credentials of name live.
func (m *Manager) CredsDir(name string) string {
	return filepath.Join(m.opts.SessionsDir, name)
}

func (m *Manager) publish(evt ws.WsEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = m.now().UTC()
	}
	for _, p := range m.publishers {
		p.Publish(evt)
	}
}

func (m *Manager) publishState(info model.SessionInfo, d *model.DisconnectInfo) {
	data := ws.ConnectionUpdateData{
		State:             string(info.State),
		Status:            info.State.Status(),
		ReconnectAttempts: info.ReconnectAttempts,
	}
	if d != nil {
		data.StatusReason = d.Status
		data.Reason = d.Reason
	}
	m.publish(ws.WsEvent{Event: ws.EventConnectionUpdate, Instance: info.InstanceName, Data: data})
}

// Create registers and connects a new instance.
func (m *Manager) Create(ctx context.Context, name, token string) error {
	if err := ValidateInstanceName(name); err != nil {
		return err
	}
	unlock := m.locks.Lock(name)
	defer unlock()

	m.mu.Lock()
	_, exists := m.sessions[name]
	m.mu.Unlock()
	if exists {
		return ErrSessionExists
	}
	return m.connectLocked(ctx, name, token, 0)
}

// Connect tears down any existing session of name and opens a new one.
func (m *Manager) Connect(ctx context.Context, name string) error {
	if err := ValidateInstanceName(name); err != nil {
		return err
	}
	unlock := m.locks.Lock(name)
	defer unlock()

	return m.connectLocked(ctx, name, m.tokenOf(name), 0)
}

// EnsureConnected connects name unless a session is already connecting or
// open. It reports whether a new connection was started.
func (m *Manager) EnsureConnected(ctx context.Context, name string) (bool, error) {
	if err := ValidateInstanceName(name); err != nil {
		return false, err
	}
	unlock := m.locks.Lock(name)
	defer unlock()

	m.mu.Lock()
	s := m.sessions[name]
	active := s != nil && s.state != model.StateClose
	m.mu.Unlock()
	if active {
		return false, nil
	}
	return true, m.connectLocked(ctx, name, m.tokenOf(name), 0)
}

func (m *Manager) tokenOf(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.sessions[name]; s != nil {
		return s.token
	}
	if r := m.retries[name]; r != nil {
		return r.token
	}
	return ""
}

// connectLocked replaces the session of name. The per-name lock must be held.
// The old session is fully torn down before the new one is registered, and
// nothing is registered when loading credentials or dialing fails.
func (m *Manager) connectLocked(ctx context.Context, name, token string, attempts int) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	old := m.removeLocked(name)
	m.mu.Unlock()
	if old != nil {
		old.teardown()
		old.log.Debug().Msg("previous session torn down")
	}

	s := newSession(name, token, attempts, m.now(), m.log)

	auth, err := m.auth.Load(ctx, m.CredsDir(name))
	if err != nil {
		s.teardown()
		return fmt.Errorf("load auth state for %s: %w", name, err)
	}
	s.auth = auth

	conn, err := m.dialer.Dial(ctx, auth, m.opts.Connect, s.enqueue)
	if err != nil {
		s.teardown()
		return fmt.Errorf("open connection for %s: %w", name, err)
	}
	s.conn = conn

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.teardown()
		return ErrShuttingDown
	}
	m.sessions[name] = s
	info := m.infoLocked(s)
	m.mu.Unlock()

	go m.run(s)

	s.log.Info().Int("attempts", attempts).Msg("session connecting")
	m.record(info)
	m.publishState(info, nil)
	return nil
}

// Delete removes name from the registry and closes its connection. Credentials
// stay on disk. Deleting an unknown name is a no-op.
func (m *Manager) Delete(name string) {
	unlock := m.locks.Lock(name)
	defer unlock()
	m.deleteLocked(name, "deleted", false)
}

// Clear removes the session, its pending auth and its credential directory.
func (m *Manager) Clear(_ context.Context, name string) error {
	if err := ValidateInstanceName(name); err != nil {
		return err
	}
	unlock := m.locks.Lock(name)
	defer unlock()
	m.deleteLocked(name, "cleared", true)
	return nil
}

// Logout unlinks the device on the remote side, best effort, then clears it.
func (m *Manager) Logout(ctx context.Context, name string) error {
	if err := ValidateInstanceName(name); err != nil {
		return err
	}
	unlock := m.locks.Lock(name)
	defer unlock()

	m.mu.Lock()
	var conn protocol.Conn
	if s := m.sessions[name]; s != nil {
		conn = s.conn
	}
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Logout(ctx); err != nil {
			m.log.Warn().Err(err).Str("instance", name).Msg("remote logout failed, clearing anyway")
		}
	}
	m.deleteLocked(name, "logged out", true)
	return nil
}

// deleteLocked removes name under the per-name lock and reports whether a
// session existed.
func (m *Manager) deleteLocked(name, reason string, discardCreds bool) bool {
	m.mu.Lock()
	s := m.removeLocked(name)
	var info model.SessionInfo
	if s != nil {
		s.state = model.StateClose
		s.isLive = false
		info = m.infoLocked(s)
		info.RetryScheduled = false
	}
	m.mu.Unlock()

	if s != nil {
		s.teardown()
	}
	if discardCreds {
		m.removeCreds(name)
		m.forget(name)
	} else if s != nil {
		m.record(info)
	}

	if s != nil || discardCreds {
		m.log.Info().Str("instance", name).Str("reason", reason).Bool("creds_discarded", discardCreds).Msg("session removed")
		m.publish(ws.WsEvent{
			Event:    ws.EventInstanceRemoved,
			Instance: name,
			Data:     ws.InstanceRemovedData{Reason: reason, CredsDiscarded: discardCreds},
		})
	}
	return s != nil
}

func (m *Manager) removeCreds(name string) {
	if err := os.RemoveAll(m.CredsDir(name)); err != nil {
		m.log.Warn().Err(err).Str("instance", name).Msg("failed to remove credentials")
	}
}

func socketState(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}

// SendText sends text to the JID to through the session of name. The session
// counts as ready when it saw an open event or its transport reports open.
func (m *Manager) SendText(ctx context.Context, name, to, text string) (protocol.SentMessage, error) {
	m.mu.Lock()
	s := m.sessions[name]
	if s == nil {
		m.mu.Unlock()
		return protocol.SentMessage{}, ErrSessionNotFound
	}
	conn, live, state := s.conn, s.isLive, s.state
	m.mu.Unlock()

	open := conn != nil && conn.IsOpen()
	if conn == nil || !(live || open) {
		return protocol.SentMessage{}, &NotReadyError{
			Instance:    name,
			Connected:   live,
			State:       string(state),
			SocketState: socketState(open),
		}
	}

	sent, err := conn.SendText(ctx, to, text)
	if err != nil {
		return protocol.SentMessage{}, fmt.Errorf("send text via %s: %w", name, err)
	}
	m.metrics.sent()
	return sent, nil
}

// Restore connects every instance under the sessions root whose credentials
// belong to a linked device. Instances that never finished pairing are left
// alone. It returns how many were started.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.opts.SessionsDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan sessions dir: %w", err)
	}

	started := 0
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || ValidateInstanceName(name) != nil {
			continue
		}
		files, err := os.ReadDir(m.CredsDir(name))
		if err != nil || len(files) == 0 {
			continue
		}
		if !m.paired(ctx, name) {
			m.log.Debug().Str("instance", name).Msg("skipping unpaired instance")
			continue
		}
		if _, err := m.EnsureConnected(ctx, name); err != nil {
			m.log.Warn().Err(err).Str("instance", name).Msg("restore failed")
			continue
		}
		started++
	}
	m.log.Info().Int("restored", started).Msg("sessions restored")
	return started, nil
}

// paired loads the credentials of name without dialing and reports whether
// they belong to a linked device.
func (m *Manager) paired(ctx context.Context, name string) bool {
	state, err := m.auth.Load(ctx, m.CredsDir(name))
	if err != nil {
		m.log.Warn().Err(err).Str("instance", name).Msg("failed to read saved credentials")
		return false
	}
	defer func() {
		if err := state.Close(); err != nil {
			m.log.Debug().Err(err).Str("instance", name).Msg("close auth state")
		}
	}()
	return state.Paired()
}

// Shutdown cancels every retry and keep-alive and ends every connection.
// Later connects fail with ErrShuttingDown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for name, r := range m.retries {
		r.timer.Stop()
		delete(m.retries, name)
	}
	all := make([]*session, 0, len(m.sessions))
	for name := range m.sessions {
		all = append(all, m.removeLocked(name))
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range all {
		s := s
		g.Go(func() error {
			s.teardown()
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		m.log.Info().Int("sessions", len(all)).Msg("all sessions closed")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Diagnosis is the verbose state dump of one instance.
type Diagnosis struct {
	model.SessionInfo
	Registered     bool   `json:"registered"`
	CredsDir       string `json:"credsDir"`
	CredsOnDisk    bool   `json:"credsOnDisk"`
	Recommendation string `json:"recommendation"`
}

func (m *Manager) Diagnose(name string) Diagnosis {
	info, ok := m.Get(name)
	d := Diagnosis{SessionInfo: info, Registered: ok, CredsDir: m.CredsDir(name)}
	if !ok {
		d.InstanceName = name
		d.State = model.StateClose
	}
	if ValidateInstanceName(name) == nil {
		if files, err := os.ReadDir(d.CredsDir); err == nil && len(files) > 0 {
			d.CredsOnDisk = true
		}
	}
	d.Recommendation = Recommendation(d)
	return d
}

// Recommendation turns a diagnosis into advice for an operator.
func Recommendation(d Diagnosis) string {
	switch {
	case !d.Registered && d.CredsOnDisk:
		return "Instance is not loaded but credentials exist; call /instance/connect to resume without scanning."
	case !d.Registered:
		return "Instance does not exist; create it and call /instance/connect to get a QR code."
	case d.State == model.StateQR:
		return "Waiting for pairing; scan the QR code returned by /instance/connect."
	case d.State == model.StateConnecting && d.TransportOpen:
		return "Transport is open but the session has not reported open yet; sending is allowed."
	case d.State == model.StateConnecting:
		return "Connection in progress; check again in a few seconds."
	case d.State == model.StateOpen && !d.TransportOpen:
		return "Session is marked live but the transport reports closed; a reconnect should follow shortly."
	case d.State == model.StateOpen:
		return "Instance is healthy."
	case d.RetryScheduled:
		return fmt.Sprintf("Disconnected; reconnect attempt %d is scheduled.", d.ReconnectAttempts+1)
	}
	return "Session is disconnected with no retry scheduled; call /instance/connect or clear it."
}
