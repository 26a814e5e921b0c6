package service

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gowa-gateway/internal/model"
	"gowa-gateway/internal/protocol"
)

const eventBuffer = 64

// session is one registry entry. Everything below the channels is guarded by
// Manager.mu.
type session struct {
	name  string
	token string
	log   zerolog.Logger

	conn   protocol.Conn
	auth   protocol.AuthState
	events chan protocol.Event
	done   chan struct{}
	once   sync.Once

	state          model.ConnectionState
	isLive         bool
	attempts       int
	createdAt      time.Time
	connectedAt    time.Time
	lastMessageAt  time.Time
	lastPresenceAt time.Time
	phoneNumber    string
	profileName    string
	lastDisconnect *model.DisconnectInfo
	keepAlive      *keepAliveHandle
}

func newSession(name, token string, attempts int, now time.Time, log zerolog.Logger) *session {
	return &session{
		name:      name,
		token:     token,
		log:       log.With().Str("instance", name).Logger(),
		events:    make(chan protocol.Event, eventBuffer),
		done:      make(chan struct{}),
		state:     model.StateConnecting,
		attempts:  attempts,
		createdAt: now,
	}
}

// enqueue hands an event to the session loop. Events emitted after the
// session was torn down are dropped.
func (s *session) enqueue(evt protocol.Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.events <- evt:
	case <-s.done:
	}
}

// teardown stops the event loop, ends the connection and releases the
// credential store. Errors are swallowed; the remote side may be gone already.
func (s *session) teardown() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			if err := s.conn.End(); err != nil {
				s.log.Debug().Err(err).Msg("end connection")
			}
		}
		if s.auth != nil {
			if err := s.auth.Close(); err != nil {
				s.log.Debug().Err(err).Msg("close auth state")
			}
		}
	})
}

// lastActivity is the newest of lastMessageAt and connectedAt, or createdAt
// when the session never saw either.
func (s *session) lastActivity() time.Time {
	last := s.lastMessageAt
	if s.connectedAt.After(last) {
		last = s.connectedAt
	}
	if last.IsZero() {
		return s.createdAt
	}
	return last
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// infoLocked copies s. m.mu must be held.
func (m *Manager) infoLocked(s *session) model.SessionInfo {
	info := model.SessionInfo{
		InstanceName:      s.name,
		State:             s.state,
		IsLive:            s.isLive,
		ReconnectAttempts: s.attempts,
		RetryScheduled:    m.retries[s.name] != nil,
		KeepAliveArmed:    s.keepAlive != nil,
		Token:             s.token,
		PhoneNumber:       s.phoneNumber,
		ProfileName:       s.profileName,
		CreatedAt:         s.createdAt,
		ConnectedAt:       optTime(s.connectedAt),
		LastMessageAt:     optTime(s.lastMessageAt),
		LastPresenceAt:    optTime(s.lastPresenceAt),
	}
	_, info.HasPendingAuth = m.pending[s.name]
	if s.conn != nil {
		info.TransportOpen = s.conn.IsOpen()
	}
	if s.lastDisconnect != nil {
		d := *s.lastDisconnect
		info.LastDisconnect = &d
	}
	return info
}

// removeLocked unregisters name: cancels keep-alive and any scheduled
// reconnect and drops the pending auth. The caller tears the returned session
// down after releasing m.mu. Removing an absent name returns nil.
func (m *Manager) removeLocked(name string) *session {
	if r := m.retries[name]; r != nil {
		r.timer.Stop()
		delete(m.retries, name)
	}
	delete(m.pending, name)

	s := m.sessions[name]
	if s == nil {
		return nil
	}
	s.disarmLocked()
	delete(m.sessions, name)
	return s
}

// Get returns a snapshot of one session.
func (m *Manager) Get(name string) (model.SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[name]
	if s == nil {
		return model.SessionInfo{}, false
	}
	return m.infoLocked(s), true
}

// List returns snapshots of every session, sorted by name.
func (m *Manager) List() []model.SessionInfo {
	m.mu.Lock()
	out := make([]model.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, m.infoLocked(s))
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].InstanceName < out[j].InstanceName })
	return out
}

// Counts aggregates sessions the way /health reports them.
type Counts struct {
	Total        int `json:"total"`
	Connected    int `json:"connected"`
	Connecting   int `json:"connecting"`
	Disconnected int `json:"disconnected"`
}

func (m *Manager) Counts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()

	var c Counts
	for _, s := range m.sessions {
		c.Total++
		switch s.state {
		case model.StateOpen:
			c.Connected++
		case model.StateConnecting, model.StateQR:
			c.Connecting++
		default:
			c.Disconnected++
		}
	}
	return c
}
