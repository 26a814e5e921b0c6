package service

import (
	"sort"
	"time"

	"gowa-gateway/internal/model"
)

// reapableLocked reports whether s is closed, has no reconnect pending and
// has been idle longer than the threshold. m.mu must be held.
func (m *Manager) reapableLocked(s *session, now time.Time) bool {
	return s.state == model.StateClose &&
		m.retries[s.name] == nil &&
		now.Sub(s.lastActivity()) > m.opts.IdleThreshold
}

// Reap removes dead, idle sessions and returns their names. Credentials are
// kept. Sessions that are connecting, pairing, open or waiting for a
// reconnect are never touched.
func (m *Manager) Reap(now time.Time) []string {
	m.mu.Lock()
	var candidates []string
	for name, s := range m.sessions {
		if m.reapableLocked(s, now) {
			candidates = append(candidates, name)
		}
	}
	m.mu.Unlock()

	var reaped []string
	for _, name := range candidates {
		unlock := m.locks.Lock(name)
		m.mu.Lock()
		s := m.sessions[name]
		ok := s != nil && m.reapableLocked(s, now)
		m.mu.Unlock()
		if ok && m.deleteLocked(name, "idle", false) {
			reaped = append(reaped, name)
		}
		unlock()
	}

	sort.Strings(reaped)
	if len(reaped) > 0 {
		m.metrics.reap(len(reaped))
		m.log.Info().Strs("instances", reaped).Msg("reaped idle sessions")
	}
	return reaped
}

// ReapIdle runs Reap against the manager's clock.
func (m *Manager) ReapIdle() []string {
	return m.Reap(m.now())
}
