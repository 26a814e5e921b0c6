package service

import (
	"context"
	"time"

	"gowa-gateway/internal/model"
)

// PendingAuth returns the latest pairing challenge of name.
func (m *Manager) PendingAuth(name string) (model.PendingAuth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[name]
	return p, ok
}

// WaitPendingAuth polls for a pairing challenge until one exists, the session
// opens or disappears, or wait elapses.
func (m *Manager) WaitPendingAuth(ctx context.Context, name string, wait time.Duration) (model.PendingAuth, bool) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		m.mu.Lock()
		p, ok := m.pending[name]
		s := m.sessions[name]
		settled := s == nil || s.state == model.StateOpen
		m.mu.Unlock()

		if ok {
			return p, true
		}
		if settled {
			return model.PendingAuth{}, false
		}

		select {
		case <-ctx.Done():
			return model.PendingAuth{}, false
		case <-ticker.C:
		}
	}
}
