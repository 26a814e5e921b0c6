package service

import (
	"context"
	"errors"
	"time"

	"gowa-gateway/internal/protocol"
)

type keepAliveHandle struct {
	cancel context.CancelFunc
}

// disarmLocked stops the keep-alive of s, if any. m.mu must be held.
func (s *session) disarmLocked() {
	if s.keepAlive != nil {
		s.keepAlive.cancel()
		s.keepAlive = nil
	}
}

// armKeepAliveLocked starts probing s, replacing any previous monitor.
// m.mu must be held.
func (m *Manager) armKeepAliveLocked(s *session) {
	s.disarmLocked()
	ctx, cancel := context.WithCancel(context.Background())
	h := &keepAliveHandle{cancel: cancel}
	s.keepAlive = h
	go m.keepAlive(ctx, s, h, m.opts.KeepAliveInterval)
}

// keepAlive probes the transport every interval while it reports open. It
// never reconnects; disconnects are handled through close events.
func (m *Manager) keepAlive(ctx context.Context, s *session, h *keepAliveHandle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
		}

		if !m.probe(ctx, s, interval) {
			m.mu.Lock()
			if s.keepAlive == h {
				s.disarmLocked()
			}
			m.mu.Unlock()
			s.log.Info().Msg("keep-alive disarmed, transport closed")
			return
		}
	}
}

// probe returns false once the monitor should stop.
func (m *Manager) probe(ctx context.Context, s *session, timeout time.Duration) bool {
	if !s.conn.IsOpen() {
		return true
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	err := s.conn.Ping(pctx)
	cancel()
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	m.metrics.keepAliveFailed()
	s.log.Warn().Err(err).Msg("keep-alive probe failed")
	return !errors.Is(err, protocol.ErrConnectionClosed)
}
