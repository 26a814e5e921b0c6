package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"gowa-gateway/internal/helper"
	"gowa-gateway/internal/model"
	"gowa-gateway/internal/protocol"
	"gowa-gateway/internal/ws"
)

const identityTimeout = 10 * time.Second

// run drains the events of one session in emission order until it is torn down.
func (m *Manager) run(s *session) {
	for {
		select {
		case <-s.done:
			return
		case evt := <-s.events:
			m.handleEvent(s, evt)
		}
	}
}

func (m *Manager) handleEvent(s *session, evt protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("event", protocol.EventName(evt)).Msg("event handler panicked")
		}
	}()

	switch e := evt.(type) {
	case protocol.ConnectionUpdate:
		if e.QR != "" {
			m.onQR(s, e.QR)
		}
		switch e.Connection {
		case protocol.ConnectionOpen:
			m.onOpen(s)
		case protocol.ConnectionClose:
			m.onClose(s, e.Disconnect)
		}

	case protocol.CredsUpdate:
		m.onCreds(s)

	case protocol.MessagesUpsert:
		m.mu.Lock()
		current := m.sessions[s.name] == s
		if current {
			s.lastMessageAt = m.now()
		}
		m.mu.Unlock()
		if !current {
			return
		}
		m.metrics.received()
		m.publish(ws.WsEvent{
			Event:    ws.EventMessagesUpsert,
			Instance: s.name,
			Data: ws.MessagesUpsertData{
				From:      e.From,
				Sender:    helper.ExtractPhoneFromJID(e.From),
				MessageID: e.ID,
				Timestamp: e.Timestamp,
			},
		})

	case protocol.PresenceUpdate:
		m.mu.Lock()
		if m.sessions[s.name] == s {
			s.lastPresenceAt = m.now()
		}
		m.mu.Unlock()
	}
}

// transitionLocked moves s to next if s is still registered and the move is
// allowed. m.mu must be held.
func (m *Manager) transitionLocked(s *session, next model.ConnectionState) bool {
	if m.sessions[s.name] != s {
		return false
	}
	if !s.state.CanTransition(next) {
		s.log.Warn().Str("from", string(s.state)).Str("to", string(next)).Msg("ignoring invalid transition")
		return false
	}
	s.state = next
	return true
}

func (m *Manager) onQR(s *session, code string) {
	artifact, err := helper.RenderQR(code)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to render qr code")
		return
	}

	m.mu.Lock()
	if !m.transitionLocked(s, model.StateQR) {
		m.mu.Unlock()
		return
	}
	m.pending[s.name] = model.PendingAuth{Artifact: artifact, Code: code, CreatedAt: m.now()}
	info := m.infoLocked(s)
	m.mu.Unlock()

	s.log.Info().Msg("qr code ready")
	m.publish(ws.WsEvent{
		Event:    ws.EventQRCodeUpdated,
		Instance: s.name,
		Data:     ws.QRCodeUpdatedData{Base64: artifact, Code: code},
	})
	m.publishState(info, nil)
	m.record(info)
}

func (m *Manager) onOpen(s *session) {
	m.mu.Lock()
	if !m.transitionLocked(s, model.StateOpen) {
		m.mu.Unlock()
		return
	}
	s.isLive = true
	s.attempts = 0
	s.connectedAt = m.now()
	delete(m.pending, s.name)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), identityTimeout)
	ident, err := s.conn.Identity(ctx)
	cancel()
	if err != nil {
		s.log.Debug().Err(err).Msg("identity unavailable")
	}

	m.mu.Lock()
	if m.sessions[s.name] != s || s.state != model.StateOpen {
		m.mu.Unlock()
		return
	}
	if err == nil {
		s.phoneNumber = ident.PhoneNumber
		s.profileName = ident.DisplayName
	}
	m.armKeepAliveLocked(s)
	info := m.infoLocked(s)
	m.mu.Unlock()

	s.log.Info().Str("phone", info.PhoneNumber).Msg("session open")
	m.publishState(info, nil)
	m.record(info)
}

func (m *Manager) onClose(s *session, d *protocol.DisconnectError) {
	unlock := m.locks.Lock(s.name)
	defer unlock()

	m.mu.Lock()
	if !m.transitionLocked(s, model.StateClose) {
		m.mu.Unlock()
		return
	}
	decision := m.opts.Policy.Decide(d, s.attempts)
	s.isLive = false
	s.disarmLocked()
	info := &model.DisconnectInfo{Class: decision.Class, At: m.now()}
	if d != nil {
		info.Status = d.Status
		info.Reason = d.Reason
		if info.Reason == "" && d.Err != nil {
			info.Reason = d.Err.Error()
		}
	}
	s.lastDisconnect = info
	attempts := s.attempts
	m.mu.Unlock()

	m.metrics.disconnect(decision)
	log := s.log.Info().
		Int("status", info.Status).
		Str("reason", info.Reason).
		Str("class", string(decision.Class)).
		Str("action", decision.Action.String()).
		Int("attempts", attempts)
	if decision.Action == ActionRetry {
		log = log.Dur("delay", decision.Delay)
	}
	log.Msg("session closed")

	switch decision.Action {
	case ActionPurge:
		reason := fmt.Sprintf("credentials invalid (status %d)", info.Status)
		if decision.DeviceRemoved {
			s.log.Warn().Msg("device removed from the account, discarding credentials")
			reason = "device removed"
		}
		m.deleteLocked(s.name, reason, true)

	case ActionDrop:
		m.deleteLocked(s.name, "reconnect attempts exhausted", false)

	case ActionRetry:
		m.mu.Lock()
		if m.closed || m.sessions[s.name] != s {
			m.mu.Unlock()
			return
		}
		m.scheduleLocked(s.name, s.token, decision)
		snapshot := m.infoLocked(s)
		m.mu.Unlock()

		// the replacement opens its own transport
		if err := s.conn.End(); err != nil {
			s.log.Debug().Err(err).Msg("end closed connection")
		}
		m.publishState(snapshot, info)
		m.record(snapshot)
	}
}

// scheduleLocked arms a reconnect for name. m.mu must be held.
func (m *Manager) scheduleLocked(name, token string, d Decision) {
	if old := m.retries[name]; old != nil {
		old.timer.Stop()
	}
	r := &retry{token: token, attempts: d.NextAttempts, class: d.Class}
	m.retries[name] = r
	r.timer = m.sched.AfterFunc(d.Delay, func() { m.fireRetry(name, r) })
}

func (m *Manager) fireRetry(name string, r *retry) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error().Interface("panic", rec).Str("instance", name).Msg("reconnect panicked")
		}
	}()

	unlock := m.locks.Lock(name)
	defer unlock()

	m.mu.Lock()
	if m.closed || m.retries[name] != r {
		m.mu.Unlock()
		return
	}
	delete(m.retries, name)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.connectTimeout())
	defer cancel()

	err := m.connectLocked(ctx, name, r.token, r.attempts)
	if err == nil || errors.Is(err, ErrShuttingDown) {
		return
	}
	m.log.Warn().Err(err).Str("instance", name).Int("attempts", r.attempts).Msg("reconnect failed")

	// nothing is registered now; apply the same class of policy to the failed attempt
	status := 0
	if r.class == model.ClassBounded {
		status = protocol.StatusConnectionClosed
	}
	next := m.opts.Policy.Decide(&protocol.DisconnectError{Status: status, Err: err}, r.attempts)
	if next.Action != ActionRetry {
		m.log.Warn().Str("instance", name).Msg("giving up reconnecting")
		return
	}

	m.mu.Lock()
	if !m.closed && m.sessions[name] == nil && m.retries[name] == nil {
		m.scheduleLocked(name, r.token, next)
		m.metrics.disconnect(next)
	}
	m.mu.Unlock()
}

func (m *Manager) connectTimeout() time.Duration {
	if t := m.opts.Connect.ConnectTimeout; t > 0 {
		return t + 5*time.Second
	}
	return 2 * time.Minute
}

// onCreds persists changed credentials, retrying CommitRetries times.
func (m *Manager) onCreds(s *session) {
	m.mu.Lock()
	current := m.sessions[s.name] == s
	m.mu.Unlock()
	if !current {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	opts := m.opts.Connect
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.CommitRetryDelay), uint64(opts.CommitRetries)),
		ctx,
	)
	err := backoff.RetryNotify(func() error {
		return s.auth.Persist(ctx)
	}, policy, func(err error, wait time.Duration) {
		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("persisting credentials failed")
	})
	if err != nil {
		s.log.Error().Err(err).Msg("giving up persisting credentials")
	}
}
