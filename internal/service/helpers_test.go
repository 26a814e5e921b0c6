package service

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gowa-gateway/internal/protocol"
	"gowa-gateway/internal/protocol/protocoltest"
	"gowa-gateway/internal/ws"
)

type fakeTimer struct {
	sched   *fakeScheduler
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

// Fire runs the callback unless the timer was stopped.
func (t *fakeTimer) Fire() {
	t.sched.mu.Lock()
	if t.stopped || t.fired {
		t.sched.mu.Unlock()
		return
	}
	t.fired = true
	t.sched.mu.Unlock()
	t.f()
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{sched: s, delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Active returns timers that were neither stopped nor fired.
func (s *fakeScheduler) Active() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeScheduler) All() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeTimer(nil), s.timers...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ws.WsEvent
}

func (p *recordingPublisher) Publish(evt ws.WsEvent) {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
}

func (p *recordingPublisher) Names(instance string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.Instance == instance {
			out = append(out, e.Event)
		}
	}
	return out
}

type harness struct {
	m      *Manager
	dialer *protocoltest.Dialer
	auth   *protocoltest.AuthStore
	sched  *fakeScheduler
	clock  *fakeClock
	pub    *recordingPublisher
	dir    string
}

func newHarness(t *testing.T, tweak ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		dialer: &protocoltest.Dialer{},
		auth:   &protocoltest.AuthStore{},
		sched:  &fakeScheduler{},
		clock:  &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		pub:    &recordingPublisher{},
		dir:    t.TempDir(),
	}

	opts := DefaultOptions()
	opts.SessionsDir = h.dir
	opts.Connect.CommitRetryDelay = time.Millisecond
	opts.Connect.CommitRetries = 2
	for _, f := range tweak {
		f(&opts)
	}

	h.m = NewManager(Config{
		Dialer:     h.dialer,
		AuthStore:  h.auth,
		Options:    opts,
		Logger:     zerolog.Nop(),
		Scheduler:  h.sched,
		Now:        h.clock.Now,
		Publishers: []ws.RealtimePublisher{h.pub},
	})
	t.Cleanup(func() { _ = h.m.Shutdown(context.Background()) })
	return h
}

// create registers name and returns its first connection.
func (h *harness) create(t *testing.T, name string) *protocoltest.Conn {
	t.Helper()
	if err := h.m.Create(context.Background(), name, "tok-"+name); err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return h.dialer.Last()
}

// connectWithAttempts opens name as if it were the n-th reconnect.
func (h *harness) connectWithAttempts(t *testing.T, name string, n int) *protocoltest.Conn {
	t.Helper()
	unlock := h.m.locks.Lock(name)
	err := h.m.connectLocked(context.Background(), name, "", n)
	unlock()
	if err != nil {
		t.Fatalf("connect %s: %v", name, err)
	}
	return h.dialer.Last()
}

func (h *harness) credsExist(name string) bool {
	_, err := os.Stat(h.m.CredsDir(name))
	return err == nil
}

// mutate edits a registered session in place.
func (h *harness) mutate(t *testing.T, name string, f func(s *session)) {
	t.Helper()
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	s := h.m.sessions[name]
	if s == nil {
		t.Fatalf("session %s not registered", name)
	}
	f(s)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func stateOf(m *Manager, name string) string {
	info, ok := m.Get(name)
	if !ok {
		return "absent"
	}
	return string(info.State)
}

func closeWith(status int) *protocol.DisconnectError {
	return &protocol.DisconnectError{Status: status}
}
