package service

import (
	"errors"
	"testing"
	"time"

	"gowa-gateway/internal/model"
	"gowa-gateway/internal/protocol"
)

func TestReconnectDelay(t *testing.T) {
	want := []time.Duration{5000, 7000, 9000, 11000, 13000, 15000, 17000, 19000, 21000, 23000, 25000, 27000, 29000, 30000, 30000}
	for attempts, ms := range want {
		if got := ReconnectDelay(attempts); got != ms*time.Millisecond {
			t.Errorf("attempts=%d: expected %v, got %v", attempts, ms*time.Millisecond, got)
		}
	}
}

func TestDecideTerminalForAnyAttemptCount(t *testing.T) {
	p := DefaultPolicy()
	cases := []*protocol.DisconnectError{
		{Status: protocol.StatusLoggedOut},
		{Status: protocol.StatusLoggedOut, DeviceRemoved: true},
		{Status: protocol.StatusBadSession},
		{Status: protocol.StatusBadSession, Err: errors.New(`stream:error conflict type="device_removed"`)},
		{Status: protocol.StatusForbidden, LoggedOut: true},
	}
	for _, d := range cases {
		for attempts := 0; attempts <= 10; attempts++ {
			got := p.Decide(d, attempts)
			if got.Action != ActionPurge || got.Class != model.ClassPurge {
				t.Fatalf("%v attempts=%d: expected purge, got %+v", d, attempts, got)
			}
		}
	}
}

func TestDecideDeviceRemovedSignal(t *testing.T) {
	p := DefaultPolicy()

	if !p.Decide(&protocol.DisconnectError{Status: 401, DeviceRemoved: true}, 0).DeviceRemoved {
		t.Fatalf("expected flag to be honoured")
	}
	if !p.Decide(&protocol.DisconnectError{Status: 500, Err: errors.New("conflict: device_removed")}, 0).DeviceRemoved {
		t.Fatalf("expected signal in error text to be detected")
	}
	if p.Decide(&protocol.DisconnectError{Status: 401}, 0).DeviceRemoved {
		t.Fatalf("plain 401 is not a device removal")
	}
}

func TestDecideBoundedCap(t *testing.T) {
	p := DefaultPolicy()
	for _, status := range []int{protocol.StatusConnectionClosed, protocol.StatusRestartRequired} {
		d := &protocol.DisconnectError{Status: status}
		for attempts := 0; attempts < 10; attempts++ {
			got := p.Decide(d, attempts)
			if got.Action != ActionRetry || got.NextAttempts != attempts+1 {
				t.Fatalf("status=%d attempts=%d: expected retry, got %+v", status, attempts, got)
			}
			if got.Delay != ReconnectDelay(attempts) {
				t.Fatalf("status=%d attempts=%d: expected delay %v, got %v", status, attempts, ReconnectDelay(attempts), got.Delay)
			}
		}
		if got := p.Decide(d, 10); got.Action != ActionDrop {
			t.Fatalf("status=%d: expected drop after 10 attempts, got %+v", status, got)
		}
	}
}

func TestDecideUnclassified(t *testing.T) {
	p := DefaultPolicy()
	for _, d := range []*protocol.DisconnectError{nil, {Status: 408}, {Status: 440}, {Status: 503}, {Status: 403}} {
		got := p.Decide(d, 50)
		if got.Action != ActionRetry || got.Delay != 5*time.Second || got.Class != model.ClassUnclassified {
			t.Fatalf("%v: expected unconditional 5s retry, got %+v", d, got)
		}
	}

	p.UnclassifiedMaxAttempts = 3
	if got := p.Decide(&protocol.DisconnectError{Status: 503}, 2); got.Action != ActionRetry {
		t.Fatalf("expected retry under the cap, got %+v", got)
	}
	if got := p.Decide(&protocol.DisconnectError{Status: 503}, 3); got.Action != ActionDrop {
		t.Fatalf("expected drop at the cap, got %+v", got)
	}
}
