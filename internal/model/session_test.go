package model

import (
	"strings"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to ConnectionState }{
		{StateConnecting, StateQR},
		{StateConnecting, StateOpen},
		{StateConnecting, StateClose},
		{StateQR, StateQR},
		{StateQR, StateOpen},
		{StateQR, StateClose},
		{StateOpen, StateClose},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to ConnectionState }{
		{StateOpen, StateQR},
		{StateOpen, StateConnecting},
		{StateClose, StateOpen},
		{StateClose, StateConnecting},
		{StateClose, StateQR},
		{StateConnecting, StateConnecting},
	}
	for _, tc := range denied {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestStatus(t *testing.T) {
	cases := map[ConnectionState]string{
		StateOpen:       "connected",
		StateQR:         "qr_required",
		StateConnecting: "connecting",
		StateClose:      "disconnected",
	}
	for state, want := range cases {
		if got := state.Status(); got != want {
			t.Errorf("%s: expected %q, got %q", state, want, got)
		}
	}
}

func TestReadyIsEitherSignal(t *testing.T) {
	if (SessionInfo{}).Ready() {
		t.Fatalf("zero session must not be ready")
	}
	if !(SessionInfo{IsLive: true}).Ready() {
		t.Fatalf("live session must be ready")
	}
	if !(SessionInfo{TransportOpen: true}).Ready() {
		t.Fatalf("open transport must be ready")
	}
}

func TestRecordFromInfo(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	connected := now.Add(-time.Hour)
	rec := RecordFromInfo(SessionInfo{
		InstanceName:   "client_1",
		State:          StateClose,
		ConnectedAt:    &connected,
		LastDisconnect: &DisconnectInfo{Status: 428, Reason: "connection closed", Class: ClassBounded, At: now},
	}, now)

	if rec.Status != "disconnected" || rec.IsConnected {
		t.Fatalf("unexpected status %q connected=%v", rec.Status, rec.IsConnected)
	}
	if !rec.ConnectedAt.Valid || !rec.ConnectedAt.Time.Equal(connected) {
		t.Fatalf("expected connectedAt to be carried")
	}
	if !rec.LastDisconnectStatus.Valid || rec.LastDisconnectStatus.Int64 != 428 {
		t.Fatalf("expected disconnect status 428, got %+v", rec.LastDisconnectStatus)
	}
	if rec.PhoneNumber.Valid {
		t.Fatalf("empty phone number must be NULL")
	}
}

func TestUpsertQueryPerDriver(t *testing.T) {
	pg := NewInstanceStore(nil, "postgres").upsertQuery()
	if !strings.Contains(pg, "$11") || !strings.Contains(pg, "ON CONFLICT (instance_name)") {
		t.Fatalf("unexpected postgres query: %s", pg)
	}
	if strings.Contains(pg, "?") {
		t.Fatalf("postgres query must not use ? placeholders: %s", pg)
	}

	my := NewInstanceStore(nil, "mysql").upsertQuery()
	if strings.Count(my, "?") != len(instanceColumns) || !strings.Contains(my, "ON DUPLICATE KEY UPDATE") {
		t.Fatalf("unexpected mysql query: %s", my)
	}
	if strings.Contains(my, "instance_name = VALUES") {
		t.Fatalf("primary key must not be updated: %s", my)
	}
}
