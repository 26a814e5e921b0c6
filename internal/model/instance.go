// internal/model/instance.go
package model

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InstanceRecord is the row mirrored into the instances table.
type InstanceRecord struct {
	InstanceName         string
	Status               string
	IsConnected          bool
	PhoneNumber          sql.NullString
	ProfileName          sql.NullString
	ReconnectAttempts    int
	LastDisconnectStatus sql.NullInt64
	LastDisconnectReason sql.NullString
	ConnectedAt          sql.NullTime
	DisconnectedAt       sql.NullTime
	UpdatedAt            time.Time
}

// RecordFromInfo builds the mirror row for a session snapshot.
func RecordFromInfo(info SessionInfo, now time.Time) InstanceRecord {
	rec := InstanceRecord{
		InstanceName:      info.InstanceName,
		Status:            info.State.Status(),
		IsConnected:       info.IsLive,
		PhoneNumber:       sql.NullString{String: info.PhoneNumber, Valid: info.PhoneNumber != ""},
		ProfileName:       sql.NullString{String: info.ProfileName, Valid: info.ProfileName != ""},
		ReconnectAttempts: info.ReconnectAttempts,
		UpdatedAt:         now,
	}
	if info.ConnectedAt != nil {
		rec.ConnectedAt = sql.NullTime{Time: *info.ConnectedAt, Valid: true}
	}
	if d := info.LastDisconnect; d != nil {
		rec.LastDisconnectStatus = sql.NullInt64{Int64: int64(d.Status), Valid: true}
		rec.LastDisconnectReason = sql.NullString{String: d.Reason, Valid: d.Reason != ""}
		rec.DisconnectedAt = sql.NullTime{Time: d.At, Valid: true}
	}
	return rec
}

// InstanceStore mirrors instance status into a relational table.
// driver is "postgres" or "mysql".
type InstanceStore struct {
	db     *sql.DB
	driver string
}

func NewInstanceStore(db *sql.DB, driver string) *InstanceStore {
	return &InstanceStore{db: db, driver: driver}
}

var instanceColumns = []string{
	"instance_name", "status", "is_connected", "phone_number", "profile_name",
	"reconnect_attempts", "last_disconnect_status", "last_disconnect_reason",
	"connected_at", "disconnected_at", "updated_at",
}

func (s *InstanceStore) placeholder(i int) string {
	if s.driver == "mysql" {
		return "?"
	}
	return fmt.Sprintf("$%d", i)
}

func (s *InstanceStore) upsertQuery() string {
	ph := make([]string, len(instanceColumns))
	for i := range instanceColumns {
		ph[i] = s.placeholder(i + 1)
	}

	var sets []string
	for _, col := range instanceColumns[1:] {
		if s.driver == "mysql" {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", col, col))
		} else {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	q := fmt.Sprintf("INSERT INTO instances (%s) VALUES (%s)",
		strings.Join(instanceColumns, ", "), strings.Join(ph, ", "))
	if s.driver == "mysql" {
		return q + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return q + " ON CONFLICT (instance_name) DO UPDATE SET " + strings.Join(sets, ", ")
}

// Upsert writes the current status of one instance.
func (s *InstanceStore) Upsert(ctx context.Context, r InstanceRecord) error {
	_, err := s.db.ExecContext(ctx, s.upsertQuery(),
		r.InstanceName, r.Status, r.IsConnected, r.PhoneNumber, r.ProfileName,
		r.ReconnectAttempts, r.LastDisconnectStatus, r.LastDisconnectReason,
		r.ConnectedAt, r.DisconnectedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert instance %s: %w", r.InstanceName, err)
	}
	return nil
}

// Remove deletes the row of one instance. Missing rows are not an error.
func (s *InstanceStore) Remove(ctx context.Context, name string) error {
	q := "DELETE FROM instances WHERE instance_name = " + s.placeholder(1)
	if _, err := s.db.ExecContext(ctx, q, name); err != nil {
		return fmt.Errorf("remove instance %s: %w", name, err)
	}
	return nil
}
