package service

import (
	"context"
	"time"

	"gowa-gateway/internal/model"
)

// StatusRecorder mirrors session status somewhere durable.
type StatusRecorder interface {
	Record(ctx context.Context, info model.SessionInfo) error
	Forget(ctx context.Context, name string) error
}

// StoreRecorder mirrors status into the instances table.
type StoreRecorder struct {
	store *model.InstanceStore
	now   func() time.Time
}

func NewStoreRecorder(store *model.InstanceStore) *StoreRecorder {
	return &StoreRecorder{store: store, now: time.Now}
}

func (r *StoreRecorder) Record(ctx context.Context, info model.SessionInfo) error {
	return r.store.Upsert(ctx, model.RecordFromInfo(info, r.now().UTC()))
}

func (r *StoreRecorder) Forget(ctx context.Context, name string) error {
	return r.store.Remove(ctx, name)
}

const recordTimeout = 5 * time.Second

func (m *Manager) record(info model.SessionInfo) {
	if m.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := m.recorder.Record(ctx, info); err != nil {
		m.log.Warn().Err(err).Str("instance", info.InstanceName).Msg("failed to mirror instance status")
	}
}

func (m *Manager) forget(name string) {
	if m.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := m.recorder.Forget(ctx, name); err != nil {
		m.log.Warn().Err(err).Str("instance", name).Msg("failed to remove mirrored instance")
	}
}
