// Package whatsapp implements the protocol collaborators on top of whatsmeow.
package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"

	"gowa-gateway/internal/protocol"
)

// StoreFile is the sqlite database holding one instance's device keys.
const StoreFile = "session.db"

// AuthStore opens one whatsmeow sqlstore container per instance directory.
type AuthStore struct {
	log zerolog.Logger
}

func NewAuthStore(log zerolog.Logger) *AuthStore {
	return &AuthStore{log: log.With().Str("component", "authstore").Logger()}
}

func storeDSN(dir string) string {
	return "file:" + filepath.Join(dir, StoreFile) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Load opens (or creates) the credential store kept in dir. A directory with
// no paired device yields a fresh, unpaired device.
func (s *AuthStore) Load(ctx context.Context, dir string) (protocol.AuthState, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	name := filepath.Base(dir)
	container, err := sqlstore.New(ctx, "sqlite", storeDSN(dir), waLog.Zerolog(s.log.With().Str("instance", name).Logger()))
	if err != nil {
		return nil, fmt.Errorf("open auth store %s: %w", name, err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("load device %s: %w", name, err)
	}

	return &authState{name: name, container: container, device: device}, nil
}

type authState struct {
	name      string
	container *sqlstore.Container
	device    *store.Device
}

func (a *authState) Persist(ctx context.Context) error {
	if a.device.ID == nil {
		// nothing to save before pairing
		return nil
	}
	return a.device.Save(ctx)
}

func (a *authState) Paired() bool {
	return a.device.ID != nil
}

func (a *authState) Close() error {
	return a.container.Close()
}
