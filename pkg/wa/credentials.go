package wa

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"

	"github.com/wabridge/wabridge/pkg/logger"
)

// CredentialSource persists and destroys session credential material for one
// named bot identity.
type CredentialSource interface {
	Load(ctx context.Context) (*store.Device, error)
	Wipe(ctx context.Context, device *store.Device) error
	Close() error
}

// CredentialStore keeps credentials in a per-session SQLite database managed
// by the whatsmeow sqlstore container. Credential rotation is persisted by
// the container itself on every update pushed by the transport.
type CredentialStore struct {
	sessionName string
	dbPath      string
	db          *sql.DB
	container   *sqlstore.Container
}

func NewCredentialStore(dir, sessionName string) (*CredentialStore, error) {
	if sessionName == "" {
		return nil, fmt.Errorf("session name is required")
	}

	dbPath := filepath.Join(dir, sessionName+".db")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}

	dbLog := waLog.Stdout("wabridge-db", "WARN", true)
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}
	// Serialize all database access through a single connection to prevent SQLITE_BUSY
	db.SetMaxOpenConns(1)

	return &CredentialStore{
		sessionName: sessionName,
		dbPath:      dbPath,
		db:          db,
		container:   sqlstore.NewWithDB(db, "sqlite", dbLog),
	}, nil
}

// Load upgrades the schema if needed and returns the device record for this
// session, creating a blank one on first use.
func (cs *CredentialStore) Load(ctx context.Context) (*store.Device, error) {
	if err := cs.container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("failed to upgrade credential database: %w", err)
	}

	device, err := cs.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load device for session %q: %w", cs.sessionName, err)
	}
	return device, nil
}

// Wipe destroys the stored credential material for the given device. The
// next Load starts a fresh, unauthenticated session.
func (cs *CredentialStore) Wipe(ctx context.Context, device *store.Device) error {
	if device == nil {
		return nil
	}

	logger.WarnCF("wa", "Wiping session credentials", map[string]interface{}{
		"session": cs.sessionName,
	})
	if err := device.Delete(ctx); err != nil {
		return fmt.Errorf("failed to wipe credentials for session %q: %w", cs.sessionName, err)
	}
	return nil
}

func (cs *CredentialStore) Close() error {
	return cs.db.Close()
}
