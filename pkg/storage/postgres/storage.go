package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/wabridge/wabridge/pkg/storage/repository"
)

// PostgresStorage implements the storage.Storage interface for PostgreSQL.
type PostgresStorage struct {
	db       *sql.DB
	messages repository.MessageRepository
}

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(databaseURL string, sslEnabled bool, maxIdleConns, maxOpenConns int, maxLifetime time.Duration) (*PostgresStorage, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required for PostgreSQL storage")
	}

	// Add or modify sslmode in the connection string
	if !strings.Contains(databaseURL, "sslmode=") {
		sep := "?"
		if strings.Contains(databaseURL, "?") {
			sep = "&"
		}

		if sslEnabled {
			databaseURL = databaseURL + sep + "sslmode=require"
		} else {
			databaseURL = databaseURL + sep + "sslmode=disable"
		}
	}
	// If sslmode is already in the URL, respect the existing value

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	// Configure connection pool
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxLifetime > 0 {
		db.SetConnMaxLifetime(maxLifetime)
	}

	return &PostgresStorage{
		db:       db,
		messages: NewMessageRepository(db),
	}, nil
}

// Connect establishes the connection and runs migrations.
func (s *PostgresStorage) Connect(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *PostgresStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Messages returns the message log repository.
func (s *PostgresStorage) Messages() repository.MessageRepository {
	return s.messages
}

// Ping checks if the database connection is alive.
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
