package file

import (
	"context"
	"fmt"
	"os"

	"github.com/wabridge/wabridge/pkg/storage/repository"
)

// FileStorage implements the storage.Storage interface using a JSON file
// under the configured data directory. Suited to single-instance
// deployments; use the postgres backend when the log must survive the host.
type FileStorage struct {
	dataPath string
	messages *messageRepository
}

// NewFileStorage creates a new file-based storage instance.
func NewFileStorage(dataPath string) (*FileStorage, error) {
	if dataPath == "" {
		return nil, fmt.Errorf("data path is required for file-based storage")
	}

	return &FileStorage{
		dataPath: dataPath,
		messages: newMessageRepository(dataPath),
	}, nil
}

// Connect ensures the data directory exists and loads the existing log.
func (fs *FileStorage) Connect(ctx context.Context) error {
	if err := os.MkdirAll(fs.dataPath, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return fs.messages.load()
}

// Close flushes the log to disk.
func (fs *FileStorage) Close() error {
	return fs.messages.flush()
}

// Messages returns the message log repository.
func (fs *FileStorage) Messages() repository.MessageRepository {
	return fs.messages
}

// Ping checks that the data directory is still accessible.
func (fs *FileStorage) Ping(ctx context.Context) error {
	if _, err := os.Stat(fs.dataPath); err != nil {
		return fmt.Errorf("data directory unavailable: %w", err)
	}
	return nil
}
