package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wabridge/wabridge/pkg/storage/repository"
)

const (
	messagesFile = "messages.json"

	// maxRecords bounds the on-disk log; the oldest records are dropped
	// once the cap is exceeded.
	maxRecords = 5000

	defaultListLimit = 50
)

type messageRepository struct {
	mu      sync.Mutex
	path    string
	records []repository.MessageRecord
}

func newMessageRepository(dataPath string) *messageRepository {
	return &messageRepository{
		path: filepath.Join(dataPath, messagesFile),
	}
}

// load reads the existing log from disk. A missing file is an empty log.
func (r *messageRepository) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.records = nil
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &r.records)
}

// flush writes the log atomically via a temporary file rename.
func (r *messageRepository) flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persistLocked()
}

func (r *messageRepository) persistLocked() error {
	data, err := json.MarshalIndent(r.records, "", "  ")
	if err != nil {
		return err
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

func (r *messageRepository) Append(ctx context.Context, rec *repository.MessageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, *rec)
	if len(r.records) > maxRecords {
		r.records = r.records[len(r.records)-maxRecords:]
	}
	return r.persistLocked()
}

func (r *messageRepository) List(ctx context.Context, opts repository.ListOptions) ([]repository.MessageRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]repository.MessageRecord, 0, limit)
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := r.records[i]
		if opts.Chat != "" && rec.ChatJID != opts.Chat {
			continue
		}
		if opts.Kind != "" && rec.Kind != opts.Kind {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *messageRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].ReceivedAt.Before(since) {
			break
		}
		count++
	}
	return count, nil
}

func (r *messageRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.records[:0]
	pruned := 0
	for _, rec := range r.records {
		if rec.ReceivedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept

	if pruned == 0 {
		return 0, nil
	}
	return pruned, r.persistLocked()
}
