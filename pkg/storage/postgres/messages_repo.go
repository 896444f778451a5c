package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/wabridge/wabridge/pkg/storage/repository"
)

type messageRepository struct {
	db dbExecutor
}

// dbExecutor is an interface that works with both *sql.DB and *sql.Tx
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// NewMessageRepository creates a new PostgreSQL message log repository.
func NewMessageRepository(db dbExecutor) repository.MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Append(ctx context.Context, rec *repository.MessageRecord) error {
	query := `INSERT INTO messages (id, chat_jid, message_id, push_name, kind, body, is_group, received_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.ChatJID,
		rec.MessageID,
		rec.PushName,
		rec.Kind,
		rec.Body,
		rec.IsGroup,
		rec.ReceivedAt,
	)
	return err
}

func (r *messageRepository) List(ctx context.Context, opts repository.ListOptions) ([]repository.MessageRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, chat_jid, message_id, push_name, kind, body, is_group, received_at
	          FROM messages
	          WHERE ($1 = '' OR chat_jid = $1)
	            AND ($2 = '' OR kind = $2)
	          ORDER BY received_at DESC
	          LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, opts.Chat, opts.Kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []repository.MessageRecord
	for rows.Next() {
		var rec repository.MessageRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.ChatJID,
			&rec.MessageID,
			&rec.PushName,
			&rec.Kind,
			&rec.Body,
			&rec.IsGroup,
			&rec.ReceivedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *messageRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE received_at >= $1`, since,
	).Scan(&count)
	return count, err
}

func (r *messageRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM messages WHERE received_at < $1`, cutoff,
	)
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}
