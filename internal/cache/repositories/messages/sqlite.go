package messages

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dovelchat/msgcache/internal/cache/models"
	"github.com/dovelchat/msgcache/internal/common"
	"github.com/dovelchat/msgcache/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const messageColumns = `id, conversation_id, sender_id, sender_name, content, type,
	attachments, reactions, read_by, is_edited, created_at, updated_at`

// Upsert inserts or replaces a message by id. On conflict every mutable
// column is updated, so a resync with edited content wins.
func (r *SQLiteRepository) Upsert(ctx context.Context, m *models.Message) error {
	attachments, err := encodeJSON(m.Attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	reactions, err := encodeJSON(m.Reactions)
	if err != nil {
		return fmt.Errorf("encode reactions: %w", err)
	}
	readBy, err := encodeJSON(m.ReadBy)
	if err != nil {
		return fmt.Errorf("encode read_by: %w", err)
	}

	query := ` INSERT INTO messages (` + messageColumns + `)
			values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET sender_name = excluded.sender_name,
				content = excluded.content,
				type = excluded.type,
				attachments = excluded.attachments,
				reactions = excluded.reactions,
				read_by = excluded.read_by,
				is_edited = excluded.is_edited,
				updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		m.ID, m.ConversationID, m.SenderID, m.SenderName, m.Content, m.Type,
		attachments, reactions, readBy, boolToInt(m.IsEdited),
		m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// GetByID returns one message or common.ErrNotFound.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	query := `select ` + messageColumns + ` from messages where id=?`
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return m, nil
}

// GetByConversation lists messages newest first, bounded by limit. A zero
// before means "from the latest"; otherwise only messages strictly older
// than before are returned (backward pagination).
func (r *SQLiteRepository) GetByConversation(ctx context.Context, conversationID string, limit int, before time.Time) ([]models.Message, error) {
	query := `select ` + messageColumns + ` from messages where conversation_id=?`
	args := []any{conversationID}
	if !before.IsZero() {
		query += ` and created_at < ?`
		args = append(args, before.UnixMilli())
	}
	query += ` order by created_at desc limit ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select messages: %w", err)
	}
	defer rows.Close()

	result := make([]models.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SetAttachments replaces the attachments column of one message.
// Updating a missing message is a no-op, not an error: the message may have
// been deleted while a decrypt was in flight.
func (r *SQLiteRepository) SetAttachments(ctx context.Context, messageID string, attachments []models.Attachment) error {
	encoded, err := encodeJSON(attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`update messages set attachments=? where id=?`, encoded, messageID)
	if err != nil {
		return fmt.Errorf("failed to update attachments: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `delete from messages where id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByConversation(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx, `delete from messages where conversation_id=?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation messages: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `delete from messages`)
	if err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CountByConversation(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`select count(*) from messages where conversation_id=?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// LatestInConversation returns the newest message of a conversation or
// common.ErrNotFound when the conversation has no cached messages.
func (r *SQLiteRepository) LatestInConversation(ctx context.Context, conversationID string) (*models.Message, error) {
	query := `select ` + messageColumns + ` from messages
		where conversation_id=? order by created_at desc limit 1`
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query latest message: %w", err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var attachments, reactions, rby []byte
	var isEdited int
	var createdAt, updatedAt int64
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName,
		&m.Content, &m.Type, &attachments, &reactions, &rby,
		&isEdited, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	m.Attachments = models.DecodeAttachments(attachments)
	m.Reactions = models.DecodeReactions(reactions)
	m.ReadBy = models.DecodeReadBy(rby)
	m.IsEdited = isEdited != 0
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	m.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &m, nil
}

func encodeJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
