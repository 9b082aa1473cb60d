package convmeta

import (
	"context"
	"database/sql"
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

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get returns the meta row for one conversation or common.ErrNotFound.
func (r *SQLiteRepository) Get(ctx context.Context, conversationID string) (*models.ConversationMeta, error) {
	row := r.db.QueryRowContext(ctx,
		`select conversation_id, last_sync_time, total_cached, last_message_id
		 from conversation_meta where conversation_id=?`, conversationID)

	var m models.ConversationMeta
	var lastSync int64
	if err := row.Scan(&m.ConversationID, &lastSync, &m.TotalCached, &m.LastMessageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation meta: %w", err)
	}
	m.LastSyncTime = time.UnixMilli(lastSync).UTC()
	return &m, nil
}

// Upsert writes the meta row. last_sync_time is clamped in SQL so it only
// ever moves forward, even if a stale sync lands after a fresh one.
func (r *SQLiteRepository) Upsert(ctx context.Context, meta *models.ConversationMeta) error {
	query := ` INSERT INTO conversation_meta (conversation_id, last_sync_time, total_cached, last_message_id)
			values (?, ?, ?, ?)
			ON CONFLICT(conversation_id) DO UPDATE SET
				last_sync_time = MAX(conversation_meta.last_sync_time, excluded.last_sync_time),
				total_cached = excluded.total_cached,
				last_message_id = excluded.last_message_id
	`
	_, err := r.db.ExecContext(ctx, query,
		meta.ConversationID, meta.LastSyncTime.UnixMilli(), meta.TotalCached, meta.LastMessageID)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation meta: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx,
		`delete from conversation_meta where conversation_id=?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation meta: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `delete from conversation_meta`)
	if err != nil {
		return fmt.Errorf("failed to clear conversation meta: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.ConversationMeta, error) {
	rows, err := r.db.QueryContext(ctx,
		`select conversation_id, last_sync_time, total_cached, last_message_id
		 from conversation_meta order by last_sync_time desc`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation meta: %w", err)
	}
	defer rows.Close()

	var result []models.ConversationMeta
	for rows.Next() {
		var m models.ConversationMeta
		var lastSync int64
		if err := rows.Scan(&m.ConversationID, &lastSync, &m.TotalCached, &m.LastMessageID); err != nil {
			return nil, err
		}
		m.LastSyncTime = time.UnixMilli(lastSync).UTC()
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
