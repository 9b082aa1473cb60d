// Package cache implements the local message store: a persistent, indexed
// cache of decrypted conversation history backed by sqlite, with an
// in-memory write-through mirror for per-conversation sync metadata.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dovelchat/msgcache/internal/cache/models"
	"github.com/dovelchat/msgcache/internal/cache/repositories/convmeta"
	"github.com/dovelchat/msgcache/internal/cache/repositories/messages"
	"github.com/dovelchat/msgcache/internal/common"
	"github.com/dovelchat/msgcache/internal/dbx"
	"github.com/dovelchat/msgcache/internal/logging"
)

// Store owns all cached message records and conversation metadata. Records
// are mutated only through this API.
//
// Metadata reads and writes go through an in-memory mirror kept consistent
// with successful persistent writes (write-through, not write-back): if the
// storage layer is slow or briefly unavailable, metadata reads still answer
// from memory, but messages themselves are never served from anywhere but
// the database.
type Store struct {
	db  *sql.DB
	log logging.Logger

	mirrorMu sync.RWMutex
	mirror   map[string]models.ConversationMeta

	now func() time.Time
}

func NewStore(db *sql.DB, log logging.Logger) *Store {
	return &Store{
		db:     db,
		log:    log,
		mirror: make(map[string]models.ConversationMeta),
		now:    time.Now,
	}
}

// SaveMessages validates and upserts a batch of decrypted messages.
// The batch is atomic: either every record lands or none does, so a crash
// mid-write never leaves partially visible history. Conversation metadata
// is advanced inside the same transaction.
//
// Save failures propagate to the caller; silently losing history is not
// acceptable.
func (s *Store) SaveMessages(ctx context.Context, records []models.Message) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if records[i].ConversationID == "" {
			return fmt.Errorf("message %d missing conversation id: %w", i, common.ErrValidation)
		}
	}

	touched := make(map[string]struct{})
	syncTime := s.now().UTC()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := messages.NewSQLiteRepository(tx)
		for i := range records {
			normalize(&records[i])
			if err := repo.Upsert(ctx, &records[i]); err != nil {
				return err
			}
			touched[records[i].ConversationID] = struct{}{}
		}

		metaRepo := convmeta.NewSQLiteRepository(tx)
		for convID := range touched {
			meta, err := recomputeMeta(ctx, repo, convID, syncTime)
			if err != nil {
				return err
			}
			if err := metaRepo.Upsert(ctx, meta); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save messages: %w: %w", common.ErrStorage, err)
	}

	// transaction committed; bring the mirror up to date
	for convID := range touched {
		if meta, err := convmeta.NewSQLiteRepository(s.db).Get(ctx, convID); err == nil {
			s.mirrorPut(*meta)
		}
	}
	return nil
}

// GetMessages returns up to limit messages of one conversation, newest
// first, optionally paginating backward from before. A miss is an empty
// slice, never an error.
func (s *Store) GetMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	result, err := messages.NewSQLiteRepository(s.db).GetByConversation(ctx, conversationID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w: %w", common.ErrStorage, err)
	}
	return result, nil
}

// UpdateAttachmentHandle records the decrypted handle of exactly one
// attachment of exactly one message. If the message or the attachment no
// longer exists (deleted while the decrypt was in flight), this is a no-op.
// A handle that is already set is never overwritten.
func (s *Store) UpdateAttachmentHandle(ctx context.Context, messageID, attachmentID, handle string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := messages.NewSQLiteRepository(tx)

		m, err := repo.GetByID(ctx, messageID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil // message deleted mid-flight
			}
			return err
		}

		updated := false
		for i := range m.Attachments {
			if m.Attachments[i].ID != attachmentID {
				continue
			}
			if m.Attachments[i].DecryptedHandle == "" {
				m.Attachments[i].DecryptedHandle = handle
				updated = true
			}
			break
		}
		if !updated {
			return nil
		}
		return repo.SetAttachments(ctx, messageID, m.Attachments)
	})
	if err != nil {
		return fmt.Errorf("update attachment handle: %w: %w", common.ErrStorage, err)
	}
	return nil
}

// DeleteMessage removes one message and refreshes its conversation's counts.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := messages.NewSQLiteRepository(tx)

		m, err := repo.GetByID(ctx, messageID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil
			}
			return err
		}
		if err := repo.DeleteByID(ctx, messageID); err != nil {
			return err
		}

		meta, err := recomputeMeta(ctx, repo, m.ConversationID, s.now().UTC())
		if err != nil {
			return err
		}
		return convmeta.NewSQLiteRepository(tx).Upsert(ctx, meta)
	})
	if err != nil {
		return fmt.Errorf("delete message: %w: %w", common.ErrStorage, err)
	}
	return nil
}

// GetConversationMeta returns sync metadata for one conversation, or nil
// when the conversation has never been synced. Storage failures fall back
// to the in-memory mirror.
func (s *Store) GetConversationMeta(ctx context.Context, conversationID string) (*models.ConversationMeta, error) {
	meta, err := convmeta.NewSQLiteRepository(s.db).Get(ctx, conversationID)
	if err == nil {
		s.mirrorPut(*meta)
		return meta, nil
	}
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}

	// storage trouble: answer from the mirror if we can
	s.mirrorMu.RLock()
	cached, ok := s.mirror[conversationID]
	s.mirrorMu.RUnlock()
	if ok {
		s.log.Warn(ctx, "conversation meta served from memory", "conversation", conversationID, "error", err)
		copied := cached
		return &copied, nil
	}
	return nil, fmt.Errorf("get conversation meta: %w: %w", common.ErrStorage, err)
}

// UpdateConversationMeta writes sync metadata through to the store.
// LastSyncTime is monotonic: an update carrying an older timestamp keeps
// the stored one. A persistence failure keeps the mirror updated and is
// absorbed (metadata has a cache-miss fallback; history does not).
func (s *Store) UpdateConversationMeta(ctx context.Context, meta models.ConversationMeta) error {
	if meta.ConversationID == "" {
		return fmt.Errorf("missing conversation id: %w", common.ErrValidation)
	}

	s.mirrorMu.Lock()
	if prev, ok := s.mirror[meta.ConversationID]; ok && meta.LastSyncTime.Before(prev.LastSyncTime) {
		meta.LastSyncTime = prev.LastSyncTime
	}
	s.mirror[meta.ConversationID] = meta
	s.mirrorMu.Unlock()

	if err := convmeta.NewSQLiteRepository(s.db).Upsert(ctx, &meta); err != nil {
		s.log.Warn(ctx, "conversation meta persist failed, kept in memory",
			"conversation", meta.ConversationID, "error", err)
	}
	return nil
}

// ListConversations returns sync metadata for every cached conversation,
// most recently synced first.
func (s *Store) ListConversations(ctx context.Context) ([]models.ConversationMeta, error) {
	result, err := convmeta.NewSQLiteRepository(s.db).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w: %w", common.ErrStorage, err)
	}
	return result, nil
}

// ClearConversation deletes all cached messages and metadata of one
// conversation.
func (s *Store) ClearConversation(ctx context.Context, conversationID string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := messages.NewSQLiteRepository(tx).DeleteByConversation(ctx, conversationID); err != nil {
			return err
		}
		return convmeta.NewSQLiteRepository(tx).Delete(ctx, conversationID)
	})
	if err != nil {
		return fmt.Errorf("clear conversation: %w: %w", common.ErrStorage, err)
	}

	s.mirrorMu.Lock()
	delete(s.mirror, conversationID)
	s.mirrorMu.Unlock()
	return nil
}

// ClearAll wipes the whole cache. Used by the logout flow.
func (s *Store) ClearAll(ctx context.Context) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := messages.NewSQLiteRepository(tx).DeleteAll(ctx); err != nil {
			return err
		}
		return convmeta.NewSQLiteRepository(tx).DeleteAll(ctx)
	})
	if err != nil {
		return fmt.Errorf("clear all: %w: %w", common.ErrStorage, err)
	}

	s.mirrorMu.Lock()
	s.mirror = make(map[string]models.ConversationMeta)
	s.mirrorMu.Unlock()
	return nil
}

func (s *Store) mirrorPut(meta models.ConversationMeta) {
	s.mirrorMu.Lock()
	if prev, ok := s.mirror[meta.ConversationID]; !ok || !meta.LastSyncTime.Before(prev.LastSyncTime) {
		s.mirror[meta.ConversationID] = meta
	}
	s.mirrorMu.Unlock()
}

// normalize fills the optional sub-slices so the repository never stores
// SQL-visible nulls or JSON "null" literals.
// normalize fills the fields a record composed locally may omit. Messages
// that have not been through the server yet get a locally generated id.
func normalize(m *models.Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Attachments == nil {
		m.Attachments = []models.Attachment{}
	}
	if m.Reactions == nil {
		m.Reactions = []models.Reaction{}
	}
	if m.ReadBy == nil {
		m.ReadBy = []models.ReadReceipt{}
	}
	if m.Type == "" {
		m.Type = "text"
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
}

func recomputeMeta(ctx context.Context, repo messages.Repository, conversationID string, syncTime time.Time) (*models.ConversationMeta, error) {
	total, err := repo.CountByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	meta := &models.ConversationMeta{
		ConversationID: conversationID,
		LastSyncTime:   syncTime,
		TotalCached:    total,
	}
	if latest, err := repo.LatestInConversation(ctx, conversationID); err == nil {
		meta.LastMessageID = latest.ID
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	return meta, nil
}
