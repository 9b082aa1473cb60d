package messages

import (
	"context"
	"time"

	"github.com/dovelchat/msgcache/internal/cache/models"
)

// Repository is the persistence interface for cached messages.
type Repository interface {
	Upsert(ctx context.Context, m *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	GetByConversation(ctx context.Context, conversationID string, limit int, before time.Time) ([]models.Message, error)
	SetAttachments(ctx context.Context, messageID string, attachments []models.Attachment) error
	DeleteByID(ctx context.Context, id string) error
	DeleteByConversation(ctx context.Context, conversationID string) error
	DeleteAll(ctx context.Context) error
	CountByConversation(ctx context.Context, conversationID string) (int64, error)
	LatestInConversation(ctx context.Context, conversationID string) (*models.Message, error)
}
