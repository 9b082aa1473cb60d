package convmeta

import (
	"context"

	"github.com/dovelchat/msgcache/internal/cache/models"
)

// Repository is the persistence interface for per-conversation sync metadata.
type Repository interface {
	Get(ctx context.Context, conversationID string) (*models.ConversationMeta, error)
	Upsert(ctx context.Context, meta *models.ConversationMeta) error
	Delete(ctx context.Context, conversationID string) error
	DeleteAll(ctx context.Context) error
	List(ctx context.Context) ([]models.ConversationMeta, error)
}
