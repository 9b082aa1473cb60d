package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dovelchat/msgcache/internal/cache/models"
	"github.com/dovelchat/msgcache/internal/common"
	"github.com/dovelchat/msgcache/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, logging.NopLogger{})
}

func msg(id, convID, content string, at time.Time) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       "user-2",
		SenderName:     "Alice",
		Content:        content,
		Type:           "text",
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func TestOpenDatabase_RunsMigrations(t *testing.T) {
	db, err := OpenDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"messages", "conversation_meta"} {
		var name string
		err = db.QueryRow(`select name from sqlite_master where type='table' and name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}
}

func TestSaveMessages_UpsertsAndAdvancesMeta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	batch := []models.Message{
		msg("m1", "conv-1", "hi", base),
		msg("m2", "conv-1", "there", base.Add(time.Minute)),
	}
	require.NoError(t, s.SaveMessages(ctx, batch))

	got, err := s.GetMessages(ctx, "conv-1", 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ID, "newest first")

	meta, err := s.GetConversationMeta(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int64(2), meta.TotalCached)
	assert.Equal(t, "m2", meta.LastMessageID)
	assert.False(t, meta.LastSyncTime.IsZero())
}

func TestSaveMessages_IdempotentUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveMessages(ctx, []models.Message{msg("m1", "conv-1", "hi", base)}))
	// resync delivers the same message again, edited
	edited := msg("m1", "conv-1", "hi (edited)", base)
	edited.IsEdited = true
	require.NoError(t, s.SaveMessages(ctx, []models.Message{edited}))

	got, err := s.GetMessages(ctx, "conv-1", 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1, "resync must not duplicate")
	assert.Equal(t, "hi (edited)", got[0].Content)

	meta, err := s.GetConversationMeta(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), meta.TotalCached)
}

func TestSaveMessages_ValidationFailsWholeBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []models.Message{
		msg("m1", "conv-1", "ok", now),
		{ID: "m2", ConversationID: "", Content: "bad"},
	}
	err := s.SaveMessages(ctx, batch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))

	got, err := s.GetMessages(ctx, "conv-1", 10, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got, "all-or-nothing: valid records of a bad batch must not land")
}

func TestSaveMessages_GeneratesIDForLocalRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := msg("", "conv-1", "composed offline", time.Now().UTC())
	require.NoError(t, s.SaveMessages(ctx, []models.Message{m}))

	got, err := s.GetMessages(ctx, "conv-1", 1, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
}

func TestSaveMessages_NormalizesNilSubSlices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := msg("m1", "conv-1", "hi", time.Now().UTC())
	m.Attachments = nil
	m.Reactions = nil
	m.ReadBy = nil
	require.NoError(t, s.SaveMessages(ctx, []models.Message{m}))

	got, err := s.GetMessages(ctx, "conv-1", 1, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotNil(t, got[0].Attachments)
	assert.NotNil(t, got[0].Reactions)
	assert.NotNil(t, got[0].ReadBy)
}

func TestGetMessages_EmptyOnUnknownConversation(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetMessages(context.Background(), "nope", 10, time.Time{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestUpdateAttachmentHandle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := msg("m1", "conv-1", "", time.Now().UTC())
	m.Type = "image"
	m.Attachments = []models.Attachment{
		{ID: "a1", RemoteRef: "f1", MimeType: "image/png"},
		{ID: "a2", RemoteRef: "f2", MimeType: "image/png"},
	}
	require.NoError(t, s.SaveMessages(ctx, []models.Message{m}))

	require.NoError(t, s.UpdateAttachmentHandle(ctx, "m1", "a2", "/cache/a2.png"))

	got, err := s.GetMessages(ctx, "conv-1", 1, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Attachments[0].DecryptedHandle, "only the addressed attachment changes")
	assert.Equal(t, "/cache/a2.png", got[0].Attachments[1].DecryptedHandle)
}

func TestUpdateAttachmentHandle_NoopCases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := msg("m1", "conv-1", "", time.Now().UTC())
	m.Attachments = []models.Attachment{{ID: "a1", RemoteRef: "f1", DecryptedHandle: "/cache/original"}}
	require.NoError(t, s.SaveMessages(ctx, []models.Message{m}))

	// message gone
	require.NoError(t, s.UpdateAttachmentHandle(ctx, "deleted-message", "a1", "/x"))
	// attachment gone
	require.NoError(t, s.UpdateAttachmentHandle(ctx, "m1", "no-such-attachment", "/x"))
	// handle already set: immutable
	require.NoError(t, s.UpdateAttachmentHandle(ctx, "m1", "a1", "/cache/other"))

	got, err := s.GetMessages(ctx, "conv-1", 1, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "/cache/original", got[0].Attachments[0].DecryptedHandle)
}

func TestUpdateConversationMeta_Monotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fresh := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpdateConversationMeta(ctx, models.ConversationMeta{
		ConversationID: "conv-1", LastSyncTime: fresh, TotalCached: 5, LastMessageID: "m5",
	}))
	require.NoError(t, s.UpdateConversationMeta(ctx, models.ConversationMeta{
		ConversationID: "conv-1", LastSyncTime: fresh.Add(-time.Hour), TotalCached: 6, LastMessageID: "m6",
	}))

	meta, err := s.GetConversationMeta(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.True(t, meta.LastSyncTime.Equal(fresh), "stale sync must not roll lastSyncTime back")
	assert.Equal(t, int64(6), meta.TotalCached)
}

func TestGetConversationMeta_NilOnMiss(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.GetConversationMeta(context.Background(), "never-synced")
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestGetConversationMeta_MirrorSurvivesStorageFailure(t *testing.T) {
	db, err := OpenDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	s := NewStore(db, logging.NopLogger{})
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpdateConversationMeta(ctx, models.ConversationMeta{
		ConversationID: "conv-1", LastSyncTime: now, TotalCached: 3, LastMessageID: "m3",
	}))

	// simulate the persistence layer going away
	require.NoError(t, db.Close())

	meta, err := s.GetConversationMeta(ctx, "conv-1")
	require.NoError(t, err, "mirror must mask storage-layer unavailability")
	require.NotNil(t, meta)
	assert.Equal(t, int64(3), meta.TotalCached)
}

func TestDeleteMessage_RefreshesMeta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveMessages(ctx, []models.Message{
		msg("m1", "conv-1", "a", base),
		msg("m2", "conv-1", "b", base.Add(time.Minute)),
	}))

	require.NoError(t, s.DeleteMessage(ctx, "m2"))

	meta, err := s.GetConversationMeta(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), meta.TotalCached)
	assert.Equal(t, "m1", meta.LastMessageID)

	// deleting a missing message is a no-op
	require.NoError(t, s.DeleteMessage(ctx, "m2"))
}

func TestClearConversationAndClearAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveMessages(ctx, []models.Message{
		msg("m1", "conv-1", "a", now),
		msg("m2", "conv-2", "b", now),
	}))

	require.NoError(t, s.ClearConversation(ctx, "conv-1"))
	got, err := s.GetMessages(ctx, "conv-1", 10, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
	meta, err := s.GetConversationMeta(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, meta)

	// conv-2 untouched
	got, err = s.GetMessages(ctx, "conv-2", 10, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, s.ClearAll(ctx))
	got, err = s.GetMessages(ctx, "conv-2", 10, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)

	convs, err := s.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestListConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpdateConversationMeta(ctx, models.ConversationMeta{ConversationID: "old", LastSyncTime: base}))
	require.NoError(t, s.UpdateConversationMeta(ctx, models.ConversationMeta{ConversationID: "new", LastSyncTime: base.Add(time.Hour)}))

	got, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ConversationID)
}

func TestSaveMessages_CrossConversationBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveMessages(ctx, []models.Message{
		msg("m1", "conv-1", "a", now),
		msg("m2", "conv-2", "b", now),
	}))

	m1, err := s.GetConversationMeta(ctx, "conv-1")
	require.NoError(t, err)
	m2, err := s.GetConversationMeta(ctx, "conv-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m1.TotalCached)
	assert.Equal(t, int64(1), m2.TotalCached)
}
