package notifications

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dovelchat/msgcache/internal/common"
	"github.com/dovelchat/msgcache/internal/cryptox"
	"github.com/dovelchat/msgcache/internal/logging"
	"github.com/dovelchat/msgcache/internal/metrics"
)

var senderKey = []byte("notification sender key")

type fakeKeys struct {
	key  []byte
	fail error
}

func (f *fakeKeys) Get(ctx context.Context, peerID string, forceRefresh bool) ([]byte, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return f.key, nil
}

type fakePresenter struct {
	mu        sync.Mutex
	presented []Notification
	dismissed []string
	failOn    string // "present" forces Present to fail
}

func (f *fakePresenter) Present(ctx context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "present" {
		return errors.New("platform refused")
	}
	f.presented = append(f.presented, n)
	return nil
}

func (f *fakePresenter) Dismiss(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = append(f.dismissed, id)
	return nil
}

func encryptedPayload(t *testing.T, plaintext string) Payload {
	t.Helper()
	p, err := cryptox.Encrypt(senderKey, []byte(plaintext))
	require.NoError(t, err)
	return Payload{
		Type:             "message",
		ConversationID:   "c1",
		MessageID:        "m1",
		SenderID:         "user-2",
		SenderName:       "Alice",
		MessageType:      "text",
		EncryptedContent: base64.StdEncoding.EncodeToString(p.Ciphertext),
		Metadata: PayloadCrypto{
			IV:      base64.StdEncoding.EncodeToString(p.IV),
			AuthTag: base64.StdEncoding.EncodeToString(p.AuthTag),
		},
	}
}

func newPipeline(keys *fakeKeys, pres *fakePresenter, previewLen int) *Pipeline {
	return NewPipeline(keys, pres, previewLen, logging.NopLogger{}, metrics.NewUnregistered())
}

func TestNeedsDecryption(t *testing.T) {
	pl := newPipeline(&fakeKeys{key: senderKey}, &fakePresenter{}, 0)

	tests := []struct {
		name   string
		mutate func(*Payload)
		want   bool
	}{
		{"text message with content", func(p *Payload) {}, true},
		{"already decrypted", func(p *Payload) { p.Decrypted = true }, false},
		{"non-message type", func(p *Payload) { p.Type = "call" }, false},
		{"image message", func(p *Payload) { p.MessageType = "image" }, false},
		{"empty content", func(p *Payload) { p.EncryptedContent = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := encryptedPayload(t, "hi")
			tt.mutate(&p)
			assert.Equal(t, tt.want, pl.NeedsDecryption(p))
		})
	}
}

func TestDecryptAndPresent_Success(t *testing.T) {
	pres := &fakePresenter{}
	pl := newPipeline(&fakeKeys{key: senderKey}, pres, 0)

	p := encryptedPayload(t, "hello from alice")
	require.NoError(t, pl.DecryptAndPresent(context.Background(), p, "orig-1"))

	require.Len(t, pres.presented, 1)
	n := pres.presented[0]
	assert.Equal(t, "Alice", n.Title)
	assert.Equal(t, "hello from alice", n.Body)
	assert.Equal(t, "c1", n.ConversationID)
	assert.True(t, n.Decrypted)
	assert.Equal(t, []string{"orig-1"}, pres.dismissed)
}

func TestDecryptAndPresent_SecondPassIsNoOp(t *testing.T) {
	pres := &fakePresenter{}
	pl := newPipeline(&fakeKeys{key: senderKey}, pres, 0)

	p := encryptedPayload(t, "hello")
	require.True(t, pl.NeedsDecryption(p))
	require.NoError(t, pl.DecryptAndPresent(context.Background(), p, "orig-1"))

	// the replacement carries decrypted=true; a second pass does nothing
	p.Decrypted = true
	assert.False(t, pl.NeedsDecryption(p))
	require.NoError(t, pl.DecryptAndPresent(context.Background(), p, "orig-1"))
	assert.Len(t, pres.presented, 1)
}

func TestDecryptAndPresent_WrongKeyFailsOpen(t *testing.T) {
	pres := &fakePresenter{}
	pl := newPipeline(&fakeKeys{key: []byte("some other key")}, pres, 0)

	p := encryptedPayload(t, "hello")
	err := pl.DecryptAndPresent(context.Background(), p, "orig-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNotificationDecrypt))

	// the original notification stays: nothing presented, nothing dismissed
	assert.Empty(t, pres.presented)
	assert.Empty(t, pres.dismissed)
}

func TestDecryptAndPresent_KeyFetchFailureFailsOpen(t *testing.T) {
	pres := &fakePresenter{}
	pl := newPipeline(&fakeKeys{fail: common.ErrKeyFetch}, pres, 0)

	err := pl.DecryptAndPresent(context.Background(), encryptedPayload(t, "hello"), "orig-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNotificationDecrypt))
	assert.Empty(t, pres.dismissed)
}

func TestDecryptAndPresent_MalformedMetadataFailsOpen(t *testing.T) {
	pres := &fakePresenter{}
	pl := newPipeline(&fakeKeys{key: senderKey}, pres, 0)

	p := encryptedPayload(t, "hello")
	p.Metadata.IV = "%%% not base64 %%%"
	err := pl.DecryptAndPresent(context.Background(), p, "orig-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNotificationDecrypt))
	assert.Empty(t, pres.presented)
}

func TestDecryptAndPresent_PreviewTruncated(t *testing.T) {
	pres := &fakePresenter{}
	pl := newPipeline(&fakeKeys{key: senderKey}, pres, 10)

	p := encryptedPayload(t, "a very long message body that exceeds the preview")
	require.NoError(t, pl.DecryptAndPresent(context.Background(), p, ""))

	require.Len(t, pres.presented, 1)
	assert.Equal(t, "a very lon...", pres.presented[0].Body)
}

func TestDecryptAndPresent_NoOriginalToDismiss(t *testing.T) {
	pres := &fakePresenter{}
	pl := newPipeline(&fakeKeys{key: senderKey}, pres, 0)

	require.NoError(t, pl.DecryptAndPresent(context.Background(), encryptedPayload(t, "hi"), ""))
	assert.Len(t, pres.presented, 1)
	assert.Empty(t, pres.dismissed)
}

func TestParsePayload(t *testing.T) {
	raw := `{
		"type": "message",
		"conversationId": "c1",
		"messageId": "m1",
		"senderId": "u2",
		"senderName": "Alice",
		"messageType": "text",
		"encryptedContent": "YWJj",
		"encryptionMetadata": {"iv": "aXY=", "authTag": "dGFn"}
	}`
	p, err := ParsePayload([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "message", p.Type)
	assert.Equal(t, "Alice", p.SenderName)
	assert.Equal(t, "aXY=", p.Metadata.IV)
	assert.False(t, p.Decrypted)

	_, err = ParsePayload([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "parse push payload"))
}
