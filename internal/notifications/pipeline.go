// Package notifications decrypts incoming push payloads so the user sees
// message previews instead of ciphertext. Decryption happens independently
// of the rest of the app: a push may arrive before any conversation has
// synced, so the pipeline talks to the key cache directly.
package notifications

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/dovelchat/msgcache/internal/common"
	"github.com/dovelchat/msgcache/internal/cryptox"
	"github.com/dovelchat/msgcache/internal/logging"
	"github.com/dovelchat/msgcache/internal/metrics"
)

// DefaultPreviewLength bounds the plaintext preview shown in a notification.
const DefaultPreviewLength = 120

// Payload is the push notification body as delivered by the transport.
type Payload struct {
	Type             string        `json:"type"`
	ConversationID   string        `json:"conversationId"`
	MessageID        string        `json:"messageId"`
	SenderID         string        `json:"senderId"`
	SenderName       string        `json:"senderName"`
	MessageType      string        `json:"messageType"`
	EncryptedContent string        `json:"encryptedContent"`
	Metadata         PayloadCrypto `json:"encryptionMetadata"`
	Decrypted        bool          `json:"decrypted,omitempty"`
}

// PayloadCrypto carries the base64 iv and auth tag for the encrypted content.
type PayloadCrypto struct {
	IV      string `json:"iv"`
	AuthTag string `json:"authTag"`
}

// Notification is the user-visible replacement emitted after decryption.
type Notification struct {
	ID             string
	Title          string
	Body           string
	ConversationID string
	MessageID      string
	Decrypted      bool
}

// Presenter shows and dismisses user-visible notifications. Implemented by
// the platform layer; the pipeline never touches the OS directly.
type Presenter interface {
	Present(ctx context.Context, n Notification) error
	Dismiss(ctx context.Context, notificationID string) error
}

// KeyResolver resolves a peer's key material, normally the peer key cache.
type KeyResolver interface {
	Get(ctx context.Context, peerID string, forceRefresh bool) ([]byte, error)
}

// Pipeline turns encrypted push payloads into readable notifications.
type Pipeline struct {
	keys       KeyResolver
	presenter  Presenter
	previewLen int
	log        logging.Logger
	metrics    *metrics.Metrics
}

func NewPipeline(keys KeyResolver, presenter Presenter, previewLen int, log logging.Logger, m *metrics.Metrics) *Pipeline {
	if previewLen <= 0 {
		previewLen = DefaultPreviewLength
	}
	return &Pipeline{keys: keys, presenter: presenter, previewLen: previewLen, log: log, metrics: m}
}

// ParsePayload decodes the raw push body.
func ParsePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("parse push payload: %w", err)
	}
	return p, nil
}

// NeedsDecryption reports whether the payload is a text message carrying an
// encrypted blob that has not already been decrypted.
func (pl *Pipeline) NeedsDecryption(p Payload) bool {
	return p.Type == "message" &&
		p.MessageType == "text" &&
		p.EncryptedContent != "" &&
		!p.Decrypted
}

// DecryptAndPresent resolves the sender's key, decrypts the content, and
// emits a replacement notification with a plaintext preview, dismissing the
// original ciphertext-bearing one. Any failure leaves the original
// notification untouched: the user is still notified, just without a
// readable preview.
func (pl *Pipeline) DecryptAndPresent(ctx context.Context, p Payload, originalID string) error {
	if !pl.NeedsDecryption(p) {
		return nil
	}

	pl.metrics.DecryptTotal.Inc()
	preview, err := pl.decryptPreview(ctx, p)
	if err != nil {
		pl.metrics.DecryptFailures.Inc()
		pl.log.Warn(ctx, "notification decrypt failed, keeping original",
			"message", p.MessageID, "error", err)
		return fmt.Errorf("%w: %v", common.ErrNotificationDecrypt, err)
	}

	n := Notification{
		ID:             p.MessageID,
		Title:          p.SenderName,
		Body:           preview,
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		Decrypted:      true,
	}
	if err := pl.presenter.Present(ctx, n); err != nil {
		return fmt.Errorf("%w: present: %v", common.ErrNotificationDecrypt, err)
	}
	if originalID != "" {
		if err := pl.presenter.Dismiss(ctx, originalID); err != nil {
			// replacement is already visible, a stuck original is cosmetic
			pl.log.Warn(ctx, "failed to dismiss original notification",
				"notification", originalID, "error", err)
		}
	}
	return nil
}

func (pl *Pipeline) decryptPreview(ctx context.Context, p Payload) (string, error) {
	key, err := pl.keys.Get(ctx, p.SenderID, false)
	if err != nil {
		return "", fmt.Errorf("resolve sender key: %w", err)
	}

	payload, err := decodeContent(p)
	if err != nil {
		return "", err
	}

	plaintext, err := cryptox.Decrypt(payload, key)
	if err != nil {
		return "", err
	}
	return truncate(string(plaintext), pl.previewLen), nil
}

func decodeContent(p Payload) (*cryptox.Payload, error) {
	ct, err := base64.StdEncoding.DecodeString(p.EncryptedContent)
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(p.Metadata.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(p.Metadata.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("decode auth tag: %w", err)
	}
	return &cryptox.Payload{IV: iv, Ciphertext: ct, AuthTag: tag}, nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
