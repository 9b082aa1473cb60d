// Package models defines the records owned by the local message store.
package models

import (
	"encoding/json"
	"time"
)

// Message is one decrypted message in the local cache. A message belongs to
// exactly one conversation; ID is globally unique and stable across resyncs,
// so saving the same message twice is an upsert, not a duplicate.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	SenderName     string        `json:"senderDisplayName"`
	Content        string        `json:"content"`
	Type           string        `json:"type"`
	Attachments    []Attachment  `json:"attachments"`
	Reactions      []Reaction    `json:"reactions"`
	ReadBy         []ReadReceipt `json:"readBy"`
	IsEdited       bool          `json:"isEdited"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Attachment describes one encrypted attachment of a message.
// DecryptedHandle stays empty until the attachment cache resolves it; once
// set it is treated as immutable (new content means a new attachment id).
type Attachment struct {
	ID              string         `json:"id"`
	RemoteRef       string         `json:"remoteRef"`
	MimeType        string         `json:"mimeType"`
	Encryption      EncryptionMeta `json:"encryptionMetadata"`
	DecryptedHandle string         `json:"decryptedHandle,omitempty"`
}

// EncryptionMeta carries the non-secret parts of a sealed payload, base64
// encoded the way the backend serializes them.
type EncryptionMeta struct {
	IV      string `json:"iv"`
	AuthTag string `json:"authTag"`
}

// Reaction is one emoji reaction on a message.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// ReadReceipt records that a user has read the message.
type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// ConversationMeta is per-conversation sync bookkeeping. LastSyncTime only
// ever moves forward; a late-arriving stale sync must not roll it back.
type ConversationMeta struct {
	ConversationID string    `json:"conversationId"`
	LastSyncTime   time.Time `json:"lastSyncTime"`
	TotalCached    int64     `json:"totalCached"`
	LastMessageID  string    `json:"lastMessageId"`
}

// DecodeAttachments parses the JSON-encoded attachments column. Malformed
// input normalizes to an empty slice rather than failing the whole message:
// a bad sub-field must never make cached history unreadable.
func DecodeAttachments(data []byte) []Attachment {
	if len(data) == 0 {
		return []Attachment{}
	}
	var out []Attachment
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return []Attachment{}
	}
	return out
}

// DecodeReactions parses the JSON-encoded reactions column, normalizing
// malformed input to an empty slice.
func DecodeReactions(data []byte) []Reaction {
	if len(data) == 0 {
		return []Reaction{}
	}
	var out []Reaction
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return []Reaction{}
	}
	return out
}

// DecodeReadBy parses the JSON-encoded read-receipts column, normalizing
// malformed input to an empty slice.
func DecodeReadBy(data []byte) []ReadReceipt {
	if len(data) == 0 {
		return []ReadReceipt{}
	}
	var out []ReadReceipt
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return []ReadReceipt{}
	}
	return out
}
