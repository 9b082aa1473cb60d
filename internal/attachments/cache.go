// Package attachments implements memoized, idempotent decryption of message
// attachments. Small payloads materialize as inline data URIs; large and
// video payloads are written to files under a scoped cache directory. The
// resulting handle is recorded back into the message store so repeat access
// costs nothing.
package attachments

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dovelchat/msgcache/internal/cache/models"
	"github.com/dovelchat/msgcache/internal/cryptox"
	"github.com/dovelchat/msgcache/internal/filex"
	"github.com/dovelchat/msgcache/internal/logging"
	"github.com/dovelchat/msgcache/internal/metrics"
)

// DefaultInlineThreshold is the ciphertext size under which an attachment is
// materialized as an inline data URI instead of a temp file.
const DefaultInlineThreshold = 256 * 1024

// HandleKind distinguishes the two materialization strategies.
type HandleKind string

const (
	HandleInline HandleKind = "inline"
	HandleFile   HandleKind = "file"
)

// Handle is a local reference to the plaintext form of an attachment:
// either a data URI held in memory or a path under the cache directory.
type Handle struct {
	Kind HandleKind
	URI  string
	Size int64
}

// Downloader fetches attachment ciphertext. Implemented by fileservice.Client.
type Downloader interface {
	Download(ctx context.Context, fileID string) (data []byte, fileType string, err error)
}

// KeyResolver resolves a sender's key material. Implemented by peerkeys.Cache.
type KeyResolver interface {
	Get(ctx context.Context, peerID string, forceRefresh bool) ([]byte, error)
}

// HandleRecorder persists a resolved handle. Implemented by cache.Store.
type HandleRecorder interface {
	UpdateAttachmentHandle(ctx context.Context, messageID, attachmentID, handle string) error
}

// Cache collapses concurrent resolutions of the same attachment into one
// in-flight decrypt and memoizes results for the lifetime of the process.
type Cache struct {
	files     Downloader
	keys      KeyResolver
	store     HandleRecorder
	dir       string
	threshold int
	log       logging.Logger
	metrics   *metrics.Metrics

	group singleflight.Group

	mu   sync.RWMutex
	memo map[string]Handle // attachment id -> resolved handle
}

func NewCache(files Downloader, keys KeyResolver, store HandleRecorder, dir string, threshold int, log logging.Logger, m *metrics.Metrics) *Cache {
	if threshold <= 0 {
		threshold = DefaultInlineThreshold
	}
	return &Cache{
		files:     files,
		keys:      keys,
		store:     store,
		dir:       dir,
		threshold: threshold,
		log:       log,
		metrics:   m,
		memo:      make(map[string]Handle),
	}
}

// Resolve returns a local handle to the decrypted attachment, decrypting at
// most once per attachment id. Two concurrent calls for the same id share a
// single download+decrypt; the loser of the race simply awaits the winner's
// result.
//
// Integrity failures propagate unresolved: no handle is memoized and no
// partial file is left behind. Network failures are retryable by calling
// Resolve again.
func (c *Cache) Resolve(ctx context.Context, messageID string, att models.Attachment, senderID string) (Handle, error) {
	if att.ID == "" || att.RemoteRef == "" {
		return Handle{}, fmt.Errorf("attachment missing id or remote ref")
	}

	if h, ok := c.lookup(att); ok {
		c.metrics.AttachmentHits.Inc()
		return h, nil
	}

	v, err, _ := c.group.Do(att.ID, func() (any, error) {
		// the winner may have finished while we queued
		if h, ok := c.lookup(att); ok {
			c.metrics.AttachmentHits.Inc()
			return h, nil
		}
		c.metrics.AttachmentMisses.Inc()
		return c.resolveSlow(ctx, messageID, att, senderID)
	})
	if err != nil {
		return Handle{}, err
	}
	return v.(Handle), nil
}

// Forget drops the memoized handle for one attachment, forcing the next
// Resolve to decrypt again. Used after a retention sweep removed the file.
func (c *Cache) Forget(attachmentID string) {
	c.mu.Lock()
	delete(c.memo, attachmentID)
	c.mu.Unlock()
}

func (c *Cache) lookup(att models.Attachment) (Handle, bool) {
	c.mu.RLock()
	h, ok := c.memo[att.ID]
	c.mu.RUnlock()
	if ok {
		return h, true
	}

	// a handle persisted by an earlier process is as good as a memo hit,
	// unless retention already removed the file behind it
	if att.DecryptedHandle != "" {
		h := handleFromPersisted(att.DecryptedHandle)
		if h.Kind == HandleFile {
			if _, err := os.Stat(h.URI); err != nil {
				return Handle{}, false
			}
		}
		c.mu.Lock()
		c.memo[att.ID] = h
		c.mu.Unlock()
		return h, true
	}
	return Handle{}, false
}

func (c *Cache) resolveSlow(ctx context.Context, messageID string, att models.Attachment, senderID string) (Handle, error) {
	ciphertext, fileType, err := c.files.Download(ctx, att.RemoteRef)
	if err != nil {
		return Handle{}, fmt.Errorf("download attachment %s: %w", att.ID, err)
	}

	senderKey, err := c.keys.Get(ctx, senderID, false)
	if err != nil {
		return Handle{}, fmt.Errorf("resolve sender key: %w", err)
	}

	payload, err := decodePayload(att.Encryption, ciphertext)
	if err != nil {
		return Handle{}, err
	}

	mime := att.MimeType
	if mime == "" {
		mime = fileType
	}

	c.metrics.DecryptTotal.Inc()
	h, err := c.materialize(att, payload, senderKey, mime)
	if err != nil {
		c.metrics.DecryptFailures.Inc()
		return Handle{}, err
	}

	// the message may have been deleted mid-flight; recording tolerates that
	if err := c.store.UpdateAttachmentHandle(ctx, messageID, att.ID, h.URI); err != nil {
		c.log.Warn(ctx, "failed to persist attachment handle", "attachment", att.ID, "error", err)
	}

	c.mu.Lock()
	c.memo[att.ID] = h
	c.mu.Unlock()

	c.log.Debug(ctx, "attachment resolved", "attachment", att.ID, "kind", string(h.Kind), "size", h.Size)
	return h, nil
}

func (c *Cache) materialize(att models.Attachment, payload *cryptox.Payload, senderKey []byte, mime string) (Handle, error) {
	inline := len(payload.Ciphertext) < c.threshold && !strings.HasPrefix(mime, "video/")

	if inline {
		plaintext, err := cryptox.Decrypt(payload, senderKey)
		if err != nil {
			return Handle{}, fmt.Errorf("decrypt attachment %s: %w", att.ID, err)
		}
		uri := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(plaintext)
		return Handle{Kind: HandleInline, URI: uri, Size: int64(len(plaintext))}, nil
	}

	dir, err := filex.EnsureDir(c.dir)
	if err != nil {
		return Handle{}, err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%d%s", att.ID, time.Now().UnixMilli(), extFor(mime)))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return Handle{}, fmt.Errorf("create attachment file: %w", err)
	}

	n, err := cryptox.DecryptFile(payload, senderKey, f)
	closeErr := f.Close()
	if err != nil || closeErr != nil {
		filex.RemoveQuietly(path)
		if err == nil {
			err = closeErr
		}
		return Handle{}, fmt.Errorf("decrypt attachment %s: %w", att.ID, err)
	}

	return Handle{Kind: HandleFile, URI: path, Size: n}, nil
}

func decodePayload(meta models.EncryptionMeta, ciphertext []byte) (*cryptox.Payload, error) {
	iv, err := base64.StdEncoding.DecodeString(meta.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(meta.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("decode auth tag: %w", err)
	}
	return &cryptox.Payload{IV: iv, Ciphertext: ciphertext, AuthTag: tag}, nil
}

func handleFromPersisted(uri string) Handle {
	if strings.HasPrefix(uri, "data:") {
		return Handle{Kind: HandleInline, URI: uri}
	}
	return Handle{Kind: HandleFile, URI: uri}
}

func extFor(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg":
		return ".mp3"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
