// Package keystore owns the device's symmetric key material: a random
// 32-byte secret generated once per install, persisted in a SecretStore
// and uploaded to the key directory so peers can decrypt this device's
// messages.
package keystore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/dovelchat/msgcache/internal/common"
	"github.com/dovelchat/msgcache/internal/logging"
)

// KeyMaterialSize is the size of a freshly generated device key.
const KeyMaterialSize = 32

// Publisher uploads key material to the directory service.
// Implemented by directory.Client.
type Publisher interface {
	PublishKey(ctx context.Context, material []byte) error
}

// Invalidator drops memoized peer keys. Implemented by peerkeys.Cache.
type Invalidator interface {
	InvalidateAll()
}

// KeyStore lazily loads (or creates) the device key and keeps it cached in
// memory for the lifetime of the process. Safe for concurrent use.
type KeyStore struct {
	mu      sync.Mutex
	secrets SecretStore
	cached  []byte
	log     logging.Logger
}

func New(secrets SecretStore, log logging.Logger) *KeyStore {
	return &KeyStore{secrets: secrets, log: log}
}

// EnsureKey returns the persisted device key, generating and persisting a
// new one on first use. It is idempotent and safe to call on every start.
// An existing key is never regenerated: replacing it would make content
// encrypted by this device unreadable for peers until they refetch.
func (k *KeyStore) EnsureKey(ctx context.Context) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.cached != nil {
		return k.cached, nil
	}

	value, err := k.secrets.Get(ctx)
	switch {
	case err == nil:
		material, err := base64.StdEncoding.DecodeString(value)
		if err != nil || len(material) == 0 {
			return nil, fmt.Errorf("stored key slot is corrupt: %w", common.ErrInvalidKeyMaterial)
		}
		k.cached = material
		return material, nil

	case errors.Is(err, common.ErrNotFound):
		material := common.GenerateRandByteArray(KeyMaterialSize)
		if err := k.secrets.Set(ctx, base64.StdEncoding.EncodeToString(material)); err != nil {
			return nil, fmt.Errorf("persist new device key: %w", err)
		}
		k.log.Info(ctx, "generated new device key", "fingerprint", common.KeyFingerprint(material))
		k.cached = material
		return material, nil

	default:
		return nil, fmt.Errorf("load device key: %w", err)
	}
}

// Publish uploads the current key material to the directory service and, on
// success, invalidates all cached peer keys so resumed peers refetch this
// device's latest key.
//
// A publish failure is recoverable: the device keeps operating with its
// locally valid key and the caller may retry.
func (k *KeyStore) Publish(ctx context.Context, dir Publisher, peers Invalidator) error {
	material, err := k.EnsureKey(ctx)
	if err != nil {
		return err
	}

	if err := dir.PublishKey(ctx, material); err != nil {
		return fmt.Errorf("publish device key: %w", err)
	}

	if peers != nil {
		peers.InvalidateAll()
	}
	k.log.Info(ctx, "published device key", "fingerprint", common.KeyFingerprint(material))
	return nil
}

// Reset deletes the persisted key and forgets the cached copy. Used by the
// logout/cache-reset flow. The next EnsureKey generates a fresh key.
func (k *KeyStore) Reset(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.secrets.Delete(ctx); err != nil {
		return err
	}
	common.WipeByteArray(k.cached)
	k.cached = nil
	return nil
}
