package keystore

import (
	"context"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/dovelchat/msgcache/internal/common"
)

// SecretStore is a single named slot of opaque secret material.
// Get returns common.ErrNotFound when the slot has never been written.
type SecretStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, value string) error
	Delete(ctx context.Context) error
}

// KeyringStore keeps the slot in the OS credential store (Keychain on
// macOS, Secret Service on Linux, Credential Manager on Windows).
type KeyringStore struct {
	service string
	slot    string
}

func NewKeyringStore(service, slot string) *KeyringStore {
	return &KeyringStore{service: service, slot: slot}
}

func (s *KeyringStore) Get(ctx context.Context) (string, error) {
	value, err := keyring.Get(s.service, s.slot)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", common.ErrNotFound
		}
		return "", fmt.Errorf("keyring get: %w", err)
	}
	return value, nil
}

func (s *KeyringStore) Set(ctx context.Context, value string) error {
	if err := keyring.Set(s.service, s.slot, value); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

func (s *KeyringStore) Delete(ctx context.Context) error {
	if err := keyring.Delete(s.service, s.slot); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}
