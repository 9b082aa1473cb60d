package keystore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dovelchat/msgcache/internal/common"
	"github.com/dovelchat/msgcache/internal/cryptox"
)

// FileStore is the fallback SecretStore for hosts without a usable OS
// credential store. The slot value is sealed with a key stretched from a
// passphrase via argon2id; the salt lives next to the ciphertext in the
// same file.
type FileStore struct {
	path       string
	passphrase []byte
}

func NewFileStore(path string, passphrase []byte) *FileStore {
	return &FileStore{path: path, passphrase: passphrase}
}

type fileEnvelope struct {
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	AuthTag    string `json:"authTag"`
}

func (s *FileStore) Get(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", common.ErrNotFound
		}
		return "", fmt.Errorf("read secret file: %w", err)
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("parse secret file: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	payload, err := decodePayload(env)
	if err != nil {
		return "", err
	}

	wrappingKey := cryptox.DerivePassphraseKey(s.passphrase, salt)
	defer common.WipeByteArray(wrappingKey)

	plaintext, err := cryptox.Decrypt(payload, wrappingKey)
	if err != nil {
		return "", fmt.Errorf("unseal secret: %w", err)
	}
	return string(plaintext), nil
}

func (s *FileStore) Set(ctx context.Context, value string) error {
	salt := common.GenerateRandByteArray(16)

	wrappingKey := cryptox.DerivePassphraseKey(s.passphrase, salt)
	defer common.WipeByteArray(wrappingKey)

	payload, err := cryptox.Encrypt(wrappingKey, []byte(value))
	if err != nil {
		return fmt.Errorf("seal secret: %w", err)
	}

	env := fileEnvelope{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		IV:         base64.StdEncoding.EncodeToString(payload.IV),
		Ciphertext: base64.StdEncoding.EncodeToString(payload.Ciphertext),
		AuthTag:    base64.StdEncoding.EncodeToString(payload.AuthTag),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode secret file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create secret dir: %w", err)
	}

	// Write-then-rename so a crash never leaves a truncated slot.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write secret file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace secret file: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete secret file: %w", err)
	}
	return nil
}

func decodePayload(env fileEnvelope) (*cryptox.Payload, error) {
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("decode auth tag: %w", err)
	}
	return &cryptox.Payload{IV: iv, Ciphertext: ct, AuthTag: tag}, nil
}
