// Package cryptox implements the stateless encrypt/decrypt primitives for
// message text and attachment payloads.
//
// The construction is AES-256-GCM over a working key derived from the raw
// key material with HKDF-SHA256. On the wire a sealed payload is always the
// triple {iv, ciphertext, authTag}: GCM's appended tag is split off and
// carried separately so the format matches what the backend and the mobile
// clients exchange. Decrypt verifies the tag before returning any plaintext;
// a mismatch surfaces as common.ErrIntegrity.
//
// The engine is deliberately policy-free: which key is used (the device's
// own key for encryption, the sender's directory key for decryption) is
// decided by the callers.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/dovelchat/msgcache/internal/common"
)

const (
	// IVSize is the GCM nonce length in bytes.
	IVSize = 12

	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16

	// KeySize is the length of derived working keys (AES-256).
	KeySize = 32

	// hkdfInfo domain-separates working keys from other uses of the material.
	hkdfInfo = "msgcache/aead/v1"
)

// Payload is one sealed unit: a fresh IV, the ciphertext and the integrity
// tag bound to (key, IV, ciphertext). Text and files use the same triple.
type Payload struct {
	IV         []byte
	Ciphertext []byte
	AuthTag    []byte
}

// DeriveWorkingKey expands raw key material into an AES-256 key using
// HKDF-SHA256. The same material always yields the same working key.
func DeriveWorkingKey(material []byte) ([]byte, error) {
	if len(material) == 0 {
		return nil, common.ErrInvalidKeyMaterial
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}

// DerivePassphraseKey stretches a human passphrase into a wrapping key with
// argon2id. Used by the file-backed secret store, not for message payloads.
func DerivePassphraseKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}

// Encrypt seals plaintext under the given key material.
//
// A fresh random 12-byte IV is generated per call; reusing an IV with the
// same key would be catastrophic for GCM, so there is deliberately no way
// for callers to supply one.
func Encrypt(material, plaintext []byte) (*Payload, error) {
	aead, err := newAEAD(material)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)

	// Seal appends the tag to the ciphertext; carry it separately.
	split := len(sealed) - TagSize
	return &Payload{
		IV:         iv,
		Ciphertext: sealed[:split],
		AuthTag:    sealed[split:],
	}, nil
}

// Decrypt verifies the payload's integrity tag under the given key material
// and, only on a match, returns the plaintext.
//
// Any verification failure (wrong key, flipped bit anywhere in the triple)
// returns common.ErrIntegrity and no plaintext.
func Decrypt(p *Payload, material []byte) ([]byte, error) {
	if p == nil || len(p.IV) != IVSize || len(p.AuthTag) != TagSize {
		return nil, fmt.Errorf("malformed payload: %w", common.ErrIntegrity)
	}

	aead, err := newAEAD(material)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(p.Ciphertext)+TagSize)
	sealed = append(sealed, p.Ciphertext...)
	sealed = append(sealed, p.AuthTag...)

	plaintext, err := aead.Open(nil, p.IV, sealed, nil)
	if err != nil {
		return nil, common.ErrIntegrity
	}
	return plaintext, nil
}

// EncryptFile reads the whole of r and seals it like Encrypt. The returned
// payload additionally knows nothing about the original file name or type;
// callers keep that metadata alongside.
func EncryptFile(material []byte, r io.Reader) (*Payload, error) {
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read plaintext: %w", err)
	}
	return Encrypt(material, plaintext)
}

// DecryptFile verifies and decrypts a file payload and streams the plaintext
// into w in fixed-size chunks, returning the number of bytes written. Large
// attachments are therefore never held as one contiguous allocation on the
// write side; callers normally hand in an *os.File in the cache directory.
func DecryptFile(p *Payload, material []byte, w io.Writer) (int64, error) {
	plaintext, err := Decrypt(p, material)
	if err != nil {
		return 0, err
	}

	const chunk = 64 * 1024
	var written int64
	for off := 0; off < len(plaintext); off += chunk {
		end := off + chunk
		if end > len(plaintext) {
			end = len(plaintext)
		}
		n, err := w.Write(plaintext[off:end])
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("write plaintext: %w", err)
		}
	}
	common.WipeByteArray(plaintext)
	return written, nil
}

func newAEAD(material []byte) (cipher.AEAD, error) {
	key, err := DeriveWorkingKey(material)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
