// Package secretstore provides authenticated symmetric encryption for
// credential-profile secrets (passwords, private keys) at rest.
//
// Ciphertext layout is nonce || ciphertext || tag, base64-encoded. The key
// is loaded once at startup from process configuration (internal/config);
// decryption happens in the discovery pipeline (internal/engine), once per
// job, before the probe stages run.
package secretstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/fenwicklabs/discoveryd/internal/apperr"
)

const keySize = 32 // 256-bit key for AES-256-GCM

// Store encrypts and decrypts credential-profile secrets with AES-256-GCM.
type Store struct {
	key []byte
}

// New builds a Store from a raw 32-byte key.
func New(key []byte) (*Store, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	return &Store{key: key}, nil
}

// NewFromConfig decodes a base64-encoded key using a fallback chain:
// standard base64, then URL-safe base64, then standard base64 after
// padding normalization. Fails if none of the three decode to a 32-byte
// key, matching the "fail at startup" requirement for a misconfigured
// encryption key.
func NewFromConfig(encodedKey string) (*Store, error) {
	key, err := decodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption.key: %w", err)
	}
	return New(key)
}

func decodeKey(encoded string) ([]byte, error) {
	if key, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(key) == keySize {
		return key, nil
	}
	if key, err := base64.URLEncoding.DecodeString(encoded); err == nil && len(key) == keySize {
		return key, nil
	}
	normalized := strings.TrimRight(encoded, "=")
	if pad := len(normalized) % 4; pad != 0 {
		normalized += strings.Repeat("=", 4-pad)
	}
	if key, err := base64.StdEncoding.DecodeString(normalized); err == nil && len(key) == keySize {
		return key, nil
	}
	return nil, fmt.Errorf("key does not decode to %d bytes via standard, URL-safe, or padding-normalized base64", keySize)
}

// Encrypt encrypts plaintext and returns a base64-encoded
// nonce||ciphertext||tag blob. Empty input round-trips unchanged.
func (s *Store) Encrypt(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Returns an *apperr.Error with Kind
// SecretCorrupt if the tag doesn't verify or the blob is shorter than a
// nonce. Empty input round-trips unchanged.
func (s *Store) Decrypt(ciphertext string) ([]byte, error) {
	if ciphertext == "" {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, apperr.Wrap(apperr.SecretCorrupt, "ciphertext is not valid base64", err)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, apperr.New(apperr.SecretCorrupt, "ciphertext shorter than nonce")
	}

	nonce, body := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.SecretCorrupt, "authentication failed", err)
	}

	return plaintext, nil
}
