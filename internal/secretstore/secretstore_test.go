package secretstore

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/fenwicklabs/discoveryd/internal/apperr"
)

func testKey() []byte {
	return []byte("01234567890123456789012345678901")[:32]
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	store, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plaintext := []byte("hunter2")
	ciphertext, err := store.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ciphertext == string(plaintext) {
		t.Fatal("ciphertext must not equal plaintext")
	}

	got, err := store.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestEncryptDecryptEmptyRoundTrips(t *testing.T) {
	store, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ciphertext, err := store.Encrypt(nil)
	if err != nil {
		t.Fatalf("Encrypt(nil): %v", err)
	}
	if ciphertext != "" {
		t.Fatalf("expected empty ciphertext for empty plaintext, got %q", ciphertext)
	}

	plaintext, err := store.Decrypt("")
	if err != nil {
		t.Fatalf("Decrypt(\"\"): %v", err)
	}
	if plaintext != nil {
		t.Fatalf("expected nil plaintext, got %q", plaintext)
	}
}

func TestNewRejectsWrongKeySize(t *testing.T) {
	_, err := New([]byte("too-short"))
	if err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestDecryptTamperedCiphertextIsSecretCorrupt(t *testing.T) {
	store, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ciphertext, err := store.Encrypt([]byte("a secret value"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = store.Decrypt(tampered)
	if err == nil {
		t.Fatal("expected error decrypting tampered ciphertext")
	}
	if apperr.KindOf(err) != apperr.SecretCorrupt {
		t.Fatalf("expected SecretCorrupt, got %v", apperr.KindOf(err))
	}
}

func TestDecryptTooShortIsSecretCorrupt(t *testing.T) {
	store, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	short := base64.StdEncoding.EncodeToString([]byte("x"))
	_, err = store.Decrypt(short)
	if apperr.KindOf(err) != apperr.SecretCorrupt {
		t.Fatalf("expected SecretCorrupt, got %v", apperr.KindOf(err))
	}
}

func TestNewFromConfigStandardBase64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(testKey())
	if _, err := NewFromConfig(encoded); err != nil {
		t.Fatalf("NewFromConfig standard base64: %v", err)
	}
}

func TestNewFromConfigURLSafeBase64(t *testing.T) {
	// A key whose standard-base64 form contains '+' or '/' would fail to
	// decode under the URL-safe alphabet; encode explicitly as URL-safe
	// and confirm the fallback chain picks it up.
	encoded := base64.URLEncoding.EncodeToString(bytes.Repeat([]byte{0xFF}, keySize))
	if _, err := NewFromConfig(encoded); err != nil {
		t.Fatalf("NewFromConfig URL-safe base64: %v", err)
	}
}

func TestNewFromConfigPaddingNormalized(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(testKey())
	stripped := strings.TrimRight(encoded, "=")
	if _, err := NewFromConfig(stripped); err != nil {
		t.Fatalf("NewFromConfig padding-stripped base64: %v", err)
	}
}

func TestNewFromConfigRejectsGarbage(t *testing.T) {
	if _, err := NewFromConfig("not valid base64 at all!!"); err == nil {
		t.Fatal("expected error for undecodable key")
	}
}
