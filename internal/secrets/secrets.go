// Package secrets encrypts APIKey.EncryptedSecret at rest using the
// AEAD key supplied via API_KEY_ENCRYPTION_KEY (spec.md §6). Callers outside
// this package never see plaintext except immediately after Decrypt.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrEmptyKey is returned when no encryption key is configured; callers
// must refuse to persist secrets rather than store them in the clear.
var ErrEmptyKey = errors.New("secrets: API_KEY_ENCRYPTION_KEY is not configured")

// deriveKey stretches an arbitrary-length configured key to the 32 bytes
// chacha20poly1305 requires.
func deriveKey(raw string) [32]byte {
	return sha256.Sum256([]byte(raw))
}

// Encrypt returns a base64 AEAD ciphertext of plaintext under rawKey.
func Encrypt(plaintext, rawKey string) (string, error) {
	if rawKey == "" {
		return "", ErrEmptyKey
	}
	key := deriveKey(rawKey)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return "", fmt.Errorf("secrets: new aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: read nonce: %w", err)
	}

	ct := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt.
func Decrypt(ciphertext, rawKey string) (string, error) {
	if rawKey == "" {
		return "", ErrEmptyKey
	}
	key := deriveKey(rawKey)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return "", fmt.Errorf("secrets: new aead: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("secrets: base64 decode: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("secrets: ciphertext too short")
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt: %w", err)
	}
	return string(plain), nil
}
