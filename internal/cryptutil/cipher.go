// Package cryptutil provides the authenticated symmetric cipher used to
// encrypt credential private keys at rest. ChaCha20-Poly1305 is the AEAD
// this reaches for once golang.org/x/crypto is in the dependency graph,
// rather than hand-rolling AES-GCM from crypto/aes.
package cryptutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD wraps a single 32-byte key. The process configuration holds the key;
// it's passed into any component that needs it at construction time, never
// read from a global.
type AEAD struct {
	key []byte
}

// NewAEAD decodes a URL-safe-base64 32-byte key.
func NewAEAD(encodedKey string) (*AEAD, error) {
	key, err := base64.URLEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &AEAD{key: key}, nil
}

// Encrypt seals plaintext with a fresh random nonce, prepended to the
// ciphertext.
func (a *AEAD) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(a.key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt recovers plaintext from Encrypt's output.
func (a *AEAD) Decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(a.key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptHexString encrypts a hex-encoded private key, producing the
// ciphertext of encrypt(hex_string) that Credential.PrivateKeyEncrypted stores.
func (a *AEAD) EncryptHexString(hexKey string) ([]byte, error) {
	return a.Encrypt([]byte(hexKey))
}

// DecryptHexString recovers the hex-encoded private key as a Go string. The
// plaintext is never written back to storage, but nothing here zeroes it: it
// stays in memory until garbage-collected.
func (a *AEAD) DecryptHexString(ciphertext []byte) (string, error) {
	plain, err := a.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// GenerateKey returns a fresh, URL-safe-base64-encoded 32-byte key, for
// provisioning tooling.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(key), nil
}
