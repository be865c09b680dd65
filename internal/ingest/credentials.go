package ingest

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
)

// Cipher encrypts employee API keys at rest with AES-256-GCM. The sealed
// blob is nonce || ciphertext; plaintext keys exist only in memory during
// a sync.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a cipher from a raw 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("ingest: credential key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ingest: credential cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ingest: credential cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewCipherFromEnv reads the key from the named environment variable. The
// value may be base64 or hex encoded; either way it must decode to 32
// bytes.
func NewCipherFromEnv(envVar string) (*Cipher, error) {
	raw := os.Getenv(envVar)
	if raw == "" {
		return nil, fmt.Errorf("ingest: environment variable %s is empty", envVar)
	}
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil && len(key) == 32 {
		return NewCipher(key)
	}
	if key, err := hex.DecodeString(raw); err == nil && len(key) == 32 {
		return NewCipher(key)
	}
	return nil, fmt.Errorf("ingest: %s does not decode to a 32-byte key", envVar)
}

// Encrypt seals a plaintext API key.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("ingest: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a sealed blob.
func (c *Cipher) Decrypt(blob []byte) (string, error) {
	ns := c.aead.NonceSize()
	if len(blob) < ns {
		return "", fmt.Errorf("ingest: sealed credential too short")
	}
	plain, err := c.aead.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("ingest: decrypt credential: %w", err)
	}
	return string(plain), nil
}
