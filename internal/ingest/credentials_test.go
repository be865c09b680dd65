package ingest

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestCipherRoundTrip(t *testing.T) {
	c := testCipher(t)
	blob, err := c.Encrypt("nk_live_abc123")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(blob, []byte("nk_live_abc123")) {
		t.Fatal("ciphertext leaks the plaintext")
	}
	got, err := c.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "nk_live_abc123" {
		t.Fatalf("round trip = %q", got)
	}
}

func TestCipherNoncesDiffer(t *testing.T) {
	c := testCipher(t)
	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	if bytes.Equal(a, b) {
		t.Fatal("two seals of the same plaintext must differ")
	}
}

func TestCipherRejectsTamperedBlob(t *testing.T) {
	c := testCipher(t)
	blob, _ := c.Encrypt("secret")
	blob[len(blob)-1] ^= 0xFF
	if _, err := c.Decrypt(blob); err == nil {
		t.Fatal("tampered ciphertext must not decrypt")
	}
}

func TestCipherRejectsShortBlob(t *testing.T) {
	c := testCipher(t)
	if _, err := c.Decrypt([]byte("short")); err == nil {
		t.Fatal("truncated blob must not decrypt")
	}
}

func TestNewCipherKeyLength(t *testing.T) {
	if _, err := NewCipher(make([]byte, 16)); err == nil {
		t.Fatal("16-byte key must be rejected")
	}
}

func TestNewCipherFromEnv(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	t.Setenv("CONVOSCOPE_CRED_KEY", base64.StdEncoding.EncodeToString(key))
	if _, err := NewCipherFromEnv("CONVOSCOPE_CRED_KEY"); err != nil {
		t.Fatalf("base64 key: %v", err)
	}

	t.Setenv("CONVOSCOPE_CRED_KEY", hex.EncodeToString(key))
	if _, err := NewCipherFromEnv("CONVOSCOPE_CRED_KEY"); err != nil {
		t.Fatalf("hex key: %v", err)
	}

	t.Setenv("CONVOSCOPE_CRED_KEY", "not-a-key")
	if _, err := NewCipherFromEnv("CONVOSCOPE_CRED_KEY"); err == nil {
		t.Fatal("malformed key must be rejected")
	}

	t.Setenv("CONVOSCOPE_CRED_KEY", "")
	if _, err := NewCipherFromEnv("CONVOSCOPE_CRED_KEY"); err == nil {
		t.Fatal("empty env var must be rejected")
	}
}

func TestIDCache(t *testing.T) {
	c := NewIDCache()
	if c.Contains("rec-1") {
		t.Fatal("empty cache reports membership")
	}
	c.Add("rec-1")
	if !c.Contains("rec-1") || c.Len() != 1 {
		t.Fatalf("cache state after add: contains=%v len=%d", c.Contains("rec-1"), c.Len())
	}
}
