package secrets

import (
	"errors"
	"testing"
)

func TestCipherSealsAndOpens(t *testing.T) {
	c, err := NewCipher("local-dev-passphrase")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	sealed, err := c.Encrypt("ya29.access-token")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if sealed == "ya29.access-token" {
		t.Fatalf("expected ciphertext to differ from plaintext")
	}
	again, _ := c.Encrypt("ya29.access-token")
	if again == sealed {
		t.Fatalf("expected random nonce to produce distinct ciphertexts")
	}

	plain, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "ya29.access-token" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestCipherRejectsForeignCiphertext(t *testing.T) {
	a, _ := NewCipher("key-a")
	b, _ := NewCipher("key-b")

	sealed, err := a.Encrypt("refresh")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
	if _, err := a.Decrypt("not base64!"); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for garbage, got %v", err)
	}
}

func TestCipherEmptyValues(t *testing.T) {
	c, _ := NewCipher("k")
	if out, err := c.Encrypt(""); err != nil || out != "" {
		t.Fatalf("expected empty passthrough, got %q %v", out, err)
	}
	if out, err := c.Decrypt(""); err != nil || out != "" {
		t.Fatalf("expected empty passthrough, got %q %v", out, err)
	}
	if _, err := NewCipher("  "); err == nil {
		t.Fatalf("expected error for blank key")
	}
}
