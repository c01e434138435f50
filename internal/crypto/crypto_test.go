package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestGenerateRootKey(t *testing.T) {
	key, err := GenerateRootKey()
	if err != nil {
		t.Fatalf("GenerateRootKey failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(key))
	}
	// Keys should be random
	key2, _ := GenerateRootKey()
	if bytes.Equal(key, key2) {
		t.Error("two root keys should not be equal")
	}
}

func TestNewProviderRejectsShortKey(t *testing.T) {
	if _, err := NewProvider([]byte("too short")); err == nil {
		t.Error("expected error for short active key")
	}
	active, _ := GenerateRootKey()
	if _, err := NewProvider(active, []byte("short")); err == nil {
		t.Error("expected error for short previous key")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	root, _ := GenerateRootKey()
	p, err := NewProvider(root)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	plaintext := []byte(`{"card_number":"4111111111111111","cvv":"123"}`)
	blob, err := p.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if bytes.Contains(blob, plaintext) {
		t.Error("blob should not contain the plaintext")
	}

	decrypted, err := p.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted %q != original %q", decrypted, plaintext)
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	root, _ := GenerateRootKey()
	p, _ := NewProvider(root)

	a, _ := p.Encrypt([]byte("same input"))
	b, _ := p.Encrypt([]byte("same input"))
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext should differ")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	root, _ := GenerateRootKey()
	other, _ := GenerateRootKey()
	p1, _ := NewProvider(root)
	p2, _ := NewProvider(other)

	blob, _ := p1.Encrypt([]byte("secret data"))
	if _, err := p2.Decrypt(blob); err != ErrDecryption {
		t.Errorf("expected ErrDecryption, got %v", err)
	}
}

func TestDecryptTamperedBlob(t *testing.T) {
	root, _ := GenerateRootKey()
	p, _ := NewProvider(root)

	blob, _ := p.Encrypt([]byte("secret data"))
	blob[len(blob)-1] ^= 0xff
	if _, err := p.Decrypt(blob); err != ErrDecryption {
		t.Errorf("expected ErrDecryption for tampered blob, got %v", err)
	}

	if _, err := p.Decrypt([]byte{1, 2, 3}); err != ErrDecryption {
		t.Errorf("expected ErrDecryption for truncated blob, got %v", err)
	}
}

func TestHistoricalKeyFallback(t *testing.T) {
	oldRoot, _ := GenerateRootKey()
	newRoot, _ := GenerateRootKey()

	oldProvider, _ := NewProvider(oldRoot)
	blob, _ := oldProvider.Encrypt([]byte("written before rotation"))

	// A provider configured with the new active key and the old key as
	// historical can still read old blobs.
	rotated, err := NewProvider(newRoot, oldRoot)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	plaintext, err := rotated.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt with historical key failed: %v", err)
	}
	if string(plaintext) != "written before rotation" {
		t.Errorf("unexpected plaintext %q", plaintext)
	}

	// New blobs use the active key, so the old provider cannot read them.
	newBlob, _ := rotated.Encrypt([]byte("written after rotation"))
	if _, err := oldProvider.Decrypt(newBlob); err != ErrDecryption {
		t.Errorf("expected ErrDecryption, got %v", err)
	}
}

func TestNewToken(t *testing.T) {
	tok, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken failed: %v", err)
	}
	if !strings.HasPrefix(tok, TokenPrefix) {
		t.Errorf("token %q missing prefix %q", tok, TokenPrefix)
	}
	// 32 random bytes base64url-encoded without padding
	if len(tok) != len(TokenPrefix)+43 {
		t.Errorf("unexpected token length %d", len(tok))
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken failed: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}
