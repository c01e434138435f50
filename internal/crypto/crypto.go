package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// keyContext binds derived AEAD keys to this blob format version. Changing
// it invalidates every stored blob.
const keyContext = "agentvault-aead-v1"

// TokenPrefix marks vault tokens so they are recognizable in logs and CLI
// output without revealing anything about their referent.
const TokenPrefix = "pvt_"

// ErrDecryption is returned when no configured key authenticates a blob.
// It signals tampering, corruption, or an unrecoverably rotated key.
var ErrDecryption = errors.New("decryption failed: no valid key")

// Provider performs authenticated encryption with a single active key and
// an ordered list of previously valid keys used only for decryption during
// rotation windows. It holds no mutable state after construction and is
// safe for concurrent use.
type Provider struct {
	active     cipher.AEAD
	historical []cipher.AEAD
}

// NewProvider derives AES-256-GCM keys from the given 32-byte root keys
// using HKDF-SHA256; raw configured key material is never used directly as
// an AEAD key. activeRoot encrypts all new blobs. previousRoots are tried
// in order when the active key fails to authenticate a blob.
func NewProvider(activeRoot []byte, previousRoots ...[]byte) (*Provider, error) {
	active, err := newAEAD(activeRoot)
	if err != nil {
		return nil, fmt.Errorf("active key: %w", err)
	}
	p := &Provider{active: active}
	for i, root := range previousRoots {
		aead, err := newAEAD(root)
		if err != nil {
			return nil, fmt.Errorf("previous key %d: %w", i, err)
		}
		p.historical = append(p.historical, aead)
	}
	return p, nil
}

func newAEAD(rootKey []byte) (cipher.AEAD, error) {
	if len(rootKey) != 32 {
		return nil, errors.New("root key must be 32 bytes")
	}
	key, err := deriveKey(rootKey, keyContext)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// deriveKey derives a 32-byte AEAD key from a root key using HKDF-SHA256.
func deriveKey(rootKey []byte, context string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, rootKey, nil, []byte(context))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under the active key. The nonce is prepended to
// the returned blob.
func (p *Provider) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, p.active.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return p.active.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt, trying the active key first and
// then each historical key in order. Returns ErrDecryption when no key
// authenticates the blob.
func (p *Provider) Decrypt(blob []byte) ([]byte, error) {
	if plaintext, err := open(p.active, blob); err == nil {
		return plaintext, nil
	}
	for _, aead := range p.historical {
		if plaintext, err := open(aead, blob); err == nil {
			return plaintext, nil
		}
	}
	return nil, ErrDecryption
}

func open(aead cipher.AEAD, blob []byte) ([]byte, error) {
	ns := aead.NonceSize()
	if len(blob) < ns {
		return nil, errors.New("blob too short")
	}
	return aead.Open(nil, blob[:ns], blob[ns:], nil)
}

// GenerateRootKey generates a 32-byte cryptographically secure random root key.
func GenerateRootKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating root key: %w", err)
	}
	return key, nil
}

// NewToken generates an opaque, unguessable vault token. Tokens are never
// derived from the record they stand in for.
func NewToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}
