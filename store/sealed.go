package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Sealed encrypts blobs with AES-256-GCM before handing them to the wrapped
// store. Stored values are base64(nonce || ciphertext || tag).
type Sealed struct {
	inner Store
	aead  cipher.AEAD
}

// NewSealed wraps inner with a base64-encoded 32-byte key.
// Generate one with: openssl rand -base64 32
func NewSealed(inner Store, base64Key string) (*Sealed, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Sealed{inner: inner, aead: gcm}, nil
}

func (s *Sealed) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	// no AAD: a sealed blob stays valid when copied to another key
	ct := s.aead.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(ct)))
	base64.StdEncoding.Encode(out, ct)
	return out, nil
}

func (s *Sealed) open(stored []byte) ([]byte, error) {
	ct := make([]byte, base64.StdEncoding.DecodedLen(len(stored)))
	n, err := base64.StdEncoding.Decode(ct, stored)
	if err != nil {
		return nil, fmt.Errorf("decode sealed blob: %w", err)
	}
	ct = ct[:n]
	ns := s.aead.NonceSize()
	if len(ct) < ns+s.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: expected at least %d bytes, got %d", ns+s.aead.Overhead(), len(ct))
	}
	pt, err := s.aead.Open(nil, ct[:ns], ct[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: authentication failed: %w", err)
	}
	return pt, nil
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	stored, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.open(stored)
}

func (s *Sealed) Put(ctx context.Context, key string, blob []byte) error {
	sealed, err := s.seal(blob)
	if err != nil {
		return err
	}
	return s.inner.Put(ctx, key, sealed)
}

func (s *Sealed) Keys(ctx context.Context) ([]string, error) { return s.inner.Keys(ctx) }

func (s *Sealed) Ping(ctx context.Context) error { return s.inner.Ping(ctx) }

func (s *Sealed) Close() error { return s.inner.Close() }
