// Package crypto seals small secrets (platform access tokens) before they are
// written to a shared cache backend. AES-256-GCM, base64 on the wire.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrInvalidKey is returned when the key is not 32 bytes after decoding
	ErrInvalidKey = errors.New("sealing key must decode to exactly 32 bytes")
	// ErrCiphertextTooShort is returned when sealed data is shorter than the nonce
	ErrCiphertextTooShort = errors.New("sealed value too short")
	// ErrOpenFailed is returned when the value was tampered with, sealed under
	// another key, or bound to a different label
	ErrOpenFailed = errors.New("unseal failed: wrong key, label, or tampered data")
)

// Sealer encrypts values and binds each one to a label (the cache key it is
// stored under) so a sealed value cannot be replayed at another key.
type Sealer struct {
	gcm cipher.AEAD
}

// ParseKey decodes a configured key. Accepts 64 hex characters or standard
// base64 of 32 bytes.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == 64 {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// NewSealer creates a Sealer from a raw 32-byte key
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext bound to label. Empty input seals to "".
func (s *Sealer) Seal(label string, plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := s.gcm.Seal(nonce, nonce, plaintext, []byte(label))
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. The label must match the one used to seal.
func (s *Sealer) Open(label, sealed string) ([]byte, error) {
	if sealed == "" {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	n := s.gcm.NonceSize()
	if len(raw) < n {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := s.gcm.Open(nil, raw[:n], raw[n:], []byte(label))
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}
