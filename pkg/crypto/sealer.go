// Package crypto seals exchange credentials so they can sit in .env files
// and engine config without being readable in plain text.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the AES-256 key length.
	KeySize   = 32
	nonceSize = 12
	prefix    = "ENC[v"
)

var (
	ErrInvalidKey        = errors.New("invalid credential key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid sealed value")
	ErrDecryptionFailed  = errors.New("credential decryption failed")
)

// Sealer encrypts values with AES-256-GCM under one key version.
// Output format: ENC[vN]:base64(nonce|ciphertext|tag).
type Sealer struct {
	aead    cipher.AEAD
	version int
}

func NewSealer(key []byte, version int) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Sealer{aead: aead, version: version}, nil
}

func (s *Sealer) Version() int { return s.version }

func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	data := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("%s%d]:%s", prefix, s.version, base64.StdEncoding.EncodeToString(data)), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	version, payload, ok := split(sealed)
	if !ok {
		return "", ErrInvalidCiphertext
	}
	if version != s.version {
		return "", fmt.Errorf("%w: sealed with v%d, key is v%d", ErrDecryptionFailed, version, s.version)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	_, _, ok := split(value)
	return ok
}

// split parses "ENC[vN]:payload".
func split(value string) (version int, payload string, ok bool) {
	if !strings.HasPrefix(value, prefix) {
		return 0, "", false
	}
	end := strings.Index(value, "]:")
	if end < 0 {
		return 0, "", false
	}
	if _, err := fmt.Sscanf(value[len(prefix):end], "%d", &version); err != nil || version <= 0 {
		return 0, "", false
	}
	return version, value[end+2:], true
}
