// Package crypto seals credentials so broker keys and the JWT secret can sit
// in .env files encrypted. Sealed values look like ENC[v1]:base64(nonce|ct).
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
	ErrInvalidKey       = errors.New("invalid sealing key: must be 32 bytes")
	ErrNotSealed        = errors.New("value is not sealed")
	ErrUnsealFailed     = errors.New("unseal failed")
	ErrKeyNotConfigured = errors.New("sealing key not configured")
)

// Sealer encrypts and decrypts with one key version using AES-256-GCM.
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

// Seal returns ENC[vN]:base64(nonce+ciphertext).
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("%s%d]:%s", prefix, s.version, base64.StdEncoding.EncodeToString(out)), nil
}

// Open reverses Seal. The version in the value is not checked here.
func (s *Sealer) Open(sealed string) (string, error) {
	idx := strings.Index(sealed, "]:")
	if !IsSealed(sealed) || idx < 0 {
		return "", ErrNotSealed
	}
	data, err := base64.StdEncoding.DecodeString(sealed[idx+2:])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < nonceSize {
		return "", ErrNotSealed
	}
	plain, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrUnsealFailed
	}
	return string(plain), nil
}

// IsSealed reports whether v carries the sealed-value prefix.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, prefix)
}

// VersionOf extracts N from ENC[vN]:...; 0 when the format is invalid.
func VersionOf(sealed string) int {
	if !IsSealed(sealed) {
		return 0
	}
	var v int
	if _, err := fmt.Sscanf(sealed, "ENC[v%d]:", &v); err != nil {
		return 0
	}
	return v
}
