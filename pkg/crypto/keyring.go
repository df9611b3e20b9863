package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// KeyEnv names the primary sealing key; rotated keys use KeyEnv_V2..V10.
const KeyEnv = "MASTER_ENCRYPTION_KEY"

// Keyring holds every configured key version. New values are sealed with the
// highest one; old values keep opening with the version they name.
type Keyring struct {
	sealers map[int]*Sealer
	current int
}

// LoadKeyring reads base64 keys through lookup.
func LoadKeyring(lookup func(string) string) (*Keyring, error) {
	kr := &Keyring{sealers: make(map[int]*Sealer)}
	for v := 1; v <= 10; v++ {
		name := KeyEnv
		if v > 1 {
			name = fmt.Sprintf("%s_V%d", KeyEnv, v)
		}
		raw := lookup(name)
		if raw == "" {
			continue
		}
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		s, err := NewSealer(key, v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		kr.sealers[v] = s
		kr.current = v
	}
	if kr.current == 0 {
		return nil, ErrKeyNotConfigured
	}
	return kr, nil
}

func (k *Keyring) Seal(plaintext string) (string, error) {
	return k.sealers[k.current].Seal(plaintext)
}

func (k *Keyring) Open(sealed string) (string, error) {
	v := VersionOf(sealed)
	if v == 0 {
		return "", ErrNotSealed
	}
	s, ok := k.sealers[v]
	if !ok {
		return "", fmt.Errorf("key version %d not available", v)
	}
	return s.Open(sealed)
}

// Unsealer opens sealed config values on demand, loading the keyring once.
// Plain values pass through unchanged.
type Unsealer struct {
	Lookup func(string) string
	ring   *Keyring
}

func (u *Unsealer) Value(name, v string) (string, error) {
	if !IsSealed(v) {
		return v, nil
	}
	if u.ring == nil {
		ring, err := LoadKeyring(u.Lookup)
		if err != nil {
			return "", fmt.Errorf("%s is sealed: %w", name, err)
		}
		u.ring = ring
	}
	plain, err := u.ring.Open(v)
	if err != nil {
		return "", fmt.Errorf("unseal %s: %w", name, err)
	}
	return plain, nil
}

// GenerateKey returns a random base64 AES-256 key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
