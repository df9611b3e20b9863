package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(seed byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return key
}

func TestSealOpen(t *testing.T) {
	s, err := NewSealer(testKey(0), 1)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	for _, plain := range []string{"", "PKTEST123", "a much longer alpaca api secret value"} {
		sealed, err := s.Seal(plain)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		if !strings.HasPrefix(sealed, "ENC[v1]:") {
			t.Fatalf("sealed = %q, missing prefix", sealed)
		}
		got, err := s.Open(sealed)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if got != plain {
			t.Fatalf("Open = %q, want %q", got, plain)
		}
	}

	a, _ := s.Seal("same")
	b, _ := s.Seal("same")
	if a == b {
		t.Fatal("sealing twice produced identical output")
	}
}

func TestOpenRejectsTamperedAndPlain(t *testing.T) {
	s, _ := NewSealer(testKey(0), 1)
	sealed, _ := s.Seal("secret")

	if _, err := s.Open("plain-value"); !errors.Is(err, ErrNotSealed) {
		t.Fatalf("plain value err = %v", err)
	}
	other, _ := NewSealer(testKey(7), 1)
	if _, err := other.Open(sealed); !errors.Is(err, ErrUnsealFailed) {
		t.Fatalf("wrong key err = %v", err)
	}
	if _, err := NewSealer([]byte("short"), 1); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("short key err = %v", err)
	}
}

func TestVersionOf(t *testing.T) {
	tests := map[string]int{
		"ENC[v1]:abc":  1,
		"ENC[v12]:abc": 12,
		"ENC[vx]:abc":  0,
		"plain":        0,
	}
	for in, want := range tests {
		if got := VersionOf(in); got != want {
			t.Errorf("VersionOf(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestKeyringRotation(t *testing.T) {
	env := map[string]string{
		KeyEnv: base64.StdEncoding.EncodeToString(testKey(1)),
	}
	lookup := func(k string) string { return env[k] }

	v1, err := LoadKeyring(lookup)
	if err != nil {
		t.Fatalf("LoadKeyring: %v", err)
	}
	old, _ := v1.Seal("old-secret")

	env[KeyEnv+"_V2"] = base64.StdEncoding.EncodeToString(testKey(2))
	v2, err := LoadKeyring(lookup)
	if err != nil {
		t.Fatalf("LoadKeyring v2: %v", err)
	}
	fresh, _ := v2.Seal("new-secret")
	if VersionOf(fresh) != 2 {
		t.Fatalf("fresh value sealed with v%d, want v2", VersionOf(fresh))
	}
	if got, err := v2.Open(old); err != nil || got != "old-secret" {
		t.Fatalf("open old = %q, %v", got, err)
	}
}

func TestUnsealerPassesPlainValues(t *testing.T) {
	u := &Unsealer{Lookup: func(string) string { return "" }}
	if got, err := u.Value("X", "plain"); err != nil || got != "plain" {
		t.Fatalf("Value = %q, %v", got, err)
	}
	if _, err := u.Value("X", "ENC[v1]:AAAA"); !errors.Is(err, ErrKeyNotConfigured) {
		t.Fatalf("sealed without key err = %v", err)
	}
}
