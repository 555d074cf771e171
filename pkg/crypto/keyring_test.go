package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(seed byte) string {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestSealOpenRoundTrip(t *testing.T) {
	kr, err := LoadKeyring("CREDENTIALS_KEY", env(map[string]string{"CREDENTIALS_KEY": testKey(1)}))
	if err != nil {
		t.Fatalf("LoadKeyring: %v", err)
	}
	for _, secret := range []string{"", "abc123XYZ789", "中文測試 secret"} {
		sealed, err := kr.Seal(secret)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		if !strings.HasPrefix(sealed, "ENC[v1]:") || !IsSealed(sealed) {
			t.Fatalf("unexpected sealed form %q", sealed)
		}
		got, err := kr.Reveal(sealed)
		if err != nil || got != secret {
			t.Fatalf("Reveal=%q,%v expected %q", got, err, secret)
		}
	}
}

func TestRevealPassesPlaintextThrough(t *testing.T) {
	kr, _ := LoadKeyring("CREDENTIALS_KEY", env(nil))
	got, err := kr.Reveal("plain-api-key")
	if err != nil || got != "plain-api-key" {
		t.Fatalf("Reveal=%q,%v", got, err)
	}
	if _, err := kr.Reveal("ENC[v1]:AAAA"); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}

func TestRotationKeepsOldValuesReadable(t *testing.T) {
	old, _ := LoadKeyring("K", env(map[string]string{"K": testKey(1)}))
	sealedV1, _ := old.Seal("secret")

	rotated, err := LoadKeyring("K", env(map[string]string{"K": testKey(1), "K_V2": testKey(9)}))
	if err != nil {
		t.Fatalf("LoadKeyring: %v", err)
	}
	if got, err := rotated.Reveal(sealedV1); err != nil || got != "secret" {
		t.Fatalf("v1 value after rotation: %q,%v", got, err)
	}
	sealedV2, _ := rotated.Seal("secret")
	if !strings.HasPrefix(sealedV2, "ENC[v2]:") {
		t.Fatalf("new values must use latest key, got %q", sealedV2)
	}
	if _, err := old.Reveal(sealedV2); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for unknown version, got %v", err)
	}
}

func TestTamperedValueFails(t *testing.T) {
	kr, _ := LoadKeyring("K", env(map[string]string{"K": testKey(3)}))
	sealed, _ := kr.Seal("secret")
	raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, "ENC[v1]:"))
	raw[len(raw)-1] ^= 0xff
	tampered := "ENC[v1]:" + base64.StdEncoding.EncodeToString(raw)
	if _, err := kr.Reveal(tampered); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestLoadKeyringRejectsBadKeys(t *testing.T) {
	tests := map[string]string{
		"not base64": "%%%",
		"short key":  base64.StdEncoding.EncodeToString([]byte("short")),
	}
	for name, raw := range tests {
		if _, err := LoadKeyring("K", env(map[string]string{"K": raw})); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestIsSealed(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"ENC[v1]:abc", true},
		{"ENC[v12]:abc", true},
		{"ENC[v0]:abc", false},
		{"ENC[vx]:abc", false},
		{"ENC[v1]abc", false},
		{"plain", false},
	}
	for _, tt := range tests {
		if got := IsSealed(tt.in); got != tt.want {
			t.Fatalf("IsSealed(%q)=%v, expected %v", tt.in, got, tt.want)
		}
	}
}
