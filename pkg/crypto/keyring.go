package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

var ErrNoKey = errors.New("sealed credential but no CREDENTIALS_KEY configured")

const maxKeyVersions = 10

// Keyring holds every configured key version so values sealed before a
// rotation still open. New values are sealed with the latest version.
type Keyring struct {
	current int
	sealers map[int]*Sealer
}

// LoadKeyring reads base64 keys named prefix (v1) and prefix_V2..prefix_V10
// through lookup. An empty ring is valid and opens plaintext only.
func LoadKeyring(prefix string, lookup func(string) string) (*Keyring, error) {
	kr := &Keyring{sealers: make(map[int]*Sealer)}
	for v := 1; v <= maxKeyVersions; v++ {
		name := prefix
		if v > 1 {
			name = fmt.Sprintf("%s_V%d", prefix, v)
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
	return kr, nil
}

func (k *Keyring) Empty() bool { return len(k.sealers) == 0 }

// Seal encrypts with the latest key version.
func (k *Keyring) Seal(plaintext string) (string, error) {
	s, ok := k.sealers[k.current]
	if !ok {
		return "", ErrNoKey
	}
	return s.Seal(plaintext)
}

// Reveal returns plaintext values unchanged and opens sealed ones.
func (k *Keyring) Reveal(value string) (string, error) {
	version, _, ok := split(value)
	if !ok {
		return value, nil
	}
	s, found := k.sealers[version]
	if !found {
		if k.Empty() {
			return "", ErrNoKey
		}
		return "", fmt.Errorf("%w: key v%d not configured", ErrDecryptionFailed, version)
	}
	return s.Open(value)
}

// GenerateKey returns a random base64 AES-256 key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
