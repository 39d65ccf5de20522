package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

const (
	keyringService = "yesmail"
	keyringPrefix  = "keyring:"
)

// KeyringSealer keeps secrets in a keyring and hands back only a reference to persist.
type KeyringSealer struct {
	ring keyring.Keyring
}

// NewKeyringSealer opens an encrypted file keyring in dir, protected by password.
// Servers rarely have a desktop keychain, so only the file backend is allowed.
func NewKeyringSealer(dir, password string) (*KeyringSealer, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      keyringService,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: keyring.FixedStringPrompt(password),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return &KeyringSealer{ring: ring}, nil
}

// NewKeyringSealerWith wraps an already opened keyring.
func NewKeyringSealerWith(ring keyring.Keyring) *KeyringSealer {
	return &KeyringSealer{ring: ring}
}

// Seal stores secret under "mailbox/<ref>" and returns the reference.
func (k *KeyringSealer) Seal(ref, secret string) ([]byte, error) {
	if ref == "" {
		return nil, fmt.Errorf("keyring sealer needs a reference")
	}
	key := "mailbox/" + ref
	err := k.ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(secret),
		Label:       "yesmail mailbox " + ref,
		Description: "external mailbox password",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store secret in keyring: %w", err)
	}
	return []byte(keyringPrefix + key), nil
}

// Unseal looks the reference up in the keyring.
func (k *KeyringSealer) Unseal(sealed []byte) (string, error) {
	ref := string(sealed)
	if !strings.HasPrefix(ref, keyringPrefix) {
		return "", fmt.Errorf("not a keyring reference")
	}

	item, err := k.ring.Get(strings.TrimPrefix(ref, keyringPrefix))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("secret missing from keyring: %w", err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read secret from keyring: %w", err)
	}
	return string(item.Data), nil
}
