// Package credentials is the engine's opaque "get secret / store
// secret" collaborator. The default implementation talks to the
// system keyring; a file-backed store encrypted with AES-GCM serves
// environments without one.
package credentials

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "kestrel"

// ErrNotFound is returned when no secret is stored for an account.
var ErrNotFound = errors.New("credential not found")

// Provider supplies account secrets. Implementations are call-through
// dependencies; the engine never inspects how secrets are stored.
type Provider interface {
	Secret(accountID string) (string, error)
	SetSecret(accountID, secret string) error
	DeleteSecret(accountID string) error
}

// KeyringProvider stores secrets in the system keyring.
type KeyringProvider struct {
	fileDir string
}

// NewKeyringProvider returns a Provider backed by the system keyring.
// fileDir is where the keyring's own file backend keeps data on
// platforms without a native secret service.
func NewKeyringProvider(fileDir string) *KeyringProvider {
	return &KeyringProvider{fileDir: fileDir}
}

// open returns a configured keyring instance.
func (p *KeyringProvider) open() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  p.fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("kestrel-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return ring, nil
}

// Secret retrieves the stored secret for an account.
func (p *KeyringProvider) Secret(accountID string) (string, error) {
	ring, err := p.open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(accountID)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get secret for %q: %w", accountID, err)
	}
	return string(item.Data), nil
}

// SetSecret stores the secret for an account.
func (p *KeyringProvider) SetSecret(accountID, secret string) error {
	ring, err := p.open()
	if err != nil {
		return err
	}

	if err := ring.Set(keyring.Item{Key: accountID, Data: []byte(secret)}); err != nil {
		return fmt.Errorf("failed to set secret for %q: %w", accountID, err)
	}
	return nil
}

// DeleteSecret removes the secret for an account.
func (p *KeyringProvider) DeleteSecret(accountID string) error {
	ring, err := p.open()
	if err != nil {
		return err
	}

	if err := ring.Remove(accountID); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete secret for %q: %w", accountID, err)
	}
	return nil
}
