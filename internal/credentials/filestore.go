package credentials

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kestrelmail/kestrel/internal/crypto"
)

// FileProvider stores secrets AES-GCM-encrypted in a single JSON file.
// It serves headless environments where no system keyring is
// available; the key comes from outside so the file alone is useless.
type FileProvider struct {
	path      string
	encryptor *crypto.Encryptor

	mu sync.Mutex
}

// NewFileProvider creates a file-backed provider at path, sealing
// secrets with the given encryptor.
func NewFileProvider(path string, encryptor *crypto.Encryptor) *FileProvider {
	return &FileProvider{path: path, encryptor: encryptor}
}

// load reads the secret file. A missing file is an empty store.
func (p *FileProvider) load() (map[string]string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}

	secrets := map[string]string{}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("failed to decode secret file: %w", err)
	}
	return secrets, nil
}

// save writes the secret file with restrictive permissions.
func (p *FileProvider) save(secrets map[string]string) error {
	data, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to encode secret file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("failed to create secret directory: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write secret file: %w", err)
	}
	return nil
}

// Secret retrieves and decrypts the stored secret for an account.
func (p *FileProvider) Secret(accountID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	secrets, err := p.load()
	if err != nil {
		return "", err
	}

	sealed, ok := secrets[accountID]
	if !ok {
		return "", ErrNotFound
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode secret for %q: %w", accountID, err)
	}
	plain, err := p.encryptor.Decrypt(raw)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret for %q: %w", accountID, err)
	}
	return string(plain), nil
}

// SetSecret encrypts and stores the secret for an account.
func (p *FileProvider) SetSecret(accountID, secret string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	secrets, err := p.load()
	if err != nil {
		return err
	}

	sealed, err := p.encryptor.Encrypt([]byte(secret))
	if err != nil {
		return fmt.Errorf("failed to encrypt secret for %q: %w", accountID, err)
	}
	secrets[accountID] = base64.StdEncoding.EncodeToString(sealed)

	return p.save(secrets)
}

// DeleteSecret removes the secret for an account.
func (p *FileProvider) DeleteSecret(accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	secrets, err := p.load()
	if err != nil {
		return err
	}

	if _, ok := secrets[accountID]; !ok {
		return ErrNotFound
	}
	delete(secrets, accountID)

	return p.save(secrets)
}
