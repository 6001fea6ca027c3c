package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
	"go.uber.org/zap"
)

const (
	keyringService = "inbox-attachments"
	keyringKey     = "oauth-credential"
)

// KeyringStore keeps the credential in the OS keychain instead of a plain file.
type KeyringStore struct {
	ring keyring.Keyring
	log  *zap.SugaredLogger
}

// OpenKeyringStore opens the platform keyring; fileDir backs the encrypted-file fallback.
func OpenKeyringStore(fileDir string, log *zap.SugaredLogger) (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(keyringService + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringStore(ring, log), nil
}

func NewKeyringStore(ring keyring.Keyring, log *zap.SugaredLogger) *KeyringStore {
	return &KeyringStore{ring: ring, log: log}
}

func (s *KeyringStore) Load() (*Credential, bool) {
	item, err := s.ring.Get(keyringKey)
	if err != nil {
		if !errors.Is(err, keyring.ErrKeyNotFound) {
			s.log.Warnw("keyring unreadable, treating credential as absent", "error", err)
		}
		return nil, false
	}

	var c Credential
	if err := json.Unmarshal(item.Data, &c); err != nil {
		s.log.Warnw("keyring credential corrupt, treating as absent", "error", err)
		return nil, false
	}
	if !c.Usable() {
		return nil, false
	}
	return &c, true
}

func (s *KeyringStore) Save(c *Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	err = s.ring.Set(keyring.Item{
		Key:         keyringKey,
		Data:        data,
		Label:       "inbox-attachments OAuth credential",
		Description: "Gmail and Drive access for inbox-attachments",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", keyringKey, err)
	}
	return nil
}

// Clear succeeds when nothing is stored; the file backend reports that as os.ErrNotExist.
func (s *KeyringStore) Clear() error {
	err := s.ring.Remove(keyringKey)
	if errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", keyringKey, err)
	}
	return nil
}

var _ Store = (*KeyringStore)(nil)
