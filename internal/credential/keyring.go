package credential

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const serviceName = "mailsync"

// ErrNotFound is returned when no credential exists for a key.
var ErrNotFound = errors.New("credential not found")

// Open returns the system keyring used for provider credentials.
func Open() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailsync/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailsync-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Store reads and writes account credentials in a keyring. OAuth tokens
// are kept as JSON under "oauth-<account>"; IMAP passwords as raw bytes
// under "imap-<account>".
type Store struct {
	ring keyring.Keyring
}

// NewStore wraps ring. Tests pass keyring.NewArrayKeyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func tokenKey(accountID string) string    { return "oauth-" + accountID }
func passwordKey(accountID string) string { return "imap-" + accountID }

// Token returns the stored OAuth token for an account.
func (s *Store) Token(accountID string) (*oauth2.Token, error) {
	data, err := s.get(tokenKey(accountID))
	if err != nil {
		return nil, err
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decoding token for %q: %w", accountID, err)
	}
	return &tok, nil
}

// SaveToken persists tok for an account, replacing any previous value.
func (s *Store) SaveToken(accountID string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token for %q: %w", accountID, err)
	}
	return s.set(tokenKey(accountID), data)
}

// Password returns the stored IMAP password for an account.
func (s *Store) Password(accountID string) (string, error) {
	data, err := s.get(passwordKey(accountID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetPassword stores the IMAP password for an account.
func (s *Store) SetPassword(accountID, password string) error {
	return s.set(passwordKey(accountID), []byte(password))
}

// Delete removes every credential stored for an account.
func (s *Store) Delete(accountID string) error {
	for _, key := range []string{tokenKey(accountID), passwordKey(accountID)} {
		err := s.ring.Remove(key)
		if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("deleting credential %q: %w", key, err)
		}
	}
	return nil
}

func (s *Store) get(key string) ([]byte, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", key, err)
	}
	return item.Data, nil
}

func (s *Store) set(key string, data []byte) error {
	err := s.ring.Set(keyring.Item{
		Key:  key,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}
