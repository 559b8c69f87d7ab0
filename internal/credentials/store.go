package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pierrebridge/pkg/logging"
)

// Store is the credential cache. All mutation rewrites the whole file
// via write-temp-then-rename so a kill mid-save never leaves a partial
// record behind. Token values are never logged.
type Store struct {
	mu   sync.RWMutex
	path string
	file *File
}

// NewStore opens (or lazily creates) the credential cache at path.
// A missing file is not an error; it means never authenticated.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		file: &File{},
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}

	if err := s.reload(); err != nil {
		return nil, err
	}

	return s, nil
}

// Path returns the credential file location.
func (s *Store) Path() string {
	return s.path
}

// reload replaces the in-memory copy with the file contents.
func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.file = &File{}
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read credential file: %w", err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse credential file %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.file = &file
	s.mu.Unlock()
	return nil
}

// save writes the whole record atomically. Caller must hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set credential file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close credential file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace credential file: %w", err)
	}

	return nil
}

// PierreToken returns the stored backend token pair, or nil.
func (s *Store) PierreToken() *TokenPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Pierre
}

// SetPierreToken replaces the backend token pair and persists.
func (s *Store) SetPierreToken(pair *TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Pierre = pair
	if err := s.save(); err != nil {
		return err
	}
	logging.Debug("Credentials", "Stored backend token (expires %s)", expiryString(pair))
	return nil
}

// ClearPierreToken removes the backend token pair and persists.
func (s *Store) ClearPierreToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Pierre = nil
	return s.save()
}

// ProviderToken returns the stored token pair for a provider, or nil.
func (s *Store) ProviderToken(provider string) *TokenPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Providers[provider]
}

// SetProviderToken replaces one provider's token pair and persists.
// Other providers are untouched.
func (s *Store) SetProviderToken(provider string, pair *TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file.Providers == nil {
		s.file.Providers = make(map[string]*TokenPair)
	}
	s.file.Providers[provider] = pair
	if err := s.save(); err != nil {
		return err
	}
	logging.Debug("Credentials", "Stored %s token (expires %s)", provider, expiryString(pair))
	return nil
}

// ClearProviderToken removes one provider's token pair and persists.
func (s *Store) ClearProviderToken(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.file.Providers, provider)
	return s.save()
}

// Registration returns the stored client registration, or nil.
func (s *Store) Registration() *ClientRegistration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Client
}

// SetRegistration replaces the client registration and persists. The
// server-assigned values always overwrite whatever was proposed locally.
func (s *Store) SetRegistration(reg *ClientRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Client = reg
	if err := s.save(); err != nil {
		return err
	}
	logging.Debug("Credentials", "Stored client registration for %s", reg.ClientID)
	return nil
}

// Clear wipes all credentials and persists the empty record.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = &File{}
	if err := s.save(); err != nil {
		return err
	}
	logging.Info("Credentials", "Cleared all stored credentials")
	return nil
}

func expiryString(pair *TokenPair) string {
	if pair == nil || pair.ExpiresAt.IsZero() {
		return "never"
	}
	return pair.ExpiresAt.Format("2006-01-02T15:04:05Z07:00")
}
