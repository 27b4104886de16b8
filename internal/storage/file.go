package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ignite/delivery-stats/internal/domain"
)

type fileCredential struct {
	AccessToken  string    `yaml:"access_token"`
	RefreshToken string    `yaml:"refresh_token"`
	ClientID     string    `yaml:"client_id,omitempty"`
	UpdatedAt    time.Time `yaml:"updated_at"`
}

// FileCredentialStore keeps renewed tokens in a YAML state file. Every Save
// rewrites the whole file through a temp file and rename, so a crash leaves
// either the old or the new file and never a torn one.
type FileCredentialStore struct {
	path string

	mu     sync.Mutex
	loaded bool
	data   map[string]map[domain.Platform]fileCredential
}

// NewFileCredentialStore creates a store backed by path. The file is created
// on first Save.
func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path}
}

// Load implements session.CredentialStore.
func (s *FileCredentialStore) Load(_ context.Context, accountID string, p domain.Platform) (domain.Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return domain.Credential{}, false, err
	}
	fc, ok := s.data[accountID][p]
	if !ok {
		return domain.Credential{}, false, nil
	}
	return domain.Credential{
		AccessToken:  fc.AccessToken,
		RefreshToken: fc.RefreshToken,
		ClientID:     fc.ClientID,
		UpdatedAt:    fc.UpdatedAt,
	}, true, nil
}

// Save implements session.CredentialStore.
func (s *FileCredentialStore) Save(_ context.Context, accountID string, p domain.Platform, cred domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	if s.data[accountID] == nil {
		s.data[accountID] = make(map[domain.Platform]fileCredential)
	}
	s.data[accountID][p] = fileCredential{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ClientID:     cred.ClientID,
		UpdatedAt:    cred.UpdatedAt,
	}
	return s.writeLocked()
}

func (s *FileCredentialStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	s.data = make(map[string]map[domain.Platform]fileCredential)
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading credential file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return fmt.Errorf("parsing credential file %s: %w", s.path, err)
	}
	if s.data == nil {
		s.data = make(map[string]map[domain.Platform]fileCredential)
	}
	s.loaded = true
	return nil
}

func (s *FileCredentialStore) writeLocked() error {
	out, err := yaml.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("encoding credential file: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating credential dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp credential file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("writing credential file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing credential file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod credential file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing credential file: %w", err)
	}
	return nil
}
