// Package file persists the student identity in a TOML file so the same id is
// reused across sessions of one installation.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/adwski/classcast/backend/model"
)

const DefaultFileName = "identity.toml"

var ErrNoPath = errors.New("identity file path is empty")

type Store struct {
	mx   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns the identity file location under the user config dir.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating config dir: %w", err)
	}
	return filepath.Join(dir, "classcast", DefaultFileName), nil
}

func (s *Store) Path() string { return s.path }

// Load reads the identity, generating and saving a new one on first use.
func (s *Store) Load() (model.Identity, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.load()
}

// SetName stores a custom display name next to the identity.
func (s *Store) SetName(name string) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	id, err := s.load()
	if err != nil {
		return err
	}
	id.Name = name
	return s.save(id)
}

func (s *Store) load() (model.Identity, error) {
	if s.path == "" {
		return model.Identity{}, ErrNoPath
	}

	var id model.Identity
	_, err := toml.DecodeFile(s.path, &id)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return model.Identity{}, fmt.Errorf("reading %s: %w", s.path, err)
	case id.ID != "":
		return id, nil
	}

	id.ID = model.NewClientID()
	if err = s.save(id); err != nil {
		return model.Identity{}, err
	}
	return id, nil
}

func (s *Store) save(id model.Identity) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating identity dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".identity-*.toml")
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if err = toml.NewEncoder(tmp).Encode(id); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encoding identity: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}
	return nil
}
