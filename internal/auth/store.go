package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Store persists the single credential of this process.
// Load fails soft: a missing, unreadable or unparsable record reads as absent.
type Store interface {
	Load() (*Credential, bool)
	Save(c *Credential) error
	Clear() error
}

// FileStore keeps the credential as one JSON file.
type FileStore struct {
	fs   afero.Fs
	path string
	log  *zap.SugaredLogger
}

func NewFileStore(fs afero.Fs, path string, log *zap.SugaredLogger) *FileStore {
	return &FileStore{fs: fs, path: path, log: log}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() (*Credential, bool) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warnw("credential file unreadable, treating as absent", "path", s.path, "error", err)
		}
		return nil, false
	}

	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		s.log.Warnw("credential file corrupt, treating as absent", "path", s.path, "error", err)
		return nil, false
	}
	if !c.Usable() {
		return nil, false
	}
	return &c, true
}

// Save writes to a temp file in the same directory and renames it over the old record,
// so a crash mid-write leaves the previous credential intact.
func (s *FileStore) Save(c *Credential) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, ".credential-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = s.fs.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write credential: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close credential: %w", err)
	}
	if err := s.fs.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod credential: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace credential: %w", err)
	}

	s.log.Debugw("credential saved", "path", s.path)
	return nil
}

func (s *FileStore) Clear() error {
	if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
