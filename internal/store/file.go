package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	appLog "itevents/internal/log"
)

// FileStore keeps each document as <dir>/<name>.json.
type FileStore struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, now func() time.Time) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("store: directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &FileStore{dir: dir, now: now}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Load(_ context.Context, name string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		bad := path + ".corrupt-" + s.now().UTC().Format("20060102T150405")
		appLog.Error("store document corrupt, quarantining", fmt.Errorf("%w: %v", ErrCorrupt, err), "name", name, "moved_to", bad)
		if rerr := os.Rename(path, bad); rerr != nil {
			return false, rerr
		}
		return false, nil
	}
	return true, nil
}

// Save writes atomically via a temp file + rename with 0600 permissions.
func (s *FileStore) Save(_ context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path(name))
}
