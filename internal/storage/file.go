package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"smart_farm/internal/sysmgr"
)

// FileStore keeps each configuration record in its own file under Dir.
type FileStore struct {
	Dir string
	mu  sync.Mutex
}

func (f *FileStore) path(id int) string {
	return filepath.Join(f.Dir, fmt.Sprintf("sysmgr-config-%d.json", id))
}

// LoadConfig reads the record file.
func (f *FileStore) LoadConfig(_ context.Context, id int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := os.ReadFile(f.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", sysmgr.ErrNotFound, f.path(id))
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return b, nil
}

// SaveConfig writes a temporary file and renames it over the record so a
// crash never leaves a half-written configuration behind.
func (f *FileStore) SaveConfig(_ context.Context, id int, blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	dst := f.path(id)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
