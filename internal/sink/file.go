package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore writes objects to the local filesystem. Keys are paths; relative
// keys are resolved against Root. Writes go to a temporary file that is
// renamed into place, so readers never observe a partial image.
type FileStore struct {
	Root string
}

// NewFileStore returns a store rooted at root ("" means keys are used as-is).
func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

// Path returns the filesystem path for key.
func (f *FileStore) Path(key string) string {
	if filepath.IsAbs(key) || f.Root == "" {
		return filepath.Clean(key)
	}
	return filepath.Join(f.Root, key)
}

// Put implements Store.
func (f *FileStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := f.Path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sink: create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("sink: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sink: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("sink: close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("sink: chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("sink: rename into %s: %w", path, err)
	}
	return nil
}

// Name implements Store.
func (f *FileStore) Name() string { return "file" }
