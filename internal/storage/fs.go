package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FSStore implements Deleter over a local directory.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-based storage backend rooted at root.
func NewFSStore(root string) (*FSStore, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: invalid root path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root %s is not a directory", absRoot)
	}
	return &FSStore{root: absRoot}, nil
}

func (s *FSStore) Provider() string { return "filesystem" }

func (s *FSStore) DeleteObject(_ context.Context, key string) error {
	key, err := fsKey(key)
	if err != nil {
		return err
	}
	fullPath := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("storage: delete file: %w", err)
	}
	return nil
}
