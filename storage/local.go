package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore writes objects to a directory served under BaseURL.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore creates root if needed. baseURL is the prefix returned by
// Save, for example "/uploads" or "https://cdn.example.com/images".
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage: local root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", root, err)
	}
	return &LocalStore{root: root, baseURL: baseURL}, nil
}

// Root returns the directory objects are written to.
func (s *LocalStore) Root() string {
	return s.root
}

// Save writes data atomically: a temp file in the same directory is renamed
// into place, so readers never observe a partial image.
func (s *LocalStore) Save(ctx context.Context, data []byte, filename string, meta Metadata) (string, error) {
	name, err := ObjectName(filename)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("storage: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.root, name)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("storage: rename %s: %w", name, err)
	}

	return joinURL(s.baseURL, name), nil
}

// Delete removes the object and reports whether it existed.
func (s *LocalStore) Delete(ctx context.Context, urlOrName string) (bool, error) {
	name, err := ObjectName(urlOrName)
	if err != nil {
		return false, err
	}
	err = os.Remove(filepath.Join(s.root, name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return true, nil
}

// Exists reports whether the object is present.
func (s *LocalStore) Exists(ctx context.Context, urlOrName string) (bool, error) {
	name, err := ObjectName(urlOrName)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.root, name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: stat %s: %w", name, err)
	}
	return true, nil
}
