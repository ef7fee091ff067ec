// Package blob provides filesystem-backed blob storage for offloaded memory
// payloads. Keys map to files under a root directory; a missing key is a
// storage error, matching the behavior of a remote object store.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quietriver/mnemo/core"
)

// FSStore stores blobs as files under a root directory.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return &core.StorageError{Op: "blob put", Err: err}
	}

	// Write-then-rename so readers never observe a partial blob.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return &core.StorageError{Op: "blob put", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &core.StorageError{Op: "blob put", Err: err}
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.StorageError{Op: "blob get", Err: err}
	}
	return data, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &core.StorageError{Op: "blob delete", Err: err}
	}
	return nil
}

// path validates the key and resolves it under the root. Keys are opaque
// refs like "memories/<id>.json"; traversal outside the root is rejected.
func (s *FSStore) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || filepath.IsAbs(key) {
		return "", &core.ValidationError{Op: "blob key", Reason: fmt.Sprintf("invalid key %q", key)}
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}
