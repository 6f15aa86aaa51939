// Package blob stores push attachments on the local filesystem.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrBlobNotFound is returned when a key has no stored blob.
var ErrBlobNotFound = errors.New("blob not found")

// FileStore keeps each blob in its own file named after its key.
type FileStore struct {
	root string
}

// NewFileStore returns a store rooted at dir, creating it with 0700 when missing.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("blob: root is not a directory")
	}
	return &FileStore{root: root}, nil
}

// Keys are canonical UUIDs, so a key can never escape the root.
func (s *FileStore) path(key string) (string, error) {
	id, err := uuid.Parse(key)
	if err != nil || id.String() != key {
		return "", fmt.Errorf("blob: invalid key %q", key)
	}
	return filepath.Join(s.root, key+".blob"), nil
}

// Put writes exactly size bytes from r under key. Partial files are removed.
func (s *FileStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err = io.CopyN(f, r, size); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return fmt.Errorf("blob: write %s: %w", key, err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return err
	}
	return f.Close()
}

// Open returns a reader for the blob stored under key.
func (s *FileStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p) // #nosec G304 path built from a validated key
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	return f, nil
}

// Delete removes the blob. Deleting a missing blob is not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
