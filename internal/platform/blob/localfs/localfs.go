// Package localfs stores report files on the local filesystem.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/phrazzld/report-api/internal/blob"
)

// Store writes objects below Root using the key as a relative path.
type Store struct {
	root string
}

var _ blob.Store = (*Store)(nil)

// New creates the root directory if needed.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) path(key string) (string, error) {
	if err := blob.ValidateReference(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put implements blob.Store. Files are written to a temp file first and
// renamed into place.
func (s *Store) Put(ctx context.Context, data []byte, hints blob.KeyHints) (blob.Object, error) {
	if err := ctx.Err(); err != nil {
		return blob.Object{}, err
	}

	key := blob.BuildKey(hints)
	abs, err := s.path(key)
	if err != nil {
		return blob.Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return blob.Object{}, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".upload-*")
	if err != nil {
		return blob.Object{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return blob.Object{}, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return blob.Object{}, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return blob.Object{}, fmt.Errorf("failed to move file into place: %w", err)
	}

	return blob.Object{
		Key:  key,
		URL:  "file://" + filepath.ToSlash(abs),
		Size: int64(len(data)),
	}, nil
}

// Get implements blob.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", blob.ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Delete implements blob.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
