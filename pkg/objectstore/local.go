package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore implements Store against a directory on the local filesystem,
// used in development and in tests in place of S3 (spec §6 leaves object
// storage optional; StorageConfig.Enabled selects between the two).
type LocalStore struct {
	root string
}

// NewLocalStore constructs a LocalStore rooted at root, creating it if absent.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object store root %s: %w", root, err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// UploadDirectory copies every file under localDir into s.root/prefix.
func (s *LocalStore) UploadDirectory(ctx context.Context, prefix, localDir string) error {
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		key := prefix + filepath.ToSlash(rel)
		dest := s.path(key)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(dest, data, 0o644)
	})
}

// DownloadPrefix copies every object under prefix into localDir.
func (s *LocalStore) DownloadPrefix(ctx context.Context, prefix, localDir string) error {
	root := s.path(prefix)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		dest := filepath.Join(localDir, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(dest, data, 0o644)
	})
}

// ListKeys enumerates keys under prefix.
func (s *LocalStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	root := s.path(prefix)
	var keys []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return keys, nil
}

// DownloadBytes reads one object's contents.
func (s *LocalStore) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	return os.ReadFile(s.path(key))
}

// DownloadText reads one object's contents as a string.
func (s *LocalStore) DownloadText(ctx context.Context, key string) (string, error) {
	b, err := s.DownloadBytes(ctx, key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Presign returns a file:// URL; there is no real expiry for local files, so
// ttl is ignored.
func (s *LocalStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "file://" + strings.TrimPrefix(s.path(key), "/"), nil
}
