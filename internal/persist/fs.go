package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/crypto"
)

const blobExt = ".blob"

// FS implements Store backed by the local file system. Each key maps to
// one file under the data root; the namespace separator ":" becomes a
// directory level, so "entry:{id}" lands in entry/{id}.blob.
type FS struct {
	root string // absolute path to the data directory
}

// NewFS creates a new FS store rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("persist: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create root: %w", err)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute data directory. Used by the watcher.
func (f *FS) Root() string { return f.root }

// path resolves a key to an absolute file path and rejects any result
// that escapes the data root (directory traversal).
func (f *FS) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("persist: empty key: %w", apperr.ErrInvalidInput)
	}
	rel := filepath.Clean(strings.ReplaceAll(key, ":", string(os.PathSeparator))) + blobExt
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("persist: absolute key not allowed: %s: %w", key, apperr.ErrInvalidInput)
	}
	abs := filepath.Join(f.root, rel)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("persist: key escapes data root: %s: %w", key, apperr.ErrInvalidInput)
	}
	return abs, nil
}

// KeyForPath maps an absolute file path under the root back to its key.
// Returns "" for paths that are not blob files.
func (f *FS) KeyForPath(abs string) string {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || !strings.HasSuffix(rel, blobExt) || strings.HasPrefix(rel, "..") {
		return ""
	}
	rel = strings.TrimSuffix(rel, blobExt)
	return strings.ReplaceAll(rel, string(os.PathSeparator), ":")
}

// Put atomically writes the packed blob: tmp file, fsync, rename.
func (f *FS) Put(_ context.Context, key string, blob crypto.Blob) error {
	abs, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("persist: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".laguz-tmp-*")
	if err != nil {
		return fmt.Errorf("persist: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(blob.Pack()); err != nil {
		return fmt.Errorf("persist: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("persist: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("persist: rename: %w", err)
	}
	success = true
	return nil
}

// Get reads and unpacks the blob stored under key.
func (f *FS) Get(_ context.Context, key string) (crypto.Blob, error) {
	abs, err := f.path(key)
	if err != nil {
		return crypto.Blob{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return crypto.Blob{}, fmt.Errorf("persist: get %s: %w", key, apperr.ErrNotFound)
		}
		return crypto.Blob{}, fmt.Errorf("persist: read %s: %w", key, err)
	}
	return crypto.Unpack(data)
}

// List walks the data root and returns every key with the given prefix.
func (f *FS) List(_ context.Context, prefix string) ([]string, error) {
	out := []string{}
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		key := f.KeyForPath(p)
		if key != "" && strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist: list %q: %w", prefix, err)
	}
	return out, nil
}

// Delete removes the file for key, reporting whether it existed.
func (f *FS) Delete(_ context.Context, key string) (bool, error) {
	abs, err := f.path(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("persist: delete %s: %w", key, err)
	}
	return true, nil
}

// Close is a no-op for the file-system backend.
func (f *FS) Close() error { return nil }
