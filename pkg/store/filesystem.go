package store

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileSystemBackend stores each key as a file under a base directory.
type FileSystemBackend struct {
	basePath string
}

// NewFileSystemBackend creates an uninitialized filesystem backend.
func NewFileSystemBackend() *FileSystemBackend {
	return &FileSystemBackend{}
}

// Init implements Backend. The configuration requires a basePath entry;
// a leading ~/ expands to the user home directory.
func (f *FileSystemBackend) Init(config map[string]interface{}) error {
	basePath, _ := config["basePath"].(string)
	if basePath == "" {
		return fmt.Errorf("%w: basePath is required for the filesystem backend", ErrInvalidConfig)
	}

	if strings.HasPrefix(basePath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		basePath = filepath.Join(home, basePath[2:])
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return fmt.Errorf("failed to create base directory %s: %w", abs, err)
	}

	f.basePath = abs
	return nil
}

// Save implements Backend.
func (f *FileSystemBackend) Save(ctx context.Context, key string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.keyToPath(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	file, err := os.Create(path) // #nosec G304 - path is confined to basePath
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(file, data); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

// Load implements Backend.
func (f *FileSystemBackend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := f.keyToPath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path) // #nosec G304 - path is confined to basePath
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return file, nil
}

// Delete implements Backend.
func (f *FileSystemBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.keyToPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// Exists implements Backend.
func (f *FileSystemBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := f.keyToPath(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List implements Backend.
func (f *FileSystemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.basePath == "" {
		return nil, ErrBackendNotReady
	}

	var keys []string
	err := filepath.WalkDir(f.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(f.basePath, path)
		if relErr != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// Close implements Backend.
func (f *FileSystemBackend) Close() error {
	return nil
}

// keyToPath maps a key to its on-disk path, rejecting traversal outside
// the base directory.
func (f *FileSystemBackend) keyToPath(key string) (string, error) {
	if f.basePath == "" {
		return "", ErrBackendNotReady
	}

	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: key %q escapes the base directory", ErrInvalidConfig, key)
	}
	return filepath.Join(f.basePath, clean), nil
}
