// Package store persists hook definitions. A Backend is a flat key/value
// blob store; the HookStore layers typed JSON CRUD on top of whichever
// backend is configured.
package store

import (
	"context"
	"errors"
	"io"
)

// Common store errors.
var (
	ErrBackendNotFound  = errors.New("storage backend not found")
	ErrNoDefaultBackend = errors.New("no default storage backend configured")
	ErrKeyNotFound      = errors.New("key not found in storage")
	ErrInvalidConfig    = errors.New("invalid storage configuration")
	ErrBackendNotReady  = errors.New("storage backend not ready")
)

// Backend is one storage target for hook definitions.
type Backend interface {
	// Init prepares the backend from its configuration map.
	Init(config map[string]interface{}) error

	// Save stores the data under key, replacing any previous value.
	Save(ctx context.Context, key string, data io.Reader) error

	// Load retrieves the value for key, or ErrKeyNotFound.
	Load(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key, or returns ErrKeyNotFound.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key holds a value.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every key with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Type is the backend kind: memory, filesystem, redis, s3, or gcs.
	Type string `json:"type"`

	// Config holds backend-specific settings.
	Config map[string]interface{} `json:"config,omitempty"`
}

// Manager holds named backends and routes operations to the default one.
type Manager struct {
	backends    map[string]Backend
	defaultName string
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{backends: make(map[string]Backend)}
}

// Register adds a backend under a name. The first registered backend
// becomes the default.
func (m *Manager) Register(name string, backend Backend) {
	m.backends[name] = backend
	if m.defaultName == "" {
		m.defaultName = name
	}
}

// SetDefault selects the backend used by the untargeted operations.
func (m *Manager) SetDefault(name string) error {
	if _, exists := m.backends[name]; !exists {
		return ErrBackendNotFound
	}
	m.defaultName = name
	return nil
}

// Backend returns a backend by name.
func (m *Manager) Backend(name string) (Backend, error) {
	backend, exists := m.backends[name]
	if !exists {
		return nil, ErrBackendNotFound
	}
	return backend, nil
}

// Default returns the default backend.
func (m *Manager) Default() (Backend, error) {
	if m.defaultName == "" {
		return nil, ErrNoDefaultBackend
	}
	return m.Backend(m.defaultName)
}

// Save stores data through the default backend.
func (m *Manager) Save(ctx context.Context, key string, data io.Reader) error {
	backend, err := m.Default()
	if err != nil {
		return err
	}
	return backend.Save(ctx, key, data)
}

// Load reads data through the default backend.
func (m *Manager) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	backend, err := m.Default()
	if err != nil {
		return nil, err
	}
	return backend.Load(ctx, key)
}

// Delete removes a key through the default backend.
func (m *Manager) Delete(ctx context.Context, key string) error {
	backend, err := m.Default()
	if err != nil {
		return err
	}
	return backend.Delete(ctx, key)
}

// List lists keys through the default backend.
func (m *Manager) List(ctx context.Context, prefix string) ([]string, error) {
	backend, err := m.Default()
	if err != nil {
		return nil, err
	}
	return backend.List(ctx, prefix)
}

// Close closes every registered backend, returning the last failure.
func (m *Manager) Close() error {
	var lastErr error
	for _, backend := range m.backends {
		if err := backend.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Open constructs and initializes a backend from a Config.
func Open(cfg Config) (Backend, error) {
	var backend Backend

	switch cfg.Type {
	case "", "memory":
		backend = NewMemoryBackend()
	case "filesystem":
		backend = NewFileSystemBackend()
	case "redis":
		backend = NewRedisBackend()
	case "s3":
		backend = NewS3Backend()
	case "gcs":
		backend = NewGCSBackend()
	default:
		return nil, ErrInvalidConfig
	}

	if err := backend.Init(cfg.Config); err != nil {
		return nil, err
	}
	return backend, nil
}
