package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hookline/hookline/pkg/types"
)

// hookKeyPrefix namespaces hook definitions inside the backend.
const hookKeyPrefix = "hooks/"

// HookStore persists hook definitions as JSON documents on a Backend.
type HookStore struct {
	backend Backend
}

// NewHookStore wraps a backend with typed hook CRUD.
func NewHookStore(backend Backend) *HookStore {
	return &HookStore{backend: backend}
}

// Save writes a hook definition, replacing any previous version. Runtime
// state is not persisted.
func (s *HookStore) Save(ctx context.Context, hook *types.Hook) error {
	if hook.ID == "" {
		return fmt.Errorf("%w: hook has no id", ErrInvalidConfig)
	}

	stored := *hook
	stored.IsRunning = false

	raw, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode hook %s: %w", hook.ID, err)
	}
	return s.backend.Save(ctx, hookKey(hook.ID), bytes.NewReader(raw))
}

// Get loads one hook definition by ID.
func (s *HookStore) Get(ctx context.Context, id string) (*types.Hook, error) {
	reader, err := s.backend.Load(ctx, hookKey(id))
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	var hook types.Hook
	if err := json.NewDecoder(reader).Decode(&hook); err != nil {
		return nil, fmt.Errorf("failed to decode hook %s: %w", id, err)
	}
	return &hook, nil
}

// Delete removes a hook definition.
func (s *HookStore) Delete(ctx context.Context, id string) error {
	return s.backend.Delete(ctx, hookKey(id))
}

// Exists reports whether a hook definition is stored.
func (s *HookStore) Exists(ctx context.Context, id string) (bool, error) {
	return s.backend.Exists(ctx, hookKey(id))
}

// List loads every stored hook, ordered by ID for stable iteration.
func (s *HookStore) List(ctx context.Context) ([]*types.Hook, error) {
	keys, err := s.backend.List(ctx, hookKeyPrefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	hooks := make([]*types.Hook, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(key, hookKeyPrefix), ".json")
		hook, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, hook)
	}
	return hooks, nil
}

func hookKey(id string) string {
	return hookKeyPrefix + id + ".json"
}
