package store

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// backendContract exercises the Backend behaviors every implementation
// must share.
func backendContract(t *testing.T, backend Backend) {
	t.Helper()
	ctx := context.Background()

	// Missing keys.
	if _, err := backend.Load(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Load(missing) = %v, want ErrKeyNotFound", err)
	}
	if err := backend.Delete(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Delete(missing) = %v, want ErrKeyNotFound", err)
	}
	if exists, err := backend.Exists(ctx, "missing"); err != nil || exists {
		t.Errorf("Exists(missing) = %v, %v", exists, err)
	}

	// Round trip.
	if err := backend.Save(ctx, "hooks/a.json", strings.NewReader(`{"id":"a"}`)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	reader, err := backend.Load(ctx, "hooks/a.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	data, err := io.ReadAll(reader)
	_ = reader.Close()
	if err != nil || string(data) != `{"id":"a"}` {
		t.Errorf("Load returned %q, %v", data, err)
	}

	// Overwrite.
	if err := backend.Save(ctx, "hooks/a.json", strings.NewReader("v2")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	reader, err = backend.Load(ctx, "hooks/a.json")
	if err != nil {
		t.Fatalf("Load after overwrite failed: %v", err)
	}
	data, _ = io.ReadAll(reader)
	_ = reader.Close()
	if string(data) != "v2" {
		t.Errorf("overwrite did not replace: %q", data)
	}

	// Prefix listing.
	if err := backend.Save(ctx, "hooks/b.json", strings.NewReader("b")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := backend.Save(ctx, "other/c.json", strings.NewReader("c")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	keys, err := backend.List(ctx, "hooks/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "hooks/a.json" || keys[1] != "hooks/b.json" {
		t.Errorf("List(hooks/) = %v", keys)
	}

	// Delete.
	if err := backend.Delete(ctx, "hooks/a.json"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if exists, _ := backend.Exists(ctx, "hooks/a.json"); exists {
		t.Error("key still exists after Delete")
	}
}

func TestMemoryBackendContract(t *testing.T) {
	backend := NewMemoryBackend()
	if err := backend.Init(nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	backendContract(t, backend)
}

func TestFileSystemBackendContract(t *testing.T) {
	backend := NewFileSystemBackend()
	if err := backend.Init(map[string]interface{}{"basePath": t.TempDir()}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	backendContract(t, backend)
}

func TestFileSystemBackendRequiresBasePath(t *testing.T) {
	backend := NewFileSystemBackend()
	if err := backend.Init(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Init without basePath = %v, want ErrInvalidConfig", err)
	}
}

func TestFileSystemBackendRejectsTraversal(t *testing.T) {
	backend := NewFileSystemBackend()
	if err := backend.Init(map[string]interface{}{"basePath": t.TempDir()}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	ctx := context.Background()
	for _, key := range []string{"../escape", "/abs/path"} {
		if err := backend.Save(ctx, key, strings.NewReader("x")); err == nil {
			t.Errorf("Save(%q) should be rejected", key)
		}
	}
}

func TestFileSystemBackendPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := NewFileSystemBackend()
	if err := first.Init(map[string]interface{}{"basePath": dir}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := first.Save(ctx, "hooks/x.json", strings.NewReader("persisted")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	second := NewFileSystemBackend()
	if err := second.Init(map[string]interface{}{"basePath": dir}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	reader, err := second.Load(ctx, "hooks/x.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	data, _ := io.ReadAll(reader)
	_ = reader.Close()
	if string(data) != "persisted" {
		t.Errorf("Load = %q", data)
	}

	// Data lives where configured.
	if _, err := os.Stat(filepath.Join(dir, "hooks", "x.json")); err != nil {
		t.Errorf("expected file on disk: %v", err)
	}
}

func TestMemoryBackendInitResets(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	if err := backend.Save(ctx, "k", strings.NewReader("v")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := backend.Init(nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if backend.Len() != 0 {
		t.Errorf("Init should reset data, Len = %d", backend.Len())
	}
}

func TestMemoryBackendCopiesData(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	buf := []byte("original")
	if err := backend.Save(ctx, "k", strings.NewReader(string(buf))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reader, err := backend.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	first, _ := io.ReadAll(reader)
	_ = reader.Close()

	// Mutating a loaded copy must not affect the stored value.
	for i := range first {
		first[i] = 'x'
	}
	reader, _ = backend.Load(ctx, "k")
	second, _ := io.ReadAll(reader)
	_ = reader.Close()
	if string(second) != "original" {
		t.Errorf("stored data was mutated: %q", second)
	}
}
