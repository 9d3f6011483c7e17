package storage

import (
	"context"
	"errors"
	"testing"
)

// backendUnderTest exercises the Backend contract shared by the local and
// in-memory implementations.
func backendUnderTest(t *testing.T, b Backend) {
	ctx := context.Background()

	if _, err := b.Get(ctx, "alice/files/x/original"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing key: err = %v, want ErrNotFound", err)
	}

	if err := b.Put(ctx, "alice/files/x/original", []byte("v1"), "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err := b.Get(ctx, "alice/files/x/original")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "v1" {
		t.Errorf("Get = %q, want %q", data, "v1")
	}

	// Overwrite replaces in place.
	if err := b.Put(ctx, "alice/files/x/original", []byte("v2"), "text/plain"); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	data, _ = b.Get(ctx, "alice/files/x/original")
	if string(data) != "v2" {
		t.Errorf("Get after overwrite = %q, want %q", data, "v2")
	}

	if err := b.Copy(ctx, "alice/files/x/original", "alice/files/x/derivatives/original-copy"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	data, err = b.Get(ctx, "alice/files/x/derivatives/original-copy")
	if err != nil || string(data) != "v2" {
		t.Errorf("Get copy = %q, %v", data, err)
	}

	if err := b.Put(ctx, "alice/files/y/original", []byte("other"), ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	keys, err := b.List(ctx, "alice/files/x/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("List = %v, want 2 keys under the x prefix", keys)
	}

	if err := b.Delete(ctx, "alice/files/x/original"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Get(ctx, "alice/files/x/original"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
	}

	// Deleting a missing key is not an error.
	if err := b.Delete(ctx, "alice/files/x/original"); err != nil {
		t.Errorf("Delete missing key: %v", err)
	}
}

func TestLocalBackend(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	backendUnderTest(t, b)
}

func TestMemoryBackend(t *testing.T) {
	backendUnderTest(t, NewMemoryBackend())
}

func TestLocalBackendContentType(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := b.Put(ctx, "alice/files/x/ai/summary.md", []byte("---\n---\n"), "text/markdown; charset=utf-8"); err != nil {
		t.Fatal(err)
	}
	if got := b.ContentType("alice/files/x/ai/summary.md"); got != "text/markdown; charset=utf-8" {
		t.Errorf("ContentType = %q", got)
	}
	if got := b.ContentType("alice/files/never/original"); got != "" {
		t.Errorf("ContentType for missing key = %q, want empty", got)
	}
}

func TestLocalBackendRejectsTraversal(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	err = b.Put(ctx, "../escape", []byte("x"), "")
	if err == nil {
		t.Fatal("Put with traversal key succeeded")
	}
	if !IsPermanent(err) {
		t.Errorf("traversal error is not permanent: %v", err)
	}
}
