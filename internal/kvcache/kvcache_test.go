package kvcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func exercise(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Get(ctx, KeyUser); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store err = %v, want ErrNotFound", err)
	}
	if err := store.Set(ctx, KeyUser, `{"id":"u1"}`); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := store.Set(ctx, KeyEditImage, "data:image/png;base64,AAAA"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	got, err := store.Get(ctx, KeyUser)
	if err != nil || got != `{"id":"u1"}` {
		t.Fatalf("Get() = %q, %v", got, err)
	}
	if err := store.Delete(ctx, KeyUser); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := store.Delete(ctx, KeyUser); err != nil {
		t.Fatalf("second Delete returned error: %v", err)
	}
	if _, err := store.Get(ctx, KeyUser); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after Delete err = %v, want ErrNotFound", err)
	}
	if got, _ := store.Get(ctx, KeyEditImage); got != "data:image/png;base64,AAAA" {
		t.Fatalf("Get(editImage) = %q", got)
	}
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.json")
	store, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile returned error: %v", err)
	}
	exercise(t, store)

	reopened, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile returned error: %v", err)
	}
	if got, err := reopened.Get(context.Background(), KeyEditImage); err != nil || got != "data:image/png;base64,AAAA" {
		t.Fatalf("reopened Get() = %q, %v", got, err)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("directory has %d entries, want only the cache file", len(entries))
	}
}

func TestFileRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	store, _ := NewFile(path)
	if _, err := store.Get(context.Background(), KeyUser); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on corrupt file err = %v, want decode error", err)
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	shared := NewMemory()
	alice := WithNamespace(shared, "alice")
	bob := WithNamespace(shared, "bob:")
	exercise(t, alice)

	ctx := context.Background()
	if err := alice.Set(ctx, KeyEditImage, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.Get(ctx, KeyEditImage); !errors.Is(err, ErrNotFound) {
		t.Fatalf("bob sees alice's value: %v", err)
	}
	if v, _ := shared.Get(ctx, "alice:"+KeyEditImage); v != "a" {
		t.Fatalf("underlying key = %q, want prefixed", v)
	}
}

func TestMemoryExpiresTTLKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	ns := WithNamespace(m, "user:u1")
	if err := SetWithTTL(ctx, ns, KeyEditImage, "data:image/png;base64,QUFB", time.Hour); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	if err := m.Set(ctx, "account", "kept"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := ns.Get(ctx, KeyEditImage); err != nil || v == "" {
		t.Fatalf("Get before expiry = %q, %v", v, err)
	}

	now = now.Add(time.Hour)
	if _, err := ns.Get(ctx, KeyEditImage); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after expiry err = %v, want ErrNotFound", err)
	}
	if got := m.Sweep(now); got != 1 {
		t.Fatalf("Sweep() = %d, want 1", got)
	}
	if len(m.values) != 1 {
		t.Fatalf("values left = %d, want 1", len(m.values))
	}
	if v, err := m.Get(ctx, "account"); err != nil || v != "kept" {
		t.Fatalf("plain key = %q, %v", v, err)
	}
}

func TestSetWithTTLFallsBackToSet(t *testing.T) {
	ctx := context.Background()
	store, err := NewFile(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if err := SetWithTTL(ctx, store, KeyUser, "{}", time.Nanosecond); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	if v, err := store.Get(ctx, KeyUser); err != nil || v != "{}" {
		t.Fatalf("Get = %q, %v", v, err)
	}
}
