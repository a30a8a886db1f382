package kv

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSqlite(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("missing key: ok=%v err=%v", ok, err)
			}

			if err := s.Put(ctx, "k1", []byte("v1"), time.Minute); err != nil {
				t.Fatalf("put: %v", err)
			}
			v, ok, err := s.Get(ctx, "k1")
			if err != nil || !ok || string(v) != "v1" {
				t.Fatalf("get: v=%q ok=%v err=%v", v, ok, err)
			}

			// Overwrite.
			if err := s.Put(ctx, "k1", []byte("v2"), time.Minute); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			v, _, _ = s.Get(ctx, "k1")
			if string(v) != "v2" {
				t.Errorf("expected v2, got %q", v)
			}
		})
	}
}

func TestStore_Expiry(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(ctx, "short", []byte("x"), 10*time.Millisecond); err != nil {
				t.Fatalf("put: %v", err)
			}
			time.Sleep(30 * time.Millisecond)
			if _, ok, _ := s.Get(ctx, "short"); ok {
				t.Error("expired entry should be absent")
			}
		})
	}
}

func TestStore_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.Put(ctx, "v1:google:en:ru:aaa", []byte("1"), time.Minute)
			_ = s.Put(ctx, "v1:google:en:de:bbb", []byte("2"), time.Minute)
			_ = s.Put(ctx, "v1:ollama:en:ru:ccc", []byte("3"), time.Minute)

			n, err := s.DeletePrefix(ctx, "v1:google:")
			if err != nil {
				t.Fatalf("delete prefix: %v", err)
			}
			if n != 2 {
				t.Errorf("expected 2 deleted, got %d", n)
			}
			if _, ok, _ := s.Get(ctx, "v1:ollama:en:ru:ccc"); !ok {
				t.Error("unrelated key should survive")
			}
		})
	}
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			reporter, ok := s.(StatsReporter)
			if !ok {
				t.Skip("store does not report stats")
			}
			_ = s.Put(ctx, "a", []byte("1"), time.Minute)
			_ = s.Put(ctx, "b", []byte("2"), time.Minute)
			stats, err := reporter.Stats(ctx)
			if err != nil {
				t.Fatalf("stats: %v", err)
			}
			if stats.Entries != 2 {
				t.Errorf("expected 2 entries, got %d", stats.Entries)
			}
		})
	}
}
