package persist

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/crypto"
)

// backends under test; minio is exercised against a live object store
// only, so it is covered by interface conformance at compile time.
var _ = []Store{(*FS)(nil), (*SQLite)(nil), (*Minio)(nil)}

func backends(t *testing.T) map[string]Store {
	t.Helper()

	fsStore, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	sqlStore, err := OpenSQLite(filepath.Join(t.TempDir(), "laguz.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Store{"fs": fsStore, "sqlite": sqlStore}
}

func mustEncrypt(t *testing.T, plaintext string) crypto.Blob {
	t.Helper()
	b, err := crypto.Encrypt([]byte(plaintext), "test-pw")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return b
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			blob := mustEncrypt(t, "round trip")
			if err := s.Put(ctx, EntryKey("abc"), blob); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := s.Get(ctx, EntryKey("abc"))
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			pt, err := crypto.Decrypt(got, "test-pw")
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if string(pt) != "round trip" {
				t.Errorf("got %q", pt)
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, EntryKey("ghost")); !errors.Is(err, apperr.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestPutReplaces(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := SettingsKey("user1")
			if err := s.Put(ctx, key, mustEncrypt(t, "v1")); err != nil {
				t.Fatalf("Put v1: %v", err)
			}
			if err := s.Put(ctx, key, mustEncrypt(t, "v2")); err != nil {
				t.Fatalf("Put v2: %v", err)
			}
			got, err := s.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			pt, err := crypto.Decrypt(got, "test-pw")
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if string(pt) != "v2" {
				t.Errorf("got %q, want v2", pt)
			}
		})
	}
}

func TestListByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{EntryKey("a"), EntryKey("b"), PendingKey("a"), SettingsKey("u")} {
				if err := s.Put(ctx, key, mustEncrypt(t, key)); err != nil {
					t.Fatalf("Put %s: %v", key, err)
				}
			}
			keys, err := s.List(ctx, PrefixEntry)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			sort.Strings(keys)
			want := []string{"entry:a", "entry:b"}
			if len(keys) != len(want) {
				t.Fatalf("List returned %v, want %v", keys, want)
			}
			for i := range want {
				if keys[i] != want[i] {
					t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
				}
			}
		})
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := PendingKey("x")
			if err := s.Put(ctx, key, mustEncrypt(t, "bye")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			existed, err := s.Delete(ctx, key)
			if err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if !existed {
				t.Error("Delete reported missing for existing key")
			}
			existed, err = s.Delete(ctx, key)
			if err != nil {
				t.Fatalf("second Delete: %v", err)
			}
			if existed {
				t.Error("Delete reported existing for deleted key")
			}
			if _, err := s.Get(ctx, key); !errors.Is(err, apperr.ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestFSKeyTraversalRejected(t *testing.T) {
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	ctx := context.Background()
	for _, key := range []string{"", "../escape", "entry:../../etc/passwd"} {
		if err := s.Put(ctx, key, mustEncrypt(t, "x")); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("key %q: expected ErrInvalidInput, got %v", key, err)
		}
	}
}

func TestFSKeyPathMapping(t *testing.T) {
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	ctx := context.Background()
	if err := s.Put(ctx, EntryKey("abc"), mustEncrypt(t, "x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	abs := filepath.Join(s.Root(), "entry", "abc"+blobExt)
	if got := s.KeyForPath(abs); got != "entry:abc" {
		t.Errorf("KeyForPath = %q, want entry:abc", got)
	}
	if got := s.KeyForPath(filepath.Join(s.Root(), "stray.txt")); got != "" {
		t.Errorf("KeyForPath for non-blob = %q, want empty", got)
	}
}
