package storage

import (
	"context"
	"os"
	"testing"

	"github.com/vgraph/vgraph/pkg/verrors"
)

func adapters(t *testing.T) map[string]Adapter {
	t.Helper()
	dir, err := os.MkdirTemp("", "vgraph-localfs-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	fs, err := NewLocalFS(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Adapter{
		"memory":  NewMemory(),
		"localfs": fs,
	}
}

func TestAdapterPutGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			if err := a.WriteObject(ctx, "a/b.json", []byte(`{"x":1}`)); err != nil {
				t.Fatalf("write: %v", err)
			}
			got, err := a.ReadObject(ctx, "a/b.json")
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(got) != `{"x":1}` {
				t.Fatalf("got %s", got)
			}
			if err := a.DeleteObject(ctx, "a/b.json"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := a.ReadObject(ctx, "a/b.json"); verrors.KindOf(err) != verrors.NotFound {
				t.Fatalf("expected NotFound after delete, got %v", err)
			}
			// deleting again is idempotent
			if err := a.DeleteObject(ctx, "a/b.json"); err != nil {
				t.Fatalf("second delete should be a no-op: %v", err)
			}
		})
	}
}

func TestAdapterReadMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			_, err := a.ReadObject(ctx, "nope")
			if verrors.KindOf(err) != verrors.NotFound {
				t.Fatalf("expected NotFound, got %v", err)
			}
		})
	}
}

func TestAdapterListPagination(t *testing.T) {
	ctx := context.Background()
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				key := "entities/nouns/metadata/3f/" + string(rune('a'+i)) + ".json"
				if err := a.WriteObject(ctx, key, []byte("{}")); err != nil {
					t.Fatal(err)
				}
			}
			var all []string
			cursor := ""
			for {
				keys, hasMore, next, err := a.List(ctx, "entities/nouns/metadata/3f/", 2, cursor)
				if err != nil {
					t.Fatal(err)
				}
				all = append(all, keys...)
				if !hasMore {
					break
				}
				cursor = next
			}
			if len(all) != 5 {
				t.Fatalf("expected 5 keys total, got %d: %v", len(all), all)
			}
		})
	}
}

func TestAdapterListEmptyNeverClaimsMore(t *testing.T) {
	ctx := context.Background()
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			keys, hasMore, _, err := a.List(ctx, "nothing/here/", 10, "")
			if err != nil {
				t.Fatal(err)
			}
			if len(keys) != 0 {
				t.Fatalf("expected no keys, got %v", keys)
			}
			if hasMore {
				t.Fatalf("empty page must not claim has_more (spec safety rule)")
			}
		})
	}
}

func TestAppenderEmulation(t *testing.T) {
	ctx := context.Background()
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			ap, ok := a.(Appender)
			if !ok {
				t.Skip("adapter does not implement Appender")
			}
			if err := ap.Append(ctx, "wal/log1", []byte("a\n")); err != nil {
				t.Fatal(err)
			}
			if err := ap.Append(ctx, "wal/log1", []byte("b\n")); err != nil {
				t.Fatal(err)
			}
			got, err := a.ReadObject(ctx, "wal/log1")
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != "a\nb\n" {
				t.Fatalf("got %q", got)
			}
		})
	}
}

func TestLocalFSReadOnlyRefusesMutation(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewLocalFS(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := fs.WriteObject(ctx, "x", []byte("y")); verrors.KindOf(err) != verrors.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}
