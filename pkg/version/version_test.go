package version

import (
	"context"
	"testing"
	"time"

	"github.com/vgraph/vgraph/pkg/storage"
	"github.com/vgraph/vgraph/pkg/vtypes"
)

func TestHashEntityIsDeterministicRegardlessOfKeyOrder(t *testing.T) {
	a := map[string]any{"name": "alice", "age": 30}
	b := map[string]any{"age": 30, "name": "alice"}

	ha, err := HashEntity(a)
	if err != nil {
		t.Fatalf("HashEntity(a): %v", err)
	}
	hb, err := HashEntity(b)
	if err != nil {
		t.Fatalf("HashEntity(b): %v", err)
	}
	if ha != hb {
		t.Fatalf("hashes differ for the same content in different key order: %q vs %q", ha, hb)
	}
}

func TestRecordAppendsNewVersionAndDedupsByContentHash(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())
	entityID := vtypes.NewID()

	entity1 := map[string]any{"name": "alice"}
	hash1, _ := HashEntity(entity1)
	bytes1, _ := vtypes.CanonicalJSON(entity1)

	idx, err := s.Record(ctx, entityID, "main", hash1, bytes1, Entry{Author: "tester"})
	if err != nil {
		t.Fatalf("Record (first): %v", err)
	}
	if len(idx.Versions) != 1 || idx.Versions[0].Version != 1 {
		t.Fatalf("index after first record = %+v, want a single version 1", idx.Versions)
	}

	// Same content again: no new entry, but tag/description update in place.
	idx, err = s.Record(ctx, entityID, "main", hash1, bytes1, Entry{Tag: "stable"})
	if err != nil {
		t.Fatalf("Record (dup content): %v", err)
	}
	if len(idx.Versions) != 1 {
		t.Fatalf("duplicate content appended a new version: %+v", idx.Versions)
	}
	if idx.Versions[0].Tag != "stable" {
		t.Fatalf("tag was not updated on the existing entry: %+v", idx.Versions[0])
	}

	entity2 := map[string]any{"name": "alice", "age": 31}
	hash2, _ := HashEntity(entity2)
	bytes2, _ := vtypes.CanonicalJSON(entity2)
	idx, err = s.Record(ctx, entityID, "main", hash2, bytes2, Entry{})
	if err != nil {
		t.Fatalf("Record (second content): %v", err)
	}
	if len(idx.Versions) != 2 || idx.Versions[1].Version != 2 {
		t.Fatalf("index after distinct content = %+v, want two versions", idx.Versions)
	}
}

func TestGetContentRoundTripsAndIsRoutedToSystemNamespace(t *testing.T) {
	ctx := context.Background()
	adapter := storage.NewMemory()
	s := New(adapter)
	entityID := vtypes.NewID()

	entity := map[string]any{"name": "bob"}
	hash, _ := HashEntity(entity)
	data, _ := vtypes.CanonicalJSON(entity)

	if _, err := s.Record(ctx, entityID, "main", hash, data, Entry{}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.GetContent(ctx, entityID, hash)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("GetContent = %q, want %q", got, data)
	}

	keys, _, _, err := adapter.List(ctx, "_system/", 0, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, k := range keys {
		if k == "_system/__system_version_"+entityID+"_"+hash+".json" {
			found = true
		}
	}
	if !found {
		t.Fatalf("version content was not routed under _system/, got keys %v", keys)
	}
}

func TestIndexAtTimeReturnsVersionInEffect(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())
	entityID := vtypes.NewID()

	t0 := time.Unix(1000, 0).UTC()
	t1 := time.Unix(2000, 0).UTC()
	h0, _ := HashEntity(map[string]any{"v": 0})
	h1, _ := HashEntity(map[string]any{"v": 1})

	if _, err := s.Record(ctx, entityID, "main", h0, []byte("{}"), Entry{Timestamp: t0}); err != nil {
		t.Fatalf("Record v0: %v", err)
	}
	if _, err := s.Record(ctx, entityID, "main", h1, []byte("{}"), Entry{Timestamp: t1}); err != nil {
		t.Fatalf("Record v1: %v", err)
	}

	idx, err := s.Get(ctx, entityID, "main")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	entry, ok := idx.AtTime(t0.Add(500 * time.Millisecond))
	if !ok || entry.ContentHash != h0 {
		t.Fatalf("AtTime(mid) = %+v, %v, want the v0 entry", entry, ok)
	}
	entry, ok = idx.AtTime(t1.Add(time.Hour))
	if !ok || entry.ContentHash != h1 {
		t.Fatalf("AtTime(after v1) = %+v, %v, want the v1 entry", entry, ok)
	}
	_, ok = idx.AtTime(t0.Add(-time.Hour))
	if ok {
		t.Fatalf("AtTime before any version should report not-found")
	}
}
