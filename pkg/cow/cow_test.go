package cow

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/vgraph/vgraph/pkg/storage"
	"github.com/vgraph/vgraph/pkg/verrors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(storage.NewMemory())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestPutBlobIsContentAddressedAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("hello vgraph")
	h1, err := s.PutBlob(ctx, data)
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	h2, err := s.PutBlob(ctx, data)
	if err != nil {
		t.Fatalf("PutBlob (again): %v", err)
	}
	if h1 != h2 {
		t.Fatalf("identical content hashed to %q and %q, want equal", h1, h2)
	}

	got, err := s.GetBlob(ctx, h1)
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("GetBlob = %q, want %q", got, data)
	}
}

func TestPutBlobCompressesCompressibleData(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := bytes.Repeat([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), 200)
	h, err := s.PutBlob(ctx, data)
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	stored, err := s.adapter.ReadObject(ctx, objectPath(h))
	if err != nil {
		t.Fatalf("ReadObject: %v", err)
	}
	if stored[0] != flagCompressed {
		t.Fatalf("highly repetitive blob was not compressed")
	}
	got, err := s.GetBlob(ctx, h)
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round-trip mismatch after compression")
	}
}

func TestTreeAndBlobOfSameBytesHashDifferently(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	payload := []byte(`{"entries":[],"createdAt":"2024-01-01T00:00:00Z"}`)
	blobHash, err := s.PutBlob(ctx, payload)
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	treeHash := hashContent(objectKindTree, payload)
	if blobHash == treeHash {
		t.Fatalf("blob and tree hashes of identical bytes collided: %q", blobHash)
	}
}

func TestPutTreeSortsEntriesAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tree := Tree{
		Entries: []TreeEntry{
			{Name: "zeta", Hash: "h1", Type: "blob", Size: 1},
			{Name: "alpha", Hash: "h2", Type: "blob", Size: 2},
		},
		CreatedAt: time.Unix(0, 0).UTC(),
	}
	hash, err := s.PutTree(ctx, tree)
	if err != nil {
		t.Fatalf("PutTree: %v", err)
	}
	got, err := s.GetTree(ctx, hash)
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if got.Entries[0].Name != "alpha" || got.Entries[1].Name != "zeta" {
		t.Fatalf("entries not sorted by name: %+v", got.Entries)
	}
}

func TestCommitRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	treeHash, _ := s.PutTree(ctx, Tree{})
	hash, err := s.PutCommit(ctx, Commit{
		Tree:      treeHash,
		Timestamp: time.Unix(100, 0).UTC(),
		Author:    "system",
		Message:   "initial snapshot",
	})
	if err != nil {
		t.Fatalf("PutCommit: %v", err)
	}
	c, err := s.GetCommit(ctx, hash)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if c.Tree != treeHash || c.Author != "system" {
		t.Fatalf("commit round-trip mismatch: %+v", c)
	}
}

func TestGetBlobOfUnknownHashIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetBlob(ctx, "0000000000000000000000000000000000000000000000000000000000000000")
	if verrors.KindOf(err) != verrors.NotFound {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestRefCreateOnlyUpdateOnlyCASAndForce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SetRef(ctx, "heads/main", "c1", CreateOnly, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetRef(ctx, "heads/main", "c2", CreateOnly, ""); verrors.KindOf(err) != verrors.Conflict {
		t.Fatalf("create-only over existing ref: err = %v, want Conflict", err)
	}
	if err := s.SetRef(ctx, "heads/other", "c1", UpdateOnly, ""); verrors.KindOf(err) != verrors.NotFound {
		t.Fatalf("update-only on missing ref: err = %v, want NotFound", err)
	}
	if err := s.SetRef(ctx, "heads/main", "c3", CAS, "wrong"); verrors.KindOf(err) != verrors.Conflict {
		t.Fatalf("CAS with wrong expected: err = %v, want Conflict", err)
	}
	if err := s.SetRef(ctx, "heads/main", "c3", CAS, "c1"); err != nil {
		t.Fatalf("CAS with correct expected: %v", err)
	}
	if err := s.SetRef(ctx, "heads/main", "c4", Force, ""); err != nil {
		t.Fatalf("force: %v", err)
	}
	got, err := s.GetRef(ctx, "heads/main")
	if err != nil || got != "c4" {
		t.Fatalf("GetRef = %q, %v, want c4", got, err)
	}
}

func TestDeleteRefRefusesLastBranchAndHeadBranch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SetRef(ctx, "heads/main", "c1", CreateOnly, ""); err != nil {
		t.Fatalf("create main: %v", err)
	}
	if err := s.SetHead(ctx, "main"); err != nil {
		t.Fatalf("SetHead: %v", err)
	}

	if err := s.DeleteRef(ctx, "heads/main"); verrors.KindOf(err) != verrors.Invalid {
		t.Fatalf("deleting the only branch: err = %v, want Invalid", err)
	}

	if err := s.SetRef(ctx, "heads/feature", "c2", CreateOnly, ""); err != nil {
		t.Fatalf("create feature: %v", err)
	}
	if err := s.DeleteRef(ctx, "heads/main"); verrors.KindOf(err) != verrors.Invalid {
		t.Fatalf("deleting HEAD's branch: err = %v, want Invalid", err)
	}
	if err := s.DeleteRef(ctx, "heads/feature"); err != nil {
		t.Fatalf("deleting a non-HEAD branch with another branch present: %v", err)
	}
}

func TestResolveHeadFollowsSymbolicRef(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SetRef(ctx, "heads/main", "c1", CreateOnly, ""); err != nil {
		t.Fatalf("create main: %v", err)
	}
	if err := s.SetHead(ctx, "main"); err != nil {
		t.Fatalf("SetHead: %v", err)
	}
	got, err := s.ResolveHead(ctx)
	if err != nil || got != "c1" {
		t.Fatalf("ResolveHead = %q, %v, want c1", got, err)
	}
}
