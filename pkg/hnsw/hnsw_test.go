package hnsw

import (
	"context"
	"testing"

	"github.com/vgraph/vgraph/pkg/base"
	"github.com/vgraph/vgraph/pkg/storage"
	"github.com/vgraph/vgraph/pkg/verrors"
	"github.com/vgraph/vgraph/pkg/vtypes"
)

func unitVec(major int) vtypes.Vector {
	v := make(vtypes.Vector, vtypes.Dim)
	v[major%vtypes.Dim] = 1
	v, _ = v.Normalize()
	return v
}

func newTestIndex(t *testing.T) (*Index, *base.Store) {
	t.Helper()
	ctx := context.Background()
	store, err := base.New(ctx, storage.NewMemory())
	if err != nil {
		t.Fatalf("base.New: %v", err)
	}
	idx, err := New(ctx, store)
	if err != nil {
		t.Fatalf("hnsw.New: %v", err)
	}
	return idx, store
}

func seedNoun(t *testing.T, ctx context.Context, store *base.Store, id string, vec vtypes.Vector) {
	t.Helper()
	if err := store.SaveNounVector(ctx, vtypes.NounVectorRecord{ID: id, Vector: vec, Connections: map[int][]string{}}); err != nil {
		t.Fatalf("SaveNounVector: %v", err)
	}
	if err := store.SaveNounMetadata(ctx, id, vtypes.NounMetadata{Noun: vtypes.NounConcept}); err != nil {
		t.Fatalf("SaveNounMetadata: %v", err)
	}
}

func TestInsertAndSearchFindsExactMatch(t *testing.T) {
	ctx := context.Background()
	idx, store := newTestIndex(t)

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = vtypes.NewID()
		vec := unitVec(i)
		seedNoun(t, ctx, store, ids[i], vec)
		if err := idx.Insert(ctx, ids[i], vec); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	results, err := idx.Search(ctx, unitVec(2), 1, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != ids[2] {
		t.Fatalf("Search nearest = %v, want [%s]", results, ids[2])
	}
	if idx.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", idx.Size())
	}
}

func TestDeleteTombstonesAndExcludesFromSearch(t *testing.T) {
	ctx := context.Background()
	idx, store := newTestIndex(t)

	ids := make([]string, 3)
	for i := range ids {
		ids[i] = vtypes.NewID()
		vec := unitVec(i)
		seedNoun(t, ctx, store, ids[i], vec)
		if err := idx.Insert(ctx, ids[i], vec); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	if err := idx.Delete(ctx, ids[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if idx.Size() != 2 {
		t.Fatalf("Size() after delete = %d, want 2", idx.Size())
	}

	results, err := idx.Search(ctx, unitVec(0), 3, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.ID == ids[0] {
			t.Fatalf("deleted id %s still present in search results", ids[0])
		}
	}
}

func TestDeleteUnknownIDIsNotFound(t *testing.T) {
	idx, _ := newTestIndex(t)
	err := idx.Delete(context.Background(), vtypes.NewID())
	if verrors.KindOf(err) != verrors.NotFound {
		t.Fatalf("Delete on unknown id: kind = %v, want NotFound (err %v)", verrors.KindOf(err), err)
	}
}

func TestUpdateReplacesVectorInPlace(t *testing.T) {
	ctx := context.Background()
	idx, store := newTestIndex(t)
	id := vtypes.NewID()
	seedNoun(t, ctx, store, id, unitVec(0))
	if err := idx.Insert(ctx, id, unitVec(0)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	other := vtypes.NewID()
	seedNoun(t, ctx, store, other, unitVec(1))
	if err := idx.Insert(ctx, other, unitVec(1)); err != nil {
		t.Fatalf("Insert other: %v", err)
	}

	if err := idx.Update(ctx, id, unitVec(1)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if idx.Size() != 2 {
		t.Fatalf("Size() after update = %d, want 2 (delete+insert keeps one live copy)", idx.Size())
	}
}

func TestSearchOnEmptyIndexReturnsNoResults(t *testing.T) {
	idx, _ := newTestIndex(t)
	results, err := idx.Search(context.Background(), unitVec(0), 5, 0)
	if err != nil {
		t.Fatalf("Search on empty index: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("Search on empty index = %v, want none", results)
	}
}
