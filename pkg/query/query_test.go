package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/vgraph/vgraph/pkg/adjacency"
	"github.com/vgraph/vgraph/pkg/base"
	"github.com/vgraph/vgraph/pkg/hnsw"
	"github.com/vgraph/vgraph/pkg/storage"
	"github.com/vgraph/vgraph/pkg/vtypes"
)

type harness struct {
	store *base.Store
	index *hnsw.Index
	adj   *adjacency.Index
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := base.New(ctx, storage.NewMemory())
	if err != nil {
		t.Fatalf("base.New: %v", err)
	}
	index, err := hnsw.New(ctx, store)
	if err != nil {
		t.Fatalf("hnsw.New: %v", err)
	}
	return &harness{store: store, index: index, adj: adjacency.New()}
}

func seedVector(axis int, magnitude float32) vtypes.Vector {
	v := make(vtypes.Vector, vtypes.Dim)
	v[axis] = magnitude
	v[(axis+1)%vtypes.Dim] = 0.001
	out, _ := v.Normalize()
	return out
}

func (h *harness) addNoun(ctx context.Context, t *testing.T, id string, typ vtypes.NounType, vec vtypes.Vector, user map[string]any) {
	t.Helper()
	if err := h.store.SaveNounVector(ctx, vtypes.NounVectorRecord{ID: id, Vector: vec}); err != nil {
		t.Fatalf("SaveNounVector(%s): %v", id, err)
	}
	if err := h.store.SaveNounMetadata(ctx, id, vtypes.NounMetadata{Noun: typ, User: user}); err != nil {
		t.Fatalf("SaveNounMetadata(%s): %v", id, err)
	}
	if err := h.index.Insert(ctx, id, vec); err != nil {
		t.Fatalf("hnsw.Insert(%s): %v", id, err)
	}
}

func (h *harness) addVerb(ctx context.Context, t *testing.T, typ vtypes.VerbType, source, target string) {
	t.Helper()
	id := vtypes.NewID()
	vec := seedVector(10, 1)
	if err := h.store.SaveVerbVector(ctx, vtypes.VerbVectorRecord{ID: id, Vector: vec, Verb: typ, SourceID: source, TargetID: target}); err != nil {
		t.Fatalf("SaveVerbVector: %v", err)
	}
	if err := h.store.SaveVerbMetadata(ctx, id, vtypes.VerbMetadata{Verb: typ, SourceID: source, TargetID: target, Weight: 1}); err != nil {
		t.Fatalf("SaveVerbMetadata: %v", err)
	}
	h.adj.InsertEdge(adjacency.Edge{ID: id, SourceID: source, TargetID: target, Type: typ})
}

func TestSearchEmptyStoreReturnsEmptySlice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := New(h.store, h.index, h.adj, nil)

	results, err := e.Search(ctx, Query{LikeVector: seedVector(0, 1), Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %v, want empty", results)
	}
}

func TestSearchFindsNearestByVector(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := New(h.store, h.index, h.adj, nil)

	var target string
	for i := 0; i < 50; i++ {
		id := vtypes.NewID()
		if i == 25 {
			target = id
		}
		h.addNoun(ctx, t, id, vtypes.NounConcept, seedVector(i%vtypes.Dim, 1), nil)
	}

	results, err := e.Search(ctx, Query{LikeVector: seedVector(25%vtypes.Dim, 1), Limit: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != target {
		t.Fatalf("results = %+v, want nearest %s", results, target)
	}
	if results[0].Score < 0.99 {
		t.Fatalf("score = %f, want near 1.0 for exact match", results[0].Score)
	}
}

func TestSearchWhereSelectiveFastPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := New(h.store, h.index, h.adj, nil)

	personID := vtypes.NewID()
	h.addNoun(ctx, t, personID, vtypes.NounPerson, seedVector(1, 1), map[string]any{"name": "Ada"})
	orgID := vtypes.NewID()
	h.addNoun(ctx, t, orgID, vtypes.NounOrganization, seedVector(2, 1), nil)

	results, err := e.Search(ctx, Query{
		LikeVector: seedVector(1, 1),
		Where:      &MetadataPredicate{NounType: vtypes.NounPerson},
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != personID {
		t.Fatalf("results = %+v, want only %s", results, personID)
	}
}

func TestSearchConnectedTraversal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := New(h.store, h.index, h.adj, nil)

	a, b, c := vtypes.NewID(), vtypes.NewID(), vtypes.NewID()
	h.addNoun(ctx, t, a, vtypes.NounPerson, seedVector(1, 1), nil)
	h.addNoun(ctx, t, b, vtypes.NounPerson, seedVector(2, 1), nil)
	h.addNoun(ctx, t, c, vtypes.NounPerson, seedVector(3, 1), nil)
	h.addVerb(ctx, t, vtypes.VerbWorksWith, a, b)
	h.addVerb(ctx, t, vtypes.VerbWorksWith, b, c)

	results, err := e.Search(ctx, Query{
		Connected: &ConnectedSpec{From: []string{a}, Via: []vtypes.VerbType{vtypes.VerbWorksWith}, Hops: 2},
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].ID != b || results[1].ID != c {
		t.Fatalf("results = %+v, want [%s, %s] ordered by hop", results, b, c)
	}
}

func TestSearchEmbedFailurePropagates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	boom := fmt.Errorf("boom")
	e := New(h.store, h.index, h.adj, func(context.Context, string) (vtypes.Vector, error) {
		return nil, boom
	})

	_, err := e.Search(ctx, Query{LikeText: "hello"})
	if err == nil {
		t.Fatalf("Search: want error from failing EmbedFn")
	}
}

func TestSearchLimitCapsResults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := New(h.store, h.index, h.adj, nil)

	for i := 0; i < 20; i++ {
		h.addNoun(ctx, t, vtypes.NewID(), vtypes.NounConcept, seedVector(i%vtypes.Dim, 1), nil)
	}

	results, err := e.Search(ctx, Query{LikeVector: seedVector(5, 1), Limit: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
}
