package vgraph_test

import (
	"context"
	"testing"

	vgraph "github.com/vgraph/vgraph"
	"github.com/vgraph/vgraph/pkg/query"
	"github.com/vgraph/vgraph/pkg/storage"
	"github.com/vgraph/vgraph/pkg/verrors"
	"github.com/vgraph/vgraph/pkg/version"
	"github.com/vgraph/vgraph/pkg/vtypes"
)

func newTestCore(t *testing.T) *vgraph.Core {
	t.Helper()
	ctx := context.Background()
	cfg := vgraph.DefaultConfig(storage.NewMemory())
	core, err := vgraph.New(ctx, cfg)
	if err != nil {
		t.Fatalf("vgraph.New: %v", err)
	}
	t.Cleanup(core.Close)
	return core
}

func unitVector(axis int) vtypes.Vector {
	v := make(vtypes.Vector, vtypes.Dim)
	v[axis] = 1
	v[(axis+1)%vtypes.Dim] = 0.001
	out, _ := v.Normalize()
	return out
}

// Scenario 1 (spec §8): a single entity survives a save/get round-trip
// with its vector intact and its metadata's reserved fields restored.
func TestScenarioSingleEntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)

	id, err := core.AddNoun(ctx, vgraph.NounInput{
		Vector: unitVector(3),
		Type:   vtypes.NounConcept,
		Fields: map[string]any{"label": "gravity"},
	})
	if err != nil {
		t.Fatalf("AddNoun: %v", err)
	}

	vec, meta, err := core.GetNoun(ctx, id)
	if err != nil {
		t.Fatalf("GetNoun: %v", err)
	}
	if meta.Noun != vtypes.NounConcept {
		t.Fatalf("Noun = %s, want Concept", meta.Noun)
	}
	if meta.User["label"] != "gravity" {
		t.Fatalf("User[label] = %v, want gravity", meta.User["label"])
	}
	if len(vec.Vector) != vtypes.Dim {
		t.Fatalf("vector dim = %d, want %d", len(vec.Vector), vtypes.Dim)
	}
}

// Scenario 2 (spec §8): search-by-vector retrieves the nearest seeded
// neighbor ahead of unrelated entries.
func TestScenarioSearchRetrievesNearest(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)

	var target string
	for i := 0; i < 30; i++ {
		id, err := core.AddNoun(ctx, vgraph.NounInput{Vector: unitVector(i % vtypes.Dim), Type: vtypes.NounConcept})
		if err != nil {
			t.Fatalf("AddNoun: %v", err)
		}
		if i == 7 {
			target = id
		}
	}

	results, err := core.Search(ctx, query.Query{LikeVector: unitVector(7), Limit: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != target {
		t.Fatalf("results = %+v, want nearest %s", results, target)
	}
}

// Scenario 3 (spec §8): a graph traversal from an anchor returns its
// neighbors ordered by hop distance.
func TestScenarioGraphTraversal(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)

	a, err := core.AddNoun(ctx, vgraph.NounInput{Vector: unitVector(0), Type: vtypes.NounPerson})
	if err != nil {
		t.Fatalf("AddNoun a: %v", err)
	}
	b, err := core.AddNoun(ctx, vgraph.NounInput{Vector: unitVector(1), Type: vtypes.NounPerson})
	if err != nil {
		t.Fatalf("AddNoun b: %v", err)
	}
	c, err := core.AddNoun(ctx, vgraph.NounInput{Vector: unitVector(2), Type: vtypes.NounPerson})
	if err != nil {
		t.Fatalf("AddNoun c: %v", err)
	}
	if _, err := core.Relate(ctx, vgraph.VerbInput{Type: vtypes.VerbWorksWith, SourceID: a, TargetID: b, Weight: 1}); err != nil {
		t.Fatalf("Relate a-b: %v", err)
	}
	if _, err := core.Relate(ctx, vgraph.VerbInput{Type: vtypes.VerbWorksWith, SourceID: b, TargetID: c, Weight: 1}); err != nil {
		t.Fatalf("Relate b-c: %v", err)
	}

	results, err := core.Search(ctx, query.Query{
		Connected: &query.ConnectedSpec{From: []string{a}, Via: []vtypes.VerbType{vtypes.VerbWorksWith}, Hops: 2},
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].ID != b || results[1].ID != c {
		t.Fatalf("results = %+v, want [%s, %s]", results, b, c)
	}
}

// Scenario 5 (spec §8): recording the same content twice updates the
// existing version's tag instead of appending a new one; distinct
// content appends.
func TestScenarioVersionDedup(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)

	id, err := core.AddNoun(ctx, vgraph.NounInput{
		Vector: unitVector(9), Type: vtypes.NounDocument, Fields: map[string]any{"title": "v1"},
	})
	if err != nil {
		t.Fatalf("AddNoun: %v", err)
	}

	if _, err := core.SaveVersion(ctx, id, version.Entry{Tag: "first"}); err != nil {
		t.Fatalf("SaveVersion #1: %v", err)
	}
	if _, err := core.SaveVersion(ctx, id, version.Entry{Tag: "first-again"}); err != nil {
		t.Fatalf("SaveVersion #2: %v", err)
	}

	versions, err := core.ListVersions(ctx, id)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("len(versions) = %d, want 1 (identical content deduped)", len(versions))
	}
	if versions[0].Tag != "first-again" {
		t.Fatalf("Tag = %s, want first-again (tag updated on dedup)", versions[0].Tag)
	}

	// Changing the noun's content and re-saving produces a genuinely new
	// version rather than deduping against the first.
	if _, err := core.AddNoun(ctx, vgraph.NounInput{
		ID: id, Vector: unitVector(9), Type: vtypes.NounDocument, Fields: map[string]any{"title": "v2"},
	}); err != nil {
		t.Fatalf("AddNoun (update): %v", err)
	}
	if _, err := core.SaveVersion(ctx, id, version.Entry{Tag: "second"}); err != nil {
		t.Fatalf("SaveVersion #3: %v", err)
	}
	versions, err = core.ListVersions(ctx, id)
	if err != nil {
		t.Fatalf("ListVersions #2: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("len(versions) = %d, want 2 (distinct content appends)", len(versions))
	}
	if versions[0].Tag != "second" {
		t.Fatalf("versions[0].Tag = %s, want second (newest-first)", versions[0].Tag)
	}
}

// Scenario 6 (spec §8), facade side: reads through Core succeed and an
// idle controller reports no queued work. Opening the write circuit and
// the read/write isolation are exercised in pkg/backpressure's tests.
func TestScenarioCircuitIsolation(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)

	id, err := core.AddNoun(ctx, vgraph.NounInput{Vector: unitVector(12), Type: vtypes.NounConcept})
	if err != nil {
		t.Fatalf("AddNoun: %v", err)
	}

	// Reads succeed through the facade's read-class admission.
	if _, _, err := core.GetNoun(ctx, id); err != nil {
		t.Fatalf("GetNoun: %v", err)
	}
	if _, err := core.Search(ctx, query.Query{LikeVector: unitVector(12), Limit: 1}); err != nil {
		t.Fatalf("Search: %v", err)
	}

	// Reads and writes are admitted through independent circuit breakers
	// (spec §4.6: "per-class (read/write) isolation"); a healthy store's
	// snapshot reports no queued work regardless of class.
	snap := core.BackpressureSnapshot()
	if snap.QueueDepth != 0 {
		t.Fatalf("QueueDepth = %d, want 0 on an idle controller", snap.QueueDepth)
	}
}

// Scenario 4 of spec §8 (WAL recovery) is exercised directly against
// pkg/wal; these scenarios exercise the Core facade end-to-end instead.
func TestScenarioDanglingVerbEndpointsTolerated(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)

	_, err := core.Relate(ctx, vgraph.VerbInput{Type: vtypes.VerbRelatesTo, SourceID: vtypes.NewID(), TargetID: vtypes.NewID(), Weight: 1})
	if err != nil {
		t.Fatalf("Relate with dangling endpoints should succeed: %v", err)
	}
}

func TestDeleteNounHidesFromGetAndSearch(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)

	id, err := core.AddNoun(ctx, vgraph.NounInput{Vector: unitVector(5), Type: vtypes.NounConcept})
	if err != nil {
		t.Fatalf("AddNoun: %v", err)
	}
	if err := core.DeleteNoun(ctx, id); err != nil {
		t.Fatalf("DeleteNoun: %v", err)
	}
	if _, _, err := core.GetNoun(ctx, id); verrors.KindOf(err) != verrors.NotFound {
		t.Fatalf("GetNoun after delete: kind = %v, want NotFound", verrors.KindOf(err))
	}

	results, err := core.Search(ctx, query.Query{LikeVector: unitVector(5), Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.ID == id {
			t.Fatalf("deleted id %s still returned by search", id)
		}
	}
}

func TestCommitProducesAResolvableChain(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)

	if _, err := core.AddNoun(ctx, vgraph.NounInput{Vector: unitVector(1), Type: vtypes.NounConcept}); err != nil {
		t.Fatalf("AddNoun: %v", err)
	}
	first, err := core.Commit(ctx, "tester", "initial commit")
	if err != nil {
		t.Fatalf("Commit #1: %v", err)
	}
	if first == "" {
		t.Fatalf("Commit #1 returned empty hash")
	}

	if _, err := core.AddNoun(ctx, vgraph.NounInput{Vector: unitVector(2), Type: vtypes.NounConcept}); err != nil {
		t.Fatalf("AddNoun #2: %v", err)
	}
	second, err := core.Commit(ctx, "tester", "second commit")
	if err != nil {
		t.Fatalf("Commit #2: %v", err)
	}
	if second == first {
		t.Fatalf("second commit hash equals first")
	}

	// A commit with no dirty nouns still succeeds with an empty tree.
	if _, err := core.Commit(ctx, "tester", "empty commit"); err != nil {
		t.Fatalf("Commit #3 (empty): %v", err)
	}
}

func TestCompactPurgesTombstones(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)

	id, err := core.AddNoun(ctx, vgraph.NounInput{Vector: unitVector(4), Type: vtypes.NounConcept})
	if err != nil {
		t.Fatalf("AddNoun: %v", err)
	}
	if err := core.DeleteNoun(ctx, id); err != nil {
		t.Fatalf("DeleteNoun: %v", err)
	}
	purged, err := core.Compact(ctx)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	purgedAgain, err := core.Compact(ctx)
	if err != nil {
		t.Fatalf("Compact #2: %v", err)
	}
	if purgedAgain != 0 {
		t.Fatalf("purged on second compact = %d, want 0", purgedAgain)
	}
}

func TestCheckpointAndWALRecover(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)

	ok, err := core.Checkpoint(ctx)
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if !ok {
		t.Fatalf("Checkpoint reported WAL disabled, want enabled by default")
	}
	if _, err := core.WALRecover(ctx); err != nil {
		t.Fatalf("WALRecover: %v", err)
	}
}
