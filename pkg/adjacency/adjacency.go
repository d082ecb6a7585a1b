// Package adjacency implements the Adjacency Index (spec component C3):
// an in-memory, derived cache of forward/reverse edge maps giving O(1)
// expected neighbor lookup over verbs persisted in pkg/base. It is never
// the source of truth — on crash or cold start it is rebuilt by
// scanning verbs, the same in-memory-index-over-persisted-rows shape as
// the teacher's pkg/graph, minus the SQL backing store.
package adjacency

import (
	"context"
	"sync"

	"github.com/vgraph/vgraph/pkg/base"
	"github.com/vgraph/vgraph/pkg/verrors"
	"github.com/vgraph/vgraph/pkg/vtypes"
)

// Direction selects which edge sets Neighbors consults, matching the
// teacher's "in"/"out"/"both" GetEdges idiom.
type Direction int

const (
	Out Direction = iota
	In
	Both
)

// Edge is the minimal shape the index needs: enough to route a removal
// or a type-filtered lookup without a round trip to pkg/base.
type Edge struct {
	ID       string
	SourceID string
	TargetID string
	Type     vtypes.VerbType
}

// Index holds the forward/reverse adjacency maps. Reads take the RLock;
// mutations (InsertEdge/RemoveEdge/ReplaceFrom) take the write lock, giving
// the "lock-free read / mutex write" pattern of spec §5 as a Go
// sync.RWMutex.
type Index struct {
	mu       sync.RWMutex
	outgoing map[string]map[string]bool // nodeID -> set<edgeID>
	incoming map[string]map[string]bool
	edgeByID map[string]Edge
}

// New constructs an empty index. Callers should follow with Rebuild
// before relying on it for anything but fresh writes.
func New() *Index {
	return &Index{
		outgoing: map[string]map[string]bool{},
		incoming: map[string]map[string]bool{},
		edgeByID: map[string]Edge{},
	}
}

// InsertEdge adds (or replaces) an edge. Called synchronously alongside
// the pkg/base verb write it mirrors (spec §4.3: "insertEdge/removeEdge
// are called synchronously with C2 mutations").
func (idx *Index) InsertEdge(e Edge) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(e.ID)
	idx.edgeByID[e.ID] = e
	addToSet(idx.outgoing, e.SourceID, e.ID)
	addToSet(idx.incoming, e.TargetID, e.ID)
}

// RemoveEdge drops an edge from all three maps. A removal of an unknown
// edge id is a no-op, matching the idempotent-delete contract of
// pkg/storage.
func (idx *Index) RemoveEdge(edgeID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(edgeID)
}

func (idx *Index) removeLocked(edgeID string) {
	e, ok := idx.edgeByID[edgeID]
	if !ok {
		return
	}
	delete(idx.edgeByID, edgeID)
	removeFromSet(idx.outgoing, e.SourceID, edgeID)
	removeFromSet(idx.incoming, e.TargetID, edgeID)
}

// Neighbors returns the edge ids touching id in the requested direction,
// optionally filtered to a single verb type. Spec §4.3: "O(1) expected" —
// the cost here is proportional to id's own degree, not the graph size.
func (idx *Index) Neighbors(id string, direction Direction, typ vtypes.VerbType) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var edgeIDs []string
	switch direction {
	case Out:
		edgeIDs = idx.collect(idx.outgoing[id])
	case In:
		edgeIDs = idx.collect(idx.incoming[id])
	default:
		edgeIDs = idx.collect(idx.outgoing[id])
		edgeIDs = append(edgeIDs, idx.collect(idx.incoming[id])...)
	}

	if typ == "" {
		return edgeIDs
	}
	filtered := make([]string, 0, len(edgeIDs))
	for _, eid := range edgeIDs {
		if idx.edgeByID[eid].Type == typ {
			filtered = append(filtered, eid)
		}
	}
	return filtered
}

// Edge looks up an edge's denormalized (source, target, type) tuple
// without a pkg/base round trip.
func (idx *Index) Edge(edgeID string) (Edge, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.edgeByID[edgeID]
	return e, ok
}

// Size reports the number of indexed edges.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.edgeByID)
}

func (idx *Index) collect(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func addToSet(m map[string]map[string]bool, key, val string) {
	set, ok := m[key]
	if !ok {
		set = map[string]bool{}
		m[key] = set
	}
	set[val] = true
}

func removeFromSet(m map[string]map[string]bool, key, val string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, val)
	if len(set) == 0 {
		delete(m, key)
	}
}

// Rebuild builds a fresh Index by paginating every verb out of store
// (spec §4.3: "On first use or after rebuild, it scans all verbs via C2
// pagination"). It does not touch any existing Index, so reads of a live
// index continue undisturbed; ReplaceFrom installs the result in place
// under the live index's write lock.
func Rebuild(ctx context.Context, store *base.Store) (*Index, error) {
	fresh := New()
	cursor := ""
	for {
		select {
		case <-ctx.Done():
			return nil, verrors.Wrap("adjacency.rebuild", verrors.Cancelled, ctx.Err())
		default:
		}
		page, err := store.GetVerbs(ctx, base.VerbFilter{}, base.Pagination{Limit: 500, Cursor: cursor})
		if err != nil {
			return nil, verrors.Wrap("adjacency.rebuild", verrors.KindOf(err), err)
		}
		for _, meta := range page.Items {
			fresh.InsertEdge(Edge{ID: meta.ID, SourceID: meta.SourceID, TargetID: meta.TargetID, Type: meta.Verb})
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	return fresh, nil
}

// ReplaceFrom swaps idx's maps with src's under idx's write lock, used
// after an out-of-line Rebuild to install the fresh index in place
// without invalidating callers' existing *Index pointer.
func (idx *Index) ReplaceFrom(src *Index) {
	src.mu.RLock()
	outgoing, incoming, edgeByID := src.outgoing, src.incoming, src.edgeByID
	src.mu.RUnlock()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.outgoing = outgoing
	idx.incoming = incoming
	idx.edgeByID = edgeByID
}
