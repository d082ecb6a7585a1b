// Package hnsw implements the HNSW Index (spec component C4): a
// Hierarchical Navigable Small World graph over noun vectors, persisting
// its per-node state (connections, level) through pkg/base rather than a
// monolithic index blob. Grounded on the teacher's hand-rolled
// pkg/index/hnsw.go — the in-memory graph shape, greedy layered search,
// and heap-based candidate lists all come from there — generalized to
// persist per node instead of via gob snapshot, and to use the
// normalized-cosine distance and deterministic tie-breaks the spec
// requires.
package hnsw

import (
	"container/heap"
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/vgraph/vgraph/pkg/base"
	"github.com/vgraph/vgraph/pkg/verrors"
	"github.com/vgraph/vgraph/pkg/vtypes"
)

// Config holds the tunable HNSW parameters (spec §4.4).
type Config struct {
	M              int     // max bidirectional links per node above layer 0
	MMax0          int     // max links at layer 0, conventionally 2M
	EfConstruction int     // candidate list size used while inserting
	EfSearch       int     // candidate list size used while searching
	ML             float64 // level multiplier, 1/ln(M)
}

// DefaultConfig returns the spec's stated defaults: M=16, MMax0=2M,
// efConstruction=200, efSearch=64.
func DefaultConfig() Config {
	m := 16
	return Config{
		M:              m,
		MMax0:          2 * m,
		EfConstruction: 200,
		EfSearch:       64,
		ML:             1.0 / math.Log(float64(m)),
	}
}

type node struct {
	ID          string
	Vector      vtypes.Vector
	Connections map[int][]string
	Level       int
	Deleted     bool
}

// Index is the in-memory HNSW graph layered over pkg/base for
// persistence (spec §4.4: "persists its node-level/connection state via
// C2"). Entry-point bookkeeping lives in a system document; per-node
// state lives in each noun's ordinary vector record, so nothing here
// owns a second copy of the vectors on disk.
type Index struct {
	mu         sync.RWMutex
	cfg        Config
	store      *base.Store
	nodes      map[string]*node
	entryPoint string
	rng        *rand.Rand
}

const metaPath = "indexes/hnsw_meta.json"

// New constructs an Index over store with default configuration and
// rebuilds its in-memory graph from persisted noun records.
func New(ctx context.Context, store *base.Store) (*Index, error) {
	return NewWithConfig(ctx, store, DefaultConfig())
}

// NewWithConfig is New with explicit parameters.
func NewWithConfig(ctx context.Context, store *base.Store, cfg Config) (*Index, error) {
	idx := &Index{
		cfg:   cfg,
		store: store,
		nodes: map[string]*node{},
		rng:   rand.New(rand.NewSource(1)),
	}
	if err := idx.rebuild(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// rebuild reloads the in-memory graph and entry point from store,
// the "entry point ... rebuilt if missing" path of spec §4.4.
func (idx *Index) rebuild(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.nodes = map[string]*node{}
	cursor := ""
	for {
		select {
		case <-ctx.Done():
			return verrors.Wrap("hnsw.rebuild", verrors.Cancelled, ctx.Err())
		default:
		}
		page, err := idx.store.GetNouns(ctx, base.NounFilter{}, base.Pagination{Limit: 500, Cursor: cursor})
		if err != nil {
			return verrors.Wrap("hnsw.rebuild", verrors.KindOf(err), err)
		}
		for _, meta := range page.Items {
			vec, _, err := idx.store.GetNoun(ctx, meta.ID)
			if err != nil {
				continue
			}
			idx.nodes[meta.ID] = &node{
				ID:          meta.ID,
				Vector:      vec.Vector,
				Connections: vec.Connections,
				Level:       vec.Level,
			}
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	deleted, err := idx.loadDeletedIDs(ctx)
	if err != nil {
		return err
	}
	for id := range deleted {
		if n, ok := idx.nodes[id]; ok {
			n.Deleted = true
		}
	}

	entry, err := idx.loadEntryPoint(ctx)
	if err != nil {
		return err
	}
	if entry == "" || idx.nodes[entry] == nil || idx.nodes[entry].Deleted {
		entry = ""
		for id, n := range idx.nodes {
			if !n.Deleted {
				entry = id
				break
			}
		}
	}
	idx.entryPoint = entry
	return nil
}

// Insert adds id/vector to the graph, persisting its connections and
// level through the vector record already at entities/nouns/hnsw (spec
// §4.2, §4.4). The caller must already have written the vector record
// once via base.Store.SaveNounVector with an empty connections map;
// Insert fills it in.
func (idx *Index) Insert(ctx context.Context, id string, vector vtypes.Vector) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	existing, revived := idx.nodes[id]
	if revived && !existing.Deleted {
		return verrors.New("hnsw.insert", verrors.Conflict, id, errAlreadyIndexed)
	}
	if revived {
		if err := idx.store.Adapter().DeleteObject(ctx, deletedPath(id)); err != nil {
			return verrors.WrapKey("hnsw.insert", verrors.KindOf(err), id, err)
		}
	}

	level := idx.selectLevel()
	n := &node{ID: id, Vector: vector, Level: level, Connections: map[int][]string{}}
	for l := 0; l <= level; l++ {
		n.Connections[l] = []string{}
	}
	idx.nodes[id] = n

	if idx.entryPoint == "" {
		idx.entryPoint = id
		if err := idx.persistNode(ctx, n); err != nil {
			return err
		}
		return idx.persistEntryPoint(ctx)
	}

	entry := idx.nodes[idx.entryPoint]
	curr := []string{idx.entryPoint}
	for lc := entry.Level; lc > level; lc-- {
		select {
		case <-ctx.Done():
			return verrors.Wrap("hnsw.insert", verrors.Cancelled, ctx.Err())
		default:
		}
		curr = idx.searchLayer(vector, curr, 1, lc)
	}

	touched := map[string]*node{id: n}
	for lc := level; lc >= 0; lc-- {
		select {
		case <-ctx.Done():
			return verrors.Wrap("hnsw.insert", verrors.Cancelled, ctx.Err())
		default:
		}
		m := idx.cfg.M
		if lc == 0 {
			m = idx.cfg.MMax0
		}
		candidates := idx.searchLayer(vector, curr, idx.cfg.EfConstruction, lc)
		neighbors := idx.selectNeighborsHeuristic(vector, candidates, m)
		n.Connections[lc] = neighbors

		for _, neighborID := range neighbors {
			neighbor := idx.nodes[neighborID]
			idx.addConnection(neighbor, id, lc)
			touched[neighborID] = neighbor

			maxConn := idx.cfg.M
			if lc == 0 {
				maxConn = idx.cfg.MMax0
			}
			if conns := neighbor.Connections[lc]; len(conns) > maxConn {
				neighbor.Connections[lc] = idx.selectNeighborsHeuristic(neighbor.Vector, conns, maxConn)
			}
		}
		curr = neighbors
	}

	if level > entry.Level {
		idx.entryPoint = id
	}

	for _, t := range touched {
		if err := idx.persistNode(ctx, t); err != nil {
			return err
		}
	}
	return idx.persistEntryPoint(ctx)
}

// Update replaces id's vector, implemented as delete-then-insert (spec
// §4.4: "update = delete+insert").
func (idx *Index) Update(ctx context.Context, id string, vector vtypes.Vector) error {
	if err := idx.Delete(ctx, id); err != nil && verrors.KindOf(err) != verrors.NotFound {
		return err
	}
	return idx.Insert(ctx, id, vector)
}

// Delete tombstones id: it remains in the graph for traversal but is
// excluded from search results and candidate entry points (spec §4.4).
func (idx *Index) Delete(ctx context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.nodes[id]
	if !ok {
		return verrors.New("hnsw.delete", verrors.NotFound, id, errNotIndexed)
	}
	n.Deleted = true

	if idx.entryPoint == id {
		idx.entryPoint = ""
		for nodeID, other := range idx.nodes {
			if !other.Deleted {
				idx.entryPoint = nodeID
				break
			}
		}
	}

	if err := idx.persistDeletedMarker(ctx, id); err != nil {
		return err
	}
	return idx.persistEntryPoint(ctx)
}

// SearchResult is one ranked match from Search.
type SearchResult struct {
	ID       string
	Distance float64
}

// Search returns up to k nearest neighbors of query, checking for
// cancellation between layer transitions and before assembling the
// final page (spec §5: "Search operations check cancellation between
// HNSW level transitions and between fetched result pages").
func (idx *Index) Search(ctx context.Context, query vtypes.Vector, k int, ef int) ([]SearchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.entryPoint == "" {
		return nil, nil
	}
	if ef <= 0 {
		ef = idx.cfg.EfSearch
	}

	entry := idx.nodes[idx.entryPoint]
	curr := []string{idx.entryPoint}
	for layer := entry.Level; layer > 0; layer-- {
		select {
		case <-ctx.Done():
			return nil, verrors.Wrap("hnsw.search", verrors.Cancelled, ctx.Err())
		default:
		}
		curr = idx.searchLayer(query, curr, 1, layer)
	}

	select {
	case <-ctx.Done():
		return nil, verrors.Wrap("hnsw.search", verrors.Cancelled, ctx.Err())
	default:
	}
	candidates := idx.searchLayer(query, curr, ef, 0)

	results := make([]SearchResult, 0, len(candidates))
	for _, id := range candidates {
		n := idx.nodes[id]
		if n == nil || n.Deleted {
			continue
		}
		results = append(results, SearchResult{ID: id, Distance: vtypes.CosineDistance(query, n.Vector)})
	}
	sortResults(results)

	select {
	case <-ctx.Done():
		return nil, verrors.Wrap("hnsw.search", verrors.Cancelled, ctx.Err())
	default:
	}
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Size reports the number of non-tombstoned nodes.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, node := range idx.nodes {
		if !node.Deleted {
			n++
		}
	}
	return n
}

// Compact physically purges every tombstoned node: it strips the id from
// every surviving neighbor's connection lists, removes the node's vector
// record and deleted marker from storage, and drops it from the
// in-memory graph. Unlike Delete, Compact is not meant to run inline
// with a write path — it is the "periodic compaction removes them" pass
// spec §4.4 describes, driven by an operator (cmd/vgraphd's `compact`)
// rather than by every delete.
func (idx *Index) Compact(ctx context.Context) (purged int, err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var tombstoned []string
	for id, n := range idx.nodes {
		if n.Deleted {
			tombstoned = append(tombstoned, id)
		}
	}
	if len(tombstoned) == 0 {
		return 0, nil
	}
	dead := make(map[string]bool, len(tombstoned))
	for _, id := range tombstoned {
		dead[id] = true
	}

	touched := map[string]*node{}
	for id, n := range idx.nodes {
		if dead[id] {
			continue
		}
		changed := false
		for layer, conns := range n.Connections {
			kept := conns[:0:0]
			for _, c := range conns {
				if !dead[c] {
					kept = append(kept, c)
				}
			}
			if len(kept) != len(conns) {
				n.Connections[layer] = kept
				changed = true
			}
		}
		if changed {
			touched[id] = n
		}
	}
	for _, n := range touched {
		select {
		case <-ctx.Done():
			return purged, verrors.Wrap("hnsw.compact", verrors.Cancelled, ctx.Err())
		default:
		}
		if err := idx.persistNode(ctx, n); err != nil {
			return purged, err
		}
	}

	for _, id := range tombstoned {
		select {
		case <-ctx.Done():
			return purged, verrors.Wrap("hnsw.compact", verrors.Cancelled, ctx.Err())
		default:
		}
		if err := idx.store.Adapter().DeleteObject(ctx, deletedPath(id)); err != nil {
			return purged, verrors.WrapKey("hnsw.compact", verrors.KindOf(err), id, err)
		}
		if err := idx.store.DeleteNoun(ctx, id); err != nil && verrors.KindOf(err) != verrors.NotFound {
			return purged, err
		}
		delete(idx.nodes, id)
		purged++
	}

	if idx.entryPoint != "" && dead[idx.entryPoint] {
		idx.entryPoint = ""
		for id, n := range idx.nodes {
			if !n.Deleted {
				idx.entryPoint = id
				break
			}
		}
		if err := idx.persistEntryPoint(ctx); err != nil {
			return purged, err
		}
	}
	return purged, nil
}

func sortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID // deterministic tie-break, spec §5
	})
}

// selectLevel draws a level via floor(-ln(U) * mL), U~Uniform(0,1),
// spec §4.4's stated level assignment (replacing the teacher's 50%
// coin-flip loop with the textbook formula the spec names explicitly).
func (idx *Index) selectLevel() int {
	u := idx.rng.Float64()
	for u == 0 {
		u = idx.rng.Float64()
	}
	level := int(math.Floor(-math.Log(u) * idx.cfg.ML))
	if level > 32 {
		level = 32
	}
	return level
}

func (idx *Index) addConnection(n *node, to string, layer int) {
	if n == nil {
		return
	}
	for _, existing := range n.Connections[layer] {
		if existing == to {
			return
		}
	}
	n.Connections[layer] = append(n.Connections[layer], to)
}

// searchLayer performs a greedy beam search within one layer, grounded
// on the teacher's heap-based candidates/dynamicList shape.
func (idx *Index) searchLayer(query vtypes.Vector, entryPoints []string, ef int, layer int) []string {
	visited := map[string]bool{}
	candidates := &distHeap{}
	dynamic := &maxDistHeap{}

	for _, id := range entryPoints {
		n := idx.nodes[id]
		if n == nil {
			continue
		}
		d := vtypes.CosineDistance(query, n.Vector)
		heap.Push(candidates, &heapItem{id: id, dist: d})
		heap.Push(dynamic, &heapItem{id: id, dist: d})
		visited[id] = true
	}

	for candidates.Len() > 0 {
		if dynamic.Len() > 0 && (*candidates)[0].dist > (*dynamic)[0].dist {
			break
		}
		current := heap.Pop(candidates).(*heapItem)
		currNode := idx.nodes[current.id]
		if currNode == nil || layer >= currNode.maxLayer()+1 {
			continue
		}
		for _, neighborID := range currNode.Connections[layer] {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true
			neighbor := idx.nodes[neighborID]
			if neighbor == nil {
				continue
			}
			d := vtypes.CosineDistance(query, neighbor.Vector)
			if dynamic.Len() < ef || d < (*dynamic)[0].dist {
				heap.Push(candidates, &heapItem{id: neighborID, dist: d})
				heap.Push(dynamic, &heapItem{id: neighborID, dist: d})
				if dynamic.Len() > ef {
					heap.Pop(dynamic)
				}
			}
		}
	}

	out := make([]string, 0, dynamic.Len())
	for dynamic.Len() > 0 {
		out = append(out, heap.Pop(dynamic).(*heapItem).id)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (n *node) maxLayer() int {
	max := -1
	for l := range n.Connections {
		if l > max {
			max = l
		}
	}
	return max
}

// selectNeighborsHeuristic picks up to m candidates closest to query,
// skipping a candidate that is closer to an already-chosen neighbor
// than to query itself — the standard HNSW diversification heuristic
// (spec §4.4: "insert with neighbor-heuristic diversification"), an
// extension of the teacher's plain distance sort.
func (idx *Index) selectNeighborsHeuristic(query vtypes.Vector, candidateIDs []string, m int) []string {
	type scored struct {
		id   string
		dist float64
	}
	scoredCandidates := make([]scored, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		n := idx.nodes[id]
		if n == nil {
			continue
		}
		scoredCandidates = append(scoredCandidates, scored{id: id, dist: vtypes.CosineDistance(query, n.Vector)})
	}
	sort.Slice(scoredCandidates, func(i, j int) bool {
		if scoredCandidates[i].dist != scoredCandidates[j].dist {
			return scoredCandidates[i].dist < scoredCandidates[j].dist
		}
		return scoredCandidates[i].id < scoredCandidates[j].id
	})

	selected := make([]scored, 0, m)
	for _, c := range scoredCandidates {
		if len(selected) >= m {
			break
		}
		good := true
		for _, s := range selected {
			if vtypes.CosineDistance(idx.nodes[c.id].Vector, idx.nodes[s.id].Vector) < c.dist {
				good = false
				break
			}
		}
		if good {
			selected = append(selected, c)
		}
	}
	out := make([]string, len(selected))
	for i, s := range selected {
		out[i] = s.id
	}
	return out
}

type heapItem struct {
	id   string
	dist float64
}

type distHeap []*heapItem

func (h distHeap) Len() int            { return len(h) }
func (h distHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h distHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *distHeap) Push(x interface{}) { *h = append(*h, x.(*heapItem)) }
func (h *distHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxDistHeap is a max-heap on distance, used as the bounded "best so
// far" candidate window (teacher's dynamicList).
type maxDistHeap []*heapItem

func (h maxDistHeap) Len() int            { return len(h) }
func (h maxDistHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxDistHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxDistHeap) Push(x interface{}) { *h = append(*h, x.(*heapItem)) }
func (h *maxDistHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (idx *Index) persistNode(ctx context.Context, n *node) error {
	return idx.store.SaveNounVector(ctx, vtypes.NounVectorRecord{
		ID:          n.ID,
		Vector:      n.Vector,
		Connections: n.Connections,
		Level:       n.Level,
	})
}

func (idx *Index) persistEntryPoint(ctx context.Context) error {
	data := []byte(`{"entryPoint":"` + idx.entryPoint + `"}`)
	return idx.store.Adapter().WriteObject(ctx, metaPath, data)
}

func (idx *Index) loadEntryPoint(ctx context.Context) (string, error) {
	data, err := idx.store.Adapter().ReadObject(ctx, metaPath)
	if verrors.KindOf(err) == verrors.NotFound {
		return "", nil
	}
	if err != nil {
		return "", verrors.Wrap("hnsw.loadEntryPoint", verrors.KindOf(err), err)
	}
	var doc struct {
		EntryPoint string `json:"entryPoint"`
	}
	if err := jsonUnmarshal(data, &doc); err != nil {
		return "", verrors.New("hnsw.loadEntryPoint", verrors.Fatal, metaPath, err)
	}
	return doc.EntryPoint, nil
}

func (idx *Index) persistDeletedMarker(ctx context.Context, id string) error {
	return idx.store.Adapter().WriteObject(ctx, deletedPath(id), []byte("{}"))
}

func (idx *Index) loadDeletedIDs(ctx context.Context) (map[string]bool, error) {
	out := map[string]bool{}
	for _, shard := range base.AllShards() {
		cursor := ""
		for {
			keys, more, next, err := idx.store.Adapter().List(ctx, deletedShardDir(shard), 0, cursor)
			if err != nil {
				return nil, verrors.Wrap("hnsw.loadDeleted", verrors.KindOf(err), err)
			}
			for _, k := range keys {
				out[idFromDeletedKey(k)] = true
			}
			if !more {
				break
			}
			cursor = next
		}
	}
	return out, nil
}

type hnswErr string

func (e hnswErr) Error() string { return string(e) }

const (
	errAlreadyIndexed = hnswErr("id is already present in the index")
	errNotIndexed      = hnswErr("id is not present in the index")
)
