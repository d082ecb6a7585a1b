// Package query implements the Query Engine (spec component C9):
// composition of adjacency (C3), HNSW (C4), and base storage (C2) into
// the composite `like`/`where`/`connected` query of spec §4.8. Grounded
// on the teacher's pkg/graph/graph_hybrid.go HybridSearch — the same
// "search each signal independently, then combine weighted scores"
// shape — generalized from the teacher's single vector+graph-distance
// blend to the spec's three-signal boost formula and its where-first-vs-
// hnsw-first execution strategy choice.
package query

import (
	"context"
	"sort"

	"github.com/vgraph/vgraph/pkg/adjacency"
	"github.com/vgraph/vgraph/pkg/base"
	"github.com/vgraph/vgraph/pkg/hnsw"
	"github.com/vgraph/vgraph/pkg/verrors"
	"github.com/vgraph/vgraph/pkg/vtypes"
)

// EmbedFn is the externally supplied text-to-vector function the core
// never implements itself (spec §1: "The core consumes an opaque
// EmbedFn: text → Vector(d=384)").
type EmbedFn func(ctx context.Context, text string) (vtypes.Vector, error)

// MetadataPredicate is the `where` clause of spec §4.8. NounType is the
// selective fast-path field (spec §4.2's noun-by-type index); Match is
// an arbitrary additional predicate evaluated after the fast-path
// narrows the candidate set, so a caller can combine an indexed filter
// with free-form field checks.
type MetadataPredicate struct {
	NounType vtypes.NounType
	Match    func(vtypes.NounMetadata) bool
}

func (p *MetadataPredicate) matches(m vtypes.NounMetadata) bool {
	if p == nil {
		return true
	}
	if p.NounType != "" && m.Noun != p.NounType {
		return false
	}
	if p.Match != nil && !p.Match(m) {
		return false
	}
	return true
}

// selective reports whether the predicate carries the indexed fast-path
// field, per spec §4.8's "if where is selective... filter first via C2".
func (p *MetadataPredicate) selective() bool {
	return p != nil && p.NounType != ""
}

// ConnectedSpec is the `connected` clause of spec §4.8. Exactly one of
// To/From/Both should be set; Hops is clamped to [1,3].
type ConnectedSpec struct {
	From []string
	To   []string
	Both []string
	Via  []vtypes.VerbType
	Hops int
}

// Boost weights the three score components of spec §4.8, all defaulting
// to 1.0 when the zero value is passed.
type Boost struct {
	Vector float64
	Field  float64
	Graph  float64
}

func (b Boost) orDefault() Boost {
	if b.Vector == 0 && b.Field == 0 && b.Graph == 0 {
		return Boost{Vector: 1, Field: 1, Graph: 1}
	}
	return b
}

// Query is the composite request of spec §4.8.
type Query struct {
	LikeText   string
	LikeVector vtypes.Vector
	Where      *MetadataPredicate
	Connected  *ConnectedSpec
	Limit      int
	Boost      Boost
}

// Result is one ranked match (spec §4.8). Score is the boost-weighted sum
// of the vector term (1 − cosine distance), the field-match term (0 or 1)
// and the graph term (1/hop); the sum is not rescaled, so with the
// default boosts it can reach 3.
type Result struct {
	ID       string
	Score    float64
	Metadata vtypes.NounMetadata
}

// overfetchFactor is how much wider than Limit the HNSW candidate pool
// is when `where` isn't selective enough to filter first (spec §4.8:
// "run HNSW top-k' = k·over-fetch, then post-filter").
const overfetchFactor = 5

// Engine composes C2/C3/C4 to answer spec §4.8 queries.
type Engine struct {
	base  *base.Store
	hnsw  *hnsw.Index
	adj   *adjacency.Index
	embed EmbedFn
}

// New constructs a query Engine. hnsw or adj may be nil if the caller
// never issues `like` or `connected` queries respectively; embed may be
// nil if the caller only ever supplies LikeVector directly.
func New(store *base.Store, index *hnsw.Index, adj *adjacency.Index, embed EmbedFn) *Engine {
	return &Engine{base: store, hnsw: index, adj: adj, embed: embed}
}

// Search executes q against the composed indexes and returns results
// sorted by descending score with a deterministic ascending-id tie-break
// (spec §4.8); a connected-only query (no like, no where) is ordered by
// hop then id instead. An empty store returns an empty slice, never an error
// (spec §8).
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	select {
	case <-ctx.Done():
		return nil, verrors.Wrap("query.search", verrors.Cancelled, ctx.Err())
	default:
	}

	boost := q.Boost.orDefault()
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	queryVec, err := e.resolveVector(ctx, q)
	if err != nil {
		return nil, err
	}

	var graphRank map[string]int // id -> hop distance, 1-based
	if q.Connected != nil {
		graphRank, err = e.traverse(ctx, q.Connected)
		if err != nil {
			return nil, err
		}
		if len(graphRank) == 0 {
			return []Result{}, nil
		}
	}

	var candidates map[string]struct {
		meta vtypes.NounMetadata
		dist float64 // -1 means "no vector signal"
	}

	switch {
	case queryVec != nil && q.Where.selective():
		candidates, err = e.whereFirst(ctx, q.Where, queryVec)
	case queryVec != nil:
		candidates, err = e.vectorFirst(ctx, queryVec, q.Where, limit)
	case graphRank != nil:
		candidates, err = e.metadataForIDs(ctx, graphRank)
	default:
		candidates, err = e.scanWhere(ctx, q.Where, limit)
	}
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(candidates))
	for id, c := range candidates {
		if graphRank != nil {
			if _, ok := graphRank[id]; !ok {
				continue
			}
		}
		score := e.score(boost, c.dist, q.Where.matches(c.meta), graphAffinity(graphRank, id))
		results = append(results, Result{ID: id, Score: score, Metadata: c.meta})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if graphRank != nil && queryVec == nil && q.Where == nil {
		// Scenario 3 of spec §8 orders connected-only results by hop
		// then id rather than by score; a pure graph query has no
		// vector/field signal to rank by otherwise.
		sort.Slice(results, func(i, j int) bool {
			ri, rj := graphRank[results[i].ID], graphRank[results[j].ID]
			if ri != rj {
				return ri < rj
			}
			return results[i].ID < results[j].ID
		})
	}

	if limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) score(b Boost, dist float64, fieldMatch bool, graphScore float64) float64 {
	var vecScore float64
	if dist >= 0 {
		vecScore = 1 - dist
	}
	field := 0.0
	if fieldMatch {
		field = 1.0
	}
	return b.Vector*vecScore + b.Field*field + b.Graph*graphScore
}

func graphAffinity(rank map[string]int, id string) float64 {
	if rank == nil {
		return 0
	}
	hop, ok := rank[id]
	if !ok {
		return 0
	}
	return 1.0 / float64(hop)
}

func (e *Engine) resolveVector(ctx context.Context, q Query) (vtypes.Vector, error) {
	if q.LikeVector != nil {
		return q.LikeVector, nil
	}
	if q.LikeText == "" {
		return nil, nil
	}
	if e.embed == nil {
		return nil, verrors.New("query.embed", verrors.Invalid, "", errNoEmbedFn)
	}
	vec, err := e.embed(ctx, q.LikeText)
	if err != nil {
		return nil, verrors.Wrap("query.embed", verrors.KindOf(err), err)
	}
	if !vec.Normalized() {
		normalized, nerr := vec.Normalize()
		if nerr != nil {
			return nil, verrors.Wrap("query.embed", verrors.Invalid, nerr)
		}
		vec = normalized
	}
	return vec, nil
}

type candidateSet = map[string]struct {
	meta vtypes.NounMetadata
	dist float64
}

// whereFirst filters via the C2 fast-path first, then re-ranks the
// shortlist by HNSW distance (spec §4.8, "where" branch).
func (e *Engine) whereFirst(ctx context.Context, where *MetadataPredicate, queryVec vtypes.Vector) (candidateSet, error) {
	out := candidateSet{}
	cursor := ""
	for {
		select {
		case <-ctx.Done():
			return nil, verrors.Wrap("query.whereFirst", verrors.Cancelled, ctx.Err())
		default:
		}
		page, err := e.base.GetNouns(ctx, base.NounFilter{Type: where.NounType}, base.Pagination{Limit: 500, Cursor: cursor})
		if err != nil {
			return nil, verrors.Wrap("query.whereFirst", verrors.KindOf(err), err)
		}
		for _, meta := range page.Items {
			if !where.matches(meta) {
				continue
			}
			dist := -1.0
			if queryVec != nil {
				vec, _, err := e.base.GetNoun(ctx, meta.ID)
				if err == nil {
					dist = vtypes.CosineDistance(queryVec, vec.Vector)
				}
			}
			out[meta.ID] = struct {
				meta vtypes.NounMetadata
				dist float64
			}{meta: meta, dist: dist}
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

// vectorFirst runs HNSW over an over-fetched top-k', then post-filters
// by `where` (spec §4.8, the non-selective branch).
func (e *Engine) vectorFirst(ctx context.Context, queryVec vtypes.Vector, where *MetadataPredicate, limit int) (candidateSet, error) {
	if e.hnsw == nil {
		return nil, verrors.New("query.index", verrors.Fatal, "", errIndexUnavailable)
	}
	hits, err := e.hnsw.Search(ctx, queryVec, limit*overfetchFactor, 0)
	if err != nil {
		return nil, verrors.Wrap("query.index", verrors.KindOf(err), err)
	}
	out := candidateSet{}
	for _, h := range hits {
		_, meta, err := e.base.GetNoun(ctx, h.ID)
		if err != nil {
			// A dangling HNSW id with no metadata is skipped, not a
			// whole-query failure (spec §7: "C9 composes partial
			// failures... into a skipped result").
			continue
		}
		if !where.matches(*meta) {
			continue
		}
		out[h.ID] = struct {
			meta vtypes.NounMetadata
			dist float64
		}{meta: *meta, dist: h.Distance}
	}
	return out, nil
}

// scanWhere answers a `where`-only (no `like`, no `connected`) query by
// paginating C2 directly; there is no vector signal to rank by.
func (e *Engine) scanWhere(ctx context.Context, where *MetadataPredicate, limit int) (candidateSet, error) {
	out := candidateSet{}
	filter := base.NounFilter{}
	if where != nil {
		filter.Type = where.NounType
	}
	cursor := ""
	for {
		select {
		case <-ctx.Done():
			return nil, verrors.Wrap("query.scanWhere", verrors.Cancelled, ctx.Err())
		default:
		}
		page, err := e.base.GetNouns(ctx, filter, base.Pagination{Limit: 500, Cursor: cursor})
		if err != nil {
			return nil, verrors.Wrap("query.scanWhere", verrors.KindOf(err), err)
		}
		for _, meta := range page.Items {
			if !where.matches(meta) {
				continue
			}
			out[meta.ID] = struct {
				meta vtypes.NounMetadata
				dist float64
			}{meta: meta, dist: -1}
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

func (e *Engine) metadataForIDs(ctx context.Context, rank map[string]int) (candidateSet, error) {
	out := candidateSet{}
	for id := range rank {
		_, meta, err := e.base.GetNoun(ctx, id)
		if err != nil {
			continue
		}
		out[id] = struct {
			meta vtypes.NounMetadata
			dist float64
		}{meta: *meta, dist: -1}
	}
	return out, nil
}

// traverse runs a bounded BFS over the adjacency index from the
// `connected` clause's anchor id(s), returning every reached id mapped
// to its hop distance (1-based), honoring the Via type filter and the
// 1..3 hop bound (spec §4.8, §4.3).
func (e *Engine) traverse(ctx context.Context, c *ConnectedSpec) (map[string]int, error) {
	if e.adj == nil {
		return nil, verrors.New("query.index", verrors.Fatal, "", errIndexUnavailable)
	}
	hops := c.Hops
	if hops <= 0 {
		hops = 1
	}
	if hops > 3 {
		hops = 3
	}

	var anchors []string
	direction := adjacency.Out
	switch {
	case len(c.From) > 0:
		anchors = c.From
		direction = adjacency.Out
	case len(c.To) > 0:
		anchors = c.To
		direction = adjacency.In
	default:
		anchors = c.Both
		direction = adjacency.Both
	}

	rank := map[string]int{}
	frontier := map[string]bool{}
	for _, a := range anchors {
		frontier[a] = true
	}

	for hop := 1; hop <= hops; hop++ {
		select {
		case <-ctx.Done():
			return nil, verrors.Wrap("query.traverse", verrors.Cancelled, ctx.Err())
		default:
		}
		next := map[string]bool{}
		for node := range frontier {
			for _, edgeID := range e.adj.Neighbors(node, direction, "") {
				edge, ok := e.adj.Edge(edgeID)
				if !ok {
					continue
				}
				if len(c.Via) > 0 && !containsVerb(c.Via, edge.Type) {
					continue
				}
				other := edge.TargetID
				if direction == adjacency.In {
					other = edge.SourceID
				} else if direction == adjacency.Both && other == node {
					other = edge.SourceID
				}
				if _, seen := rank[other]; seen {
					continue
				}
				rank[other] = hop
				next[other] = true
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}
	return rank, nil
}

func containsVerb(list []vtypes.VerbType, t vtypes.VerbType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

type queryErr string

func (e queryErr) Error() string { return string(e) }

const (
	errNoEmbedFn        = queryErr("no EmbedFn configured for a like-by-text query")
	errIndexUnavailable = queryErr("required index not available for this query")
)
