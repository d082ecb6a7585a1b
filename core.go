// Package vgraph is the root facade: it wires the storage adapter (C1),
// base storage (C2), adjacency index (C3), HNSW index (C4), write-ahead
// log (C5), backpressure controller (C6), COW object store (C7),
// version index (C8), and query engine (C9) into the single write/read
// data flow described by the specification this module implements.
// Modeled on the teacher's top-level Store facade (store.go,
// Config/DefaultConfig/NewWithConfig), generalized from one SQLite
// connection to the nine composed subsystems above.
package vgraph

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vgraph/vgraph/pkg/adjacency"
	"github.com/vgraph/vgraph/pkg/backpressure"
	"github.com/vgraph/vgraph/pkg/base"
	"github.com/vgraph/vgraph/pkg/cow"
	"github.com/vgraph/vgraph/pkg/hnsw"
	"github.com/vgraph/vgraph/pkg/query"
	"github.com/vgraph/vgraph/pkg/storage"
	"github.com/vgraph/vgraph/pkg/verrors"
	"github.com/vgraph/vgraph/pkg/version"
	"github.com/vgraph/vgraph/pkg/vtypes"
	"github.com/vgraph/vgraph/pkg/wal"
)

// WAL operation names registered for replay (spec §4.5).
const (
	opAddNoun    = "addNoun"
	opRelate     = "relate"
	opDeleteNoun = "deleteNoun"
	opDeleteVerb = "deleteVerb"
)

// EmbedFn is the caller-supplied text embedder (spec §1, §6): the core
// never implements or downloads a model itself.
type EmbedFn = query.EmbedFn

// Config configures a Core, following the teacher's
// Config/DefaultConfig/NewWithConfig idiom.
type Config struct {
	// Adapter is the storage primitive (C1) everything else is layered
	// over. Required.
	Adapter storage.Adapter
	// EmbedFn embeds `like`-by-text queries and text-only noun inserts.
	// May be nil if the caller always supplies vectors directly.
	EmbedFn EmbedFn
	// DisableWAL turns off crash-atomic logging. Discouraged (spec
	// §4.5: "always enabled by default; disabling is available but
	// discouraged").
	DisableWAL bool
	// StrictMode makes a vector-without-metadata read Fatal rather than
	// NotFound (spec §7).
	StrictMode bool
	// Branch is the COW branch Commit records against. Defaults to
	// "main".
	Branch string
	// Logger receives structured lifecycle events (ambient stack,
	// SPEC_FULL §0). The zero value is a working no-op logger.
	Logger zerolog.Logger
}

// DefaultConfig returns a Config with WAL enabled, normal (non-strict)
// mode, and the "main" branch, wrapping adapter.
func DefaultConfig(adapter storage.Adapter) Config {
	return Config{Adapter: adapter, Branch: "main"}
}

// Core is the composed facade over C1-C9.
type Core struct {
	cfg     Config
	base    *base.Store
	hnsw    *hnsw.Index
	adj     *adjacency.Index
	wal     *wal.WAL
	bp      *backpressure.Controller
	cow     *cow.Store
	version *version.Store
	query   *query.Engine
	log     zerolog.Logger
	branch  string

	dirtyMu sync.Mutex
	dirty   map[string]struct{}
}

// New constructs a Core over cfg, rebuilding the adjacency index from
// persisted verbs, recovering any pending WAL entries, and registering
// replay handlers for AddNoun/Relate/DeleteNoun/DeleteVerb (spec §4.5).
func New(ctx context.Context, cfg Config) (*Core, error) {
	if cfg.Adapter == nil {
		return nil, verrors.New("vgraph.new", verrors.Invalid, "", errNoAdapter)
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}

	baseStore, err := base.NewWithConfig(ctx, cfg.Adapter, base.Config{StrictMode: cfg.StrictMode})
	if err != nil {
		return nil, verrors.Wrap("vgraph.new", verrors.Fatal, err)
	}
	index, err := hnsw.New(ctx, baseStore)
	if err != nil {
		return nil, verrors.Wrap("vgraph.new", verrors.Fatal, err)
	}
	adj, err := adjacency.Rebuild(ctx, baseStore)
	if err != nil {
		return nil, verrors.Wrap("vgraph.new", verrors.Fatal, err)
	}
	cowStore, err := cow.New(cfg.Adapter)
	if err != nil {
		return nil, verrors.Wrap("vgraph.new", verrors.Fatal, err)
	}

	c := &Core{
		cfg:     cfg,
		base:    baseStore,
		hnsw:    index,
		adj:     adj,
		bp:      backpressure.New(),
		cow:     cowStore,
		version: version.New(cfg.Adapter),
		log:     cfg.Logger,
		branch:  cfg.Branch,
		dirty:   map[string]struct{}{},
	}
	c.query = query.New(baseStore, index, adj, cfg.EmbedFn)

	if !cfg.DisableWAL {
		w, err := wal.New(ctx, cfg.Adapter)
		if err != nil {
			return nil, verrors.Wrap("vgraph.new", verrors.Fatal, err)
		}
		w.RegisterHandler(opAddNoun, func(ctx context.Context, raw json.RawMessage) error {
			var p addNounParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return verrors.Wrap("vgraph.replay.addNoun", verrors.Fatal, err)
			}
			return c.applyAddNoun(ctx, p)
		})
		w.RegisterHandler(opRelate, func(ctx context.Context, raw json.RawMessage) error {
			var p relateParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return verrors.Wrap("vgraph.replay.relate", verrors.Fatal, err)
			}
			return c.applyRelate(ctx, p)
		})
		w.RegisterHandler(opDeleteNoun, func(ctx context.Context, raw json.RawMessage) error {
			var p struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(raw, &p); err != nil {
				return verrors.Wrap("vgraph.replay.deleteNoun", verrors.Fatal, err)
			}
			return c.applyDeleteNoun(ctx, p.ID)
		})
		w.RegisterHandler(opDeleteVerb, func(ctx context.Context, raw json.RawMessage) error {
			var p struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(raw, &p); err != nil {
				return verrors.Wrap("vgraph.replay.deleteVerb", verrors.Fatal, err)
			}
			c.adj.RemoveEdge(p.ID)
			return c.base.DeleteVerb(ctx, p.ID)
		})

		replayed, err := w.Recover(ctx)
		if err != nil {
			c.log.Error().Err(err).Msg("wal recovery failed")
			return nil, verrors.Wrap("vgraph.new", verrors.KindOf(err), err)
		}
		if replayed > 0 {
			c.log.Info().Int("replayed", replayed).Msg("wal recovery replayed pending operations")
		}
		c.wal = w
	}

	c.log.Info().Msg("vgraph core initialized")
	return c, nil
}

// Close releases background resources (WAL checkpoint ticker,
// backpressure adaptation loop).
func (c *Core) Close() {
	if c.wal != nil {
		c.wal.Close()
	}
	c.bp.Close()
}

func (c *Core) markDirty(id string) {
	c.dirtyMu.Lock()
	c.dirty[id] = struct{}{}
	c.dirtyMu.Unlock()
}

// Statistics returns the process-wide noun/verb counters (spec §4.2, §6).
func (c *Core) Statistics() base.Statistics { return c.base.Statistics() }

// BackpressureSnapshot returns a point-in-time view of admission control
// metrics (spec §4.6), for operator inspection via cmd/vgraphd.
func (c *Core) BackpressureSnapshot() backpressure.Metrics { return c.bp.Snapshot() }

// Compact purges tombstoned HNSW nodes permanently (spec §4.4: "periodic
// compaction removes them"), an explicit operator action rather than
// something every delete triggers.
func (c *Core) Compact(ctx context.Context) (int, error) {
	return c.hnsw.Compact(ctx)
}

// Checkpoint appends a WAL checkpoint marker on demand, independent of
// the background ticker (spec §4.5). A no-op returning (false, nil) when
// the WAL is disabled.
func (c *Core) Checkpoint(ctx context.Context) (bool, error) {
	if c.wal == nil {
		return false, nil
	}
	return true, c.wal.Checkpoint(ctx)
}

// WALRecover replays any pending WAL entries against the live handlers
// registered at New, for an operator-triggered re-run outside startup.
func (c *Core) WALRecover(ctx context.Context) (int, error) {
	if c.wal == nil {
		return 0, nil
	}
	return c.wal.Recover(ctx)
}

// Search executes a composite like/where/connected query (spec §4.8,
// component C9).
func (c *Core) Search(ctx context.Context, q query.Query) ([]query.Result, error) {
	release, err := c.bp.RequestPermission(ctx, vtypes.NewID(), 0, backpressure.Read)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	results, err := c.query.Search(ctx, q)
	release(err == nil, time.Since(start))
	return results, err
}

// --- Nouns -----------------------------------------------------------

// NounInput is the input to AddNoun: either Text (embedded via
// Config.EmbedFn) or Vector directly.
type NounInput struct {
	ID     string // optional; a fresh UUIDv4 is assigned if empty (spec §4.1)
	Text   string
	Vector vtypes.Vector
	Type   vtypes.NounType
	Fields map[string]any
}

type addNounParams struct {
	ID     string         `json:"id"`
	Vector vtypes.Vector  `json:"vector"`
	Type   vtypes.NounType `json:"type"`
	Fields map[string]any `json:"fields"`
}

// AddNoun runs the write data flow of spec §2: admit → assign id → embed
// → WAL-log intent → persist vector+metadata → HNSW-insert → WAL-mark
// complete.
func (c *Core) AddNoun(ctx context.Context, in NounInput) (string, error) {
	release, err := c.bp.RequestPermission(ctx, vtypes.NewID(), 1, backpressure.Write)
	if err != nil {
		return "", err
	}
	start := time.Now()
	id, err := c.addNoun(ctx, in)
	release(err == nil, time.Since(start))
	return id, err
}

func (c *Core) addNoun(ctx context.Context, in NounInput) (string, error) {
	id := in.ID
	if id == "" {
		id = vtypes.NewID()
	}
	vec := in.Vector
	if vec == nil {
		if in.Text == "" {
			return "", verrors.New("vgraph.addNoun", verrors.Invalid, id, errNoContent)
		}
		if c.cfg.EmbedFn == nil {
			return "", verrors.New("vgraph.addNoun", verrors.Invalid, id, errNoEmbedFn)
		}
		embedded, err := c.cfg.EmbedFn(ctx, in.Text)
		if err != nil {
			return "", verrors.Wrap("vgraph.addNoun", verrors.KindOf(err), err)
		}
		vec = embedded
	}
	if !vec.Normalized() {
		normalized, err := vec.Normalize()
		if err != nil {
			return "", verrors.WrapKey("vgraph.addNoun", verrors.Invalid, id, err)
		}
		vec = normalized
	}

	params := addNounParams{ID: id, Vector: vec, Type: in.Type, Fields: in.Fields}
	apply := func(ctx context.Context) error { return c.applyAddNoun(ctx, params) }

	if c.wal != nil {
		if err := c.wal.Execute(ctx, opAddNoun, params, apply); err != nil {
			return "", err
		}
	} else if err := apply(ctx); err != nil {
		return "", err
	}
	c.markDirty(id)
	c.log.Debug().Str("id", id).Str("noun", string(in.Type)).Msg("noun added")
	return id, nil
}

// applyAddNoun performs the persist+index step and is replayed verbatim
// during WAL recovery; every sub-step is a replace-write or tolerates a
// prior application (spec §4.5: "saveNoun is idempotent because object
// writes are replace").
func (c *Core) applyAddNoun(ctx context.Context, p addNounParams) error {
	if err := c.base.SaveNounVector(ctx, vtypes.NounVectorRecord{ID: p.ID, Vector: p.Vector}); err != nil {
		return err
	}
	if err := c.base.SaveNounMetadata(ctx, p.ID, vtypes.NounMetadata{Noun: p.Type, User: p.Fields}); err != nil {
		return err
	}
	if err := c.hnsw.Insert(ctx, p.ID, p.Vector); err != nil && verrors.KindOf(err) != verrors.Conflict {
		return err
	}
	return nil
}

// GetNoun returns a noun's metadata and vector.
func (c *Core) GetNoun(ctx context.Context, id string) (*vtypes.NounVectorRecord, *vtypes.NounMetadata, error) {
	return c.base.GetNoun(ctx, id)
}

// DeleteNoun tombstones id in the HNSW index and removes both its
// storage records (spec §4.1 lifecycle: "destroyed by delete(id)").
func (c *Core) DeleteNoun(ctx context.Context, id string) error {
	release, err := c.bp.RequestPermission(ctx, id, 1, backpressure.Write)
	if err != nil {
		return err
	}
	start := time.Now()
	apply := func(ctx context.Context) error { return c.applyDeleteNoun(ctx, id) }
	if c.wal != nil {
		err = c.wal.Execute(ctx, opDeleteNoun, map[string]string{"id": id}, apply)
	} else {
		err = apply(ctx)
	}
	if err == nil {
		c.markDirty(id)
	}
	release(err == nil, time.Since(start))
	return err
}

func (c *Core) applyDeleteNoun(ctx context.Context, id string) error {
	if err := c.hnsw.Delete(ctx, id); err != nil && verrors.KindOf(err) != verrors.NotFound {
		return err
	}
	return c.base.DeleteNoun(ctx, id)
}

// --- Verbs -------------------------------------------------------------

// VerbInput is the input to Relate.
type VerbInput struct {
	ID       string
	Type     vtypes.VerbType
	SourceID string
	TargetID string
	Weight   float64
	Fields   map[string]any
}

type relateParams struct {
	ID       string         `json:"id"`
	Type     vtypes.VerbType `json:"type"`
	SourceID string         `json:"sourceId"`
	TargetID string         `json:"targetId"`
	Weight   float64        `json:"weight"`
	Fields   map[string]any `json:"fields"`
}

// Relate creates a directed, typed edge between two nouns (spec §3,
// §4.3). The endpoints are not checked for existence: a verb whose
// endpoints do not resolve is persisted as a dangling verb. Verb vectors are not inserted into the noun HNSW
// index (spec §4.4 scopes HNSW to "noun vectors"); they persist for
// parity with the wire format and are available to the adjacency index
// and future per-edge similarity use.
func (c *Core) Relate(ctx context.Context, in VerbInput) (string, error) {
	release, err := c.bp.RequestPermission(ctx, vtypes.NewID(), 1, backpressure.Write)
	if err != nil {
		return "", err
	}
	start := time.Now()
	id, err := c.relate(ctx, in)
	release(err == nil, time.Since(start))
	return id, err
}

func (c *Core) relate(ctx context.Context, in VerbInput) (string, error) {
	id := in.ID
	if id == "" {
		id = vtypes.NewID()
	}
	params := relateParams{ID: id, Type: in.Type, SourceID: in.SourceID, TargetID: in.TargetID, Weight: in.Weight, Fields: in.Fields}
	apply := func(ctx context.Context) error { return c.applyRelate(ctx, params) }

	if c.wal != nil {
		if err := c.wal.Execute(ctx, opRelate, params, apply); err != nil {
			return "", err
		}
	} else if err := apply(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Core) applyRelate(ctx context.Context, p relateParams) error {
	// A verb whose endpoints don't (yet) resolve is persisted anyway and
	// simply excluded from graph queries until its endpoints appear or
	// it is reaped — it is dangling, not invalid (spec §3 invariant).
	vec := make(vtypes.Vector, vtypes.Dim)
	vec[0] = 1
	if err := c.base.SaveVerbVector(ctx, vtypes.VerbVectorRecord{ID: p.ID, Vector: vec, Verb: p.Type, SourceID: p.SourceID, TargetID: p.TargetID}); err != nil {
		return err
	}
	if err := c.base.SaveVerbMetadata(ctx, p.ID, vtypes.VerbMetadata{Verb: p.Type, SourceID: p.SourceID, TargetID: p.TargetID, Weight: p.Weight, User: p.Fields}); err != nil {
		return err
	}
	c.adj.InsertEdge(adjacency.Edge{ID: p.ID, SourceID: p.SourceID, TargetID: p.TargetID, Type: p.Type})
	return nil
}

// GetVerb returns a verb's metadata and vector.
func (c *Core) GetVerb(ctx context.Context, id string) (*vtypes.VerbVectorRecord, *vtypes.VerbMetadata, error) {
	return c.base.GetVerb(ctx, id)
}

// DeleteVerb removes a verb's storage records and adjacency entry.
func (c *Core) DeleteVerb(ctx context.Context, id string) error {
	release, err := c.bp.RequestPermission(ctx, id, 1, backpressure.Write)
	if err != nil {
		return err
	}
	start := time.Now()
	apply := func(ctx context.Context) error {
		c.adj.RemoveEdge(id)
		return c.base.DeleteVerb(ctx, id)
	}
	if c.wal != nil {
		err = c.wal.Execute(ctx, opDeleteVerb, map[string]string{"id": id}, apply)
	} else {
		err = apply(ctx)
	}
	release(err == nil, time.Since(start))
	return err
}

// RebuildAdjacency discards and rescans the in-memory adjacency index
// from persisted verbs (spec §4.3: "rebuildable from C2"), used after a
// detected crash or an out-of-band verb import.
func (c *Core) RebuildAdjacency(ctx context.Context) error {
	fresh, err := adjacency.Rebuild(ctx, c.base)
	if err != nil {
		return err
	}
	c.adj.ReplaceFrom(fresh)
	return nil
}

// --- Versioning / COW ---------------------------------------------------

// SaveVersion records a content-addressed version snapshot of a noun,
// deduplicated by content hash (spec §4.7).
func (c *Core) SaveVersion(ctx context.Context, nounID string, opts version.Entry) (*version.Index, error) {
	_, meta, err := c.base.GetNoun(ctx, nounID)
	if err != nil {
		return nil, err
	}
	canon, err := vtypes.CanonicalJSON(meta)
	if err != nil {
		return nil, verrors.Wrap("vgraph.saveVersion", verrors.Fatal, err)
	}
	hash, err := version.HashEntity(meta)
	if err != nil {
		return nil, err
	}
	return c.version.Record(ctx, nounID, c.branch, hash, canon, opts)
}

// ListVersions returns the version history for a noun, newest-first
// (spec §4.7, §8 scenario 5).
func (c *Core) ListVersions(ctx context.Context, nounID string) ([]version.Entry, error) {
	idx, err := c.version.Get(ctx, nounID, c.branch)
	if err != nil {
		return nil, err
	}
	out := make([]version.Entry, len(idx.Versions))
	for i, e := range idx.Versions {
		out[len(idx.Versions)-1-i] = e
	}
	return out, nil
}

// Commit snapshots every noun touched since the last commit into a COW
// tree+commit and advances the branch ref (spec §4.7 supplement,
// SPEC_FULL §4.7: "only when the caller opts in via Core.Commit").
func (c *Core) Commit(ctx context.Context, author, message string) (string, error) {
	c.dirtyMu.Lock()
	ids := make([]string, 0, len(c.dirty))
	for id := range c.dirty {
		ids = append(ids, id)
	}
	c.dirtyMu.Unlock()

	entries := make([]cow.TreeEntry, 0, len(ids))
	for _, id := range ids {
		_, meta, err := c.base.GetNoun(ctx, id)
		if err != nil {
			// A dirty id that no longer resolves (deleted since) simply
			// drops out of the tree rather than failing the commit.
			continue
		}
		canon, err := vtypes.CanonicalJSON(meta)
		if err != nil {
			return "", verrors.Wrap("vgraph.commit", verrors.Fatal, err)
		}
		hash, err := c.cow.PutBlob(ctx, canon)
		if err != nil {
			return "", err
		}
		entries = append(entries, cow.TreeEntry{Name: id, Hash: hash, Type: "blob", Size: int64(len(canon))})
	}
	treeHash, err := c.cow.PutTree(ctx, cow.Tree{Entries: entries, CreatedAt: time.Now().UTC()})
	if err != nil {
		return "", err
	}

	parent, err := c.cow.ResolveHead(ctx)
	firstCommit := verrors.KindOf(err) == verrors.NotFound
	if err != nil && !firstCommit {
		return "", err
	}

	commitHash, err := c.cow.PutCommit(ctx, cow.Commit{
		Tree: treeHash, Parent: parent, Timestamp: time.Now().UTC(),
		Author: author, Message: message,
	})
	if err != nil {
		return "", err
	}

	ref := "heads/" + c.branch
	mode := cow.UpdateOnly
	if firstCommit {
		mode = cow.CreateOnly
	}
	if err := c.cow.SetRef(ctx, ref, commitHash, mode, parent); err != nil {
		return "", err
	}
	if firstCommit {
		if err := c.cow.SetHead(ctx, c.branch); err != nil {
			return "", err
		}
	}
	c.dirtyMu.Lock()
	for _, id := range ids {
		delete(c.dirty, id)
	}
	c.dirtyMu.Unlock()
	c.log.Info().Str("commit", commitHash).Int("entries", len(entries)).Msg("committed")
	return commitHash, nil
}

type vgraphErr string

func (e vgraphErr) Error() string { return string(e) }

const (
	errNoAdapter = vgraphErr("Config.Adapter is required")
	errNoContent = vgraphErr("NounInput must set either Text or Vector")
	errNoEmbedFn = vgraphErr("NounInput.Text requires Config.EmbedFn")
)
