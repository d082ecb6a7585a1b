package base

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/vgraph/vgraph/pkg/storage"
	"github.com/vgraph/vgraph/pkg/verrors"
	"github.com/vgraph/vgraph/pkg/vtypes"
)

// Config configures a Store, following the teacher's
// Config/DefaultConfig/NewWithConfig idiom.
type Config struct {
	// LockTTL is the advisory lock lifetime for singleton system
	// documents. Zero uses DefaultLockTTL.
	LockTTL time.Duration
	// StrictMode makes a vector-without-metadata read Fatal instead of
	// NotFound (spec §7: "Fatal — corruption detected (e.g., vector
	// present without metadata in strict mode...)").
	StrictMode bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{LockTTL: DefaultLockTTL}
}

// Store is Base Storage (spec §4.2, component C2): the logical entity
// API layered over a storage.Adapter.
type Store struct {
	adapter storage.Adapter
	config  Config
	lock    *AdvisoryLock
	stats   *statisticsTracker
}

// New constructs a Store over adapter with default configuration.
func New(ctx context.Context, adapter storage.Adapter) (*Store, error) {
	return NewWithConfig(ctx, adapter, DefaultConfig())
}

// NewWithConfig constructs a Store with explicit configuration.
func NewWithConfig(ctx context.Context, adapter storage.Adapter, cfg Config) (*Store, error) {
	lock := NewAdvisoryLock(cfg.LockTTL)
	stats, err := newStatisticsTracker(ctx, adapter, lock)
	if err != nil {
		return nil, verrors.Wrap("base.new", verrors.Fatal, err)
	}
	return &Store{adapter: adapter, config: cfg, lock: lock, stats: stats}, nil
}

// Adapter exposes the underlying storage.Adapter, e.g. so pkg/wal can
// wrap the same backing store.
func (s *Store) Adapter() storage.Adapter { return s.adapter }

// Statistics returns a point-in-time snapshot of the counters document
// (spec §4.2, §6). Reads may lag the latest mutation slightly, since
// persistence is fire-and-forget.
func (s *Store) Statistics() Statistics {
	return s.stats.snapshot()
}

// --- Nouns ---------------------------------------------------------------

// SaveNounVector persists a noun's HNSW-node half: vector, connections,
// and level. Must be called before SaveNounMetadata (spec §4.2: "vector
// first, metadata second").
func (s *Store) SaveNounVector(ctx context.Context, rec vtypes.NounVectorRecord) error {
	if !vtypes.IsValidID(rec.ID) {
		return verrors.New("saveNounVector", verrors.Invalid, rec.ID, errBadID)
	}
	if err := rec.Vector.Validate(); err != nil {
		return verrors.WrapKey("saveNounVector", verrors.Invalid, rec.ID, err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return verrors.WrapKey("saveNounVector", verrors.Fatal, rec.ID, err)
	}
	path := VectorPath(KindNoun, rec.ID)
	if err := storage.WithRetry(ctx, func() error { return s.adapter.WriteObject(ctx, path, data) }); err != nil {
		return verrors.WrapKey("saveNounVector", verrors.KindOf(err), rec.ID, err)
	}
	return nil
}

// SaveNounMetadata persists a noun's metadata record. This is the only
// place the noun-type counter is incremented, and only when no prior
// metadata existed at this path (spec §4.2 counter-synchronization
// invariant).
func (s *Store) SaveNounMetadata(ctx context.Context, id string, meta vtypes.NounMetadata) error {
	if !vtypes.IsValidID(id) {
		return verrors.New("saveNounMetadata", verrors.Invalid, id, errBadID)
	}
	if !meta.Noun.Valid() {
		return verrors.New("saveNounMetadata", verrors.Invalid, id, errBadNounType)
	}
	path := MetadataPath(KindNoun, id)

	_, existed, err := s.readRaw(ctx, path)
	if err != nil {
		return verrors.WrapKey("saveNounMetadata", verrors.KindOf(err), id, err)
	}

	meta.ID = id
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	meta.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(meta)
	if err != nil {
		return verrors.WrapKey("saveNounMetadata", verrors.Fatal, id, err)
	}
	if err := storage.WithRetry(ctx, func() error { return s.adapter.WriteObject(ctx, path, data) }); err != nil {
		return verrors.WrapKey("saveNounMetadata", verrors.KindOf(err), id, err)
	}

	if err := s.writeNounTypeIndex(ctx, meta.Noun, id); err != nil {
		return err
	}

	if !existed {
		s.stats.incrementNoun(meta.Noun)
	}
	return nil
}

// GetNoun returns the combined noun record. A vector without matching
// metadata is reported as missing in normal mode, or as Fatal corruption
// in strict mode (spec §3, §7).
func (s *Store) GetNoun(ctx context.Context, id string) (*vtypes.NounVectorRecord, *vtypes.NounMetadata, error) {
	if !vtypes.IsValidID(id) {
		return nil, nil, verrors.New("getNoun", verrors.Invalid, id, errBadID)
	}
	vecData, vecOK, err := s.readRaw(ctx, VectorPath(KindNoun, id))
	if err != nil {
		return nil, nil, verrors.WrapKey("getNoun", verrors.KindOf(err), id, err)
	}
	metaData, metaOK, err := s.readRaw(ctx, MetadataPath(KindNoun, id))
	if err != nil {
		return nil, nil, verrors.WrapKey("getNoun", verrors.KindOf(err), id, err)
	}
	if !vecOK || !metaOK {
		if vecOK && !metaOK && s.config.StrictMode {
			return nil, nil, verrors.New("getNoun", verrors.Fatal, id, errOrphanVector)
		}
		return nil, nil, verrors.New("getNoun", verrors.NotFound, id, errNotFound)
	}
	var vec vtypes.NounVectorRecord
	if err := json.Unmarshal(vecData, &vec); err != nil {
		return nil, nil, verrors.WrapKey("getNoun", verrors.Fatal, id, err)
	}
	var meta vtypes.NounMetadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, nil, verrors.WrapKey("getNoun", verrors.Fatal, id, err)
	}
	return &vec, &meta, nil
}

// DeleteNoun removes both halves of a noun record and its secondary
// index entries, decrementing counters.
func (s *Store) DeleteNoun(ctx context.Context, id string) error {
	if !vtypes.IsValidID(id) {
		return verrors.New("deleteNoun", verrors.Invalid, id, errBadID)
	}
	metaData, metaOK, err := s.readRaw(ctx, MetadataPath(KindNoun, id))
	if err != nil {
		return verrors.WrapKey("deleteNoun", verrors.KindOf(err), id, err)
	}
	if err := s.adapter.DeleteObject(ctx, VectorPath(KindNoun, id)); err != nil {
		return verrors.WrapKey("deleteNoun", verrors.KindOf(err), id, err)
	}
	if err := s.adapter.DeleteObject(ctx, MetadataPath(KindNoun, id)); err != nil {
		return verrors.WrapKey("deleteNoun", verrors.KindOf(err), id, err)
	}
	if metaOK {
		var meta vtypes.NounMetadata
		if err := json.Unmarshal(metaData, &meta); err == nil {
			_ = s.adapter.DeleteObject(ctx, nounTypeIndexPath(meta.Noun, id))
			s.stats.decrementNoun(meta.Noun)
		}
	}
	return nil
}

func (s *Store) writeNounTypeIndex(ctx context.Context, typ vtypes.NounType, id string) error {
	return s.adapter.WriteObject(ctx, nounTypeIndexPath(typ, id), []byte("{}"))
}

func nounTypeIndexPath(typ vtypes.NounType, id string) string {
	return "indexes/by-noun-type/" + string(typ) + "/" + vtypes.Shard(id) + "/" + strings.ToLower(id) + ".json"
}

func (s *Store) readRaw(ctx context.Context, path string) (data []byte, ok bool, err error) {
	data, err = s.adapter.ReadObject(ctx, path)
	if verrors.KindOf(err) == verrors.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

type baseErr string

func (e baseErr) Error() string { return string(e) }

const (
	errBadID        = baseErr("id is not a valid UUIDv4")
	errBadNounType  = baseErr("noun type is not in the closed enumeration")
	errBadVerbType  = baseErr("verb type is not in the closed enumeration")
	errNotFound     = baseErr("entity not found")
	errOrphanVector = baseErr("vector present without metadata")
	errNegWeight    = baseErr("verb weight must be >= 0")
)
