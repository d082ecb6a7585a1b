// Package version implements the Version Index (spec component C8):
// per-(entityId, branch) content-addressed version history, deduplicated
// by content hash, used for time-travel reads. Grounded on the
// `pkg/base` system-document routing (AnalyzeKey) already used for
// statistics, generalized from a single global singleton to one document
// per (entityId, branch); entity hashing reuses vtypes.CanonicalJSON so
// two writes of identical content always collapse to the same version
// entry, exactly as spec §4.7 requires.
package version

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vgraph/vgraph/pkg/base"
	"github.com/vgraph/vgraph/pkg/storage"
	"github.com/vgraph/vgraph/pkg/verrors"
	"github.com/vgraph/vgraph/pkg/vtypes"
)

// Entry is one recorded version of an entity (spec §4.7).
type Entry struct {
	Version     int       `json:"version"`
	Timestamp   time.Time `json:"ts"`
	ContentHash string    `json:"contentHash"`
	CommitHash  string    `json:"commitHash,omitempty"`
	Tag         string    `json:"tag,omitempty"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author,omitempty"`
}

// Index is the persisted per-(entityId, branch) document (spec §4.7).
type Index struct {
	EntityID string  `json:"entityId"`
	Branch   string  `json:"branch"`
	Versions []Entry `json:"versions"`
}

// Store manages version indexes and their deduplicated content bytes.
// Index-document writes are serialized per (entityId, branch) to keep
// the read-modify-write append race-free, mirroring the teacher's
// advisory-lock idiom for singleton system documents (spec §4.2).
type Store struct {
	adapter storage.Adapter
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a version Store over adapter.
func New(adapter storage.Adapter) *Store {
	return &Store{adapter: adapter, locks: map[string]*sync.Mutex{}}
}

// HashEntity computes the deterministic content hash spec §4.7 requires:
// canonical (recursively key-sorted) JSON, SHA-256 hex.
func HashEntity(entity any) (string, error) {
	canon, err := vtypes.CanonicalJSON(entity)
	if err != nil {
		return "", verrors.Wrap("version.hash", verrors.Fatal, err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func indexKey(entityID, branch string) string {
	return fmt.Sprintf("__system_versionindex_%s_%s", entityID, branch)
}

func contentKey(entityID, contentHash string) string {
	return fmt.Sprintf("__system_version_%s_%s", entityID, contentHash)
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Record appends a new version for (entityId, branch) unless an entry
// with the same contentHash already exists, in which case only tag and
// description are updated on the existing entry (spec §4.7 dedup rule).
// contentBytes are the canonical JSON this contentHash was computed
// from, stored at a system key invisible to entity scans.
func (s *Store) Record(ctx context.Context, entityID, branch string, contentHash string, contentBytes []byte, opts Entry) (*Index, error) {
	key := indexKey(entityID, branch)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	idx, err := s.loadIndex(ctx, entityID, branch)
	if err != nil {
		return nil, err
	}

	for i := range idx.Versions {
		if idx.Versions[i].ContentHash == contentHash {
			if opts.Tag != "" {
				idx.Versions[i].Tag = opts.Tag
			}
			if opts.Description != "" {
				idx.Versions[i].Description = opts.Description
			}
			if err := s.saveIndex(ctx, idx); err != nil {
				return nil, err
			}
			return idx, nil
		}
	}

	if err := s.adapter.WriteObject(ctx, base.AnalyzeKey(contentKey(entityID, contentHash)).FullPath, contentBytes); err != nil {
		return nil, verrors.Wrap("version.record", verrors.KindOf(err), err)
	}

	entry := opts
	entry.ContentHash = contentHash
	entry.Version = len(idx.Versions) + 1
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	idx.Versions = append(idx.Versions, entry)

	if err := s.saveIndex(ctx, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Get returns the version index for (entityId, branch), or an empty one
// if none has been recorded yet.
func (s *Store) Get(ctx context.Context, entityID, branch string) (*Index, error) {
	return s.loadIndex(ctx, entityID, branch)
}

// GetContent returns the canonical JSON bytes previously recorded under
// contentHash for entityID.
func (s *Store) GetContent(ctx context.Context, entityID, contentHash string) ([]byte, error) {
	data, err := s.adapter.ReadObject(ctx, base.AnalyzeKey(contentKey(entityID, contentHash)).FullPath)
	if err != nil {
		return nil, verrors.WrapKey("version.getcontent", verrors.KindOf(err), contentHash, err)
	}
	return data, nil
}

// AtTime returns the version entry in effect at or before ts, and false
// if the entity had no recorded version by then.
func (idx *Index) AtTime(ts time.Time) (*Entry, bool) {
	var best *Entry
	for i := range idx.Versions {
		e := &idx.Versions[i]
		if e.Timestamp.After(ts) {
			continue
		}
		if best == nil || e.Timestamp.After(best.Timestamp) {
			best = e
		}
	}
	return best, best != nil
}

func (s *Store) loadIndex(ctx context.Context, entityID, branch string) (*Index, error) {
	path := base.AnalyzeKey(indexKey(entityID, branch)).FullPath
	data, err := s.adapter.ReadObject(ctx, path)
	if verrors.KindOf(err) == verrors.NotFound {
		return &Index{EntityID: entityID, Branch: branch}, nil
	}
	if err != nil {
		return nil, verrors.Wrap("version.load", verrors.KindOf(err), err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, verrors.New("version.load", verrors.Fatal, path, err)
	}
	return &idx, nil
}

func (s *Store) saveIndex(ctx context.Context, idx *Index) error {
	path := base.AnalyzeKey(indexKey(idx.EntityID, idx.Branch)).FullPath
	data, err := json.Marshal(idx)
	if err != nil {
		return verrors.Wrap("version.save", verrors.Fatal, err)
	}
	if err := s.adapter.WriteObject(ctx, path, data); err != nil {
		return verrors.Wrap("version.save", verrors.KindOf(err), err)
	}
	return nil
}
