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

// SaveVerbVector persists a verb's HNSW-node half.
func (s *Store) SaveVerbVector(ctx context.Context, rec vtypes.VerbVectorRecord) error {
	if !vtypes.IsValidID(rec.ID) {
		return verrors.New("saveVerbVector", verrors.Invalid, rec.ID, errBadID)
	}
	if err := rec.Vector.Validate(); err != nil {
		return verrors.WrapKey("saveVerbVector", verrors.Invalid, rec.ID, err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return verrors.WrapKey("saveVerbVector", verrors.Fatal, rec.ID, err)
	}
	path := VectorPath(KindVerb, rec.ID)
	if err := storage.WithRetry(ctx, func() error { return s.adapter.WriteObject(ctx, path, data) }); err != nil {
		return verrors.WrapKey("saveVerbVector", verrors.KindOf(err), rec.ID, err)
	}
	return nil
}

// SaveVerbMetadata persists a verb's metadata record, bumping the
// verb-type counter exactly once per id, the same invariant as nouns
// (spec §4.2). Verb type is denormalized here, avoiding a second read
// on counter bumps (spec §4.2).
func (s *Store) SaveVerbMetadata(ctx context.Context, id string, meta vtypes.VerbMetadata) error {
	if !vtypes.IsValidID(id) {
		return verrors.New("saveVerbMetadata", verrors.Invalid, id, errBadID)
	}
	if !meta.Verb.Valid() {
		return verrors.New("saveVerbMetadata", verrors.Invalid, id, errBadVerbType)
	}
	if meta.Weight < 0 {
		return verrors.New("saveVerbMetadata", verrors.Invalid, id, errNegWeight)
	}
	path := MetadataPath(KindVerb, id)

	_, existed, err := s.readRaw(ctx, path)
	if err != nil {
		return verrors.WrapKey("saveVerbMetadata", verrors.KindOf(err), id, err)
	}

	meta.ID = id
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	meta.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(meta)
	if err != nil {
		return verrors.WrapKey("saveVerbMetadata", verrors.Fatal, id, err)
	}
	if err := storage.WithRetry(ctx, func() error { return s.adapter.WriteObject(ctx, path, data) }); err != nil {
		return verrors.WrapKey("saveVerbMetadata", verrors.KindOf(err), id, err)
	}

	if err := s.writeVerbIndexes(ctx, meta, id); err != nil {
		return err
	}
	if !existed {
		s.stats.incrementVerb(meta.Verb)
	}
	return nil
}

// GetVerb returns the combined verb record.
func (s *Store) GetVerb(ctx context.Context, id string) (*vtypes.VerbVectorRecord, *vtypes.VerbMetadata, error) {
	if !vtypes.IsValidID(id) {
		return nil, nil, verrors.New("getVerb", verrors.Invalid, id, errBadID)
	}
	vecData, vecOK, err := s.readRaw(ctx, VectorPath(KindVerb, id))
	if err != nil {
		return nil, nil, verrors.WrapKey("getVerb", verrors.KindOf(err), id, err)
	}
	metaData, metaOK, err := s.readRaw(ctx, MetadataPath(KindVerb, id))
	if err != nil {
		return nil, nil, verrors.WrapKey("getVerb", verrors.KindOf(err), id, err)
	}
	if !vecOK || !metaOK {
		return nil, nil, verrors.New("getVerb", verrors.NotFound, id, errNotFound)
	}
	var vec vtypes.VerbVectorRecord
	if err := json.Unmarshal(vecData, &vec); err != nil {
		return nil, nil, verrors.WrapKey("getVerb", verrors.Fatal, id, err)
	}
	var meta vtypes.VerbMetadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, nil, verrors.WrapKey("getVerb", verrors.Fatal, id, err)
	}
	return &vec, &meta, nil
}

// DeleteVerb removes both halves of a verb record and its secondary
// index entries.
func (s *Store) DeleteVerb(ctx context.Context, id string) error {
	if !vtypes.IsValidID(id) {
		return verrors.New("deleteVerb", verrors.Invalid, id, errBadID)
	}
	metaData, metaOK, err := s.readRaw(ctx, MetadataPath(KindVerb, id))
	if err != nil {
		return verrors.WrapKey("deleteVerb", verrors.KindOf(err), id, err)
	}
	if err := s.adapter.DeleteObject(ctx, VectorPath(KindVerb, id)); err != nil {
		return verrors.WrapKey("deleteVerb", verrors.KindOf(err), id, err)
	}
	if err := s.adapter.DeleteObject(ctx, MetadataPath(KindVerb, id)); err != nil {
		return verrors.WrapKey("deleteVerb", verrors.KindOf(err), id, err)
	}
	if metaOK {
		var meta vtypes.VerbMetadata
		if err := json.Unmarshal(metaData, &meta); err == nil {
			s.deleteVerbIndexes(ctx, meta, id)
			s.stats.decrementVerb(meta.Verb)
		}
	}
	return nil
}

func (s *Store) writeVerbIndexes(ctx context.Context, meta vtypes.VerbMetadata, id string) error {
	paths := []string{
		verbTypeIndexPath(meta.Verb, id),
		verbSourceIndexPath(meta.SourceID, id),
		verbTargetIndexPath(meta.TargetID, id),
		verbSourceTypeIndexPath(meta.SourceID, meta.Verb, id),
	}
	for _, p := range paths {
		if err := s.adapter.WriteObject(ctx, p, []byte("{}")); err != nil {
			return verrors.WrapKey("saveVerbMetadata", verrors.KindOf(err), id, err)
		}
	}
	return nil
}

func (s *Store) deleteVerbIndexes(ctx context.Context, meta vtypes.VerbMetadata, id string) {
	_ = s.adapter.DeleteObject(ctx, verbTypeIndexPath(meta.Verb, id))
	_ = s.adapter.DeleteObject(ctx, verbSourceIndexPath(meta.SourceID, id))
	_ = s.adapter.DeleteObject(ctx, verbTargetIndexPath(meta.TargetID, id))
	_ = s.adapter.DeleteObject(ctx, verbSourceTypeIndexPath(meta.SourceID, meta.Verb, id))
}

func verbTypeIndexPath(typ vtypes.VerbType, id string) string {
	return "indexes/by-verb-type/" + string(typ) + "/" + vtypes.Shard(id) + "/" + strings.ToLower(id) + ".json"
}

func verbSourceIndexPath(sourceID, id string) string {
	return "indexes/by-verb-source/" + vtypes.Shard(sourceID) + "/" + strings.ToLower(sourceID) + "/" + strings.ToLower(id) + ".json"
}

func verbTargetIndexPath(targetID, id string) string {
	return "indexes/by-verb-target/" + vtypes.Shard(targetID) + "/" + strings.ToLower(targetID) + "/" + strings.ToLower(id) + ".json"
}

func verbSourceTypeIndexPath(sourceID string, typ vtypes.VerbType, id string) string {
	return "indexes/by-verb-source-type/" + strings.ToLower(sourceID) + "/" + string(typ) + "/" + strings.ToLower(id) + ".json"
}
