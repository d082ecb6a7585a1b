package base

import (
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/vgraph/vgraph/pkg/verrors"
	"github.com/vgraph/vgraph/pkg/vtypes"
)

// NounFilter selects nouns to list. A zero value lists every noun.
type NounFilter struct {
	Type vtypes.NounType
}

// VerbFilter selects verbs to list. Spec §4.2 names five fast-paths:
// noun-by-type, verb-by-source, verb-by-target, verb-by-type, and
// verb-by-(source+type). A zero value lists every verb by scanning the
// metadata tree; a filter that combines TargetID with SourceID or Type
// matches none of the fast paths and is rejected as Invalid.
type VerbFilter struct {
	Type     vtypes.VerbType
	SourceID string
	TargetID string
}

// NounResult is one page of GetNouns.
type NounResult struct {
	Items      []vtypes.NounMetadata
	HasMore    bool
	NextCursor string
}

// VerbResult is one page of GetVerbs.
type VerbResult struct {
	Items      []vtypes.VerbMetadata
	HasMore    bool
	NextCursor string
}

// GetNouns lists noun metadata, honoring a type filter via the
// noun-by-type secondary index when present (spec §4.2 fast-path).
func (s *Store) GetNouns(ctx context.Context, filter NounFilter, opts Pagination) (NounResult, error) {
	var dir func(shard string) string
	if filter.Type != "" {
		if !filter.Type.Valid() {
			return NounResult{}, verrors.New("getNouns", verrors.Invalid, "", errBadNounType)
		}
		dir = func(shard string) string { return "indexes/by-noun-type/" + string(filter.Type) + "/" + shard + "/" }
	} else {
		dir = func(shard string) string { return ShardDir(KindNoun, "metadata", shard) }
	}

	page, err := listAcrossShards(ctx, s.adapter, dir, opts.Limit, opts.Cursor)
	if err != nil {
		return NounResult{}, verrors.Wrap("getNouns", verrors.KindOf(err), err)
	}

	items := make([]vtypes.NounMetadata, 0, len(page.Keys))
	for _, k := range page.Keys {
		id := idFromIndexKey(k)
		meta, ok, err := s.readNounMetadata(ctx, id)
		if err != nil {
			return NounResult{}, err
		}
		if ok {
			items = append(items, *meta)
		}
	}
	return NounResult{Items: items, HasMore: page.HasMore, NextCursor: page.NextCursor}, nil
}

// GetVerbs lists verb metadata, using whichever secondary index
// fast-path the filter supports (spec §4.2).
func (s *Store) GetVerbs(ctx context.Context, filter VerbFilter, opts Pagination) (VerbResult, error) {
	var dir func(shard string) string
	switch {
	case filter.TargetID != "" && (filter.SourceID != "" || filter.Type != ""):
		return VerbResult{}, verrors.New("getVerbs", verrors.Invalid, filter.TargetID, baseErr("verb filter combines targetId with sourceId or type; no index serves it"))
	case filter.SourceID != "" && filter.Type != "":
		if !vtypes.IsValidID(filter.SourceID) {
			return VerbResult{}, verrors.New("getVerbs", verrors.Invalid, filter.SourceID, errBadID)
		}
		base := "indexes/by-verb-source-type/" + strings.ToLower(filter.SourceID) + "/" + string(filter.Type) + "/"
		dir = func(string) string { return base }
		return s.listVerbsUnsharded(ctx, dir, opts)
	case filter.SourceID != "":
		if !vtypes.IsValidID(filter.SourceID) {
			return VerbResult{}, verrors.New("getVerbs", verrors.Invalid, filter.SourceID, errBadID)
		}
		shard := vtypes.Shard(filter.SourceID)
		base := "indexes/by-verb-source/" + shard + "/" + strings.ToLower(filter.SourceID) + "/"
		dir = func(string) string { return base }
		return s.listVerbsUnsharded(ctx, dir, opts)
	case filter.TargetID != "":
		if !vtypes.IsValidID(filter.TargetID) {
			return VerbResult{}, verrors.New("getVerbs", verrors.Invalid, filter.TargetID, errBadID)
		}
		shard := vtypes.Shard(filter.TargetID)
		base := "indexes/by-verb-target/" + shard + "/" + strings.ToLower(filter.TargetID) + "/"
		dir = func(string) string { return base }
		return s.listVerbsUnsharded(ctx, dir, opts)
	case filter.Type != "":
		if !filter.Type.Valid() {
			return VerbResult{}, verrors.New("getVerbs", verrors.Invalid, "", errBadVerbType)
		}
		dir = func(shard string) string { return "indexes/by-verb-type/" + string(filter.Type) + "/" + shard + "/" }
	default:
		dir = func(shard string) string { return ShardDir(KindVerb, "metadata", shard) }
	}

	page, err := listAcrossShards(ctx, s.adapter, dir, opts.Limit, opts.Cursor)
	if err != nil {
		return VerbResult{}, verrors.Wrap("getVerbs", verrors.KindOf(err), err)
	}
	return s.resolveVerbPage(ctx, page)
}

// listVerbsUnsharded lists a single fixed-prefix index directory
// directly (the by-source/by-target/by-source-type indexes are keyed
// by the filter value itself, not re-sharded, since they're already
// small per-entity buckets).
func (s *Store) listVerbsUnsharded(ctx context.Context, dir func(string) string, opts Pagination) (VerbResult, error) {
	keys, hasMore, next, err := s.adapter.List(ctx, dir(""), opts.Limit, opts.Cursor)
	if err != nil {
		return VerbResult{}, verrors.Wrap("getVerbs", verrors.KindOf(err), err)
	}
	if len(keys) == 0 {
		hasMore = false
	}
	return s.resolveVerbPage(ctx, Page{Keys: keys, HasMore: hasMore, NextCursor: next})
}

func (s *Store) resolveVerbPage(ctx context.Context, page Page) (VerbResult, error) {
	items := make([]vtypes.VerbMetadata, 0, len(page.Keys))
	for _, k := range page.Keys {
		id := idFromIndexKey(k)
		meta, ok, err := s.readVerbMetadata(ctx, id)
		if err != nil {
			return VerbResult{}, err
		}
		if ok {
			items = append(items, *meta)
		}
	}
	return VerbResult{Items: items, HasMore: page.HasMore, NextCursor: page.NextCursor}, nil
}

func (s *Store) readNounMetadata(ctx context.Context, id string) (*vtypes.NounMetadata, bool, error) {
	data, ok, err := s.readRaw(ctx, MetadataPath(KindNoun, id))
	if err != nil || !ok {
		return nil, ok, err
	}
	var m vtypes.NounMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, verrors.WrapKey("getNouns", verrors.Fatal, id, err)
	}
	return &m, true, nil
}

func (s *Store) readVerbMetadata(ctx context.Context, id string) (*vtypes.VerbMetadata, bool, error) {
	data, ok, err := s.readRaw(ctx, MetadataPath(KindVerb, id))
	if err != nil || !ok {
		return nil, ok, err
	}
	var m vtypes.VerbMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, verrors.WrapKey("getVerbs", verrors.Fatal, id, err)
	}
	return &m, true, nil
}

func idFromIndexKey(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, ".json")
}
