// Package base implements Base Storage (spec §4.2, component C2): the
// logical entity API on top of a storage.Adapter — routing, sharding,
// the two-file vector/metadata entity layout, pagination, statistics,
// and counters.
package base

import (
	"strings"

	"github.com/vgraph/vgraph/pkg/vtypes"
)

// EntityKind distinguishes noun and verb entity subtrees (spec §3
// reserved key namespaces).
type EntityKind string

const (
	KindNoun EntityKind = "nouns"
	KindVerb EntityKind = "verbs"
)

// reservedKeyPrefixes are the prefixes that force a non-UUID key (or
// even one that happens to parse as a UUID) into the system namespace
// (spec §4.2).
var reservedKeyPrefixes = []string{
	"__system_", "__metadata_", "__index_", "__chunk__",
	"__sparse_index__", "statistics_",
}

// KeyRoute is the result of analyzing an arbitrary storage key (spec
// §4.2): "keys are analyzed into {isEntity, shardId, directory,
// fullPath}".
type KeyRoute struct {
	IsEntity  bool
	ShardID   string
	Directory string
	FullPath  string
}

// AnalyzeKey classifies a raw key for the generic system-document
// escape hatch (statistics, sparse indexes, bloom filters, and anything
// else not already addressed via NounPath/VerbPath). A UUIDv4 routes to
// a sharded entity path; a reserved prefix or any other shape routes to
// _system/. Unknown formats are never silently sharded (spec §4.2).
func AnalyzeKey(key string) KeyRoute {
	if key == "statistics" {
		return systemRoute(key)
	}
	for _, p := range reservedKeyPrefixes {
		if strings.HasPrefix(key, p) {
			return systemRoute(key)
		}
	}
	if vtypes.IsValidID(key) {
		shard := vtypes.Shard(key)
		dir := "entities/generic/" + shard
		return KeyRoute{
			IsEntity:  true,
			ShardID:   shard,
			Directory: dir,
			FullPath:  dir + "/" + strings.ToLower(key) + ".json",
		}
	}
	return systemRoute(key)
}

func systemRoute(key string) KeyRoute {
	return KeyRoute{
		IsEntity:  false,
		Directory: "_system",
		FullPath:  "_system/" + key + ".json",
	}
}

// VectorPath returns the sharded path of an entity's vector (HNSW node)
// record: entities/{nouns|verbs}/hnsw/<shard>/<uuid>.json.
func VectorPath(kind EntityKind, id string) string {
	shard := vtypes.Shard(id)
	return "entities/" + string(kind) + "/hnsw/" + shard + "/" + strings.ToLower(id) + ".json"
}

// MetadataPath returns the sharded path of an entity's metadata record:
// entities/{nouns|verbs}/metadata/<shard>/<uuid>.json.
func MetadataPath(kind EntityKind, id string) string {
	shard := vtypes.Shard(id)
	return "entities/" + string(kind) + "/metadata/" + shard + "/" + strings.ToLower(id) + ".json"
}

// ShardDir returns the metadata directory for one shard, used by
// pagination and adjacency-rebuild scans.
func ShardDir(kind EntityKind, sub string, shard string) string {
	return "entities/" + string(kind) + "/" + sub + "/" + shard + "/"
}

// AllShards returns the 256 two-hex-character shard prefixes (spec §3,
// §6: "Sharding: shard = first two hex chars of the UUID (256 shards)").
func AllShards() []string {
	const hexDigits = "0123456789abcdef"
	shards := make([]string, 0, 256)
	for i := 0; i < 16; i++ {
		for j := 0; j < 16; j++ {
			shards = append(shards, string(hexDigits[i])+string(hexDigits[j]))
		}
	}
	return shards
}
