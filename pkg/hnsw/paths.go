package hnsw

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/vgraph/vgraph/pkg/vtypes"
)

func jsonUnmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// deletedPath is the persisted tombstone marker for a deleted node,
// sharded like every other secondary index under indexes/ (spec §4.4:
// "persisted... index" of deleted ids).
func deletedPath(id string) string {
	return deletedShardDir(vtypes.Shard(id)) + strings.ToLower(id) + ".json"
}

func deletedShardDir(shard string) string {
	return "indexes/hnsw_deleted/" + shard + "/"
}

func idFromDeletedKey(key string) string {
	return strings.TrimSuffix(path.Base(key), ".json")
}
