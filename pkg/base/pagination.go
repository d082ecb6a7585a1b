package base

import (
	"context"
	"strconv"
	"strings"

	"github.com/vgraph/vgraph/pkg/storage"
)

// Pagination is the options accepted by the paginated listing methods
// (spec §4.2): either offset or cursor is honored, native to whichever
// the adapter supports better.
type Pagination struct {
	Offset int
	Limit  int
	Cursor string
}

// Page is one page of a paginated listing, with TotalCount reported
// where feasible (spec §4.2).
type Page struct {
	Keys       []string
	TotalCount int
	HasMore    bool
	NextCursor string
}

// shardedCursor packs a shard index and that shard's local adapter
// cursor into one opaque string, so a listing that spans the 256 shard
// directories of an entity subtree can still hand the caller one cursor.
type shardedCursor struct {
	shardIdx int
	local    string
}

func parseShardedCursor(s string) shardedCursor {
	if s == "" {
		return shardedCursor{}
	}
	parts := strings.SplitN(s, "|", 2)
	idx, err := strconv.Atoi(parts[0])
	if err != nil {
		return shardedCursor{}
	}
	local := ""
	if len(parts) > 1 {
		local = parts[1]
	}
	return shardedCursor{shardIdx: idx, local: local}
}

func (c shardedCursor) String() string {
	return strconv.Itoa(c.shardIdx) + "|" + c.local
}

// listAcrossShards pages through every shard directory under dirFn,
// stopping once limit keys have been gathered or all 256 shards are
// exhausted. It is the fallback path used when no secondary index
// fast-path applies (spec §4.2: full scans only happen here, never for
// filters that have a fast-path index).
func listAcrossShards(ctx context.Context, adapter storage.Adapter, dirFn func(shard string) string, limit int, cursor string) (Page, error) {
	shards := AllShards()
	start := parseShardedCursor(cursor)
	if start.shardIdx < 0 || start.shardIdx >= len(shards) {
		start = shardedCursor{}
	}

	var keys []string
	shardIdx := start.shardIdx
	localCursor := start.local
	hasMore := false

	for shardIdx < len(shards) {
		remaining := limit - len(keys)
		if limit > 0 && remaining <= 0 {
			hasMore = true
			break
		}
		dir := dirFn(shards[shardIdx])
		page, more, next, err := adapter.List(ctx, dir, remaining, localCursor)
		if err != nil {
			return Page{}, err
		}
		keys = append(keys, page...)
		if more {
			localCursor = next
			hasMore = true
			break
		}
		shardIdx++
		localCursor = ""
	}

	nextCursor := ""
	if hasMore {
		nextCursor = shardedCursor{shardIdx: shardIdx, local: localCursor}.String()
	}
	if len(keys) == 0 {
		// Safety rule (spec §4.2): an empty page never claims more.
		hasMore = false
		nextCursor = ""
	}
	return Page{Keys: keys, HasMore: hasMore, NextCursor: nextCursor}, nil
}
