package cow

import (
	"context"
	"sort"
	"time"

	"github.com/vgraph/vgraph/pkg/verrors"
)

// WalkOptions bounds a history walk (spec §4.7).
type WalkOptions struct {
	MaxDepth int
	Until    time.Time
	StopAt   string
	Filter   func(hash string, c Commit) bool
}

// Visitor is called once per commit during Walk, newest first. Returning
// false stops the walk early.
type Visitor func(hash string, c Commit) (cont bool, err error)

// Walk streams the first-parent history starting at head, newest first,
// without accumulating the whole history in memory (spec §4.7).
func (s *Store) Walk(ctx context.Context, head string, opts WalkOptions, visit Visitor) error {
	hash := head
	depth := 0
	for hash != "" {
		if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
			return nil
		}
		if hash == opts.StopAt {
			return nil
		}
		select {
		case <-ctx.Done():
			return verrors.Wrap("cow.walk", verrors.Cancelled, ctx.Err())
		default:
		}

		c, err := s.GetCommit(ctx, hash)
		if err != nil {
			return err
		}
		if !opts.Until.IsZero() && c.Timestamp.Before(opts.Until) {
			return nil
		}
		if opts.Filter == nil || opts.Filter(hash, *c) {
			cont, err := visit(hash, *c)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		hash = c.Parent
		depth++
	}
	return nil
}

// commitIndexEntry is one row of the lazily-built (timestamp, hash)
// index findAtTime binary-searches.
type commitIndexEntry struct {
	hash string
	ts   time.Time
}

// buildCommitIndex walks the full first-parent history once, newest
// first, and returns it oldest-first for binary search.
func (s *Store) buildCommitIndex(ctx context.Context, head string) ([]commitIndexEntry, error) {
	var entries []commitIndexEntry
	err := s.Walk(ctx, head, WalkOptions{}, func(hash string, c Commit) (bool, error) {
		entries = append(entries, commitIndexEntry{hash: hash, ts: c.Timestamp})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts.Before(entries[j].ts) })
	return entries, nil
}

// FindAtTime returns the newest commit reachable from head whose
// timestamp is at or before ts (spec §4.7).
func (s *Store) FindAtTime(ctx context.Context, head string, ts time.Time) (string, error) {
	entries, err := s.buildCommitIndex(ctx, head)
	if err != nil {
		return "", err
	}
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].ts.After(ts) })
	if idx == 0 {
		return "", verrors.New("cow.findattime", verrors.NotFound, head, errNoCommitAtTime)
	}
	return entries[idx-1].hash, nil
}

// ancestorSet collects every hash on a's first-parent chain, stopping at
// the root (empty parent).
func (s *Store) ancestorSet(ctx context.Context, a string) (map[string]bool, error) {
	set := map[string]bool{}
	err := s.Walk(ctx, a, WalkOptions{}, func(hash string, _ Commit) (bool, error) {
		set[hash] = true
		return true, nil
	})
	return set, err
}

// FindCommonAncestor returns the most recent commit reachable from both
// a and b along their first-parent chains.
func (s *Store) FindCommonAncestor(ctx context.Context, a, b string) (string, error) {
	bSet, err := s.ancestorSet(ctx, b)
	if err != nil {
		return "", err
	}
	var found string
	err = s.Walk(ctx, a, WalkOptions{}, func(hash string, _ Commit) (bool, error) {
		if bSet[hash] {
			found = hash
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", verrors.New("cow.commonancestor", verrors.NotFound, a, errNoCommonAncestor)
	}
	return found, nil
}

// CountBetween counts the commits on descendant's first-parent chain from
// descendant back to ancestor, counting descendant itself and excluding
// ancestor.
func (s *Store) CountBetween(ctx context.Context, ancestor, descendant string) (int, error) {
	count := 0
	err := s.Walk(ctx, descendant, WalkOptions{StopAt: ancestor}, func(hash string, _ Commit) (bool, error) {
		count++
		return true, nil
	})
	return count, err
}

// IsAncestor reports whether a is reachable from b's first-parent chain.
func (s *Store) IsAncestor(ctx context.Context, a, b string) (bool, error) {
	found := false
	err := s.Walk(ctx, b, WalkOptions{}, func(hash string, _ Commit) (bool, error) {
		if hash == a {
			found = true
			return false, nil
		}
		return true, nil
	})
	return found, err
}

type logErr string

func (e logErr) Error() string { return string(e) }

const (
	errNoCommitAtTime   = logErr("no commit reachable from head at or before the requested time")
	errNoCommonAncestor = logErr("no common ancestor found on the first-parent chains")
)
