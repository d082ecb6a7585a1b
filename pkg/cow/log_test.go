package cow

import (
	"context"
	"testing"
	"time"
)

// chain builds n commits, each the previous one's parent, timestamped a
// second apart starting at base, and returns their hashes oldest-first.
func chain(t *testing.T, s *Store, parent string, n int, base time.Time) []string {
	t.Helper()
	ctx := context.Background()
	treeHash, err := s.PutTree(ctx, Tree{})
	if err != nil {
		t.Fatalf("PutTree: %v", err)
	}
	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		hash, err := s.PutCommit(ctx, Commit{
			Tree:      treeHash,
			Parent:    parent,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Author:    "system",
			Message:   "step",
		})
		if err != nil {
			t.Fatalf("PutCommit #%d: %v", i, err)
		}
		hashes = append(hashes, hash)
		parent = hash
	}
	return hashes
}

func TestWalkVisitsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	hashes := chain(t, s, "", 3, time.Unix(1000, 0).UTC())

	var visited []string
	err := s.Walk(ctx, hashes[2], WalkOptions{}, func(hash string, _ Commit) (bool, error) {
		visited = append(visited, hash)
		return true, nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := []string{hashes[2], hashes[1], hashes[0]}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited[%d] = %q, want %q", i, visited[i], want[i])
		}
	}
}

func TestWalkRespectsMaxDepthAndStopAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	hashes := chain(t, s, "", 5, time.Unix(2000, 0).UTC())

	var depthLimited []string
	if err := s.Walk(ctx, hashes[4], WalkOptions{MaxDepth: 2}, func(hash string, _ Commit) (bool, error) {
		depthLimited = append(depthLimited, hash)
		return true, nil
	}); err != nil {
		t.Fatalf("Walk maxDepth: %v", err)
	}
	if len(depthLimited) != 2 {
		t.Fatalf("got %d commits, want 2", len(depthLimited))
	}

	var stopped []string
	if err := s.Walk(ctx, hashes[4], WalkOptions{StopAt: hashes[1]}, func(hash string, _ Commit) (bool, error) {
		stopped = append(stopped, hash)
		return true, nil
	}); err != nil {
		t.Fatalf("Walk stopAt: %v", err)
	}
	if len(stopped) != 3 || stopped[len(stopped)-1] != hashes[2] {
		t.Fatalf("stopAt walk = %v, want 3 entries ending at hashes[2]", stopped)
	}
}

func TestFindAtTimeBinarySearchesCommitIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Unix(5000, 0).UTC()
	hashes := chain(t, s, "", 4, base)

	got, err := s.FindAtTime(ctx, hashes[3], base.Add(2500*time.Millisecond))
	if err != nil {
		t.Fatalf("FindAtTime: %v", err)
	}
	if got != hashes[2] {
		t.Fatalf("FindAtTime = %q, want hashes[2] (%q)", got, hashes[2])
	}

	_, err = s.FindAtTime(ctx, hashes[3], base.Add(-time.Hour))
	if err == nil {
		t.Fatalf("FindAtTime before any commit should fail")
	}
}

func TestFindCommonAncestorAndIsAncestor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Unix(9000, 0).UTC()
	trunk := chain(t, s, "", 2, base)
	branchA := chain(t, s, trunk[1], 2, base.Add(10*time.Second))
	branchB := chain(t, s, trunk[1], 2, base.Add(20*time.Second))

	ancestor, err := s.FindCommonAncestor(ctx, branchA[1], branchB[1])
	if err != nil {
		t.Fatalf("FindCommonAncestor: %v", err)
	}
	if ancestor != trunk[1] {
		t.Fatalf("FindCommonAncestor = %q, want trunk tip %q", ancestor, trunk[1])
	}

	isAnc, err := s.IsAncestor(ctx, trunk[0], branchA[1])
	if err != nil {
		t.Fatalf("IsAncestor: %v", err)
	}
	if !isAnc {
		t.Fatalf("trunk[0] should be an ancestor of branchA[1]")
	}

	isAnc, err = s.IsAncestor(ctx, branchB[0], branchA[1])
	if err != nil {
		t.Fatalf("IsAncestor: %v", err)
	}
	if isAnc {
		t.Fatalf("branchB[0] should not be an ancestor of branchA[1]")
	}
}

func TestCountBetween(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	hashes := chain(t, s, "", 4, time.Unix(11000, 0).UTC())

	n, err := s.CountBetween(ctx, hashes[0], hashes[3])
	if err != nil {
		t.Fatalf("CountBetween: %v", err)
	}
	if n != 3 {
		t.Fatalf("CountBetween = %d, want 3 (hashes[1],[2],[3])", n)
	}
}
