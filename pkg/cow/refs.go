package cow

import (
	"context"
	"strings"

	"github.com/vgraph/vgraph/pkg/verrors"
)

const (
	refsDir  = "refs/"
	headPath = "HEAD"
	symbolicPrefix = "ref: "
)

// RefUpdateMode selects the compare-and-swap discipline of SetRef (spec
// §4.7: "create-only, update-only, CAS (expected-old-value), and force").
type RefUpdateMode int

const (
	CreateOnly RefUpdateMode = iota
	UpdateOnly
	CAS
	Force
)

// GetRef resolves name (e.g. "heads/main" or "tags/v1", relative to
// refs/) to the commit hash it points at.
func (s *Store) GetRef(ctx context.Context, name string) (string, error) {
	data, err := s.adapter.ReadObject(ctx, refsDir+name)
	if err != nil {
		return "", verrors.WrapKey("cow.getref", verrors.KindOf(err), name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SetRef writes name -> value under the requested update mode.
func (s *Store) SetRef(ctx context.Context, name, value string, mode RefUpdateMode, expectedOld string) error {
	current, err := s.adapter.ReadObject(ctx, refsDir+name)
	exists := err == nil
	if err != nil && verrors.KindOf(err) != verrors.NotFound {
		return verrors.WrapKey("cow.setref", verrors.KindOf(err), name, err)
	}

	switch mode {
	case CreateOnly:
		if exists {
			return verrors.New("cow.setref", verrors.Conflict, name, errRefExists)
		}
	case UpdateOnly:
		if !exists {
			return verrors.New("cow.setref", verrors.NotFound, name, errRefMissing)
		}
	case CAS:
		if strings.TrimSpace(string(current)) != expectedOld {
			return verrors.New("cow.setref", verrors.Conflict, name, errRefCASMismatch)
		}
	case Force:
		// no precondition
	}

	return s.adapter.WriteObject(ctx, refsDir+name, []byte(value))
}

// DeleteRef removes name, refusing to delete the last remaining branch
// or the branch HEAD currently points at (spec §4.7).
func (s *Store) DeleteRef(ctx context.Context, name string) error {
	if !strings.HasPrefix(name, "heads/") {
		return s.adapter.DeleteObject(ctx, refsDir+name)
	}

	branches, err := s.listBranches(ctx)
	if err != nil {
		return err
	}
	if len(branches) <= 1 {
		return verrors.New("cow.deleteref", verrors.Invalid, name, errLastBranch)
	}

	headTarget, err := s.headTarget(ctx)
	if err == nil && "heads/"+headTarget == name {
		return verrors.New("cow.deleteref", verrors.Invalid, name, errHeadBranch)
	}

	return s.adapter.DeleteObject(ctx, refsDir+name)
}

func (s *Store) listBranches(ctx context.Context) ([]string, error) {
	var names []string
	cursor := ""
	for {
		keys, more, next, err := s.adapter.List(ctx, refsDir+"heads/", 0, cursor)
		if err != nil {
			return nil, verrors.Wrap("cow.listbranches", verrors.KindOf(err), err)
		}
		names = append(names, keys...)
		if !more {
			break
		}
		cursor = next
	}
	return names, nil
}

// SetHead points the symbolic HEAD ref at branch.
func (s *Store) SetHead(ctx context.Context, branch string) error {
	return s.adapter.WriteObject(ctx, headPath, []byte(symbolicPrefix+"refs/heads/"+branch))
}

// headTarget returns the branch name HEAD symbolically points to.
func (s *Store) headTarget(ctx context.Context) (string, error) {
	data, err := s.adapter.ReadObject(ctx, headPath)
	if err != nil {
		return "", verrors.Wrap("cow.head", verrors.KindOf(err), err)
	}
	target := strings.TrimSpace(string(data))
	target = strings.TrimPrefix(target, symbolicPrefix)
	return strings.TrimPrefix(target, "refs/heads/"), nil
}

// ResolveHead follows the symbolic HEAD ref to the commit hash it
// currently names.
func (s *Store) ResolveHead(ctx context.Context) (string, error) {
	branch, err := s.headTarget(ctx)
	if err != nil {
		return "", err
	}
	return s.GetRef(ctx, "heads/"+branch)
}

type refErr string

func (e refErr) Error() string { return string(e) }

const (
	errRefExists      = refErr("ref already exists")
	errRefMissing     = refErr("ref does not exist")
	errRefCASMismatch = refErr("ref's current value does not match the expected old value")
	errLastBranch     = refErr("refusing to delete the last remaining branch")
	errHeadBranch     = refErr("refusing to delete the branch HEAD currently points at")
)
