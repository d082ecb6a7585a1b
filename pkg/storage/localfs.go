package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/vgraph/vgraph/pkg/verrors"
)

// LocalFS is an Adapter backed by one file per key under a root
// directory. Writes go through a temp-file-then-rename sequence so a
// crash mid-write never leaves a torn object (spec §4.1: "durable
// replace").
type LocalFS struct {
	root     string
	readOnly bool
	mu       sync.Mutex // serializes the mkdir-then-rename sequence per adapter
}

// NewLocalFS constructs a LocalFS adapter rooted at dir, creating it if
// necessary.
func NewLocalFS(dir string, readOnly bool) (*LocalFS, error) {
	if !readOnly {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, verrors.New("localfs.new", verrors.TransientIO, dir, err)
		}
	}
	return &LocalFS{root: dir, readOnly: readOnly}, nil
}

func (f *LocalFS) fsPath(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

func (f *LocalFS) WriteObject(_ context.Context, path string, data []byte) error {
	if f.readOnly {
		return verrors.New("localfs.write", verrors.PermissionDenied, path, errReadOnly)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	full := f.fsPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return verrors.New("localfs.write", verrors.TransientIO, path, err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return verrors.New("localfs.write", verrors.TransientIO, path, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return verrors.New("localfs.write", verrors.TransientIO, path, err)
	}
	return nil
}

func (f *LocalFS) ReadObject(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(f.fsPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, verrors.New("localfs.read", verrors.NotFound, path, err)
		}
		return nil, verrors.New("localfs.read", verrors.TransientIO, path, err)
	}
	return data, nil
}

func (f *LocalFS) DeleteObject(_ context.Context, path string) error {
	if f.readOnly {
		return verrors.New("localfs.delete", verrors.PermissionDenied, path, errReadOnly)
	}
	err := os.Remove(f.fsPath(path))
	if err != nil && !os.IsNotExist(err) {
		return verrors.New("localfs.delete", verrors.TransientIO, path, err)
	}
	return nil
}

func (f *LocalFS) Append(_ context.Context, path string, data []byte) error {
	if f.readOnly {
		return verrors.New("localfs.append", verrors.PermissionDenied, path, errReadOnly)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	full := f.fsPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return verrors.New("localfs.append", verrors.TransientIO, path, err)
	}
	fh, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return verrors.New("localfs.append", verrors.TransientIO, path, err)
	}
	defer fh.Close()
	if _, err := fh.Write(data); err != nil {
		return verrors.New("localfs.append", verrors.TransientIO, path, err)
	}
	return nil
}

func (f *LocalFS) List(_ context.Context, prefix string, limit int, cursor string) ([]string, bool, string, error) {
	var all []string
	base := f.fsPath(prefix)
	walkRoot := base
	// prefix may name a partial filename, not just a directory; walk the
	// parent and filter by string prefix to stay correct in that case.
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		walkRoot = filepath.Dir(base)
	}
	err := filepath.Walk(walkRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(f.root, p)
		if rerr != nil {
			return rerr
		}
		key := filepath.ToSlash(rel)
		key = strings.TrimSuffix(key, ".tmp")
		if strings.HasPrefix(key, prefix) {
			all = append(all, key)
		}
		return nil
	})
	if err != nil {
		return nil, false, "", verrors.New("localfs.list", verrors.TransientIO, prefix, err)
	}
	sort.Strings(all)

	offset := 0
	if cursor != "" {
		o, perr := strconv.Atoi(cursor)
		if perr != nil {
			return nil, false, "", verrors.New("localfs.list", verrors.Invalid, prefix, perr)
		}
		offset = o
	}
	if offset > len(all) {
		offset = len(all)
	}
	end := len(all)
	hasMore := false
	if limit > 0 && offset+limit < len(all) {
		end = offset + limit
		hasMore = true
	}
	page := append([]string{}, all[offset:end]...)
	if len(page) == 0 {
		hasMore = false
	}
	return page, hasMore, strconv.Itoa(end), nil
}

func (f *LocalFS) ReadOnly() bool { return f.readOnly }
func (f *LocalFS) Class() Class   { return ClassLocal }

const errReadOnly = memErr("adapter is read-only")
