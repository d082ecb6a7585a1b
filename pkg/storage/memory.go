package storage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/vgraph/vgraph/pkg/verrors"
)

// Memory is an in-process, map-backed Adapter. It never persists across
// process restarts; used for tests and ephemeral embeddings.
type Memory struct {
	mu   sync.RWMutex
	objs map[string][]byte
}

// NewMemory constructs an empty Memory adapter.
func NewMemory() *Memory {
	return &Memory{objs: make(map[string][]byte)}
}

func (m *Memory) WriteObject(_ context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objs[path] = cp
	return nil
}

func (m *Memory) ReadObject(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objs[path]
	if !ok {
		return nil, verrors.New("memory.read", verrors.NotFound, path, errNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *Memory) DeleteObject(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objs, path)
	return nil
}

func (m *Memory) Append(_ context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[path] = append(m.objs[path], data...)
	return nil
}

func (m *Memory) List(_ context.Context, prefix string, limit int, cursor string) ([]string, bool, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.objs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	offset := 0
	if cursor != "" {
		o, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, false, "", verrors.New("memory.list", verrors.Invalid, prefix, err)
		}
		offset = o
	}
	if offset > len(keys) {
		offset = len(keys)
	}
	end := len(keys)
	hasMore := false
	if limit > 0 && offset+limit < len(keys) {
		end = offset + limit
		hasMore = true
	}
	page := append([]string{}, keys[offset:end]...)
	if len(page) == 0 {
		// Safety rule (spec §4.2): an empty page never claims more.
		hasMore = false
	}
	return page, hasMore, strconv.Itoa(end), nil
}

func (m *Memory) ReadOnly() bool { return false }
func (m *Memory) Class() Class   { return ClassMemory }

type memErr string

func (e memErr) Error() string { return string(e) }

const errNotFound = memErr("object not found")
