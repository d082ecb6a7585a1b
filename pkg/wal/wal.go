// Package wal implements the Write-Ahead Log (spec component C5):
// crash-atomic logging of mutating operations as newline-delimited JSON,
// with recovery, rotation, and checkpointing layered on any
// storage.Adapter. Grounded on the teacher's storage.WithRetry/verrors
// idiom for the durability primitives, since none of the example repos
// carry a WAL of their own; the append-only NDJSON shape and
// storage-class-aware sizing come directly from the spec.
package wal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vgraph/vgraph/pkg/storage"
	"github.com/vgraph/vgraph/pkg/verrors"
	"github.com/vgraph/vgraph/pkg/vtypes"
)

// Status is one of the three states a WAL entry passes through (spec §4.5).
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry is one newline-delimited JSON record (spec §4.5, §6).
type Entry struct {
	ID           string          `json:"id"`
	Op           string          `json:"operation"`
	Params       json.RawMessage `json:"params,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Status       Status          `json:"status"`
	Error        string          `json:"error,omitempty"`
	CheckpointID string          `json:"checkpointId,omitempty"`
}

// Handler replays one operation type during recovery. Handlers must be
// idempotent (spec §4.5: "saveNoun is idempotent because object writes
// are replace").
type Handler func(ctx context.Context, params json.RawMessage) error

const walDir = "_wal/"

// maxSizeFor returns the storage-class-aware rotation threshold (spec §4.5).
func maxSizeFor(class storage.Class) int64 {
	switch class {
	case storage.ClassCloud:
		return 50 * 1024 * 1024
	case storage.ClassLocal:
		return 10 * 1024 * 1024
	default:
		return 1 * 1024 * 1024
	}
}

// checkpointIntervalFor returns the storage-class-aware checkpoint
// cadence; zero means checkpointing is disabled (spec §4.5: "memory: none").
func checkpointIntervalFor(class storage.Class) time.Duration {
	switch class {
	case storage.ClassCloud:
		return 5 * time.Minute
	case storage.ClassLocal:
		return 1 * time.Minute
	default:
		return 0
	}
}

// WAL serializes append(execute) calls through a single mutex, standing
// in for the spec's single-writer actor (spec §5).
type WAL struct {
	mu          sync.Mutex
	adapter     storage.Adapter
	handlers    map[string]Handler
	currentPath string
	currentSize int64
	maxSize     int64
	opCount     int
	stopCheckpt chan struct{}
}

// New constructs a WAL over adapter, starting (or continuing) the
// current log file, and launches the class-appropriate checkpoint timer.
func New(ctx context.Context, adapter storage.Adapter) (*WAL, error) {
	w := &WAL{
		adapter:  adapter,
		handlers: map[string]Handler{},
		maxSize:  maxSizeFor(adapter.Class()),
	}
	w.currentPath = newLogPath()
	if interval := checkpointIntervalFor(adapter.Class()); interval > 0 {
		w.stopCheckpt = make(chan struct{})
		go w.runCheckpointTimer(interval)
	}
	return w, nil
}

// Close stops the background checkpoint timer, if any.
func (w *WAL) Close() {
	if w.stopCheckpt != nil {
		close(w.stopCheckpt)
	}
}

// RegisterHandler associates an operation name with its replay handler,
// used by Recover to dispatch still-pending entries.
func (w *WAL) RegisterHandler(op string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[op] = h
}

func newLogPath() string {
	return fmt.Sprintf("%swal_%d.log", walDir, time.Now().UnixNano())
}

// Execute runs thunk under the WAL protocol (spec §4.5): write pending,
// run thunk, write completed or failed, re-raising thunk's error.
func (w *WAL) Execute(ctx context.Context, op string, params any, thunk func(ctx context.Context) error) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return verrors.Wrap("wal.execute", verrors.Fatal, err)
	}
	id := vtypes.NewID()

	if err := w.appendEntry(ctx, Entry{ID: id, Op: op, Params: raw, Timestamp: time.Now().UTC(), Status: StatusPending}); err != nil {
		return err
	}

	thunkErr := thunk(ctx)

	if thunkErr != nil {
		_ = w.appendEntry(ctx, Entry{ID: id, Op: op, Params: raw, Timestamp: time.Now().UTC(), Status: StatusFailed, Error: thunkErr.Error()})
		return thunkErr
	}
	if err := w.appendEntry(ctx, Entry{ID: id, Op: op, Params: raw, Timestamp: time.Now().UTC(), Status: StatusCompleted}); err != nil {
		return err
	}
	return nil
}

func (w *WAL) appendEntry(ctx context.Context, e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	line, err := json.Marshal(e)
	if err != nil {
		return verrors.Wrap("wal.append", verrors.Fatal, err)
	}
	line = append(line, '\n')

	if w.currentSize+int64(len(line)) > w.maxSize && w.currentSize > 0 {
		w.currentPath = newLogPath()
		w.currentSize = 0
	}

	if err := storage.WithRetry(ctx, func() error { return w.writeLine(ctx, line) }); err != nil {
		return verrors.Wrap("wal.append", verrors.KindOf(err), err)
	}
	w.currentSize += int64(len(line))
	w.opCount++
	return nil
}

func (w *WAL) writeLine(ctx context.Context, line []byte) error {
	if appender, ok := w.adapter.(storage.Appender); ok {
		return appender.Append(ctx, w.currentPath, line)
	}
	existing, err := w.adapter.ReadObject(ctx, w.currentPath)
	if err != nil && verrors.KindOf(err) != verrors.NotFound {
		return err
	}
	return w.adapter.WriteObject(ctx, w.currentPath, append(existing, line...))
}

// runCheckpointTimer appends a CHECKPOINT entry on the class-appropriate
// cadence (spec §4.5).
func (w *WAL) runCheckpointTimer(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = w.checkpoint(context.Background())
		case <-w.stopCheckpt:
			return
		}
	}
}

// Checkpoint appends a CHECKPOINT entry immediately, independent of the
// class-appropriate ticker started at New. Exposed for operator-driven
// checkpointing (e.g. before a planned shutdown).
func (w *WAL) Checkpoint(ctx context.Context) error {
	return w.checkpoint(ctx)
}

func (w *WAL) checkpoint(ctx context.Context) error {
	w.mu.Lock()
	id := vtypes.NewID()
	count := w.opCount
	w.mu.Unlock()

	return w.appendEntry(ctx, Entry{
		ID:           id,
		Op:           "CHECKPOINT",
		Timestamp:    time.Now().UTC(),
		Status:       StatusCompleted,
		CheckpointID: fmt.Sprintf("cp-%d-%d", time.Now().UnixNano(), count),
	})
}

// Recover reads every WAL file, folds each id to its latest status, and
// replays any still-pending entry through its registered handler,
// logging the outcome back to the log (spec §4.5).
func (w *WAL) Recover(ctx context.Context) (replayed int, err error) {
	entries, err := w.readAllEntries(ctx)
	if err != nil {
		return 0, err
	}

	latest := map[string]Entry{}
	var order []string
	for _, e := range entries {
		if e.Op == "CHECKPOINT" {
			continue
		}
		if _, seen := latest[e.ID]; !seen {
			order = append(order, e.ID)
		}
		if prev, ok := latest[e.ID]; !ok || e.Timestamp.After(prev.Timestamp) {
			latest[e.ID] = e
		}
	}

	for _, id := range order {
		e := latest[id]
		if e.Status != StatusPending {
			continue
		}
		handler, ok := w.handlers[e.Op]
		if !ok {
			_ = w.appendEntry(ctx, Entry{ID: id, Op: e.Op, Timestamp: time.Now().UTC(), Status: StatusFailed, Error: "no handler registered for replay"})
			continue
		}
		if err := handler(ctx, e.Params); err != nil {
			_ = w.appendEntry(ctx, Entry{ID: id, Op: e.Op, Timestamp: time.Now().UTC(), Status: StatusFailed, Error: err.Error()})
			continue
		}
		if err := w.appendEntry(ctx, Entry{ID: id, Op: e.Op, Timestamp: time.Now().UTC(), Status: StatusCompleted}); err != nil {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

func (w *WAL) readAllEntries(ctx context.Context) ([]Entry, error) {
	var paths []string
	cursor := ""
	for {
		keys, more, next, err := w.adapter.List(ctx, walDir, 0, cursor)
		if err != nil {
			return nil, verrors.Wrap("wal.recover", verrors.KindOf(err), err)
		}
		paths = append(paths, keys...)
		if !more {
			break
		}
		cursor = next
	}
	sort.Strings(paths)

	var entries []Entry
	for _, p := range paths {
		if !strings.HasSuffix(p, ".log") {
			continue
		}
		data, err := w.adapter.ReadObject(ctx, p)
		if err != nil {
			if verrors.KindOf(err) == verrors.NotFound {
				continue
			}
			return nil, verrors.Wrap("wal.recover", verrors.KindOf(err), err)
		}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var e Entry
			if err := json.Unmarshal(line, &e); err != nil {
				continue
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}
