package base

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/vgraph/vgraph/pkg/storage"
	"github.com/vgraph/vgraph/pkg/verrors"
	"github.com/vgraph/vgraph/pkg/vtypes"
)

// Statistics is the persisted singleton document tracking counts by
// type (spec §4.2, §6).
type Statistics struct {
	NounCount     map[vtypes.NounType]int `json:"nounCount"`
	VerbCount     map[vtypes.VerbType]int `json:"verbCount"`
	MetadataCount map[string]int          `json:"metadataCount"`
	HNSWIndexSize int                     `json:"hnswIndexSize"`
	LastUpdated   time.Time               `json:"lastUpdated"`
}

const statisticsKey = "statistics"

// statisticsPath is the fixed system path for the singleton statistics
// document (spec §3: "_system/… — singleton system objects").
const statisticsPath = "_system/statistics.json"

// loadStatistics reads the persisted statistics document, returning a
// freshly zeroed one if absent (spec §4.2: reads tolerate a small lag,
// there being no document yet is not an error).
func loadStatistics(ctx context.Context, adapter storage.Adapter) (*Statistics, error) {
	data, err := adapter.ReadObject(ctx, statisticsPath)
	if verrors.KindOf(err) == verrors.NotFound {
		return emptyStatistics(), nil
	}
	if err != nil {
		return nil, err
	}
	var stats Statistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, verrors.New("statistics.load", verrors.Fatal, statisticsPath, err)
	}
	if stats.NounCount == nil {
		stats.NounCount = map[vtypes.NounType]int{}
	}
	if stats.VerbCount == nil {
		stats.VerbCount = map[vtypes.VerbType]int{}
	}
	if stats.MetadataCount == nil {
		stats.MetadataCount = map[string]int{}
	}
	return &stats, nil
}

func emptyStatistics() *Statistics {
	return &Statistics{
		NounCount:     map[vtypes.NounType]int{},
		VerbCount:     map[vtypes.VerbType]int{},
		MetadataCount: map[string]int{},
	}
}

// statisticsTracker holds the in-memory statistics document and
// schedules fire-and-forget persistence, per spec §4.2: "Persist is
// fire-and-forget (scheduled); reads of counts must tolerate a small
// lag."
type statisticsTracker struct {
	mu      sync.Mutex
	stats   *Statistics
	adapter storage.Adapter
	lock    *AdvisoryLock
	dirty   bool
}

func newStatisticsTracker(ctx context.Context, adapter storage.Adapter, lock *AdvisoryLock) (*statisticsTracker, error) {
	stats, err := loadStatistics(ctx, adapter)
	if err != nil {
		return nil, err
	}
	return &statisticsTracker{stats: stats, adapter: adapter, lock: lock}, nil
}

// incrementNoun bumps the noun-type counter. Called only from
// SaveNounMetadata after the metadata write returns success, and
// only when no prior metadata existed at that path (spec §4.2
// "Counter synchronization" invariant).
func (t *statisticsTracker) incrementNoun(typ vtypes.NounType) {
	t.mu.Lock()
	t.stats.NounCount[typ]++
	t.stats.MetadataCount["nouns"]++
	t.dirty = true
	t.mu.Unlock()
	t.schedulePersist()
}

func (t *statisticsTracker) decrementNoun(typ vtypes.NounType) {
	t.mu.Lock()
	if t.stats.NounCount[typ] > 0 {
		t.stats.NounCount[typ]--
	}
	if t.stats.MetadataCount["nouns"] > 0 {
		t.stats.MetadataCount["nouns"]--
	}
	t.dirty = true
	t.mu.Unlock()
	t.schedulePersist()
}

func (t *statisticsTracker) incrementVerb(typ vtypes.VerbType) {
	t.mu.Lock()
	t.stats.VerbCount[typ]++
	t.stats.MetadataCount["verbs"]++
	t.dirty = true
	t.mu.Unlock()
	t.schedulePersist()
}

func (t *statisticsTracker) decrementVerb(typ vtypes.VerbType) {
	t.mu.Lock()
	if t.stats.VerbCount[typ] > 0 {
		t.stats.VerbCount[typ]--
	}
	if t.stats.MetadataCount["verbs"] > 0 {
		t.stats.MetadataCount["verbs"]--
	}
	t.dirty = true
	t.mu.Unlock()
	t.schedulePersist()
}

func (t *statisticsTracker) setHNSWSize(n int) {
	t.mu.Lock()
	t.stats.HNSWIndexSize = n
	t.dirty = true
	t.mu.Unlock()
	t.schedulePersist()
}

func (t *statisticsTracker) snapshot() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *t.stats
	cp.NounCount = cloneNounCounts(t.stats.NounCount)
	cp.VerbCount = cloneVerbCounts(t.stats.VerbCount)
	cp.MetadataCount = cloneIntMap(t.stats.MetadataCount)
	return cp
}

// schedulePersist writes the statistics document in the background,
// serialized behind the advisory lock; a lost lock just means the next
// mutation's persist attempt picks it up (spec §4.2).
func (t *statisticsTracker) schedulePersist() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.persist(ctx)
	}()
}

func (t *statisticsTracker) persist(ctx context.Context) error {
	ok, release := t.lock.TryAcquire(ctx, statisticsKey)
	if !ok {
		return nil
	}
	defer release()
	t.mu.Lock()
	t.stats.LastUpdated = time.Now().UTC()
	data, err := json.Marshal(t.stats)
	t.dirty = false
	t.mu.Unlock()
	if err != nil {
		return verrors.New("statistics.persist", verrors.Fatal, statisticsPath, err)
	}
	return t.adapter.WriteObject(ctx, statisticsPath, data)
}

func cloneNounCounts(m map[vtypes.NounType]int) map[vtypes.NounType]int {
	out := make(map[vtypes.NounType]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneVerbCounts(m map[vtypes.VerbType]int) map[vtypes.VerbType]int {
	out := make(map[vtypes.VerbType]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
