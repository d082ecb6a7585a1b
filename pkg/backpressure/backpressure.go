// Package backpressure implements the Backpressure Controller (spec
// component C6): per-class (read/write) circuit breakers with a
// read-under-write-open isolation exception, a priority admission
// queue, and adaptive concurrency. None of the example repos carry a
// circuit breaker of their own (cuemby-warren's pkg/ingress/middleware.go
// only rate-limits per client IP with golang.org/x/time/rate, a
// different concern). A golang.org/x/sync/semaphore.Weighted sized at
// the hard ceiling is constructed on the Controller but never acquired;
// admission is decided entirely by this package's own accounting, which
// implements the spec's adaptive threshold and isolation rules.
package backpressure

import (
	"container/heap"
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vgraph/vgraph/pkg/verrors"
)

// Class distinguishes the two admission pools (spec §4.6).
type Class string

const (
	Read  Class = "read"
	Write Class = "write"
)

type circuitState int

const (
	closed circuitState = iota
	open
	halfOpen
)

const openTimeout = 30 * time.Second

// breaker is one class's rolling-failure circuit breaker.
type breaker struct {
	mu        sync.Mutex
	state     circuitState
	failures  int
	threshold int
	openedAt  time.Time
}

func newBreaker(threshold int) *breaker {
	return &breaker{threshold: threshold}
}

// allow reports whether the breaker currently permits work, transitioning
// open -> half-open once the timeout has elapsed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case open:
		if time.Since(b.openedAt) >= openTimeout {
			b.state = halfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = closed
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == halfOpen || b.failures >= b.threshold {
		b.state = open
		b.openedAt = time.Now()
		b.failures = 0
	}
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == open
}

// queueItem is one waiting admission request, ordered by priority then
// arrival order (spec §4.6: "queue[ {id,priority,ts,resolver} ]
// (max-heap by priority)").
type queueItem struct {
	id       string
	priority int
	ts       time.Time
	ready    chan struct{}
	index    int
}

type priorityQueue []*queueItem

func (q priorityQueue) Len() int { return len(q) }
func (q priorityQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].ts.Before(q[j].ts)
}
func (q priorityQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *priorityQueue) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}
func (q *priorityQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Metrics is a snapshot of the controller's adaptive state (spec §4.6).
type Metrics struct {
	QueueDepth     int
	ActiveOps      int
	MaxConcurrent  int
	MaxQueueDepth  int
	ProcessingRate float64 // completions/sec, EMA
	ErrorRate      float64 // fraction of completions that failed, EMA
	LatencyMillis  float64 // EMA
}

// targetLatencyMillis is the Little's-law target used when adapting
// maxConcurrent (spec §4.6).
const targetLatencyMillis = 50.0

// Controller is the process-wide admission gate; an explicit field on
// the root facade rather than a package-level singleton (spec §9
// "Singletons" redesign note).
type Controller struct {
	mu       sync.Mutex
	breakers map[Class]*breaker
	sem      *semaphore.Weighted

	active        int
	maxConcurrent int
	queue         priorityQueue
	maxQueueDepth int

	processingRate float64
	errorRate      float64
	latencyMillis  float64
	completions    int
	failuresWindow int

	stopAdapt chan struct{}
}

const hardConcurrencyCap = 500

// New constructs a Controller with the spec's stated initial values:
// maxConcurrent=100 (bounded [10,500]), maxQueueDepth starts at 1000
// pending its first auto-sizing pass, read/write breaker thresholds
// 10/5.
func New() *Controller {
	c := &Controller{
		breakers:      map[Class]*breaker{Read: newBreaker(10), Write: newBreaker(5)},
		sem:           semaphore.NewWeighted(hardConcurrencyCap),
		maxConcurrent: 100,
		maxQueueDepth: 1000,
		stopAdapt:     make(chan struct{}),
	}
	go c.runAdaptLoop()
	return c
}

// Close stops the background adaptation loop.
func (c *Controller) Close() { close(c.stopAdapt) }

// Release is returned by RequestPermission; the caller must invoke it
// exactly once with the outcome of the admitted work.
type Release func(success bool, latency time.Duration)

// RequestPermission implements the admission logic of spec §4.6. Reads
// are isolated from an open write circuit: only the read class's own
// breaker can reject a read.
func (c *Controller) RequestPermission(ctx context.Context, id string, priority int, class Class) (Release, error) {
	if !c.breakers[class].allow() {
		return nil, verrors.New("backpressure.admit", verrors.CircuitOpen, string(class), errCircuitOpen)
	}

	c.mu.Lock()
	switch {
	case c.active < c.maxConcurrent/2 && len(c.queue) == 0:
		c.active++
		c.mu.Unlock()
		return c.releaseFunc(class), nil
	case c.active >= c.maxConcurrent:
		if len(c.queue) >= c.maxQueueDepth {
			c.mu.Unlock()
			return nil, verrors.New("backpressure.admit", verrors.Overloaded, string(class), errOverloaded)
		}
		item := &queueItem{id: id, priority: priority, ts: time.Now(), ready: make(chan struct{})}
		heap.Push(&c.queue, item)
		c.mu.Unlock()

		select {
		case <-item.ready:
			return c.releaseFunc(class), nil
		case <-ctx.Done():
			c.mu.Lock()
			c.removeQueued(item)
			c.mu.Unlock()
			return nil, verrors.Wrap("backpressure.admit", verrors.Cancelled, ctx.Err())
		}
	default:
		c.active++
		c.mu.Unlock()
		return c.releaseFunc(class), nil
	}
}

func (c *Controller) removeQueued(item *queueItem) {
	if item.index < 0 || item.index >= len(c.queue) || c.queue[item.index] != item {
		return
	}
	heap.Remove(&c.queue, item.index)
}

func (c *Controller) releaseFunc(class Class) Release {
	return func(success bool, latency time.Duration) {
		b := c.breakers[class]
		if b != nil {
			if success {
				b.recordSuccess()
			} else {
				b.recordFailure()
			}
		}

		c.mu.Lock()
		c.completions++
		if !success {
			c.failuresWindow++
		}
		c.latencyMillis = ema(c.latencyMillis, float64(latency.Milliseconds()), 0.2)

		if len(c.queue) > 0 {
			next := heap.Pop(&c.queue).(*queueItem)
			close(next.ready)
		} else {
			c.active--
		}
		c.mu.Unlock()
	}
}

// Snapshot returns the controller's current metrics (spec §4.6).
func (c *Controller) Snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Metrics{
		QueueDepth:     len(c.queue),
		ActiveOps:      c.active,
		MaxConcurrent:  c.maxConcurrent,
		MaxQueueDepth:  c.maxQueueDepth,
		ProcessingRate: c.processingRate,
		ErrorRate:      c.errorRate,
		LatencyMillis:  c.latencyMillis,
	}
}

// runAdaptLoop recomputes maxConcurrent/maxQueueDepth every 5s (spec §4.6).
func (c *Controller) runAdaptLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.adapt()
		case <-c.stopAdapt:
			return
		}
	}
}

func (c *Controller) adapt() {
	c.mu.Lock()
	defer c.mu.Unlock()

	rate := float64(c.completions) / 5.0
	errRate := 0.0
	if c.completions > 0 {
		errRate = float64(c.failuresWindow) / float64(c.completions)
	}
	c.processingRate = ema(c.processingRate, rate, 0.3)
	c.errorRate = ema(c.errorRate, errRate, 0.3)
	c.completions = 0
	c.failuresWindow = 0

	targetConcurrency := math.Ceil(c.processingRate * (targetLatencyMillis / 1000.0))
	adjusted := math.Floor(targetConcurrency * (1 - 2*c.errorRate))
	clamped := clamp(adjusted, 10, 500)
	newMax := ema(float64(c.maxConcurrent), clamped, 0.1)

	if math.Abs(newMax-float64(c.maxConcurrent)) >= float64(c.maxConcurrent)*0.1 {
		c.maxConcurrent = int(newMax)
	}

	// maxQueueDepth auto-sizes to 10s of observed throughput (spec §4.6).
	depthTarget := clamp(c.processingRate*10, 100, 10000)
	c.maxQueueDepth = int(depthTarget)
}

func ema(prev, sample, alpha float64) float64 {
	return prev + alpha*(sample-prev)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type bpErr string

func (e bpErr) Error() string { return string(e) }

const (
	errCircuitOpen = bpErr("circuit is open for this class")
	errOverloaded  = bpErr("admission queue is at capacity")
)
