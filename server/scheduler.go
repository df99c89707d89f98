// scheduler.go - Prioritaets-Batch-Scheduler
//
// Pro Model-Name haelt der Scheduler drei FIFO-Warteschlangen (HIGH,
// NORMAL, LOW), jede einzeln begrenzt. NextBatch formt Batches
// pull-basiert: sie blockiert bis mindestens ein Slot vorliegt,
// startet dann eine Deadline und zieht in strikter
// Prioritaetsreihenfolge bis zur Groessen-Obergrenze oder bis die
// Deadline erreicht ist.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/infermesh/infermesh/api"
)

// Slot is one request waiting to be batched.
type Slot struct {
	RequestID  string
	ModelName  string
	ClientID   string
	Priority   api.Priority
	Input      GenerateInput
	Stream     *TokenStream
	EnqueuedAt time.Time
	ctx        context.Context
	Deadline   time.Time
}

// EnqueueResult reports the outcome of Enqueue.
type EnqueueResult int

const (
	EnqueueAccepted EnqueueResult = iota
	EnqueueQueueFull
)

// perModelQueues holds the three priority FIFOs for one model name.
type perModelQueues struct {
	mu       sync.Mutex
	high     []*Slot
	normal   []*Slot
	low      []*Slot
	notifyCh chan struct{} // non-blocking wake for next_batch waiters
	maxLen   int
}

func newPerModelQueues(maxLen int) *perModelQueues {
	return &perModelQueues{
		notifyCh: make(chan struct{}, 1),
		maxLen:   maxLen,
	}
}

func (q *perModelQueues) wake() {
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}

func (q *perModelQueues) enqueue(s *Slot) EnqueueResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Kapazitaet gilt pro Prioritaets-Queue: eine volle LOW-Queue darf
	// HIGH-Requests nicht aussperren.
	target := &q.normal
	switch s.Priority {
	case api.PriorityHigh:
		target = &q.high
	case api.PriorityLow:
		target = &q.low
	}
	if len(*target) >= q.maxLen {
		return EnqueueQueueFull
	}

	*target = append(*target, s)
	q.wake()
	return EnqueueAccepted
}

// drainOne pops the single highest-priority slot available, or nil.
func (q *perModelQueues) drainOne() *Slot {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.high) > 0 {
		s := q.high[0]
		q.high = q.high[1:]
		return s
	}
	if len(q.normal) > 0 {
		s := q.normal[0]
		q.normal = q.normal[1:]
		return s
	}
	if len(q.low) > 0 {
		s := q.low[0]
		q.low = q.low[1:]
		return s
	}
	return nil
}

// BatchScheduler owns per-model-name priority queues and forms batches
// on demand for the Inference Runner.
type BatchScheduler struct {
	maxQueue  int
	maxBatch  int
	maxWaitFn func() time.Duration

	mu     sync.Mutex
	byName map[string]*perModelQueues
}

// NewBatchScheduler constructs a scheduler with the given per-queue
// capacity, batch size cap, and a function returning the current batch
// formation deadline (read dynamically so env overrides apply without
// restart).
func NewBatchScheduler(maxQueue, maxBatch int, maxWaitFn func() time.Duration) *BatchScheduler {
	return &BatchScheduler{
		maxQueue:  maxQueue,
		maxBatch:  maxBatch,
		maxWaitFn: maxWaitFn,
		byName:    make(map[string]*perModelQueues),
	}
}

func (s *BatchScheduler) queuesFor(name string) *perModelQueues {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.byName[name]
	if !ok {
		q = newPerModelQueues(s.maxQueue)
		s.byName[name] = q
	}
	return q
}

// Enqueue admits slot into model's priority queue.
func (s *BatchScheduler) Enqueue(model string, slot *Slot) EnqueueResult {
	return s.queuesFor(model).enqueue(slot)
}

// QueueDepths reports the current length of each priority queue for
// model, for the /status endpoint.
func (s *BatchScheduler) QueueDepths(model string) (high, normal, low int) {
	q := s.queuesFor(model)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.high), len(q.normal), len(q.low)
}

// Models returns every model name with a queue, for /status.
func (s *BatchScheduler) Models() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.byName))
	for name := range s.byName {
		out = append(out, name)
	}
	return out
}

// NextBatch blocks until at least one slot is available for model, then
// drains up to maxBatch slots in strict priority order. It returns when
// the batch reaches maxBatch or when the batch formation deadline
// elapses; while the queues are empty and neither has happened, it waits
// for further slots. It returns nil if ctx is cancelled before any slot
// arrives.
func (s *BatchScheduler) NextBatch(ctx context.Context, model string) []*Slot {
	q := s.queuesFor(model)

	first := s.waitForFirst(ctx, q)
	if first == nil {
		return nil
	}
	batch := []*Slot{first}

	deadline := time.NewTimer(s.maxWaitFn())
	defer deadline.Stop()

	for len(batch) < s.maxBatch {
		next := q.drainOne()
		if next != nil {
			batch = append(batch, next)
			continue
		}

		select {
		case <-deadline.C:
			return batch
		case <-q.notifyCh:
			continue
		case <-ctx.Done():
			return batch
		}
	}
	return batch
}

func (s *BatchScheduler) waitForFirst(ctx context.Context, q *perModelQueues) *Slot {
	for {
		if slot := q.drainOne(); slot != nil {
			return slot
		}
		select {
		case <-q.notifyCh:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}
