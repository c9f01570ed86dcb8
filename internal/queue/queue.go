// Package queue implements the delayed ready queue feeding the agent
// manager. Entries are keyed by issue id and iterate in insertion order,
// so dequeue is FIFO among entries whose backoff has elapsed.
package queue

import (
	"container/list"
	"math"
	"sync"
	"time"

	"github.com/planepilot/planepilot/pkg/models"
)

// Queue is a keyed set of queue entries with per-entry earliest-attempt
// times. Insertion order is preserved by the backing list; the map indexes
// elements by issue id. Safe for concurrent use.
type Queue struct {
	mu        sync.Mutex
	order     *list.List
	index     map[string]*list.Element
	baseDelay time.Duration
	now       func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock injects a time source, used by tests to control backoff math.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue whose requeue backoff starts at baseDelay.
func New(baseDelay time.Duration, opts ...Option) *Queue {
	q := &Queue{
		order:     list.New(),
		index:     make(map[string]*list.Element),
		baseDelay: baseDelay,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts a fresh entry at the tail, immediately ready.
// Returns false without modifying the queue if the issue is already present.
func (q *Queue) Enqueue(task models.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[task.IssueID]; ok {
		return false
	}

	now := q.now().UnixMilli()
	entry := models.QueueEntry{
		Task:          task,
		RetryCount:    0,
		NextAttemptAt: now,
		EnqueuedAt:    now,
	}
	q.index[task.IssueID] = q.order.PushBack(entry)
	return true
}

// Requeue schedules a retry with exponential backoff:
// nextAttemptAt = now + baseDelay * 2^(retryCount-1). An existing entry for
// the issue is overwritten in place, keeping its position in the iteration
// order; otherwise the entry is appended at the tail.
func (q *Queue) Requeue(task models.Task, retryCount int) {
	if retryCount < 1 {
		retryCount = 1
	}
	delay := time.Duration(math.Round(float64(q.baseDelay) * math.Pow(2, float64(retryCount-1))))
	q.insert(task, retryCount, delay)
}

// Defer parks a task for the given delay without counting a retry. Used
// when a spawn is rejected for budget rather than failure.
func (q *Queue) Defer(task models.Task, delay time.Duration) {
	q.insert(task, 0, delay)
}

func (q *Queue) insert(task models.Task, retryCount int, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	entry := models.QueueEntry{
		Task:          task,
		RetryCount:    retryCount,
		NextAttemptAt: now.Add(delay).UnixMilli(),
		EnqueuedAt:    now.UnixMilli(),
	}

	if el, ok := q.index[task.IssueID]; ok {
		// Keep the original slot and insertion timestamp.
		entry.EnqueuedAt = el.Value.(models.QueueEntry).EnqueuedAt
		el.Value = entry
		return
	}
	q.index[task.IssueID] = q.order.PushBack(entry)
}

// Dequeue removes and returns the first entry in insertion order whose
// backoff has elapsed. Returns nil when nothing is ready, even if delayed
// entries remain.
func (q *Queue) Dequeue() *models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for el := q.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(models.QueueEntry)
		if !entry.Ready(now) {
			continue
		}
		q.order.Remove(el)
		delete(q.index, entry.Task.IssueID)
		out := copyEntry(entry)
		return &out
	}
	return nil
}

// Remove deletes the entry for the given issue, reporting whether it existed.
func (q *Queue) Remove(issueID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	el, ok := q.index[issueID]
	if !ok {
		return false
	}
	q.order.Remove(el)
	delete(q.index, issueID)
	return true
}

// Has reports whether the issue is queued.
func (q *Queue) Has(issueID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[issueID]
	return ok
}

// Len returns the number of queued entries, ready or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

// Entries returns an independent snapshot of all entries in insertion
// order. Mutating the snapshot does not affect the queue.
func (q *Queue) Entries() []models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.QueueEntry, 0, q.order.Len())
	for el := q.order.Front(); el != nil; el = el.Next() {
		out = append(out, copyEntry(el.Value.(models.QueueEntry)))
	}
	return out
}

// Hydrate restores entries from a persisted snapshot, keyed by issue id.
// An entry whose issue already exists overwrites it in place; duplicate
// issues within the input resolve to the last occurrence.
func (q *Queue) Hydrate(entries []models.QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, entry := range entries {
		e := copyEntry(entry)
		if el, ok := q.index[e.Task.IssueID]; ok {
			el.Value = e
			continue
		}
		q.index[e.Task.IssueID] = q.order.PushBack(e)
	}
}

// copyEntry deep-copies an entry so snapshots do not alias internal state.
func copyEntry(e models.QueueEntry) models.QueueEntry {
	if e.Task.LabelIDs != nil {
		labels := make([]string, len(e.Task.LabelIDs))
		copy(labels, e.Task.LabelIDs)
		e.Task.LabelIDs = labels
	}
	return e
}
