package queue

import (
	"slices"
	"sync"
	"time"
)

// GenericQueue is a generic FIFO queue that can hold any comparable type of
// items. Items move from pending to in progress to either success or
// skipped; only counts are kept for the latter two.
type GenericQueue[T comparable] struct {
	sync.RWMutex
	hasStarted  bool
	hasFinished bool
	startTime   time.Time
	finishTime  time.Time
	items       []T
	total       int
	success     int
	skipped     int
	inProgress  map[T]struct{}
}

// NewGenericQueue returns a pointer to a new [GenericQueue].
func NewGenericQueue[T comparable]() *GenericQueue[T] {
	return &GenericQueue[T]{
		inProgress: make(map[T]struct{}),
	}
}

// HasRemainingItems returns whether a queue has remaining items to process.
func (q *GenericQueue[T]) HasRemainingItems() bool {
	q.RLock()
	defer q.RUnlock()

	return len(q.items) > 0
}

// Len returns the number of pending items.
func (q *GenericQueue[T]) Len() int {
	q.RLock()
	defer q.RUnlock()

	return len(q.items)
}

// Items returns a copy of the pending items in queue order.
func (q *GenericQueue[T]) Items() []T {
	q.RLock()
	defer q.RUnlock()

	return slices.Clone(q.items)
}

// Enqueue adds items to the end of the queue.
func (q *GenericQueue[T]) Enqueue(items ...T) {
	q.Lock()
	defer q.Unlock()

	if q.hasFinished {
		q.finishTime = time.Time{}
		q.hasFinished = false
	}

	q.items = append(q.items, items...)
	q.total += len(items)
}

// Dequeue removes and returns the item at the head of the queue.
func (q *GenericQueue[T]) Dequeue() (T, bool) { //nolint:ireturn
	return q.DequeueFunc(func(T) bool { return true })
}

// DequeueFunc removes and returns the first item in queue order for which
// match returns true. Items before it keep their position.
func (q *GenericQueue[T]) DequeueFunc(match func(T) bool) (T, bool) { //nolint:ireturn
	q.Lock()
	defer q.Unlock()

	idx := slices.IndexFunc(q.items, match)
	if idx < 0 {
		var zeroVal T

		return zeroVal, false
	}

	if !q.hasStarted {
		q.startTime = time.Now()
		q.hasStarted = true
	}

	item := q.items[idx]
	q.items = slices.Delete(q.items, idx, idx+1)

	return item, true
}

// Remove drops a pending item without processing it. The item is counted
// as skipped.
func (q *GenericQueue[T]) Remove(item T) bool {
	q.Lock()
	defer q.Unlock()

	idx := slices.Index(q.items, item)
	if idx < 0 {
		return false
	}

	q.items = slices.Delete(q.items, idx, idx+1)
	q.skipped++
	q.checkFinished()

	return true
}

// SetProcessing sets given items as in progress (processing).
func (q *GenericQueue[T]) SetProcessing(items ...T) {
	q.Lock()
	defer q.Unlock()

	for _, item := range items {
		q.inProgress[item] = struct{}{}
	}
}

// SetSuccess sets given in-progress items as successfully processed. Items
// not in progress are ignored.
func (q *GenericQueue[T]) SetSuccess(items ...T) {
	q.Lock()
	defer q.Unlock()

	for _, item := range items {
		if _, ok := q.inProgress[item]; ok {
			delete(q.inProgress, item)
			q.success++
		}
	}
	q.checkFinished()
}

// SetSkipped sets given in-progress items as skipped. Items not in progress
// are ignored.
func (q *GenericQueue[T]) SetSkipped(items ...T) {
	q.Lock()
	defer q.Unlock()

	for _, item := range items {
		if _, ok := q.inProgress[item]; ok {
			delete(q.inProgress, item)
			q.skipped++
		}
	}
	q.checkFinished()
}

func (q *GenericQueue[T]) checkFinished() {
	if len(q.items) == 0 && len(q.inProgress) == 0 && !q.hasFinished {
		q.finishTime = time.Now()
		q.hasFinished = true
	}
}

// Progress returns the [Progress] for the [GenericQueue].
func (q *GenericQueue[T]) Progress() Progress {
	q.RLock()
	defer q.RUnlock()

	p := Progress{
		HasStarted:      q.hasStarted,
		HasFinished:     q.hasFinished,
		StartTime:       q.startTime,
		FinishTime:      q.finishTime,
		TotalItems:      q.total,
		ProcessedItems:  min(q.success+q.skipped, q.total),
		PendingItems:    len(q.items),
		InProgressItems: len(q.inProgress),
		SuccessItems:    q.success,
		SkippedItems:    q.skipped,
	}
	p.estimate()

	return p
}
