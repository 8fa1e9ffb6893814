package queue

import (
	"maps"
	"sync"
	"time"
)

// GenericQueueType defines methods that a managed queue needs to have.
type GenericQueueType[V comparable] interface {
	Enqueue(items ...V)
	Progress() Progress
}

// GenericManager is a generic queue manager for queues of [GenericQueueType].
type GenericManager[K comparable, V comparable, Q GenericQueueType[V]] struct {
	sync.RWMutex

	queues map[K]Q
}

// NewGenericManager returns a pointer to a new [GenericManager].
func NewGenericManager[K comparable, V comparable, Q GenericQueueType[V]]() *GenericManager[K, V, Q] {
	return &GenericManager[K, V, Q]{
		queues: make(map[K]Q),
	}
}

// Enqueue bucketizes items into queues according to a getKeyFunc, creating new
// queues as required using a newQueueFunc.
func (m *GenericManager[K, V, Q]) Enqueue(item V, getKeyFunc func(V) K, newQueueFunc func() Q) {
	m.Lock()
	defer m.Unlock()

	key := getKeyFunc(item)

	_, exists := m.queues[key]
	if !exists {
		m.queues[key] = newQueueFunc()
	}

	m.queues[key].Enqueue(item)
}

// Get returns the queue for a key.
func (m *GenericManager[K, V, Q]) Get(key K) (Q, bool) { //nolint:ireturn
	m.RLock()
	defer m.RUnlock()

	q, ok := m.queues[key]

	return q, ok
}

// GetQueues returns a copy of the internal map holding pointers to all managed
// queues.
func (m *GenericManager[K, V, Q]) GetQueues() map[K]Q {
	m.RLock()
	defer m.RUnlock()

	if m.queues == nil {
		return nil
	}

	queues := make(map[K]Q)
	maps.Copy(queues, m.queues)

	return queues
}

// Progress returns the [Progress] for the [GenericManager].
func (m *GenericManager[K, V, Q]) Progress() Progress {
	return m.ProgressFunc(func(K) bool { return true })
}

// ProgressFunc returns the [Progress] aggregated over the queues whose key
// matches.
func (m *GenericManager[K, V, Q]) ProgressFunc(match func(K) bool) Progress {
	m.RLock()
	defer m.RUnlock()

	var total Progress
	var latestFinishTime time.Time

	allFinished := true

	for key, queue := range m.queues {
		if !match(key) {
			continue
		}

		qProgress := queue.Progress()

		if qProgress.HasStarted {
			if !qProgress.StartTime.IsZero() && (total.StartTime.IsZero() || qProgress.StartTime.Before(total.StartTime)) {
				total.StartTime = qProgress.StartTime
			}
			total.HasStarted = true
		}

		if !qProgress.HasFinished {
			allFinished = false
		} else if qProgress.FinishTime.After(latestFinishTime) {
			latestFinishTime = qProgress.FinishTime
		}

		total.TotalItems += qProgress.TotalItems
		total.ProcessedItems += qProgress.ProcessedItems
		total.PendingItems += qProgress.PendingItems
		total.InProgressItems += qProgress.InProgressItems
		total.SuccessItems += qProgress.SuccessItems
		total.SkippedItems += qProgress.SkippedItems
	}

	if total.HasStarted && allFinished {
		total.HasFinished = true
		total.FinishTime = latestFinishTime
	}

	total.estimate()

	return total
}
