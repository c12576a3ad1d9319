package queue

import (
	"maps"
	"sync"
	"time"
)

// GenericQueueType defines methods that a managed queue needs to have.
type GenericQueueType[V comparable] interface {
	Enqueue(items ...V)
	GetSuccessful() []V
	GetFailed() []V
	Progress() Progress
}

// GenericManager buckets items into independent queues of
// [GenericQueueType], one per key, and reports their combined progress.
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

// GetSuccessful returns the successfully processed items of every queue.
func (m *GenericManager[K, V, Q]) GetSuccessful() []V {
	m.RLock()
	defer m.RUnlock()

	var result []V
	for _, q := range m.queues {
		result = append(result, q.GetSuccessful()...)
	}

	return result
}

// GetFailed returns the failed items of every queue.
func (m *GenericManager[K, V, Q]) GetFailed() []V {
	m.RLock()
	defer m.RUnlock()

	var result []V
	for _, q := range m.queues {
		result = append(result, q.GetFailed()...)
	}

	return result
}

// Enqueue puts item into the queue of getKeyFunc(item), creating that queue
// with newQueueFunc first if needed.
func (m *GenericManager[K, V, Q]) Enqueue(item V, getKeyFunc func(V) K, newQueueFunc func() Q) {
	m.Lock()
	defer m.Unlock()

	key := getKeyFunc(item)

	if _, exists := m.queues[key]; !exists {
		m.queues[key] = newQueueFunc()
	}

	m.queues[key].Enqueue(item)
}

// GetQueues returns a copy of the map of managed queues.
func (m *GenericManager[K, V, Q]) GetQueues() map[K]Q {
	m.RLock()
	defer m.RUnlock()

	queues := make(map[K]Q, len(m.queues))
	maps.Copy(queues, m.queues)

	return queues
}

// Progress returns the combined [Progress] of every managed queue.
func (m *GenericManager[K, V, Q]) Progress() Progress {
	m.RLock()
	defer m.RUnlock()

	if len(m.queues) == 0 {
		return Progress{TransferSpeedUnit: UnitItems}
	}

	var total Progress
	var latestFinishTime time.Time

	for _, queue := range m.queues {
		qProgress := queue.Progress()

		if qProgress.HasStarted {
			if total.StartTime.IsZero() || qProgress.StartTime.Before(total.StartTime) {
				total.StartTime = qProgress.StartTime
			}
			total.HasStarted = true
		}

		if qProgress.FinishTime.After(latestFinishTime) {
			latestFinishTime = qProgress.FinishTime
		}

		total.TotalItems += qProgress.TotalItems
		total.ProcessedItems += qProgress.ProcessedItems
		total.InProgressItems += qProgress.InProgressItems
		total.SuccessItems += qProgress.SuccessItems
		total.SkippedItems += qProgress.SkippedItems
		total.FailedItems += qProgress.FailedItems
		total.Bytes += qProgress.Bytes
	}

	if total.HasStarted && total.ProcessedItems > 0 && total.ProcessedItems == total.TotalItems && total.InProgressItems == 0 {
		if latestFinishTime.IsZero() {
			latestFinishTime = time.Now()
		}
		total.HasFinished = true
		total.FinishTime = latestFinishTime
	}

	total.estimate()

	return total
}
