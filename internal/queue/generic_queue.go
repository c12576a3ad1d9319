package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DecisionSuccess is returned by a processFunc when an item was processed.
	DecisionSuccess = 1

	// DecisionSkipped is returned by a processFunc when an item was skipped.
	DecisionSkipped = 0

	// DecisionRequeue is returned by a processFunc when an item needs
	// requeueing.
	DecisionRequeue = -1

	// DecisionFailed is returned by a processFunc when an item failed for
	// good.
	DecisionFailed = -2
)

// GenericQueue is a generic queue that can hold any comparable type of items.
type GenericQueue[T comparable] struct {
	sync.RWMutex
	hasStarted  bool
	hasFinished bool
	startTime   time.Time
	finishTime  time.Time
	head        int
	items       []T
	success     []T
	skipped     []T
	failed      []T
	inProgress  map[T]struct{}
	bytes       uint64
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

	return q.head < len(q.items)
}

// GetSuccessful returns a copy of the successfully processed items.
func (q *GenericQueue[T]) GetSuccessful() []T {
	q.RLock()
	defer q.RUnlock()

	result := make([]T, len(q.success))
	copy(result, q.success)

	return result
}

// GetFailed returns a copy of the failed items.
func (q *GenericQueue[T]) GetFailed() []T {
	q.RLock()
	defer q.RUnlock()

	result := make([]T, len(q.failed))
	copy(result, q.failed)

	return result
}

// Enqueue adds items to the queue.
func (q *GenericQueue[T]) Enqueue(items ...T) {
	q.Lock()
	defer q.Unlock()

	if q.hasFinished {
		q.finishTime = time.Time{}
		q.hasFinished = false
	}

	for _, item := range items {
		delete(q.inProgress, item)
		q.items = append(q.items, item)
	}
}

// Dequeue returns an item from the queue and advances the queue head.
func (q *GenericQueue[T]) Dequeue() (T, bool) { //nolint:ireturn
	q.Lock()
	defer q.Unlock()

	if q.head >= len(q.items) {
		var zeroVal T

		return zeroVal, false
	}

	if !q.hasStarted {
		q.startTime = time.Now()
		q.hasStarted = true
	}

	item := q.items[q.head]
	q.head++

	return item, true
}

// settle moves an item out of the in-progress set into dst, marking the queue
// finished when nothing is left to dequeue or to process.
func (q *GenericQueue[T]) settle(dst *[]T, items ...T) {
	q.Lock()
	defer q.Unlock()

	for _, item := range items {
		delete(q.inProgress, item)
		*dst = append(*dst, item)
	}

	if q.hasStarted && !q.hasFinished && q.head >= len(q.items) && len(q.inProgress) == 0 {
		q.finishTime = time.Now()
		q.hasFinished = true
	}
}

// SetSuccess sets given in-progress queue items as successfully processed.
func (q *GenericQueue[T]) SetSuccess(items ...T) {
	q.settle(&q.success, items...)
}

// SetSkipped sets given in-progress queue items as skipped.
func (q *GenericQueue[T]) SetSkipped(items ...T) {
	q.settle(&q.skipped, items...)
}

// SetFailed sets given in-progress queue items as failed.
func (q *GenericQueue[T]) SetFailed(items ...T) {
	q.settle(&q.failed, items...)
}

// SetProcessing sets given items as in progress (processing).
func (q *GenericQueue[T]) SetProcessing(items ...T) {
	q.Lock()
	defer q.Unlock()

	for _, item := range items {
		q.inProgress[item] = struct{}{}
	}
}

// AddBytes credits the queue with bytes moved while processing its items. The
// transfer speed of a queue with bytes is reported in [UnitBytes].
func (q *GenericQueue[T]) AddBytes(n uint64) {
	q.Lock()
	defer q.Unlock()

	q.bytes += n
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
		TotalItems:      len(q.items),
		ProcessedItems:  len(q.success) + len(q.skipped) + len(q.failed),
		InProgressItems: len(q.inProgress),
		SuccessItems:    len(q.success),
		SkippedItems:    len(q.skipped),
		FailedItems:     len(q.failed),
		Bytes:           q.bytes,
	}
	p.estimate()

	return p
}

// process hands item to processFunc and files it according to the decision.
func (q *GenericQueue[T]) process(item T, processFunc func(T) int) {
	q.SetProcessing(item)

	switch processFunc(item) {
	case DecisionRequeue:
		q.Enqueue(item)

	case DecisionSkipped:
		q.SetSkipped(item)

	case DecisionFailed:
		q.SetFailed(item)

	default:
		q.SetSuccess(item)
	}
}

// DequeueAndProcess sequentially dequeues and processes items using the given
// processFunc. An error is only returned in case of a context cancellation, the
// processFunc is otherwise expected to return only an integer with the
// processing function's decision for that item.
//
// Possible decisions to be returned: [DecisionSuccess], [DecisionSkipped],
// [DecisionRequeue], [DecisionFailed].
func (q *GenericQueue[T]) DequeueAndProcess(ctx context.Context, processFunc func(T) int) error {
	for ctx.Err() == nil {
		item, ok := q.Dequeue()
		if !ok {
			break
		}

		q.process(item, processFunc)
	}

	if ctx.Err() != nil {
		return fmt.Errorf("(queue-proc) %w", ctx.Err())
	}

	return nil
}

// DequeueAndProcessConc concurrently dequeues and processes items using given
// processFunc on at most maxWorkers goroutines. An error is only returned in
// case of a context cancellation.
//
// It is the responsibility of the processFunc to ensure thread-safety for
// anything happening inside the processFunc, with the [GenericQueue] only
// guaranteeing thread-safety for itself.
func (q *GenericQueue[T]) DequeueAndProcessConc(ctx context.Context, maxWorkers int, processFunc func(T) int) error {
	var wg sync.WaitGroup

	semaphore := make(chan struct{}, max(maxWorkers, 1))

	for {
	DISPATCH:
		for {
			select {
			case <-ctx.Done():
				wg.Wait()

				return fmt.Errorf("(queue-concproc) %w", ctx.Err())
			case semaphore <- struct{}{}:
			}

			item, ok := q.Dequeue()
			if !ok {
				<-semaphore

				break DISPATCH
			}

			wg.Add(1)
			go func(item T) {
				defer wg.Done()
				defer func() { <-semaphore }()

				q.process(item, processFunc)
			}(item)
		}

		wg.Wait()

		if ctx.Err() != nil {
			return fmt.Errorf("(queue-concproc) %w", ctx.Err())
		}

		// Items requeued after the dispatcher ran dry.
		if !q.HasRemainingItems() {
			return nil
		}
	}
}
