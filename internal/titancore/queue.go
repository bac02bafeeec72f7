package titancore

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// backgroundQueue replaces add's fire-and-forget post-store side effects
// (graph extraction, causal detection, adaptive bookkeeping) with an
// explicit bounded-concurrency worker pool, so close can drain it instead of
// leaving orphaned goroutines behind.
type backgroundQueue struct {
	tasks chan func()
	wg    sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

const backgroundQueueCapacity = 256

func newBackgroundQueue(workers int) *backgroundQueue {
	if workers <= 0 {
		workers = 4
	}
	q := &backgroundQueue{
		tasks:  make(chan func(), backgroundQueueCapacity),
		closed: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *backgroundQueue) worker() {
	defer q.wg.Done()
	for task := range q.tasks {
		runTask(task)
	}
}

func runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("titancore_background_task_panic")
		}
	}()
	task()
}

// Submit enqueues a task for background execution. Non-fatal by design: if
// the queue is already closed, the task is dropped and logged rather than
// blocking or panicking the caller.
func (q *backgroundQueue) Submit(name string, task func()) {
	select {
	case <-q.closed:
		log.Warn().Str("task", name).Msg("titancore_background_task_dropped_after_close")
		return
	default:
	}
	select {
	case q.tasks <- task:
	default:
		log.Warn().Str("task", name).Msg("titancore_background_task_queue_full")
	}
}

// Drain closes the queue to new submissions and waits for in-flight and
// already-queued tasks to finish.
func (q *backgroundQueue) Drain() {
	q.closeOnce.Do(func() {
		close(q.closed)
		close(q.tasks)
	})
	q.wg.Wait()
}
