package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pricescraper/pkg/logger"
)

// ErrStopped is returned by Submit once the pool is shutting down
var ErrStopped = errors.New("worker pool is shutting down")

// Task is one unit of work. Done, when set, is called exactly once with
// the outcome, including for panics.
type Task struct {
	ID   string
	Run  func(ctx context.Context) error
	Done func(Result)
}

// Result describes how a task ended
type Result struct {
	TaskID   string
	Err      error
	Duration time.Duration
	WorkerID int
}

// WorkerPool runs tasks on a fixed number of goroutines fed by a bounded queue
type WorkerPool struct {
	numWorkers int
	queue      chan Task
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	started  bool
	stopped  bool
	quit     chan struct{}
	quitOnce sync.Once

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	logger logger.Logger
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// NewWorkerPool creates a pool with numWorkers goroutines and room for
// queueSize waiting tasks
func NewWorkerPool(numWorkers, queueSize int, log logger.Logger) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if log == nil {
		log = logger.GetLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		numWorkers: numWorkers,
		queue:      make(chan Task, queueSize),
		ctx:        ctx,
		cancel:     cancel,
		quit:       make(chan struct{}),
		logger:     log.WithField("component", "worker_pool"),
	}
}

// Start launches the workers; calling it twice is a no-op
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started || wp.stopped {
		return
	}
	wp.started = true

	wp.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
		"queue_size":  cap(wp.queue),
	})
	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Submit queues a task, blocking while the queue is full. It fails when ctx
// ends first or the pool is stopping.
func (wp *WorkerPool) Submit(ctx context.Context, task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task %s has no Run function", task.ID)
	}

	// the read lock keeps Stop from closing the queue under a pending send
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrStopped
	}
	// a ready queue must not win over an already cancelled ctx
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case wp.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.quit:
		return ErrStopped
	}
}

// Stop refuses new tasks and waits for queued and running tasks to finish
func (wp *WorkerPool) Stop() {
	if !wp.beginStop() {
		return
	}
	wp.wg.Wait()
	wp.cancel()
	wp.logger.Info("Worker pool stopped")
}

// Shutdown is Stop bounded by ctx. When ctx ends first the context handed
// to running tasks is cancelled and ctx's error is returned.
func (wp *WorkerPool) Shutdown(ctx context.Context) error {
	if !wp.beginStop() {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		wp.cancel()
		wp.logger.Info("Worker pool drained")
		return nil
	case <-ctx.Done():
		wp.cancel()
		wp.logger.WarnWithFields("Worker pool drain interrupted", map[string]interface{}{
			"active": wp.active.Load(),
			"queued": len(wp.queue),
		})
		return ctx.Err()
	}
}

func (wp *WorkerPool) beginStop() bool {
	// wake blocked submitters before taking the write lock
	wp.mu.RLock()
	already := wp.stopped
	wp.mu.RUnlock()
	if already {
		return false
	}

	wp.closeQuit()

	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		return false
	}
	wp.stopped = true
	wp.logger.Info("Stopping worker pool...")
	close(wp.queue)
	if !wp.started {
		// nobody will drain the queue otherwise
		wp.started = true
		for i := 0; i < wp.numWorkers; i++ {
			wp.wg.Add(1)
			go wp.worker(i)
		}
	}
	return true
}

func (wp *WorkerPool) closeQuit() {
	wp.quitOnce.Do(func() { close(wp.quit) })
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for task := range wp.queue {
		result := wp.execute(id, task)
		if task.Done != nil {
			task.Done(result)
		}
	}
}

func (wp *WorkerPool) execute(workerID int, task Task) (result Result) {
	start := time.Now()
	wp.active.Add(1)
	result = Result{TaskID: task.ID, WorkerID: workerID}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
		result.Duration = time.Since(start)
		wp.active.Add(-1)
		if result.Err != nil {
			wp.failed.Add(1)
			wp.logger.DebugWithFields("Task failed", map[string]interface{}{
				"worker_id": workerID,
				"task_id":   task.ID,
				"error":     result.Err.Error(),
				"duration":  result.Duration,
			})
		} else {
			wp.completed.Add(1)
		}
	}()

	result.Err = task.Run(wp.ctx)
	return result
}

// Stats reports queue depth and task counters
func (wp *WorkerPool) Stats() Stats {
	return Stats{
		Workers:   wp.numWorkers,
		Queued:    len(wp.queue),
		Active:    wp.active.Load(),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
	}
}
