package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Pool errors
var (
	ErrPoolShutdown = errors.New("worker pool is shut down")
	ErrQueueFull    = errors.New("task queue is full")
)

// Task is a unit of work for the pool.
type Task struct {
	ID        string
	Run       func(ctx context.Context) error
	CreatedAt time.Time
	Ctx       context.Context
}

// NewTask creates a task bound to the background context.
func NewTask(id string, run func(ctx context.Context) error) *Task {
	return &Task{
		ID:        id,
		Run:       run,
		CreatedAt: time.Now(),
		Ctx:       context.Background(),
	}
}

// Result is the outcome of a task.
type Result struct {
	TaskID   string
	Err      error
	Duration time.Duration
	WorkerID int
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Name        string  `json:"name"`
	Workers     int     `json:"workers"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// WorkerPool runs tasks on a fixed set of goroutines.
type WorkerPool struct {
	name     string
	workers  int
	taskChan chan *Task
	onResult func(*Result)
	wg       sync.WaitGroup

	// Atomic counters for thread-safe statistics
	active    int64
	completed int64
	failed    int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
}

// NewWorkerPool creates a pool with the given number of workers and queue depth.
// onResult, when set, is called on the worker goroutine after each task.
func NewWorkerPool(name string, workers, queue int, onResult func(*Result)) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = workers * 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		name:     name,
		workers:  workers,
		taskChan: make(chan *Task, queue),
		onResult: onResult,
		ctx:      ctx,
		cancel:   cancel,
		running:  true,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskChan:
			if !ok {
				return
			}
			p.processTask(id, task)
		}
	}
}

func (p *WorkerPool) processTask(workerID int, task *Task) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	start := time.Now()
	result := &Result{TaskID: task.ID, WorkerID: workerID}

	// One panicking task must not take the pool down
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("panic in task %s: %v", task.ID, r)
		}
		result.Duration = time.Since(start)
		if result.Err == nil {
			atomic.AddInt64(&p.completed, 1)
		} else {
			atomic.AddInt64(&p.failed, 1)
		}
		if p.onResult != nil {
			p.onResult(result)
		}
	}()

	ctx := task.Ctx
	if ctx == nil {
		ctx = p.ctx
	}
	if err := ctx.Err(); err != nil {
		result.Err = err
		return
	}

	if task.Run == nil {
		result.Err = errors.New("no run function defined")
		return
	}
	result.Err = task.Run(ctx)
}

// Submit queues a task without blocking.
func (p *WorkerPool) Submit(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return ErrPoolShutdown
	}

	select {
	case p.taskChan <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// GetStats returns current worker pool statistics.
func (p *WorkerPool) GetStats() PoolStats {
	completed := atomic.LoadInt64(&p.completed)
	failed := atomic.LoadInt64(&p.failed)
	total := completed + failed

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return PoolStats{
		Name:        p.name,
		Workers:     p.workers,
		Active:      atomic.LoadInt64(&p.active),
		Completed:   completed,
		Failed:      failed,
		Pending:     len(p.taskChan),
		SuccessRate: successRate,
	}
}

// Shutdown stops accepting tasks, cancels running ones and waits for the workers.
func (p *WorkerPool) Shutdown() {
	_ = p.ShutdownWithTimeout(0)
}

// ShutdownWithTimeout is Shutdown bounded by timeout. Zero waits indefinitely.
func (p *WorkerPool) ShutdownWithTimeout(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.taskChan)
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return nil
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("shutdown timeout")
	}
}

// IsRunning returns true if the pool is still accepting tasks.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
