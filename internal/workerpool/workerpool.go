// Package workerpool provides the bounded worker pool the admin server
// uses to throttle overlap-BFS queries (internal/query's
// AllOverlappingTasks), adapted from the teacher's general-purpose
// worker pool.
package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrPoolNotRunning = errors.New("worker pool is not running")
	ErrQueueFull      = errors.New("task queue is full")
)

// Task is one unit of throttled work.
type Task struct {
	ID      string
	Execute func(ctx context.Context) error
}

// Config bounds the pool's concurrency and queueing.
type Config struct {
	MaxWorkers    int
	QueueSize     int
	WorkerTimeout time.Duration
}

type worker struct {
	id       int
	pool     *Pool
	taskChan chan Task
}

// Pool is a fixed-size pool of reusable workers fed from a bounded
// task queue; SubmitTask fails fast with ErrQueueFull rather than
// blocking the caller indefinitely.
type Pool struct {
	workers   []*worker
	taskQueue chan Task
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *logrus.Logger
	cfg       Config

	totalTasks     int64
	activeTasks    int64
	completedTasks int64
	failedTasks    int64

	mu        sync.Mutex
	isRunning bool
}

func New(cfg Config, logger *logrus.Logger) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.MaxWorkers * 10
	}
	if cfg.WorkerTimeout == 0 {
		cfg.WorkerTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		taskQueue: make(chan Task, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		cfg:       cfg,
		workers:   make([]*worker, 0, cfg.MaxWorkers),
	}
	for i := 0; i < cfg.MaxWorkers; i++ {
		p.workers = append(p.workers, &worker{id: i, pool: p, taskChan: make(chan Task, 1)})
	}
	return p
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return
	}
	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run()
	}
	p.wg.Add(1)
	go p.dispatch()
	p.isRunning = true
}

func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isRunning {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.isRunning = false
}

// SubmitTask enqueues task for execution. It returns ErrQueueFull
// immediately rather than blocking when every worker is busy and the
// queue is at capacity.
func (p *Pool) SubmitTask(task Task) error {
	if !p.isRunning {
		return ErrPoolNotRunning
	}
	atomic.AddInt64(&p.totalTasks, 1)
	select {
	case p.taskQueue <- task:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	default:
		atomic.AddInt64(&p.failedTasks, 1)
		return ErrQueueFull
	}
}

func (p *Pool) dispatch() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.taskQueue:
			p.assign(task)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) assign(task Task) {
	for _, w := range p.workers {
		select {
		case w.taskChan <- task:
			return
		default:
		}
	}
	select {
	case p.workers[0].taskChan <- task:
	case <-p.ctx.Done():
		atomic.AddInt64(&p.failedTasks, 1)
	}
}

func (w *worker) run() {
	defer w.pool.wg.Done()
	for {
		select {
		case task := <-w.taskChan:
			w.execute(task)
		case <-w.pool.ctx.Done():
			return
		}
	}
}

func (w *worker) execute(task Task) {
	atomic.AddInt64(&w.pool.activeTasks, 1)
	defer atomic.AddInt64(&w.pool.activeTasks, -1)

	taskCtx, cancel := context.WithTimeout(w.pool.ctx, w.pool.cfg.WorkerTimeout)
	defer cancel()

	if err := task.Execute(taskCtx); err != nil {
		atomic.AddInt64(&w.pool.failedTasks, 1)
		if w.pool.logger != nil {
			w.pool.logger.WithFields(logrus.Fields{
				"component": "workerpool",
				"worker_id": w.id,
				"task_id":   task.ID,
			}).Warn("task failed: " + err.Error())
		}
		return
	}
	atomic.AddInt64(&w.pool.completedTasks, 1)
}

// Stats reports a snapshot of pool activity, for the admin server's
// health endpoint.
type Stats struct {
	QueuedTasks    int   `json:"queued_tasks"`
	TotalTasks     int64 `json:"total_tasks"`
	ActiveTasks    int64 `json:"active_tasks"`
	CompletedTasks int64 `json:"completed_tasks"`
	FailedTasks    int64 `json:"failed_tasks"`
}

func (p *Pool) Stats() Stats {
	return Stats{
		QueuedTasks:    len(p.taskQueue),
		TotalTasks:     atomic.LoadInt64(&p.totalTasks),
		ActiveTasks:    atomic.LoadInt64(&p.activeTasks),
		CompletedTasks: atomic.LoadInt64(&p.completedTasks),
		FailedTasks:    atomic.LoadInt64(&p.failedTasks),
	}
}
