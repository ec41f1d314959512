package pools

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Task represents a unit of work
type Task func()

// WorkerPool is a work-stealing goroutine pool for blocking work that must
// stay off the reactor goroutine. Submit never runs a task inline.
type WorkerPool struct {
	numWorkers int
	queues     []*workerQueue
	wg         sync.WaitGroup

	mu     sync.RWMutex // guards closed against concurrent Submit
	closed bool

	stats struct {
		tasksSubmitted atomic.Uint64
		tasksCompleted atomic.Uint64
		tasksRejected  atomic.Uint64
		stealsSuccess  atomic.Uint64
		stealsFailed   atomic.Uint64
	}
	next atomic.Uint64
}

type workerQueue struct {
	tasks chan Task
	id    int
}

type worker struct {
	id    int
	pool  *WorkerPool
	queue *workerQueue
}

// DefaultQueueSize is the per-worker queue capacity
const DefaultQueueSize = 256

// NewWorkerPool creates a new work-stealing worker pool; numWorkers <= 0
// uses one worker per CPU.
func NewWorkerPool(numWorkers int) *WorkerPool {
	return NewWorkerPoolWithQueue(numWorkers, DefaultQueueSize)
}

// NewWorkerPoolWithQueue is NewWorkerPool with an explicit per-worker queue size
func NewWorkerPoolWithQueue(numWorkers, queueSize int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	pool := &WorkerPool{
		numWorkers: numWorkers,
		queues:     make([]*workerQueue, numWorkers),
	}

	for i := 0; i < numWorkers; i++ {
		pool.queues[i] = &workerQueue{
			tasks: make(chan Task, queueSize),
			id:    i,
		}
	}

	pool.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:    i,
			pool:  pool,
			queue: pool.queues[i],
		}
		go w.run()
	}

	return pool
}

// Submit queues task round-robin. It returns false when the pool is closed
// or every queue it tried is full.
func (p *WorkerPool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.stats.tasksRejected.Add(1)
		return false
	}

	idx := int(p.next.Add(1) % uint64(p.numWorkers))
	for i := 0; i < 2; i++ {
		select {
		case p.queues[idx].tasks <- task:
			p.stats.tasksSubmitted.Add(1)
			return true
		default:
			idx = (idx + 1) % p.numWorkers
		}
	}

	p.stats.tasksRejected.Add(1)
	return false
}

func (w *worker) run() {
	defer w.pool.wg.Done()

	for {
		// Own queue first
		select {
		case task, ok := <-w.queue.tasks:
			if !ok {
				return
			}
			w.exec(task)
			continue
		default:
		}

		if w.trySteal() {
			continue
		}

		task, ok := <-w.queue.tasks
		if !ok {
			return
		}
		w.exec(task)
	}
}

func (w *worker) exec(task Task) {
	defer w.pool.stats.tasksCompleted.Add(1)
	task()
}

// trySteal attempts to run one task from another worker's queue
func (w *worker) trySteal() bool {
	numWorkers := w.pool.numWorkers
	start := (w.id + 1) % numWorkers

	for i := 0; i < numWorkers-1; i++ {
		victim := w.pool.queues[(start+i)%numWorkers]

		select {
		case task, ok := <-victim.tasks:
			if ok {
				w.pool.stats.stealsSuccess.Add(1)
				w.exec(task)
				return true
			}
		default:
		}
	}

	w.pool.stats.stealsFailed.Add(1)
	return false
}

// Close stops accepting tasks, lets queued tasks finish and waits for the
// workers to exit.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q.tasks)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	submitted := p.stats.tasksSubmitted.Load()
	completed := p.stats.tasksCompleted.Load()
	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		TasksSubmitted: submitted,
		TasksCompleted: completed,
		TasksPending:   submitted - completed,
		TasksRejected:  p.stats.tasksRejected.Load(),
		StealsSuccess:  p.stats.stealsSuccess.Load(),
		StealsFailed:   p.stats.stealsFailed.Load(),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int    `json:"num_workers"`
	TasksSubmitted uint64 `json:"tasks_submitted"`
	TasksCompleted uint64 `json:"tasks_completed"`
	TasksPending   uint64 `json:"tasks_pending"`
	TasksRejected  uint64 `json:"tasks_rejected"`
	StealsSuccess  uint64 `json:"steals_success"`
	StealsFailed   uint64 `json:"steals_failed"`
}
