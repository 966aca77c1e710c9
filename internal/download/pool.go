package download

import (
	"context"
	"sync"

	"podcatch/internal/catalog"
)

// Task is one unit of work for the pool: fetch one episode enclosure.
type Task struct {
	Podcast catalog.Podcast
	Episode catalog.Episode

	// OnDone is invoked by the worker once the task finishes, whatever the
	// outcome. It must not block for long.
	OnDone func(*Result, error)
}

// RunFunc executes one task.
type RunFunc func(ctx context.Context, task Task) (*Result, error)

// Pool runs download tasks on a fixed number of workers fed by a bounded
// queue. Submit blocks once the queue is full, which keeps a very long feed
// backlog from ballooning memory.
type Pool struct {
	workers   int
	tasks     chan Task
	run       RunFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewPool(workers, queueSize int, run RunFunc) *Pool {
	if workers < 1 {
		workers = 1
	}

	if queueSize < 0 {
		queueSize = 0
	}

	return &Pool{
		workers: workers,
		tasks:   make(chan Task, queueSize),
		run:     run,
	}
}

// Start launches the workers. Queued tasks keep draining after ctx is
// canceled; run is expected to fail fast on a dead context so that OnDone
// fires for every submitted task.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)

		go func() {
			defer p.wg.Done()

			for task := range p.tasks {
				res, err := p.run(ctx, task)
				if task.OnDone != nil {
					task.OnDone(res, err)
				}
			}
		}()
	}
}

// Submit queues a task. It fails only when ctx dies before a queue slot
// frees up. Submit must not be called after Close.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks. Workers exit once the queue drains. Close
// may be called more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}
