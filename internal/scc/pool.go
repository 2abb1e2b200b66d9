package scc

import (
	"runtime"
	"sync"

	"github.com/chmouel/lazyscc/internal/log"
)

// Executor runs queued work on background goroutines.
type Executor interface {
	Submit(job func()) error
	Close()
}

// DefaultWorkers returns the pool size used when none is configured:
// twice the CPU count, clamped to [4, 32].
func DefaultWorkers() int {
	limit := runtime.NumCPU() * 2
	if limit < 4 {
		limit = 4
	}
	if limit > 32 {
		limit = 32
	}
	return limit
}

// Pool is a fixed set of worker goroutines fed from a buffered queue.
type Pool struct {
	jobs   chan func()
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines. queueSize bounds how many jobs may wait
// before Submit blocks; values below workers are raised to workers.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if queueSize < workers {
		queueSize = workers
	}
	p := &Pool{jobs: make(chan func(), queueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(idx int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(idx, job)
	}
}

func (p *Pool) run(idx int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("worker", idx).Interface("panic", r).Msg("queued work panicked")
		}
	}()
	job()
}

// Submit queues job. It blocks while the queue is full and fails once the
// pool is closed.
func (p *Pool) Submit(job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.jobs <- job
	return nil
}

// Close stops accepting work and waits for queued jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
