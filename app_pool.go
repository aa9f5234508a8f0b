package pilot

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrPoolRejected is returned by Submit when the queue stayed full for the
	// whole submit timeout.
	ErrPoolRejected = errors.New("worker pool: queue full")
	// ErrPoolClosed is returned by Submit after Shutdown.
	ErrPoolClosed = errors.New("worker pool: shut down")
)

// Job is a unit of work run by one worker.
type Job func()

// PoolConfig sizes a Pool.
//
// Fields:
//   - Workers: number of worker goroutines, fixed for the pool's lifetime
//   - QueueCapacity: jobs that may wait for a worker; 0 means a job is only
//     accepted when a worker is free to take it
//   - SubmitTimeout: how long Submit waits for queue space before rejecting
type PoolConfig struct {
	Workers       int
	QueueCapacity int
	SubmitTimeout time.Duration
}

// Pool runs jobs on a fixed set of workers fed by a bounded FIFO queue.
// A job that panics is recorded as a fault and its worker carries on.
type Pool struct {
	queue   chan Job
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	faults  atomic.Int64
	running atomic.Int64
}

// NewPool starts cfg.Workers workers.
func NewPool(cfg PoolConfig, logger zerolog.Logger) (*Pool, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("worker pool: need at least one worker, got %d", cfg.Workers)
	}
	if cfg.QueueCapacity < 0 {
		return nil, fmt.Errorf("worker pool: negative queue capacity %d", cfg.QueueCapacity)
	}
	p := &Pool{
		queue:   make(chan Job, cfg.QueueCapacity),
		timeout: cfg.SubmitTimeout,
		logger:  logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	return p, nil
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	p.logger.Debug().Int("worker", id).Msg("worker online, ready for jobs")
	for job := range p.queue {
		p.run(id, job)
	}
	p.logger.Debug().Int("worker", id).Msg("worker shutdown")
}

func (p *Pool) run(id int, job Job) {
	p.running.Add(1)
	defer p.running.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.faults.Add(1)
			p.logger.Error().Int("worker", id).Interface("panic", r).Msg("job fault")
		}
	}()
	job()
}

// Submit queues job. It waits up to the submit timeout for space and then
// returns ErrPoolRejected; it never blocks longer than that.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- job:
		return nil
	default:
	}
	if p.timeout <= 0 {
		return ErrPoolRejected
	}
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case p.queue <- job:
		return nil
	case <-timer.C:
		return ErrPoolRejected
	}
}

// Shutdown refuses new jobs, lets every queued and running job finish and
// then waits for all workers to exit. It is safe to call more than once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Pending is the number of queued jobs not yet picked up by a worker.
func (p *Pool) Pending() int { return len(p.queue) }

// Running is the number of jobs currently executing.
func (p *Pool) Running() int64 { return p.running.Load() }

// Faults is the number of jobs that panicked.
func (p *Pool) Faults() int64 { return p.faults.Load() }
