// Package worker runs independent jobs concurrently and paces requests to
// the labeling platform.
package worker

import (
	"context"
	"sync"
)

// Job is a unit of work run by a Pool.
type Job interface {
	Execute(ctx context.Context) Result
}

// Result is the outcome of a Job.
type Result interface {
	Err() error
}

// Pool runs submitted jobs on a fixed number of goroutines.
type Pool struct {
	workers   int
	jobs      chan Job
	results   chan Result
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeJobs sync.Once
	watchOnce sync.Once
}

// NewPool creates a pool of workers goroutines bound to ctx. Fewer than one
// worker means one.
func NewPool(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{
		workers: workers,
		jobs:    make(chan Job, workers*2),
		results: make(chan Result, workers*2),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for range p.workers {
		p.wg.Add(1)
		go p.work()
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			result := job.Execute(p.ctx)
			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues job. It returns false when the pool is shut down.
func (p *Pool) Submit(job Job) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.jobs <- job:
		return true
	}
}

// Close marks the end of submissions. Workers exit once the queue drains.
func (p *Pool) Close() {
	p.closeJobs.Do(func() { close(p.jobs) })
}

// Results returns the channel of results in completion order. It is closed
// once every worker has exited.
func (p *Pool) Results() <-chan Result {
	p.watchOnce.Do(func() {
		go func() {
			p.wg.Wait()
			p.closeResults()
		}()
	})
	return p.results
}

// Wait closes the queue and collects every result. Jobs must already be
// submitted; use Close and Results to stream larger batches.
func (p *Pool) Wait() []Result {
	p.Close()
	var out []Result
	for r := range p.Results() {
		out = append(out, r)
	}
	return out
}

// Shutdown stops the workers without waiting for queued jobs.
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()
	p.closeResults()
}

func (p *Pool) closeResults() {
	p.closeOnce.Do(func() { close(p.results) })
}
