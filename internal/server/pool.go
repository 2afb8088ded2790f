package server

import (
	"sync"
	"sync/atomic"
)

// pool runs one goroutine per task and counts them. A task is queued
// from Go until its goroutine starts, then active until it returns.
type pool struct {
	workers atomic.Int64
	active  atomic.Int64
	wg      sync.WaitGroup
}

func (p *pool) Active() int {
	return int(p.active.Load())
}

func (p *pool) Queued() int {
	n := p.workers.Load() - p.active.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// Workers is every task the pool holds, running or not.
func (p *pool) Workers() int {
	return int(p.workers.Load())
}

func (p *pool) Go(fn func()) {
	p.workers.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.workers.Add(-1)
		p.active.Add(1)
		defer p.active.Add(-1)
		fn()
	}()
}

func (p *pool) Wait() {
	p.wg.Wait()
}
