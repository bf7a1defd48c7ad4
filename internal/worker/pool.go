package worker

import (
	"context"
	"sync"
	"time"
)

// Pool runs jobs on at most size goroutines at once.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

func (p *Pool) Size() int { return cap(p.sem) }

// Go blocks until a worker is free, then runs job on it. It returns false without running job
// when ctx is done first.
func (p *Pool) Go(ctx context.Context, job func()) bool {
	select {
	case <-ctx.Done():
		return false
	case p.sem <- struct{}{}:
	}
	p.wg.Add(1)
	go func() {
		defer func() { <-p.sem; p.wg.Done() }()
		job()
	}()
	return true
}

// Wait blocks until every started job has returned.
func (p *Pool) Wait() { p.wg.Wait() }

// Backoff doubles from one second per attempt, capped at a minute.
func Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return time.Second
	}
	if attempts > 6 {
		return time.Minute
	}
	d := 1 << (attempts - 1) // 1,2,4,8...
	if d > 60 {
		d = 60
	}
	return time.Duration(d) * time.Second
}

// Retry calls fn until it succeeds, attempts run out, or ctx is done, sleeping Backoff between tries.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(Backoff(i + 1))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}
